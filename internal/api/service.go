// Package api exposes the reconciliation engine over HTTP: patients, direct
// diff application, dictation sessions, the pending review queue and the
// import pipeline controls.
package api

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snanayakkara/operator-sub003/internal/planner"
	"github.com/snanayakkara/operator-sub003/internal/state"
	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/repository"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// ReviewResolution is the reviewer's verdict on a held fragment.
type ReviewResolution string

const (
	ResolutionAccept  ReviewResolution = "accept"
	ResolutionDiscard ReviewResolution = "discard"
)

// Service implements the engine's request-level operations on top of the
// planner, state store and repositories.
type Service struct {
	store     *state.Store
	planner   *planner.Planner
	patients  repository.PatientStore
	reviews   repository.ReviewStore
	importLog repository.ImportLogStore
	logger    *logger.Logger
}

// NewService creates the API service.
func NewService(store *state.Store, plan *planner.Planner, patients repository.PatientStore, reviews repository.ReviewStore, importLog repository.ImportLogStore, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		planner:   plan,
		patients:  patients,
		reviews:   reviews,
		importLog: importLog,
		logger:    log,
	}
}

// CreatePatientRequest is the quick-add payload used at the bedside: a name
// and optionally a free-text intake note to reconcile later.
type CreatePatientRequest struct {
	Name       string `json:"name"`
	MRN        string `json:"mrn,omitempty"`
	Bed        string `json:"bed,omitempty"`
	Ward       string `json:"ward,omitempty"`
	OneLiner   string `json:"one_liner,omitempty"`
	IntakeNote string `json:"intake_note,omitempty"`
}

// CreatePatient quick-adds a patient with an empty record.
func (s *Service) CreatePatient(ctx context.Context, req CreatePatientRequest) (*types.Patient, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "patient name is required")
	}

	now := time.Now().UTC()
	patient := &types.Patient{
		ID:             uuid.New().String(),
		Name:           strings.TrimSpace(req.Name),
		MRN:            strings.TrimSpace(req.MRN),
		Bed:            req.Bed,
		Ward:           req.Ward,
		OneLiner:       req.OneLiner,
		Issues:         []types.Issue{},
		Investigations: []types.Investigation{},
		Tasks:          []types.Task{},
		AdmissionFlags: map[string]bool{},
		ChecklistSkips: []types.ChecklistSkip{},
		WardEntries:    []types.WardEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if note := strings.TrimSpace(req.IntakeNote); note != "" {
		patient.IntakeNotes = []types.IntakeNote{{
			ID:        uuid.New().String(),
			Text:      note,
			Timestamp: now,
		}}
	}

	created, err := s.patients.Create(ctx, patient)
	if err != nil {
		return nil, err
	}

	s.logger.WithPatientID(created.ID).Info("Patient created")
	return created, nil
}

// GetPatient loads a patient record.
func (s *Service) GetPatient(ctx context.Context, patientID string) (*types.Patient, error) {
	return s.store.GetPatient(ctx, patientID)
}

// ListPatients returns every patient on the ward list.
func (s *Service) ListPatients(ctx context.Context) ([]*types.Patient, error) {
	return s.patients.List(ctx)
}

// History returns a patient's ward entry audit trail.
func (s *Service) History(ctx context.Context, patientID string) ([]types.WardEntry, error) {
	return s.store.History(ctx, patientID)
}

// ApplyResult reports what a direct apply did.
type ApplyResult struct {
	Patient *types.Patient             `json:"patient"`
	Entry   *types.WardEntry           `json:"entry,omitempty"`
	Held    []types.PendingReviewEntry `json:"held,omitempty"`
	Skipped int                        `json:"skipped"`
}

// ApplyDiff routes a caller-supplied diff through the planner and applies
// the clean partition. The source tag ends up on the ward entry and any
// review entries.
func (s *Service) ApplyDiff(ctx context.Context, patientID string, diff types.Diff, conf types.Confidence, source string) (*ApplyResult, error) {
	if source == "" {
		source = "direct_api"
	}

	patient, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	pending, err := s.reviews.ListPendingByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	decision := s.planner.Plan(diff, conf, patient, pending)

	patient, entry, err := s.store.Apply(ctx, patientID, decision.AutoApply, source, "")
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{Patient: patient, Entry: entry, Skipped: decision.Skipped}
	for _, frag := range decision.NeedsReview {
		created, err := s.reviews.Create(ctx, &types.PendingReviewEntry{
			ID:        uuid.New().String(),
			PatientID: patientID,
			Fragment:  frag.Fragment,
			Reason:    frag.Reason,
			Detail:    frag.Detail,
			FieldKey:  frag.FieldKey,
			Source:    source,
			Status:    types.ReviewPending,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		result.Held = append(result.Held, *created)
	}

	return result, nil
}

// ListPendingReviews returns a patient's open review queue.
func (s *Service) ListPendingReviews(ctx context.Context, patientID string) ([]types.PendingReviewEntry, error) {
	return s.reviews.ListPendingByPatient(ctx, patientID)
}

// ResolveReview applies or discards a held fragment. Accepting applies the
// fragment verbatim under the per-patient lock; conflict checks are the
// reviewer's call at this point, not the planner's.
func (s *Service) ResolveReview(ctx context.Context, reviewID string, resolution ReviewResolution) (*types.PendingReviewEntry, error) {
	entry, err := s.reviews.GetByID(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if entry.Status != types.ReviewPending {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			"review entry already "+string(entry.Status))
	}

	switch resolution {
	case ResolutionAccept:
		source := "review_resolution:" + reviewID
		if _, _, err := s.store.Apply(ctx, entry.PatientID, entry.Fragment, source, entry.Detail); err != nil {
			return nil, err
		}
		if err := s.reviews.SetStatus(ctx, reviewID, types.ReviewResolved); err != nil {
			return nil, err
		}
		entry.Status = types.ReviewResolved
	case ResolutionDiscard:
		if err := s.reviews.SetStatus(ctx, reviewID, types.ReviewDiscarded); err != nil {
			return nil, err
		}
		entry.Status = types.ReviewDiscarded
	default:
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			"resolution must be accept or discard")
	}

	now := time.Now().UTC()
	entry.ResolvedAt = &now

	s.logger.Audit(entry.PatientID, entry.Source, "resolve_review", true, map[string]interface{}{
		"review_id":  reviewID,
		"resolution": string(resolution),
		"reason":     string(entry.Reason),
	})
	return entry, nil
}

// GetImportBatch returns one batch's recorded outcome.
func (s *Service) GetImportBatch(ctx context.Context, batchID string) (*types.ImportBatchStatus, error) {
	return s.importLog.Get(ctx, batchID)
}

// ListImportBatches returns recorded batch outcomes, newest first.
func (s *Service) ListImportBatches(ctx context.Context) ([]types.ImportBatchStatus, error) {
	return s.importLog.List(ctx)
}
