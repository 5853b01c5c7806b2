// Package state owns the authoritative patient record. Records are mutated
// only through diff application, never directly; every effective apply
// appends exactly one immutable ward entry.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/repository"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// Store applies accepted diffs to patient records idempotently. Applies to
// the same patient are serialized by a per-patient mutex; different
// patients proceed independently.
type Store struct {
	patients repository.PatientStore
	entries  repository.WardEntryStore
	logger   *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a patient state store.
func New(patients repository.PatientStore, entries repository.WardEntryStore, log *logger.Logger) *Store {
	return &Store{
		patients: patients,
		entries:  entries,
		logger:   log,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(patientID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[patientID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[patientID] = lock
	}
	return lock
}

// Apply applies a diff to a patient under the per-patient lock. Re-applying
// an already-applied diff produces no visible change and no new ward entry.
// The returned ward entry is nil for a no-op replay or an empty diff. A
// persistence failure leaves the diff retryable: the record is always
// re-derived from the persisted state.
func (s *Store) Apply(ctx context.Context, patientID string, diff types.Diff, source, rawText string) (*types.Patient, *types.WardEntry, error) {
	if diff.IsEmpty() {
		patient, err := s.patients.GetByID(ctx, patientID)
		return patient, nil, err
	}

	lock := s.lockFor(patientID)
	lock.Lock()
	defer lock.Unlock()

	patient, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	changed := applyDiff(patient, diff, now)

	entry := &types.WardEntry{
		ID:        uuid.New().String(),
		PatientID: patientID,
		Diff:      diff,
		DiffHash:  diff.Hash(),
		Source:    source,
		RawText:   rawText,
		Timestamp: now,
	}

	inserted, err := s.entries.Append(ctx, entry)
	if err != nil {
		return nil, nil, err
	}

	// The entity-level upserts above are themselves idempotent, so the
	// record is saved whenever anything actually moved, even when the
	// audit entry already existed from an interrupted earlier attempt.
	if inserted {
		patient.WardEntries = append(patient.WardEntries, *entry)
	}
	if changed || inserted {
		if err := s.patients.Save(ctx, patient); err != nil {
			return nil, nil, err
		}
	}

	if !inserted {
		s.logger.WithPatientID(patientID).WithField("source", source).
			WithField("diff_hash", entry.DiffHash).Info("Diff already applied, no-op")
		return patient, nil, nil
	}

	s.logger.Audit(patientID, source, "apply_diff", true, map[string]interface{}{
		"diff_hash": entry.DiffHash,
		"changed":   changed,
	})
	return patient, entry, nil
}

// GetPatient loads a patient record.
func (s *Store) GetPatient(ctx context.Context, patientID string) (*types.Patient, error) {
	return s.patients.GetByID(ctx, patientID)
}

// History returns a patient's append-only audit trail.
func (s *Store) History(ctx context.Context, patientID string) ([]types.WardEntry, error) {
	return s.entries.ListByPatient(ctx, patientID)
}
