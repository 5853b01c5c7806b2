// Package session manages live dictation sessions. A session accumulates
// per-turn diffs into one pending diff; nothing touches the patient record
// until commit, and an abandoned session leaves no trace.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snanayakkara/operator-sub003/internal/clients"
	"github.com/snanayakkara/operator-sub003/internal/merge"
	"github.com/snanayakkara/operator-sub003/internal/planner"
	"github.com/snanayakkara/operator-sub003/internal/state"
	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/repository"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// Manager owns the in-memory session registry. Sessions are keyed by id and
// serialized individually; turns for different sessions proceed in parallel.
type Manager struct {
	conversation clients.ConversationClient
	store        *state.Store
	planner      *planner.Planner
	reviews      repository.ReviewStore
	logger       *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	mu   sync.Mutex
	data types.ConversationSession
}

// NewManager creates a session manager.
func NewManager(conversation clients.ConversationClient, store *state.Store, plan *planner.Planner, reviews repository.ReviewStore, log *logger.Logger) *Manager {
	return &Manager{
		conversation: conversation,
		store:        store,
		planner:      plan,
		reviews:      reviews,
		logger:       log,
		sessions:     make(map[string]*session),
	}
}

// CommitResult reports what a commit did: the patient after auto-apply, the
// ward entry written (nil when the applied fragment was empty or a replay),
// and the fragments queued for review.
type CommitResult struct {
	Session *types.ConversationSession
	Patient *types.Patient
	Entry   *types.WardEntry
	Held    []types.PendingReviewEntry
	Skipped int
}

// Start opens a new session for a patient. The patient must exist.
func (m *Manager) Start(ctx context.Context, patientID string, mode types.SessionMode) (*types.ConversationSession, error) {
	if _, err := m.store.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	if mode == "" {
		mode = types.ModeDictation
	}

	now := time.Now().UTC()
	sess := &session{data: types.ConversationSession{
		ID:        uuid.New().String(),
		PatientID: patientID,
		Mode:      mode,
		State:     types.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	m.mu.Lock()
	m.sessions[sess.data.ID] = sess
	m.mu.Unlock()

	m.logger.WithPatientID(patientID).WithField("session_id", sess.data.ID).
		Info("Session started")
	return snapshot(&sess.data), nil
}

// Turn runs one dictation turn. On collaborator failure the session state is
// untouched and stays active, so the caller can retry the same transcript.
// The turn's diff is merged into the pending diff only after the
// collaborator call fully succeeds.
func (m *Manager) Turn(ctx context.Context, sessionID, transcript string) (*types.ConversationSession, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.data.State != types.SessionActive {
		return nil, types.NewValidationError(types.ErrCodeSessionClosed,
			"session is "+string(sess.data.State)+", no further turns accepted")
	}

	patient, err := m.store.GetPatient(ctx, sess.data.PatientID)
	if err != nil {
		return nil, err
	}

	result, err := m.conversation.Turn(ctx, transcript, patient, sess.data.Turns)
	if err != nil {
		m.logger.WithError(err).WithField("session_id", sessionID).
			Warn("Turn failed, session remains active")
		return nil, err
	}

	sess.data.Turns = append(sess.data.Turns, types.Turn{
		Transcript:       transcript,
		AssistantMessage: result.AssistantMessage,
		SummaryLines:     result.SummaryLines,
		Diff:             result.Diff,
		At:               time.Now().UTC(),
	})
	sess.data.PendingDiff = merge.Merge(sess.data.PendingDiff, result.Diff)
	sess.data.Summary = append(sess.data.Summary, result.SummaryLines...)
	sess.data.UpdatedAt = time.Now().UTC()

	return snapshot(&sess.data), nil
}

// Get returns the session's current merged view.
func (m *Manager) Get(sessionID string) (*types.ConversationSession, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return snapshot(&sess.data), nil
}

// Commit routes the pending diff through the planner, applies the clean
// partition and queues the rest for review. A persistence failure leaves the
// session active and the commit retryable; re-applying the same diff is a
// no-op and fragments already queued are not queued twice.
func (m *Manager) Commit(ctx context.Context, sessionID string) (*CommitResult, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.data.State != types.SessionActive {
		return nil, types.NewValidationError(types.ErrCodeSessionClosed,
			"session is "+string(sess.data.State)+", cannot commit")
	}

	patient, err := m.store.GetPatient(ctx, sess.data.PatientID)
	if err != nil {
		return nil, err
	}
	pending, err := m.reviews.ListPendingByPatient(ctx, sess.data.PatientID)
	if err != nil {
		return nil, err
	}

	// Dictation is typed or human-reviewed speech; there is no per-field
	// confidence, so every field carries full trust and routing reduces to
	// conflict detection.
	decision := m.planner.Plan(sess.data.PendingDiff, nil, patient, pending)

	source := "dictation_session:" + sess.data.ID
	patient, entry, err := m.store.Apply(ctx, sess.data.PatientID, decision.AutoApply, source, transcriptLog(sess.data.Turns))
	if err != nil {
		return nil, err
	}

	held := make([]types.PendingReviewEntry, 0, len(decision.NeedsReview))
	for _, frag := range decision.NeedsReview {
		created, err := m.reviews.Create(ctx, &types.PendingReviewEntry{
			ID:        uuid.New().String(),
			PatientID: sess.data.PatientID,
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
		held = append(held, *created)
	}

	sess.data.State = types.SessionCommitted
	sess.data.UpdatedAt = time.Now().UTC()

	m.logger.Audit(sess.data.PatientID, source, "commit_session", true, map[string]interface{}{
		"turns":   len(sess.data.Turns),
		"held":    len(held),
		"skipped": decision.Skipped,
	})

	return &CommitResult{
		Session: snapshot(&sess.data),
		Patient: patient,
		Entry:   entry,
		Held:    held,
		Skipped: decision.Skipped,
	}, nil
}

// Abandon discards the session and its pending diff without touching the
// patient record.
func (m *Manager) Abandon(sessionID string) (*types.ConversationSession, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.data.State != types.SessionActive {
		return nil, types.NewValidationError(types.ErrCodeSessionClosed,
			"session is "+string(sess.data.State)+", cannot abandon")
	}

	sess.data.State = types.SessionAbandoned
	sess.data.PendingDiff = types.Diff{}
	sess.data.UpdatedAt = time.Now().UTC()

	m.logger.WithPatientID(sess.data.PatientID).WithField("session_id", sessionID).
		Info("Session abandoned")
	return snapshot(&sess.data), nil
}

func (m *Manager) lookup(sessionID string) (*session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "session not found: "+sessionID)
	}
	return sess, nil
}

// snapshot copies the session so callers never hold a reference into the
// registry's mutable state.
func snapshot(data *types.ConversationSession) *types.ConversationSession {
	out := *data
	out.Turns = append([]types.Turn(nil), data.Turns...)
	out.Summary = append([]string(nil), data.Summary...)
	return &out
}

func transcriptLog(turns []types.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Transcript)
	}
	return strings.Join(lines, "\n")
}
