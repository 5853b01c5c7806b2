package importer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/snanayakkara/operator-sub003/internal/clients"
	"github.com/snanayakkara/operator-sub003/internal/planner"
	"github.com/snanayakkara/operator-sub003/internal/state"
	"github.com/snanayakkara/operator-sub003/pkg/config"
	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// MockVisionClient mocks the vision extraction collaborator.
type MockVisionClient struct {
	mock.Mock
}

func (m *MockVisionClient) Extract(ctx context.Context, imagePath string) (*clients.VisionReading, error) {
	args := m.Called(ctx, imagePath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*clients.VisionReading), args.Error(1)
}

// MockReasoningClient mocks the clinical reasoning collaborator.
type MockReasoningClient struct {
	mock.Mock
}

func (m *MockReasoningClient) Reason(ctx context.Context, reading *clients.VisionReading, patient *types.Patient) (*clients.ReasoningResult, error) {
	args := m.Called(ctx, reading, patient)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*clients.ReasoningResult), args.Error(1)
}

type memPatients struct {
	mu      sync.Mutex
	records map[string]*types.Patient
}

func newMemPatients(patients ...*types.Patient) *memPatients {
	m := &memPatients{records: make(map[string]*types.Patient)}
	for _, p := range patients {
		m.records[p.ID] = p
	}
	return m
}

func (m *memPatients) clone(p *types.Patient) *types.Patient {
	raw, _ := json.Marshal(p)
	var out types.Patient
	_ = json.Unmarshal(raw, &out)
	return &out
}

func (m *memPatients) Create(ctx context.Context, patient *types.Patient) (*types.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[patient.ID] = m.clone(patient)
	return m.clone(patient), nil
}

func (m *memPatients) GetByID(ctx context.Context, patientID string) (*types.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[patientID]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "patient not found: "+patientID)
	}
	return m.clone(p), nil
}

func (m *memPatients) Save(ctx context.Context, patient *types.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[patient.ID] = m.clone(patient)
	return nil
}

func (m *memPatients) List(ctx context.Context) ([]*types.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Patient, 0, len(m.records))
	for _, p := range m.records {
		out = append(out, m.clone(p))
	}
	return out, nil
}

type memEntries struct {
	mu      sync.Mutex
	entries []types.WardEntry
	seen    map[string]bool
}

func newMemEntries() *memEntries {
	return &memEntries{seen: make(map[string]bool)}
}

func (m *memEntries) Append(ctx context.Context, entry *types.WardEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entry.PatientID + "/" + entry.DiffHash
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	m.entries = append(m.entries, *entry)
	return true, nil
}

func (m *memEntries) ListByPatient(ctx context.Context, patientID string) ([]types.WardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.WardEntry
	for _, e := range m.entries {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memReviews struct {
	mu      sync.Mutex
	entries map[string]*types.PendingReviewEntry
}

func newMemReviews() *memReviews {
	return &memReviews{entries: make(map[string]*types.PendingReviewEntry)}
}

func (m *memReviews) Create(ctx context.Context, entry *types.PendingReviewEntry) (*types.PendingReviewEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	copied := *entry
	m.entries[entry.ID] = &copied
	return entry, nil
}

func (m *memReviews) GetByID(ctx context.Context, id string) (*types.PendingReviewEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "pending review not found: "+id)
	}
	copied := *entry
	return &copied, nil
}

func (m *memReviews) ListPendingByPatient(ctx context.Context, patientID string) ([]types.PendingReviewEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.PendingReviewEntry
	for _, entry := range m.entries {
		if entry.PatientID == patientID && entry.Status == types.ReviewPending {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func (m *memReviews) ListByStatus(ctx context.Context, status types.ReviewStatus) ([]types.PendingReviewEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.PendingReviewEntry
	for _, entry := range m.entries {
		if entry.Status == status {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func (m *memReviews) SetStatus(ctx context.Context, id string, status types.ReviewStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok || entry.Status != types.ReviewPending {
		return types.NewNotFoundError(types.ErrCodeNotFound, "pending review not found or already resolved: "+id)
	}
	entry.Status = status
	return nil
}

type memImportLog struct {
	mu       sync.Mutex
	statuses map[string]*types.ImportBatchStatus
}

func newMemImportLog() *memImportLog {
	return &memImportLog{statuses: make(map[string]*types.ImportBatchStatus)}
}

func (m *memImportLog) Record(ctx context.Context, status *types.ImportBatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *status
	m.statuses[status.BatchID] = &copied
	return nil
}

func (m *memImportLog) Get(ctx context.Context, batchID string) (*types.ImportBatchStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[batchID]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, "import batch not found: "+batchID)
	}
	copied := *status
	return &copied, nil
}

func (m *memImportLog) List(ctx context.Context) ([]types.ImportBatchStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ImportBatchStatus
	for _, status := range m.statuses {
		out = append(out, *status)
	}
	return out, nil
}

type processorEnv struct {
	processor *Processor
	vision    *MockVisionClient
	reasoning *MockReasoningClient
	patients  *memPatients
	entries   *memEntries
	reviews   *memReviews
	importLog *memImportLog
	cfg       config.ImporterConfig
}

func newProcessorEnv(t *testing.T, patients ...*types.Patient) *processorEnv {
	t.Helper()

	log := logger.New("error")
	env := &processorEnv{
		vision:    new(MockVisionClient),
		reasoning: new(MockReasoningClient),
		patients:  newMemPatients(patients...),
		entries:   newMemEntries(),
		reviews:   newMemReviews(),
		importLog: newMemImportLog(),
		cfg: config.ImporterConfig{
			InboxPath:       filepath.Join(t.TempDir(), "inbox"),
			ArchivePath:     filepath.Join(t.TempDir(), "archive"),
			CardConcurrency: 2,
			CardExtensions:  []string{".jpg", ".png"},
		},
	}
	require.NoError(t, os.MkdirAll(env.cfg.InboxPath, 0o755))
	require.NoError(t, os.MkdirAll(env.cfg.ArchivePath, 0o755))

	store := state.New(env.patients, env.entries, log)
	plan := planner.New(planner.Policy{AutoApplyThreshold: 0.85, ReviewFloor: 0.5, EDDToleranceDays: 2}, log)
	env.processor = NewProcessor(env.cfg, env.vision, env.reasoning, plan, store, env.patients, env.reviews, env.importLog, log)
	return env
}

func (e *processorEnv) writeBatch(t *testing.T, batch string, cards ...string) string {
	t.Helper()
	dir := filepath.Join(e.cfg.InboxPath, batch)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, card := range cards {
		require.NoError(t, os.WriteFile(filepath.Join(dir, card), []byte("image-bytes"), 0o644))
	}
	return dir
}

func reading(mrn string) *clients.VisionReading {
	return &clients.VisionReading{
		Fields:  map[string]string{"mrn": mrn},
		RawText: "scanned card text",
	}
}

func TestProcessBatchAppliesAndArchives(t *testing.T) {
	env := newProcessorEnv(t, &types.Patient{ID: "p1", Name: "Test Patient", MRN: "MRN-1"})
	dir := env.writeBatch(t, "round-morning", "card1.jpg", "card2.jpg")

	env.vision.On("Extract", mock.Anything, filepath.Join(dir, "card1.jpg")).Return(reading("MRN-1"), nil)
	env.vision.On("Extract", mock.Anything, filepath.Join(dir, "card2.jpg")).Return(reading("MRN-1"), nil)

	env.reasoning.On("Reason", mock.Anything, mock.Anything, mock.Anything).Return(&clients.ReasoningResult{
		Diff:       types.Diff{TasksAdded: []types.Task{{ID: "t1", Text: "repeat CXR"}}},
		Confidence: types.Confidence{types.FieldTaskPrefix + "t1": 0.95},
	}, nil)

	status, err := env.processor.ProcessBatch(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, status.Cards)
	assert.Equal(t, 0, status.Failed)
	assert.True(t, status.Archived)

	// Card 2 proposed the same diff as card 1; idempotent apply keeps the
	// history at one entry.
	history, err := env.entries.ListByPatient(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// The batch moved to the dated archive layout.
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	archived := filepath.Join(env.cfg.ArchivePath, status.ProcessedAt.Format("2006/01/02"), "round-morning")
	_, err = os.Stat(archived)
	assert.NoError(t, err)
}

func TestProcessBatchFailedCardLeavesBatchForRerun(t *testing.T) {
	env := newProcessorEnv(t, &types.Patient{ID: "p1", Name: "Test Patient", MRN: "MRN-1"})
	dir := env.writeBatch(t, "round-evening", "card1.jpg", "card2.jpg")

	env.vision.On("Extract", mock.Anything, filepath.Join(dir, "card1.jpg")).Return(reading("MRN-1"), nil)
	env.vision.On("Extract", mock.Anything, filepath.Join(dir, "card2.jpg")).
		Return(nil, types.NewExtractionError("card unreadable", nil)).Once()

	env.reasoning.On("Reason", mock.Anything, mock.Anything, mock.Anything).Return(&clients.ReasoningResult{
		Diff:       types.Diff{TasksAdded: []types.Task{{ID: "t1", Text: "repeat CXR"}}},
		Confidence: types.Confidence{types.FieldTaskPrefix + "t1": 0.95},
	}, nil)

	status, err := env.processor.ProcessBatch(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, status.Applied)
	assert.Equal(t, 1, status.Failed)
	assert.False(t, status.Archived)
	require.Len(t, status.CardOutcomes, 2)
	assert.Equal(t, CardFailed, status.CardOutcomes[1].Status)
	assert.Contains(t, status.CardOutcomes[1].Detail, "card unreadable")

	// The batch is still in the inbox; rerunning it after the scan problem
	// is fixed converges without duplicating card 1's work.
	_, err = os.Stat(dir)
	require.NoError(t, err)

	env.vision.On("Extract", mock.Anything, filepath.Join(dir, "card2.jpg")).Return(reading("MRN-1"), nil)

	status, err = env.processor.ProcessBatch(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Failed)
	assert.True(t, status.Archived)

	history, err := env.entries.ListByPatient(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestProcessBatchHoldsLowConfidenceFragments(t *testing.T) {
	env := newProcessorEnv(t, &types.Patient{ID: "p1", Name: "Test Patient", MRN: "MRN-1"})
	dir := env.writeBatch(t, "round-1", "card1.jpg")

	edd := time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC)
	env.vision.On("Extract", mock.Anything, mock.Anything).Return(reading("MRN-1"), nil)
	env.reasoning.On("Reason", mock.Anything, mock.Anything, mock.Anything).Return(&clients.ReasoningResult{
		Diff: types.Diff{
			TasksAdded: []types.Task{{ID: "t1", Text: "repeat CXR"}},
			EDDUpdate:  &edd,
		},
		Confidence: types.Confidence{
			types.FieldTaskPrefix + "t1": 0.95,
			types.FieldEDD:               0.6,
		},
	}, nil)

	status, err := env.processor.ProcessBatch(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, status.Applied)
	assert.Equal(t, 1, status.HeldForReview)
	assert.True(t, status.Archived)

	pending, err := env.reviews.ListPendingByPatient(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, types.HoldLowConfidence, pending[0].Reason)
	assert.Equal(t, types.FieldEDD, pending[0].FieldKey)
}

func TestProcessBatchUnmatchedPatientFailsCard(t *testing.T) {
	env := newProcessorEnv(t, &types.Patient{ID: "p1", Name: "Test Patient", MRN: "MRN-1"})
	dir := env.writeBatch(t, "round-2", "card1.jpg")

	env.vision.On("Extract", mock.Anything, mock.Anything).Return(reading("MRN-UNKNOWN"), nil)

	status, err := env.processor.ProcessBatch(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, status.Failed)
	assert.False(t, status.Archived)
	env.reasoning.AssertNotCalled(t, "Reason", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessBatchIgnoresNonCardFiles(t *testing.T) {
	env := newProcessorEnv(t, &types.Patient{ID: "p1", MRN: "MRN-1"})
	dir := env.writeBatch(t, "round-3", "card1.jpg", "notes.txt", ".DS_Store")

	env.vision.On("Extract", mock.Anything, filepath.Join(dir, "card1.jpg")).Return(reading("MRN-1"), nil)
	env.reasoning.On("Reason", mock.Anything, mock.Anything, mock.Anything).Return(&clients.ReasoningResult{
		Diff: types.Diff{TasksAdded: []types.Task{{ID: "t1", Text: "repeat CXR"}}},
	}, nil)

	status, err := env.processor.ProcessBatch(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, status.Cards)
	env.vision.AssertNumberOfCalls(t, "Extract", 1)
}
