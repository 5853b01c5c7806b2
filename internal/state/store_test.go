package state

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// memPatients is an in-memory PatientStore for store tests.
type memPatients struct {
	mu      sync.Mutex
	records map[string]*types.Patient
	saveErr error
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
	if m.saveErr != nil {
		return m.saveErr
	}
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

// memEntries is an in-memory WardEntryStore keyed on (patient, diff hash).
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

func ts(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func testStore(patients *memPatients, entries *memEntries) *Store {
	return New(patients, entries, logger.New("error"))
}

func TestApplyIsIdempotent(t *testing.T) {
	patients := newMemPatients(&types.Patient{ID: "p1", Name: "Test Patient"})
	entries := newMemEntries()
	store := testStore(patients, entries)

	diff := types.Diff{
		IssuesAdded: []types.Issue{{ID: "issue-1", Title: "Community acquired pneumonia"}},
		TasksAdded:  []types.Task{{ID: "t1", Text: "repeat CXR in 48h"}},
	}

	patient, entry, err := store.Apply(context.Background(), "p1", diff, "test", "")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Len(t, patient.Issues, 1)
	assert.Len(t, patient.Tasks, 1)
	assert.Len(t, patient.WardEntries, 1)

	// Replaying the identical diff changes nothing and adds no entry.
	patient, entry, err = store.Apply(context.Background(), "p1", diff, "test", "")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Len(t, patient.Issues, 1)
	assert.Len(t, patient.Tasks, 1)
	assert.Len(t, patient.WardEntries, 1)

	history, err := store.History(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestApplyIsIdempotentForTasksWithoutIDs(t *testing.T) {
	patients := newMemPatients(&types.Patient{ID: "p1"})
	entries := newMemEntries()
	store := testStore(patients, entries)

	diff := types.Diff{TasksAdded: []types.Task{{Text: "repeat CXR in 48h"}}}

	patient, entry, err := store.Apply(context.Background(), "p1", diff, "card_import:round-1/card1.jpg", "")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Len(t, patient.Tasks, 1)
	firstID := patient.Tasks[0].ID
	assert.NotEmpty(t, firstID)

	// The stored copy gained an id and a creation time on first apply;
	// replaying the original id-less diff must still change nothing.
	patient, entry, err = store.Apply(context.Background(), "p1", diff, "card_import:round-1/card1.jpg", "")
	require.NoError(t, err)
	assert.Nil(t, entry)
	require.Len(t, patient.Tasks, 1)
	assert.Equal(t, firstID, patient.Tasks[0].ID)

	history, err := store.History(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestApplyEmptyDiffIsNoOp(t *testing.T) {
	patients := newMemPatients(&types.Patient{ID: "p1"})
	store := testStore(patients, newMemEntries())

	patient, entry, err := store.Apply(context.Background(), "p1", types.Diff{}, "test", "")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Empty(t, patient.WardEntries)
}

func TestApplyUnknownPatient(t *testing.T) {
	store := testStore(newMemPatients(), newMemEntries())

	diff := types.Diff{TasksAdded: []types.Task{{ID: "t1", Text: "chase bloods"}}}
	_, _, err := store.Apply(context.Background(), "missing", diff, "test", "")

	var rerr *types.ReconcileError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, types.ErrorKindNotFound, rerr.Kind)
}

func TestApplyPersistenceFailureIsRetryable(t *testing.T) {
	patients := newMemPatients(&types.Patient{ID: "p1"})
	entries := newMemEntries()
	store := testStore(patients, entries)

	diff := types.Diff{TasksAdded: []types.Task{{ID: "t1", Text: "chase bloods"}}}

	patients.saveErr = types.NewPersistenceError("disk full", nil)
	_, _, err := store.Apply(context.Background(), "p1", diff, "test", "")
	require.Error(t, err)

	// The failed apply never reported success; retrying the same diff must
	// converge without losing the change.
	patients.saveErr = nil
	patient, _, err := store.Apply(context.Background(), "p1", diff, "test", "")
	require.NoError(t, err)
	assert.Len(t, patient.Tasks, 1)

	history, err := store.History(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestApplyDiffAddsIssueAndSubpoints(t *testing.T) {
	now := ts("2025-09-01T08:00:00Z")
	patient := &types.Patient{ID: "p1"}

	changed := applyDiff(patient, types.Diff{
		IssuesAdded: []types.Issue{{Title: "AKI on CKD"}},
	}, now)
	require.True(t, changed)
	require.Len(t, patient.Issues, 1)
	assert.NotEmpty(t, patient.Issues[0].ID)
	assert.Equal(t, types.IssueOpen, patient.Issues[0].Status)

	// Re-adding the same title without an id is a no-op.
	changed = applyDiff(patient, types.Diff{
		IssuesAdded: []types.Issue{{Title: "aki on ckd"}},
	}, now)
	assert.False(t, changed)
	assert.Len(t, patient.Issues, 1)

	sp := types.Subpoint{Text: "creatinine 180, trending down", Timestamp: now}
	changed = applyDiff(patient, types.Diff{
		IssuesUpdated: []types.IssueUpdate{{IssueID: patient.Issues[0].ID, NewSubpoints: []types.Subpoint{sp}}},
	}, now.Add(time.Hour))
	require.True(t, changed)
	assert.Len(t, patient.Issues[0].Subpoints, 1)
	assert.True(t, patient.Issues[0].LastUpdated.Equal(now.Add(time.Hour)))
}

func TestApplyDiffUpdateForMissingIssueIsNoOp(t *testing.T) {
	patient := &types.Patient{ID: "p1"}

	changed := applyDiff(patient, types.Diff{
		IssuesUpdated: []types.IssueUpdate{{
			IssueID:      "missing",
			NewSubpoints: []types.Subpoint{{Text: "orphan subpoint", Timestamp: ts("2025-09-01T08:00:00Z")}},
		}},
	}, ts("2025-09-01T09:00:00Z"))

	assert.False(t, changed)
	assert.Empty(t, patient.Issues)
}

func TestApplyDiffUpsertsInvestigationByNameAndDate(t *testing.T) {
	date := ts("2025-09-01T00:00:00Z")
	patient := &types.Patient{ID: "p1"}

	changed := applyDiff(patient, types.Diff{
		InvestigationsAdded: []types.Investigation{{Name: "CT Chest", Category: types.InvestigationImaging, Date: &date}},
	}, date)
	require.True(t, changed)
	require.Len(t, patient.Investigations, 1)

	// Same name and date with a result fills in the result instead of
	// duplicating the investigation.
	changed = applyDiff(patient, types.Diff{
		InvestigationsAdded: []types.Investigation{{Name: "ct chest", Date: &date, Result: "no PE"}},
	}, date)
	require.True(t, changed)
	require.Len(t, patient.Investigations, 1)
	assert.Equal(t, "no PE", patient.Investigations[0].Result)
}

func TestApplyDiffMatchesIDLessTaskByNormalizedText(t *testing.T) {
	now := ts("2025-09-01T08:00:00Z")
	patient := &types.Patient{ID: "p1"}

	changed := applyDiff(patient, types.Diff{TasksAdded: []types.Task{{Text: "Repeat  CXR"}}}, now)
	require.True(t, changed)
	require.Len(t, patient.Tasks, 1)

	// Whitespace and case variants of the same text are the same task.
	changed = applyDiff(patient, types.Diff{TasksAdded: []types.Task{{Text: "repeat cxr"}}}, now.Add(time.Hour))
	assert.False(t, changed)
	assert.Len(t, patient.Tasks, 1)

	// An explicit distinct creation time marks a genuinely new task with
	// the same text.
	later := now.Add(48 * time.Hour)
	changed = applyDiff(patient, types.Diff{TasksAdded: []types.Task{{Text: "repeat CXR", CreatedAt: later}}}, later)
	require.True(t, changed)
	assert.Len(t, patient.Tasks, 2)
}

func TestApplyDiffCompletesTaskByNormalizedText(t *testing.T) {
	now := ts("2025-09-01T08:00:00Z")
	patient := &types.Patient{ID: "p1", Tasks: []types.Task{
		{ID: "t1", Text: "Chase  Blood Cultures", Status: types.TaskOpen},
	}}

	changed := applyDiff(patient, types.Diff{TasksCompletedByText: []string{"chase blood cultures"}}, now)
	require.True(t, changed)
	assert.Equal(t, types.TaskCompleted, patient.Tasks[0].Status)
	require.NotNil(t, patient.Tasks[0].CompletedAt)

	// Replaying completion of an already-completed task is a no-op.
	changed = applyDiff(patient, types.Diff{TasksCompletedByText: []string{"chase blood cultures"}}, now)
	assert.False(t, changed)
}

func TestApplyDiffChecklistSkipReplacesReason(t *testing.T) {
	now := ts("2025-09-01T08:00:00Z")
	patient := &types.Patient{ID: "p1"}

	applyDiff(patient, types.Diff{ChecklistSkips: []types.ChecklistSkip{
		{Condition: "ACS", ItemID: "statin", Reason: "deferred"},
	}}, now)
	changed := applyDiff(patient, types.Diff{ChecklistSkips: []types.ChecklistSkip{
		{Condition: "ACS", ItemID: "statin", Reason: "contraindicated"},
	}}, now)

	require.True(t, changed)
	require.Len(t, patient.ChecklistSkips, 1)
	assert.Equal(t, "contraindicated", patient.ChecklistSkips[0].Reason)
}

func TestApplySerializesPerPatient(t *testing.T) {
	patients := newMemPatients(&types.Patient{ID: "p1"})
	entries := newMemEntries()
	store := testStore(patients, entries)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			diff := types.Diff{TasksCompletedByID: []string{"t-none"}, AdmissionFlags: map[string]bool{"telemetry": i%2 == 0}}
			_, _, err := store.Apply(context.Background(), "p1", diff, "test", "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	patient, err := store.GetPatient(context.Background(), "p1")
	require.NoError(t, err)
	// Interleaved applies never corrupt the record; the flag holds one of
	// the two written values.
	_, ok := patient.AdmissionFlags["telemetry"]
	assert.True(t, ok)
}
