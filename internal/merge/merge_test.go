package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snanayakkara/operator-sub003/pkg/types"
)

func ts(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func TestMergeAccumulatesSubpointsAcrossTurns(t *testing.T) {
	s1 := types.Subpoint{Text: "CRP trending down", Timestamp: ts("2025-09-01T08:00:00Z")}
	s2 := types.Subpoint{Text: "afebrile overnight", Timestamp: ts("2025-09-01T08:05:00Z")}

	turn1 := types.Diff{
		IssuesUpdated: []types.IssueUpdate{{IssueID: "issue-1", NewSubpoints: []types.Subpoint{s1}}},
		TasksAdded:    []types.Task{{ID: "t1", Text: "chase blood cultures"}},
	}
	turn2 := types.Diff{
		IssuesUpdated: []types.IssueUpdate{{IssueID: "issue-1", NewSubpoints: []types.Subpoint{s2}}},
		TasksAdded:    []types.Task{{ID: "t1", Text: "chase blood cultures"}},
	}

	merged := Merge(turn1, turn2)

	require.Len(t, merged.IssuesUpdated, 1)
	assert.Equal(t, "issue-1", merged.IssuesUpdated[0].IssueID)
	assert.Equal(t, []types.Subpoint{s1, s2}, merged.IssuesUpdated[0].NewSubpoints)

	require.Len(t, merged.TasksAdded, 1)
	assert.Equal(t, "t1", merged.TasksAdded[0].ID)
}

func TestMergeDedupesRepeatedSubpoints(t *testing.T) {
	sp := types.Subpoint{Text: "started ceftriaxone", Timestamp: ts("2025-09-01T09:00:00Z")}
	d := types.Diff{
		IssuesUpdated: []types.IssueUpdate{{IssueID: "issue-1", NewSubpoints: []types.Subpoint{sp}}},
	}

	merged := Merge(d, d)

	require.Len(t, merged.IssuesUpdated, 1)
	assert.Len(t, merged.IssuesUpdated[0].NewSubpoints, 1)
}

func TestMergeUnionsCompletionMarkers(t *testing.T) {
	a := types.Diff{TasksCompletedByID: []string{"t1", "t2"}, TasksCompletedByText: []string{"chase echo"}}
	b := types.Diff{TasksCompletedByID: []string{"t2", "t3"}, TasksCompletedByText: []string{"chase echo"}}

	merged := Merge(a, b)

	assert.Equal(t, []string{"t1", "t2", "t3"}, merged.TasksCompletedByID)
	assert.Equal(t, []string{"chase echo"}, merged.TasksCompletedByText)
}

func TestMergeChecklistSkipsLaterReasonWins(t *testing.T) {
	a := types.Diff{ChecklistSkips: []types.ChecklistSkip{
		{Condition: "ACS", ItemID: "statin", Reason: "deferred"},
		{Condition: "ACS", ItemID: "echo", Reason: "done elsewhere"},
	}}
	b := types.Diff{ChecklistSkips: []types.ChecklistSkip{
		{Condition: "ACS", ItemID: "statin", Reason: "contraindicated"},
	}}

	merged := Merge(a, b)

	require.Len(t, merged.ChecklistSkips, 2)
	assert.Equal(t, "contraindicated", merged.ChecklistSkips[0].Reason)
	assert.Equal(t, "done elsewhere", merged.ChecklistSkips[1].Reason)
}

func TestMergeLastWriteWinsForFlagsAndEDD(t *testing.T) {
	edd1 := ts("2025-09-10T00:00:00Z")
	edd2 := ts("2025-09-12T00:00:00Z")

	a := types.Diff{EDDUpdate: &edd1, AdmissionFlags: map[string]bool{"vte_prophylaxis": true}}
	b := types.Diff{EDDUpdate: &edd2, AdmissionFlags: map[string]bool{"vte_prophylaxis": false, "telemetry": true}}

	merged := Merge(a, b)

	require.NotNil(t, merged.EDDUpdate)
	assert.True(t, merged.EDDUpdate.Equal(edd2))
	assert.False(t, merged.AdmissionFlags["vte_prophylaxis"])
	assert.True(t, merged.AdmissionFlags["telemetry"])
}

func TestMergeKeepsAccumulatedEDDWhenIncomingSilent(t *testing.T) {
	edd := ts("2025-09-10T00:00:00Z")
	a := types.Diff{EDDUpdate: &edd}

	merged := Merge(a, types.Diff{})

	require.NotNil(t, merged.EDDUpdate)
	assert.True(t, merged.EDDUpdate.Equal(edd))
}

func TestMergeIsAssociativeUnderDedupe(t *testing.T) {
	a := types.Diff{TasksAdded: []types.Task{{ID: "t1", Text: "repeat U&E"}}}
	b := types.Diff{TasksAdded: []types.Task{{ID: "t2", Text: "book CT"}}, TasksCompletedByID: []string{"t0"}}
	c := types.Diff{TasksAdded: []types.Task{{ID: "t1", Text: "repeat U&E"}}, TasksCompletedByID: []string{"t0", "t1"}}

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))

	assert.Equal(t, left.Hash(), right.Hash())
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	a := types.Diff{
		TasksAdded:     []types.Task{{ID: "t1", Text: "repeat U&E"}},
		AdmissionFlags: map[string]bool{"telemetry": true},
	}
	b := types.Diff{
		TasksAdded:     []types.Task{{ID: "t2", Text: "book CT"}},
		AdmissionFlags: map[string]bool{"telemetry": false},
	}
	aHash, bHash := a.Hash(), b.Hash()

	Merge(a, b)

	assert.Equal(t, aHash, a.Hash())
	assert.Equal(t, bHash, b.Hash())
}

func TestMergeEmptyDiffsStayEmpty(t *testing.T) {
	merged := Merge(types.Diff{}, types.Diff{})
	assert.True(t, merged.IsEmpty())
}
