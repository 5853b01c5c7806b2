// Package merge combines two diffs for the same patient into one, using
// field-specific rules. Merging is pure: inputs are never mutated, and
// sequence-valued fields are associative and commutative with respect to
// final content once deduping is applied.
package merge

import (
	"github.com/samber/lo"

	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// Merge folds an incoming diff into the accumulated diff. Sequence fields
// concatenate with identity-based dedupe; completion markers union;
// checklist skips union by key with the later reason winning; admission
// flags and the expected discharge date are last-write-wins because they
// represent current clinical judgement, not history.
func Merge(accumulated, incoming types.Diff) types.Diff {
	out := types.Diff{
		IssuesAdded:          mergeIssuesAdded(accumulated.IssuesAdded, incoming.IssuesAdded),
		IssuesUpdated:        mergeIssueUpdates(accumulated.IssuesUpdated, incoming.IssuesUpdated),
		InvestigationsAdded:  mergeInvestigations(accumulated.InvestigationsAdded, incoming.InvestigationsAdded),
		TasksAdded:           mergeTasksAdded(accumulated.TasksAdded, incoming.TasksAdded),
		TasksCompletedByID:   unionStrings(accumulated.TasksCompletedByID, incoming.TasksCompletedByID),
		TasksCompletedByText: unionStrings(accumulated.TasksCompletedByText, incoming.TasksCompletedByText),
		ChecklistSkips:       mergeChecklistSkips(accumulated.ChecklistSkips, incoming.ChecklistSkips),
		AdmissionFlags:       mergeFlags(accumulated.AdmissionFlags, incoming.AdmissionFlags),
	}

	switch {
	case incoming.EDDUpdate != nil:
		edd := *incoming.EDDUpdate
		out.EDDUpdate = &edd
	case accumulated.EDDUpdate != nil:
		edd := *accumulated.EDDUpdate
		out.EDDUpdate = &edd
	}

	return out
}

func mergeIssuesAdded(accumulated, incoming []types.Issue) []types.Issue {
	if len(accumulated) == 0 && len(incoming) == 0 {
		return nil
	}
	combined := append(append([]types.Issue{}, accumulated...), incoming...)
	return lo.UniqBy(combined, types.IssueIdentity)
}

// mergeIssueUpdates concatenates new-subpoint sequences per issue id,
// deduped by subpoint identity. Issue ids present on only one side pass
// through unchanged.
func mergeIssueUpdates(accumulated, incoming []types.IssueUpdate) []types.IssueUpdate {
	if len(accumulated) == 0 && len(incoming) == 0 {
		return nil
	}

	order := make([]string, 0, len(accumulated)+len(incoming))
	byID := make(map[string][]types.Subpoint)
	seen := make(map[string]bool)

	appendUpdate := func(u types.IssueUpdate) {
		if _, ok := byID[u.IssueID]; !ok {
			order = append(order, u.IssueID)
		}
		for _, sp := range u.NewSubpoints {
			key := types.SubpointIdentity(u.IssueID, sp)
			if seen[key] {
				continue
			}
			seen[key] = true
			byID[u.IssueID] = append(byID[u.IssueID], sp)
		}
	}

	for _, u := range accumulated {
		appendUpdate(u)
	}
	for _, u := range incoming {
		appendUpdate(u)
	}

	out := make([]types.IssueUpdate, 0, len(order))
	for _, id := range order {
		out = append(out, types.IssueUpdate{IssueID: id, NewSubpoints: byID[id]})
	}
	return out
}

func mergeInvestigations(accumulated, incoming []types.Investigation) []types.Investigation {
	if len(accumulated) == 0 && len(incoming) == 0 {
		return nil
	}
	combined := append(append([]types.Investigation{}, accumulated...), incoming...)
	return lo.UniqBy(combined, types.InvestigationIdentity)
}

func mergeTasksAdded(accumulated, incoming []types.Task) []types.Task {
	if len(accumulated) == 0 && len(incoming) == 0 {
		return nil
	}
	combined := append(append([]types.Task{}, accumulated...), incoming...)
	return lo.UniqBy(combined, types.TaskIdentity)
}

func unionStrings(accumulated, incoming []string) []string {
	if len(accumulated) == 0 && len(incoming) == 0 {
		return nil
	}
	return lo.Uniq(append(append([]string{}, accumulated...), incoming...))
}

// mergeChecklistSkips keeps first-seen key order; the key set only grows,
// and the incoming reason wins for an existing (condition, item) key.
func mergeChecklistSkips(accumulated, incoming []types.ChecklistSkip) []types.ChecklistSkip {
	if len(accumulated) == 0 && len(incoming) == 0 {
		return nil
	}

	order := make([]string, 0, len(accumulated)+len(incoming))
	byKey := make(map[string]types.ChecklistSkip)

	for _, skip := range append(append([]types.ChecklistSkip{}, accumulated...), incoming...) {
		key := skip.Key()
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = skip
	}

	out := make([]types.ChecklistSkip, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

func mergeFlags(accumulated, incoming map[string]bool) map[string]bool {
	if len(accumulated) == 0 && len(incoming) == 0 {
		return nil
	}
	out := make(map[string]bool, len(accumulated)+len(incoming))
	for k, v := range accumulated {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}
