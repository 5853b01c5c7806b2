package state

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// applyDiff mutates the patient record in place and reports whether anything
// moved. Apply order: issues (add then update-with-append), investigations
// (upsert), tasks (add then mark-completed, id-match first, text-match
// fallback, first match only), expected discharge, admission flags,
// checklist skips. Each step is an identity-keyed upsert, so replaying the
// same diff changes nothing.
func applyDiff(patient *types.Patient, diff types.Diff, now time.Time) bool {
	changed := false

	for _, issue := range diff.IssuesAdded {
		if addIssue(patient, issue, now) {
			changed = true
		}
	}

	for _, update := range diff.IssuesUpdated {
		if appendSubpoints(patient, update, now) {
			changed = true
		}
	}

	for _, inv := range diff.InvestigationsAdded {
		if upsertInvestigation(patient, inv) {
			changed = true
		}
	}

	for _, task := range diff.TasksAdded {
		if addTask(patient, task, now) {
			changed = true
		}
	}

	for _, id := range diff.TasksCompletedByID {
		if completeTaskByID(patient, id, now) {
			changed = true
		}
	}

	for _, text := range diff.TasksCompletedByText {
		if completeTaskByText(patient, text, now) {
			changed = true
		}
	}

	if diff.EDDUpdate != nil {
		if patient.ExpectedDischarge == nil || !patient.ExpectedDischarge.Equal(*diff.EDDUpdate) {
			edd := *diff.EDDUpdate
			patient.ExpectedDischarge = &edd
			changed = true
		}
	}

	for name, value := range diff.AdmissionFlags {
		if current, ok := patient.AdmissionFlags[name]; !ok || current != value {
			if patient.AdmissionFlags == nil {
				patient.AdmissionFlags = make(map[string]bool)
			}
			patient.AdmissionFlags[name] = value
			changed = true
		}
	}

	for _, skip := range diff.ChecklistSkips {
		if upsertChecklistSkip(patient, skip) {
			changed = true
		}
	}

	return changed
}

func addIssue(patient *types.Patient, issue types.Issue, now time.Time) bool {
	if issue.ID != "" {
		if patient.FindIssue(issue.ID) != nil {
			return false
		}
	} else {
		// No id from the proposer: match an existing issue by title so a
		// replayed add stays a no-op.
		title := strings.ToLower(strings.TrimSpace(issue.Title))
		for i := range patient.Issues {
			if strings.ToLower(strings.TrimSpace(patient.Issues[i].Title)) == title {
				return false
			}
		}
		issue.ID = uuid.New().String()
	}

	if issue.Status == "" {
		issue.Status = types.IssueOpen
	}
	issue.LastUpdated = now
	patient.Issues = append(patient.Issues, issue)
	return true
}

func appendSubpoints(patient *types.Patient, update types.IssueUpdate, now time.Time) bool {
	issue := patient.FindIssue(update.IssueID)
	if issue == nil {
		return false
	}

	existing := make(map[string]bool, len(issue.Subpoints))
	for _, sp := range issue.Subpoints {
		existing[types.SubpointIdentity(issue.ID, sp)] = true
	}

	changed := false
	for _, sp := range update.NewSubpoints {
		key := types.SubpointIdentity(issue.ID, sp)
		if existing[key] {
			continue
		}
		existing[key] = true
		issue.Subpoints = append(issue.Subpoints, sp)
		changed = true
	}
	if changed {
		issue.LastUpdated = now
	}
	return changed
}

func upsertInvestigation(patient *types.Patient, inv types.Investigation) bool {
	var match *types.Investigation
	if inv.ID != "" {
		for i := range patient.Investigations {
			if patient.Investigations[i].ID == inv.ID {
				match = &patient.Investigations[i]
				break
			}
		}
	} else {
		for i := range patient.Investigations {
			if investigationKeyEqual(patient.Investigations[i], inv) {
				match = &patient.Investigations[i]
				break
			}
		}
	}

	if match == nil {
		if inv.ID == "" {
			inv.ID = uuid.New().String()
		}
		patient.Investigations = append(patient.Investigations, inv)
		return true
	}

	changed := false
	if inv.Result != "" && inv.Result != match.Result {
		match.Result = inv.Result
		changed = true
	}
	if inv.Category != "" && inv.Category != match.Category {
		match.Category = inv.Category
		changed = true
	}
	if inv.Date != nil && (match.Date == nil || !match.Date.Equal(*inv.Date)) {
		date := *inv.Date
		match.Date = &date
		changed = true
	}
	return changed
}

func investigationKeyEqual(a, b types.Investigation) bool {
	if !strings.EqualFold(strings.TrimSpace(a.Name), strings.TrimSpace(b.Name)) {
		return false
	}
	if a.Date == nil || b.Date == nil {
		return a.Date == nil && b.Date == nil
	}
	ay, am, ad := a.Date.UTC().Date()
	by, bm, bd := b.Date.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func addTask(patient *types.Patient, task types.Task, now time.Time) bool {
	if task.ID != "" {
		if patient.FindTask(task.ID) != nil {
			return false
		}
	} else {
		// No id from the proposer: match an existing task by normalized
		// text, like addIssue does for titles. The stored copy gains an id
		// and a creation time on first apply, so those fields cannot be
		// part of the replay identity; an explicit distinct CreatedAt still
		// marks a genuinely new task with the same text.
		wanted := types.NormalizeTaskText(task.Text)
		for i := range patient.Tasks {
			if types.NormalizeTaskText(patient.Tasks[i].Text) != wanted {
				continue
			}
			if task.CreatedAt.IsZero() || patient.Tasks[i].CreatedAt.Equal(task.CreatedAt) {
				return false
			}
		}
		task.ID = uuid.New().String()
	}

	if task.Status == "" {
		task.Status = types.TaskOpen
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	patient.Tasks = append(patient.Tasks, task)
	return true
}

func completeTaskByID(patient *types.Patient, id string, now time.Time) bool {
	task := patient.FindTask(id)
	if task == nil || task.Status == types.TaskCompleted {
		return false
	}
	task.Status = types.TaskCompleted
	completedAt := now
	task.CompletedAt = &completedAt
	return true
}

// completeTaskByText is the fallback for proposers that could not resolve a
// task id: normalized-text match, first open match only. A matching task
// that is already completed makes the replay a no-op rather than reaching
// for the next candidate.
func completeTaskByText(patient *types.Patient, text string, now time.Time) bool {
	wanted := types.NormalizeTaskText(text)
	for i := range patient.Tasks {
		if types.NormalizeTaskText(patient.Tasks[i].Text) != wanted {
			continue
		}
		if patient.Tasks[i].Status == types.TaskCompleted {
			return false
		}
		patient.Tasks[i].Status = types.TaskCompleted
		completedAt := now
		patient.Tasks[i].CompletedAt = &completedAt
		return true
	}
	return false
}

func upsertChecklistSkip(patient *types.Patient, skip types.ChecklistSkip) bool {
	for i := range patient.ChecklistSkips {
		if patient.ChecklistSkips[i].Key() == skip.Key() {
			if patient.ChecklistSkips[i].Reason == skip.Reason {
				return false
			}
			patient.ChecklistSkips[i].Reason = skip.Reason
			return true
		}
	}
	patient.ChecklistSkips = append(patient.ChecklistSkips, skip)
	return true
}
