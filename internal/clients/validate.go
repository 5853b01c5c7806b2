package clients

import (
	"fmt"
	"strings"

	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// ValidateDiff checks a collaborator-produced diff against the schema the
// engine accepts. Model output is duck-typed at the wire; anything that
// does not line up becomes a boundary error rather than partially-typed
// state.
func ValidateDiff(diff types.Diff) error {
	for i, issue := range diff.IssuesAdded {
		if strings.TrimSpace(issue.Title) == "" {
			return fmt.Errorf("issues_added[%d]: title is required", i)
		}
		if issue.Status != "" && issue.Status != types.IssueOpen && issue.Status != types.IssueResolved {
			return fmt.Errorf("issues_added[%d]: invalid status %q", i, issue.Status)
		}
	}

	for i, update := range diff.IssuesUpdated {
		if update.IssueID == "" {
			return fmt.Errorf("issues_updated[%d]: issue_id is required", i)
		}
		if len(update.NewSubpoints) == 0 {
			return fmt.Errorf("issues_updated[%d]: new_subpoints must not be empty", i)
		}
		for j, sp := range update.NewSubpoints {
			if strings.TrimSpace(sp.Text) == "" {
				return fmt.Errorf("issues_updated[%d].new_subpoints[%d]: text is required", i, j)
			}
		}
	}

	for i, inv := range diff.InvestigationsAdded {
		if strings.TrimSpace(inv.Name) == "" {
			return fmt.Errorf("investigations_added[%d]: name is required", i)
		}
	}

	for i, task := range diff.TasksAdded {
		if strings.TrimSpace(task.Text) == "" {
			return fmt.Errorf("tasks_added[%d]: text is required", i)
		}
		if task.Status != "" && task.Status != types.TaskOpen && task.Status != types.TaskCompleted {
			return fmt.Errorf("tasks_added[%d]: invalid status %q", i, task.Status)
		}
	}

	for i, id := range diff.TasksCompletedByID {
		if id == "" {
			return fmt.Errorf("tasks_completed_by_id[%d]: id must not be empty", i)
		}
	}

	for i, text := range diff.TasksCompletedByText {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("tasks_completed_by_text[%d]: text must not be empty", i)
		}
	}

	for i, skip := range diff.ChecklistSkips {
		if skip.Condition == "" || skip.ItemID == "" {
			return fmt.Errorf("checklist_skips[%d]: condition and item_id are required", i)
		}
	}

	return nil
}

// validateConfidence rejects scores outside [0,1].
func validateConfidence(conf types.Confidence) error {
	for key, value := range conf {
		if value < 0 || value > 1 {
			return fmt.Errorf("confidence %q out of range: %f", key, value)
		}
	}
	return nil
}
