// Package planner partitions a candidate diff into an auto-apply fragment
// and a needs-review fragment. Evaluation is per field/sub-entity so that a
// single ambiguous field does not block an otherwise-clean diff.
package planner

import (
	"fmt"
	"time"

	"github.com/snanayakkara/operator-sub003/internal/merge"
	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// Policy holds the deployment-tuned decision knobs. Clinical risk tolerance
// is a configuration input, never a hard-coded constant.
type Policy struct {
	// AutoApplyThreshold: confidence at or above this auto-applies absent a
	// conflict.
	AutoApplyThreshold float64
	// ReviewFloor: confidence below this is always held.
	ReviewFloor float64
	// EDDToleranceDays: a discharge date moving by more than this counts as
	// a material change.
	EDDToleranceDays int
}

// HeldFragment is one fragment withheld from auto-apply, with the reason a
// reviewer will see.
type HeldFragment struct {
	Fragment types.Diff
	FieldKey string
	Reason   types.HoldReason
	Detail   string
}

// Decision is the partition of a candidate diff.
type Decision struct {
	AutoApply   types.Diff
	NeedsReview []HeldFragment
	// Skipped counts fragments already queued verbatim in a pending review
	// entry; re-routing them would duplicate review work on batch retry.
	Skipped int
}

// Planner evaluates candidate diffs against policy, current state and the
// patient's still-pending review entries.
type Planner struct {
	policy Policy
	logger *logger.Logger
}

// New creates a planner with the given policy.
func New(policy Policy, log *logger.Logger) *Planner {
	return &Planner{policy: policy, logger: log}
}

// fragment pairs one sub-entity's diff with its confidence key.
type fragment struct {
	diff types.Diff
	key  string
}

// Plan partitions the candidate diff. Absent confidence for a field implies
// maximum trust (human-typed input). The partition is never both empty
// unless the input diff was empty.
func (p *Planner) Plan(diff types.Diff, conf types.Confidence, patient *types.Patient, pending []types.PendingReviewEntry) Decision {
	pendingByKey := make(map[string][]types.PendingReviewEntry)
	for _, entry := range pending {
		pendingByKey[entry.FieldKey] = append(pendingByKey[entry.FieldKey], entry)
	}

	var decision Decision
	for _, frag := range splitFragments(diff) {
		p.route(&decision, frag, conf.Get(frag.key), patient, pendingByKey[frag.key])
	}
	return decision
}

func (p *Planner) route(decision *Decision, frag fragment, confidence float64, patient *types.Patient, pendingSameKey []types.PendingReviewEntry) {
	// Rule 1: a pending update for the same entity. Scan the whole queue for
	// an identical proposal before declaring a conflict; a verbatim match
	// anywhere means the fragment is already under review, and routing it
	// again would duplicate review work when a batch is retried.
	if len(pendingSameKey) > 0 {
		fragHash := frag.diff.Hash()
		for _, entry := range pendingSameKey {
			if entry.Fragment.Hash() == fragHash {
				decision.Skipped++
				return
			}
		}
		decision.NeedsReview = append(decision.NeedsReview, HeldFragment{
			Fragment: frag.diff,
			FieldKey: frag.key,
			Reason:   types.HoldConflict,
			Detail:   fmt.Sprintf("conflicts with pending update %s", pendingSameKey[0].ID),
		})
		return
	}

	// Rule 2a: confidence below the floor is always held.
	if confidence < p.policy.ReviewFloor {
		decision.NeedsReview = append(decision.NeedsReview, HeldFragment{
			Fragment: frag.diff,
			FieldKey: frag.key,
			Reason:   types.HoldVeryLowConfidence,
			Detail:   fmt.Sprintf("confidence %.2f below review floor %.2f", confidence, p.policy.ReviewFloor),
		})
		return
	}

	// Rule 2b: sub-threshold confidence; flag material divergence from the
	// last known value in the detail a reviewer sees.
	if confidence < p.policy.AutoApplyThreshold {
		detail := fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, p.policy.AutoApplyThreshold)
		if divergence := p.materialDivergence(frag, patient); divergence != "" {
			detail = detail + "; " + divergence
		}
		decision.NeedsReview = append(decision.NeedsReview, HeldFragment{
			Fragment: frag.diff,
			FieldKey: frag.key,
			Reason:   types.HoldLowConfidence,
			Detail:   detail,
		})
		return
	}

	// Rule 3: default auto-apply.
	decision.AutoApply = merge.Merge(decision.AutoApply, frag.diff)
}

// materialDivergence describes how a fragment diverges from the patient's
// current state beyond tolerance, or returns "" when it does not.
func (p *Planner) materialDivergence(frag fragment, patient *types.Patient) string {
	if patient == nil {
		return ""
	}

	if frag.diff.EDDUpdate != nil && patient.ExpectedDischarge != nil {
		shift := frag.diff.EDDUpdate.Sub(*patient.ExpectedDischarge)
		if shift < 0 {
			shift = -shift
		}
		// Compare as durations so a fractional-day overshoot still counts;
		// the reported day count rounds up for the same reason.
		if shift > time.Duration(p.policy.EDDToleranceDays)*24*time.Hour {
			days := int((shift + 24*time.Hour - 1) / (24 * time.Hour))
			return fmt.Sprintf("expected discharge moves %d days (tolerance %d)", days, p.policy.EDDToleranceDays)
		}
	}

	for name, proposed := range frag.diff.AdmissionFlags {
		if current, ok := patient.AdmissionFlags[name]; ok && current && !proposed {
			return fmt.Sprintf("admission flag %q flips true to false", name)
		}
	}

	return ""
}

// splitFragments breaks a diff into per-entity fragments keyed the same way
// collaborator confidence maps are keyed.
func splitFragments(diff types.Diff) []fragment {
	var frags []fragment

	for _, issue := range diff.IssuesAdded {
		frags = append(frags, fragment{
			diff: types.Diff{IssuesAdded: []types.Issue{issue}},
			key:  types.FieldIssuePrefix + types.IssueIdentity(issue),
		})
	}
	for _, update := range diff.IssuesUpdated {
		frags = append(frags, fragment{
			diff: types.Diff{IssuesUpdated: []types.IssueUpdate{update}},
			key:  types.FieldIssuePrefix + update.IssueID,
		})
	}
	for _, inv := range diff.InvestigationsAdded {
		frags = append(frags, fragment{
			diff: types.Diff{InvestigationsAdded: []types.Investigation{inv}},
			key:  types.FieldInvestPrefix + types.InvestigationIdentity(inv),
		})
	}
	for _, task := range diff.TasksAdded {
		frags = append(frags, fragment{
			diff: types.Diff{TasksAdded: []types.Task{task}},
			key:  types.FieldTaskPrefix + types.TaskIdentity(task),
		})
	}
	for _, id := range diff.TasksCompletedByID {
		frags = append(frags, fragment{
			diff: types.Diff{TasksCompletedByID: []string{id}},
			key:  types.FieldTaskDonePrefix + id,
		})
	}
	for _, text := range diff.TasksCompletedByText {
		frags = append(frags, fragment{
			diff: types.Diff{TasksCompletedByText: []string{text}},
			key:  types.FieldTaskDonePrefix + types.NormalizeTaskText(text),
		})
	}
	if diff.EDDUpdate != nil {
		edd := *diff.EDDUpdate
		frags = append(frags, fragment{
			diff: types.Diff{EDDUpdate: &edd},
			key:  types.FieldEDD,
		})
	}
	for name, value := range diff.AdmissionFlags {
		frags = append(frags, fragment{
			diff: types.Diff{AdmissionFlags: map[string]bool{name: value}},
			key:  types.FieldFlagPrefix + name,
		})
	}
	for _, skip := range diff.ChecklistSkips {
		frags = append(frags, fragment{
			diff: types.Diff{ChecklistSkips: []types.ChecklistSkip{skip}},
			key:  types.FieldSkipPrefix + skip.Key(),
		})
	}

	return frags
}
