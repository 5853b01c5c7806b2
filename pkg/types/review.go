package types

import "time"

// ReviewStatus enumerates the lifecycle of a pending review entry.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewResolved  ReviewStatus = "resolved"
	ReviewDiscarded ReviewStatus = "discarded"
)

// HoldReason classifies why a diff fragment was withheld from auto-apply.
type HoldReason string

const (
	// HoldConflict marks a fragment that targets the same entity as an
	// existing pending review entry with a materially different value.
	HoldConflict HoldReason = "conflicts_with_pending_update"
	// HoldLowConfidence marks a material change proposed below the
	// configured confidence threshold.
	HoldLowConfidence HoldReason = "low_confidence_material_change"
	// HoldVeryLowConfidence marks a proposal below the lower confidence
	// knob, regardless of divergence.
	HoldVeryLowConfidence HoldReason = "very_low_confidence"
)

// PendingReviewEntry is a diff fragment withheld from auto-apply. It lives
// independently of the patient record until a human resolves it.
type PendingReviewEntry struct {
	ID         string       `json:"id" db:"id"`
	PatientID  string       `json:"patient_id" db:"patient_id"`
	Fragment   Diff         `json:"fragment"`
	Reason     HoldReason   `json:"reason" db:"reason"`
	Detail     string       `json:"detail,omitempty" db:"detail"`
	FieldKey   string       `json:"field_key" db:"field_key"`
	Source     string       `json:"source" db:"source"`
	Status     ReviewStatus `json:"status" db:"status"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Confidence maps planner field keys to extraction confidence in [0,1].
// An absent key implies maximum trust (human-typed input).
type Confidence map[string]float64

// Field keys used by the evaluator to line confidence scores up with diff
// fragments. Entity-scoped keys append the entity identity after a colon.
const (
	FieldEDD            = "edd"
	FieldIssuePrefix    = "issue:"
	FieldInvestPrefix   = "investigation:"
	FieldTaskPrefix     = "task:"
	FieldFlagPrefix     = "flag:"
	FieldSkipPrefix     = "skip:"
	FieldTaskDonePrefix = "task_done:"
)

// Get returns the confidence for a field key, defaulting to full trust when
// the key is absent.
func (c Confidence) Get(key string) float64 {
	if c == nil {
		return 1.0
	}
	if v, ok := c[key]; ok {
		return v
	}
	return 1.0
}

// ImportBatchStatus summarizes one scanned batch for the status query.
type ImportBatchStatus struct {
	BatchID       string        `json:"batch_id" db:"batch_id"`
	Cards         int           `json:"cards" db:"cards"`
	Applied       int           `json:"applied" db:"applied"`
	HeldForReview int           `json:"held_for_review" db:"held_for_review"`
	Failed        int           `json:"failed" db:"failed"`
	Archived      bool          `json:"archived" db:"archived"`
	ProcessedAt   time.Time     `json:"processed_at" db:"processed_at"`
	CardOutcomes  []CardOutcome `json:"card_outcomes,omitempty"`
}

// CardOutcome records the result of processing a single scanned card.
type CardOutcome struct {
	Card    string `json:"card" db:"card"`
	Status  string `json:"status" db:"status"`
	Detail  string `json:"detail,omitempty" db:"detail"`
	Applied bool   `json:"applied" db:"applied"`
	Held    int    `json:"held" db:"held"`
}
