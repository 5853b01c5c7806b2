package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// IssueUpdate appends new subpoints to an existing issue.
type IssueUpdate struct {
	IssueID      string     `json:"issue_id"`
	NewSubpoints []Subpoint `json:"new_subpoints"`
}

// Diff is the unit of proposed change to a patient record. It is pure data;
// its only behavior is the identity keys used for dedupe and the content
// hash used for idempotent application.
type Diff struct {
	IssuesAdded          []Issue         `json:"issues_added,omitempty"`
	IssuesUpdated        []IssueUpdate   `json:"issues_updated,omitempty"`
	InvestigationsAdded  []Investigation `json:"investigations_added,omitempty"`
	TasksAdded           []Task          `json:"tasks_added,omitempty"`
	TasksCompletedByID   []string        `json:"tasks_completed_by_id,omitempty"`
	TasksCompletedByText []string        `json:"tasks_completed_by_text,omitempty"`
	EDDUpdate            *time.Time      `json:"edd_update,omitempty"`
	AdmissionFlags       map[string]bool `json:"admission_flags,omitempty"`
	ChecklistSkips       []ChecklistSkip `json:"checklist_skips,omitempty"`
}

// IsEmpty reports whether the diff proposes no changes at all.
func (d Diff) IsEmpty() bool {
	return len(d.IssuesAdded) == 0 &&
		len(d.IssuesUpdated) == 0 &&
		len(d.InvestigationsAdded) == 0 &&
		len(d.TasksAdded) == 0 &&
		len(d.TasksCompletedByID) == 0 &&
		len(d.TasksCompletedByText) == 0 &&
		d.EDDUpdate == nil &&
		len(d.AdmissionFlags) == 0 &&
		len(d.ChecklistSkips) == 0
}

// Hash returns the SHA-256 content hash of the diff's canonical JSON
// encoding. Used as the WardEntry dedupe key for idempotent apply.
func (d Diff) Hash() string {
	payload, err := json.Marshal(d)
	if err != nil {
		// Diff contains only marshalable types; this cannot happen at runtime.
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// SubpointIdentity is the dedupe key for a subpoint under an issue: the
// subpoint id when present, otherwise a hash of timestamp+text.
func SubpointIdentity(issueID string, sp Subpoint) string {
	if sp.ID != "" {
		return issueID + ":" + sp.ID
	}
	return issueID + ":" + hashFields(sp.Timestamp.UTC().Format(time.RFC3339Nano), sp.Text)
}

// TaskIdentity is the dedupe key for a task: its id when present, otherwise
// a hash of text+createdAt.
func TaskIdentity(t Task) string {
	if t.ID != "" {
		return t.ID
	}
	return hashFields(t.Text, t.CreatedAt.UTC().Format(time.RFC3339Nano))
}

// InvestigationIdentity is the upsert key for an investigation: its id when
// present, otherwise (name, date) equality.
func InvestigationIdentity(inv Investigation) string {
	if inv.ID != "" {
		return inv.ID
	}
	date := ""
	if inv.Date != nil {
		date = inv.Date.UTC().Format("2006-01-02")
	}
	return hashFields(strings.ToLower(strings.TrimSpace(inv.Name)), date)
}

// IssueIdentity is the dedupe key for an added issue: its id when present,
// otherwise its normalized title.
func IssueIdentity(is Issue) string {
	if is.ID != "" {
		return is.ID
	}
	return hashFields(strings.ToLower(strings.TrimSpace(is.Title)))
}

// NormalizeTaskText lowercases and collapses whitespace for the fuzzy
// text-match fallback when completing tasks.
func NormalizeTaskText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func hashFields(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
