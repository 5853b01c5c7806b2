package types

import "time"

// IssueStatus enumerates the lifecycle of a clinical issue. Issues are never
// deleted, only resolved.
type IssueStatus string

const (
	IssueOpen     IssueStatus = "open"
	IssueResolved IssueStatus = "resolved"
)

// TaskStatus enumerates the lifecycle of a ward task.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskCompleted TaskStatus = "completed"
)

// Subpoint is a timestamped free-text note appended under an issue.
type Subpoint struct {
	ID        string    `json:"id,omitempty" db:"id"`
	Text      string    `json:"text" db:"text"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Issue is one active or resolved clinical problem on a patient record.
// Subpoints are append-only.
type Issue struct {
	ID          string      `json:"id" db:"id"`
	Title       string      `json:"title" db:"title"`
	Status      IssueStatus `json:"status" db:"status"`
	Subpoints   []Subpoint  `json:"subpoints"`
	LastUpdated time.Time   `json:"last_updated" db:"last_updated"`
}

// InvestigationCategory groups investigations for display and upsert keying.
type InvestigationCategory string

const (
	InvestigationLabs    InvestigationCategory = "labs"
	InvestigationImaging InvestigationCategory = "imaging"
	InvestigationOther   InvestigationCategory = "other"
)

// Investigation is a test or study with an optional result. Upserted by ID
// when present, otherwise by (name, date) equality.
type Investigation struct {
	ID       string                `json:"id,omitempty" db:"id"`
	Category InvestigationCategory `json:"category" db:"category"`
	Name     string                `json:"name" db:"name"`
	Result   string                `json:"result,omitempty" db:"result"`
	Date     *time.Time            `json:"date,omitempty" db:"date"`
}

// Task is an actionable ward item.
type Task struct {
	ID          string     `json:"id" db:"id"`
	Text        string     `json:"text" db:"text"`
	Status      TaskStatus `json:"status" db:"status"`
	Assignee    string     `json:"assignee,omitempty" db:"assignee"`
	DueDate     *time.Time `json:"due_date,omitempty" db:"due_date"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ChecklistSkip records that a standard checklist item was deliberately not
// actioned for an admission condition. Unique per (Condition, ItemID); a
// later skip with the same key replaces the reason only.
type ChecklistSkip struct {
	Condition string `json:"condition" db:"condition"`
	ItemID    string `json:"item_id" db:"item_id"`
	Reason    string `json:"reason,omitempty" db:"reason"`
}

// Key returns the uniqueness key for a checklist skip.
func (c ChecklistSkip) Key() string {
	return c.Condition + "/" + c.ItemID
}

// WardEntry is the immutable audit record appended on every effective diff
// application. Never mutated or removed.
type WardEntry struct {
	ID        string    `json:"id" db:"id"`
	PatientID string    `json:"patient_id" db:"patient_id"`
	Diff      Diff      `json:"diff"`
	DiffHash  string    `json:"diff_hash" db:"diff_hash"`
	Source    string    `json:"source" db:"source"`
	RawText   string    `json:"raw_text,omitempty" db:"raw_text"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// IntakeNote is a free-text scratchpad note captured when a patient is
// quick-added during a round.
type IntakeNote struct {
	ID        string    `json:"id" db:"id"`
	Text      string    `json:"text" db:"text"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Patient is the authoritative ward-round record. Mutated only through diff
// application via the state store, never directly.
type Patient struct {
	ID                string          `json:"id" db:"id"`
	Name              string          `json:"name" db:"name"`
	MRN               string          `json:"mrn,omitempty" db:"mrn"`
	Bed               string          `json:"bed,omitempty" db:"bed"`
	Ward              string          `json:"ward,omitempty" db:"ward"`
	OneLiner          string          `json:"one_liner,omitempty" db:"one_liner"`
	IntakeNotes       []IntakeNote    `json:"intake_notes,omitempty"`
	Issues            []Issue         `json:"issues"`
	Investigations    []Investigation `json:"investigations"`
	Tasks             []Task          `json:"tasks"`
	AdmissionFlags    map[string]bool `json:"admission_flags"`
	ChecklistSkips    []ChecklistSkip `json:"checklist_skips"`
	ExpectedDischarge *time.Time      `json:"expected_discharge,omitempty" db:"expected_discharge"`
	WardEntries       []WardEntry     `json:"ward_entries"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// FindIssue returns the issue with the given id, or nil.
func (p *Patient) FindIssue(id string) *Issue {
	for i := range p.Issues {
		if p.Issues[i].ID == id {
			return &p.Issues[i]
		}
	}
	return nil
}

// FindTask returns the task with the given id, or nil.
func (p *Patient) FindTask(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}
