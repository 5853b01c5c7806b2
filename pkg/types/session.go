package types

import "time"

// SessionState enumerates the dictation session state machine.
// Idle -> Active (first turn) -> Active (re-entrant) -> Committed | Abandoned.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionCommitted SessionState = "committed"
	SessionAbandoned SessionState = "abandoned"
)

// SessionMode distinguishes live dictation from import-review sessions.
type SessionMode string

const (
	ModeDictation    SessionMode = "dictation"
	ModeImportReview SessionMode = "import-review"
)

// Turn is one exchange within a conversation session.
type Turn struct {
	Transcript       string    `json:"transcript"`
	AssistantMessage string    `json:"assistant_message"`
	SummaryLines     []string  `json:"summary_lines"`
	Diff             Diff      `json:"diff"`
	At               time.Time `json:"at"`
}

// ConversationSession accumulates turn diffs into one pending diff before
// commit. PendingDiff is the merge of every turn's diff in order; Summary is
// the narrative log appended in turn order and never deduped.
type ConversationSession struct {
	ID          string       `json:"id"`
	PatientID   string       `json:"patient_id"`
	Mode        SessionMode  `json:"mode"`
	State       SessionState `json:"state"`
	Turns       []Turn       `json:"turns"`
	PendingDiff Diff         `json:"pending_diff"`
	Summary     []string     `json:"summary"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
