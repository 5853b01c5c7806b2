package types

import "fmt"

// ErrorKind categorizes reconciliation errors by where they occur and how
// they are recovered.
type ErrorKind string

const (
	// ErrorKindExtraction: the vision collaborator failed to read a card.
	// Per-card; never fails the batch.
	ErrorKindExtraction ErrorKind = "extraction"
	// ErrorKindReasoning: the clinical reasoning collaborator produced
	// unusable or unparsable output. Per-card/per-turn.
	ErrorKindReasoning ErrorKind = "reasoning"
	// ErrorKindTurn: the conversational collaborator call failed. The
	// session stays active so the caller can retry the same turn.
	ErrorKindTurn ErrorKind = "turn"
	// ErrorKindPersistence: a store write failed. Apply must not report
	// success; the caller retries with the same diff.
	ErrorKindPersistence ErrorKind = "persistence"
	// ErrorKindValidation: caller input failed validation.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindNotFound: the referenced entity does not exist.
	ErrorKindNotFound ErrorKind = "not_found"
)

// ReconcileError is a structured error carrying its kind, a stable code and
// an optional wrapped cause.
type ReconcileError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ReconcileError) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind so callers can branch on taxonomy rather than
// identity.
func (e *ReconcileError) Is(target error) bool {
	t, ok := target.(*ReconcileError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// NewExtractionError creates a per-card vision failure.
func NewExtractionError(message string, cause error) *ReconcileError {
	return &ReconcileError{Kind: ErrorKindExtraction, Code: ErrCodeExtractionFailed, Message: message, Cause: cause}
}

// NewReasoningError creates a per-card/per-turn clinical model failure.
func NewReasoningError(message string, cause error) *ReconcileError {
	return &ReconcileError{Kind: ErrorKindReasoning, Code: ErrCodeReasoningFailed, Message: message, Cause: cause}
}

// NewTurnError creates a retryable conversational turn failure.
func NewTurnError(message string, cause error) *ReconcileError {
	return &ReconcileError{Kind: ErrorKindTurn, Code: ErrCodeTurnFailed, Message: message, Cause: cause}
}

// NewPersistenceError creates a store write failure.
func NewPersistenceError(message string, cause error) *ReconcileError {
	return &ReconcileError{Kind: ErrorKindPersistence, Code: ErrCodePersistenceFailed, Message: message, Cause: cause}
}

// NewValidationError creates an invalid-input error.
func NewValidationError(code, message string) *ReconcileError {
	return &ReconcileError{Kind: ErrorKindValidation, Code: code, Message: message}
}

// NewNotFoundError creates a missing-entity error.
func NewNotFoundError(code, message string) *ReconcileError {
	return &ReconcileError{Kind: ErrorKindNotFound, Code: code, Message: message}
}

// Common error codes.
const (
	ErrCodeExtractionFailed  = "EXTRACTION_FAILED"
	ErrCodeReasoningFailed   = "REASONING_FAILED"
	ErrCodeTurnFailed        = "TURN_FAILED"
	ErrCodePersistenceFailed = "PERSISTENCE_FAILED"
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeInvalidDiff       = "INVALID_DIFF"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeSessionClosed     = "SESSION_CLOSED"
)
