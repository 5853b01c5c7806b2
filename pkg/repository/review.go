package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// ReviewRepository persists pending review entries.
type ReviewRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewReviewRepository creates a new review repository.
func NewReviewRepository(db *sql.DB, log *logger.Logger) *ReviewRepository {
	return &ReviewRepository{db: db, logger: log}
}

// Create inserts a pending review entry.
func (r *ReviewRepository) Create(ctx context.Context, entry *types.PendingReviewEntry) (*types.PendingReviewEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Status == "" {
		entry.Status = types.ReviewPending
	}
	entry.CreatedAt = time.Now().UTC()

	fragment, err := json.Marshal(entry.Fragment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal review fragment: %w", err)
	}

	query := `
		INSERT INTO pending_reviews (id, patient_id, fragment, reason, detail, field_key, source, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if _, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.PatientID,
		fragment,
		string(entry.Reason),
		entry.Detail,
		entry.FieldKey,
		entry.Source,
		string(entry.Status),
		entry.CreatedAt,
	); err != nil {
		return nil, types.NewPersistenceError("failed to create pending review", err)
	}

	r.logger.WithPatientID(entry.PatientID).WithFields(map[string]interface{}{
		"review_id": entry.ID,
		"reason":    entry.Reason,
		"field_key": entry.FieldKey,
	}).Info("Held diff fragment for review")
	return entry, nil
}

// GetByID retrieves a pending review entry.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (*types.PendingReviewEntry, error) {
	query := selectReviewColumns + ` WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)
	entry, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("pending review not found: %s", id))
	}
	if err != nil {
		return nil, types.NewPersistenceError("failed to load pending review", err)
	}
	return entry, nil
}

// ListPendingByPatient returns the still-pending entries for one patient.
func (r *ReviewRepository) ListPendingByPatient(ctx context.Context, patientID string) ([]types.PendingReviewEntry, error) {
	query := selectReviewColumns + ` WHERE patient_id = $1 AND status = 'pending' ORDER BY created_at`
	return r.queryReviews(ctx, query, patientID)
}

// ListByStatus returns all entries with the given status.
func (r *ReviewRepository) ListByStatus(ctx context.Context, status types.ReviewStatus) ([]types.PendingReviewEntry, error) {
	query := selectReviewColumns + ` WHERE status = $1 ORDER BY created_at`
	return r.queryReviews(ctx, query, string(status))
}

// SetStatus transitions a review entry to resolved or discarded.
func (r *ReviewRepository) SetStatus(ctx context.Context, id string, status types.ReviewStatus) error {
	query := `UPDATE pending_reviews SET status = $2, resolved_at = $3 WHERE id = $1 AND status = 'pending'`

	result, err := r.db.ExecContext(ctx, query, id, string(status), time.Now().UTC())
	if err != nil {
		return types.NewPersistenceError("failed to update pending review", err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("pending review not found or already resolved: %s", id))
	}
	return nil
}

const selectReviewColumns = `
	SELECT id, patient_id, fragment, reason, detail, field_key, source, status, created_at, resolved_at
	FROM pending_reviews`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReview(row rowScanner) (*types.PendingReviewEntry, error) {
	var entry types.PendingReviewEntry
	var fragment []byte
	var reason, status string
	var resolvedAt sql.NullTime

	if err := row.Scan(
		&entry.ID,
		&entry.PatientID,
		&fragment,
		&reason,
		&entry.Detail,
		&entry.FieldKey,
		&entry.Source,
		&status,
		&entry.CreatedAt,
		&resolvedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(fragment, &entry.Fragment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal review fragment: %w", err)
	}
	entry.Reason = types.HoldReason(reason)
	entry.Status = types.ReviewStatus(status)
	if resolvedAt.Valid {
		entry.ResolvedAt = &resolvedAt.Time
	}
	return &entry, nil
}

func (r *ReviewRepository) queryReviews(ctx context.Context, query string, args ...interface{}) ([]types.PendingReviewEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.NewPersistenceError("failed to list pending reviews", err)
	}
	defer rows.Close()

	var entries []types.PendingReviewEntry
	for rows.Next() {
		entry, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending review row: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}
