package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// ImportLogRepository persists batch-level import outcomes.
type ImportLogRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewImportLogRepository creates a new import log repository.
func NewImportLogRepository(db *sql.DB, log *logger.Logger) *ImportLogRepository {
	return &ImportLogRepository{db: db, logger: log}
}

// Record upserts the outcome of one batch run. A retried batch overwrites
// its previous attempt's log entry.
func (r *ImportLogRepository) Record(ctx context.Context, status *types.ImportBatchStatus) error {
	outcomes, err := json.Marshal(status.CardOutcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal card outcomes: %w", err)
	}

	query := `
		INSERT INTO import_batches (batch_id, cards, applied, held_for_review, failed, archived, card_outcomes, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (batch_id) DO UPDATE SET
			cards = EXCLUDED.cards,
			applied = EXCLUDED.applied,
			held_for_review = EXCLUDED.held_for_review,
			failed = EXCLUDED.failed,
			archived = EXCLUDED.archived,
			card_outcomes = EXCLUDED.card_outcomes,
			processed_at = EXCLUDED.processed_at`

	if _, err := r.db.ExecContext(ctx, query,
		status.BatchID,
		status.Cards,
		status.Applied,
		status.HeldForReview,
		status.Failed,
		status.Archived,
		outcomes,
		status.ProcessedAt,
	); err != nil {
		return types.NewPersistenceError("failed to record import batch", err)
	}
	return nil
}

// Get returns the most recent outcome for a batch.
func (r *ImportLogRepository) Get(ctx context.Context, batchID string) (*types.ImportBatchStatus, error) {
	query := `
		SELECT batch_id, cards, applied, held_for_review, failed, archived, card_outcomes, processed_at
		FROM import_batches WHERE batch_id = $1`

	var status types.ImportBatchStatus
	var outcomes []byte
	err := r.db.QueryRowContext(ctx, query, batchID).Scan(
		&status.BatchID,
		&status.Cards,
		&status.Applied,
		&status.HeldForReview,
		&status.Failed,
		&status.Archived,
		&outcomes,
		&status.ProcessedAt,
	)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("import batch not found: %s", batchID))
	}
	if err != nil {
		return nil, types.NewPersistenceError("failed to load import batch", err)
	}

	if err := json.Unmarshal(outcomes, &status.CardOutcomes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal card outcomes: %w", err)
	}
	return &status, nil
}

// List returns all batch outcomes, newest first.
func (r *ImportLogRepository) List(ctx context.Context) ([]types.ImportBatchStatus, error) {
	query := `
		SELECT batch_id, cards, applied, held_for_review, failed, archived, card_outcomes, processed_at
		FROM import_batches ORDER BY processed_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, types.NewPersistenceError("failed to list import batches", err)
	}
	defer rows.Close()

	var statuses []types.ImportBatchStatus
	for rows.Next() {
		var status types.ImportBatchStatus
		var outcomes []byte
		if err := rows.Scan(
			&status.BatchID,
			&status.Cards,
			&status.Applied,
			&status.HeldForReview,
			&status.Failed,
			&status.Archived,
			&outcomes,
			&status.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan import batch row: %w", err)
		}
		if err := json.Unmarshal(outcomes, &status.CardOutcomes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal card outcomes: %w", err)
		}
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}
