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

// WardEntryRepository persists the append-only audit log of applied diffs.
type WardEntryRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewWardEntryRepository creates a new ward entry repository.
func NewWardEntryRepository(db *sql.DB, log *logger.Logger) *WardEntryRepository {
	return &WardEntryRepository{db: db, logger: log}
}

// Append inserts a ward entry. Returns false when an entry with the same
// (patient_id, diff_hash) already exists, which makes a replayed diff a
// no-op without error.
func (r *WardEntryRepository) Append(ctx context.Context, entry *types.WardEntry) (bool, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	diff, err := json.Marshal(entry.Diff)
	if err != nil {
		return false, fmt.Errorf("failed to marshal diff: %w", err)
	}

	query := `
		INSERT INTO ward_entries (id, patient_id, diff, diff_hash, source, raw_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (patient_id, diff_hash) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.PatientID,
		diff,
		entry.DiffHash,
		entry.Source,
		entry.RawText,
		entry.Timestamp,
	)
	if err != nil {
		return false, types.NewPersistenceError("failed to append ward entry", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, types.NewPersistenceError("failed to read append result", err)
	}
	if rows == 0 {
		r.logger.WithPatientID(entry.PatientID).WithField("diff_hash", entry.DiffHash).
			Debug("Ward entry already recorded, skipping")
		return false, nil
	}
	return true, nil
}

// ListByPatient returns a patient's audit history in append order.
func (r *WardEntryRepository) ListByPatient(ctx context.Context, patientID string) ([]types.WardEntry, error) {
	query := `
		SELECT id, patient_id, diff, diff_hash, source, raw_text, created_at
		FROM ward_entries WHERE patient_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, types.NewPersistenceError("failed to list ward entries", err)
	}
	defer rows.Close()

	var entries []types.WardEntry
	for rows.Next() {
		var entry types.WardEntry
		var diff []byte
		if err := rows.Scan(&entry.ID, &entry.PatientID, &diff, &entry.DiffHash, &entry.Source, &entry.RawText, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan ward entry row: %w", err)
		}
		if err := json.Unmarshal(diff, &entry.Diff); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ward entry diff: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
