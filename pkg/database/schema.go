package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the database schema for the reconciliation engine.
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.Info("Creating database schema...")

	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`); err != nil {
		return fmt.Errorf("failed to create extensions: %w", err)
	}

	tables := []string{
		createPatientsTable,
		createWardEntriesTable,
		createPendingReviewsTable,
		createImportBatchesTable,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		createWardEntriesIndexes,
		createPendingReviewsIndexes,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	db.logger.Info("Database schema created successfully")
	return nil
}

// The patient record is stored as a JSON document; identity columns are
// lifted out for lookup. Ward entries are append-only: the unique
// (patient_id, diff_hash) pair is what makes re-applying a diff a no-op.
const createPatientsTable = `
CREATE TABLE IF NOT EXISTS patients (
	id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
	name TEXT NOT NULL,
	mrn TEXT NOT NULL DEFAULT '',
	record JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const createWardEntriesTable = `
CREATE TABLE IF NOT EXISTS ward_entries (
	id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
	patient_id UUID NOT NULL REFERENCES patients(id),
	diff JSONB NOT NULL,
	diff_hash TEXT NOT NULL,
	source TEXT NOT NULL,
	raw_text TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (patient_id, diff_hash)
);`

const createPendingReviewsTable = `
CREATE TABLE IF NOT EXISTS pending_reviews (
	id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
	patient_id UUID NOT NULL REFERENCES patients(id),
	fragment JSONB NOT NULL,
	reason TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	field_key TEXT NOT NULL,
	source TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at TIMESTAMPTZ
);`

const createImportBatchesTable = `
CREATE TABLE IF NOT EXISTS import_batches (
	batch_id TEXT PRIMARY KEY,
	cards INT NOT NULL,
	applied INT NOT NULL,
	held_for_review INT NOT NULL,
	failed INT NOT NULL,
	archived BOOLEAN NOT NULL,
	card_outcomes JSONB NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const createWardEntriesIndexes = `
CREATE INDEX IF NOT EXISTS idx_ward_entries_patient ON ward_entries(patient_id, created_at);`

const createPendingReviewsIndexes = `
CREATE INDEX IF NOT EXISTS idx_pending_reviews_patient_status ON pending_reviews(patient_id, status);`
