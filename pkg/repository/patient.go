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

// PatientRepository persists patient records as JSON documents with lifted
// identity columns.
type PatientRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewPatientRepository creates a new patient repository.
func NewPatientRepository(db *sql.DB, log *logger.Logger) *PatientRepository {
	return &PatientRepository{db: db, logger: log}
}

// Create inserts a new patient record.
func (r *PatientRepository) Create(ctx context.Context, patient *types.Patient) (*types.Patient, error) {
	if patient.ID == "" {
		patient.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	patient.CreatedAt = now
	patient.UpdatedAt = now

	record, err := json.Marshal(patient)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patient record: %w", err)
	}

	query := `
		INSERT INTO patients (id, name, mrn, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.ExecContext(ctx, query,
		patient.ID,
		patient.Name,
		patient.MRN,
		record,
		patient.CreatedAt,
		patient.UpdatedAt,
	); err != nil {
		return nil, types.NewPersistenceError("failed to create patient", err)
	}

	r.logger.WithPatientID(patient.ID).Info("Created patient record")
	return patient, nil
}

// GetByID retrieves a patient by id.
func (r *PatientRepository) GetByID(ctx context.Context, patientID string) (*types.Patient, error) {
	query := `SELECT record FROM patients WHERE id = $1`

	var record []byte
	err := r.db.QueryRowContext(ctx, query, patientID).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("patient not found: %s", patientID))
	}
	if err != nil {
		return nil, types.NewPersistenceError("failed to load patient", err)
	}

	var patient types.Patient
	if err := json.Unmarshal(record, &patient); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patient record: %w", err)
	}
	return &patient, nil
}

// Save writes the full patient record back. Called only by the state store
// under the per-patient lock.
func (r *PatientRepository) Save(ctx context.Context, patient *types.Patient) error {
	patient.UpdatedAt = time.Now().UTC()

	record, err := json.Marshal(patient)
	if err != nil {
		return fmt.Errorf("failed to marshal patient record: %w", err)
	}

	query := `UPDATE patients SET name = $2, mrn = $3, record = $4, updated_at = $5 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		patient.ID,
		patient.Name,
		patient.MRN,
		record,
		patient.UpdatedAt,
	)
	if err != nil {
		return types.NewPersistenceError("failed to save patient", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("patient not found: %s", patient.ID))
	}
	return nil
}

// List returns all patient records ordered by creation time.
func (r *PatientRepository) List(ctx context.Context) ([]*types.Patient, error) {
	query := `SELECT record FROM patients ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, types.NewPersistenceError("failed to list patients", err)
	}
	defer rows.Close()

	var patients []*types.Patient
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan patient row: %w", err)
		}
		var patient types.Patient
		if err := json.Unmarshal(record, &patient); err != nil {
			return nil, fmt.Errorf("failed to unmarshal patient record: %w", err)
		}
		patients = append(patients, &patient)
	}
	return patients, rows.Err()
}
