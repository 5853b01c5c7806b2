package repository

import (
	"context"

	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// PatientStore defines persistence for patient records.
type PatientStore interface {
	Create(ctx context.Context, patient *types.Patient) (*types.Patient, error)
	GetByID(ctx context.Context, patientID string) (*types.Patient, error)
	Save(ctx context.Context, patient *types.Patient) error
	List(ctx context.Context) ([]*types.Patient, error)
}

// WardEntryStore defines the append-only audit log. Append returns false
// without error when an entry with the same (patient, diff hash) already
// exists; that is how a replayed diff becomes a no-op.
type WardEntryStore interface {
	Append(ctx context.Context, entry *types.WardEntry) (bool, error)
	ListByPatient(ctx context.Context, patientID string) ([]types.WardEntry, error)
}

// ReviewStore defines persistence for pending review entries.
type ReviewStore interface {
	Create(ctx context.Context, entry *types.PendingReviewEntry) (*types.PendingReviewEntry, error)
	GetByID(ctx context.Context, id string) (*types.PendingReviewEntry, error)
	ListPendingByPatient(ctx context.Context, patientID string) ([]types.PendingReviewEntry, error)
	ListByStatus(ctx context.Context, status types.ReviewStatus) ([]types.PendingReviewEntry, error)
	SetStatus(ctx context.Context, id string, status types.ReviewStatus) error
}

// ImportLogStore defines persistence for batch-level import outcomes.
type ImportLogStore interface {
	Record(ctx context.Context, status *types.ImportBatchStatus) error
	Get(ctx context.Context, batchID string) (*types.ImportBatchStatus, error)
	List(ctx context.Context) ([]types.ImportBatchStatus, error)
}
