package inference

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows a job listing.
type ListFilter struct {
	Status      string
	ModelType   string
	RequestedBy string
}

// Repository persists inference jobs. FindCompletedBySource is the dedup
// lookup: it matches the fingerprint exactly, treating an absent
// reference as a value that only matches another absent reference.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	GetByDisplayID(ctx context.Context, displayID string) (*Job, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Job, int, error)
	FindCompletedBySource(ctx context.Context, modelType string, refs SourceRefs) (*Job, error)
	Mutate(ctx context.Context, id uuid.UUID, fn func(*Job) error) (*Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
