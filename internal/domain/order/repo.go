package order

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows a listing.
type ListFilter struct {
	Status    string
	JobRole   string
	PatientID *uuid.UUID
	OrderedBy string
}

// Repository persists orders. Mutate loads the order under a per-row
// exclusive lock, applies fn, and writes the result inside one
// transaction, so concurrent transitions on the same row serialize.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Order, int, error)
	Mutate(ctx context.Context, id uuid.UUID, fn func(*Order) error) (*Order, error)
}
