package listing

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for listings. TransitionStatus is the
// engine's single synchronization primitive: every claim, lock, rollback
// and completion goes through it, and implementations must apply it as one
// atomic conditional update.
type Repository interface {
	Create(ctx context.Context, l *Listing) error
	GetByID(ctx context.Context, listingID uuid.UUID) (*Listing, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Listing, error)
	ListActiveByCategory(ctx context.Context, category string) ([]*Listing, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Listing, error)

	// TransitionStatus atomically moves the listing from expected to next.
	// It returns ErrNotFound for an unknown listing, a *ConflictError when
	// the current status differs from expected, and a *ValidationError
	// when the transition is not in the allowed set.
	TransitionStatus(ctx context.Context, listingID uuid.UUID, expected, next Status) error
}
