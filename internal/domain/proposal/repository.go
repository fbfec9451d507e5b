package proposal

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for proposals.
type Repository interface {
	Create(ctx context.Context, p *Proposal) error
	GetByID(ctx context.Context, proposalID uuid.UUID) (*Proposal, error)

	// Update persists acceptance, state and reason, conditional on
	// p.Version still being the stored version. It returns ErrStale when
	// another writer got there first, and bumps p.Version on success.
	Update(ctx context.Context, p *Proposal) error

	// UpdateState conditionally moves the proposal from expected to next,
	// returning ErrInvalidTransition when the stored state differs from
	// expected. The coordinator uses it so an accepted proposal is handed
	// to exactly one execution.
	UpdateState(ctx context.Context, proposalID uuid.UUID, expected, next State) error

	// ListByState returns proposals in the given state, oldest first.
	ListByState(ctx context.Context, state State, limit int) ([]*Proposal, error)

	// ListExpired returns non-terminal proposals whose TTL elapsed at or
	// before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Proposal, error)

	// ListOpenByListing returns non-terminal proposals whose cycle
	// references the listing. Used when a listing is withdrawn.
	ListOpenByListing(ctx context.Context, listingID uuid.UUID) ([]*Proposal, error)
}
