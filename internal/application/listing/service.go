package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/barterhub/barterhub/internal/application/matching"
	appProposal "github.com/barterhub/barterhub/internal/application/proposal"
	domainListing "github.com/barterhub/barterhub/internal/domain/listing"
	"github.com/barterhub/barterhub/internal/domain/notification"
	"github.com/barterhub/barterhub/internal/domain/user"
)

// ErrNotOwner is returned when a member manipulates someone else's
// listing.
var ErrNotOwner = errors.New("listing is owned by another member")

// Service is the listing store's application surface: creation,
// withdrawal and soft holds. It keeps the preference index synchronized
// on every status change and terminates open proposals when a referenced
// listing is withdrawn.
type Service struct {
	listingRepo domainListing.Repository
	userRepo    user.Repository
	index       *matching.Index
	proposalSvc *appProposal.Service
	dispatcher  notification.Dispatcher
	logger      zerolog.Logger
}

// NewService creates a listing service.
func NewService(
	listingRepo domainListing.Repository,
	userRepo user.Repository,
	index *matching.Index,
	proposalSvc *appProposal.Service,
	dispatcher notification.Dispatcher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		listingRepo: listingRepo,
		userRepo:    userRepo,
		index:       index,
		proposalSvc: proposalSvc,
		dispatcher:  dispatcher,
		logger:      logger.With().Str("service", "listing").Logger(),
	}
}

// Create publishes a new listing for an active member.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, direction domainListing.Direction, categories []string, description, matchExpr string) (*domainListing.Listing, error) {
	owner, err := s.userRepo.GetByID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("owner %s: %w", ownerID, err)
	}
	if !owner.IsActive() {
		return nil, &domainListing.ValidationError{Field: "ownerId", Reason: "owner is disabled"}
	}
	if matchExpr != "" && direction != domainListing.DirectionWanted {
		return nil, &domainListing.ValidationError{Field: "matchExpr", Reason: "only wanted listings carry a match expression"}
	}
	if err := domainListing.ValidateMatchExpr(matchExpr); err != nil {
		return nil, err
	}
	l, err := domainListing.New(ownerID, direction, categories, description)
	if err != nil {
		return nil, err
	}
	l.MatchExpr = matchExpr
	if err := s.listingRepo.Create(ctx, l); err != nil {
		return nil, err
	}
	s.index.Apply(l)
	s.logger.Info().
		Str("listing", l.ListingID.String()).
		Str("direction", string(direction)).
		Strs("categories", l.Categories).
		Msg("listing created")
	return l, nil
}

// Get returns a listing by ID.
func (s *Service) Get(ctx context.Context, listingID uuid.UUID) (*domainListing.Listing, error) {
	return s.listingRepo.GetByID(ctx, listingID)
}

// ListByOwner returns a member's listings, oldest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domainListing.Listing, error) {
	return s.listingRepo.ListByOwner(ctx, ownerID)
}

// Withdraw removes a listing from circulation. Only the owner may
// withdraw, and only from Active or Reserved; a Locked listing belongs
// to an executing trade and returns a ConflictError. Withdrawing an
// already withdrawn listing is a no-op. Open proposals
// referencing the listing are rejected, symmetric to a decline.
func (s *Service) Withdraw(ctx context.Context, listingID, ownerID uuid.UUID) error {
	l, err := s.listingRepo.GetByID(ctx, listingID)
	if err != nil {
		return err
	}
	if l.OwnerID != ownerID {
		return ErrNotOwner
	}
	if l.Status == domainListing.StatusWithdrawn {
		return nil
	}

	err = s.listingRepo.TransitionStatus(ctx, listingID, domainListing.StatusActive, domainListing.StatusWithdrawn)
	if domainListing.IsConflict(err) {
		err = s.listingRepo.TransitionStatus(ctx, listingID, domainListing.StatusReserved, domainListing.StatusWithdrawn)
	}
	if err != nil {
		return err
	}
	s.refreshIndex(ctx, listingID)

	if s.proposalSvc != nil {
		if err := s.proposalSvc.RejectForListing(ctx, listingID, "listing withdrawn"); err != nil {
			s.logger.Error().Err(err).Str("listing", listingID.String()).Msg("failed to reject proposals for withdrawn listing")
		}
	}
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(notification.NewEvent(notification.KindListingWithdrawn, listingID, []uuid.UUID{ownerID}, nil))
	}
	s.logger.Info().Str("listing", listingID.String()).Msg("listing withdrawn")
	return nil
}

// Reserve places an owner's soft hold on an active listing, pausing
// matching without withdrawing it.
func (s *Service) Reserve(ctx context.Context, listingID, ownerID uuid.UUID) error {
	if err := s.ownerCheck(ctx, listingID, ownerID); err != nil {
		return err
	}
	if err := s.listingRepo.TransitionStatus(ctx, listingID, domainListing.StatusActive, domainListing.StatusReserved); err != nil {
		return err
	}
	s.refreshIndex(ctx, listingID)
	return nil
}

// Release lifts a soft hold, returning the listing to matching.
func (s *Service) Release(ctx context.Context, listingID, ownerID uuid.UUID) error {
	if err := s.ownerCheck(ctx, listingID, ownerID); err != nil {
		return err
	}
	if err := s.listingRepo.TransitionStatus(ctx, listingID, domainListing.StatusReserved, domainListing.StatusActive); err != nil {
		return err
	}
	s.refreshIndex(ctx, listingID)
	return nil
}

func (s *Service) ownerCheck(ctx context.Context, listingID, ownerID uuid.UUID) error {
	l, err := s.listingRepo.GetByID(ctx, listingID)
	if err != nil {
		return err
	}
	if l.OwnerID != ownerID {
		return ErrNotOwner
	}
	return nil
}

func (s *Service) refreshIndex(ctx context.Context, listingID uuid.UUID) {
	l, err := s.listingRepo.GetByID(ctx, listingID)
	if err != nil {
		return
	}
	s.index.Apply(l)
}
