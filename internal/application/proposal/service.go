package proposal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/barterhub/barterhub/internal/application/exchange"
	domainListing "github.com/barterhub/barterhub/internal/domain/listing"
	"github.com/barterhub/barterhub/internal/domain/notification"
	domainProposal "github.com/barterhub/barterhub/internal/domain/proposal"
	"github.com/barterhub/barterhub/internal/domain/user"
	"github.com/barterhub/barterhub/internal/infrastructure/clock"
)

const defaultTTL = 24 * time.Hour

// Service drives the multi-party acceptance state machine: it turns
// discovered cycles into proposals, collects responses, expires stale
// proposals, and hands unanimously accepted ones to the coordinator.
type Service struct {
	proposalRepo domainProposal.Repository
	listingRepo  domainListing.Repository
	userRepo     user.Repository
	coordinator  *exchange.Service
	dispatcher   notification.Dispatcher
	clk          clock.Clock
	ttl          time.Duration
	maxCycleLen  int
	logger       zerolog.Logger
}

// NewService creates a proposal service. ttl bounds how long participants
// may deliberate; maxCycleLen is the same K the cycle finder uses.
func NewService(
	proposalRepo domainProposal.Repository,
	listingRepo domainListing.Repository,
	userRepo user.Repository,
	coordinator *exchange.Service,
	dispatcher notification.Dispatcher,
	clk clock.Clock,
	ttl time.Duration,
	maxCycleLen int,
	logger zerolog.Logger,
) *Service {
	// A zero TTL is honored as-is: such proposals expire immediately.
	if ttl < 0 {
		ttl = defaultTTL
	}
	if maxCycleLen < 2 {
		maxCycleLen = 4
	}
	return &Service{
		proposalRepo: proposalRepo,
		listingRepo:  listingRepo,
		userRepo:     userRepo,
		coordinator:  coordinator,
		dispatcher:   dispatcher,
		clk:          clk,
		ttl:          ttl,
		maxCycleLen:  maxCycleLen,
		logger:       logger.With().Str("service", "proposal").Logger(),
	}
}

// Propose wraps a cycle as a pending proposal. Every edge is re-checked
// against the current store: each listing must still be active, owned by
// the member the cycle names, and each hop must still be a genuine want
// edge.
func (s *Service) Propose(ctx context.Context, cycle domainProposal.Cycle) (*domainProposal.Proposal, error) {
	if err := cycle.Validate(s.maxCycleLen); err != nil {
		return nil, err
	}
	for _, h := range cycle.Hops {
		offered, err := s.listingRepo.GetByID(ctx, h.OfferedID)
		if err != nil {
			return nil, fmt.Errorf("offered listing %s: %w", h.OfferedID, err)
		}
		wanted, err := s.listingRepo.GetByID(ctx, h.WantedID)
		if err != nil {
			return nil, fmt.Errorf("wanted listing %s: %w", h.WantedID, err)
		}
		if offered.Status != domainListing.StatusActive || wanted.Status != domainListing.StatusActive {
			return nil, &domainProposal.ValidationError{Reason: "cycle references an inactive listing"}
		}
		if offered.Direction != domainListing.DirectionOffered || offered.OwnerID != h.GiverID {
			return nil, &domainProposal.ValidationError{Reason: "hop giver does not own the offered listing"}
		}
		if wanted.Direction != domainListing.DirectionWanted || wanted.OwnerID != h.ReceiverID {
			return nil, &domainProposal.ValidationError{Reason: "hop receiver does not own the wanted listing"}
		}
		ok, err := domainListing.Satisfies(offered, wanted, s.reputationOf(ctx, h.GiverID))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &domainProposal.ValidationError{Reason: "hop is no longer a valid want edge"}
		}
	}

	p := domainProposal.New(cycle, s.ttl, s.clk.Now())
	if err := s.proposalRepo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.notify(notification.KindProposalCreated, p)
	s.logger.Info().
		Str("proposal", p.ProposalID.String()).
		Int("hops", cycle.Length()).
		Msg("proposal created")
	return p, nil
}

// respondRetries bounds how often a response is replayed against a
// proposal that other participants are mutating concurrently.
const respondRetries = 5

// Respond records a participant's decision. A decline rejects the
// proposal immediately; the final accept hands it to the coordinator.
// Coordinator failures are recorded on the proposal, not returned to the
// responder, whose response itself succeeded.
//
// The write is a versioned compare-and-swap: when another participant's
// decision lands between our read and write, the decision is replayed
// against the fresh proposal, so a committed decline can never be
// overwritten by a slower accept.
func (s *Service) Respond(ctx context.Context, proposalID, memberID uuid.UUID, accept bool) (*domainProposal.Proposal, error) {
	var p *domainProposal.Proposal
	for attempt := 0; ; attempt++ {
		var err error
		p, err = s.proposalRepo.GetByID(ctx, proposalID)
		if err != nil {
			return nil, err
		}
		now := s.clk.Now()
		if p.State == domainProposal.StatePending && p.IsExpired(now) {
			if err := s.expire(ctx, p, now); err != nil {
				return nil, err
			}
			return nil, domainProposal.ErrExpired
		}
		if err := p.Respond(memberID, accept, now); err != nil {
			return nil, err
		}
		err = s.proposalRepo.Update(ctx, p)
		if err == nil {
			break
		}
		if !errors.Is(err, domainProposal.ErrStale) || attempt+1 >= respondRetries {
			return nil, err
		}
	}

	switch p.State {
	case domainProposal.StateRejected:
		s.notify(notification.KindProposalRejected, p)
	case domainProposal.StateAccepted:
		s.notify(notification.KindProposalAccepted, p)
		if s.coordinator != nil {
			if _, err := s.coordinator.Execute(ctx, p.ProposalID); err != nil {
				s.logger.Warn().
					Err(err).
					Str("proposal", p.ProposalID.String()).
					Msg("execution failed after unanimous accept")
			}
			return s.proposalRepo.GetByID(ctx, p.ProposalID)
		}
	}
	return p, nil
}

// Get returns a proposal by ID.
func (s *Service) Get(ctx context.Context, proposalID uuid.UUID) (*domainProposal.Proposal, error) {
	return s.proposalRepo.GetByID(ctx, proposalID)
}

// RejectForListing terminates every open proposal referencing the
// listing, symmetric to a decline. Called when an owner withdraws a
// listing mid-negotiation. Executing proposals are left alone; their
// coordinator already owns the outcome.
func (s *Service) RejectForListing(ctx context.Context, listingID uuid.UUID, reason string) error {
	open, err := s.proposalRepo.ListOpenByListing(ctx, listingID)
	if err != nil {
		return err
	}
	now := s.clk.Now()
	for _, p := range open {
		if p.State == domainProposal.StateExecuting {
			continue
		}
		if err := p.MarkRejected(reason, now); err != nil {
			continue
		}
		if err := s.proposalRepo.Update(ctx, p); err != nil {
			// A concurrent writer moved the proposal on; whatever state
			// it reached supersedes this rejection.
			if errors.Is(err, domainProposal.ErrStale) {
				continue
			}
			return err
		}
		s.notify(notification.KindProposalRejected, p)
	}
	return nil
}

// ExpireDue transitions every proposal past its TTL to Expired and
// releases any reserved listings back to Active. Returns how many
// proposals expired.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	now := s.clk.Now()
	due, err := s.proposalRepo.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, p := range due {
		if err := s.expire(ctx, p, now); err != nil {
			s.logger.Error().Err(err).Str("proposal", p.ProposalID.String()).Msg("expiry failed")
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) expire(ctx context.Context, p *domainProposal.Proposal, now time.Time) error {
	if err := p.MarkExpired(now); err != nil {
		if errors.Is(err, domainProposal.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	if err := s.proposalRepo.Update(ctx, p); err != nil {
		// The proposal moved since our read, typically into Executing;
		// the next sweep re-evaluates it from its current state.
		if errors.Is(err, domainProposal.ErrStale) {
			return nil
		}
		return err
	}
	s.releaseClaims(ctx, p)
	s.notify(notification.KindProposalExpired, p)
	return nil
}

// releaseClaims returns any listing the proposal had on soft hold to
// Active. Listings that were never claimed fail the CAS and are skipped.
func (s *Service) releaseClaims(ctx context.Context, p *domainProposal.Proposal) {
	for _, id := range p.Cycle.ListingIDs() {
		err := s.listingRepo.TransitionStatus(ctx, id, domainListing.StatusReserved, domainListing.StatusActive)
		if err != nil && !domainListing.IsConflict(err) && !errors.Is(err, domainListing.ErrNotFound) {
			s.logger.Warn().Err(err).Str("listing", id.String()).Msg("claim release failed")
		}
	}
}

// StartSweeper runs TTL expiry on a fixed interval until ctx is done.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := s.ExpireDue(ctx, batch); err != nil {
					s.logger.Error().Err(err).Msg("expiry sweep failed")
				} else if n > 0 {
					s.logger.Info().Int("expired", n).Msg("expired stale proposals")
				}
			}
		}
	}()
}

func (s *Service) reputationOf(ctx context.Context, memberID uuid.UUID) float64 {
	u, err := s.userRepo.GetByID(ctx, memberID)
	if err != nil {
		return 0
	}
	return u.Reputation
}

func (s *Service) notify(kind notification.Kind, p *domainProposal.Proposal) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(notification.NewEvent(kind, p.ProposalID, p.Cycle.Participants(), nil))
}
