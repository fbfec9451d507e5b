package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/barterhub/barterhub/internal/application/matching"
	domainListing "github.com/barterhub/barterhub/internal/domain/listing"
	domainProposal "github.com/barterhub/barterhub/internal/domain/proposal"
	domainTrade "github.com/barterhub/barterhub/internal/domain/trade"
	"github.com/barterhub/barterhub/internal/domain/notification"
	"github.com/barterhub/barterhub/internal/infrastructure/clock"
)

// InvariantViolation reports an internal consistency failure found
// during commit. It aborts the proposal and is surfaced to the error
// log, never silently swallowed.
type InvariantViolation struct {
	ProposalID uuid.UUID
	Detail     string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in proposal %s: %s", e.ProposalID, e.Detail)
}

// Service is the exchange coordinator: it commits accepted proposals
// atomically. Deadlock freedom comes from acquiring per-listing locks in
// one global canonical order (ascending listing ID); mutual exclusion
// comes from the listing store's compare-and-swap. Lock contention is
// never retried here: the loser fails fast and a later matching pass
// starts over on the current graph.
type Service struct {
	listingRepo  domainListing.Repository
	proposalRepo domainProposal.Repository
	tradeRepo    domainTrade.Repository
	index        *matching.Index
	dispatcher   notification.Dispatcher
	clk          clock.Clock
	logger       zerolog.Logger
}

// NewService creates an exchange coordinator.
func NewService(
	listingRepo domainListing.Repository,
	proposalRepo domainProposal.Repository,
	tradeRepo domainTrade.Repository,
	index *matching.Index,
	dispatcher notification.Dispatcher,
	clk clock.Clock,
	logger zerolog.Logger,
) *Service {
	return &Service{
		listingRepo:  listingRepo,
		proposalRepo: proposalRepo,
		tradeRepo:    tradeRepo,
		index:        index,
		dispatcher:   dispatcher,
		clk:          clk,
		logger:       logger.With().Str("service", "exchange").Logger(),
	}
}

// Execute commits an accepted proposal. Exactly one Execute wins a given
// proposal: the Accepted -> Executing hand-off is a conditional state
// update. On success every listing in the cycle is Completed and one
// trade is appended; on any failure all acquired locks unwind in reverse
// order and the proposal is Failed.
func (s *Service) Execute(ctx context.Context, proposalID uuid.UUID) (*domainTrade.Trade, error) {
	p, err := s.proposalRepo.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.proposalRepo.UpdateState(ctx, proposalID, domainProposal.StateAccepted, domainProposal.StateExecuting); err != nil {
		return nil, err
	}
	// Re-read after winning the hand-off so later conditional writes
	// carry the current version. From here this coordinator is the
	// proposal's only writer.
	p, err = s.proposalRepo.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	tr, execErr := s.commit(ctx, p)
	now := s.clk.Now()
	if execErr != nil {
		if markErr := p.MarkFailed(execErr.Error(), now); markErr == nil {
			if err := s.proposalRepo.Update(ctx, p); err != nil {
				s.logger.Error().Err(err).Str("proposal", proposalID.String()).Msg("failed to persist failed proposal")
			}
		}
		s.notify(notification.KindProposalFailed, p, nil)
		return nil, execErr
	}

	if err := p.MarkExecuted(now); err != nil {
		return nil, err
	}
	if err := s.proposalRepo.Update(ctx, p); err != nil {
		s.logger.Error().Err(err).Str("proposal", proposalID.String()).Msg("failed to persist executed proposal")
	}
	s.notify(notification.KindTradeExecuted, p, tr)
	s.logger.Info().
		Str("proposal", proposalID.String()).
		Str("trade", tr.TradeID.String()).
		Int("participants", len(tr.Participants)).
		Msg("trade executed")
	return tr, nil
}

// commit locks, verifies, swaps and records. Any error leaves the store
// as if the commit never started, apart from the proposal state handled
// by the caller.
func (s *Service) commit(ctx context.Context, p *domainProposal.Proposal) (*domainTrade.Trade, error) {
	ids := canonicalOrder(p.Cycle)

	locked := make([]uuid.UUID, 0, len(ids))
	unwind := func() {
		for i := len(locked) - 1; i >= 0; i-- {
			if err := s.listingRepo.TransitionStatus(ctx, locked[i], domainListing.StatusLocked, domainListing.StatusActive); err != nil {
				s.logger.Error().Err(err).Str("listing", locked[i].String()).Msg("rollback failed")
			} else {
				s.applyIndex(ctx, locked[i])
			}
		}
	}

	for _, id := range ids {
		if err := s.listingRepo.TransitionStatus(ctx, id, domainListing.StatusActive, domainListing.StatusLocked); err != nil {
			unwind()
			return nil, fmt.Errorf("claim listing %s: %w", id, err)
		}
		locked = append(locked, id)
		s.applyIndex(ctx, id)
	}

	// Ownership check before the swap: every giver must still own the
	// offered listing it brings to the ring.
	exchanges := make([]domainTrade.Exchange, 0, len(p.Cycle.Hops))
	for _, h := range p.Cycle.Hops {
		offered, err := s.listingRepo.GetByID(ctx, h.OfferedID)
		if err != nil {
			unwind()
			return nil, err
		}
		if offered.OwnerID != h.GiverID {
			unwind()
			return nil, &InvariantViolation{ProposalID: p.ProposalID, Detail: "offered listing changed owner"}
		}
		exchanges = append(exchanges, domainTrade.Exchange{
			OfferedID:  h.OfferedID,
			WantedID:   h.WantedID,
			GiverID:    h.GiverID,
			ReceiverID: h.ReceiverID,
		})
	}

	for _, id := range ids {
		if err := s.listingRepo.TransitionStatus(ctx, id, domainListing.StatusLocked, domainListing.StatusCompleted); err != nil {
			// Listings are locked by us; a failure here is internal.
			unwind()
			return nil, &InvariantViolation{ProposalID: p.ProposalID, Detail: "locked listing refused completion: " + err.Error()}
		}
		s.applyIndex(ctx, id)
	}

	tr := domainTrade.New(p.ProposalID, exchanges, s.clk.Now())
	if _, err := s.tradeRepo.Append(ctx, tr); err != nil {
		// Listings are already Completed; a lost trade record is an
		// internal consistency failure, not a recoverable conflict.
		return nil, &InvariantViolation{ProposalID: p.ProposalID, Detail: "append trade: " + err.Error()}
	}
	return tr, nil
}

// History returns the trades a member took part in, newest last.
func (s *Service) History(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*domainTrade.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.tradeRepo.ListByUser(ctx, memberID, limit, offset)
}

// VerifyLedger recomputes the trade ledger hash chain.
func (s *Service) VerifyLedger(ctx context.Context) error {
	entries, err := s.tradeRepo.ListEntries(ctx, 0, 0)
	if err != nil {
		return err
	}
	trades := make([]*domainTrade.Trade, 0, len(entries))
	for _, e := range entries {
		id, err := uuid.Parse(e.TradeID)
		if err != nil {
			return err
		}
		tr, err := s.tradeRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		trades = append(trades, tr)
	}
	return domainTrade.VerifyChain(entries, trades)
}

func (s *Service) applyIndex(ctx context.Context, listingID uuid.UUID) {
	if s.index == nil {
		return
	}
	l, err := s.listingRepo.GetByID(ctx, listingID)
	if err != nil {
		return
	}
	s.index.Apply(l)
}

func (s *Service) notify(kind notification.Kind, p *domainProposal.Proposal, tr *domainTrade.Trade) {
	if s.dispatcher == nil {
		return
	}
	var payload json.RawMessage
	if tr != nil {
		if data, err := json.Marshal(tr); err == nil {
			payload = data
		}
	}
	s.dispatcher.Dispatch(notification.NewEvent(kind, p.ProposalID, p.Cycle.Participants(), payload))
}

// canonicalOrder sorts the cycle's listing IDs into the single global
// lock order every coordinator uses. Two coordinators contending for
// overlapping cycles therefore never form a cycle of waits.
func canonicalOrder(c domainProposal.Cycle) []uuid.UUID {
	ids := c.ListingIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
