package proposal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barterhub/barterhub/internal/application/exchange"
	"github.com/barterhub/barterhub/internal/application/matching"
	domainListing "github.com/barterhub/barterhub/internal/domain/listing"
	"github.com/barterhub/barterhub/internal/domain/notification"
	domainProposal "github.com/barterhub/barterhub/internal/domain/proposal"
	"github.com/barterhub/barterhub/internal/domain/user"
	"github.com/barterhub/barterhub/internal/infrastructure/clock"
	"github.com/barterhub/barterhub/internal/infrastructure/memstore"
)

// recorder captures dispatched events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []*notification.Event
}

func (r *recorder) Dispatch(e *notification.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []notification.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	ctx       context.Context
	users     *memstore.UserRepository
	listings  *memstore.ListingRepository
	proposals *memstore.ProposalRepository
	trades    *memstore.TradeRepository
	clk       *clock.Fake
	events    *recorder
	svc       *Service
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		ctx:       context.Background(),
		users:     memstore.NewUserRepository(),
		listings:  memstore.NewListingRepository(),
		proposals: memstore.NewProposalRepository(),
		trades:    memstore.NewTradeRepository(),
		clk:       clock.NewFake(time.Now()),
		events:    &recorder{},
	}
	coordinator := exchange.NewService(f.listings, f.proposals, f.trades, matching.NewIndex(), f.events, f.clk, zerolog.Nop())
	f.svc = NewService(f.proposals, f.listings, f.users, coordinator, f.events, f.clk, ttl, 4, zerolog.Nop())
	return f
}

func (f *fixture) member(t *testing.T, name string) *user.User {
	t.Helper()
	u := user.NewUser(name, name)
	require.NoError(t, f.users.Create(f.ctx, u))
	return u
}

func (f *fixture) listing(t *testing.T, owner uuid.UUID, dir domainListing.Direction, category string) *domainListing.Listing {
	t.Helper()
	l, err := domainListing.New(owner, dir, []string{category}, "")
	require.NoError(t, err)
	require.NoError(t, f.listings.Create(f.ctx, l))
	return l
}

// directSwap sets up a valid two-party ring between fresh members.
func (f *fixture) directSwap(t *testing.T) domainProposal.Cycle {
	t.Helper()
	u1 := f.member(t, "alice"+uuid.NewString()[:8])
	u2 := f.member(t, "bob"+uuid.NewString()[:8])
	a := f.listing(t, u1.UserID, domainListing.DirectionOffered, "book")
	wa := f.listing(t, u2.UserID, domainListing.DirectionWanted, "book")
	b := f.listing(t, u2.UserID, domainListing.DirectionOffered, "guitar")
	wb := f.listing(t, u1.UserID, domainListing.DirectionWanted, "guitar")
	return domainProposal.Cycle{Hops: []domainProposal.Hop{
		{OfferedID: a.ListingID, WantedID: wa.ListingID, GiverID: u1.UserID, ReceiverID: u2.UserID},
		{OfferedID: b.ListingID, WantedID: wb.ListingID, GiverID: u2.UserID, ReceiverID: u1.UserID},
	}}
}

func TestProposeCreatesPending(t *testing.T) {
	f := newFixture(t, time.Hour)
	cycle := f.directSwap(t)

	p, err := f.svc.Propose(f.ctx, cycle)
	require.NoError(t, err)
	assert.Equal(t, domainProposal.StatePending, p.State)
	assert.Len(t, p.Acceptance, 2)
	for _, d := range p.Acceptance {
		assert.Equal(t, domainProposal.DecisionPending, d)
	}
	assert.Equal(t, f.clk.Now().Add(time.Hour), p.ExpiresAt)
	assert.Contains(t, f.events.kinds(), notification.KindProposalCreated)
}

func TestProposeRejectsInactiveListing(t *testing.T) {
	f := newFixture(t, time.Hour)
	cycle := f.directSwap(t)

	require.NoError(t, f.listings.TransitionStatus(f.ctx, cycle.Hops[0].OfferedID, domainListing.StatusActive, domainListing.StatusWithdrawn))

	_, err := f.svc.Propose(f.ctx, cycle)
	var verr *domainProposal.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestProposeRejectsForgedOwnership(t *testing.T) {
	f := newFixture(t, time.Hour)
	cycle := f.directSwap(t)
	forged := uuid.New()
	cycle.Hops[0].GiverID = forged
	cycle.Hops[1].ReceiverID = forged

	_, err := f.svc.Propose(f.ctx, cycle)
	require.Error(t, err)
}

func TestProposeRejectsOversizedCycle(t *testing.T) {
	f := newFixture(t, time.Hour)
	hops := make([]domainProposal.Hop, 0, 5)
	members := make([]uuid.UUID, 6)
	for i := range members {
		members[i] = uuid.New()
	}
	members[5] = members[0]
	for i := 0; i < 5; i++ {
		hops = append(hops, domainProposal.Hop{
			OfferedID:  uuid.New(),
			WantedID:   uuid.New(),
			GiverID:    members[i],
			ReceiverID: members[i+1],
		})
	}

	_, err := f.svc.Propose(f.ctx, domainProposal.Cycle{Hops: hops})
	var tooLong *domainProposal.CycleTooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, 5, tooLong.Length)
	assert.Equal(t, 4, tooLong.Max)
}

func TestRespondDeclineRejectsImmediately(t *testing.T) {
	f := newFixture(t, time.Hour)
	cycle := f.directSwap(t)
	p, err := f.svc.Propose(f.ctx, cycle)
	require.NoError(t, err)

	got, err := f.svc.Respond(f.ctx, p.ProposalID, cycle.Hops[1].GiverID, false)
	require.NoError(t, err)
	assert.Equal(t, domainProposal.StateRejected, got.State)
	assert.Contains(t, f.events.kinds(), notification.KindProposalRejected)

	// The other participant can no longer respond.
	_, err = f.svc.Respond(f.ctx, p.ProposalID, cycle.Hops[0].GiverID, true)
	require.ErrorIs(t, err, domainProposal.ErrProposalClosed)
}

func TestRespondFinalAcceptExecutes(t *testing.T) {
	f := newFixture(t, time.Hour)
	cycle := f.directSwap(t)
	p, err := f.svc.Propose(f.ctx, cycle)
	require.NoError(t, err)

	mid, err := f.svc.Respond(f.ctx, p.ProposalID, cycle.Hops[0].GiverID, true)
	require.NoError(t, err)
	assert.Equal(t, domainProposal.StatePending, mid.State)

	done, err := f.svc.Respond(f.ctx, p.ProposalID, cycle.Hops[1].GiverID, true)
	require.NoError(t, err)
	assert.Equal(t, domainProposal.StateExecuted, done.State)

	for _, id := range cycle.ListingIDs() {
		l, err := f.listings.GetByID(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domainListing.StatusCompleted, l.Status)
	}

	trades, err := f.trades.List(f.ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Contains(t, f.events.kinds(), notification.KindTradeExecuted)
}

func TestRespondAcceptSurvivesExecutionFailure(t *testing.T) {
	f := newFixture(t, time.Hour)
	cycle := f.directSwap(t)
	p, err := f.svc.Propose(f.ctx, cycle)
	require.NoError(t, err)

	// Sabotage the commit: withdraw a listing after acceptance started.
	require.NoError(t, f.listings.TransitionStatus(f.ctx, cycle.Hops[0].OfferedID, domainListing.StatusActive, domainListing.StatusWithdrawn))

	_, err = f.svc.Respond(f.ctx, p.ProposalID, cycle.Hops[0].GiverID, true)
	require.NoError(t, err)
	done, err := f.svc.Respond(f.ctx, p.ProposalID, cycle.Hops[1].GiverID, true)
	require.NoError(t, err, "the response itself succeeds even when execution fails")
	assert.Equal(t, domainProposal.StateFailed, done.State)
	assert.Contains(t, f.events.kinds(), notification.KindProposalFailed)
}

func TestRespondOnNonParticipant(t *testing.T) {
	f := newFixture(t, time.Hour)
	p, err := f.svc.Propose(f.ctx, f.directSwap(t))
	require.NoError(t, err)

	_, err = f.svc.Respond(f.ctx, p.ProposalID, uuid.New(), true)
	require.ErrorIs(t, err, domainProposal.ErrNotParticipant)
}

func TestRespondAfterTTLExpires(t *testing.T) {
	f := newFixture(t, time.Hour)
	cycle := f.directSwap(t)
	p, err := f.svc.Propose(f.ctx, cycle)
	require.NoError(t, err)

	f.clk.Advance(2 * time.Hour)

	_, err = f.svc.Respond(f.ctx, p.ProposalID, cycle.Hops[0].GiverID, true)
	require.ErrorIs(t, err, domainProposal.ErrExpired)

	stored, err := f.proposals.GetByID(f.ctx, p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, domainProposal.StateExpired, stored.State)
	assert.Contains(t, f.events.kinds(), notification.KindProposalExpired)
}

// A zero TTL means the proposal is expired the moment anyone looks at it.
func TestZeroTTLExpiresImmediately(t *testing.T) {
	f := newFixture(t, 0)
	cycle := f.directSwap(t)
	p, err := f.svc.Propose(f.ctx, cycle)
	require.NoError(t, err)

	f.clk.Advance(time.Nanosecond)

	_, err = f.svc.Respond(f.ctx, p.ProposalID, cycle.Hops[0].GiverID, true)
	require.ErrorIs(t, err, domainProposal.ErrExpired)
}

func TestExpireDueReleasesReservedListings(t *testing.T) {
	f := newFixture(t, time.Minute)
	cycle := f.directSwap(t)
	p, err := f.svc.Propose(f.ctx, cycle)
	require.NoError(t, err)

	// Owners put two of the listings on soft hold while deliberating.
	held := []uuid.UUID{cycle.Hops[0].OfferedID, cycle.Hops[1].OfferedID}
	for _, id := range held {
		require.NoError(t, f.listings.TransitionStatus(f.ctx, id, domainListing.StatusActive, domainListing.StatusReserved))
	}

	f.clk.Advance(2 * time.Minute)

	n, err := f.svc.ExpireDue(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.proposals.GetByID(f.ctx, p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, domainProposal.StateExpired, stored.State)

	for _, id := range cycle.ListingIDs() {
		l, err := f.listings.GetByID(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domainListing.StatusActive, l.Status)
	}
}

func TestExpireDueSkipsLiveProposals(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, err := f.svc.Propose(f.ctx, f.directSwap(t))
	require.NoError(t, err)

	n, err := f.svc.ExpireDue(f.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRejectForListing(t *testing.T) {
	f := newFixture(t, time.Hour)
	cycle := f.directSwap(t)
	p, err := f.svc.Propose(f.ctx, cycle)
	require.NoError(t, err)

	withdrawn := cycle.Hops[0].OfferedID
	require.NoError(t, f.svc.RejectForListing(f.ctx, withdrawn, "listing withdrawn"))

	stored, err := f.proposals.GetByID(f.ctx, p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, domainProposal.StateRejected, stored.State)
	assert.Equal(t, "listing withdrawn", stored.Reason)
}

func TestRejectForListingLeavesExecutingAlone(t *testing.T) {
	f := newFixture(t, time.Hour)
	cycle := f.directSwap(t)
	p, err := f.svc.Propose(f.ctx, cycle)
	require.NoError(t, err)

	require.NoError(t, f.proposals.UpdateState(f.ctx, p.ProposalID, domainProposal.StatePending, domainProposal.StateAccepted))
	require.NoError(t, f.proposals.UpdateState(f.ctx, p.ProposalID, domainProposal.StateAccepted, domainProposal.StateExecuting))

	require.NoError(t, f.svc.RejectForListing(f.ctx, cycle.Hops[0].OfferedID, "listing withdrawn"))

	stored, err := f.proposals.GetByID(f.ctx, p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, domainProposal.StateExecuting, stored.State)
}

// stepRepo wraps a proposal repository and runs a one-shot callback
// right before an Update reaches the store, so a test can interleave a
// competing writer between a caller's read and its write.
type stepRepo struct {
	domainProposal.Repository
	mu           sync.Mutex
	beforeUpdate func()
}

func (r *stepRepo) Update(ctx context.Context, p *domainProposal.Proposal) error {
	r.mu.Lock()
	hook := r.beforeUpdate
	r.beforeUpdate = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return r.Repository.Update(ctx, p)
}

func TestRespondDeclineWinsOverSlowerAccept(t *testing.T) {
	f := newFixture(t, time.Hour)
	cycle := f.directSwap(t)
	p, err := f.svc.Propose(f.ctx, cycle)
	require.NoError(t, err)

	accepter := cycle.Hops[0].GiverID
	decliner := cycle.Hops[1].GiverID

	// The accepter reads the pending proposal; a decline commits before
	// the accepter's write lands. The rejection must stick.
	repo := &stepRepo{Repository: f.proposals}
	coordinator := exchange.NewService(f.listings, f.proposals, f.trades, matching.NewIndex(), f.events, f.clk, zerolog.Nop())
	svc := NewService(repo, f.listings, f.users, coordinator, f.events, f.clk, time.Hour, 4, zerolog.Nop())
	repo.beforeUpdate = func() {
		_, err := f.svc.Respond(f.ctx, p.ProposalID, decliner, false)
		require.NoError(t, err)
	}

	_, err = svc.Respond(f.ctx, p.ProposalID, accepter, true)
	require.ErrorIs(t, err, domainProposal.ErrProposalClosed)

	stored, err := f.proposals.GetByID(f.ctx, p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, domainProposal.StateRejected, stored.State)
	assert.Equal(t, domainProposal.DecisionDeclined, stored.Acceptance[decliner])
	assert.Equal(t, domainProposal.DecisionPending, stored.Acceptance[accepter])
}

func TestExpireDueLeavesExecutingProposalAlone(t *testing.T) {
	f := newFixture(t, time.Minute)
	cycle := f.directSwap(t)
	p, err := f.svc.Propose(f.ctx, cycle)
	require.NoError(t, err)

	repo := &stepRepo{Repository: f.proposals}
	svc := NewService(repo, f.listings, f.users, nil, f.events, f.clk, time.Minute, 4, zerolog.Nop())

	// The sweeper reads the overdue proposal; before its write lands the
	// coordinator hand-off moves the proposal into Executing.
	repo.beforeUpdate = func() {
		require.NoError(t, f.proposals.UpdateState(f.ctx, p.ProposalID, domainProposal.StatePending, domainProposal.StateAccepted))
		require.NoError(t, f.proposals.UpdateState(f.ctx, p.ProposalID, domainProposal.StateAccepted, domainProposal.StateExecuting))
	}
	f.clk.Advance(2 * time.Minute)
	_, err = svc.ExpireDue(f.ctx, 10)
	require.NoError(t, err)

	stored, err := f.proposals.GetByID(f.ctx, p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, domainProposal.StateExecuting, stored.State)
}
