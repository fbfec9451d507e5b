package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/barterhub/barterhub/internal/domain/listing"
	"github.com/barterhub/barterhub/internal/domain/proposal"
	"github.com/barterhub/barterhub/internal/domain/trade"
)

func newActiveListing(t *testing.T, owner uuid.UUID, categories ...string) *listing.Listing {
	t.Helper()
	l, err := listing.New(owner, listing.DirectionOffered, categories, "")
	if err != nil {
		t.Fatalf("new listing: %v", err)
	}
	return l
}

func TestTransitionStatusCAS(t *testing.T) {
	ctx := context.Background()
	repo := NewListingRepository()
	l := newActiveListing(t, uuid.New(), "book")
	if err := repo.Create(ctx, l); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.TransitionStatus(ctx, uuid.New(), listing.StatusActive, listing.StatusLocked); !errors.Is(err, listing.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := repo.TransitionStatus(ctx, l.ListingID, listing.StatusActive, listing.StatusLocked); err != nil {
		t.Fatalf("lock: %v", err)
	}

	err := repo.TransitionStatus(ctx, l.ListingID, listing.StatusActive, listing.StatusLocked)
	var conflict *listing.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError on second lock, got %v", err)
	}
	if conflict.Actual != listing.StatusLocked {
		t.Fatalf("expected conflict to report LOCKED, got %s", conflict.Actual)
	}

	// Locked -> Withdrawn is not in the allowed transition set.
	err = repo.TransitionStatus(ctx, l.ListingID, listing.StatusLocked, listing.StatusWithdrawn)
	var invalid *listing.ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError for disallowed transition, got %v", err)
	}

	if err := repo.TransitionStatus(ctx, l.ListingID, listing.StatusLocked, listing.StatusActive); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	got, err := repo.GetByID(ctx, l.ListingID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != listing.StatusActive {
		t.Fatalf("expected rollback to ACTIVE, got %s", got.Status)
	}
}

func TestTransitionStatusSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewListingRepository()
	l := newActiveListing(t, uuid.New(), "book")
	if err := repo.Create(ctx, l); err != nil {
		t.Fatalf("create: %v", err)
	}

	const contenders = 32
	var wg sync.WaitGroup
	wins := make(chan int, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := repo.TransitionStatus(ctx, l.ListingID, listing.StatusActive, listing.StatusLocked); err == nil {
				wins <- n
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one CAS winner, got %d", count)
	}
}

func TestListActiveByCategory(t *testing.T) {
	ctx := context.Background()
	repo := NewListingRepository()
	owner := uuid.New()

	a := newActiveListing(t, owner, "book", "novel")
	b := newActiveListing(t, owner, "plant")
	withdrawn := newActiveListing(t, owner, "book")
	for _, l := range []*listing.Listing{a, b, withdrawn} {
		if err := repo.Create(ctx, l); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := repo.TransitionStatus(ctx, withdrawn.ListingID, listing.StatusActive, listing.StatusWithdrawn); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	books, err := repo.ListActiveByCategory(ctx, "book")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(books) != 1 || books[0].ListingID != a.ListingID {
		t.Fatalf("expected only the active book listing, got %d", len(books))
	}
}

func TestProposalUpdateState(t *testing.T) {
	ctx := context.Background()
	repo := NewProposalRepository()
	u1, u2 := uuid.New(), uuid.New()
	cycle := proposal.Cycle{Hops: []proposal.Hop{
		{OfferedID: uuid.New(), WantedID: uuid.New(), GiverID: u1, ReceiverID: u2},
		{OfferedID: uuid.New(), WantedID: uuid.New(), GiverID: u2, ReceiverID: u1},
	}}
	p := proposal.New(cycle, time.Minute, time.Now().UTC())
	p.State = proposal.StateAccepted
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.UpdateState(ctx, p.ProposalID, proposal.StateAccepted, proposal.StateExecuting); err != nil {
		t.Fatalf("first hand-off: %v", err)
	}
	// Second hand-off must observe the state change and refuse.
	if err := repo.UpdateState(ctx, p.ProposalID, proposal.StateAccepted, proposal.StateExecuting); !errors.Is(err, proposal.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on duplicate hand-off, got %v", err)
	}

	open, err := repo.ListOpenByListing(ctx, cycle.Hops[0].OfferedID)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one open proposal for listing, got %d", len(open))
	}
}

func TestTradeAppendAndLedger(t *testing.T) {
	ctx := context.Background()
	repo := NewTradeRepository()
	u1, u2 := uuid.New(), uuid.New()

	first := trade.New(uuid.New(), []trade.Exchange{
		{OfferedID: uuid.New(), WantedID: uuid.New(), GiverID: u1, ReceiverID: u2},
		{OfferedID: uuid.New(), WantedID: uuid.New(), GiverID: u2, ReceiverID: u1},
	}, time.Now().UTC())
	e1, err := repo.Append(ctx, first)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e1.Seq != 1 || e1.PrevHash != trade.GenesisHash {
		t.Fatalf("expected genesis-chained entry, got seq=%d prev=%q", e1.Seq, e1.PrevHash)
	}

	latest, err := repo.LatestEntry(ctx)
	if err != nil || latest == nil || latest.Seq != 1 {
		t.Fatalf("expected latest entry seq 1, got %v err=%v", latest, err)
	}

	mine, err := repo.ListByUser(ctx, u1, 10, 0)
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected one trade for participant, got %d err=%v", len(mine), err)
	}
	none, err := repo.ListByUser(ctx, uuid.New(), 10, 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no trades for stranger, got %d err=%v", len(none), err)
	}
}
