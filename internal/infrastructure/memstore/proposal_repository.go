package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barterhub/barterhub/internal/domain/proposal"
)

// ProposalRepository is an in-memory proposal.Repository.
type ProposalRepository struct {
	mu        sync.RWMutex
	nextID    int64
	proposals map[uuid.UUID]*proposal.Proposal
}

func NewProposalRepository() *ProposalRepository {
	return &ProposalRepository{proposals: make(map[uuid.UUID]*proposal.Proposal)}
}

func (r *ProposalRepository) Create(ctx context.Context, p *proposal.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	stored := cloneProposal(p)
	stored.ID = r.nextID
	r.proposals[p.ProposalID] = stored
	p.ID = stored.ID
	return nil
}

func (r *ProposalRepository) GetByID(ctx context.Context, proposalID uuid.UUID) (*proposal.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proposals[proposalID]
	if !ok {
		return nil, proposal.ErrNotFound
	}
	return cloneProposal(p), nil
}

// Update is a versioned compare-and-swap: a write built from a stale
// read returns ErrStale and leaves the stored proposal untouched.
func (r *ProposalRepository) Update(ctx context.Context, p *proposal.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.proposals[p.ProposalID]
	if !ok {
		return proposal.ErrNotFound
	}
	if stored.Version != p.Version {
		return proposal.ErrStale
	}
	updated := cloneProposal(p)
	updated.ID = stored.ID
	updated.Version = stored.Version + 1
	r.proposals[p.ProposalID] = updated
	p.Version = updated.Version
	return nil
}

func (r *ProposalRepository) UpdateState(ctx context.Context, proposalID uuid.UUID, expected, next proposal.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[proposalID]
	if !ok {
		return proposal.ErrNotFound
	}
	if p.State != expected {
		return proposal.ErrInvalidTransition
	}
	if !p.CanTransitionTo(next) {
		return proposal.ErrInvalidTransition
	}
	p.State = next
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *ProposalRepository) ListByState(ctx context.Context, state proposal.State, limit int) ([]*proposal.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*proposal.Proposal
	for _, p := range r.proposals {
		if p.State == state {
			out = append(out, cloneProposal(p))
		}
	}
	sortProposals(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ProposalRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*proposal.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*proposal.Proposal
	for _, p := range r.proposals {
		if !p.IsTerminal() && p.State != proposal.StateExecuting && p.IsExpired(now) {
			out = append(out, cloneProposal(p))
		}
	}
	sortProposals(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ProposalRepository) ListOpenByListing(ctx context.Context, listingID uuid.UUID) ([]*proposal.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*proposal.Proposal
	for _, p := range r.proposals {
		if p.IsTerminal() {
			continue
		}
		for _, id := range p.Cycle.ListingIDs() {
			if id == listingID {
				out = append(out, cloneProposal(p))
				break
			}
		}
	}
	sortProposals(out)
	return out, nil
}

func cloneProposal(p *proposal.Proposal) *proposal.Proposal {
	c := *p
	c.Acceptance = make(map[uuid.UUID]proposal.Decision, len(p.Acceptance))
	for k, v := range p.Acceptance {
		c.Acceptance[k] = v
	}
	c.Cycle.Hops = append([]proposal.Hop(nil), p.Cycle.Hops...)
	return &c
}

func sortProposals(ps []*proposal.Proposal) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ProposalID.String() < ps[j].ProposalID.String()
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}
