package matching

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/barterhub/barterhub/internal/domain/listing"
	"github.com/barterhub/barterhub/internal/domain/proposal"
	"github.com/barterhub/barterhub/internal/domain/user"
)

const (
	defaultMaxCycleLen = 4
	defaultMaxResults  = 16
)

// Config bounds the cycle search.
type Config struct {
	// MaxCycleLen is K: the maximum number of hops in a cycle. Minimum 2.
	MaxCycleLen int
	// MaxResults caps how many cycles one search returns.
	MaxResults int
}

func (c Config) normalized() Config {
	if c.MaxCycleLen < 2 {
		c.MaxCycleLen = defaultMaxCycleLen
	}
	if c.MaxResults <= 0 {
		c.MaxResults = defaultMaxResults
	}
	return c
}

// Service builds the demand graph over active listings and searches it
// for bounded-length exchange cycles. Results are deterministic for a
// given store state: candidates are visited in creation order and cycles
// are returned shortest first.
type Service struct {
	listingRepo listing.Repository
	userRepo    user.Repository
	index       *Index
	cfg         Config
	logger      zerolog.Logger
}

// NewService creates a matching service.
func NewService(listingRepo listing.Repository, userRepo user.Repository, index *Index, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		listingRepo: listingRepo,
		userRepo:    userRepo,
		index:       index,
		cfg:         cfg.normalized(),
		logger:      logger.With().Str("service", "matching").Logger(),
	}
}

// MaxCycleLen exposes the configured bound K.
func (s *Service) MaxCycleLen() int {
	return s.cfg.MaxCycleLen
}

// CandidatesFor returns the out-edges of the demand graph for an offered
// listing: active WANTED listings of other members whose category and
// match predicate accept the offer, in creation order.
func (s *Service) CandidatesFor(ctx context.Context, offered *listing.Listing) ([]*listing.Listing, error) {
	search := s.newSearch(ctx)
	return search.candidatesFor(offered)
}

// FindCandidateCycles searches for exchange cycles through the seed
// listing. Each call rebuilds its view from the current store, so
// listings withdrawn since the last call never appear. The seed must be
// an OFFERED listing; a seed that is no longer active yields no cycles.
func (s *Service) FindCandidateCycles(ctx context.Context, seedListingID uuid.UUID) ([]proposal.Cycle, error) {
	seed, err := s.listingRepo.GetByID(ctx, seedListingID)
	if err != nil {
		return nil, err
	}
	if seed.Direction != listing.DirectionOffered {
		return nil, &listing.ValidationError{Field: "seedListingId", Reason: "seed must be an offered listing"}
	}
	if seed.Status != listing.StatusActive {
		return nil, nil
	}

	search := s.newSearch(ctx)
	search.seed = seed
	search.visited[seed.OwnerID] = true
	if err := search.extend(seed, nil); err != nil {
		return nil, err
	}

	cycles := search.cycles
	sort.SliceStable(cycles, func(i, j int) bool {
		if len(cycles[i].Hops) != len(cycles[j].Hops) {
			return len(cycles[i].Hops) < len(cycles[j].Hops)
		}
		return search.earliest(cycles[i]).Before(search.earliest(cycles[j]))
	})
	if len(cycles) > s.cfg.MaxResults {
		cycles = cycles[:s.cfg.MaxResults]
	}
	s.logger.Debug().
		Str("seed", seedListingID.String()).
		Int("cycles", len(cycles)).
		Msg("cycle search finished")
	return cycles, nil
}

// search holds per-call state: caches are never reused across calls so
// every search observes the current store.
type search struct {
	ctx     context.Context
	svc     *Service
	seed    *listing.Listing
	visited map[uuid.UUID]bool
	cycles  []proposal.Cycle

	reputations map[uuid.UUID]float64
	offeredBy   map[uuid.UUID][]*listing.Listing
	created     map[uuid.UUID]time.Time
}

func (s *Service) newSearch(ctx context.Context) *search {
	return &search{
		ctx:         ctx,
		svc:         s,
		visited:     make(map[uuid.UUID]bool),
		reputations: make(map[uuid.UUID]float64),
		offeredBy:   make(map[uuid.UUID][]*listing.Listing),
		created:     make(map[uuid.UUID]time.Time),
	}
}

// extend performs one DFS step from the current offered listing. path
// holds the hops taken so far; adding one more hop may close the ring
// back to the seed's owner or continue through an unvisited member.
func (s *search) extend(current *listing.Listing, path []proposal.Hop) error {
	if len(s.cycles) >= s.svc.cfg.MaxResults {
		return nil
	}
	candidates, err := s.candidatesFor(current)
	if err != nil {
		return err
	}
	for _, wanted := range candidates {
		hop := proposal.Hop{
			OfferedID:  current.ListingID,
			WantedID:   wanted.ListingID,
			GiverID:    current.OwnerID,
			ReceiverID: wanted.OwnerID,
		}
		if wanted.OwnerID == s.seed.OwnerID {
			if len(path)+1 >= 2 {
				cycle := proposal.Cycle{Hops: append(append([]proposal.Hop(nil), path...), hop)}
				s.cycles = append(s.cycles, cycle)
				if len(s.cycles) >= s.svc.cfg.MaxResults {
					return nil
				}
			}
			continue
		}
		// Depth bound: the closing hop still has to fit under K.
		if len(path)+2 >= s.svc.cfg.MaxCycleLen+1 {
			continue
		}
		if s.visited[wanted.OwnerID] {
			continue
		}
		offers, err := s.activeOffersOf(wanted.OwnerID)
		if err != nil {
			return err
		}
		if len(offers) == 0 {
			// A wanted-only member cannot continue the ring.
			continue
		}
		s.visited[wanted.OwnerID] = true
		for _, next := range offers {
			if err := s.extend(next, append(path, hop)); err != nil {
				return err
			}
		}
		delete(s.visited, wanted.OwnerID)
	}
	return nil
}

func (s *search) candidatesFor(offered *listing.Listing) ([]*listing.Listing, error) {
	rep, err := s.reputationOf(offered.OwnerID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool)
	var out []*listing.Listing
	for _, category := range offered.Categories {
		for _, id := range s.svc.index.WantedIDs(category) {
			if seen[id] {
				continue
			}
			seen[id] = true
			wanted, err := s.svc.listingRepo.GetByID(s.ctx, id)
			if err != nil {
				// The index lags the store; a vanished entry is stale,
				// not an error.
				continue
			}
			if wanted.Status != listing.StatusActive {
				continue
			}
			ok, err := listing.Satisfies(offered, wanted, rep)
			if err != nil {
				s.svc.logger.Warn().
					Str("wanted", wanted.ListingID.String()).
					Err(err).
					Msg("skipping listing with bad match expression")
				continue
			}
			if ok {
				s.created[wanted.ListingID] = wanted.CreatedAt
				out = append(out, wanted)
			}
		}
	}
	s.created[offered.ListingID] = offered.CreatedAt
	sortListings(out)
	return out, nil
}

func (s *search) activeOffersOf(ownerID uuid.UUID) ([]*listing.Listing, error) {
	if cached, ok := s.offeredBy[ownerID]; ok {
		return cached, nil
	}
	all, err := s.svc.listingRepo.ListByOwner(s.ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var offers []*listing.Listing
	for _, l := range all {
		if l.Direction == listing.DirectionOffered && l.Status == listing.StatusActive {
			s.created[l.ListingID] = l.CreatedAt
			offers = append(offers, l)
		}
	}
	sortListings(offers)
	s.offeredBy[ownerID] = offers
	return offers, nil
}

func (s *search) reputationOf(ownerID uuid.UUID) (float64, error) {
	if rep, ok := s.reputations[ownerID]; ok {
		return rep, nil
	}
	u, err := s.svc.userRepo.GetByID(s.ctx, ownerID)
	if err != nil {
		// An unknown owner matches only predicates that accept zero.
		s.reputations[ownerID] = 0
		return 0, nil
	}
	s.reputations[ownerID] = u.Reputation
	return u.Reputation, nil
}

// earliest returns the creation time of the oldest listing in the cycle,
// the deterministic tie-break between equal-length cycles.
func (s *search) earliest(c proposal.Cycle) time.Time {
	var min time.Time
	first := true
	for _, id := range c.ListingIDs() {
		created, ok := s.created[id]
		if !ok {
			continue
		}
		if first || created.Before(min) {
			min = created
			first = false
		}
	}
	return min
}

func sortListings(ls []*listing.Listing) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].CreatedAt.Equal(ls[j].CreatedAt) {
			return ls[i].ListingID.String() < ls[j].ListingID.String()
		}
		return ls[i].CreatedAt.Before(ls[j].CreatedAt)
	})
}
