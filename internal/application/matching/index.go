package matching

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/barterhub/barterhub/internal/domain/listing"
)

// Index is the preference index: category tag to the sets of active
// WANTED and OFFERED listing IDs. It is advisory only: candidate
// generation reads it, but commit decisions always go back to the
// listing store's CAS. Safe for concurrent readers while updates apply.
type Index struct {
	mu      sync.RWMutex
	wanted  map[string]map[uuid.UUID]bool
	offered map[string]map[uuid.UUID]bool
}

func NewIndex() *Index {
	return &Index{
		wanted:  make(map[string]map[uuid.UUID]bool),
		offered: make(map[string]map[uuid.UUID]bool),
	}
}

// Apply synchronizes the index with a listing's current state: active
// listings are inserted under each category, everything else is removed.
// The listing service calls this eagerly on every status change.
func (ix *Index) Apply(l *listing.Listing) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	buckets := ix.offered
	if l.Direction == listing.DirectionWanted {
		buckets = ix.wanted
	}
	for _, c := range l.Categories {
		set, ok := buckets[c]
		if l.Status != listing.StatusActive {
			if ok {
				delete(set, l.ListingID)
				if len(set) == 0 {
					delete(buckets, c)
				}
			}
			continue
		}
		if !ok {
			set = make(map[uuid.UUID]bool)
			buckets[c] = set
		}
		set[l.ListingID] = true
	}
}

// WantedIDs returns the wanted listing IDs under a category, sorted for
// deterministic traversal.
func (ix *Index) WantedIDs(category string) []uuid.UUID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return sortedIDs(ix.wanted[category])
}

// OfferedIDs returns the offered listing IDs under a category, sorted.
func (ix *Index) OfferedIDs(category string) []uuid.UUID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return sortedIDs(ix.offered[category])
}

// Rebuild repopulates the index from scratch. Used at startup when the
// listing store is durable and the index is not.
func (ix *Index) Rebuild(listings []*listing.Listing) {
	ix.mu.Lock()
	ix.wanted = make(map[string]map[uuid.UUID]bool)
	ix.offered = make(map[string]map[uuid.UUID]bool)
	ix.mu.Unlock()
	for _, l := range listings {
		ix.Apply(l)
	}
}

func sortedIDs(set map[uuid.UUID]bool) []uuid.UUID {
	if len(set) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
