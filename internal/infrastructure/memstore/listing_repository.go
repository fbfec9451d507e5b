package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barterhub/barterhub/internal/domain/listing"
)

// ListingRepository is an in-memory listing.Repository. The mutex around
// TransitionStatus makes the conditional update atomic; it is the only
// synchronization point the engine relies on.
type ListingRepository struct {
	mu       sync.RWMutex
	nextID   int64
	listings map[uuid.UUID]*listing.Listing
}

func NewListingRepository() *ListingRepository {
	return &ListingRepository{listings: make(map[uuid.UUID]*listing.Listing)}
}

func (r *ListingRepository) Create(ctx context.Context, l *listing.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	stored := cloneListing(l)
	stored.ID = r.nextID
	r.listings[l.ListingID] = stored
	l.ID = stored.ID
	return nil
}

func (r *ListingRepository) GetByID(ctx context.Context, listingID uuid.UUID) (*listing.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listings[listingID]
	if !ok {
		return nil, listing.ErrNotFound
	}
	return cloneListing(l), nil
}

func (r *ListingRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*listing.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*listing.Listing
	for _, l := range r.listings {
		if l.OwnerID == ownerID {
			out = append(out, cloneListing(l))
		}
	}
	sortByCreation(out)
	return out, nil
}

func (r *ListingRepository) ListActiveByCategory(ctx context.Context, category string) ([]*listing.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*listing.Listing
	for _, l := range r.listings {
		if l.Status != listing.StatusActive {
			continue
		}
		for _, c := range l.Categories {
			if c == category {
				out = append(out, cloneListing(l))
				break
			}
		}
	}
	sortByCreation(out)
	return out, nil
}

func (r *ListingRepository) ListByStatus(ctx context.Context, status listing.Status, limit int) ([]*listing.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*listing.Listing
	for _, l := range r.listings {
		if l.Status == status {
			out = append(out, cloneListing(l))
		}
	}
	sortByCreation(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ListingRepository) TransitionStatus(ctx context.Context, listingID uuid.UUID, expected, next listing.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[listingID]
	if !ok {
		return listing.ErrNotFound
	}
	if l.Status != expected {
		return &listing.ConflictError{ListingID: listingID, Expected: expected, Actual: l.Status}
	}
	if !l.CanTransitionTo(next) {
		return &listing.ValidationError{Field: "status", Reason: string(expected) + " -> " + string(next) + " is not allowed"}
	}
	l.Status = next
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneListing(l *listing.Listing) *listing.Listing {
	c := *l
	c.Categories = append([]string(nil), l.Categories...)
	return &c
}

func sortByCreation(ls []*listing.Listing) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].CreatedAt.Equal(ls[j].CreatedAt) {
			return ls[i].ListingID.String() < ls[j].ListingID.String()
		}
		return ls[i].CreatedAt.Before(ls[j].CreatedAt)
	})
}
