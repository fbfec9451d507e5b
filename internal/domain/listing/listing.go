package listing

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction distinguishes what a listing represents for its owner.
type Direction string

const (
	DirectionOffered Direction = "OFFERED"
	DirectionWanted  Direction = "WANTED"
)

// Status represents listing status.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusReserved  Status = "RESERVED"
	StatusLocked    Status = "LOCKED"
	StatusCompleted Status = "COMPLETED"
	StatusWithdrawn Status = "WITHDRAWN"
)

// Listing represents one offer or want published by a member. The engine
// reads ownership and mutates status only; content is owned by the member.
type Listing struct {
	ID          int64     `json:"id"`
	ListingID   uuid.UUID `json:"listingId"`
	OwnerID     uuid.UUID `json:"ownerId"`
	Direction   Direction `json:"direction"`
	Categories  []string  `json:"categories"`
	Description string    `json:"description"`
	// MatchExpr optionally narrows a WANTED listing beyond category
	// overlap, e.g. "reputation >= 2.0 && category == 'book'". Empty
	// means any category match is acceptable.
	MatchExpr string    `json:"matchExpr,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New creates an active listing owned by the given member.
func New(ownerID uuid.UUID, direction Direction, categories []string, description string) (*Listing, error) {
	if ownerID == uuid.Nil {
		return nil, &ValidationError{Field: "ownerId", Reason: "owner is required"}
	}
	if err := ValidateDirection(direction); err != nil {
		return nil, err
	}
	normalized, err := NormalizeCategories(categories)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Listing{
		ListingID:   uuid.New(),
		OwnerID:     ownerID,
		Direction:   direction,
		Categories:  normalized,
		Description: strings.TrimSpace(description),
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CanTransitionTo validates a listing status transition. Locked listings
// may return to Active only through coordinator rollback.
func (l *Listing) CanTransitionTo(target Status) bool {
	return canTransition(l.Status, target)
}

func canTransition(from, to Status) bool {
	transitions := map[Status][]Status{
		StatusActive:    {StatusReserved, StatusLocked, StatusWithdrawn},
		StatusReserved:  {StatusLocked, StatusActive, StatusWithdrawn},
		StatusLocked:    {StatusCompleted, StatusActive},
		StatusCompleted: {},
		StatusWithdrawn: {},
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the listing can no longer change status.
func (l *Listing) IsTerminal() bool {
	return l.Status == StatusCompleted || l.Status == StatusWithdrawn
}

func ValidateDirection(direction Direction) error {
	switch direction {
	case DirectionOffered, DirectionWanted:
		return nil
	default:
		return &ValidationError{Field: "direction", Reason: "must be OFFERED or WANTED"}
	}
}

func ValidateStatus(status Status) error {
	switch status {
	case StatusActive, StatusReserved, StatusLocked, StatusCompleted, StatusWithdrawn:
		return nil
	default:
		return &ValidationError{Field: "status", Reason: "unknown status"}
	}
}

const maxCategories = 16

// NormalizeCategories lowercases, trims and deduplicates category tags.
// At least one non-empty tag is required.
func NormalizeCategories(categories []string) ([]string, error) {
	if len(categories) == 0 {
		return nil, &ValidationError{Field: "categories", Reason: "at least one category is required"}
	}
	if len(categories) > maxCategories {
		return nil, &ValidationError{Field: "categories", Reason: "too many categories"}
	}
	seen := make(map[string]bool, len(categories))
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			return nil, &ValidationError{Field: "categories", Reason: "empty category tag"}
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

// CategoryMatches reports whether two category sets overlap. Both sides
// are expected to be normalized already.
func CategoryMatches(a, b []string) bool {
	for _, ca := range a {
		for _, cb := range b {
			if ca == cb {
				return true
			}
		}
	}
	return false
}
