package proposal

import (
	"github.com/google/uuid"
)

// Hop is one edge of an exchange ring: the giver's OFFERED listing
// satisfies the receiver's WANTED listing. The receiver of hop i is the
// giver of hop i+1, closing back to the first giver.
type Hop struct {
	OfferedID  uuid.UUID `json:"offeredId"`
	WantedID   uuid.UUID `json:"wantedId"`
	GiverID    uuid.UUID `json:"giverId"`
	ReceiverID uuid.UUID `json:"receiverId"`
}

// Cycle is a closed ring of 2..K hops representing one feasible
// multi-party swap. A member participates at most once per cycle.
type Cycle struct {
	Hops []Hop `json:"hops"`
}

// Length returns the number of hops (equal to the number of participants).
func (c Cycle) Length() int {
	return len(c.Hops)
}

// Participants returns the distinct member IDs in ring order, starting
// from the first giver.
func (c Cycle) Participants() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(c.Hops))
	for _, h := range c.Hops {
		out = append(out, h.GiverID)
	}
	return out
}

// ListingIDs returns every listing referenced by the cycle, offered and
// wanted sides both, without duplicates.
func (c Cycle) ListingIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(c.Hops)*2)
	out := make([]uuid.UUID, 0, len(c.Hops)*2)
	for _, h := range c.Hops {
		if !seen[h.OfferedID] {
			seen[h.OfferedID] = true
			out = append(out, h.OfferedID)
		}
		if !seen[h.WantedID] {
			seen[h.WantedID] = true
			out = append(out, h.WantedID)
		}
	}
	return out
}

// Validate checks ring structure: length bounds, closure, and that no
// listing or member appears twice.
func (c Cycle) Validate(maxLen int) error {
	n := len(c.Hops)
	if n < 2 {
		return &ValidationError{Reason: "a cycle needs at least two hops"}
	}
	if n > maxLen {
		return &CycleTooLongError{Length: n, Max: maxLen}
	}
	listings := make(map[uuid.UUID]bool, n*2)
	members := make(map[uuid.UUID]bool, n)
	for i, h := range c.Hops {
		if h.OfferedID == uuid.Nil || h.WantedID == uuid.Nil || h.GiverID == uuid.Nil || h.ReceiverID == uuid.Nil {
			return &ValidationError{Reason: "cycle hop has a missing identifier"}
		}
		if h.GiverID == h.ReceiverID {
			return &ValidationError{Reason: "cycle hop gives to its own giver"}
		}
		if listings[h.OfferedID] || listings[h.WantedID] {
			return &ValidationError{Reason: "cycle references a listing twice"}
		}
		listings[h.OfferedID] = true
		listings[h.WantedID] = true
		if members[h.GiverID] {
			return &ValidationError{Reason: "member participates twice in cycle"}
		}
		members[h.GiverID] = true
		next := c.Hops[(i+1)%n]
		if h.ReceiverID != next.GiverID {
			return &ValidationError{Reason: "cycle does not close"}
		}
	}
	return nil
}
