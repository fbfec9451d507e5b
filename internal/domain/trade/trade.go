package trade

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no trade exists for an identifier.
var ErrNotFound = errors.New("trade not found")

// Exchange is one leg of an executed swap: the giver's offered listing
// satisfied the receiver's wanted listing.
type Exchange struct {
	OfferedID  uuid.UUID `json:"offeredId"`
	WantedID   uuid.UUID `json:"wantedId"`
	GiverID    uuid.UUID `json:"giverId"`
	ReceiverID uuid.UUID `json:"receiverId"`
}

// Trade is the immutable record of a successfully executed proposal.
// It is created exactly once, at commit, and never mutated.
type Trade struct {
	ID           int64       `json:"id"`
	TradeID      uuid.UUID   `json:"tradeId"`
	ProposalID   uuid.UUID   `json:"proposalId"`
	Exchanges    []Exchange  `json:"exchanges"`
	Participants []uuid.UUID `json:"participants"`
	CompletedAt  time.Time   `json:"completedAt"`
}

// New creates a trade record for an executed proposal.
func New(proposalID uuid.UUID, exchanges []Exchange, completedAt time.Time) *Trade {
	participants := make([]uuid.UUID, 0, len(exchanges))
	for _, e := range exchanges {
		participants = append(participants, e.GiverID)
	}
	return &Trade{
		TradeID:      uuid.New(),
		ProposalID:   proposalID,
		Exchanges:    exchanges,
		Participants: participants,
		CompletedAt:  completedAt,
	}
}

// Involves reports whether the member took part in the trade.
func (t *Trade) Involves(memberID uuid.UUID) bool {
	for _, p := range t.Participants {
		if p == memberID {
			return true
		}
	}
	return false
}
