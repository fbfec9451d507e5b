package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened to a proposal or trade.
type Kind string

const (
	KindProposalCreated  Kind = "PROPOSAL_CREATED"
	KindProposalAccepted Kind = "PROPOSAL_ACCEPTED"
	KindProposalRejected Kind = "PROPOSAL_REJECTED"
	KindProposalExpired  Kind = "PROPOSAL_EXPIRED"
	KindProposalFailed   Kind = "PROPOSAL_FAILED"
	KindTradeExecuted    Kind = "TRADE_EXECUTED"
	KindListingWithdrawn Kind = "LISTING_WITHDRAWN"
)

// Event is a fire-and-forget message to engine participants. Delivery
// failures never affect engine state.
type Event struct {
	EventID   uuid.UUID       `json:"eventId"`
	Kind      Kind            `json:"kind"`
	Subject   uuid.UUID       `json:"subject"`
	Targets   []uuid.UUID     `json:"targets"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent creates an event about subject addressed to the given members.
func NewEvent(kind Kind, subject uuid.UUID, targets []uuid.UUID, payload json.RawMessage) *Event {
	return &Event{
		EventID:   uuid.New(),
		Kind:      kind,
		Subject:   subject,
		Targets:   targets,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// SSEClient represents an active server-sent-events connection.
type SSEClient struct {
	ClientID    string
	UserID      *uuid.UUID
	ConnectedAt time.Time
	MessageChan chan *Event
}

// NewSSEClient creates a client with a buffered delivery channel.
func NewSSEClient(clientID string, userID *uuid.UUID) *SSEClient {
	return &SSEClient{
		ClientID:    clientID,
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *Event, 100),
	}
}

// Close closes the client's message channel.
func (c *SSEClient) Close() {
	close(c.MessageChan)
}
