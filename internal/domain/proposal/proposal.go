package proposal

import (
	"time"

	"github.com/google/uuid"
)

// State represents proposal state.
type State string

const (
	StatePending   State = "PENDING"
	StateAccepted  State = "ACCEPTED"
	StateExecuting State = "EXECUTING"
	StateExecuted  State = "EXECUTED"
	StateRejected  State = "REJECTED"
	StateExpired   State = "EXPIRED"
	StateFailed    State = "FAILED"
)

// Decision is one participant's answer to a proposal.
type Decision string

const (
	DecisionPending  Decision = "PENDING"
	DecisionAccepted Decision = "ACCEPTED"
	DecisionDeclined Decision = "DECLINED"
)

// Proposal wraps a discovered cycle and collects participant consent.
// Once every participant accepts, the coordinator takes over; a single
// decline, a withdrawal of any referenced listing, or TTL expiry
// terminates it.
type Proposal struct {
	ID         int64                  `json:"id"`
	ProposalID uuid.UUID              `json:"proposalId"`
	Cycle      Cycle                  `json:"cycle"`
	Acceptance map[uuid.UUID]Decision `json:"acceptance"`
	State      State                  `json:"state"`
	Reason     string                 `json:"reason,omitempty"`
	// Version guards read-modify-write persistence: repositories bump it
	// on every write and refuse an update built from a stale read.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New creates a pending proposal for the cycle. Every participant starts
// undecided and the TTL clock starts at now.
func New(cycle Cycle, ttl time.Duration, now time.Time) *Proposal {
	acceptance := make(map[uuid.UUID]Decision, cycle.Length())
	for _, p := range cycle.Participants() {
		acceptance[p] = DecisionPending
	}
	return &Proposal{
		ProposalID: uuid.New(),
		Cycle:      cycle,
		Acceptance: acceptance,
		State:      StatePending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		UpdatedAt:  now,
	}
}

// CanTransitionTo validates a proposal state transition. Executing is
// never cancelled mid-flight; it only resolves to Executed or Failed.
func (p *Proposal) CanTransitionTo(target State) bool {
	transitions := map[State][]State{
		StatePending:   {StateAccepted, StateRejected, StateExpired},
		StateAccepted:  {StateExecuting, StateRejected, StateExpired},
		StateExecuting: {StateExecuted, StateFailed},
		StateExecuted:  {},
		StateRejected:  {},
		StateExpired:   {},
		StateFailed:    {},
	}
	for _, s := range transitions[p.State] {
		if s == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the proposal can no longer change state.
func (p *Proposal) IsTerminal() bool {
	switch p.State {
	case StateExecuted, StateRejected, StateExpired, StateFailed:
		return true
	}
	return false
}

// IsExpired reports whether the TTL has elapsed.
func (p *Proposal) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// IsParticipant reports whether the member is part of the ring.
func (p *Proposal) IsParticipant(memberID uuid.UUID) bool {
	_, ok := p.Acceptance[memberID]
	return ok
}

// Respond records one participant's decision. A decline short-circuits
// the proposal to Rejected; the final accept moves it to Accepted.
func (p *Proposal) Respond(memberID uuid.UUID, accept bool, now time.Time) error {
	if !p.IsParticipant(memberID) {
		return ErrNotParticipant
	}
	if p.State != StatePending {
		if p.IsTerminal() {
			return ErrProposalClosed
		}
		return ErrInvalidTransition
	}
	if p.IsExpired(now) {
		return ErrExpired
	}
	if p.Acceptance[memberID] != DecisionPending {
		return ErrAlreadyResponded
	}
	if accept {
		p.Acceptance[memberID] = DecisionAccepted
		if p.AllAccepted() {
			p.State = StateAccepted
		}
	} else {
		p.Acceptance[memberID] = DecisionDeclined
		p.State = StateRejected
		p.Reason = "declined by participant"
	}
	p.UpdatedAt = now
	return nil
}

// AllAccepted reports whether every participant has accepted.
func (p *Proposal) AllAccepted() bool {
	for _, d := range p.Acceptance {
		if d != DecisionAccepted {
			return false
		}
	}
	return true
}

// MarkExpired transitions a pending or accepted-but-unexecuted proposal
// to Expired.
func (p *Proposal) MarkExpired(now time.Time) error {
	if !p.CanTransitionTo(StateExpired) {
		return ErrInvalidTransition
	}
	p.State = StateExpired
	p.UpdatedAt = now
	return nil
}

// MarkRejected terminates the proposal, recording why (decline or a
// participant withdrawing a referenced listing).
func (p *Proposal) MarkRejected(reason string, now time.Time) error {
	if !p.CanTransitionTo(StateRejected) {
		return ErrInvalidTransition
	}
	p.State = StateRejected
	p.Reason = reason
	p.UpdatedAt = now
	return nil
}

// MarkExecuting hands the proposal to the coordinator.
func (p *Proposal) MarkExecuting(now time.Time) error {
	if !p.CanTransitionTo(StateExecuting) {
		return ErrInvalidTransition
	}
	p.State = StateExecuting
	p.UpdatedAt = now
	return nil
}

// MarkExecuted records a successful commit.
func (p *Proposal) MarkExecuted(now time.Time) error {
	if !p.CanTransitionTo(StateExecuted) {
		return ErrInvalidTransition
	}
	p.State = StateExecuted
	p.UpdatedAt = now
	return nil
}

// MarkFailed records a commit failure, after locks have been released.
func (p *Proposal) MarkFailed(reason string, now time.Time) error {
	if !p.CanTransitionTo(StateFailed) {
		return ErrInvalidTransition
	}
	p.State = StateFailed
	p.Reason = reason
	p.UpdatedAt = now
	return nil
}
