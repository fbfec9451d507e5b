package proposal

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no proposal exists for an identifier.
	ErrNotFound = errors.New("proposal not found")
	// ErrExpired is returned when a response arrives after the TTL.
	ErrExpired = errors.New("proposal has expired")
	// ErrNotParticipant is returned when a responder is not in the ring.
	ErrNotParticipant = errors.New("member is not a participant of this proposal")
	// ErrAlreadyResponded is returned on a second response from the same
	// participant.
	ErrAlreadyResponded = errors.New("participant already responded")
	// ErrProposalClosed is returned for responses to terminal proposals.
	ErrProposalClosed = errors.New("proposal is already closed")
	// ErrInvalidTransition is returned for a disallowed state change.
	ErrInvalidTransition = errors.New("invalid proposal state transition")
	// ErrStale is returned when a conditional update was built from a
	// version that is no longer the stored one.
	ErrStale = errors.New("proposal changed concurrently")
)

// ValidationError reports a malformed cycle or proposal input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid cycle: " + e.Reason
}

// CycleTooLongError reports a cycle exceeding the configured bound. The
// finder prunes long paths internally; this surfaces only when a caller
// proposes a cycle it assembled itself.
type CycleTooLongError struct {
	Length int
	Max    int
}

func (e *CycleTooLongError) Error() string {
	return fmt.Sprintf("cycle length %d exceeds maximum %d", e.Length, e.Max)
}
