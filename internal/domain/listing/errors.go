package listing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no listing exists for a given identifier.
var ErrNotFound = errors.New("listing not found")

// ValidationError reports malformed listing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid listing %s: %s", e.Field, e.Reason)
}

// ConflictError reports a failed compare-and-swap status transition: the
// listing was not in the expected status at the time of the update. This
// is the signal competing coordinators observe when they lose a listing.
type ConflictError struct {
	ListingID uuid.UUID
	Expected  Status
	Actual    Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("listing %s: expected status %s, found %s", e.ListingID, e.Expected, e.Actual)
}

// IsConflict reports whether err is a CAS conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
