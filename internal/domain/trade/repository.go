package trade

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for executed trades. The log is append
// only: there is no update or delete.
type Repository interface {
	// Append stores the trade and its chained ledger entry atomically.
	// The entry is built inside the store's critical section: the next
	// seq and previous hash are read from the current tip under the same
	// lock or transaction that inserts the entry, so two concurrent
	// appends can never chain onto the same tip.
	Append(ctx context.Context, t *Trade) (*LedgerEntry, error)
	GetByID(ctx context.Context, tradeID uuid.UUID) (*Trade, error)
	ListByUser(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*Trade, error)
	List(ctx context.Context, limit, offset int) ([]*Trade, error)

	// LatestEntry returns the most recent ledger entry, or nil when the
	// ledger is empty.
	LatestEntry(ctx context.Context) (*LedgerEntry, error)
	ListEntries(ctx context.Context, fromSeq int64, limit int) ([]*LedgerEntry, error)
}
