package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/barterhub/barterhub/internal/domain/trade"
)

// TradeRepository is an in-memory, append-only trade.Repository.
type TradeRepository struct {
	mu      sync.RWMutex
	trades  []*trade.Trade
	entries []*trade.LedgerEntry
	byID    map[uuid.UUID]*trade.Trade
}

func NewTradeRepository() *TradeRepository {
	return &TradeRepository{byID: make(map[uuid.UUID]*trade.Trade)}
}

// Append chains the trade onto the ledger tip. Tip read, entry hash and
// insert all happen under one lock, so concurrent appends serialize and
// every entry extends the entry before it.
func (r *TradeRepository) Append(ctx context.Context, t *trade.Trade) (*trade.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := int64(1)
	prev := ""
	if n := len(r.entries); n > 0 {
		seq = r.entries[n-1].Seq + 1
		prev = r.entries[n-1].Hash
	}
	entry, err := trade.NewLedgerEntry(t, seq, prev)
	if err != nil {
		return nil, err
	}
	stored := cloneTrade(t)
	stored.ID = int64(len(r.trades) + 1)
	r.trades = append(r.trades, stored)
	r.byID[t.TradeID] = stored
	r.entries = append(r.entries, entry)
	t.ID = stored.ID
	e := *entry
	return &e, nil
}

func (r *TradeRepository) GetByID(ctx context.Context, tradeID uuid.UUID) (*trade.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[tradeID]
	if !ok {
		return nil, trade.ErrNotFound
	}
	return cloneTrade(t), nil
}

func (r *TradeRepository) ListByUser(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*trade.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*trade.Trade
	for _, t := range r.trades {
		if t.Involves(memberID) {
			matched = append(matched, cloneTrade(t))
		}
	}
	return window(matched, limit, offset), nil
}

func (r *TradeRepository) List(ctx context.Context, limit, offset int) ([]*trade.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*trade.Trade, 0, len(r.trades))
	for _, t := range r.trades {
		all = append(all, cloneTrade(t))
	}
	return window(all, limit, offset), nil
}

func (r *TradeRepository) LatestEntry(ctx context.Context) (*trade.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return nil, nil
	}
	e := *r.entries[len(r.entries)-1]
	return &e, nil
}

func (r *TradeRepository) ListEntries(ctx context.Context, fromSeq int64, limit int) ([]*trade.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*trade.LedgerEntry
	for _, e := range r.entries {
		if e.Seq < fromSeq {
			continue
		}
		c := *e
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func cloneTrade(t *trade.Trade) *trade.Trade {
	c := *t
	c.Exchanges = append([]trade.Exchange(nil), t.Exchanges...)
	c.Participants = append([]uuid.UUID(nil), t.Participants...)
	return &c
}

func window(ts []*trade.Trade, limit, offset int) []*trade.Trade {
	if offset >= len(ts) {
		return nil
	}
	ts = ts[offset:]
	if limit > 0 && len(ts) > limit {
		ts = ts[:limit]
	}
	return ts
}
