package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barterhub/barterhub/internal/domain/trade"
)

// TradeRepository implements trade.Repository. Trades and their ledger
// entries are inserted in one transaction so the hash chain never skips
// a record.
type TradeRepository struct {
	pool *pgxpool.Pool
}

func NewTradeRepository(pool *pgxpool.Pool) *TradeRepository {
	return &TradeRepository{pool: pool}
}

// ledgerAppendLock keys the advisory lock serializing ledger appends.
const ledgerAppendLock = 0x6c656467 // "ledg"

// Append chains the trade onto the ledger tip. The tip is read under a
// transaction-scoped advisory lock inside the same transaction that
// inserts the new entry, so two concurrent appends serialize instead of
// both building an entry from the same predecessor. Locking a tip row
// alone would not cover the empty ledger.
func (r *TradeRepository) Append(ctx context.Context, t *trade.Trade) (*trade.LedgerEntry, error) {
	exchanges, err := json.Marshal(t.Exchanges)
	if err != nil {
		return nil, err
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerAppendLock); err != nil {
		return nil, err
	}
	seq := int64(1)
	prev := ""
	row := tx.QueryRow(ctx, `
		SELECT seq, hash FROM trade_ledger ORDER BY seq DESC LIMIT 1
	`)
	var tipSeq int64
	var tipHash string
	switch err := row.Scan(&tipSeq, &tipHash); err {
	case nil:
		seq = tipSeq + 1
		prev = tipHash
	case pgx.ErrNoRows:
	default:
		return nil, err
	}
	entry, err := trade.NewLedgerEntry(t, seq, prev)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO trades (trade_id, proposal_id, exchanges, participants, completed_at)
		VALUES ($1,$2,$3,$4,$5)
	`, t.TradeID, t.ProposalID, exchanges, t.Participants, t.CompletedAt)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO trade_ledger (seq, trade_id, prev_hash, hash, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.Seq, entry.TradeID, entry.PrevHash, entry.Hash, entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *TradeRepository) GetByID(ctx context.Context, tradeID uuid.UUID) (*trade.Trade, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, trade_id, proposal_id, exchanges, participants, completed_at
		FROM trades WHERE trade_id=$1
	`, tradeID)
	return scanTrade(row)
}

func (r *TradeRepository) ListByUser(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*trade.Trade, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, trade_id, proposal_id, exchanges, participants, completed_at
		FROM trades WHERE $1=ANY(participants)
		ORDER BY completed_at ASC LIMIT $2 OFFSET $3
	`, memberID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func (r *TradeRepository) List(ctx context.Context, limit, offset int) ([]*trade.Trade, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, trade_id, proposal_id, exchanges, participants, completed_at
		FROM trades ORDER BY completed_at ASC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func (r *TradeRepository) LatestEntry(ctx context.Context) (*trade.LedgerEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT seq, trade_id, prev_hash, hash, created_at
		FROM trade_ledger ORDER BY seq DESC LIMIT 1
	`)
	entry, err := scanLedgerEntry(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

func (r *TradeRepository) ListEntries(ctx context.Context, fromSeq int64, limit int) ([]*trade.LedgerEntry, error) {
	query := `
		SELECT seq, trade_id, prev_hash, hash, created_at
		FROM trade_ledger WHERE seq >= $1 ORDER BY seq ASC`
	args := []interface{}{fromSeq}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*trade.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanTrade(row pgx.Row) (*trade.Trade, error) {
	var t trade.Trade
	var exchanges json.RawMessage
	if err := row.Scan(&t.ID, &t.TradeID, &t.ProposalID, &exchanges, &t.Participants, &t.CompletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, trade.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(exchanges, &t.Exchanges); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanLedgerEntry(row pgx.Row) (*trade.LedgerEntry, error) {
	var e trade.LedgerEntry
	if err := row.Scan(&e.Seq, &e.TradeID, &e.PrevHash, &e.Hash, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func collectTrades(rows pgx.Rows) ([]*trade.Trade, error) {
	var trades []*trade.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
