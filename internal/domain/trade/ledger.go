package trade

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/crypto/blake2b"
)

// GenesisHash anchors the first ledger entry.
const GenesisHash = "GENESIS"

// LedgerEntry chains executed trades into a tamper-evident log. Each
// entry's hash covers the trade payload and the previous entry's hash,
// so any rewrite of history invalidates every later entry.
type LedgerEntry struct {
	Seq       int64     `json:"seq"`
	TradeID   string    `json:"tradeId"`
	PrevHash  string    `json:"prevHash"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
}

type ledgerPayload struct {
	Seq          int64    `json:"seq"`
	TradeID      string   `json:"tradeId"`
	ProposalID   string   `json:"proposalId"`
	Participants []string `json:"participants"`
	Exchanges    []string `json:"exchanges"`
	CompletedAt  string   `json:"completedAt"`
	PrevHash     string   `json:"prevHash"`
}

// NewLedgerEntry computes the chained entry for a trade. prev is the
// previous entry's hash, or GenesisHash for the first trade.
func NewLedgerEntry(t *Trade, seq int64, prev string) (*LedgerEntry, error) {
	if t == nil {
		return nil, errors.New("trade is required")
	}
	if prev == "" {
		prev = GenesisHash
	}
	payload := ledgerPayload{
		Seq:         seq,
		TradeID:     t.TradeID.String(),
		ProposalID:  t.ProposalID.String(),
		CompletedAt: t.CompletedAt.UTC().Format(time.RFC3339Nano),
		PrevHash:    prev,
	}
	for _, p := range t.Participants {
		payload.Participants = append(payload.Participants, p.String())
	}
	for _, e := range t.Exchanges {
		payload.Exchanges = append(payload.Exchanges, e.OfferedID.String()+">"+e.WantedID.String())
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(data)
	return &LedgerEntry{
		Seq:       seq,
		TradeID:   t.TradeID.String(),
		PrevHash:  prev,
		Hash:      hex.EncodeToString(sum[:]),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// VerifyChain recomputes every entry hash against its trade and checks
// the chain links. Trades must be passed in ledger order.
func VerifyChain(entries []*LedgerEntry, trades []*Trade) error {
	if len(entries) != len(trades) {
		return errors.New("ledger and trade history lengths differ")
	}
	prev := GenesisHash
	for i, e := range entries {
		recomputed, err := NewLedgerEntry(trades[i], e.Seq, prev)
		if err != nil {
			return err
		}
		if recomputed.Hash != e.Hash {
			return errors.New("ledger hash mismatch at seq " + recomputed.TradeID)
		}
		if e.PrevHash != prev {
			return errors.New("ledger chain broken at trade " + e.TradeID)
		}
		prev = e.Hash
	}
	return nil
}
