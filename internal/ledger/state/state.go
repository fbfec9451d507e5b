package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/barterhub/barterhub/internal/domain/trade"
	"github.com/barterhub/barterhub/internal/ledger/protocol"
)

// AppendPayload is the body of an OpLedgerAppend transaction.
type AppendPayload struct {
	Trade *trade.Trade       `json:"trade"`
	Entry *trade.LedgerEntry `json:"entry"`
}

// Machine is the deterministic replicated ledger state. Every node
// applies the same ordered transactions and refuses any append that does
// not extend the chain tip, so replicas cannot diverge silently.
type Machine struct {
	mu       sync.RWMutex
	entries  []*trade.LedgerEntry
	trades   map[string]*trade.Trade
	appliedT map[string]struct{}
}

func NewMachine() *Machine {
	return &Machine{
		trades:   make(map[string]*trade.Trade),
		appliedT: make(map[string]struct{}),
	}
}

// ApplyTx applies one verified transaction. Duplicate tx IDs are
// rejected; raft may re-deliver during leadership churn.
func (m *Machine) ApplyTx(tx protocol.Tx) error {
	if err := tx.ValidateBasic(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.appliedT[tx.TxID]; seen {
		return fmt.Errorf("duplicate tx: %s", tx.TxID)
	}
	if tx.Op != protocol.OpLedgerAppend {
		return fmt.Errorf("unsupported op: %s", tx.Op)
	}
	if err := m.applyAppend(tx.Payload); err != nil {
		return err
	}
	m.appliedT[tx.TxID] = struct{}{}
	return nil
}

func (m *Machine) applyAppend(payload json.RawMessage) error {
	var p AppendPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode append payload: %w", err)
	}
	if p.Trade == nil || p.Entry == nil {
		return errors.New("append requires trade and entry")
	}
	if p.Entry.TradeID != p.Trade.TradeID.String() {
		return errors.New("entry does not reference the trade")
	}

	tipSeq, tipHash := m.tipLocked()
	if p.Entry.Seq != tipSeq+1 {
		return fmt.Errorf("entry seq %d does not extend tip %d", p.Entry.Seq, tipSeq)
	}
	if p.Entry.PrevHash != tipHash {
		return errors.New("entry prev hash does not match chain tip")
	}
	recomputed, err := trade.NewLedgerEntry(p.Trade, p.Entry.Seq, p.Entry.PrevHash)
	if err != nil {
		return err
	}
	if recomputed.Hash != p.Entry.Hash {
		return errors.New("entry hash does not match trade payload")
	}

	m.entries = append(m.entries, p.Entry)
	m.trades[p.Entry.TradeID] = p.Trade
	return nil
}

func (m *Machine) tipLocked() (int64, string) {
	if len(m.entries) == 0 {
		return 0, trade.GenesisHash
	}
	tip := m.entries[len(m.entries)-1]
	return tip.Seq, tip.Hash
}

// Tip returns the latest entry, or nil for an empty ledger.
func (m *Machine) Tip() *trade.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[len(m.entries)-1]
}

// Entries returns entries with seq >= fromSeq, capped at limit when
// limit is positive.
func (m *Machine) Entries(fromSeq int64, limit int) []*trade.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*trade.LedgerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Seq < fromSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// GetTrade returns a replicated trade by ID.
func (m *Machine) GetTrade(tradeID string) (*trade.Trade, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trades[tradeID]
	return t, ok
}

// Verify recomputes the whole chain.
func (m *Machine) Verify() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trades := make([]*trade.Trade, 0, len(m.entries))
	for _, e := range m.entries {
		t, ok := m.trades[e.TradeID]
		if !ok {
			return errors.New("entry without trade: " + e.TradeID)
		}
		trades = append(trades, t)
	}
	return trade.VerifyChain(m.entries, trades)
}

// Stats summarizes the machine for diagnostics.
func (m *Machine) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, hash := m.tipLocked()
	return map[string]any{
		"entries":  len(m.entries),
		"tip_seq":  seq,
		"tip_hash": hash,
	}
}

type snapshot struct {
	Entries []*trade.LedgerEntry    `json:"entries"`
	Trades  map[string]*trade.Trade `json:"trades"`
	Applied []string                `json:"applied"`
}

// Marshal serializes the machine for a raft snapshot.
func (m *Machine) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := snapshot{
		Entries: m.entries,
		Trades:  m.trades,
		Applied: make([]string, 0, len(m.appliedT)),
	}
	for id := range m.appliedT {
		snap.Applied = append(snap.Applied, id)
	}
	return json.Marshal(snap)
}

// Unmarshal restores the machine from a raft snapshot.
func (m *Machine) Unmarshal(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = snap.Entries
	m.trades = snap.Trades
	if m.trades == nil {
		m.trades = make(map[string]*trade.Trade)
	}
	m.appliedT = make(map[string]struct{}, len(snap.Applied))
	for _, id := range snap.Applied {
		m.appliedT[id] = struct{}{}
	}
	return nil
}
