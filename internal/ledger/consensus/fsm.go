package consensus

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"

	"github.com/barterhub/barterhub/internal/ledger/protocol"
	"github.com/barterhub/barterhub/internal/ledger/state"
)

// ledgerFSM feeds committed raft entries into the ledger state machine.
// Apply returns the machine's rejection as the command response, so the
// leader can report a bad append without poisoning the log.
type ledgerFSM struct {
	machine *state.Machine
}

func (f *ledgerFSM) Apply(entry *raft.Log) interface{} {
	var tx protocol.Tx
	if err := json.Unmarshal(entry.Data, &tx); err != nil {
		return fmt.Errorf("decode ledger tx: %w", err)
	}
	if err := f.machine.ApplyTx(tx); err != nil {
		return err
	}
	return nil
}

func (f *ledgerFSM) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.machine.Marshal()
	if err != nil {
		return nil, err
	}
	return &chainSnapshot{data: data}, nil
}

// Restore replaces the machine with a snapshot and recomputes the whole
// hash chain before accepting it. A truncated or tampered snapshot must
// not become this replica's ledger.
func (f *ledgerFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := f.machine.Unmarshal(data); err != nil {
		return err
	}
	if err := f.machine.Verify(); err != nil {
		return fmt.Errorf("restored ledger fails chain verification: %w", err)
	}
	return nil
}

type chainSnapshot struct {
	data []byte
}

func (s *chainSnapshot) Persist(sink raft.SnapshotSink) error {
	if len(s.data) == 0 {
		return sink.Close()
	}
	if _, err := sink.Write(s.data); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *chainSnapshot) Release() {}
