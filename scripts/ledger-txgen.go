// Command ledger-txgen builds one signed LEDGER_APPEND transaction for
// smoke-testing a ledger node. It reads the trade from JSON, chains the
// entry onto the supplied tip and prints the signed envelope to stdout,
// ready to POST to /v1/ledger/tx.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/barterhub/barterhub/internal/domain/trade"
	"github.com/barterhub/barterhub/internal/infrastructure/keystore"
	"github.com/barterhub/barterhub/internal/ledger/protocol"
	"github.com/barterhub/barterhub/internal/ledger/state"
)

type options struct {
	tradeJSON  string
	tradeFile  string
	seq        int64
	prevHash   string
	actor      string
	txID       string
	nonce      string
	timestamp  string
	privateKey string
}

func main() {
	var opt options

	flag.StringVar(&opt.tradeJSON, "trade-json", "", "trade record as inline JSON")
	flag.StringVar(&opt.tradeFile, "trade-file", "", "path to a file holding the trade JSON")
	flag.Int64Var(&opt.seq, "seq", 1, "ledger sequence for the new entry; tip seq plus one")
	flag.StringVar(&opt.prevHash, "prev-hash", "", "hash of the current tip; empty means genesis")
	flag.StringVar(&opt.actor, "actor", "smoke", "actor string recorded in the tx")
	flag.StringVar(&opt.txID, "tx-id", "", "tx identifier; auto-generated when empty")
	flag.StringVar(&opt.nonce, "nonce", "", "nonce; auto-generated when empty")
	flag.StringVar(&opt.timestamp, "timestamp", "", "RFC3339 timestamp; default now UTC")
	flag.StringVar(&opt.privateKey, "private-key", "", "base64 private key (32-byte seed or 64-byte private key); default SIGNING_KEYS env, then random")
	flag.Parse()

	opt.actor = strings.TrimSpace(opt.actor)
	if opt.actor == "" {
		log.Fatal("actor is required")
	}

	tr, err := loadTrade(opt)
	if err != nil {
		log.Fatal(err)
	}
	entry, err := trade.NewLedgerEntry(tr, opt.seq, strings.TrimSpace(opt.prevHash))
	if err != nil {
		log.Fatal(err)
	}
	payload, err := json.Marshal(state.AppendPayload{Trade: tr, Entry: entry})
	if err != nil {
		log.Fatal(err)
	}

	privateKey, err := loadPrivateKey(opt.privateKey, opt.actor)
	if err != nil {
		log.Fatal(err)
	}
	ts, err := parseTimestamp(opt.timestamp)
	if err != nil {
		log.Fatal(err)
	}

	txID := strings.TrimSpace(opt.txID)
	if txID == "" {
		txID = autoID("tx", ts)
	}
	nonce := strings.TrimSpace(opt.nonce)
	if nonce == "" {
		nonce = autoID("n", ts)
	}
	tx := protocol.Tx{
		TxID:      txID,
		Nonce:     nonce,
		Timestamp: ts,
		Actor:     opt.actor,
		Op:        protocol.OpLedgerAppend,
		Payload:   payload,
	}
	if err := tx.Sign(privateKey); err != nil {
		log.Fatal(err)
	}

	out, err := json.Marshal(tx)
	if err != nil {
		log.Fatal(err)
	}
	_, _ = os.Stdout.Write(out)
}

func loadTrade(opt options) (*trade.Trade, error) {
	raw := strings.TrimSpace(opt.tradeJSON)
	if raw == "" && strings.TrimSpace(opt.tradeFile) != "" {
		data, err := os.ReadFile(strings.TrimSpace(opt.tradeFile))
		if err != nil {
			return nil, err
		}
		raw = string(data)
	}
	if raw == "" {
		return nil, errors.New("one of trade-json or trade-file is required")
	}
	var tr trade.Trade
	if err := json.Unmarshal([]byte(raw), &tr); err != nil {
		return nil, fmt.Errorf("invalid trade JSON: %w", err)
	}
	if len(tr.Exchanges) == 0 {
		return nil, errors.New("trade has no exchanges")
	}
	return &tr, nil
}

// loadPrivateKey resolves the signing key: the explicit flag wins, then
// the keystore configured via SIGNING_KEYS, then a throwaway random key.
func loadPrivateKey(raw, actor string) (ed25519.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		switch len(decoded) {
		case ed25519.SeedSize:
			return ed25519.NewKeyFromSeed(decoded), nil
		case ed25519.PrivateKeySize:
			return ed25519.PrivateKey(decoded), nil
		default:
			return nil, fmt.Errorf("private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(decoded))
		}
	}

	if os.Getenv("SIGNING_KEYS") != "" {
		ks, err := keystore.NewFromEnv()
		if err != nil {
			return nil, err
		}
		_, seed, err := ks.GetKeyForNode(context.Background(), actor)
		if err != nil {
			return nil, err
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("keystore seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	return ts.UTC(), nil
}

func autoID(prefix string, ts time.Time) string {
	var buf [6]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%s-%d-%x", prefix, ts.UnixNano(), buf)
}
