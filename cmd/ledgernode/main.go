package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	ledgerapi "github.com/barterhub/barterhub/internal/ledger/api"
	"github.com/barterhub/barterhub/internal/ledger/consensus"
)

type runtimeConfig struct {
	NodeID            string
	RaftAddr          string
	HTTPAddr          string
	DataDir           string
	Bootstrap         bool
	SnapshotRetain    int
	SnapshotThreshold uint64
	SnapshotInterval  time.Duration
	ApplyTimeout      time.Duration
	JoinEndpoint      string
	JoinRetries       int
	JoinRetryDelay    time.Duration
	StartupWaitLeader time.Duration
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "ledgernode").Logger()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}

	node, err := consensus.NewNode(consensus.Config{
		NodeID:            cfg.NodeID,
		RaftAddr:          cfg.RaftAddr,
		DataDir:           cfg.DataDir,
		Bootstrap:         cfg.Bootstrap,
		SnapshotRetain:    cfg.SnapshotRetain,
		SnapshotThreshold: cfg.SnapshotThreshold,
		SnapshotInterval:  cfg.SnapshotInterval,
		ApplyTimeout:      cfg.ApplyTimeout,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create ledger node")
	}
	defer func() {
		_ = node.Shutdown()
	}()

	if !cfg.Bootstrap && cfg.JoinEndpoint != "" {
		if err := joinCluster(cfg); err != nil {
			logger.Warn().Err(err).Str("endpoint", cfg.JoinEndpoint).Msg("join cluster failed")
		} else {
			logger.Info().Str("endpoint", cfg.JoinEndpoint).Msg("joined cluster")
		}
	}

	if cfg.StartupWaitLeader > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupWaitLeader)
		if leader, err := node.WaitForLeader(ctx, 150*time.Millisecond); err == nil {
			logger.Info().Str("leader", leader).Msg("leader elected")
		}
		cancel()
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      ledgerapi.NewServer(node).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("node", cfg.NodeID).
			Str("raft_addr", cfg.RaftAddr).
			Bool("bootstrap", cfg.Bootstrap).
			Msg("ledger http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = node.Shutdown()
}

func loadConfig() (*runtimeConfig, error) {
	hostname, _ := os.Hostname()
	nodeID := getenv("LEDGER_NODE_ID", strings.TrimSpace(hostname))
	if nodeID == "" {
		nodeID = "node-1"
	}

	cfg := &runtimeConfig{
		NodeID:            nodeID,
		RaftAddr:          getenv("LEDGER_RAFT_ADDR", "127.0.0.1:17000"),
		HTTPAddr:          getenv("LEDGER_HTTP_ADDR", "0.0.0.0:18080"),
		Bootstrap:         parseBool(getenv("LEDGER_BOOTSTRAP", "false"), false),
		SnapshotRetain:    parseInt(getenv("LEDGER_SNAPSHOT_RETAIN", "2"), 2),
		SnapshotThreshold: uint64(parseInt(getenv("LEDGER_SNAPSHOT_THRESHOLD", "1024"), 1024)),
		SnapshotInterval:  parseDuration(getenv("LEDGER_SNAPSHOT_INTERVAL", "2m"), 2*time.Minute),
		ApplyTimeout:      parseDuration(getenv("LEDGER_APPLY_TIMEOUT", "5s"), 5*time.Second),
		JoinEndpoint:      strings.TrimSpace(getenv("LEDGER_JOIN_ENDPOINT", "")),
		JoinRetries:       parseInt(getenv("LEDGER_JOIN_RETRIES", "30"), 30),
		JoinRetryDelay:    parseDuration(getenv("LEDGER_JOIN_RETRY_DELAY", "1s"), time.Second),
		StartupWaitLeader: parseDuration(getenv("LEDGER_STARTUP_WAIT_LEADER", "4s"), 4*time.Second),
	}

	cfg.DataDir = strings.TrimSpace(getenv("LEDGER_DATA_DIR", ""))
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join("tmp", "ledgernode", nodeID)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	return cfg, nil
}

// joinCluster registers this node with the current leader over its HTTP
// API. Retries cover the window where the leader is still electing.
func joinCluster(cfg *runtimeConfig) error {
	endpoint := strings.TrimRight(cfg.JoinEndpoint, "/") + "/v1/ledger/raft/join"
	body, err := json.Marshal(map[string]string{
		"node_id":   cfg.NodeID,
		"raft_addr": cfg.RaftAddr,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	var lastErr error
	for i := 0; i < cfg.JoinRetries; i++ {
		req, _ := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(cfg.JoinRetryDelay)
			continue
		}
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("join returned status %d", resp.StatusCode)
		time.Sleep(cfg.JoinRetryDelay)
	}
	if lastErr == nil {
		lastErr = errors.New("join failed")
	}
	return lastErr
}

func getenv(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func parseBool(raw string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

func parseInt(raw string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

func parseDuration(raw string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}
