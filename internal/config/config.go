package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL   string
	ServerAddr    string
	UseMemstore   bool
	MaxCycleLen   int
	MaxResults    int
	ProposalTTL   time.Duration
	SweepInterval time.Duration
	SweepBatch    int
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "barterhub")
		pass := getenv("POSTGRES_PASSWORD", "barterhub_pass")
		db := getenv("POSTGRES_DB", "barterhub")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}
	addr := getenv("SERVER_ADDR", "0.0.0.0:8080")
	useMemstore := parseBool(getenv("USE_MEMSTORE", "false"), false)
	maxCycleLen := parseInt(getenv("MAX_CYCLE_LEN", "4"), 4)
	maxResults := parseInt(getenv("MAX_CYCLE_RESULTS", "16"), 16)
	ttl := parseDuration(getenv("PROPOSAL_TTL", "24h"), 24*time.Hour)
	sweepInterval := parseDuration(getenv("SWEEP_INTERVAL", "30s"), 30*time.Second)
	sweepBatch := parseInt(getenv("SWEEP_BATCH", "100"), 100)

	if maxCycleLen < 2 {
		return nil, fmt.Errorf("MAX_CYCLE_LEN must be at least 2, got %d", maxCycleLen)
	}

	return &Config{
		DatabaseURL:   dsn,
		ServerAddr:    addr,
		UseMemstore:   useMemstore,
		MaxCycleLen:   maxCycleLen,
		MaxResults:    maxResults,
		ProposalTTL:   ttl,
		SweepInterval: sweepInterval,
		SweepBatch:    sweepBatch,
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
