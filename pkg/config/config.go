// Package config loads the environment-driven configuration surface listed
// in spec.md §6. The core's entrypoints are long-running node/gateway
// daemons rather than an interactively invoked CLI (the CLI is an explicit
// external collaborator, out of scope here), so configuration is read from
// the environment the way a daemon is configured, generalizing the
// teacher's cmd/mesh-api flag-reading convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Erasure holds the (k,m) Reed-Solomon parameters.
type Erasure struct {
	DataShards   int
	ParityShards int
}

// Replication holds quorum and replication knobs for C6/C12.
type Replication struct {
	ReplicationFactor int
	WriteQuorum       int
	ReadQuorum        int
	NodeTimeout       time.Duration
	QuorumTimeout     time.Duration
}

// Lifecycle holds the node monitor thresholds for C7.
type Lifecycle struct {
	ScanInterval        time.Duration
	OfflineThreshold    time.Duration
	DrainThreshold      time.Duration
	RemoveThreshold     time.Duration
	RecoveryQuarantine  time.Duration
}

// Executor holds the repair executor's concurrency/rate knobs for C10.
type Executor struct {
	MaxConcurrent   int
	MaxPerSource    int
	MaxPerTarget    int
	TransferTimeout time.Duration
	RetryDelay      time.Duration
	MaxRetries      int
	NodeRateLimit   int64 // bytes/s
}

// Planner holds C9's bounding knobs.
type Planner struct {
	MaxTasks    int
	MaxBytes    int64
	MaxNodeLoad float64
	PreferLocal bool
}

// TLS holds the mutual-TLS material paths for C5.
type TLS struct {
	CertPath         string
	KeyPath          string
	CACertPath       string
	RequireClientCert bool
}

// RPCPool holds the connection pool defaults for C5.
type RPCPool struct {
	MaxConns       int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Config aggregates every configuration surface the core reads.
type Config struct {
	Erasure     Erasure
	Replication Replication
	Lifecycle   Lifecycle
	Executor    Executor
	Planner     Planner
	TLS         TLS
	Pool        RPCPool
	ChunkSize   int
	ListenAddr  string
}

const (
	MinChunkSize     = 256 * 1024
	MaxChunkSize     = 64 * 1024 * 1024
	DefaultChunkSize = 4 * 1024 * 1024
)

// Load reads every recognized environment variable, applying spec.md's
// defaults where unset.
func Load() (*Config, error) {
	cfg := &Config{
		Erasure: Erasure{
			DataShards:   envInt("ERASURE_DATA_SHARDS", 10),
			ParityShards: envInt("ERASURE_PARITY_SHARDS", 4),
		},
		Replication: Replication{
			ReplicationFactor: envInt("REPLICATION_FACTOR", 3),
			WriteQuorum:       envInt("WRITE_QUORUM", 2),
			ReadQuorum:        envInt("READ_QUORUM", 2),
			NodeTimeout:       envDuration("NODE_TIMEOUT", 10*time.Second),
			QuorumTimeout:     envDuration("QUORUM_TIMEOUT", 30*time.Second),
		},
		Lifecycle: Lifecycle{
			ScanInterval:       envDuration("SCAN_INTERVAL", 30*time.Second),
			OfflineThreshold:   envDuration("OFFLINE_THRESHOLD", 5*time.Minute),
			DrainThreshold:     envDuration("DRAIN_THRESHOLD", 4*time.Hour),
			RemoveThreshold:    envDuration("REMOVE_THRESHOLD", 7*24*time.Hour),
			RecoveryQuarantine: envDuration("RECOVERY_QUARANTINE", 5*time.Minute),
		},
		Executor: Executor{
			MaxConcurrent:   envInt("EXECUTOR_MAX_CONCURRENT", 4),
			MaxPerSource:    envInt("EXECUTOR_MAX_PER_SOURCE", 3),
			MaxPerTarget:    envInt("EXECUTOR_MAX_PER_TARGET", 3),
			TransferTimeout: envDuration("EXECUTOR_TRANSFER_TIMEOUT", 300*time.Second),
			RetryDelay:      envDuration("EXECUTOR_RETRY_DELAY", 5*time.Second),
			MaxRetries:      envInt("EXECUTOR_MAX_RETRIES", 3),
			NodeRateLimit:   envInt64("EXECUTOR_NODE_RATE_LIMIT", 100*1024*1024),
		},
		Planner: Planner{
			MaxTasks:    envInt("PLANNER_MAX_TASKS", 100),
			MaxBytes:    envInt64("PLANNER_MAX_BYTES", 10*1024*1024*1024),
			MaxNodeLoad: envFloat("PLANNER_MAX_NODE_LOAD", 0.8),
			PreferLocal: envBool("PLANNER_PREFER_LOCAL", false),
		},
		TLS: TLS{
			CertPath:          os.Getenv("TLS_CERT_PATH"),
			KeyPath:           os.Getenv("TLS_KEY_PATH"),
			CACertPath:        os.Getenv("TLS_CA_CERT_PATH"),
			RequireClientCert: envBool("TLS_REQUIRE_CLIENT_CERT", false),
		},
		Pool: RPCPool{
			MaxConns:       envInt("RPC_POOL_MAX_CONNS", 64),
			IdleTimeout:    envDuration("RPC_POOL_IDLE_TIMEOUT", 5*time.Minute),
			ConnectTimeout: envDuration("RPC_CONNECT_TIMEOUT", 10*time.Second),
			RequestTimeout: envDuration("RPC_REQUEST_TIMEOUT", 60*time.Second),
		},
		ChunkSize:  envInt("CHUNK_SIZE_BYTES", DefaultChunkSize),
		ListenAddr: envString("LISTEN_ADDR", ":50051"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the invariants the erasure and chunk-size surfaces
// require before anything that depends on them starts.
func (c *Config) Validate() error {
	if c.Erasure.DataShards < 1 || c.Erasure.ParityShards < 1 {
		return fmt.Errorf("config: data/parity shards must be >= 1")
	}
	if c.Erasure.DataShards+c.Erasure.ParityShards > 255 {
		return fmt.Errorf("config: k+m must be <= 255")
	}
	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("config: chunk size %d outside [%d,%d]", c.ChunkSize, MinChunkSize, MaxChunkSize)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
