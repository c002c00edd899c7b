package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/zde37/chordring/pkg/hash"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds all configuration for a Chord node
type Config struct {
	// Node identification. NodeID overrides the identifier derived from
	// hashing host:port; decimal or 0x-prefixed hex.
	NodeID string
	Host   string
	Port   int

	// HTTP API, 0 disables it
	HTTPPort int

	// Bootstrap
	BootstrapNodes []string

	// Authentication
	AuthToken string // Shared secret for node authentication

	// Chord parameters. M and SuccessorListSize must match across the ring.
	M                        int           // Identifier space size in bits
	SuccessorListSize        int           // Number of successors (and replicas) to maintain
	StabilizeInterval        time.Duration // How often to run stabilization
	FixFingersInterval       time.Duration // How often to fix one finger entry
	CheckPredecessorInterval time.Duration // How often to ping the predecessor
	ReplicationInterval      time.Duration // How often to push replicas to successors
	RPCTimeout               time.Duration // Timeout for RPC calls
	MaxLookupHops            int           // 0 means M + 8

	Storage StorageConfig

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
	LogFile   string // optional rotated log file
}

// StorageConfig selects the key-value backend.
type StorageConfig struct {
	Backend     string // memory or postgres
	DatabaseURL string
	Table       string
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:                     "127.0.0.1",
		Port:                     8440,
		HTTPPort:                 8080,
		M:                        160, // 2^160 address space
		SuccessorListSize:        3,
		StabilizeInterval:        1 * time.Second,
		FixFingersInterval:       500 * time.Millisecond,
		CheckPredecessorInterval: 2 * time.Second,
		ReplicationInterval:      5 * time.Second,
		RPCTimeout:               3 * time.Second,
		Storage: StorageConfig{
			Backend: StorageMemory,
			Table:   "chord_kv",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Address returns host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LookupHopLimit returns the hop bound for a single lookup.
func (c *Config) LookupHopLimit() int {
	if c.MaxLookupHops > 0 {
		return c.MaxLookupHops
	}
	return c.M + 8
}

// Identifier returns the node's ring identifier in space: the configured
// NodeID when set, otherwise the hash of host:port.
func (c *Config) Identifier(space *hash.Space) (*big.Int, error) {
	if c.NodeID == "" {
		return space.HashAddress(c.Host, c.Port), nil
	}
	id, err := space.ParseID(c.NodeID)
	if err != nil {
		return nil, fmt.Errorf("invalid node id: %w", err)
	}
	return id, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.M <= 0 || c.M > 256 {
		return fmt.Errorf("M must be between 1 and 256, got %d", c.M)
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.SuccessorListSize < 1 {
		return fmt.Errorf("successor list size must be at least 1, got %d", c.SuccessorListSize)
	}
	if c.MaxLookupHops < 0 {
		return fmt.Errorf("max lookup hops cannot be negative, got %d", c.MaxLookupHops)
	}
	for name, d := range map[string]time.Duration{
		"stabilize interval":         c.StabilizeInterval,
		"fix fingers interval":       c.FixFingersInterval,
		"check predecessor interval": c.CheckPredecessorInterval,
		"replication interval":       c.ReplicationInterval,
		"RPC timeout":                c.RPCTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	switch c.Storage.Backend {
	case "", StorageMemory:
	case StoragePostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("postgres storage requires a database URL")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
