// Package config loads and validates configuration for a rollup core
// node: a flat Config shaped for CLI flags, and a section-structured
// FileConfig parsed from a config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds flag-shaped configuration for a rollup core node.
type Config struct {
	// DataDir is the root directory for the pebble store and any other
	// on-disk state.
	DataDir string

	// ChainID identifies the rollup chain.
	ChainID uint64

	// L1RPCURL is the JSON-RPC endpoint of the backing L1 node. The core
	// only ever depends on the Submitter/StatusPoller interfaces that
	// wrap it, never the transport itself.
	L1RPCURL string

	// L1IndexerURL is the CKB indexer endpoint setting. Nothing in this
	// module connects to it; custodian.Collect receives indexer
	// candidates from its caller.
	L1IndexerURL string

	// ProduceIntervalMS is the block-production tick interval, in
	// milliseconds.
	ProduceIntervalMS int

	// LocalLimit bounds how many produced blocks may queue locally
	// before submission.
	LocalLimit int

	// SubmittedLimit bounds how many submission transactions may be
	// outstanding on L1 at once.
	SubmittedLimit int

	// LogLevel controls log verbosity (debug, info, warn, error).
	LogLevel string

	// LogFormat selects the log encoding (json, text).
	LogFormat string

	// Metrics is the metrics setting; it is reported at startup only. The
	// standard counters/gauges are registered whatever its value.
	Metrics bool
}

// defaultDataDir returns the platform-specific default data directory,
// falling back to a relative path if the home directory is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".godwoken-core"
	}
	return filepath.Join(home, ".godwoken-core")
}

// DefaultConfig returns a Config with the PSC reactor's own defaults
// (psc.DefaultConfig) mirrored in milliseconds for file/flag representation.
func DefaultConfig() Config {
	return Config{
		DataDir:           defaultDataDir(),
		ChainID:           1,
		ProduceIntervalMS: 3000,
		LocalLimit:        5,
		SubmittedLimit:    3,
		LogLevel:          "info",
		LogFormat:         "json",
		Metrics:           false,
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: datadir must not be empty")
	}
	if c.ChainID == 0 {
		return errors.New("config: chain_id must be greater than 0")
	}
	if c.ProduceIntervalMS <= 0 {
		return fmt.Errorf("config: invalid produce_interval_ms: %d", c.ProduceIntervalMS)
	}
	if c.LocalLimit <= 0 {
		return fmt.Errorf("config: invalid local_limit: %d", c.LocalLimit)
	}
	if c.SubmittedLimit <= 0 {
		return fmt.Errorf("config: invalid submitted_limit: %d", c.SubmittedLimit)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}

// dataDirSubdirs lists subdirectories created inside the data directory.
var dataDirSubdirs = []string{"store", "keystore"}

// InitDataDir creates the data directory and its standard subdirectories.
func (c *Config) InitDataDir() error {
	if c.DataDir == "" {
		return errors.New("config: datadir must not be empty")
	}
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return fmt.Errorf("config: create datadir: %w", err)
	}
	for _, sub := range dataDirSubdirs {
		if err := os.MkdirAll(filepath.Join(c.DataDir, sub), 0700); err != nil {
			return fmt.Errorf("config: create %s: %w", sub, err)
		}
	}
	return nil
}

// StorePath returns the pebble store directory under DataDir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "store")
}
