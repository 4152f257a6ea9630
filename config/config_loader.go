package config

import (
	"fmt"
	"strconv"
	"strings"
)

// FileConfig holds the section-structured configuration parsed from a
// config file, richer than the flat Config used for CLI flags.
type FileConfig struct {
	DataDir string
	ChainID uint64

	L1   L1Config
	PSC  PSCConfig
	Log  LogConfig
}

// L1Config holds the L1 RPC/indexer endpoints.
type L1Config struct {
	RPCURL     string
	IndexerURL string
}

// PSCConfig holds produce-submit-confirm tuning knobs.
type PSCConfig struct {
	ProduceIntervalMS int
	LocalLimit        int
	SubmittedLimit    int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// DefaultFileConfig returns a FileConfig with sensible defaults.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		DataDir: defaultDataDir(),
		ChainID: 1,
		PSC: PSCConfig{
			ProduceIntervalMS: 3000,
			LocalLimit:        5,
			SubmittedLimit:    3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// ToConfig flattens a FileConfig into the CLI-flag-shaped Config.
func (fc *FileConfig) ToConfig() Config {
	return Config{
		DataDir:           fc.DataDir,
		ChainID:           fc.ChainID,
		L1RPCURL:          fc.L1.RPCURL,
		L1IndexerURL:      fc.L1.IndexerURL,
		ProduceIntervalMS: fc.PSC.ProduceIntervalMS,
		LocalLimit:        fc.PSC.LocalLimit,
		SubmittedLimit:    fc.PSC.SubmittedLimit,
		LogLevel:          fc.Log.Level,
		LogFormat:         fc.Log.Format,
	}
}

// LoadFileConfig parses a TOML-like configuration from raw bytes. It
// supports "key = value" pairs and "[section]" headers, with quoted or
// unquoted string values and plain integers.
func LoadFileConfig(data []byte) (*FileConfig, error) {
	cfg := DefaultFileConfig()
	section := ""

	for lineNum, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || line[0] == '#' {
			continue
		}
		if line[0] == '[' {
			end := strings.Index(line, "]")
			if end < 0 {
				return nil, fmt.Errorf("line %d: unclosed section header", lineNum+1)
			}
			section = strings.TrimSpace(line[1:end])
			continue
		}
		eqIdx := strings.Index(line, "=")
		if eqIdx < 0 {
			return nil, fmt.Errorf("line %d: expected key = value", lineNum+1)
		}
		key := strings.TrimSpace(line[:eqIdx])
		val := strings.TrimSpace(line[eqIdx+1:])
		if err := applyFileConfigValue(cfg, section, key, val, lineNum+1); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func applyFileConfigValue(cfg *FileConfig, section, key, val string, lineNum int) error {
	switch section {
	case "":
		return applyTopLevel(cfg, key, val, lineNum)
	case "l1":
		return applyL1(cfg, key, val, lineNum)
	case "psc":
		return applyPSC(cfg, key, val, lineNum)
	case "log":
		return applyLog(cfg, key, val, lineNum)
	default:
		return fmt.Errorf("line %d: unknown section [%s]", lineNum, section)
	}
}

func applyTopLevel(cfg *FileConfig, key, val string, lineNum int) error {
	switch key {
	case "datadir":
		cfg.DataDir = unquote(val)
	case "chain_id":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid chain_id: %w", lineNum, err)
		}
		cfg.ChainID = n
	default:
		return fmt.Errorf("line %d: unknown key %q in top-level", lineNum, key)
	}
	return nil
}

func applyL1(cfg *FileConfig, key, val string, lineNum int) error {
	switch key {
	case "rpc_url":
		cfg.L1.RPCURL = unquote(val)
	case "indexer_url":
		cfg.L1.IndexerURL = unquote(val)
	default:
		return fmt.Errorf("line %d: unknown key %q in [l1]", lineNum, key)
	}
	return nil
}

func applyPSC(cfg *FileConfig, key, val string, lineNum int) error {
	switch key {
	case "produce_interval_ms":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid produce_interval_ms: %w", lineNum, err)
		}
		cfg.PSC.ProduceIntervalMS = n
	case "local_limit":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid local_limit: %w", lineNum, err)
		}
		cfg.PSC.LocalLimit = n
	case "submitted_limit":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid submitted_limit: %w", lineNum, err)
		}
		cfg.PSC.SubmittedLimit = n
	default:
		return fmt.Errorf("line %d: unknown key %q in [psc]", lineNum, key)
	}
	return nil
}

func applyLog(cfg *FileConfig, key, val string, lineNum int) error {
	switch key {
	case "level":
		cfg.Log.Level = unquote(val)
	case "format":
		cfg.Log.Format = unquote(val)
	default:
		return fmt.Errorf("line %d: unknown key %q in [log]", lineNum, key)
	}
	return nil
}

// unquote strips surrounding double quotes from a string value.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
