package config

import "testing"

func TestLoadFileConfigParsesSections(t *testing.T) {
	data := []byte(`
datadir = "/data/gw"
chain_id = 868

[l1]
rpc_url = "https://l1.example/rpc"
indexer_url = "https://l1.example/indexer"

[psc]
produce_interval_ms = 5000
local_limit = 8
submitted_limit = 4

[log]
level = "debug"
format = "text"
`)
	cfg, err := LoadFileConfig(data)
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}
	if cfg.DataDir != "/data/gw" || cfg.ChainID != 868 {
		t.Fatalf("unexpected top-level fields: %+v", cfg)
	}
	if cfg.L1.RPCURL != "https://l1.example/rpc" || cfg.L1.IndexerURL != "https://l1.example/indexer" {
		t.Fatalf("unexpected l1 section: %+v", cfg.L1)
	}
	if cfg.PSC.ProduceIntervalMS != 5000 || cfg.PSC.LocalLimit != 8 || cfg.PSC.SubmittedLimit != 4 {
		t.Fatalf("unexpected psc section: %+v", cfg.PSC)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log section: %+v", cfg.Log)
	}
}

func TestLoadFileConfigDefaultsUnsetFields(t *testing.T) {
	cfg, err := LoadFileConfig([]byte(`chain_id = 42`))
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}
	if cfg.PSC.LocalLimit != 5 {
		t.Fatalf("expected default local_limit 5 to survive, got %d", cfg.PSC.LocalLimit)
	}
}

func TestLoadFileConfigRejectsUnknownSection(t *testing.T) {
	_, err := LoadFileConfig([]byte("[bogus]\nx = 1\n"))
	if err == nil {
		t.Fatal("expected an error for an unknown section")
	}
}

func TestLoadFileConfigRejectsMalformedLine(t *testing.T) {
	_, err := LoadFileConfig([]byte("not-a-key-value-line\n"))
	if err == nil {
		t.Fatal("expected an error for a line without '='")
	}
}

func TestToConfigFlattensFileConfig(t *testing.T) {
	fc := DefaultFileConfig()
	fc.L1.RPCURL = "https://l1"
	got := fc.ToConfig()
	if got.L1RPCURL != "https://l1" {
		t.Fatalf("expected flattened L1RPCURL, got %q", got.L1RPCURL)
	}
	if got.ProduceIntervalMS != fc.PSC.ProduceIntervalMS {
		t.Fatal("expected PSC fields to flatten through")
	}
}

func TestUnquoteStripsQuotes(t *testing.T) {
	if got := unquote(`"hello"`); got != "hello" {
		t.Fatalf("unquote: got %q", got)
	}
	if got := unquote("bare"); got != "bare" {
		t.Fatalf("unquote: got %q", got)
	}
}
