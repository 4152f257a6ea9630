package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestValidateRejectsZeroChainID(t *testing.T) {
	c := DefaultConfig()
	c.ChainID = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for chain_id 0")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	c := DefaultConfig()
	c.LogLevel = "verbose"
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for an unknown log level")
	}
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	c := DefaultConfig()
	c.LocalLimit = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a zero local_limit")
	}
}

func TestStorePathUnderDataDir(t *testing.T) {
	c := Config{DataDir: "/tmp/gw"}
	if got, want := c.StorePath(), "/tmp/gw/store"; got != want {
		t.Fatalf("StorePath() = %q, want %q", got, want)
	}
}
