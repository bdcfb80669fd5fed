package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Market.Modes["place_order"] != "simulate" || cfg.Market.Modes["create_market"] != "execute" {
		t.Errorf("unexpected default modes: %v", cfg.Market.Modes)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "solbook.yaml", `
rpc:
  endpoint: http://127.0.0.1:8899
  timeout: 5s
  retry_count: 0
market:
  modes:
    place_order: execute
  default_lots:
    base_lot_size: 100
    base_decimals: 0
monitor:
  health_interval: 1s
wallet:
  auto_approve: true
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RPC.Endpoint != "http://127.0.0.1:8899" {
		t.Errorf("endpoint = %s", cfg.RPC.Endpoint)
	}
	if cfg.RPC.Timeout != 5*time.Second {
		t.Errorf("timeout = %s", cfg.RPC.Timeout)
	}
	if cfg.RPC.RetryCount != 0 {
		t.Errorf("retry_count = %d", cfg.RPC.RetryCount)
	}
	if cfg.Market.Modes["place_order"] != "execute" {
		t.Errorf("place_order mode = %s", cfg.Market.Modes["place_order"])
	}
	if cfg.Market.Modes["create_token_mint"] != "simulate" {
		t.Errorf("create_token_mint mode should keep default")
	}
	if cfg.Market.DefaultLots.BaseLotSize != 100 || cfg.Market.DefaultLots.BaseDecimals != 0 {
		t.Errorf("unexpected lots: %+v", cfg.Market.DefaultLots)
	}
	if cfg.Market.DefaultLots.QuoteLotSize != 1000 {
		t.Errorf("quote lot size should keep default")
	}
	if cfg.Monitor.HealthInterval != time.Second {
		t.Errorf("health interval = %s", cfg.Monitor.HealthInterval)
	}
	if !cfg.Wallet.AutoApprove {
		t.Error("auto approve should be true")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "solbook.json", `{"program":{"program_id":"11111111111111111111111111111111"},"store":{"path":"data/solbook.db"}}`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Program.ProgramID != "11111111111111111111111111111111" {
		t.Errorf("program id = %s", cfg.Program.ProgramID)
	}
	if cfg.Store.Path != "data/solbook.db" {
		t.Errorf("store path = %s", cfg.Store.Path)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "solbook.yml", "rpc:\n  endpoint: http://file:8899\n")
	t.Setenv("SOLBOOK_RPC_ENDPOINT", "http://env:8899")
	t.Setenv("SOLBOOK_MODE_PLACE_ORDER", "EXECUTE")
	t.Setenv("SOLBOOK_WALLET_AUTO_APPROVE", "true")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RPC.Endpoint != "http://env:8899" {
		t.Errorf("env should override file, got %s", cfg.RPC.Endpoint)
	}
	if cfg.Market.Modes["place_order"] != "execute" {
		t.Errorf("mode env override failed: %s", cfg.Market.Modes["place_order"])
	}
	if !cfg.Wallet.AutoApprove {
		t.Error("auto approve env override failed")
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, "solbook.toml", "")
		if _, err := LoadFromFile(path); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("bad duration", func(t *testing.T) {
		path := writeFile(t, "solbook.yaml", "rpc:\n  timeout: soon\n")
		if _, err := LoadFromFile(path); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("SOLBOOK_RPC_TIMEOUT", "later")
		if _, err := LoadFromFile(""); err == nil {
			t.Error("expected error")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty endpoint", func(c *Config) { c.RPC.Endpoint = "" }},
		{"non http endpoint", func(c *Config) { c.RPC.Endpoint = "ftp://x" }},
		{"bad ws endpoint", func(c *Config) { c.RPC.WSEndpoint = "http://x" }},
		{"bad commitment", func(c *Config) { c.RPC.Commitment = "max" }},
		{"bad provider", func(c *Config) { c.Wallet.Provider = "phantom" }},
		{"bad mode", func(c *Config) { c.Market.Modes["place_order"] = "maybe" }},
		{"unknown op", func(c *Config) { c.Market.Modes["cancel_order"] = "execute" }},
		{"zero lots", func(c *Config) { c.Market.DefaultLots.BaseLotSize = 0 }},
		{"zero interval", func(c *Config) { c.Monitor.BalanceInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
