package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Risk.MaxSingleOrderAmount != 50_000 {
		t.Errorf("MaxSingleOrderAmount = %v, want 50000", cfg.Risk.MaxSingleOrderAmount)
	}
	if cfg.Risk.LotSize != 100 {
		t.Errorf("LotSize = %v, want 100", cfg.Risk.LotSize)
	}
	if !cfg.Trading.MockMode {
		t.Error("MockMode should default to true")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Server.Port)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qtrade.yaml")
	body := `
server:
  port: 9001
risk:
  max_daily_orders: 10
  block_st: false
trading:
  mock_mode: false
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("Port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Risk.MaxDailyOrders != 10 {
		t.Errorf("MaxDailyOrders = %d, want 10", cfg.Risk.MaxDailyOrders)
	}
	if cfg.Risk.BlockST {
		t.Error("BlockST should be overridden to false")
	}
	if cfg.Trading.MockMode {
		t.Error("MockMode should be overridden to false")
	}
	// Untouched fields keep defaults.
	if cfg.Risk.MaxPositionRatio != 0.20 {
		t.Errorf("MaxPositionRatio = %v, want 0.20", cfg.Risk.MaxPositionRatio)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SQLITE_PATH", "/tmp/override.db")
	t.Setenv("QTRADE_MOCK_MODE", "false")
	t.Setenv("APCA_API_KEY_ID", "key-from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.SQLitePath != "/tmp/override.db" {
		t.Errorf("SQLitePath = %q", cfg.Storage.SQLitePath)
	}
	if cfg.Trading.MockMode {
		t.Error("QTRADE_MOCK_MODE=false should disable mock mode")
	}
	if cfg.Alpaca.APIKey != "key-from-env" {
		t.Errorf("APIKey = %q", cfg.Alpaca.APIKey)
	}
}
