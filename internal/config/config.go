package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the qtrade backend.
type Config struct {
	Server   Server        `yaml:"server"`
	Storage  Storage       `yaml:"storage"`
	Logging  Logging       `yaml:"logging"`
	Trading  TradingConfig `yaml:"trading"`
	Risk     RiskConfig    `yaml:"risk"`
	Alpaca   Alpaca        `yaml:"alpaca"`
	Quote    QuoteConfig   `yaml:"quote"`
	Poller   PollerConfig  `yaml:"poller"`
	Strategy StrategyCfg   `yaml:"strategy"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig selects the execution backend.
type TradingConfig struct {
	// MockMode routes all orders through the in-process simulator instead
	// of the live brokerage session.
	MockMode bool `yaml:"mock_mode"`
	// InitialCash seeds the simulated account on first run.
	InitialCash float64 `yaml:"initial_cash"`
}

// RiskConfig holds the parameters of the risk rule chain.
type RiskConfig struct {
	MaxSingleOrderAmount  float64 `yaml:"max_single_order_amount"`
	MaxPositionRatio      float64 `yaml:"max_position_ratio"`
	MaxDailyOrders        int     `yaml:"max_daily_orders"`
	BlockST               bool    `yaml:"block_st"`
	LotSize               int64   `yaml:"lot_size"`
	SkipTradingHoursCheck bool    `yaml:"skip_trading_hours_check"`
}

// Alpaca holds credentials and endpoints for the live brokerage session.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// QuoteConfig controls the external quote source client.
type QuoteConfig struct {
	TimeoutSeconds  int `yaml:"timeout_seconds"`
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// PollerConfig controls the background snapshot poller.
type PollerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StrategyCfg controls the advisory strategy engine.
type StrategyCfg struct {
	RunIntervalMinutes int `yaml:"run_interval_minutes"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:  Server{Host: "0.0.0.0", Port: 8000},
		Storage: Storage{DataDir: "data", SQLitePath: "data/qtrade.db"},
		Logging: Logging{Level: "info", Format: "json"},
		Trading: TradingConfig{MockMode: true, InitialCash: 500_000},
		Risk: RiskConfig{
			MaxSingleOrderAmount: 50_000,
			MaxPositionRatio:     0.20,
			MaxDailyOrders:       50,
			BlockST:              true,
			LotSize:              100,
		},
		Quote:    QuoteConfig{TimeoutSeconds: 10, RateLimitPerMin: 120},
		Poller:   PollerConfig{Enabled: true},
		Strategy: StrategyCfg{RunIntervalMinutes: 5},
	}
}

// Load reads the YAML configuration file at path over the defaults and then
// applies environment variable overrides. A missing file is not an error;
// defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QTRADE_MOCK_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.MockMode = b
		}
	}
	if v := os.Getenv("QTRADE_SKIP_TRADING_HOURS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Risk.SkipTradingHoursCheck = b
		}
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
