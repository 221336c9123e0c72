package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration. It is loaded
// once at startup and treated as immutable for the lifetime of a run.
type Config struct {
	App      AppConfig      `json:"app"`
	Fees     FeeConfig      `json:"fees"`
	Fill     FillConfig     `json:"fill"`
	Orders   OrderConfig    `json:"orders"`
	Risk     RiskConfig     `json:"risk"`
	Logging  LoggingConfig  `json:"logging"`
	Backtest BacktestConfig `json:"backtest"`
}

// AppConfig contains basic application configuration
type AppConfig struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"` // "development", "production", "test"
	Debug       bool   `json:"debug"`
}

// FeeTier is one rung of a volume-tier schedule. The highest tier whose
// threshold does not exceed cumulative monthly volume wins.
type FeeTier struct {
	VolumeThreshold float64 `json:"volume_threshold"`
	MakerRate       float64 `json:"maker_rate"`
	TakerRate       float64 `json:"taker_rate"`
}

// ExchangeFees is the default maker/taker schedule for one exchange
type ExchangeFees struct {
	MakerRate float64 `json:"maker_rate"`
	TakerRate float64 `json:"taker_rate"`
}

// FeeConfig contains the fee model configuration
type FeeConfig struct {
	Exchange string `json:"exchange"`

	// Explicit override; used ahead of tiers and exchange defaults when set
	MakerOverride float64 `json:"maker_override"`
	TakerOverride float64 `json:"taker_override"`
	UseOverride   bool    `json:"use_override"`

	// Volume-tier schedule, ordered by ascending threshold
	VolumeTiers []FeeTier `json:"volume_tiers"`

	// Per-exchange default schedules; unknown exchanges fall back to
	// DefaultMakerRate/DefaultTakerRate
	ExchangeDefaults map[string]ExchangeFees `json:"exchange_defaults"`
	DefaultMakerRate float64                 `json:"default_maker_rate"`
	DefaultTakerRate float64                 `json:"default_taker_rate"`

	MinimumFee float64 `json:"minimum_fee"`
}

// FillConfig contains fill simulation configuration
type FillConfig struct {
	// Slippage is additive and proportional to the intrabar range
	SlippageFactor float64 `json:"slippage_factor"`
	MaxSlippagePct float64 `json:"max_slippage_pct"` // cap, fraction of base price

	// Market impact is additive and proportional to order notional
	// relative to bar volume
	ImpactFactor float64 `json:"impact_factor"`

	// Partial fills
	PartialFillsEnabled bool    `json:"partial_fills_enabled"`
	MaxVolumeFraction   float64 `json:"max_volume_fraction"`
	MinFillQuantity     float64 `json:"min_fill_quantity"`
}

// OrderConfig contains order manager configuration
type OrderConfig struct {
	MaxPendingPerSymbol int `json:"max_pending_per_symbol"`
}

// RiskConfig contains risk management configuration
type RiskConfig struct {
	MaxPositionPct    float64 `json:"max_position_pct"`     // position notional as share of equity
	MaxPortfolioHeat  float64 `json:"max_portfolio_heat"`   // aggregate notional / equity
	MaxOpenPositions  int     `json:"max_open_positions"`
	MinNotional       float64 `json:"min_notional"`
	DailyLossLimitPct float64 `json:"daily_loss_limit_pct"` // percent, e.g. 5.0
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`     // percent from peak
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level     string `json:"level"`     // "debug", "info", "warn", "error"
	Format    string `json:"format"`    // "json", "text"
	Output    string `json:"output"`    // "stdout", "file", "both"
	Directory string `json:"directory"` // log file directory

	// File rotation
	MaxSize    int  `json:"max_size"`    // max MB per file
	MaxBackups int  `json:"max_backups"` // max number of old files
	MaxAge     int  `json:"max_age"`     // max days to retain
	Compress   bool `json:"compress"`
}

// BacktestConfig contains run configuration
type BacktestConfig struct {
	DataDirectory    string    `json:"data_directory"`
	Symbols          []string  `json:"symbols"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	InitialCapital   float64   `json:"initial_capital"`
	ResultsDirectory string    `json:"results_directory"`
	ExportTrades     bool      `json:"export_trades"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "backsim",
			Version:     "1.0.0",
			Environment: "development",
			Debug:       false,
		},
		Fees: FeeConfig{
			Exchange: "binance",
			VolumeTiers: []FeeTier{
				{VolumeThreshold: 0, MakerRate: 0.0010, TakerRate: 0.0010},
				{VolumeThreshold: 1_000_000, MakerRate: 0.0009, TakerRate: 0.0010},
				{VolumeThreshold: 5_000_000, MakerRate: 0.0008, TakerRate: 0.0009},
			},
			ExchangeDefaults: map[string]ExchangeFees{
				"binance":  {MakerRate: 0.0010, TakerRate: 0.0010},
				"coinbase": {MakerRate: 0.0040, TakerRate: 0.0060},
				"kraken":   {MakerRate: 0.0016, TakerRate: 0.0026},
			},
			DefaultMakerRate: 0.0010,
			DefaultTakerRate: 0.0010,
			MinimumFee:       0,
		},
		Fill: FillConfig{
			SlippageFactor:      0.05,
			MaxSlippagePct:      0.005, // 0.5% of base price
			ImpactFactor:        0.1,
			PartialFillsEnabled: false,
			MaxVolumeFraction:   0.1,
			MinFillQuantity:     0.0001,
		},
		Orders: OrderConfig{
			MaxPendingPerSymbol: 20,
		},
		Risk: RiskConfig{
			MaxPositionPct:    0.20, // 20% of equity per position
			MaxPortfolioHeat:  0.60,
			MaxOpenPositions:  10,
			MinNotional:       10.0,
			DailyLossLimitPct: 5.0,
			MaxDrawdownPct:    20.0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			Directory:  "./logs",
			MaxSize:    100, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		},
		Backtest: BacktestConfig{
			Symbols:          []string{"BTCUSDT"},
			InitialCapital:   10000.0,
			ResultsDirectory: "./results",
			ExportTrades:     true,
		},
	}
}

// LoadConfig loads configuration from file, creating a default one when the
// file does not exist. A .env file, if present, overrides scalar knobs.
func LoadConfig(configPath string) (*Config, error) {
	// Missing .env is fine; plain environment variables still apply.
	_ = godotenv.Load()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		defaultConfig := DefaultConfig()
		defaultConfig.applyEnv()
		if err := SaveConfig(defaultConfig, configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return defaultConfig, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnv overrides scalar knobs from environment variables
func (c *Config) applyEnv() {
	c.Fees.Exchange = GetEnv("BACKSIM_EXCHANGE", c.Fees.Exchange)
	c.Backtest.InitialCapital = GetEnvFloat("BACKSIM_INITIAL_CAPITAL", c.Backtest.InitialCapital)
	c.Backtest.DataDirectory = GetEnv("BACKSIM_DATA_DIR", c.Backtest.DataDirectory)
	c.Backtest.ResultsDirectory = GetEnv("BACKSIM_RESULTS_DIR", c.Backtest.ResultsDirectory)
	c.Logging.Level = GetEnv("BACKSIM_LOG_LEVEL", c.Logging.Level)
	c.Risk.DailyLossLimitPct = GetEnvFloat("BACKSIM_DAILY_LOSS_PCT", c.Risk.DailyLossLimitPct)
	c.Risk.MaxDrawdownPct = GetEnvFloat("BACKSIM_MAX_DRAWDOWN_PCT", c.Risk.MaxDrawdownPct)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive")
	}
	if len(c.Backtest.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}

	if c.Fill.SlippageFactor < 0 || c.Fill.ImpactFactor < 0 {
		return fmt.Errorf("slippage and impact factors must be non-negative")
	}
	if c.Fill.PartialFillsEnabled {
		if c.Fill.MaxVolumeFraction <= 0 || c.Fill.MaxVolumeFraction > 1 {
			return fmt.Errorf("max volume fraction must be in (0, 1]")
		}
	}

	if c.Orders.MaxPendingPerSymbol <= 0 {
		return fmt.Errorf("max pending orders per symbol must be positive")
	}

	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		return fmt.Errorf("max position pct must be between 0 and 1")
	}
	if c.Risk.MaxPortfolioHeat <= 0 {
		return fmt.Errorf("max portfolio heat must be positive")
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("max open positions must be positive")
	}

	for i := 1; i < len(c.Fees.VolumeTiers); i++ {
		if c.Fees.VolumeTiers[i].VolumeThreshold <= c.Fees.VolumeTiers[i-1].VolumeThreshold {
			return fmt.Errorf("fee volume tiers must have ascending thresholds")
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if c.Logging.Level == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := []string{"json", "text"}
	formatValid := false
	for _, format := range validFormats {
		if c.Logging.Format == format {
			formatValid = true
			break
		}
	}
	if !formatValid {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// GetEnv returns environment variable with default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvBool returns boolean environment variable with default value
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

// GetEnvFloat returns float environment variable with default value
func GetEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var parsed float64
		if _, err := fmt.Sscanf(value, "%f", &parsed); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvInt returns integer environment variable with default value
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var parsed int
		if _, err := fmt.Sscanf(value, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return defaultValue
}
