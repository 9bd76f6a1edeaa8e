// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Take-profit modes. Exactly one governs a deployment.
const (
	TakeProfitAbsolute = "absolute"
	TakeProfitPercent  = "percent"
)

// Backpressure policies for the discovery channel.
const (
	BackpressureDrop  = "drop"
	BackpressureBlock = "block"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogPretty   bool   `yaml:"log_pretty"`
}

// Trading holds position sizing, exit thresholds and monitor cadence.
type Trading struct {
	PositionSizeBase           float64 `yaml:"position_size_base"`
	BalanceReserveBase         float64 `yaml:"balance_reserve_base"`
	TakeProfitMode             string  `yaml:"take_profit_mode"`
	TakeProfitUSDC             float64 `yaml:"take_profit_usdc"`
	TakeProfitPct              float64 `yaml:"take_profit_pct"`
	StopLossPct                float64 `yaml:"stop_loss_pct"`
	MaxConcurrentPositions     int     `yaml:"max_concurrent_positions"`
	MonitorTickIntervalSeconds float64 `yaml:"monitor_tick_interval_seconds"`
	StatusIntervalSeconds      int     `yaml:"status_interval_seconds"`
}

// Filter configures admission of discovery events.
type Filter struct {
	MaxTokenAgeSeconds int      `yaml:"max_token_age_seconds"`
	MinLiquidityUSD    float64  `yaml:"min_liquidity_usd"`
	MinVolume24h       float64  `yaml:"min_volume_24h"`
	RequiredDexes      []string `yaml:"required_dexes"`
}

// Execution tunes the swap gateway retry, timeout and confirmation behaviour.
type Execution struct {
	MaxRetries                  int     `yaml:"max_retries"`
	BaseRetryDelayMs            int     `yaml:"base_retry_delay_ms"`
	CallTimeoutSeconds          int     `yaml:"call_timeout_seconds"`
	ConfirmationDeadlineSeconds int     `yaml:"confirmation_deadline_seconds"`
	ConfirmationPollMs          int     `yaml:"confirmation_poll_ms"`
	SkipPreflight               bool    `yaml:"skip_preflight"`
	PriorityFeeLamports         uint64  `yaml:"priority_fee_lamports"`
	RequestsPerSecond           float64 `yaml:"requests_per_second"`
}

// DexScreener configures the HTTP endpoints used for discovery and pair prices.
type DexScreener struct {
	BaseURL      string `yaml:"base_url"`
	DefaultChain string `yaml:"default_chain"`
	// PollInterval is how long a fetched pair price is reused, in milliseconds.
	PollInterval      int `yaml:"poll_interval_ms"`
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Discovery configures the new-token producer feeding the engine.
type Discovery struct {
	Enabled         bool        `yaml:"enabled"`
	Chains          []string    `yaml:"chains"`
	RefreshInterval int         `yaml:"refresh_interval_ms"`
	MaxTokens       int         `yaml:"max_tokens_per_refresh"`
	BufferSize      int         `yaml:"buffer_size"`
	Backpressure    string      `yaml:"backpressure"`
	DexScreener     DexScreener `yaml:"dexscreener"`
}

// ReferencePrice selects where the quote asset (SOL) USD price comes from.
type ReferencePrice struct {
	Provider string `yaml:"provider"` // binance|none
	Symbol   string `yaml:"symbol"`
	URL      string `yaml:"url"`
}

// Paper captures paper-trading account settings.
type Paper struct {
	Enabled      bool    `yaml:"enabled"`
	StartingCash float64 `yaml:"starting_cash"`
	SlippageBps  float64 `yaml:"slippage_bps"`
	MaxLatencyMs int     `yaml:"max_latency_ms"`
}

// Journal selects where closed and failed positions are recorded.
type Journal struct {
	JSONLPath  string `yaml:"jsonl_path"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App            App            `yaml:"app"`
	Trading        Trading        `yaml:"trading"`
	Filter         Filter         `yaml:"filter"`
	Execution      Execution      `yaml:"execution"`
	Discovery      Discovery      `yaml:"discovery"`
	ReferencePrice ReferencePrice `yaml:"reference_price"`
	Dex            Dex            `yaml:"dex"`
	Wallet         Wallet         `yaml:"wallet"`
	Paper          Paper          `yaml:"paper"`
	Journal        Journal        `yaml:"journal"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		App: App{
			Name:        "snipebot",
			Env:         "dev",
			MetricsAddr: ":9102",
			LogLevel:    "info",
		},
		Trading: Trading{
			PositionSizeBase:           0.1,
			BalanceReserveBase:         0.01,
			TakeProfitMode:             TakeProfitPercent,
			TakeProfitPct:              50,
			StopLossPct:                -20,
			MaxConcurrentPositions:     5,
			MonitorTickIntervalSeconds: 1,
			StatusIntervalSeconds:      30,
		},
		Filter: Filter{
			MaxTokenAgeSeconds: 120,
			MinLiquidityUSD:    100,
			MinVolume24h:       50,
			RequiredDexes:      []string{"raydium"},
		},
		Execution: Execution{
			MaxRetries:                  3,
			BaseRetryDelayMs:            1000,
			CallTimeoutSeconds:          8,
			ConfirmationDeadlineSeconds: 60,
			ConfirmationPollMs:          500,
			SkipPreflight:               true,
			RequestsPerSecond:           5,
		},
		Discovery: Discovery{
			Enabled:         true,
			Chains:          []string{"solana"},
			RefreshInterval: 2000,
			MaxTokens:       30,
			BufferSize:      64,
			Backpressure:    BackpressureDrop,
			DexScreener: DexScreener{
				BaseURL:           "https://api.dexscreener.com",
				DefaultChain:      "solana",
				PollInterval:      1000,
				RequestsPerMinute: 240,
			},
		},
		ReferencePrice: ReferencePrice{
			Provider: "none",
			Symbol:   "solusdt",
			URL:      "wss://stream.binance.com:9443/stream",
		},
		Dex: Dex{
			Chain:       "solana",
			RpcURL:      "https://api.mainnet-beta.solana.com",
			Commitment:  "confirmed",
			JupiterBase: "https://quote-api.jup.ag",
			PriceBase:   "https://api.jup.ag",
			PriceSource: PriceSourceJupiter,
			QuoteMint:   WrappedSOLMint,
		},
		Paper: Paper{
			StartingCash: 10,
			SlippageBps:  30,
			MaxLatencyMs: 50,
		},
		Journal: Journal{
			JSONLPath: "data/journal.jsonl",
		},
	}
}

// Load reads a YAML file from disk on top of Default and applies environment overrides.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := Default()
	// The take-profit default applies only when the file names no threshold,
	// otherwise it would shadow a file that sets just take_profit_usdc.
	cfg.Trading.TakeProfitMode, cfg.Trading.TakeProfitPct = "", 0
	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.Trading.defaultTakeProfit()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (t *Trading) defaultTakeProfit() {
	if strings.TrimSpace(t.TakeProfitMode) == "" && t.TakeProfitUSDC <= 0 && t.TakeProfitPct <= 0 {
		t.TakeProfitMode = TakeProfitPercent
		t.TakeProfitPct = Default().Trading.TakeProfitPct
	}
}

// ResolvedTakeProfitMode returns the active take-profit mode. An explicit mode
// wins; otherwise the mode is inferred from whichever threshold is set.
func (c *Config) ResolvedTakeProfitMode() (string, error) {
	mode := strings.ToLower(strings.TrimSpace(c.Trading.TakeProfitMode))
	switch mode {
	case TakeProfitAbsolute, TakeProfitPercent:
		return mode, nil
	case "":
	default:
		return "", fmt.Errorf("unknown take_profit_mode %q", c.Trading.TakeProfitMode)
	}
	abs := c.Trading.TakeProfitUSDC > 0
	pct := c.Trading.TakeProfitPct > 0
	switch {
	case abs && pct:
		return "", errors.New("both take_profit_usdc and take_profit_pct set; choose take_profit_mode")
	case abs:
		return TakeProfitAbsolute, nil
	case pct:
		return TakeProfitPercent, nil
	}
	return "", errors.New("no take-profit threshold configured")
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	mode, err := c.ResolvedTakeProfitMode()
	if err != nil {
		errs = append(errs, err)
	}
	if mode == TakeProfitAbsolute && c.Trading.TakeProfitUSDC <= 0 {
		errs = append(errs, errors.New("take_profit_usdc must be positive in absolute mode"))
	}
	if mode == TakeProfitPercent && c.Trading.TakeProfitPct <= 0 {
		errs = append(errs, errors.New("take_profit_pct must be positive in percent mode"))
	}
	if c.Trading.StopLossPct >= 0 {
		errs = append(errs, errors.New("stop_loss_pct must be negative"))
	}
	if c.Trading.PositionSizeBase <= 0 {
		errs = append(errs, errors.New("position_size_base must be positive"))
	}
	if c.Trading.MaxConcurrentPositions <= 0 {
		errs = append(errs, errors.New("max_concurrent_positions must be positive"))
	}
	if len(c.Filter.RequiredDexes) == 0 {
		errs = append(errs, errors.New("required_dexes must not be empty"))
	}
	if c.Execution.MaxRetries <= 0 {
		errs = append(errs, errors.New("max_retries must be at least 1"))
	}
	switch c.Discovery.Backpressure {
	case BackpressureDrop, BackpressureBlock:
	default:
		errs = append(errs, fmt.Errorf("unknown discovery backpressure %q", c.Discovery.Backpressure))
	}
	switch c.Dex.PriceSource {
	case PriceSourceJupiter, PriceSourceDexScreener:
	default:
		errs = append(errs, fmt.Errorf("unknown price_source %q", c.Dex.PriceSource))
	}
	return errors.Join(errs...)
}

// MaxTokenAge converts the filter age bound to a duration.
func (f Filter) MaxTokenAge() time.Duration {
	return time.Duration(f.MaxTokenAgeSeconds) * time.Second
}

// BaseRetryDelay converts the configured delay to a duration.
func (e Execution) BaseRetryDelay() time.Duration {
	return time.Duration(e.BaseRetryDelayMs) * time.Millisecond
}

// CallTimeout is the per-attempt deadline for a single network call.
func (e Execution) CallTimeout() time.Duration {
	return time.Duration(e.CallTimeoutSeconds) * time.Second
}

// ConfirmationDeadline bounds how long a submitted transaction may stay unconfirmed.
func (e Execution) ConfirmationDeadline() time.Duration {
	return time.Duration(e.ConfirmationDeadlineSeconds) * time.Second
}

// ConfirmationPoll is the cadence of signature status checks.
func (e Execution) ConfirmationPoll() time.Duration {
	return time.Duration(e.ConfirmationPollMs) * time.Millisecond
}

// MonitorTickInterval converts the monitor cadence to a duration.
func (t Trading) MonitorTickInterval() time.Duration {
	return time.Duration(t.MonitorTickIntervalSeconds * float64(time.Second))
}
