package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "")
	t.Setenv("SNIPEBOT_PAPER", "")
	path := filepath.Join("testdata", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "snipebot-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if cfg.Trading.PositionSizeBase != 0.25 {
		t.Fatalf("unexpected position size: %.2f", cfg.Trading.PositionSizeBase)
	}
	mode, err := cfg.ResolvedTakeProfitMode()
	if err != nil || mode != TakeProfitAbsolute {
		t.Fatalf("expected absolute take-profit mode, got %q (%v)", mode, err)
	}
	if cfg.Trading.TakeProfitUSDC != 0.05 {
		t.Fatalf("unexpected take profit usdc: %.2f", cfg.Trading.TakeProfitUSDC)
	}
	if cfg.Trading.StopLossPct != -4 {
		t.Fatalf("unexpected stop loss: %.2f", cfg.Trading.StopLossPct)
	}
	if cfg.Trading.MaxConcurrentPositions != 2 {
		t.Fatalf("unexpected max positions: %d", cfg.Trading.MaxConcurrentPositions)
	}
	if cfg.Trading.MonitorTickInterval() != 500*time.Millisecond {
		t.Fatalf("unexpected tick interval: %s", cfg.Trading.MonitorTickInterval())
	}
	if len(cfg.Filter.RequiredDexes) != 2 || cfg.Filter.RequiredDexes[1] != "orca" {
		t.Fatalf("unexpected required dexes: %+v", cfg.Filter.RequiredDexes)
	}
	if cfg.Filter.MaxTokenAge() != 2*time.Minute {
		t.Fatalf("unexpected max age: %s", cfg.Filter.MaxTokenAge())
	}
	if cfg.Execution.BaseRetryDelay() != time.Second {
		t.Fatalf("unexpected base retry delay: %s", cfg.Execution.BaseRetryDelay())
	}
	if cfg.Execution.ConfirmationDeadline() != 45*time.Second {
		t.Fatalf("unexpected confirmation deadline: %s", cfg.Execution.ConfirmationDeadline())
	}
	// Keys absent from the file keep their defaults.
	if cfg.Execution.CallTimeout() != 8*time.Second {
		t.Fatalf("expected default call timeout, got %s", cfg.Execution.CallTimeout())
	}
	if cfg.Discovery.Backpressure != BackpressureBlock {
		t.Fatalf("unexpected backpressure: %s", cfg.Discovery.Backpressure)
	}
	if cfg.Dex.Commitment != "processed" {
		t.Fatalf("expected processed commitment, got %s", cfg.Dex.Commitment)
	}
	if cfg.Dex.PriceSource != PriceSourceDexScreener {
		t.Fatalf("unexpected price source: %s", cfg.Dex.PriceSource)
	}
	if cfg.Dex.QuoteMint != WrappedSOLMint {
		t.Fatalf("expected default quote mint, got %s", cfg.Dex.QuoteMint)
	}
	if !cfg.Paper.Enabled || cfg.Paper.StartingCash != 5 {
		t.Fatalf("unexpected paper settings: %+v", cfg.Paper)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "https://rpc.example")
	t.Setenv("SNIPEBOT_PAPER", "false")
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Dex.RpcURL != "https://rpc.example" {
		t.Fatalf("expected env rpc url, got %s", cfg.Dex.RpcURL)
	}
	if cfg.Paper.Enabled {
		t.Fatalf("expected paper disabled by env")
	}
}

func TestResolvedTakeProfitModeAmbiguous(t *testing.T) {
	cfg := Default()
	cfg.Trading.TakeProfitMode = ""
	cfg.Trading.TakeProfitUSDC = 0.05
	cfg.Trading.TakeProfitPct = 50
	if _, err := cfg.ResolvedTakeProfitMode(); err == nil {
		t.Fatalf("expected error when both thresholds set without a mode")
	}
	cfg.Trading.TakeProfitPct = 0
	mode, err := cfg.ResolvedTakeProfitMode()
	if err != nil || mode != TakeProfitAbsolute {
		t.Fatalf("expected inferred absolute mode, got %q (%v)", mode, err)
	}
}

func TestLoadAbsoluteOnlyThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "trading:\n  take_profit_usdc: 0.05\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	mode, err := cfg.ResolvedTakeProfitMode()
	if err != nil || mode != TakeProfitAbsolute {
		t.Fatalf("expected absolute mode from take_profit_usdc alone, got %q (%v)", mode, err)
	}
	if cfg.Trading.TakeProfitPct != 0 {
		t.Fatalf("percent default leaked into absolute config: %.2f", cfg.Trading.TakeProfitPct)
	}
}

func TestLoadWithoutThresholdUsesPercentDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: bare\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	mode, err := cfg.ResolvedTakeProfitMode()
	if err != nil || mode != TakeProfitPercent || cfg.Trading.TakeProfitPct != 50 {
		t.Fatalf("expected percent 50 default, got %q %.2f (%v)", mode, cfg.Trading.TakeProfitPct, err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Trading.StopLossPct = 5
	cfg.Filter.RequiredDexes = nil
	cfg.Trading.MaxConcurrentPositions = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"stop_loss_pct", "required_dexes", "max_concurrent_positions"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in error, got %v", want, err)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("SNIPEBOT_PAPER", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Trading.MaxConcurrentPositions = 9
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.Trading.MaxConcurrentPositions != 9 {
		t.Fatalf("expected 9 positions, got %d", loaded.Trading.MaxConcurrentPositions)
	}
}
