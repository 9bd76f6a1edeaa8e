// Package strategy decides when an open position should be exited.
package strategy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"snipebot-go/internal/config"
	"snipebot-go/internal/position"
)

// ExitRule evaluates an open position against the current price.
type ExitRule interface {
	// Evaluate returns the exit reason, or "" to keep holding.
	Evaluate(pos position.Position, price decimal.Decimal) position.CloseReason
	Name() string
}

// Params expresses the exit thresholds the rules are built from.
type Params struct {
	TakeProfitUSDC float64
	TakeProfitPct  float64
	// StopLossPct is a negative percentage, e.g. -4 for a 4% drop.
	StopLossPct float64
}

// Build returns the exit rule matching the resolved take-profit mode.
func Build(mode string, params Params) (ExitRule, error) {
	stop := decimal.NewFromFloat(params.StopLossPct)
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case config.TakeProfitAbsolute:
		return NewAbsoluteTakeProfit(decimal.NewFromFloat(params.TakeProfitUSDC), stop), nil
	case config.TakeProfitPercent:
		return NewPercentTakeProfit(decimal.NewFromFloat(params.TakeProfitPct), stop), nil
	default:
		return nil, fmt.Errorf("unknown take profit mode %q", mode)
	}
}

// FromConfig builds the exit rule described by the trading section.
func FromConfig(cfg *config.Config) (ExitRule, error) {
	mode, err := cfg.ResolvedTakeProfitMode()
	if err != nil {
		return nil, err
	}
	return Build(mode, Params{
		TakeProfitUSDC: cfg.Trading.TakeProfitUSDC,
		TakeProfitPct:  cfg.Trading.TakeProfitPct,
		StopLossPct:    cfg.Trading.StopLossPct,
	})
}
