package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"snipebot-go/internal/position"
)

var hundred = decimal.NewFromInt(100)

// stopLossHit reports whether price has fallen to or below the stop. The
// comparison is cross-multiplied so no division rounds the boundary.
func stopLossHit(pos position.Position, price, stopPct decimal.Decimal) bool {
	if stopPct.IsZero() {
		return false
	}
	return price.Sub(pos.EntryPrice).Mul(hundred).LessThanOrEqual(stopPct.Mul(pos.EntryPrice))
}

// AbsoluteTakeProfit exits once unrealized PnL reaches a fixed quote amount.
type AbsoluteTakeProfit struct {
	target  decimal.Decimal
	stopPct decimal.Decimal
}

// NewAbsoluteTakeProfit builds the rule. stopPct is a negative percentage; zero disables it.
func NewAbsoluteTakeProfit(target, stopPct decimal.Decimal) *AbsoluteTakeProfit {
	return &AbsoluteTakeProfit{target: target, stopPct: stopPct}
}

func (r *AbsoluteTakeProfit) Name() string {
	return fmt.Sprintf("absolute(tp=%s,sl=%s%%)", r.target, r.stopPct)
}

func (r *AbsoluteTakeProfit) Evaluate(pos position.Position, price decimal.Decimal) position.CloseReason {
	if !pos.EntryPrice.IsPositive() || !price.IsPositive() {
		return ""
	}
	if pos.PnL(price).GreaterThanOrEqual(r.target) {
		return position.ReasonTakeProfit
	}
	if stopLossHit(pos, price, r.stopPct) {
		return position.ReasonStopLoss
	}
	return ""
}

// PercentTakeProfit exits once the price has risen by a percentage of entry.
type PercentTakeProfit struct {
	targetPct decimal.Decimal
	stopPct   decimal.Decimal
}

// NewPercentTakeProfit builds the rule. Both thresholds are in percent.
func NewPercentTakeProfit(targetPct, stopPct decimal.Decimal) *PercentTakeProfit {
	return &PercentTakeProfit{targetPct: targetPct, stopPct: stopPct}
}

func (r *PercentTakeProfit) Name() string {
	return fmt.Sprintf("percent(tp=%s%%,sl=%s%%)", r.targetPct, r.stopPct)
}

func (r *PercentTakeProfit) Evaluate(pos position.Position, price decimal.Decimal) position.CloseReason {
	if !pos.EntryPrice.IsPositive() || !price.IsPositive() {
		return ""
	}
	if price.Sub(pos.EntryPrice).Mul(hundred).GreaterThanOrEqual(r.targetPct.Mul(pos.EntryPrice)) {
		return position.ReasonTakeProfit
	}
	if stopLossHit(pos, price, r.stopPct) {
		return position.ReasonStopLoss
	}
	return ""
}
