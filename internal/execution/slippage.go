package execution

import "math"

const (
	baseSlippagePct   = 0.5
	buyBufferPct      = 0.5
	maxBuySlippagePct = 5.0
	maxSellSlippage   = 3.0
)

// Market is the context the slippage tolerance is derived from.
type Market struct {
	AmountUSD    float64
	LiquidityUSD float64
	// VolatilityPct is the 24h price change in percent; nil when unknown.
	VolatilityPct *float64
}

// TradeImpactPct is the trade size as a percentage of pool liquidity. Unknown
// liquidity counts as 100%.
func TradeImpactPct(amountUSD, liquidityUSD float64) float64 {
	if liquidityUSD > 0 {
		return amountUSD / liquidityUSD * 100
	}
	return 100
}

// SlippagePct returns the tolerance in percent for a trade on side.
func SlippagePct(side Side, m Market) float64 {
	slip := baseSlippagePct
	if impact := TradeImpactPct(m.AmountUSD, m.LiquidityUSD); impact > 1 {
		slip += impact * 0.5
	}
	if m.VolatilityPct != nil {
		slip += math.Abs(*m.VolatilityPct) * 0.1
	}
	if side == Buy {
		slip += buyBufferPct
		return math.Min(slip, maxBuySlippagePct)
	}
	return math.Min(slip, maxSellSlippage)
}

// PctToBps converts a percentage to whole basis points.
func PctToBps(pct float64) int {
	return int(math.Round(pct * 100))
}
