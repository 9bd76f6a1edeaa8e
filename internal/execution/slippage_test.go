package execution

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func vol(v float64) *float64 { return &v }

func TestSlippageBaseCases(t *testing.T) {
	// Impact 0.1%: no impact term.
	assert.InDelta(t, 1.0, SlippagePct(Buy, Market{AmountUSD: 1, LiquidityUSD: 1000}), 1e-9)
	assert.InDelta(t, 0.5, SlippagePct(Sell, Market{AmountUSD: 1, LiquidityUSD: 1000}), 1e-9)

	// Impact 2%: +1.0, volatility 10%: +1.0.
	m := Market{AmountUSD: 20, LiquidityUSD: 1000, VolatilityPct: vol(-10)}
	assert.InDelta(t, 3.0, SlippagePct(Buy, m), 1e-9)
	assert.InDelta(t, 2.5, SlippagePct(Sell, m), 1e-9)
}

func TestSlippageUnknownLiquidityCaps(t *testing.T) {
	m := Market{AmountUSD: 5, LiquidityUSD: 0}
	assert.Equal(t, 100.0, TradeImpactPct(5, 0))
	assert.Equal(t, 5.0, SlippagePct(Buy, m))
	assert.Equal(t, 3.0, SlippagePct(Sell, m))
}

func TestSlippageMonotonicAndCapped(t *testing.T) {
	for _, side := range []Side{Buy, Sell} {
		for _, v := range []*float64{nil, vol(0), vol(35)} {
			prev := -1.0
			for amount := 0.0; amount <= 2000; amount += 7.5 {
				got := SlippagePct(side, Market{AmountUSD: amount, LiquidityUSD: 1000, VolatilityPct: v})
				if got < prev {
					t.Fatalf("%s slippage decreased at amount %.1f: %.4f < %.4f", side, amount, got, prev)
				}
				limit := 3.0
				if side == Buy {
					limit = 5.0
				}
				if got > limit {
					t.Fatalf("%s slippage %.4f exceeds cap %.1f", side, got, limit)
				}
				prev = got
			}
		}
	}
}

func TestSlippageBuyAtLeastSell(t *testing.T) {
	for impact := 0.0; impact < 20; impact += 0.25 {
		m := Market{AmountUSD: impact * 10, LiquidityUSD: 1000}
		if SlippagePct(Buy, m) < SlippagePct(Sell, m) {
			t.Fatalf("buy slippage below sell at impact %.2f", impact)
		}
	}
}

func TestPctToBps(t *testing.T) {
	assert.Equal(t, 150, PctToBps(1.5))
	assert.Equal(t, 500, PctToBps(5.0))
	assert.Equal(t, 123, PctToBps(1.2345))
	assert.Equal(t, 0, PctToBps(math.SmallestNonzeroFloat64))
}
