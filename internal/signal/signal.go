// Package signal standardizes payloads shared between discovery and trading layers.
package signal

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscoveryEvent is one newly observed token as reported by a discovery source.
// Values are produced externally and never mutated after construction.
type DiscoveryEvent struct {
	TokenID       string
	Symbol        string
	ObservedPrice decimal.Decimal
	LiquidityUSD  float64
	Volume24hUSD  float64
	DexSource     string
	ObservedAt    time.Time

	// PriceChange24hPct is nil when the source did not report a 24h change.
	PriceChange24hPct *float64
	PairAddress       string
}

// Age reports how long ago the event was observed relative to now.
func (e DiscoveryEvent) Age(now time.Time) time.Duration {
	return now.Sub(e.ObservedAt)
}

// Volatility returns the absolute 24h price change when known.
func (e DiscoveryEvent) Volatility() (float64, bool) {
	if e.PriceChange24hPct == nil {
		return 0, false
	}
	v := *e.PriceChange24hPct
	if v < 0 {
		v = -v
	}
	return v, true
}
