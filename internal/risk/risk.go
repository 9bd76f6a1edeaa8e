// Package risk decides whether a discovery event may open a position.
package risk

import (
	"strings"
	"time"

	"snipebot-go/internal/signal"
)

// Reason codes explain why an event was not admitted.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonTooOld                Reason = "TooOld"
	ReasonInsufficientLiquidity Reason = "InsufficientLiquidity"
	ReasonInsufficientVolume    Reason = "InsufficientVolume"
	ReasonUnsupportedDex        Reason = "UnsupportedDex"
)

// Limits are the admission thresholds.
type Limits struct {
	MaxTokenAge     time.Duration
	MinLiquidityUSD float64
	MinVolume24h    float64
	RequiredDexes   []string
}

// Filter is a pure admission check over Limits.
type Filter struct {
	limits Limits
	dexes  map[string]struct{}
}

// NewFilter indexes the required DEX list case-insensitively.
func NewFilter(limits Limits) *Filter {
	dexes := make(map[string]struct{}, len(limits.RequiredDexes))
	for _, d := range limits.RequiredDexes {
		if d = normalizeDex(d); d != "" {
			dexes[d] = struct{}{}
		}
	}
	return &Filter{limits: limits, dexes: dexes}
}

// Admit runs the checks in order and returns the first failing reason.
func (f *Filter) Admit(ev signal.DiscoveryEvent, now time.Time) (bool, Reason) {
	if ev.Age(now) > f.limits.MaxTokenAge {
		return false, ReasonTooOld
	}
	if ev.LiquidityUSD < f.limits.MinLiquidityUSD {
		return false, ReasonInsufficientLiquidity
	}
	if ev.Volume24hUSD < f.limits.MinVolume24h {
		return false, ReasonInsufficientVolume
	}
	if _, ok := f.dexes[normalizeDex(ev.DexSource)]; !ok {
		return false, ReasonUnsupportedDex
	}
	return true, ReasonNone
}

func normalizeDex(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
