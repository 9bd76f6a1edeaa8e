package signal

import (
	"testing"
	"time"
)

func TestDiscoveryEventAge(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := DiscoveryEvent{TokenID: "T1", ObservedAt: now.Add(-10 * time.Second)}
	if got := ev.Age(now); got != 10*time.Second {
		t.Fatalf("expected 10s age, got %s", got)
	}
}

func TestDiscoveryEventVolatility(t *testing.T) {
	ev := DiscoveryEvent{TokenID: "T1"}
	if _, ok := ev.Volatility(); ok {
		t.Fatalf("expected unknown volatility")
	}
	change := -12.5
	ev.PriceChange24hPct = &change
	vol, ok := ev.Volatility()
	if !ok || vol != 12.5 {
		t.Fatalf("expected absolute volatility 12.5, got %v (%v)", vol, ok)
	}
}
