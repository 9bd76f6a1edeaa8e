package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"snipebot-go/internal/config"
)

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// DexScreenerPrices reports token USD prices from the deepest DexScreener pair.
// A fetched price is reused for the configured poll interval.
type DexScreenerPrices struct {
	client *dexscreenerClient
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

// NewDexScreenerPrices builds a price source from the DexScreener config.
func NewDexScreenerPrices(cfg config.DexScreener) *DexScreenerPrices {
	return &DexScreenerPrices{
		client: newDexScreenerClient(cfg.BaseURL, cfg.RequestsPerMinute),
		ttl:    time.Duration(cfg.PollInterval) * time.Millisecond,
		now:    time.Now,
		cache:  make(map[string]cachedPrice),
	}
}

// PriceOf implements execution.PriceSource.
func (p *DexScreenerPrices) PriceOf(ctx context.Context, tokenID string) (decimal.Decimal, bool, error) {
	if px, ok := p.cached(tokenID); ok {
		return px, true, nil
	}
	pairs, err := p.client.tokenPairs(ctx, []string{tokenID})
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("dexscreener price %s: %w", tokenID, err)
	}
	pair, ok := deepestPair(pairs, tokenID)
	if !ok {
		return decimal.Zero, false, nil
	}
	px, _ := pair.priceUSD()
	p.mu.Lock()
	p.cache[tokenID] = cachedPrice{price: px, at: p.now()}
	p.mu.Unlock()
	return px, true, nil
}

func (p *DexScreenerPrices) cached(tokenID string) (decimal.Decimal, bool) {
	if p.ttl <= 0 {
		return decimal.Zero, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cache[tokenID]
	if !ok || p.now().Sub(c.at) >= p.ttl {
		return decimal.Zero, false
	}
	return c.price, true
}
