// Package exchange hosts the off-chain market data connectors: DexScreener
// discovery and prices, and the Binance reference ticker.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultDexScreenerBaseURL = "https://api.dexscreener.com"

type dexscreenerPairsResponse struct {
	Pairs []dexscreenerPair `json:"pairs"`
	Pair  *dexscreenerPair  `json:"pair"`
}

type dexscreenerPair struct {
	ChainID       string                 `json:"chainId"`
	DexID         string                 `json:"dexId"`
	PairAddress   string                 `json:"pairAddress"`
	BaseToken     dexscreenerToken       `json:"baseToken"`
	QuoteToken    dexscreenerToken       `json:"quoteToken"`
	PriceUsd      string                 `json:"priceUsd"`
	PriceNative   string                 `json:"priceNative"`
	Volume        dexscreenerVolumes     `json:"volume"`
	Liquidity     dexscreenerLiquidity   `json:"liquidity"`
	PriceChange   dexscreenerPriceChange `json:"priceChange"`
	PairCreatedAt int64                  `json:"pairCreatedAt"`
}

type dexscreenerToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type dexscreenerVolumes struct {
	M5  float64 `json:"m5"`
	H1  float64 `json:"h1"`
	H6  float64 `json:"h6"`
	H24 float64 `json:"h24"`
}

type dexscreenerLiquidity struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// Windows are pointers so a missing one stays unknown.
type dexscreenerPriceChange struct {
	M5  *float64 `json:"m5"`
	H1  *float64 `json:"h1"`
	H6  *float64 `json:"h6"`
	H24 *float64 `json:"h24"`
}

type dexscreenerProfile struct {
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
	URL          string `json:"url"`
}

func (r *dexscreenerPairsResponse) all() []dexscreenerPair {
	if len(r.Pairs) > 0 {
		return r.Pairs
	}
	if r.Pair != nil {
		return []dexscreenerPair{*r.Pair}
	}
	return nil
}

// priceUSD parses the pair USD price; ok is false when it is missing or not positive.
func (p *dexscreenerPair) priceUSD() (decimal.Decimal, bool) {
	if p == nil || p.PriceUsd == "" {
		return decimal.Zero, false
	}
	px, err := decimal.NewFromString(p.PriceUsd)
	if err != nil || !px.IsPositive() {
		return decimal.Zero, false
	}
	return px, true
}

func (p *dexscreenerPair) volume24h() float64 {
	switch {
	case p.Volume.H24 > 0:
		return p.Volume.H24
	case p.Volume.H6 > 0:
		return p.Volume.H6
	default:
		return p.Volume.H1
	}
}

// deepestPair picks the most liquid pair whose base token is address.
func deepestPair(pairs []dexscreenerPair, address string) (*dexscreenerPair, bool) {
	var best *dexscreenerPair
	for i := range pairs {
		p := &pairs[i]
		if !strings.EqualFold(p.BaseToken.Address, address) {
			continue
		}
		if _, ok := p.priceUSD(); !ok {
			continue
		}
		if best == nil || p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	return best, best != nil
}

// dexscreenerClient is the rate-limited HTTP client shared by discovery and prices.
type dexscreenerClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func newDexScreenerClient(baseURL string, perMinute int) *dexscreenerClient {
	if baseURL == "" {
		baseURL = defaultDexScreenerBaseURL
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &dexscreenerClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(limit, 5),
	}
}

func (c *dexscreenerClient) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "snipebot-go/1.0")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// tokenPairs fetches the pairs of up to 30 token addresses in one call.
func (c *dexscreenerClient) tokenPairs(ctx context.Context, addresses []string) ([]dexscreenerPair, error) {
	var payload dexscreenerPairsResponse
	if err := c.getJSON(ctx, "/latest/dex/tokens/"+strings.Join(addresses, ","), &payload); err != nil {
		return nil, err
	}
	return payload.all(), nil
}
