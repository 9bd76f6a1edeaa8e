package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snipebot-go/internal/config"
	"snipebot-go/internal/signal"
)

const profilesBody = `[
	{"url":"https://dexscreener.com/solana/aaa","chainId":"solana","tokenAddress":"MintAAA"},
	{"url":"https://dexscreener.com/base/bbb","chainId":"base","tokenAddress":"0xBBB"},
	{"url":"https://dexscreener.com/solana/ccc","chainId":"solana","tokenAddress":"MintCCC"},
	{"url":"https://dexscreener.com/solana/aaa","chainId":"solana","tokenAddress":"MintAAA"}
]`

const tokensBody = `{"schemaVersion":"1.0.0","pairs":[
	{"chainId":"solana","dexId":"Raydium","pairAddress":"PairA1",
	 "baseToken":{"address":"MintAAA","name":"Dog Wif Hat","symbol":"wif"},
	 "quoteToken":{"address":"So11111111111111111111111111111111111111112","symbol":"SOL"},
	 "priceUsd":"0.001234","volume":{"h24":5000},"liquidity":{"usd":12000},
	 "priceChange":{"h24":-12.5},"pairCreatedAt":1700000000000},
	{"chainId":"solana","dexId":"orca","pairAddress":"PairA2",
	 "baseToken":{"address":"MintAAA","symbol":"WIF"},
	 "priceUsd":"0.0013","volume":{"h24":100},"liquidity":{"usd":300}}
]}`

func newTestDiscovery(t *testing.T, url string, backpressure string) *DexScreenerDiscovery {
	t.Helper()
	d := NewDexScreenerDiscovery(zerolog.Nop(), config.Discovery{
		Enabled:      true,
		Chains:       []string{"Solana"},
		MaxTokens:    10,
		Backpressure: backpressure,
		DexScreener:  config.DexScreener{BaseURL: url},
	})
	require.NotNil(t, d)
	d.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return d
}

// discoveryServer answers MintAAA lookups with pairs and anything else with none.
func discoveryServer(t *testing.T, tokenPaths *pathLog) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token-profiles/latest/v1":
			_, _ = io.WriteString(w, profilesBody)
		case strings.HasPrefix(r.URL.Path, "/latest/dex/tokens/"):
			tokenPaths.add(r.URL.Path)
			if strings.Contains(r.URL.Path, "MintAAA") {
				_, _ = io.WriteString(w, tokensBody)
				return
			}
			_, _ = io.WriteString(w, `{"pairs":null}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

type pathLog struct {
	mu    sync.Mutex
	paths []string
}

func (p *pathLog) add(path string) {
	p.mu.Lock()
	p.paths = append(p.paths, path)
	p.mu.Unlock()
}

func (p *pathLog) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

func TestDiscoveryEmitsUnseenTokens(t *testing.T) {
	var paths pathLog
	srv := discoveryServer(t, &paths)
	defer srv.Close()
	d := newTestDiscovery(t, srv.URL, config.BackpressureDrop)

	out := make(chan signal.DiscoveryEvent, 8)
	require.NoError(t, d.Refresh(context.Background(), out))
	require.Len(t, out, 1, "MintCCC has no pair yet and the base chain token is filtered")

	ev := <-out
	assert.Equal(t, "MintAAA", ev.TokenID)
	assert.Equal(t, "WIF", ev.Symbol)
	assert.Equal(t, "raydium", ev.DexSource)
	assert.Equal(t, "0.001234", ev.ObservedPrice.String())
	assert.Equal(t, 12000.0, ev.LiquidityUSD)
	assert.Equal(t, 5000.0, ev.Volume24hUSD)
	assert.Equal(t, "PairA1", ev.PairAddress)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ev.ObservedAt)
	require.NotNil(t, ev.PriceChange24hPct)
	assert.Equal(t, -12.5, *ev.PriceChange24hPct)

	// a second refresh only asks about the token still without a pool
	require.NoError(t, d.Refresh(context.Background(), out))
	assert.Empty(t, out)
	assert.Equal(t, []string{"/latest/dex/tokens/MintAAA,MintCCC", "/latest/dex/tokens/MintCCC"}, paths.all())
}

func TestDiscoveryDropPolicy(t *testing.T) {
	var paths pathLog
	srv := discoveryServer(t, &paths)
	defer srv.Close()
	d := newTestDiscovery(t, srv.URL, config.BackpressureDrop)

	out := make(chan signal.DiscoveryEvent) // never read
	done := make(chan error, 1)
	go func() { done <- d.Refresh(context.Background(), out) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("drop policy must not block")
	}
	assert.True(t, d.isKnown("MintAAA"))
}

func TestDiscoveryBlockPolicyHonorsContext(t *testing.T) {
	var paths pathLog
	srv := discoveryServer(t, &paths)
	defer srv.Close()
	d := newTestDiscovery(t, srv.URL, config.BackpressureBlock)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := d.Refresh(ctx, make(chan signal.DiscoveryEvent))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDiscoveryRunClosesChannel(t *testing.T) {
	var paths pathLog
	srv := discoveryServer(t, &paths)
	defer srv.Close()
	d := newTestDiscovery(t, srv.URL, config.BackpressureDrop)
	d.cfg.RefreshInterval = 10

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan signal.DiscoveryEvent, 4)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, out) }()

	select {
	case ev := <-out:
		assert.Equal(t, "MintAAA", ev.TokenID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	cancel()
	require.NoError(t, <-done)
	_, open := <-out
	assert.False(t, open)
}

func TestDisabledDiscoveryIsNil(t *testing.T) {
	assert.Nil(t, NewDexScreenerDiscovery(zerolog.Nop(), config.Discovery{Enabled: false}))
}

func TestRememberEvictsOldest(t *testing.T) {
	d := newTestDiscovery(t, "http://127.0.0.1:0", config.BackpressureDrop)
	d.knownLimit = 2
	d.remember("a")
	d.remember("b")
	d.remember("c")
	assert.False(t, d.isKnown("a"))
	assert.True(t, d.isKnown("b"))
	assert.True(t, d.isKnown("c"))
}

func TestTokenSymbol(t *testing.T) {
	cases := []struct {
		symbol, name, mint string
		want               string
	}{
		{" bonk! ", "", "MintX", "BONK"},
		{"🐸", "pepe coin", "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", "PEPECOIN_OSGASU"},
		{"", "", "abc123", "TOKEN_ABC123"},
		{"", "Moon", "", "MOON"},
		{"", "", "", "TOKEN"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tokenSymbol(tc.symbol, tc.name, tc.mint), "%q/%q/%q", tc.symbol, tc.name, tc.mint)
	}
}

func TestDiscoveryPublishesBeforeFailedChunk(t *testing.T) {
	mints := make([]string, tokensPerRequest+1)
	profiles := make([]string, len(mints))
	for i := range mints {
		mints[i] = fmt.Sprintf("Mint%02d", i)
		profiles[i] = fmt.Sprintf(`{"chainId":"solana","tokenAddress":%q}`, mints[i])
	}
	failing := mints[tokensPerRequest]
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token-profiles/latest/v1" {
			_, _ = io.WriteString(w, "["+strings.Join(profiles, ",")+"]")
			return
		}
		addrs := strings.Split(strings.TrimPrefix(r.URL.Path, "/latest/dex/tokens/"), ",")
		if slices.Contains(addrs, failing) && fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		pairs := make([]string, len(addrs))
		for i, a := range addrs {
			pairs[i] = fmt.Sprintf(`{"dexId":"raydium","baseToken":{"address":%q,"symbol":"T%d"},"priceUsd":"0.01","liquidity":{"usd":1000}}`, a, i)
		}
		_, _ = io.WriteString(w, `{"pairs":[`+strings.Join(pairs, ",")+`]}`)
	}))
	defer srv.Close()
	d := newTestDiscovery(t, srv.URL, config.BackpressureDrop)
	d.cfg.MaxTokens = 40

	out := make(chan signal.DiscoveryEvent, 64)
	err := d.Refresh(context.Background(), out)
	require.Error(t, err)
	assert.Len(t, out, tokensPerRequest, "first chunk resolved before the failure must still be published")
	assert.True(t, d.isKnown(mints[0]))
	assert.False(t, d.isKnown(failing), "unpublished token must be retried")

	for len(out) > 0 {
		<-out
	}
	fail.Store(false)
	require.NoError(t, d.Refresh(context.Background(), out))
	require.Len(t, out, 1)
	assert.Equal(t, failing, (<-out).TokenID)
}

func TestDiscoveryBlockedTokenIsRetried(t *testing.T) {
	var paths pathLog
	srv := discoveryServer(t, &paths)
	defer srv.Close()
	d := newTestDiscovery(t, srv.URL, config.BackpressureBlock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, d.Refresh(ctx, make(chan signal.DiscoveryEvent)))
	assert.False(t, d.isKnown("MintAAA"))
}
