package exchange

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snipebot-go/internal/config"
)

func TestDexScreenerPricesCachesWithinInterval(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/latest/dex/tokens/MintAAA", r.URL.Path)
		_, _ = io.WriteString(w, tokensBody)
	}))
	defer srv.Close()

	p := NewDexScreenerPrices(config.DexScreener{BaseURL: srv.URL, PollInterval: 1000})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	px, ok, err := p.PriceOf(context.Background(), "MintAAA")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0.001234", px.String())

	_, _, _ = p.PriceOf(context.Background(), "MintAAA")
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(time.Second)
	_, _, _ = p.PriceOf(context.Background(), "MintAAA")
	assert.Equal(t, int32(2), hits.Load())
}

func TestDexScreenerPricesMissingAndErrors(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"pairs":[]}`)
	}))
	defer srv.Close()

	p := NewDexScreenerPrices(config.DexScreener{BaseURL: srv.URL})
	_, ok, err := p.PriceOf(context.Background(), "Nope")
	require.NoError(t, err)
	assert.False(t, ok)

	status = http.StatusInternalServerError
	_, ok, err = p.PriceOf(context.Background(), "Nope")
	assert.Error(t, err)
	assert.False(t, ok)
}
