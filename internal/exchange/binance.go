package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultBinanceStreamURL = "wss://stream.binance.com:9443/stream"

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceTrade `json:"data"`
}

type binanceTrade struct {
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// BinanceTicker keeps the last traded price of one Binance symbol, used as the
// USD reference for the quote asset.
type BinanceTicker struct {
	url    string
	symbol string
	log    zerolog.Logger

	mu    sync.RWMutex
	price decimal.Decimal
	at    time.Time
}

// NewBinanceTicker tracks symbol (e.g. "solusdt") on the combined stream endpoint.
func NewBinanceTicker(streamURL, symbol string, log zerolog.Logger) *BinanceTicker {
	if streamURL == "" {
		streamURL = defaultBinanceStreamURL
	}
	return &BinanceTicker{
		url:    streamURL,
		symbol: strings.ToLower(symbol),
		log:    log.With().Str("component", "binance").Str("symbol", strings.ToUpper(symbol)).Logger(),
	}
}

// Last returns the latest price if it is younger than maxAge.
func (b *BinanceTicker) Last(maxAge time.Duration) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.at.IsZero() || (maxAge > 0 && time.Since(b.at) > maxAge) {
		return decimal.Zero, false
	}
	return b.price, true
}

// Run streams trades, reconnecting with backoff, until ctx is canceled.
func (b *BinanceTicker) Run(ctx context.Context) error {
	if b.symbol == "" {
		return fmt.Errorf("binance ticker requires a symbol")
	}
	url := fmt.Sprintf("%s?streams=%s@trade", b.url, b.symbol)
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.consume(ctx, url); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Warn().Err(err).Dur("backoff", backoff).Msg("binance stream disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		backoff = time.Second
	}
}

func (b *BinanceTicker) consume(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	b.log.Info().Msg("connected reference price stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					b.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				// unblock ReadMessage
				conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		var env binanceEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			b.log.Warn().Err(err).Msg("failed to decode binance message")
			continue
		}
		px, err := decimal.NewFromString(env.Data.Price)
		if err != nil || !px.IsPositive() {
			b.log.Warn().Str("price", env.Data.Price).Msg("invalid price from binance")
			continue
		}
		at := time.Now()
		b.mu.Lock()
		b.price = px
		b.at = at
		b.mu.Unlock()
	}
}
