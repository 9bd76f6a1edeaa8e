// Package monitor watches open positions and closes them when an exit rule fires.
package monitor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"snipebot-go/internal/execution"
	"snipebot-go/internal/journal"
	"snipebot-go/internal/metrics"
	"snipebot-go/internal/position"
	"snipebot-go/internal/strategy"
)

// Seller closes a position on the venue.
type Seller interface {
	Sell(ctx context.Context, tokenID string, amountBase uint64, m execution.Market) (execution.Result, error)
}

// Config tunes the tick loop.
type Config struct {
	TickInterval time.Duration
	PriceTimeout time.Duration
	// QuoteUSD prices the quote asset so realized sell proceeds can be turned
	// into a per-token exit price. Without it the trigger price is journaled.
	QuoteUSD      func(ctx context.Context) (decimal.Decimal, bool)
	QuoteDecimals uint8
}

// Monitor evaluates exit rules against every Open position once per tick.
type Monitor struct {
	reg     *position.Registry
	prices  execution.PriceSource
	rule    strategy.ExitRule
	seller  Seller
	journal journal.Recorder
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time

	sells sync.WaitGroup

	lastMu sync.Mutex
	last   map[string]decimal.Decimal
}

// New wires a monitor. A nil recorder discards journal entries.
func New(reg *position.Registry, prices execution.PriceSource, rule strategy.ExitRule, seller Seller, rec journal.Recorder, cfg Config, log zerolog.Logger) *Monitor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = 5 * time.Second
	}
	if cfg.QuoteDecimals == 0 {
		cfg.QuoteDecimals = 9
	}
	if rec == nil {
		rec = journal.Nop{}
	}
	return &Monitor{
		reg:     reg,
		prices:  prices,
		rule:    rule,
		seller:  seller,
		journal: rec,
		cfg:     cfg,
		log:     log.With().Str("component", "monitor").Logger(),
		now:     time.Now,
		last:    make(map[string]decimal.Decimal),
	}
}

// Run ticks until stop is closed or ctx is done, then waits for in-flight sells.
func (m *Monitor) Run(ctx context.Context, stop <-chan struct{}) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	m.log.Info().Dur("interval", m.cfg.TickInterval).Str("rule", m.rule.Name()).Msg("monitor started")
	for {
		select {
		case <-stop:
			m.drain()
			return nil
		case <-ctx.Done():
			m.drain()
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

func (m *Monitor) drain() {
	m.sells.Wait()
	m.log.Info().Msg("monitor stopped")
}

// Wait blocks until every sell started by Tick has finished.
func (m *Monitor) Wait() { m.sells.Wait() }

// Tick runs one evaluation pass. Each Open position is priced concurrently so
// a slow quote cannot delay exits on the others; Tick returns once every price
// lookup has finished. Sells are started asynchronously.
func (m *Monitor) Tick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, pos := range m.reg.Snapshot() {
		if pos.Status != position.Open {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.evaluate(ctx, pos)
		}()
	}
	wg.Wait()
}

func (m *Monitor) evaluate(ctx context.Context, pos position.Position) {
	price, ok := m.priceOf(ctx, pos.TokenID)
	if !ok {
		return
	}
	reason := m.rule.Evaluate(pos, price)
	if reason == "" {
		return
	}
	closing, won := m.reg.MarkClosing(pos.TokenID, reason)
	if !won {
		return
	}
	metrics.ExitsTotal.WithLabelValues(string(reason)).Inc()
	m.log.Info().
		Str("token", pos.TokenID).
		Str("reason", string(reason)).
		Str("entry", pos.EntryPrice.String()).
		Str("price", price.String()).
		Str("pnl", pos.PnL(price).StringFixed(6)).
		Msg("exit triggered")

	m.sells.Add(1)
	go func() {
		defer m.sells.Done()
		m.close(context.WithoutCancel(ctx), closing, price)
	}()
}

func (m *Monitor) priceOf(ctx context.Context, tokenID string) (decimal.Decimal, bool) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.PriceTimeout)
	defer cancel()
	price, ok, err := m.prices.PriceOf(cctx, tokenID)
	if err != nil || !ok || !price.IsPositive() {
		metrics.PriceErrors.Inc()
		ev := m.log.Debug().Str("token", tokenID)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("no price this tick")
		return decimal.Zero, false
	}
	m.lastMu.Lock()
	m.last[tokenID] = price
	m.lastMu.Unlock()
	return price, true
}

func (m *Monitor) close(ctx context.Context, pos position.Position, price decimal.Decimal) {
	market := execution.Market{
		AmountUSD:     pos.SizeBase.Mul(price).InexactFloat64(),
		LiquidityUSD:  pos.LiquidityUSD,
		VolatilityPct: pos.PriceChange24hPct,
	}
	res, err := m.seller.Sell(ctx, pos.TokenID, pos.SizeRaw, market)
	if err != nil {
		final, _ := m.reg.MarkFailed(pos.TokenID, position.ReasonSellFailed)
		m.forget(pos.TokenID)
		m.log.Error().Err(err).
			Str("token", pos.TokenID).
			Str("reason", string(pos.CloseReason)).
			Str("kind", string(execution.KindOf(err))).
			Bool("exhausted", errors.Is(err, execution.ErrExecutionFailed)).
			Msg("sell failed; position marked failed")
		m.record(journal.Failed(journal.KindSellFailed, final, err, m.now()))
		return
	}
	final, ok := m.reg.Remove(pos.TokenID, pos.CloseReason)
	if !ok {
		final = pos
	}
	m.forget(pos.TokenID)
	entry := journal.Closed(final, m.exitPrice(ctx, final, res, price), res.TxID, m.now())
	entry.TriggerPrice = price
	entry.Attempts = res.Attempts
	entry.LatencyMs = res.Latency.Milliseconds()
	m.log.Info().
		Str("token", pos.TokenID).
		Str("reason", string(pos.CloseReason)).
		Str("tx", res.TxID).
		Str("pnl", entry.PnL.StringFixed(6)).
		Msg("position closed")
	m.record(entry)
}

// exitPrice derives the realized per-token USD price from the sell proceeds,
// falling back to the trigger price when proceeds or the quote price are
// unknown.
func (m *Monitor) exitPrice(ctx context.Context, pos position.Position, res execution.Result, trigger decimal.Decimal) decimal.Decimal {
	if res.OutAmount == 0 || !pos.SizeBase.IsPositive() || m.cfg.QuoteUSD == nil {
		return trigger
	}
	quote, ok := m.cfg.QuoteUSD(ctx)
	if !ok || !quote.IsPositive() {
		return trigger
	}
	proceeds := decimal.NewFromBigInt(new(big.Int).SetUint64(res.OutAmount), -int32(m.cfg.QuoteDecimals))
	return proceeds.Mul(quote).Div(pos.SizeBase)
}

func (m *Monitor) record(e journal.Entry) {
	if err := m.journal.Record(e); err != nil {
		m.log.Warn().Err(err).Str("token", e.TokenID).Msg("journal write failed")
	}
}

func (m *Monitor) forget(tokenID string) {
	m.lastMu.Lock()
	delete(m.last, tokenID)
	m.lastMu.Unlock()
}

// LastPrices returns the most recent price observed for each open token.
func (m *Monitor) LastPrices() map[string]decimal.Decimal {
	m.lastMu.Lock()
	defer m.lastMu.Unlock()
	out := make(map[string]decimal.Decimal, len(m.last))
	for k, v := range m.last {
		out[k] = v
	}
	return out
}
