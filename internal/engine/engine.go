// Package engine runs the discovery consumer and the position monitor
// side by side over a shared registry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"snipebot-go/internal/execution"
	"snipebot-go/internal/journal"
	"snipebot-go/internal/metrics"
	"snipebot-go/internal/monitor"
	"snipebot-go/internal/position"
	"snipebot-go/internal/risk"
	"snipebot-go/internal/signal"
	"snipebot-go/internal/util"
)

// Rejection reasons beyond the validation filter's.
const (
	ReasonDuplicate           = "DuplicateRejected"
	ReasonCapacity            = "CapacityRejected"
	ReasonInsufficientBalance = "InsufficientBalance"
	ReasonBalanceUnavailable  = "BalanceUnavailable"
)

// Buyer opens a position on the venue.
type Buyer interface {
	Buy(ctx context.Context, tokenID string, amountQuote uint64, m execution.Market) (execution.Result, error)
}

// Balancer reports the free quote-asset balance.
type Balancer interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// DecimalsLookup resolves the decimals of a token mint.
type DecimalsLookup interface {
	TokenDecimals(ctx context.Context, mint string) (uint8, error)
}

// Holdings reports the raw token amount actually held after a buy.
type Holdings interface {
	TokenBalance(ctx context.Context, mint string) (uint64, error)
}

// QuoteUSD reports the USD price of the quote asset, or false when unknown.
type QuoteUSD func(ctx context.Context) (decimal.Decimal, bool)

// Config sizes entries and bounds auxiliary lookups.
type Config struct {
	// PositionSize is the quote-asset amount spent per buy.
	PositionSize decimal.Decimal
	// BalanceReserve stays untouched for fees.
	BalanceReserve decimal.Decimal
	QuoteDecimals  uint8
	CallTimeout    time.Duration
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Registry *position.Registry
	Filter   *risk.Filter
	Buyer    Buyer
	Balance  Balancer
	Decimals DecimalsLookup
	// Holdings, when set, corrects the position size to what landed in the
	// wallet when that is less than the quoted output.
	Holdings Holdings
	Prices   execution.PriceSource
	QuoteUSD QuoteUSD
	Monitor  *monitor.Monitor
	Journal  journal.Recorder
}

// Engine consumes discovery events and opens positions; its monitor closes them.
type Engine struct {
	Deps
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	buys sync.WaitGroup

	mu        sync.Mutex
	committed decimal.Decimal
}

// New builds an engine. A nil journal discards entries.
func New(deps Deps, cfg Config, log zerolog.Logger) *Engine {
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if cfg.QuoteDecimals == 0 {
		cfg.QuoteDecimals = 9
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 8 * time.Second
	}
	return &Engine{
		Deps:  deps,
		cfg:   cfg,
		log:   log.With().Str("component", "engine").Logger(),
		now:   time.Now,
		sleep: util.SleepContext,
	}
}

// Run consumes events until ctx is done or events is closed. It then waits for
// in-flight buys, stops the monitor and waits for its in-flight sells.
func (e *Engine) Run(ctx context.Context, events <-chan signal.DiscoveryEvent) error {
	stopMonitor := make(chan struct{})
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))

	g.Go(func() error {
		defer close(stopMonitor)
		e.consume(ctx, events)
		e.log.Info().Msg("discovery consumer stopped; waiting for in-flight buys")
		e.buys.Wait()
		return nil
	})
	g.Go(func() error {
		return e.Monitor.Run(gctx, stopMonitor)
	})

	err := g.Wait()
	e.log.Info().Int("active", e.Registry.Active()).Msg("engine stopped")
	return err
}

func (e *Engine) consume(ctx context.Context, events <-chan signal.DiscoveryEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.Handle(ctx, ev)
		}
	}
}

// Handle admits one event and, when a slot is reserved, starts its buy in the
// background. It reports whether a buy was started.
func (e *Engine) Handle(ctx context.Context, ev signal.DiscoveryEvent) bool {
	if ok, reason := e.Filter.Admit(ev, e.now()); !ok {
		e.reject(ev, string(reason))
		return false
	}
	// Cheap check first so duplicates and a full book never cost a balance call.
	if err := e.Registry.CanOpen(ev.TokenID); err != nil {
		e.rejectSlot(ev, err)
		return false
	}
	if !e.reserveFunds(ctx, ev) {
		return false
	}
	if err := e.Registry.TryOpen(ev.TokenID, ev.Symbol); err != nil {
		e.releaseFunds()
		e.rejectSlot(ev, err)
		return false
	}
	admitted := e.log.Info().
		Str("token", ev.TokenID).
		Str("symbol", ev.Symbol).
		Str("dex", ev.DexSource).
		Float64("liquidity_usd", ev.LiquidityUSD).
		Str("observed_price", ev.ObservedPrice.String())
	if vol, ok := ev.Volatility(); ok {
		admitted = admitted.Float64("volatility_pct", vol)
	}
	admitted.Msg("admitted; buying")

	e.buys.Add(1)
	go func() {
		defer e.buys.Done()
		defer e.releaseFunds()
		e.open(context.WithoutCancel(ctx), ev)
	}()
	return true
}

// Wait blocks until every buy started by Handle has finished.
func (e *Engine) Wait() { e.buys.Wait() }

func (e *Engine) reject(ev signal.DiscoveryEvent, reason string) {
	metrics.Rejections.WithLabelValues(reason).Inc()
	e.log.Info().Str("token", ev.TokenID).Str("reason", reason).Msg("event rejected")
}

func (e *Engine) rejectSlot(ev signal.DiscoveryEvent, err error) {
	switch {
	case errors.Is(err, position.ErrDuplicate):
		e.reject(ev, ReasonDuplicate)
	case errors.Is(err, position.ErrCapacity):
		e.reject(ev, ReasonCapacity)
	default:
		e.reject(ev, err.Error())
	}
}

// reserveFunds checks the wallet can cover one more position beyond the buys
// already in flight, and commits the amount if so.
func (e *Engine) reserveFunds(ctx context.Context, ev signal.DiscoveryEvent) bool {
	if e.Balance == nil {
		return true
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	bal, err := e.Balance.Balance(cctx)
	cancel()
	if err != nil {
		e.log.Warn().Err(err).Str("token", ev.TokenID).Msg("balance check failed")
		e.reject(ev, ReasonBalanceUnavailable)
		return false
	}
	need := e.cfg.PositionSize.Add(e.cfg.BalanceReserve)
	e.mu.Lock()
	defer e.mu.Unlock()
	if bal.Sub(e.committed).LessThan(need) {
		e.log.Debug().Str("balance", bal.String()).Str("committed", e.committed.String()).Str("need", need.String()).Msg("balance below position size")
		e.reject(ev, ReasonInsufficientBalance)
		return false
	}
	e.committed = e.committed.Add(e.cfg.PositionSize)
	return true
}

func (e *Engine) releaseFunds() {
	if e.Balance == nil {
		return
	}
	e.mu.Lock()
	e.committed = e.committed.Sub(e.cfg.PositionSize)
	e.mu.Unlock()
}

func (e *Engine) open(ctx context.Context, ev signal.DiscoveryEvent) {
	amount := uint64(e.cfg.PositionSize.Shift(int32(e.cfg.QuoteDecimals)).IntPart())
	market := execution.Market{LiquidityUSD: ev.LiquidityUSD}
	if vol, ok := ev.Volatility(); ok {
		market.VolatilityPct = &vol
	}
	if e.QuoteUSD != nil {
		if px, ok := e.QuoteUSD(ctx); ok {
			market.AmountUSD = e.cfg.PositionSize.Mul(px).InexactFloat64()
		}
	}
	started := e.now()

	res, err := e.Buyer.Buy(ctx, ev.TokenID, amount, market)
	if err != nil {
		final, _ := e.Registry.MarkFailed(ev.TokenID, position.ReasonBuyFailed)
		e.log.Error().Err(err).
			Str("token", ev.TokenID).
			Str("reason", string(position.ReasonBuyFailed)).
			Str("kind", string(execution.KindOf(err))).
			Bool("exhausted", errors.Is(err, execution.ErrExecutionFailed)).
			Msg("buy failed; slot released")
		e.record(journal.Failed(journal.KindBuyFailed, final, err, e.now()))
		return
	}

	decimals, err := e.tokenDecimals(ctx, ev.TokenID)
	if err != nil {
		e.inconsistent(ev, res, fmt.Errorf("token decimals: %w", err))
		return
	}
	received := e.received(ctx, ev.TokenID, res.OutAmount)
	size := decimal.NewFromBigInt(bigFromUint64(received), -int32(decimals))
	entry := e.entryPrice(ctx, ev)

	fill := position.Fill{
		EntryPrice:        entry,
		SizeBase:          size,
		SizeRaw:           received,
		Decimals:          decimals,
		CostBase:          decimal.NewFromBigInt(bigFromUint64(res.InAmount), -int32(e.cfg.QuoteDecimals)),
		TxID:              res.TxID,
		Time:              e.now(),
		LiquidityUSD:      ev.LiquidityUSD,
		PriceChange24hPct: ev.PriceChange24hPct,
	}
	if err := e.Registry.MarkOpen(ev.TokenID, fill); err != nil {
		e.inconsistent(ev, res, err)
		return
	}
	pos, ok := e.Registry.Get(ev.TokenID)
	if !ok {
		// already sold by the monitor
		pos = position.Position{TokenID: ev.TokenID, Symbol: ev.Symbol, EntryPrice: entry, SizeBase: size, BuyTx: res.TxID, EntryTime: fill.Time}
	}
	e.log.Info().
		Str("token", ev.TokenID).
		Str("tx", res.TxID).
		Str("entry", entry.String()).
		Str("size", size.String()).
		Dur("latency", res.Latency).
		Msg("position open")
	e.record(journal.Opened(pos, e.now().Sub(started)))
}

// inconsistent handles a confirmed buy whose position could not be opened.
// The tokens stay in the wallet; the slot is released and the journal notes it.
func (e *Engine) inconsistent(ev signal.DiscoveryEvent, res execution.Result, err error) {
	final, _ := e.Registry.MarkFailed(ev.TokenID, position.ReasonInconsistent)
	e.log.Error().Err(err).
		Str("token", ev.TokenID).
		Str("tx", res.TxID).
		Str("reason", string(position.ReasonInconsistent)).
		Msg("buy confirmed but position could not be opened")
	entry := journal.Failed(journal.KindBuyFailed, final, err, e.now())
	entry.TxID = res.TxID
	e.record(entry)
}

func (e *Engine) tokenDecimals(ctx context.Context, mint string) (uint8, error) {
	if e.Decimals == nil {
		return 0, errors.New("no decimals lookup configured")
	}
	var decimals uint8
	policy := util.RetryPolicy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, Sleep: e.sleep}
	_, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		d, err := e.Decimals.TokenDecimals(cctx, mint)
		if err != nil {
			return err
		}
		decimals = d
		return nil
	})
	return decimals, err
}

// received returns the raw amount to track for a fresh position: the wallet
// balance when it is positive and below the quoted output, else the quote.
func (e *Engine) received(ctx context.Context, mint string, quoted uint64) uint64 {
	if e.Holdings == nil {
		return quoted
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	held, err := e.Holdings.TokenBalance(cctx, mint)
	cancel()
	if err != nil {
		e.log.Warn().Err(err).Str("token", mint).Msg("token balance lookup failed; using quoted amount")
		return quoted
	}
	if held > 0 && held < quoted {
		e.log.Info().Str("token", mint).Uint64("quoted", quoted).Uint64("held", held).Msg("received less than quoted")
		return held
	}
	return quoted
}

// entryPrice prefers a fresh post-confirmation price, falling back to the
// price observed at discovery.
func (e *Engine) entryPrice(ctx context.Context, ev signal.DiscoveryEvent) decimal.Decimal {
	if e.Prices != nil {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		px, ok, err := e.Prices.PriceOf(cctx, ev.TokenID)
		cancel()
		if err == nil && ok && px.IsPositive() {
			return px
		}
		if err != nil {
			e.log.Debug().Err(err).Str("token", ev.TokenID).Msg("entry price lookup failed; using observed price")
		}
	}
	return ev.ObservedPrice
}

func (e *Engine) record(entry journal.Entry) {
	if err := e.Journal.Record(entry); err != nil {
		e.log.Warn().Err(err).Str("token", entry.TokenID).Msg("journal write failed")
	}
}

// RenderStatus writes the status table of active positions.
func (e *Engine) RenderStatus(w io.Writer) {
	journal.RenderPositions(w, e.Registry.Snapshot(), e.Monitor.LastPrices())
}

func bigFromUint64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }
