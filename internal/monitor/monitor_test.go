package monitor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snipebot-go/internal/execution"
	"snipebot-go/internal/journal"
	"snipebot-go/internal/position"
	"snipebot-go/internal/strategy"
)

type priceMap struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
}

func (p *priceMap) set(token, price string) {
	p.mu.Lock()
	p.prices[token] = decimal.RequireFromString(price)
	p.mu.Unlock()
}

func (p *priceMap) PriceOf(_ context.Context, token string) (decimal.Decimal, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return decimal.Zero, false, p.err
	}
	v, ok := p.prices[token]
	return v, ok, nil
}

type fakeSeller struct {
	mu      sync.Mutex
	calls   []string
	amounts []uint64
	markets []execution.Market
	err     error
	block   chan struct{}
	out     uint64
}

func (s *fakeSeller) Sell(_ context.Context, token string, amount uint64, m execution.Market) (execution.Result, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, token)
	s.amounts = append(s.amounts, amount)
	s.markets = append(s.markets, m)
	if s.err != nil {
		return execution.Result{}, s.err
	}
	return execution.Result{Success: true, TxID: "sig-sell-" + token, Attempts: 1, OutAmount: s.out}, nil
}

func (s *fakeSeller) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func openPosition(t *testing.T, reg *position.Registry, token string) {
	t.Helper()
	require.NoError(t, reg.TryOpen(token, token))
	vol := 12.0
	require.NoError(t, reg.MarkOpen(token, position.Fill{
		EntryPrice:        decimal.RequireFromString("1.00"),
		SizeBase:          decimal.NewFromInt(1000),
		SizeRaw:           1_000_000_000,
		Decimals:          6,
		LiquidityUSD:      50_000,
		PriceChange24hPct: &vol,
		Time:              time.Now(),
	}))
}

func newMonitor(reg *position.Registry, prices execution.PriceSource, seller *fakeSeller, rec journal.Recorder) *Monitor {
	return newMonitorWith(reg, prices, seller, rec, Config{TickInterval: 10 * time.Millisecond})
}

func newMonitorWith(reg *position.Registry, prices execution.PriceSource, seller *fakeSeller, rec journal.Recorder, cfg Config) *Monitor {
	rule := strategy.NewAbsoluteTakeProfit(decimal.RequireFromString("0.05"), decimal.NewFromInt(-4))
	return New(reg, prices, rule, seller, rec, cfg, zerolog.Nop())
}

// stalledPrices never answers for one token until the lookup context ends.
type stalledPrices struct {
	*priceMap
	stalled string
}

func (s stalledPrices) PriceOf(ctx context.Context, token string) (decimal.Decimal, bool, error) {
	if token == s.stalled {
		<-ctx.Done()
		return decimal.Zero, false, ctx.Err()
	}
	return s.priceMap.PriceOf(ctx, token)
}

func TestTickTakeProfitClosesPosition(t *testing.T) {
	reg := position.NewRegistry(5, zerolog.Nop())
	openPosition(t, reg, "T1")
	prices := &priceMap{prices: map[string]decimal.Decimal{}}
	prices.set("T1", "1.00005")
	seller := &fakeSeller{}
	ledger := journal.NewLedger(1)
	mon := newMonitor(reg, prices, seller, ledger)

	mon.Tick(context.Background())
	mon.Wait()

	require.Equal(t, 1, seller.count())
	assert.Equal(t, uint64(1_000_000_000), seller.amounts[0])
	assert.Equal(t, 50_000.0, seller.markets[0].LiquidityUSD)
	require.NotNil(t, seller.markets[0].VolatilityPct)
	assert.InDelta(t, 1000.05, seller.markets[0].AmountUSD, 1e-9)
	_, ok := reg.Get("T1")
	assert.False(t, ok)

	entries := ledger.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, journal.KindClosed, entries[0].Kind)
	assert.Equal(t, string(position.ReasonTakeProfit), entries[0].Reason)
	assert.Equal(t, "sig-sell-T1", entries[0].TxID)
	assert.True(t, entries[0].PnL.Equal(decimal.RequireFromString("0.05")))
}

func TestTickHoldsBelowThreshold(t *testing.T) {
	reg := position.NewRegistry(5, zerolog.Nop())
	openPosition(t, reg, "T1")
	prices := &priceMap{prices: map[string]decimal.Decimal{}}
	prices.set("T1", "1.00004")
	seller := &fakeSeller{}
	mon := newMonitor(reg, prices, seller, nil)

	mon.Tick(context.Background())
	mon.Wait()
	assert.Zero(t, seller.count())
	pos, _ := reg.Get("T1")
	assert.Equal(t, position.Open, pos.Status)
	assert.True(t, mon.LastPrices()["T1"].Equal(decimal.RequireFromString("1.00004")))
}

func TestTickStopLoss(t *testing.T) {
	reg := position.NewRegistry(5, zerolog.Nop())
	openPosition(t, reg, "T1")
	prices := &priceMap{prices: map[string]decimal.Decimal{}}
	prices.set("T1", "0.96")
	seller := &fakeSeller{}
	ledger := journal.NewLedger(1)
	mon := newMonitor(reg, prices, seller, ledger)

	mon.Tick(context.Background())
	mon.Wait()
	require.Equal(t, 1, seller.count())
	require.Len(t, ledger.Snapshot(), 1)
	assert.Equal(t, string(position.ReasonStopLoss), ledger.Snapshot()[0].Reason)
}

func TestTickSkipsMissingPriceAndErrors(t *testing.T) {
	reg := position.NewRegistry(5, zerolog.Nop())
	openPosition(t, reg, "T1")
	prices := &priceMap{prices: map[string]decimal.Decimal{}}
	seller := &fakeSeller{}
	mon := newMonitor(reg, prices, seller, nil)

	mon.Tick(context.Background())
	prices.err = errors.New("price api down")
	mon.Tick(context.Background())
	mon.Wait()
	assert.Zero(t, seller.count())
	pos, _ := reg.Get("T1")
	assert.Equal(t, position.Open, pos.Status)
}

func TestTickIgnoresOpeningPositions(t *testing.T) {
	reg := position.NewRegistry(5, zerolog.Nop())
	require.NoError(t, reg.TryOpen("T1", "T1"))
	prices := &priceMap{prices: map[string]decimal.Decimal{}}
	prices.set("T1", "100")
	seller := &fakeSeller{}
	mon := newMonitor(reg, prices, seller, nil)
	mon.Tick(context.Background())
	mon.Wait()
	assert.Zero(t, seller.count())
}

func TestSellFailureMarksFailed(t *testing.T) {
	reg := position.NewRegistry(1, zerolog.Nop())
	openPosition(t, reg, "T1")
	prices := &priceMap{prices: map[string]decimal.Decimal{}}
	prices.set("T1", "2")
	seller := &fakeSeller{err: &execution.Error{Kind: execution.KindSubmitFailed, Exhausted: true, Err: errors.New("rpc down")}}
	ledger := journal.NewLedger(1)
	var buf bytes.Buffer
	mon := newMonitor(reg, prices, seller, ledger)
	mon.log = zerolog.New(&buf)

	mon.Tick(context.Background())
	mon.Wait()
	_, ok := reg.Get("T1")
	assert.False(t, ok, "failed position must release its slot")
	require.NoError(t, reg.TryOpen("T2", "T2"))

	entries := ledger.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, journal.KindSellFailed, entries[0].Kind)
	assert.Equal(t, string(position.ReasonSellFailed), entries[0].Reason)
	assert.Contains(t, entries[0].Error, "rpc down")
	assert.Contains(t, buf.String(), `"exhausted":true`)
}

func TestConcurrentTicksSellOnce(t *testing.T) {
	reg := position.NewRegistry(5, zerolog.Nop())
	openPosition(t, reg, "T1")
	prices := &priceMap{prices: map[string]decimal.Decimal{}}
	prices.set("T1", "2")
	seller := &fakeSeller{block: make(chan struct{})}
	mon := newMonitor(reg, prices, seller, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mon.Tick(context.Background())
		}()
	}
	wg.Wait()
	close(seller.block)
	mon.Wait()
	assert.Equal(t, 1, seller.count())
}

func TestRunStopsAfterInFlightSells(t *testing.T) {
	reg := position.NewRegistry(5, zerolog.Nop())
	openPosition(t, reg, "T1")
	prices := &priceMap{prices: map[string]decimal.Decimal{}}
	prices.set("T1", "2")
	seller := &fakeSeller{block: make(chan struct{})}
	mon := newMonitor(reg, prices, seller, nil)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- mon.Run(context.Background(), stop) }()

	require.Eventually(t, func() bool {
		pos, ok := reg.Get("T1")
		return ok && pos.Status == position.Closing
	}, time.Second, 5*time.Millisecond)

	close(stop)
	select {
	case <-done:
		t.Fatal("monitor returned before in-flight sell finished")
	case <-time.After(30 * time.Millisecond):
	}
	close(seller.block)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.Equal(t, 1, seller.count())
}

func TestSlowQuoteDoesNotDelayOtherExits(t *testing.T) {
	reg := position.NewRegistry(5, zerolog.Nop())
	openPosition(t, reg, "SLOW")
	openPosition(t, reg, "FAST")
	prices := &priceMap{prices: map[string]decimal.Decimal{}}
	prices.set("FAST", "2")
	seller := &fakeSeller{}
	mon := newMonitorWith(reg, stalledPrices{priceMap: prices, stalled: "SLOW"}, seller, nil,
		Config{TickInterval: time.Hour, PriceTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	ticked := make(chan struct{})
	go func() {
		mon.Tick(ctx)
		close(ticked)
	}()

	require.Eventually(t, func() bool { return seller.count() == 1 }, 500*time.Millisecond, 5*time.Millisecond)
	select {
	case <-ticked:
		t.Fatal("tick returned before the stalled lookup finished")
	default:
	}
	cancel()
	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("tick did not return after cancel")
	}
	mon.Wait()
	_, ok := reg.Get("FAST")
	assert.False(t, ok)
	pos, ok := reg.Get("SLOW")
	require.True(t, ok)
	assert.Equal(t, position.Open, pos.Status)
}

func TestClosedEntryUsesRealizedProceeds(t *testing.T) {
	reg := position.NewRegistry(5, zerolog.Nop())
	openPosition(t, reg, "T1")
	prices := &priceMap{prices: map[string]decimal.Decimal{}}
	prices.set("T1", "1.00005")
	// 10.0004 SOL at $100 for 1000 tokens fills at 1.00004.
	seller := &fakeSeller{out: 10_000_400_000}
	ledger := journal.NewLedger(1)
	mon := newMonitorWith(reg, prices, seller, ledger, Config{
		TickInterval: 10 * time.Millisecond,
		QuoteUSD:     func(context.Context) (decimal.Decimal, bool) { return decimal.NewFromInt(100), true },
	})

	mon.Tick(context.Background())
	mon.Wait()

	entries := ledger.Snapshot()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].TriggerPrice.Equal(decimal.RequireFromString("1.00005")), entries[0].TriggerPrice.String())
	assert.True(t, entries[0].ExitPrice.Equal(decimal.RequireFromString("1.00004")), entries[0].ExitPrice.String())
	assert.True(t, entries[0].PnL.Equal(decimal.RequireFromString("0.04")), entries[0].PnL.String())
}

func TestClosedEntryFallsBackToTriggerWithoutQuote(t *testing.T) {
	reg := position.NewRegistry(5, zerolog.Nop())
	openPosition(t, reg, "T1")
	prices := &priceMap{prices: map[string]decimal.Decimal{}}
	prices.set("T1", "1.00005")
	seller := &fakeSeller{out: 10_000_400_000}
	ledger := journal.NewLedger(1)
	mon := newMonitorWith(reg, prices, seller, ledger, Config{
		TickInterval: 10 * time.Millisecond,
		QuoteUSD:     func(context.Context) (decimal.Decimal, bool) { return decimal.Zero, false },
	})

	mon.Tick(context.Background())
	mon.Wait()

	entries := ledger.Snapshot()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].ExitPrice.Equal(decimal.RequireFromString("1.00005")))
	assert.True(t, entries[0].ExitPrice.Equal(entries[0].TriggerPrice))
}
