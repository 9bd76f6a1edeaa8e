package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"snipebot-go/internal/config"
	dex "snipebot-go/internal/dex/solana"
	"snipebot-go/internal/engine"
	"snipebot-go/internal/exchange"
	"snipebot-go/internal/execution"
	"snipebot-go/internal/journal"
	"snipebot-go/internal/metrics"
	"snipebot-go/internal/monitor"
	"snipebot-go/internal/paper"
	"snipebot-go/internal/position"
	"snipebot-go/internal/risk"
	"snipebot-go/internal/signal"
	"snipebot-go/internal/strategy"
	"snipebot-go/internal/util"
)

const defaultConfigPath = "internal/config/config.yaml"

// referenceMaxAge bounds how stale a streamed SOL/USD trade may be.
const referenceMaxAge = time.Minute

func main() {
	path := flag.String("config", defaultConfigPath, "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.LogPretty)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("bot stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	rule, err := strategy.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("exit rule: %w", err)
	}

	rec, src, store, closeJournal, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer closeJournal()

	prices := priceSource(cfg)
	jup := dex.NewJupiterClient(cfg.Dex.JupiterBase, cfg.Dex.PriceBase, cfg.Execution.RequestsPerSecond)
	jup.PriorityFeeLamports = cfg.Execution.PriorityFeeLamports

	var (
		quoter   execution.Quoter
		chain    execution.Chain
		decimals engine.DecimalsLookup
		holdings engine.Holdings
		venue    *paper.Venue
	)
	if cfg.Paper.Enabled {
		venue = paper.NewVenue(paper.NewAccount(decimal.NewFromFloat(cfg.Paper.StartingCash)), prices, paper.VenueConfig{
			QuoteMint:   cfg.Dex.QuoteMint,
			SlippageBps: int(cfg.Paper.SlippageBps),
			MaxLatency:  time.Duration(cfg.Paper.MaxLatencyMs) * time.Millisecond,
		})
		quoter, chain, decimals, holdings = venue, venue, venue, venue
		log.Info().Float64("starting_cash", cfg.Paper.StartingCash).Msg("paper trading enabled")
	} else {
		key, err := dex.ParsePrivateKey(cfg.Wallet.PrivateKeyBase58)
		if err != nil {
			return fmt.Errorf("wallet: %w", err)
		}
		wallet := dex.NewWallet(cfg.Dex.RpcURL, key, cfg.Dex.Commitment)
		jup.Fees = wallet
		quoter, chain, decimals, holdings = jup, wallet, wallet, wallet
		log.Info().Str("wallet", wallet.PublicKey()).Str("rpc", cfg.Dex.RpcURL).Msg("live trading enabled")
	}

	gateway := execution.NewGateway(quoter, chain, execution.GatewayConfig{
		QuoteMint:            cfg.Dex.QuoteMint,
		MaxRetries:           cfg.Execution.MaxRetries,
		BaseRetryDelay:       cfg.Execution.BaseRetryDelay(),
		CallTimeout:          cfg.Execution.CallTimeout(),
		ConfirmationDeadline: cfg.Execution.ConfirmationDeadline(),
		ConfirmationPoll:     cfg.Execution.ConfirmationPoll(),
		Commitment:           cfg.Dex.Commitment,
		SkipPreflight:        cfg.Execution.SkipPreflight,
	}, log)

	g, gctx := errgroup.WithContext(ctx)

	var ticker *exchange.BinanceTicker
	if cfg.ReferencePrice.Provider == "binance" {
		ticker = exchange.NewBinanceTicker(cfg.ReferencePrice.URL, cfg.ReferencePrice.Symbol, log)
		g.Go(func() error { return ticker.Run(gctx) })
	}
	solUSD := quoteUSD(ticker, prices, cfg.Dex.QuoteMint)

	reg := position.NewRegistry(cfg.Trading.MaxConcurrentPositions, log)
	mon := monitor.New(reg, prices, rule, gateway, rec, monitor.Config{
		TickInterval: cfg.Trading.MonitorTickInterval(),
		PriceTimeout: cfg.Execution.CallTimeout(),
		QuoteUSD:     solUSD,
	}, log)

	eng := engine.New(engine.Deps{
		Registry: reg,
		Filter: risk.NewFilter(risk.Limits{
			MaxTokenAge:     cfg.Filter.MaxTokenAge(),
			MinLiquidityUSD: cfg.Filter.MinLiquidityUSD,
			MinVolume24h:    cfg.Filter.MinVolume24h,
			RequiredDexes:   cfg.Filter.RequiredDexes,
		}),
		Buyer:    gateway,
		Balance:  chain,
		Decimals: decimals,
		Holdings: holdings,
		Prices:   prices,
		QuoteUSD: solUSD,
		Monitor:  mon,
		Journal:  rec,
	}, engine.Config{
		PositionSize:   decimal.NewFromFloat(cfg.Trading.PositionSizeBase),
		BalanceReserve: decimal.NewFromFloat(cfg.Trading.BalanceReserveBase),
		CallTimeout:    cfg.Execution.CallTimeout(),
	}, log)

	srv := metrics.Serve(cfg.App.MetricsAddr,
		metrics.Route{Path: "/positions", Handler: eng.PositionsHandler()},
		metrics.Route{Path: "/journal", Handler: journal.Handler(src, 50)},
	)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	events := make(chan signal.DiscoveryEvent, max(cfg.Discovery.BufferSize, 1))
	if disc := exchange.NewDexScreenerDiscovery(log, cfg.Discovery); disc != nil {
		g.Go(func() error { return disc.Run(gctx, events) })
	} else {
		log.Warn().Msg("discovery disabled; no positions will be opened")
	}

	g.Go(func() error { return eng.Run(gctx, events) })

	if every := time.Duration(cfg.Trading.StatusIntervalSeconds) * time.Second; every > 0 {
		g.Go(func() error {
			t := time.NewTicker(every)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					eng.RenderStatus(os.Stdout)
				}
			}
		})
	}

	log.Info().
		Str("rule", rule.Name()).
		Int("max_positions", cfg.Trading.MaxConcurrentPositions).
		Float64("position_size", cfg.Trading.PositionSizeBase).
		Msg("snipebot started")
	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	eng.RenderStatus(os.Stdout)
	summary(shutdownCtx, log, venue, store, markInQuote(shutdownCtx, mon.LastPrices(), solUSD))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func priceSource(cfg *config.Config) execution.PriceSource {
	if cfg.Dex.PriceSource == config.PriceSourceDexScreener {
		return exchange.NewDexScreenerPrices(cfg.Discovery.DexScreener)
	}
	return dex.NewJupiterClient(cfg.Dex.JupiterBase, cfg.Dex.PriceBase, cfg.Execution.RequestsPerSecond)
}

// quoteUSD prefers the streamed reference price and falls back to the price source.
func quoteUSD(ticker *exchange.BinanceTicker, prices execution.PriceSource, quoteMint string) engine.QuoteUSD {
	return func(ctx context.Context) (decimal.Decimal, bool) {
		if ticker != nil {
			if px, ok := ticker.Last(referenceMaxAge); ok {
				return px, true
			}
		}
		px, ok, err := prices.PriceOf(ctx, quoteMint)
		if err != nil || !ok {
			return decimal.Zero, false
		}
		return px, true
	}
}

// openJournal fans entries out to the configured sinks. The returned source
// serves /journal: the SQLite store when configured, else an in-memory ledger.
func openJournal(cfg config.Journal) (journal.Recorder, journal.Source, *journal.SQLiteStore, func(), error) {
	var (
		recs    journal.Multi
		closers []func() error
		store   *journal.SQLiteStore
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	if cfg.JSONLPath != "" {
		j, err := journal.NewJSONLRecorder(cfg.JSONLPath)
		if err != nil {
			return nil, nil, nil, closeAll, fmt.Errorf("journal: %w", err)
		}
		recs = append(recs, j)
		closers = append(closers, j.Close)
	}
	if cfg.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			closeAll()
			return nil, nil, nil, func() {}, fmt.Errorf("journal: %w", err)
		}
		s, err := journal.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			closeAll()
			return nil, nil, nil, func() {}, fmt.Errorf("journal: %w", err)
		}
		store = s
		recs = append(recs, s)
		closers = append(closers, s.Close)
		return recs, s, store, closeAll, nil
	}
	ledger := journal.NewLedger(256)
	recs = append(recs, ledger)
	return recs, ledger, nil, closeAll, nil
}

// markInQuote converts USD marks into quote-asset terms for the paper account.
func markInQuote(ctx context.Context, marks map[string]decimal.Decimal, solUSD engine.QuoteUSD) map[string]decimal.Decimal {
	px, ok := solUSD(ctx)
	if !ok || !px.IsPositive() {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(marks))
	for tok, usd := range marks {
		out[tok] = usd.Div(px)
	}
	return out
}

func summary(ctx context.Context, log zerolog.Logger, venue *paper.Venue, store *journal.SQLiteStore, marks map[string]decimal.Decimal) {
	if venue != nil {
		acct := venue.Account()
		snap := acct.Snapshot(marks)
		log.Info().
			Str("cash", snap.Cash.String()).
			Str("equity", snap.Equity.String()).
			Str("realized", snap.RealizedPnL.String()).
			Str("starting", acct.StartingCash().String()).
			Int("holdings", len(snap.Positions)).
			Msg("paper account")
	}
	if store != nil {
		if pnl, err := store.RealizedPnL(ctx); err == nil {
			log.Info().Str("realized_usd", pnl.String()).Msg("journal realized pnl")
		}
	}
}
