package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"snipebot-go/internal/config"
	dex "snipebot-go/internal/dex/solana"
	"snipebot-go/internal/execution"
	"snipebot-go/internal/util"
)

func main() {
	var (
		path   = flag.String("config", "internal/config/config.yaml", "path to the YAML config")
		side   = flag.String("side", "buy", "buy or sell")
		token  = flag.String("token", "", "token mint address")
		amount = flag.String("amount", "0.01", "buy: quote asset to spend (SOL); sell: token units")
		liq    = flag.Float64("liquidity-usd", 0, "pool liquidity used to size slippage; 0 means unknown")
	)
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := util.NewLogger(cfg.App.LogLevel, true)

	if *token == "" {
		log.Fatal().Msg("-token is required")
	}
	qty, err := decimal.NewFromString(*amount)
	if err != nil || !qty.IsPositive() {
		log.Fatal().Str("amount", *amount).Msg("-amount must be a positive number")
	}

	key, err := dex.LoadPrivateKeyFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("wallet")
	}
	wallet := dex.NewWallet(cfg.Dex.RpcURL, key, cfg.Dex.Commitment)
	jup := dex.NewJupiterClient(cfg.Dex.JupiterBase, cfg.Dex.PriceBase, cfg.Execution.RequestsPerSecond)
	jup.PriorityFeeLamports = cfg.Execution.PriorityFeeLamports

	gw := execution.NewGateway(jup, wallet, execution.GatewayConfig{
		QuoteMint:            cfg.Dex.QuoteMint,
		MaxRetries:           cfg.Execution.MaxRetries,
		BaseRetryDelay:       cfg.Execution.BaseRetryDelay(),
		CallTimeout:          cfg.Execution.CallTimeout(),
		ConfirmationDeadline: cfg.Execution.ConfirmationDeadline(),
		ConfirmationPoll:     cfg.Execution.ConfirmationPoll(),
		Commitment:           cfg.Dex.Commitment,
		SkipPreflight:        cfg.Execution.SkipPreflight,
	}, log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Execution.ConfirmationDeadline()+time.Minute)
	defer cancel()

	market := execution.Market{LiquidityUSD: *liq}
	var res execution.Result
	switch strings.ToLower(*side) {
	case "buy":
		if px, ok, err := jup.PriceOf(ctx, cfg.Dex.QuoteMint); err == nil && ok {
			market.AmountUSD = qty.Mul(px).InexactFloat64()
		}
		res, err = gw.Buy(ctx, *token, uint64(qty.Shift(9).IntPart()), market)
	case "sell":
		decimals, derr := wallet.TokenDecimals(ctx, *token)
		if derr != nil {
			log.Fatal().Err(derr).Msg("token decimals")
		}
		if px, ok, err := jup.PriceOf(ctx, *token); err == nil && ok {
			market.AmountUSD = qty.Mul(px).InexactFloat64()
		}
		res, err = gw.Sell(ctx, *token, uint64(qty.Shift(int32(decimals)).IntPart()), market)
	default:
		log.Fatal().Str("side", *side).Msg("-side must be buy or sell")
	}
	if err != nil {
		log.Fatal().Err(err).Str("kind", string(execution.KindOf(err))).Msg("swap failed")
	}
	log.Info().
		Str("tx", res.TxID).
		Uint64("in", res.InAmount).
		Uint64("out", res.OutAmount).
		Int("slippage_bps", res.SlippageBps).
		Dur("latency", res.Latency).
		Msg("swap confirmed")
}
