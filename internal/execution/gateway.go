package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"snipebot-go/internal/metrics"
	"snipebot-go/internal/util"
)

// GatewayConfig tunes retries, timeouts and confirmation.
type GatewayConfig struct {
	QuoteMint            string
	MaxRetries           int
	BaseRetryDelay       time.Duration
	CallTimeout          time.Duration
	ConfirmationDeadline time.Duration
	ConfirmationPoll     time.Duration
	Commitment           string
	SkipPreflight        bool
}

// Gateway runs the quote, build, sign, submit and confirm pipeline for one wallet.
type Gateway struct {
	quoter Quoter
	chain  Chain
	cfg    GatewayConfig
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error // retry backoff
	poll   func(ctx context.Context, d time.Duration) error // confirmation cadence
	now    func() time.Time
}

// NewGateway wires a gateway over the given quoter and chain.
func NewGateway(quoter Quoter, chain Chain, cfg GatewayConfig, log zerolog.Logger) *Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 8 * time.Second
	}
	if cfg.ConfirmationDeadline <= 0 {
		cfg.ConfirmationDeadline = 60 * time.Second
	}
	if cfg.ConfirmationPoll <= 0 {
		cfg.ConfirmationPoll = 500 * time.Millisecond
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}
	return &Gateway{
		quoter: quoter,
		chain:  chain,
		cfg:    cfg,
		log:    log.With().Str("component", "gateway").Logger(),
		sleep:  util.SleepContext,
		poll:   util.SleepContext,
		now:    time.Now,
	}
}

// Buy spends amountQuote (smallest units of the quote asset) on tokenID.
func (g *Gateway) Buy(ctx context.Context, tokenID string, amountQuote uint64, m Market) (Result, error) {
	return g.execute(ctx, Intent{Side: Buy, TokenID: tokenID, Amount: amountQuote}, g.cfg.QuoteMint, tokenID, m)
}

// Sell swaps amountBase (smallest token units) of tokenID back to the quote asset.
func (g *Gateway) Sell(ctx context.Context, tokenID string, amountBase uint64, m Market) (Result, error) {
	return g.execute(ctx, Intent{Side: Sell, TokenID: tokenID, Amount: amountBase}, tokenID, g.cfg.QuoteMint, m)
}

func (g *Gateway) execute(ctx context.Context, intent Intent, inputMint, outputMint string, m Market) (Result, error) {
	start := g.now()
	pct := SlippagePct(intent.Side, m)
	intent.MaxSlippageBps = PctToBps(pct)
	log := g.log.With().
		Str("token", intent.TokenID).
		Str("side", string(intent.Side)).
		Uint64("amount", intent.Amount).
		Logger()
	log.Debug().
		Float64("slippage_pct", pct).
		Float64("impact_pct", TradeImpactPct(m.AmountUSD, m.LiquidityUSD)).
		Float64("liquidity_usd", m.LiquidityUSD).
		Msg("computed slippage")

	fail := func(kind ErrorKind, attempts int, txID string, err error) (Result, error) {
		exhausted := attempts >= g.cfg.MaxRetries && Retryable(err) && kind != KindConfirmationTimeout
		e := &Error{
			Kind:      kind,
			Side:      intent.Side,
			TokenID:   intent.TokenID,
			Amount:    intent.Amount,
			Attempts:  attempts,
			Exhausted: exhausted,
			TxID:      txID,
			Err:       err,
		}
		metrics.OrdersTotal.WithLabelValues(string(intent.Side), string(kind)).Inc()
		log.Error().Err(err).Str("kind", string(kind)).Int("attempts", attempts).Str("tx", txID).Msg("execution failed")
		return Result{Side: intent.Side, TokenID: intent.TokenID, SlippageBps: intent.MaxSlippageBps, Attempts: attempts}, e
	}

	var quote *Quote
	attempts, err := g.retry(intent.Side, "quote").Do(ctx, func(ctx context.Context, _ int) error {
		cctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
		q, err := g.quoter.Quote(cctx, inputMint, outputMint, intent.Amount, intent.MaxSlippageBps)
		if err != nil {
			return err
		}
		if q == nil || q.OutAmount == 0 {
			return Permanent(errors.New("quote has no output amount"))
		}
		quote = q
		return nil
	})
	if err != nil {
		return fail(KindQuoteFailed, attempts, "", err)
	}

	var unsigned []byte
	attempts, err = g.retry(intent.Side, "build").Do(ctx, func(ctx context.Context, _ int) error {
		cctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
		tx, err := g.quoter.BuildSwapTransaction(cctx, quote, g.chain.PublicKey(), true)
		if err != nil {
			return err
		}
		unsigned = tx
		return nil
	})
	if err != nil {
		return fail(KindBuildFailed, attempts, "", err)
	}

	signed, err := g.chain.Sign(ctx, unsigned)
	if err != nil {
		return fail(KindSignFailed, 1, "", err)
	}

	// The same signed bytes are resubmitted on retry, so a retry cannot spend twice.
	var txID string
	submitAttempts, err := g.retry(intent.Side, "submit").Do(ctx, func(ctx context.Context, _ int) error {
		cctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
		id, err := g.chain.Submit(cctx, signed, SubmitOptions{SkipPreflight: g.cfg.SkipPreflight})
		if err != nil {
			return err
		}
		txID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return fail(KindTransactionRejected, submitAttempts, "", err)
		}
		return fail(KindSubmitFailed, submitAttempts, "", err)
	}
	log.Info().Str("tx", txID).Int("slippage_bps", intent.MaxSlippageBps).Msg("transaction submitted")

	status, err := g.awaitConfirmation(ctx, txID, log)
	switch {
	case err != nil:
		return fail(KindConfirmationTimeout, submitAttempts, txID, err)
	case status == StatusFailed:
		return fail(KindTransactionRejected, submitAttempts, txID, fmt.Errorf("confirm %s: %w", txID, ErrRejected))
	}

	latency := g.now().Sub(start)
	metrics.OrdersTotal.WithLabelValues(string(intent.Side), "success").Inc()
	metrics.ExecutionSeconds.WithLabelValues(string(intent.Side)).Observe(latency.Seconds())
	log.Info().Str("tx", txID).Dur("latency", latency).Uint64("out_amount", quote.OutAmount).Msg("transaction confirmed")
	return Result{
		Success:     true,
		TxID:        txID,
		Side:        intent.Side,
		TokenID:     intent.TokenID,
		InAmount:    quote.InAmount,
		OutAmount:   quote.OutAmount,
		SlippageBps: intent.MaxSlippageBps,
		Attempts:    submitAttempts,
		Latency:     latency,
	}, nil
}

// awaitConfirmation polls the signature status until it settles or the deadline
// passes. It never resubmits.
func (g *Gateway) awaitConfirmation(ctx context.Context, txID string, log zerolog.Logger) (ConfirmStatus, error) {
	deadline, cancel := context.WithTimeout(ctx, g.cfg.ConfirmationDeadline)
	defer cancel()
	for {
		cctx, ccancel := context.WithTimeout(deadline, g.cfg.CallTimeout)
		status, err := g.chain.Confirm(cctx, txID, g.cfg.Commitment)
		ccancel()
		if err != nil {
			log.Debug().Err(err).Str("tx", txID).Msg("confirmation poll failed")
		} else if status != StatusPending {
			return status, nil
		}
		if werr := g.poll(deadline, g.cfg.ConfirmationPoll); werr != nil {
			return StatusPending, fmt.Errorf("no confirmation of %s within %s: %w", txID, g.cfg.ConfirmationDeadline, werr)
		}
	}
}

func (g *Gateway) retry(side Side, step string) util.RetryPolicy {
	return util.RetryPolicy{
		MaxAttempts: g.cfg.MaxRetries,
		BaseDelay:   g.cfg.BaseRetryDelay,
		Retryable:   Retryable,
		Sleep: func(ctx context.Context, d time.Duration) error {
			metrics.OrderRetries.WithLabelValues(string(side), step).Inc()
			return g.sleep(ctx, d)
		},
		OnRetry: func(attempt int, wait time.Duration, err error) {
			g.log.Warn().Err(err).
				Str("side", string(side)).
				Str("step", step).
				Int("attempt", attempt+1).
				Int("max_attempts", g.cfg.MaxRetries).
				Dur("wait", wait).
				Msg("retrying")
		},
	}
}
