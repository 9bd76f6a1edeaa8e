package paper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"snipebot-go/internal/execution"
	"snipebot-go/internal/util"
)

const (
	quoteDecimals        = 9 // lamports
	defaultTokenDecimals = 6
)

// VenueConfig tunes the simulated fills.
type VenueConfig struct {
	QuoteMint string
	// SlippageBps is the simulated fill slippage applied against the trader.
	SlippageBps int
	// MaxLatency bounds the random delay added to each submit.
	MaxLatency time.Duration
	// TokenDecimals is the decimals assumed for every token.
	TokenDecimals uint8
}

// order is the payload carried through the quote, build, sign and submit steps.
type order struct {
	Side      execution.Side `json:"side"`
	Token     string         `json:"token"`
	InAmount  uint64         `json:"in_amount"`
	OutAmount uint64         `json:"out_amount"`
	Signature string         `json:"signature,omitempty"`
}

// Venue fills swaps against an Account at prices from a real PriceSource. It
// implements execution.Quoter, execution.Chain and execution.PriceSource.
type Venue struct {
	account *Account
	prices  execution.PriceSource
	cfg     VenueConfig
	sleep   func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	submitted map[string]struct{}
}

// NewVenue wraps account and prices in a simulated venue.
func NewVenue(account *Account, prices execution.PriceSource, cfg VenueConfig) *Venue {
	if cfg.TokenDecimals == 0 {
		cfg.TokenDecimals = defaultTokenDecimals
	}
	return &Venue{
		account:   account,
		prices:    prices,
		cfg:       cfg,
		sleep:     util.SleepContext,
		submitted: make(map[string]struct{}),
	}
}

// Account exposes the simulated account.
func (v *Venue) Account() *Account { return v.account }

// PriceOf delegates to the underlying price source.
func (v *Venue) PriceOf(ctx context.Context, tokenID string) (decimal.Decimal, bool, error) {
	return v.prices.PriceOf(ctx, tokenID)
}

// TokenDecimals reports the decimals assumed for every paper token.
func (v *Venue) TokenDecimals(context.Context, string) (uint8, error) {
	return v.cfg.TokenDecimals, nil
}

// TokenBalance reports the paper holding of mint in raw units.
func (v *Venue) TokenBalance(_ context.Context, mint string) (uint64, error) {
	return uint64(v.account.Position(mint).Shift(int32(v.cfg.TokenDecimals)).IntPart()), nil
}

// tokenPriceInQuote converts the token USD price into quote-asset terms.
func (v *Venue) tokenPriceInQuote(ctx context.Context, token string) (decimal.Decimal, error) {
	tokUSD, ok, err := v.prices.PriceOf(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, execution.Permanent(fmt.Errorf("no price for %s", token))
	}
	quoteUSD, ok, err := v.prices.PriceOf(ctx, v.cfg.QuoteMint)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for quote asset %s", v.cfg.QuoteMint)
	}
	return tokUSD.Div(quoteUSD), nil
}

// Quote prices the swap at the current mid less the simulated slippage.
func (v *Venue) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*execution.Quote, error) {
	o := order{InAmount: amount}
	switch v.cfg.QuoteMint {
	case inputMint:
		o.Side, o.Token = execution.Buy, outputMint
	case outputMint:
		o.Side, o.Token = execution.Sell, inputMint
	default:
		return nil, execution.Permanent(fmt.Errorf("paper venue only swaps against %s", v.cfg.QuoteMint))
	}
	px, err := v.tokenPriceInQuote(ctx, o.Token)
	if err != nil {
		return nil, err
	}
	haircut := decimal.NewFromInt(1).Sub(decimal.New(int64(v.cfg.SlippageBps), -4))
	tokScale := decimal.New(1, int32(v.cfg.TokenDecimals))
	quoteScale := decimal.New(1, quoteDecimals)
	in := fromUint64(amount)
	var out decimal.Decimal
	if o.Side == execution.Buy {
		out = in.Div(quoteScale).Div(px).Mul(haircut).Mul(tokScale)
	} else {
		out = in.Div(tokScale).Mul(px).Mul(haircut).Mul(quoteScale)
	}
	o.OutAmount = uint64(out.Floor().IntPart())
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, execution.Permanent(err)
	}
	return &execution.Quote{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		InAmount:    amount,
		OutAmount:   o.OutAmount,
		SlippageBps: slippageBps,
		Route:       "paper",
		Raw:         raw,
	}, nil
}

// BuildSwapTransaction returns the order payload as the unsigned transaction.
func (v *Venue) BuildSwapTransaction(_ context.Context, quote *execution.Quote, _ string, _ bool) ([]byte, error) {
	if quote == nil || len(quote.Raw) == 0 {
		return nil, execution.Permanent(errors.New("empty quote"))
	}
	return append([]byte(nil), quote.Raw...), nil
}

func (v *Venue) PublicKey() string { return "paper-wallet" }

// Sign stamps the order with a unique signature.
func (v *Venue) Sign(_ context.Context, tx []byte) ([]byte, error) {
	var o order
	if err := json.Unmarshal(tx, &o); err != nil {
		return nil, fmt.Errorf("decode paper tx: %w", err)
	}
	o.Signature = uuid.NewString()
	return json.Marshal(o)
}

// Submit applies the order to the account once per signature. Resubmitting the
// same signed bytes returns the same id without filling twice.
func (v *Venue) Submit(ctx context.Context, signed []byte, _ execution.SubmitOptions) (string, error) {
	var o order
	if err := json.Unmarshal(signed, &o); err != nil || o.Signature == "" {
		return "", execution.Permanent(fmt.Errorf("decode signed paper tx: %v", err))
	}
	if v.cfg.MaxLatency > 0 {
		if err := v.sleep(ctx, rand.N(v.cfg.MaxLatency)); err != nil {
			return "", err
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, dup := v.submitted[o.Signature]; dup {
		return o.Signature, nil
	}
	tokScale := decimal.New(1, int32(v.cfg.TokenDecimals))
	quoteScale := decimal.New(1, quoteDecimals)
	var qty, quote decimal.Decimal
	if o.Side == execution.Buy {
		quote = fromUint64(o.InAmount).Div(quoteScale)
		qty = fromUint64(o.OutAmount).Div(tokScale)
	} else {
		qty = fromUint64(o.InAmount).Div(tokScale)
		quote = fromUint64(o.OutAmount).Div(quoteScale)
	}
	if !qty.IsPositive() || !quote.IsPositive() {
		return "", fmt.Errorf("paper fill of zero amount: %w", execution.ErrRejected)
	}
	if err := v.account.Fill(o.Token, o.Side, qty, quote); err != nil {
		return "", fmt.Errorf("paper fill: %v: %w", err, execution.ErrRejected)
	}
	v.submitted[o.Signature] = struct{}{}
	return o.Signature, nil
}

// Confirm reports confirmed for every signature that was filled.
func (v *Venue) Confirm(_ context.Context, txID string, _ string) (execution.ConfirmStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.submitted[txID]; ok {
		return execution.StatusConfirmed, nil
	}
	return execution.StatusPending, nil
}

// Balance returns the free paper cash.
func (v *Venue) Balance(context.Context) (decimal.Decimal, error) {
	return v.account.AvailableCash(), nil
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
