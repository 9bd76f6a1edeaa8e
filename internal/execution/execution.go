// Package execution turns buy and sell intents into confirmed swaps.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side enumerates order directions used by the gateway.
type Side string

const (
	// Buy spends the quote asset for the token.
	Buy Side = "BUY"
	// Sell returns the token to the quote asset.
	Sell Side = "SELL"
)

// Intent is an ephemeral order request.
type Intent struct {
	Side           Side
	TokenID        string
	Amount         uint64 // smallest units of the input asset
	MaxSlippageBps int
}

// Quote is a priced swap estimate from the aggregator. Raw is the verbatim
// response, required later to build the transaction.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	SlippageBps    int
	PriceImpactPct float64
	Route          string
	Raw            json.RawMessage
}

// SubmitOptions control how a signed transaction is sent.
type SubmitOptions struct {
	SkipPreflight bool
}

// ConfirmStatus is the observed state of a submitted transaction.
type ConfirmStatus int

const (
	StatusPending ConfirmStatus = iota
	StatusConfirmed
	StatusFailed
)

func (s ConfirmStatus) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Quoter prices swaps and prepares unsigned transactions.
type Quoter interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error)
	BuildSwapTransaction(ctx context.Context, quote *Quote, wallet string, wrapNative bool) ([]byte, error)
}

// Chain signs, submits and tracks transactions for one wallet.
type Chain interface {
	PublicKey() string
	Sign(ctx context.Context, tx []byte) ([]byte, error)
	Submit(ctx context.Context, signed []byte, opts SubmitOptions) (string, error)
	Confirm(ctx context.Context, txID string, commitment string) (ConfirmStatus, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// PriceSource reports the current USD price of a token. ok is false when the
// source has no price for it.
type PriceSource interface {
	PriceOf(ctx context.Context, tokenID string) (price decimal.Decimal, ok bool, err error)
}

// Result describes a confirmed swap.
type Result struct {
	Success     bool
	TxID        string
	Side        Side
	TokenID     string
	InAmount    uint64
	OutAmount   uint64
	SlippageBps int
	Attempts    int
	Latency     time.Duration
}

// ErrorKind classifies why an execution did not reach confirmation.
type ErrorKind string

const (
	KindQuoteFailed         ErrorKind = "QuoteFailed"
	KindBuildFailed         ErrorKind = "BuildFailed"
	KindSignFailed          ErrorKind = "SignFailed"
	KindSubmitFailed        ErrorKind = "SubmitFailed"
	KindConfirmationTimeout ErrorKind = "ConfirmationTimeout"
	KindTransactionRejected ErrorKind = "TransactionRejected"
)

// Error is the typed failure returned by the gateway.
type Error struct {
	Kind     ErrorKind
	Side     Side
	TokenID  string
	Amount   uint64
	Attempts int
	// Exhausted is set when a retried step ran out of attempts.
	Exhausted bool
	TxID      string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s %s amount=%d attempts=%d", e.Kind, e.Side, e.TokenID, e.Amount, e.Attempts)
	if e.Exhausted {
		msg += " (ExecutionFailed)"
	}
	if e.TxID != "" {
		msg += " tx=" + e.TxID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches ErrExecutionFailed for errors produced by an exhausted retry.
func (e *Error) Is(target error) bool {
	return target == ErrExecutionFailed && e.Exhausted
}

// ErrExecutionFailed matches any gateway error whose retries were exhausted.
var ErrExecutionFailed = errors.New("execution failed after retries")

// KindOf extracts the error kind from err, or "" when err is not a gateway error.
func KindOf(err error) ErrorKind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// ErrRejected marks a transaction the chain refused. Chain implementations wrap
// program and preflight errors with it so the gateway does not retry them.
var ErrRejected = errors.New("transaction rejected")

// PermanentError marks a failure that retrying cannot fix, such as an HTTP 4xx.
type PermanentError struct{ Err error }

func (p *PermanentError) Error() string { return p.Err.Error() }
func (p *PermanentError) Unwrap() error { return p.Err }

// Permanent wraps err so the retry policy gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Retryable reports whether a step error may be retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrRejected) {
		return false
	}
	var perm *PermanentError
	return !errors.As(err, &perm)
}
