// Package position owns the lifecycle state of every position the bot holds.
package position

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is a lifecycle stage of a position.
type Status string

const (
	Opening Status = "Opening"
	Open    Status = "Open"
	Closing Status = "Closing"
	Closed  Status = "Closed"
	Failed  Status = "Failed"
)

// Active reports whether the status holds a registry slot.
func (s Status) Active() bool {
	return s == Opening || s == Open || s == Closing
}

// CloseReason explains why a position left the registry.
type CloseReason string

const (
	ReasonTakeProfit   CloseReason = "TakeProfit"
	ReasonStopLoss     CloseReason = "StopLoss"
	ReasonManual       CloseReason = "Manual"
	ReasonBuyFailed    CloseReason = "BuyFailed"
	ReasonSellFailed   CloseReason = "SellFailed"
	ReasonInconsistent CloseReason = "Inconsistent"
)

// Position is a snapshot of one token exposure.
type Position struct {
	ID          string
	TokenID     string
	Symbol      string
	Status      Status
	CloseReason CloseReason

	EntryPrice decimal.Decimal
	SizeBase   decimal.Decimal
	SizeRaw    uint64
	Decimals   uint8
	CostBase   decimal.Decimal
	BuyTx      string

	// Market context captured at entry; used to size the exit slippage.
	LiquidityUSD      float64
	PriceChange24hPct *float64

	OpenedAt  time.Time
	EntryTime time.Time
}

// Fill carries what a confirmed buy produced.
type Fill struct {
	EntryPrice        decimal.Decimal
	SizeBase          decimal.Decimal
	SizeRaw           uint64
	Decimals          uint8
	CostBase          decimal.Decimal
	TxID              string
	Time              time.Time
	LiquidityUSD      float64
	PriceChange24hPct *float64
}

// PnL returns the unrealized profit in quote terms at price.
func (p Position) PnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.EntryPrice).Mul(p.SizeBase)
}

// ChangePct returns the percentage move from entry to price.
func (p Position) ChangePct(price decimal.Decimal) decimal.Decimal {
	if !p.EntryPrice.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}
