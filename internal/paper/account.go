// Package paper simulates a wallet and swap venue so the engine can run
// without signing real transactions.
package paper

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"snipebot-go/internal/execution"
)

var (
	// ErrInsufficientCash means a buy costs more than the free balance.
	ErrInsufficientCash = errors.New("insufficient cash for buy")
	// ErrInsufficientPosition means a sell exceeds the held quantity.
	ErrInsufficientPosition = errors.New("insufficient position to sell")
)

type positionState struct {
	Qty     decimal.Decimal
	AvgCost decimal.Decimal
}

// Account tracks virtual cash (in the quote asset), realized PnL, and per-token
// holdings while trading in paper mode.
type Account struct {
	mu           sync.Mutex
	startingCash decimal.Decimal
	cash         decimal.Decimal
	realizedPnL  decimal.Decimal
	positions    map[string]positionState
}

// PositionSnapshot exposes a read-only view of a single token position.
type PositionSnapshot struct {
	Qty         decimal.Decimal
	AvgCost     decimal.Decimal
	MarketValue decimal.Decimal
	Unrealized  decimal.Decimal
}

// Snapshot represents a thread-safe view of the account state, optionally marked to market using provided prices.
type Snapshot struct {
	Cash        decimal.Decimal
	RealizedPnL decimal.Decimal
	Equity      decimal.Decimal
	Positions   map[string]PositionSnapshot
}

// NewAccount constructs an account populated with starting cash.
func NewAccount(startingCash decimal.Decimal) *Account {
	return &Account{
		startingCash: startingCash,
		cash:         startingCash,
		positions:    make(map[string]positionState),
	}
}

// StartingCash returns the initial bankroll used to compute drawdown.
func (a *Account) StartingCash() decimal.Decimal { return a.startingCash }

// Fill executes a trade of qty tokens for notional units of the quote asset.
func (a *Account) Fill(token string, side execution.Side, qty, notional decimal.Decimal) error {
	if !qty.IsPositive() {
		return errors.New("quantity must be positive")
	}
	if !notional.IsPositive() {
		return errors.New("notional must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state, held := a.positions[token]

	switch side {
	case execution.Buy:
		if notional.GreaterThan(a.cash) {
			return ErrInsufficientCash
		}
		newQty := qty
		cost := notional
		if held {
			newQty = state.Qty.Add(qty)
			cost = state.AvgCost.Mul(state.Qty).Add(notional)
		}
		a.cash = a.cash.Sub(notional)
		a.positions[token] = positionState{Qty: newQty, AvgCost: cost.Div(newQty)}

	case execution.Sell:
		if !held || state.Qty.LessThan(qty) {
			return ErrInsufficientPosition
		}
		a.realizedPnL = a.realizedPnL.Add(notional.Sub(state.AvgCost.Mul(qty)))
		a.cash = a.cash.Add(notional)
		newQty := state.Qty.Sub(qty)
		if !newQty.IsPositive() {
			delete(a.positions, token)
		} else {
			a.positions[token] = positionState{Qty: newQty, AvgCost: state.AvgCost}
		}

	default:
		return errors.New("unknown order side")
	}
	return nil
}

// Snapshot returns a copy of balances, optionally marked using the supplied prices map.
func (a *Account) Snapshot(prices map[string]decimal.Decimal) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := make(map[string]PositionSnapshot, len(a.positions))
	equity := a.cash
	for tok, pos := range a.positions {
		snap := PositionSnapshot{Qty: pos.Qty, AvgCost: pos.AvgCost}
		if mark, ok := prices[tok]; ok && mark.IsPositive() {
			snap.MarketValue = pos.Qty.Mul(mark)
			snap.Unrealized = mark.Sub(pos.AvgCost).Mul(pos.Qty)
		}
		positions[tok] = snap
		equity = equity.Add(snap.MarketValue)
	}

	return Snapshot{
		Cash:        a.cash,
		RealizedPnL: a.realizedPnL,
		Equity:      equity,
		Positions:   positions,
	}
}

// AvailableCash reports free cash that can be deployed into new longs.
func (a *Account) AvailableCash() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// Position returns the current quantity held of token.
func (a *Account) Position(token string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[token].Qty
}

// RealizedPnL returns total closed-trade profit and loss.
func (a *Account) RealizedPnL() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL
}
