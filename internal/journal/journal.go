// Package journal records position lifecycle events for later analysis.
package journal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"snipebot-go/internal/position"
)

// Kind labels a journal entry.
type Kind string

const (
	KindOpened     Kind = "opened"
	KindClosed     Kind = "closed"
	KindBuyFailed  Kind = "buy_failed"
	KindSellFailed Kind = "sell_failed"
)

// Entry is one journal record.
type Entry struct {
	Time       time.Time       `json:"ts"`
	Kind       Kind            `json:"kind"`
	PositionID string          `json:"position_id"`
	TokenID    string          `json:"token"`
	Symbol     string          `json:"symbol,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	TxID       string          `json:"tx,omitempty"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	// TriggerPrice is the quote that fired the exit rule; ExitPrice is the fill.
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	Size         decimal.Decimal `json:"size"`
	PnL          decimal.Decimal `json:"pnl"`
	Attempts     int             `json:"attempts,omitempty"`
	LatencyMs    int64           `json:"latency_ms,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Opened builds the entry for a confirmed buy.
func Opened(pos position.Position, latency time.Duration) Entry {
	return Entry{
		Time:       pos.EntryTime,
		Kind:       KindOpened,
		PositionID: pos.ID,
		TokenID:    pos.TokenID,
		Symbol:     pos.Symbol,
		TxID:       pos.BuyTx,
		EntryPrice: pos.EntryPrice,
		Size:       pos.SizeBase,
		LatencyMs:  latency.Milliseconds(),
	}
}

// Closed builds the entry for a position that was sold at exitPrice.
func Closed(pos position.Position, exitPrice decimal.Decimal, txID string, at time.Time) Entry {
	return Entry{
		Time:       at,
		Kind:       KindClosed,
		PositionID: pos.ID,
		TokenID:    pos.TokenID,
		Symbol:     pos.Symbol,
		Reason:     string(pos.CloseReason),
		TxID:       txID,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       pos.SizeBase,
		PnL:        pos.PnL(exitPrice),
	}
}

// Failed builds the entry for a buy or sell that did not complete.
func Failed(kind Kind, pos position.Position, err error, at time.Time) Entry {
	e := Entry{
		Time:       at,
		Kind:       kind,
		PositionID: pos.ID,
		TokenID:    pos.TokenID,
		Symbol:     pos.Symbol,
		Reason:     string(pos.CloseReason),
		EntryPrice: pos.EntryPrice,
		Size:       pos.SizeBase,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Recorder persists journal entries.
type Recorder interface {
	Record(Entry) error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(Entry) error { return nil }

// Multi fans an entry out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(e Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ledger stores entries in memory for quick inspection.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{entries: make([]Entry, 0, capacity)}
}

func (l *Ledger) Record(e Entry) error {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the recorded entries.
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(_ context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

// Realized sums the PnL of closed entries.
func (l *Ledger) Realized() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, e := range l.entries {
		if e.Kind == KindClosed {
			total = total.Add(e.PnL)
		}
	}
	return total
}

// Reset clears all stored entries.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.entries = l.entries[:0]
	l.mu.Unlock()
}
