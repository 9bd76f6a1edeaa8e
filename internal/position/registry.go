package position

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"snipebot-go/internal/metrics"
)

var (
	// ErrDuplicate means the token already holds an active position.
	ErrDuplicate = errors.New("position already active for token")
	// ErrCapacity means every slot is taken.
	ErrCapacity = errors.New("max concurrent positions reached")
	// ErrNotFound means the token has no registry entry.
	ErrNotFound = errors.New("position not found")
	// ErrBadTransition means the entry is not in the status the transition requires.
	ErrBadTransition = errors.New("invalid position transition")
)

// Registry is the authoritative map of active positions. A single mutex guards
// the map so TryOpen and MarkClosing are atomic check-and-mutate operations.
type Registry struct {
	mu        sync.Mutex
	log       zerolog.Logger
	capacity  int
	positions map[string]*Position
	now       func() time.Time
}

// NewRegistry builds an empty registry holding at most capacity active positions.
func NewRegistry(capacity int, log zerolog.Logger) *Registry {
	return &Registry{
		log:       log.With().Str("component", "registry").Logger(),
		capacity:  capacity,
		positions: make(map[string]*Position),
		now:       time.Now,
	}
}

// Capacity returns the configured slot limit.
func (r *Registry) Capacity() int { return r.capacity }

// CanOpen reports whether TryOpen would currently succeed for tokenID. It
// mutates nothing; only TryOpen reserves the slot.
func (r *Registry) CanOpen(tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admissible(tokenID)
}

func (r *Registry) admissible(tokenID string) error {
	if _, ok := r.positions[tokenID]; ok {
		return ErrDuplicate
	}
	if len(r.positions) >= r.capacity {
		return ErrCapacity
	}
	return nil
}

// TryOpen reserves a slot for tokenID with status Opening. It fails with
// ErrDuplicate or ErrCapacity without mutating anything.
func (r *Registry) TryOpen(tokenID, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.admissible(tokenID); err != nil {
		return err
	}
	r.positions[tokenID] = &Position{
		ID:       uuid.NewString(),
		TokenID:  tokenID,
		Symbol:   symbol,
		Status:   Opening,
		OpenedAt: r.now(),
	}
	r.updateGauge()
	return nil
}

// MarkOpen moves an Opening position to Open with its fill. Any other starting
// state is an invariant violation: it is logged and nothing changes.
func (r *Registry) MarkOpen(tokenID string, fill Fill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.positions[tokenID]
	if !ok {
		r.log.Error().Str("token", tokenID).Msg("markOpen on absent position")
		return fmt.Errorf("mark open %s: %w", tokenID, ErrNotFound)
	}
	if pos.Status != Opening {
		r.log.Error().Str("token", tokenID).Str("status", string(pos.Status)).Msg("markOpen on non-opening position")
		return fmt.Errorf("mark open %s from %s: %w", tokenID, pos.Status, ErrBadTransition)
	}
	if !fill.EntryPrice.IsPositive() || !fill.SizeBase.IsPositive() {
		r.log.Error().Str("token", tokenID).Str("entry", fill.EntryPrice.String()).Str("size", fill.SizeBase.String()).Msg("markOpen with non-positive fill")
		return fmt.Errorf("mark open %s: non-positive entry or size: %w", tokenID, ErrBadTransition)
	}
	pos.Status = Open
	pos.EntryPrice = fill.EntryPrice
	pos.SizeBase = fill.SizeBase
	pos.SizeRaw = fill.SizeRaw
	pos.Decimals = fill.Decimals
	pos.CostBase = fill.CostBase
	pos.BuyTx = fill.TxID
	pos.EntryTime = fill.Time
	pos.LiquidityUSD = fill.LiquidityUSD
	pos.PriceChange24hPct = fill.PriceChange24hPct
	return nil
}

// MarkClosing moves an Open position to Closing and returns its snapshot. Only
// one caller can win this transition per position; everyone else gets false.
func (r *Registry) MarkClosing(tokenID string, reason CloseReason) (Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.positions[tokenID]
	if !ok || pos.Status != Open {
		return Position{}, false
	}
	pos.Status = Closing
	pos.CloseReason = reason
	return *pos, true
}

// Remove deletes a successfully closed position and returns its final snapshot.
func (r *Registry) Remove(tokenID string, reason CloseReason) (Position, bool) {
	return r.release(tokenID, Closed, reason)
}

// MarkFailed releases the slot of a position whose buy or sell could not complete.
func (r *Registry) MarkFailed(tokenID string, reason CloseReason) (Position, bool) {
	return r.release(tokenID, Failed, reason)
}

func (r *Registry) release(tokenID string, final Status, reason CloseReason) (Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.positions[tokenID]
	if !ok {
		r.log.Warn().Str("token", tokenID).Str("final", string(final)).Msg("release of absent position")
		return Position{}, false
	}
	delete(r.positions, tokenID)
	r.updateGauge()
	out := *pos
	out.Status = final
	out.CloseReason = reason
	return out, true
}

// Get returns the current snapshot of a single position.
func (r *Registry) Get(tokenID string) (Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.positions[tokenID]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Active counts positions holding a slot.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.positions)
}

// Snapshot returns copies of every position ordered by reservation time.
func (r *Registry) Snapshot() []Position {
	r.mu.Lock()
	out := make([]Position, 0, len(r.positions))
	for _, pos := range r.positions {
		out = append(out, *pos)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].TokenID < out[j].TokenID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// caller holds r.mu
func (r *Registry) updateGauge() {
	metrics.PositionsActive.Set(float64(len(r.positions)))
}
