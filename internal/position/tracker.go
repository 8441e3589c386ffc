package position

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"futures-signal-engine/internal/strategy"

	"github.com/shopspring/decimal"
)

// Persister stores a snapshot of the state after every change so it can be
// restored on restart. Implementations live in internal/store.
type Persister interface {
	SavePosition(ctx context.Context, st State) error
	LoadPosition(ctx context.Context, symbol string) (*State, error)
}

// Tracker owns the engine's State. Open is the only mutation; every other
// path (failed close, failed open, rejection) leaves the state as it was.
type Tracker struct {
	mu        sync.RWMutex
	state     State
	persister Persister
	now       func() time.Time
}

// NewTracker creates a Tracker holding a flat state for symbol.
// persister may be nil.
func NewTracker(symbol string, persister Persister) *Tracker {
	return &Tracker{
		state:     Flat(symbol),
		persister: persister,
		now:       time.Now,
	}
}

// Current returns a copy of the state.
func (t *Tracker) Current() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Open records a newly opened position. It is called once per cycle, after
// the opening order was acknowledged by the exchange.
func (t *Tracker) Open(ctx context.Context, side strategy.Signal, entry decimal.Decimal) (State, error) {
	if side != strategy.SignalLong && side != strategy.SignalShort {
		return t.Current(), fmt.Errorf("position: cannot open side %q", side)
	}

	t.mu.Lock()
	price := entry
	t.state = State{
		Symbol:     t.state.Symbol,
		Side:       side,
		EntryPrice: &price,
		OpenedAt:   t.now().UTC(),
	}
	st := t.state
	t.mu.Unlock()

	if t.persister != nil {
		// The in-memory state stays authoritative; a failed snapshot only
		// costs the restore on the next restart.
		if err := t.persister.SavePosition(ctx, st); err != nil {
			slog.Warn("position snapshot failed", "symbol", st.Symbol, "error", err)
		}
	}
	return st, nil
}

// Restore loads the last persisted state for the tracked symbol, if any.
// A snapshot for another symbol or one breaking the invariant is ignored.
func (t *Tracker) Restore(ctx context.Context) (State, error) {
	st, changed, err := t.reload(ctx)
	if err != nil {
		return st, err
	}
	if changed {
		slog.Info("position restored", "symbol", st.Symbol, "side", st.Side, "entry_price", st.EntryPrice)
	}
	return st, nil
}

// Refresh re-reads the shared snapshot before a cycle so a replica sees
// positions opened by another one holding the same cycle lock.
func (t *Tracker) Refresh(ctx context.Context) (State, error) {
	before := t.Current()
	st, changed, err := t.reload(ctx)
	if err != nil {
		return st, err
	}
	if changed && st.Side != before.Side {
		slog.Info("position refreshed from shared state", "symbol", st.Symbol, "from", before.Side, "to", st.Side)
	}
	return st, nil
}

func (t *Tracker) reload(ctx context.Context) (State, bool, error) {
	if t.persister == nil {
		return t.Current(), false, nil
	}
	symbol := t.Current().Symbol
	snap, err := t.persister.LoadPosition(ctx, symbol)
	if err != nil {
		return t.Current(), false, fmt.Errorf("position: load %s: %w", symbol, err)
	}
	if snap == nil {
		return t.Current(), false, nil
	}
	if snap.Symbol != symbol {
		slog.Warn("ignoring position snapshot for another symbol", "want", symbol, "got", snap.Symbol)
		return t.Current(), false, nil
	}
	if err := snap.Validate(); err != nil {
		slog.Warn("ignoring invalid position snapshot", "symbol", symbol, "error", err)
		return t.Current(), false, nil
	}

	t.mu.Lock()
	t.state = *snap
	t.mu.Unlock()
	return *snap, true, nil
}
