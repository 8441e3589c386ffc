package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"futures-signal-engine/internal/execution"

	"github.com/fsnotify/fsnotify"
)

// ParamsHolder publishes the current cycle parameters. The scheduler reads
// it on every tick.
type ParamsHolder struct {
	v atomic.Pointer[execution.Params]
}

// NewParamsHolder creates a holder seeded with p.
func NewParamsHolder(p execution.Params) *ParamsHolder {
	h := &ParamsHolder{}
	h.Store(p)
	return h
}

// Params returns the current parameters.
func (h *ParamsHolder) Params() execution.Params { return *h.v.Load() }

// Store replaces the current parameters.
func (h *ParamsHolder) Store(p execution.Params) { h.v.Store(&p) }

// Watcher reloads the strategy section of the config file on change and
// publishes valid results to a ParamsHolder. The symbol is fixed for the
// life of the process because the position tracker is bound to it.
type Watcher struct {
	path     string
	base     Strategy
	holder   *ParamsHolder
	debounce time.Duration
	watcher  *fsnotify.Watcher

	reloads  atomic.Int64
	rejected atomic.Int64
}

// NewWatcher creates a watcher for path. base supplies the values the file
// does not set.
func NewWatcher(path string, base Strategy, holder *ParamsHolder) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	// Editors replace files by rename, so the directory is watched.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		base:     base,
		holder:   holder,
		debounce: 100 * time.Millisecond,
		watcher:  fw,
	}, nil
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		case <-pending:
			pending = nil
			w.Reload()
		}
	}
}

// Reload reads the file once and publishes it if valid. It reports
// whether the parameters were replaced.
func (w *Watcher) Reload() bool {
	s, err := LoadStrategyFile(w.path, w.base)
	if err == nil {
		err = ValidateStrategy(s)
	}
	if err == nil && s.Symbol != w.base.Symbol {
		err = fmt.Errorf("symbol cannot change at runtime (%s -> %s)", w.base.Symbol, s.Symbol)
	}
	if err != nil {
		w.rejected.Add(1)
		slog.Warn("config reload rejected, keeping current parameters", "path", w.path, "error", err)
		return false
	}

	w.holder.Store(s.Params())
	w.reloads.Add(1)
	slog.Info("config reloaded",
		"path", w.path,
		"interval", s.Interval,
		"rsi_period", s.RSIPeriod,
		"sma_period", s.SMAPeriod,
		"leverage", s.Leverage,
		"position_percent", s.PositionPercent,
	)
	return true
}

// Reloads returns the number of applied reloads.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Rejected returns the number of reloads refused as invalid.
func (w *Watcher) Rejected() int64 { return w.rejected.Load() }
