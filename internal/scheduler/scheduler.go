// Package scheduler triggers pipeline cycles on a fixed interval and makes
// sure at most one cycle runs at a time, locally and (optionally) across
// replicas through a distributed lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"futures-signal-engine/internal/execution"
	"futures-signal-engine/internal/position"
)

// ErrBusy is returned by RunNow while another cycle is in flight.
var ErrBusy = errors.New("a cycle is already running")

// Runner executes one cycle. *execution.Pipeline satisfies it.
type Runner interface {
	RunCycle(ctx context.Context, params execution.Params) execution.Result
}

// Locker is a distributed lock. *redis.Lock satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, key string, ttl time.Duration) error
	Unlock(ctx context.Context, key string) error
}

// StateRefresher reloads the shared position before a locked cycle.
// *position.Tracker satisfies it.
type StateRefresher interface {
	Refresh(ctx context.Context) (position.State, error)
}

// ParamsFunc returns the parameters for the next cycle.
type ParamsFunc func() execution.Params

// SkipObserver is told about every tick that did not start a cycle.
type SkipObserver interface {
	TickSkipped(reason string)
}

// Skip reasons.
const (
	SkipBusy       = "busy"
	SkipLockHeld   = "lock_held"
	SkipLockFailed = "lock_error"
	SkipRefresh    = "refresh_error"
)

// Config configures a Scheduler.
type Config struct {
	Interval time.Duration
	Params   ParamsFunc
	// Locker is optional; nil means single-replica operation.
	Locker  Locker
	LockTTL time.Duration
	// State is refreshed after the lock is taken. Required with Locker,
	// otherwise replicas decide on stale position state.
	State StateRefresher
	// Skips is optional.
	Skips SkipObserver
}

// Scheduler owns the single-flight guard around the pipeline.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	params   ParamsFunc
	locker   Locker
	lockTTL  time.Duration
	state    StateRefresher
	skips    SkipObserver

	guard   sync.Mutex
	running atomic.Bool
	skipped atomic.Int64

	lastMu sync.RWMutex
	last   *execution.Result
}

// New creates a Scheduler.
func New(runner Runner, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Scheduler{
		runner:   runner,
		interval: cfg.Interval,
		params:   cfg.Params,
		locker:   cfg.Locker,
		lockTTL:  cfg.LockTTL,
		state:    cfg.State,
		skips:    cfg.Skips,
	}
}

// Run ticks until ctx is cancelled. The first cycle starts immediately.
// Ticks arriving while a cycle runs are skipped, never queued.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler started", "interval", s.interval.String(), "distributed_lock", s.locker != nil)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	tick := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RunNow(ctx); err != nil && !errors.Is(err, ErrBusy) {
				slog.Warn("tick skipped", "error", err)
			}
		}()
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopping, waiting for cycle in flight")
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

// RunNow runs one cycle if none is in flight. It returns ErrBusy when the
// local guard is taken and an error when the distributed lock could not be
// acquired; neither case touches the pipeline.
func (s *Scheduler) RunNow(ctx context.Context) (execution.Result, error) {
	return s.RunWith(ctx, execution.Overrides{})
}

// RunWith is RunNow with per-cycle overrides applied on top of the current
// parameters. Invalid overrides return a validation error before the
// distributed lock is taken.
func (s *Scheduler) RunWith(ctx context.Context, ov execution.Overrides) (execution.Result, error) {
	if !s.guard.TryLock() {
		s.skip(SkipBusy)
		return execution.Result{}, ErrBusy
	}
	defer s.guard.Unlock()

	params := s.params()
	if ov != (execution.Overrides{}) {
		var err error
		if params, err = ov.Apply(params); err != nil {
			return execution.Result{}, err
		}
	}
	key := "cycle:" + params.Symbol

	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			s.skip(SkipLockFailed)
			return execution.Result{}, fmt.Errorf("acquire cycle lock: %w", err)
		}
		if !ok {
			s.skip(SkipLockHeld)
			return execution.Result{}, fmt.Errorf("cycle lock %s held by another replica: %w", key, ErrBusy)
		}
		stop := s.keepLock(ctx, key)
		defer func() {
			stop()
			if err := s.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
				slog.Warn("cycle lock release failed", "key", key, "error", err)
			}
		}()
	}

	if s.state != nil {
		if _, err := s.state.Refresh(ctx); err != nil {
			s.skip(SkipRefresh)
			return execution.Result{}, fmt.Errorf("refresh position before cycle: %w", err)
		}
	}

	s.running.Store(true)
	defer s.running.Store(false)

	res := s.runner.RunCycle(ctx, params)

	s.lastMu.Lock()
	s.last = &res
	s.lastMu.Unlock()
	return res, nil
}

// keepLock extends the cycle lock every third of its TTL until the returned
// stop func is called, so a slow cycle keeps exclusivity.
func (s *Scheduler) keepLock(ctx context.Context, key string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(max(s.lockTTL/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := s.locker.Extend(context.WithoutCancel(ctx), key, s.lockTTL); err != nil {
					slog.Error("cycle lock lost while running", "key", key, "error", err)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Scheduler) skip(reason string) {
	n := s.skipped.Add(1)
	slog.Debug("tick skipped", "reason", reason, "total", n)
	if s.skips != nil {
		s.skips.TickSkipped(reason)
	}
}

// Running reports whether a cycle is in flight.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Skipped returns how many triggers were dropped.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// Last returns the most recent result, if any.
func (s *Scheduler) Last() (execution.Result, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return execution.Result{}, false
	}
	return *s.last, true
}
