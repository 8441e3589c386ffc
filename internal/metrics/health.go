package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"futures-signal-engine/internal/exchange"
	"futures-signal-engine/internal/execution"
	"futures-signal-engine/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus tracks the liveness of the engine and its dependencies.
type HealthStatus struct {
	mu sync.RWMutex

	Symbol         string    `json:"symbol"`
	DryRun         bool      `json:"dry_run"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	LastOutcome    string    `json:"last_outcome"`
	ExchangeOK     bool      `json:"exchange_ok"`
	BreakerState   string    `json:"breaker_state"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a health status for symbol. The exchange counts
// as reachable until a cycle proves otherwise.
func NewHealthStatus(symbol string, dryRun bool) *HealthStatus {
	return &HealthStatus{
		Symbol:       symbol,
		DryRun:       dryRun,
		ExchangeOK:   true,
		BreakerState: exchange.BreakerClosed.String(),
		StartedAt:    time.Now(),
	}
}

// ObserveCycle updates the exchange reachability from a cycle result.
func (h *HealthStatus) ObserveCycle(ctx context.Context, r execution.Result) {
	var ee *model.ExchangeError
	transport := errors.As(r.Err, &ee) && ee.Transport()

	h.mu.Lock()
	h.LastCycleAt = r.StartedAt.Add(r.Duration)
	h.LastOutcome = string(r.Outcome)
	h.ExchangeOK = !transport
	h.mu.Unlock()
}

// BreakerStateChanged mirrors the exchange breaker.
func (h *HealthStatus) BreakerStateChanged(from, to exchange.BreakerState) {
	h.mu.Lock()
	h.BreakerState = to.String()
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker pings Redis every interval until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	if rdb == nil {
		return
	}
	h.CheckRedis(ctx, rdb)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckRedis(probeCtx, rdb)
				cancel()
			}
		}
	}()
}

// Snapshot returns the overall status string and a copy of the fields.
func (h *HealthStatus) Snapshot() (string, map[string]any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.ExchangeOK || h.BreakerState != exchange.BreakerClosed.String() ||
		(h.RedisEnabled && !h.RedisConnected) {
		status = "degraded"
	}

	lastCycle := ""
	if !h.LastCycleAt.IsZero() {
		lastCycle = h.LastCycleAt.Format(time.RFC3339)
	}
	return status, map[string]any{
		"status":           status,
		"symbol":           h.Symbol,
		"dry_run":          h.DryRun,
		"uptime":           time.Since(h.StartedAt).Round(time.Second).String(),
		"last_cycle_at":    lastCycle,
		"last_outcome":     h.LastOutcome,
		"exchange_ok":      h.ExchangeOK,
		"breaker_state":    h.BreakerState,
		"redis_enabled":    h.RedisEnabled,
		"redis_connected":  h.RedisConnected,
		"redis_latency_ms": h.RedisLatencyMs,
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, body := h.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	slog.Info("metrics server listening", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
