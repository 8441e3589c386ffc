// Package api exposes the engine over HTTP: health, position, recent
// results, a manual cycle trigger and the WebSocket result stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"futures-signal-engine/internal/execution"
	"futures-signal-engine/internal/model"
	"futures-signal-engine/internal/position"
	"futures-signal-engine/internal/scheduler"
)

const (
	defaultResultsLimit = 50
	maxResultsLimit     = 500
)

// CycleTrigger runs one cycle through the single-flight guard.
type CycleTrigger interface {
	RunWith(ctx context.Context, ov execution.Overrides) (execution.Result, error)
}

// PositionReader reads the tracked position.
type PositionReader interface {
	Current() position.State
}

// ResultHistory returns recent results, newest first.
type ResultHistory interface {
	Latest(n int) []execution.Result
}

// Deps are the handlers' collaborators. Nil fields disable their routes
// (they answer 503).
type Deps struct {
	Health   http.Handler
	Position PositionReader
	Results  ResultHistory
	Trigger  CycleTrigger
	Stream   http.Handler
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Health == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		d.Health.ServeHTTP(w, r)
	})

	mux.HandleFunc("GET /api/v1/position", func(w http.ResponseWriter, r *http.Request) {
		if d.Position == nil {
			writeError(w, http.StatusServiceUnavailable, "position tracker not configured")
			return
		}
		writeJSON(w, http.StatusOK, d.Position.Current())
	})

	mux.HandleFunc("GET /api/v1/results", func(w http.ResponseWriter, r *http.Request) {
		if d.Results == nil {
			writeError(w, http.StatusServiceUnavailable, "result history not configured")
			return
		}
		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, d.Results.Latest(limit))
	})

	mux.HandleFunc("POST /api/v1/cycle", func(w http.ResponseWriter, r *http.Request) {
		if d.Trigger == nil {
			writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
			return
		}
		var ov execution.Overrides
		dec := json.NewDecoder(io.LimitReader(r.Body, 4096))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&ov); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		res, err := d.Trigger.RunWith(r.Context(), ov)
		if model.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, scheduler.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	if d.Stream != nil {
		mux.Handle("GET /api/v1/stream", d.Stream)
	}

	return withCORS(mux)
}

// parseLimit reads ?limit=N, capped at maxResultsLimit. It writes a 400
// and returns false when the value is malformed.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultResultsLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxResultsLimit), true
}

// SetCORS sets permissive CORS headers.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
