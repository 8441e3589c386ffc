package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"futures-signal-engine/internal/execution"
	"futures-signal-engine/internal/model"
	"futures-signal-engine/internal/position"
	"futures-signal-engine/internal/scheduler"
	"futures-signal-engine/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrigger struct {
	res   execution.Result
	err   error
	calls int
	last  execution.Overrides
}

func (f *fakeTrigger) RunWith(ctx context.Context, ov execution.Overrides) (execution.Result, error) {
	f.calls++
	f.last = ov
	return f.res, f.err
}

type fixedPosition struct{ s position.State }

func (f fixedPosition) Current() position.State { return f.s }

type fakeHistory struct {
	results []execution.Result
	asked   int
}

func (f *fakeHistory) Latest(n int) []execution.Result {
	f.asked = n
	if n > len(f.results) {
		n = len(f.results)
	}
	return f.results[:n]
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

// ────────────────────────────────────────────────────────────
// Routes
// ────────────────────────────────────────────────────────────

func TestHealth_DefaultsToOK(t *testing.T) {
	rec := do(t, NewRouter(Deps{}), http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealth_DelegatesToHandler(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	rec := do(t, NewRouter(Deps{Health: h}), http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPosition(t *testing.T) {
	entry := decimal.RequireFromString("101.5")
	pos := fixedPosition{position.State{Symbol: "BTCUSDT", Side: strategy.SignalLong, EntryPrice: &entry}}

	rec := do(t, NewRouter(Deps{Position: pos}), http.MethodGet, "/api/v1/position")
	require.Equal(t, http.StatusOK, rec.Code)

	var got position.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, strategy.SignalLong, got.Side)
	require.NotNil(t, got.EntryPrice)
	assert.Equal(t, "101.5", got.EntryPrice.String())
}

func TestPosition_NotConfigured(t *testing.T) {
	rec := do(t, NewRouter(Deps{}), http.MethodGet, "/api/v1/position")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestResults_Limit(t *testing.T) {
	hist := &fakeHistory{}
	for i := 0; i < 3; i++ {
		hist.results = append(hist.results, execution.Result{TraceID: fmt.Sprint(i), Outcome: execution.OutcomeNoAction})
	}
	router := NewRouter(Deps{Results: hist})

	rec := do(t, router, http.MethodGet, "/api/v1/results?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []execution.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
	assert.Equal(t, 2, hist.asked)

	do(t, router, http.MethodGet, "/api/v1/results")
	assert.Equal(t, defaultResultsLimit, hist.asked)

	do(t, router, http.MethodGet, "/api/v1/results?limit=100000")
	assert.Equal(t, maxResultsLimit, hist.asked)

	rec = do(t, router, http.MethodGet, "/api/v1/results?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/v1/results?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCycle_RunsOnce(t *testing.T) {
	trig := &fakeTrigger{res: execution.Result{Symbol: "BTCUSDT", Outcome: execution.OutcomeNoAction}}
	rec := do(t, NewRouter(Deps{Trigger: trig}), http.MethodPost, "/api/v1/cycle")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, trig.calls)
	assert.Contains(t, rec.Body.String(), `"outcome":"NO_ACTION"`)
}

func TestCycle_BusyIsConflict(t *testing.T) {
	trig := &fakeTrigger{err: fmt.Errorf("lock held: %w", scheduler.ErrBusy)}
	rec := do(t, NewRouter(Deps{Trigger: trig}), http.MethodPost, "/api/v1/cycle")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCycle_OtherErrorIs500(t *testing.T) {
	trig := &fakeTrigger{err: errors.New("redis down")}
	rec := do(t, NewRouter(Deps{Trigger: trig}), http.MethodPost, "/api/v1/cycle")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis down")
}

func TestCycle_BodyOverrides(t *testing.T) {
	trig := &fakeTrigger{res: execution.Result{Symbol: "BTCUSDT", Outcome: execution.OutcomeNoAction}}
	router := NewRouter(Deps{Trigger: trig})

	rec := httptest.NewRecorder()
	body := `{"symbol":"BTCUSDT","leverage":20,"position_percent":15}`
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cycle", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "BTCUSDT", trig.last.Symbol)
	require.NotNil(t, trig.last.Leverage)
	assert.Equal(t, 20, *trig.last.Leverage)
	require.NotNil(t, trig.last.PositionPercent)
	assert.Equal(t, 15.0, *trig.last.PositionPercent)
}

func TestCycle_BadBodyIs400(t *testing.T) {
	trig := &fakeTrigger{}
	router := NewRouter(Deps{Trigger: trig})

	for _, body := range []string{`{"leverage":"high"}`, `{"rsi_period":3}`, `not json`} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cycle", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Zero(t, trig.calls)
}

func TestCycle_InvalidOverrideIs400(t *testing.T) {
	trig := &fakeTrigger{err: model.NewValidationError("symbol", "engine tracks BTCUSDT, request asked for ETHUSDT")}
	rec := httptest.NewRecorder()
	NewRouter(Deps{Trigger: trig}).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/api/v1/cycle", strings.NewReader(`{"symbol":"ETHUSDT"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ETHUSDT")
}

func TestCycle_RequiresPost(t *testing.T) {
	trig := &fakeTrigger{}
	rec := do(t, NewRouter(Deps{Trigger: trig}), http.MethodGet, "/api/v1/cycle")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, trig.calls)
}

func TestCORS(t *testing.T) {
	router := NewRouter(Deps{})

	rec := do(t, router, http.MethodOptions, "/api/v1/cycle")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, router, http.MethodGet, "/api/v1/health")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))
}

func TestStream_Mounted(t *testing.T) {
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := do(t, NewRouter(Deps{Stream: stream}), http.MethodGet, "/api/v1/stream")
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = do(t, NewRouter(Deps{}), http.MethodGet, "/api/v1/stream")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
