package indicator

import (
	"errors"
	"math"
	"testing"

	"futures-signal-engine/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// assertSeries compares a series against expected values, nil meaning invalid.
func assertSeries(t *testing.T, label string, got Series, want []*float64, tol float64) {
	t.Helper()
	require.Len(t, got, len(want), label)
	for i := range want {
		if want[i] == nil {
			if got[i].Valid {
				t.Errorf("%s[%d]: expected invalid point, got %.6f", label, i, got[i].Value)
			}
			continue
		}
		if !got[i].Valid {
			t.Errorf("%s[%d]: expected %.6f, got invalid point", label, i, *want[i])
			continue
		}
		assertClose(t, label, got[i].Value, *want[i], tol)
	}
}

func f(v float64) *float64 { return &v }

// Reference closes used across the package tests.
var referenceCloses = []float64{10, 10.5, 10.2, 10.8, 11, 10.9, 11.3, 11.5}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period3(t *testing.T) {
	// Deltas: +0.5 -0.3 +0.6 +0.2 -0.1 +0.4 +0.2
	//
	// Seed (first 3): avgGain = 1.1/3 = 0.366667, avgLoss = 0.3/3 = 0.1
	//   RS = 3.666667 → RSI = 100 - 100/4.666667 = 78.571429
	// +0.2: avgGain = (0.366667*2+0.2)/3 = 0.311111, avgLoss = 0.066667 → 82.352941
	// -0.1: avgGain = 0.207407, avgLoss = 0.077778 → 72.727273
	// +0.4: avgGain = 0.271605, avgLoss = 0.051852 → 83.969466
	// +0.2: avgGain = 0.247737, avgLoss = 0.034568 → 87.755102
	rsi, err := ComputeRSI(referenceCloses, 3)
	require.NoError(t, err)

	want := []*float64{nil, nil, nil, f(78.571429), f(82.352941), f(72.727273), f(83.969466), f(87.755102)}
	assertSeries(t, "RSI(3)", rsi, want, 0.0001)
}

func TestRSI_ValidCount(t *testing.T) {
	closes := []float64{100, 101, 99, 98, 102, 104, 103, 101, 100, 105, 107, 106, 104, 108, 110, 109}
	for period := 1; period < len(closes); period++ {
		rsi, err := ComputeRSI(closes, period)
		require.NoError(t, err, "period %d", period)
		assert.Len(t, rsi, len(closes))
		assert.Equal(t, len(closes)-period, rsi.ValidCount(), "period %d", period)

		for i, p := range rsi {
			if !p.Valid {
				assert.Less(t, i, period, "invalid point after warm-up, period %d", period)
				continue
			}
			assert.GreaterOrEqual(t, p.Value, 0.0)
			assert.LessOrEqual(t, p.Value, 100.0)
		}
	}
}

func TestRSI_NoLossSentinel(t *testing.T) {
	// Strictly rising prices: avgLoss stays 0 so RS falls back to 100.
	// RSI = 100 - 100/101 = 99.009901, never exactly 100.
	rsi, err := ComputeRSI([]float64{1, 2, 3, 4, 5, 6}, 3)
	require.NoError(t, err)

	for _, p := range rsi[3:] {
		require.True(t, p.Valid)
		assertClose(t, "RSI sentinel", p.Value, 100-100.0/101, 1e-9)
		assert.NotEqual(t, 100.0, p.Value)
	}
}

func TestRSI_FlatPrices(t *testing.T) {
	// No gains and no losses: avgLoss is 0, so the sentinel applies even
	// though avgGain is 0 too.
	rsi, err := ComputeRSI([]float64{5, 5, 5, 5}, 2)
	require.NoError(t, err)
	for _, p := range rsi[2:] {
		assertClose(t, "RSI flat", p.Value, 100-100.0/101, 1e-9)
	}
}

func TestRSI_AllLosses(t *testing.T) {
	rsi, err := ComputeRSI([]float64{10, 9, 8, 7, 6}, 2)
	require.NoError(t, err)
	for _, p := range rsi[2:] {
		assertClose(t, "RSI all losses", p.Value, 0, 1e-9)
	}
}

func TestRSI_InsufficientHistory(t *testing.T) {
	_, err := ComputeRSI([]float64{1, 2, 3}, 3)
	require.Error(t, err)

	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "closes", ve.Field)
}

func TestRSI_InvalidPeriod(t *testing.T) {
	_, err := ComputeRSI(referenceCloses, 0)
	assert.True(t, model.IsValidation(err))
}

func TestRSI_DoesNotMutateInput(t *testing.T) {
	closes := append([]float64(nil), referenceCloses...)
	_, err := ComputeRSI(closes, 3)
	require.NoError(t, err)
	assert.Equal(t, referenceCloses, closes)
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA(3) at 2: (100+102+104)/3 = 102
	// SMA(3) at 3: (102+104+103)/3 = 103
	// SMA(3) at 4: (104+103+105)/3 = 104
	in := Series{{100, true}, {102, true}, {104, true}, {103, true}, {105, true}}
	sma, err := ComputeSMA(in, 3)
	require.NoError(t, err)
	assertSeries(t, "SMA(3)", sma, []*float64{nil, nil, f(102), f(103), f(104)}, 0.0001)
}

func TestSMA_OverRSI(t *testing.T) {
	// SMA(2) over the RSI(3) reference series:
	// at 4: (78.571429+82.352941)/2 = 80.462185
	// at 5: (82.352941+72.727273)/2 = 77.540107
	// at 6: (72.727273+83.969466)/2 = 78.348369
	// at 7: (83.969466+87.755102)/2 = 85.862284
	rsi, err := ComputeRSI(referenceCloses, 3)
	require.NoError(t, err)
	sma, err := ComputeSMA(rsi, 2)
	require.NoError(t, err)

	want := []*float64{nil, nil, nil, nil, f(80.462185), f(77.540107), f(78.348369), f(85.862284)}
	assertSeries(t, "SMA(2) of RSI(3)", sma, want, 0.0001)
}

func TestSMA_InvalidWindowStaysInvalid(t *testing.T) {
	in := Series{{1, true}, {}, {3, true}, {5, true}, {7, true}}
	sma, err := ComputeSMA(in, 2)
	require.NoError(t, err)
	assertSeries(t, "SMA(2) gap", sma, []*float64{nil, nil, nil, f(4), f(6)}, 1e-9)
}

func TestSMA_PeriodOne(t *testing.T) {
	in := Series{{1, true}, {2, true}}
	sma, err := ComputeSMA(in, 1)
	require.NoError(t, err)
	assert.Equal(t, in, sma)
}

func TestSMA_InvalidPeriod(t *testing.T) {
	_, err := ComputeSMA(Series{{1, true}}, 0)
	assert.True(t, model.IsValidation(err))
}

// ────────────────────────────────────────────────────────────
// Series helpers
// ────────────────────────────────────────────────────────────

func TestSeries_LastAndValues(t *testing.T) {
	s := Series{{}, {2.5, true}}
	p, ok := s.Last()
	assert.True(t, ok)
	assert.Equal(t, 2.5, p.Value)

	vals := s.Values()
	assert.Nil(t, vals[0])
	require.NotNil(t, vals[1])
	assert.Equal(t, 2.5, *vals[1])

	_, ok = Series{}.Last()
	assert.False(t, ok)
}
