package indicator

import "futures-signal-engine/internal/model"

// rsSentinel stands in for avgGain/avgLoss when there were no losses in the
// window. It yields RSI = 100 - 100/101 ≈ 99.0099, never exactly 100.
const rsSentinel = 100.0

// ComputeRSI calculates the Relative Strength Index of closes using Wilder's
// smoothing.
//
// The first value is seeded with the arithmetic mean of the first period
// gains and losses; every later value uses
// avg = (prevAvg*(period-1) + x) / period. The result has len(closes) points,
// the first period of them invalid, so exactly len(closes)-period are defined.
func ComputeRSI(closes []float64, period int) (Series, error) {
	if period < 1 {
		return nil, model.NewValidationError("rsi_period", "must be >= 1, got %d", period)
	}
	if len(closes) < period+1 {
		return nil, model.NewValidationError("closes",
			"RSI(%d) needs at least %d closes, got %d", period, period+1, len(closes))
	}

	n := len(closes) - 1
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i-1] = delta
		} else {
			losses[i-1] = -delta
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p

	values := make([]float64, 0, n-period+1)
	values = append(values, rsiValue(avgGain, avgLoss))
	for i := period; i < n; i++ {
		avgGain = (avgGain*(p-1) + gains[i]) / p
		avgLoss = (avgLoss*(p-1) + losses[i]) / p
		values = append(values, rsiValue(avgGain, avgLoss))
	}

	out := pad(len(closes) - len(values))
	for _, v := range values {
		out = append(out, Point{Value: v, Valid: true})
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	rs := rsSentinel
	if avgLoss != 0 {
		rs = avgGain / avgLoss
	}
	return 100.0 - 100.0/(1.0+rs)
}
