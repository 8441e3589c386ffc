package indicator

import "futures-signal-engine/internal/model"

// ComputeSMA calculates a simple moving average over series.
//
// Each window is summed afresh rather than kept as a running sum, so equal
// inputs always give bit-identical averages and crossover comparisons never
// see accumulated rounding drift. A window that contains an invalid point
// produces an invalid point; positions before period-1 are always invalid.
func ComputeSMA(series Series, period int) (Series, error) {
	if period < 1 {
		return nil, model.NewValidationError("sma_period", "must be >= 1, got %d", period)
	}

	out := make(Series, len(series))
	for i := period - 1; i < len(series); i++ {
		window := series[i-period+1 : i+1]
		sum := 0.0
		ok := true
		for _, p := range window {
			if !p.Valid {
				ok = false
				break
			}
			sum += p.Value
		}
		if ok {
			out[i] = Point{Value: sum / float64(period), Valid: true}
		}
	}
	return out, nil
}
