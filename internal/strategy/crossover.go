package strategy

import (
	"futures-signal-engine/internal/indicator"
	"futures-signal-engine/internal/model"
)

// Detect classifies the latest RSI/SMA crossing.
//
// The last two indices where both series are defined are compared:
// LONG when RSI moves from strictly below to strictly above its SMA, SHORT
// for the reverse. Touching or equality on either sample never signals, and
// fewer than two defined pairs is NONE rather than an error.
func Detect(rsi, sma indicator.Series) Signal {
	cur, prev := -1, -1
	n := min(len(rsi), len(sma))
	for i := n - 1; i >= 0 && prev < 0; i-- {
		if !rsi[i].Valid || !sma[i].Valid {
			continue
		}
		if cur < 0 {
			cur = i
		} else {
			prev = i
		}
	}
	if prev < 0 {
		return SignalNone
	}

	prevRSI, prevSMA := rsi[prev].Value, sma[prev].Value
	curRSI, curSMA := rsi[cur].Value, sma[cur].Value

	switch {
	case prevRSI < prevSMA && curRSI > curSMA:
		return SignalLong
	case prevRSI > prevSMA && curRSI < curSMA:
		return SignalShort
	}
	return SignalNone
}

// Evaluation is the result of running the indicators and the detector over
// one price series.
type Evaluation struct {
	Signal  Signal           `json:"signal"`
	RSI     indicator.Series `json:"-"`
	SMA     indicator.Series `json:"-"`
	LastRSI float64          `json:"last_rsi"`
	LastSMA float64          `json:"last_sma"`
	Closes  int              `json:"closes"`
}

// MinCloses is the history length required to evaluate the crossover with
// the given periods.
func MinCloses(rsiPeriod, smaPeriod int) int {
	return smaPeriod + rsiPeriod + 2
}

// Evaluate computes RSI(rsiPeriod), SMA(smaPeriod) over the RSI and the
// resulting signal. Insufficient history is a *model.ValidationError.
func Evaluate(closes []float64, rsiPeriod, smaPeriod int) (Evaluation, error) {
	if need := MinCloses(rsiPeriod, smaPeriod); len(closes) < need {
		return Evaluation{}, model.NewValidationError("klines",
			"need at least %d closes for RSI(%d)/SMA(%d), got %d", need, rsiPeriod, smaPeriod, len(closes))
	}

	rsi, err := indicator.ComputeRSI(closes, rsiPeriod)
	if err != nil {
		return Evaluation{}, err
	}
	sma, err := indicator.ComputeSMA(rsi, smaPeriod)
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{
		Signal: Detect(rsi, sma),
		RSI:    rsi,
		SMA:    sma,
		Closes: len(closes),
	}
	if p, ok := rsi.Last(); ok {
		ev.LastRSI = p.Value
	}
	if p, ok := sma.Last(); ok {
		ev.LastSMA = p.Value
	}
	return ev, nil
}
