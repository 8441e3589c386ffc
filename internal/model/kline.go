package model

import "time"

// Kline is one exchange candle. Prices are float64 as reported by the REST
// API; indicator math runs on closes only, order quantities never touch
// these values.
type Kline struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Closes extracts the chronological close prices from klines.
func Closes(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// SupportedIntervals lists the candle granularities accepted by the futures API.
var SupportedIntervals = []string{
	"1m", "3m", "5m", "15m", "30m",
	"1h", "2h", "4h", "6h", "8h", "12h",
	"1d", "3d", "1w", "1M",
}

// IsSupportedInterval reports whether interval is one of SupportedIntervals.
func IsSupportedInterval(interval string) bool {
	for _, s := range SupportedIntervals {
		if s == interval {
			return true
		}
	}
	return false
}
