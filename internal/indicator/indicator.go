// Package indicator computes technical indicator series over close prices.
//
// Every function is pure: it takes a price or indicator series and returns a
// new Series aligned to the same time axis. Positions without enough history
// are left-padded with invalid points instead of NaN, so misuse surfaces as a
// ValidationError or an invalid point and never as a silent NaN.
package indicator

// Point is one value of an indicator series. Valid is false where the
// indicator is undefined for lack of history.
type Point struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// Series is an indicator series aligned index-for-index with the price
// series it was derived from.
type Series []Point

// ValidCount returns the number of defined points.
func (s Series) ValidCount() int {
	n := 0
	for _, p := range s {
		if p.Valid {
			n++
		}
	}
	return n
}

// Last returns the last point of the series and whether it is defined.
func (s Series) Last() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	p := s[len(s)-1]
	return p, p.Valid
}

// Values returns the series as pointers, nil marking undefined points.
// Used for JSON reporting and CLI output.
func (s Series) Values() []*float64 {
	out := make([]*float64, len(s))
	for i := range s {
		if s[i].Valid {
			v := s[i].Value
			out[i] = &v
		}
	}
	return out
}

func pad(n int) Series {
	return make(Series, n)
}
