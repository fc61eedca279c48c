package strategy

import (
	"gonum.org/v1/gonum/stat"
)

// SpreadTracker keeps the last lookback spread values in a fixed ring and
// derives rolling statistics over them. Values are immutable: Record returns
// a new tracker.
//
// When excludeZero is set, slots holding exactly zero do not take part in the
// statistics, so a genuine zero spread is indistinguishable from an empty slot.
type SpreadTracker struct {
	values      []float64
	cursor      Cursor
	populated   int
	excludeZero bool
}

func NewSpreadTracker(lookback int, excludeZero bool) SpreadTracker {
	return SpreadTracker{
		values:      make([]float64, lookback),
		cursor:      NewCursor(lookback),
		excludeZero: excludeZero,
	}
}

// Record writes v into the current slot, overwriting the oldest value once
// the ring is full, and advances the cursor.
func (st SpreadTracker) Record(v float64) SpreadTracker {
	next := st
	next.values = make([]float64, len(st.values))
	copy(next.values, st.values)
	next.values[st.cursor.Index()] = v
	next.cursor = st.cursor.Advance()
	if next.populated < len(next.values) {
		next.populated++
	}
	return next
}

// Len is the number of slots written so far, capped at the lookback.
func (st SpreadTracker) Len() int { return st.populated }

func (st SpreadTracker) Cursor() Cursor { return st.cursor }

// Values returns the populated slots from oldest to newest.
func (st SpreadTracker) Values() []float64 {
	out := make([]float64, 0, st.populated)
	start := 0
	if st.populated == len(st.values) {
		start = st.cursor.Index()
	}
	for i := 0; i < st.populated; i++ {
		out = append(out, st.values[(start+i)%len(st.values)])
	}
	return out
}

// Stats returns the mean and population standard deviation of the counted
// slots together with how many slots were counted.
func (st SpreadTracker) Stats() (mean, std float64, n int) {
	vals := st.Values()
	if st.excludeZero {
		counted := vals[:0]
		for _, v := range vals {
			if v != 0 {
				counted = append(counted, v)
			}
		}
		vals = counted
	}
	if len(vals) == 0 {
		return 0, 0, 0
	}
	mean, std = stat.PopMeanStdDev(vals, nil)
	return mean, std, len(vals)
}

// ZScore standardizes v against the current statistics.
func (st SpreadTracker) ZScore(v float64) (float64, error) {
	mean, std, n := st.Stats()
	if n == 0 || !(std > 0) {
		return 0, ErrDegenerateVariance
	}
	return (v - mean) / std, nil
}
