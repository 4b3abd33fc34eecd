package summarizer

import (
	"encoding/json"
	"math"
)

// Moments accumulates streaming mean and variance for one numerical
// feature using Welford's algorithm. NaN input counts as missing and
// does not touch the moments.
type Moments struct {
	n          int64
	mean       float64
	m2         float64
	numMissing int64
}

// Push folds one observation into the accumulator.
func (m *Moments) Push(x float64) {
	if math.IsNaN(x) {
		m.numMissing++
		return
	}
	m.n++
	delta := x - m.mean
	m.mean += delta / float64(m.n)
	m.m2 += delta * (x - m.mean)
}

// Mean returns the running mean, NaN before the first observation.
func (m *Moments) Mean() float64 {
	if m.n == 0 {
		return math.NaN()
	}
	return m.mean
}

// Variance returns the sample variance m2/(n-1). With fewer than two
// observations the result is NaN.
func (m *Moments) Variance() float64 {
	if m.n < 2 {
		return math.NaN()
	}
	return m.m2 / float64(m.n-1)
}

// NumValues returns the count of non-missing observations.
func (m *Moments) NumValues() int64 { return m.n }

// NumMissing returns the count of missing observations.
func (m *Moments) NumMissing() int64 { return m.numMissing }

// momentsState is the snapshot encoding. Mean and m2 are finite
// whenever n > 0, so plain JSON numbers suffice.
type momentsState struct {
	N          int64   `json:"n"`
	Mean       float64 `json:"mean"`
	M2         float64 `json:"m2"`
	NumMissing int64   `json:"num_missing"`
}

func (m *Moments) MarshalJSON() ([]byte, error) {
	return json.Marshal(momentsState{N: m.n, Mean: m.mean, M2: m.m2, NumMissing: m.numMissing})
}

func (m *Moments) UnmarshalJSON(blob []byte) error {
	var s momentsState
	if err := json.Unmarshal(blob, &s); err != nil {
		return err
	}
	m.n, m.mean, m.m2, m.numMissing = s.N, s.Mean, s.M2, s.NumMissing
	return nil
}
