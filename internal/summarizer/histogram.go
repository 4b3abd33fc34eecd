package summarizer

import "encoding/json"

// Histogram counts value frequencies for one categorical feature. The
// empty string counts as missing.
type Histogram struct {
	counts     map[string]int64
	numMissing int64
}

// NewHistogram returns an empty histogram.
func NewHistogram() *Histogram {
	return &Histogram{counts: make(map[string]int64)}
}

// Push folds one observation into the histogram.
func (h *Histogram) Push(value string) {
	if value == "" {
		h.numMissing++
		return
	}
	h.counts[value]++
}

// Count returns the frequency of one value.
func (h *Histogram) Count(value string) int64 { return h.counts[value] }

// NumUniqueValues returns the number of distinct observed values.
func (h *Histogram) NumUniqueValues() int { return len(h.counts) }

// NumValues returns the count of non-missing observations.
func (h *Histogram) NumValues() int64 {
	var total int64
	for _, c := range h.counts {
		total += c
	}
	return total
}

// NumMissing returns the count of missing observations.
func (h *Histogram) NumMissing() int64 { return h.numMissing }

type histogramState struct {
	Counts     map[string]int64 `json:"counts"`
	NumMissing int64            `json:"num_missing"`
}

func (h *Histogram) MarshalJSON() ([]byte, error) {
	return json.Marshal(histogramState{Counts: h.counts, NumMissing: h.numMissing})
}

func (h *Histogram) UnmarshalJSON(blob []byte) error {
	var s histogramState
	if err := json.Unmarshal(blob, &s); err != nil {
		return err
	}
	h.counts = s.Counts
	if h.counts == nil {
		h.counts = make(map[string]int64)
	}
	h.numMissing = s.NumMissing
	return nil
}
