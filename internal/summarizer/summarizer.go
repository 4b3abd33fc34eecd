// Package summarizer maintains streaming per-feature statistics for
// each dataset, fed by put-records notifications from the listener bus.
// Numerical features accumulate Welford moments, categorical features a
// value histogram; text features are not summarized.
package summarizer

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/reinferio/saltfish/internal/schema"
)

// Summarizer holds the running statistics of one dataset. The moments
// and histogram slices parallel the schema's numerical and categorical
// features in schema order.
type Summarizer struct {
	schemaBlob []byte
	schema     *schema.Schema
	moments    []*Moments
	histograms []*Histogram
}

// New initializes empty statistics from a serialized schema.
func New(schemaBlob []byte) (*Summarizer, error) {
	s, err := schema.Decode(schemaBlob)
	if err != nil {
		return nil, err
	}
	numericals, categoricals, _ := s.Counts()

	sum := &Summarizer{
		schemaBlob: schemaBlob,
		schema:     s,
		moments:    make([]*Moments, numericals),
		histograms: make([]*Histogram, categoricals),
	}
	for i := range sum.moments {
		sum.moments[i] = &Moments{}
	}
	for i := range sum.histograms {
		sum.histograms[i] = NewHistogram()
	}
	return sum, nil
}

// PushRecord validates the record against the schema and folds it into
// the statistics. Invalid records leave the state untouched.
func (s *Summarizer) PushRecord(r *schema.Record) error {
	if err := schema.CheckRecord(s.schema, r); err != nil {
		return err
	}
	for i, v := range r.Numericals {
		s.moments[i].Push(v)
	}
	for i, v := range r.Categoricals {
		s.histograms[i].Push(v)
	}
	return nil
}

// featureSummary is one entry of the JSON summary.
type featureSummary struct {
	Name string             `json:"name"`
	Type schema.FeatureType `json:"type"`

	// numerical
	Mean       *float64 `json:"mean,omitempty"`
	Variance   *float64 `json:"variance,omitempty"`
	NumValues  *int64   `json:"num_values,omitempty"`
	NumMissing *int64   `json:"num_missing,omitempty"`

	// categorical
	Histogram       map[string]int64 `json:"histogram,omitempty"`
	NumUniqueValues *int             `json:"num_unique_values,omitempty"`
}

func jsonFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// Summary renders the statistics as JSON, one entry per schema feature
// in schema order. NaN statistics render as absent fields.
func (s *Summarizer) Summary() ([]byte, error) {
	out := make([]featureSummary, 0, len(s.schema.Features))
	var numIdx, catIdx int
	for _, f := range s.schema.Features {
		entry := featureSummary{Name: f.Name, Type: f.Type}
		switch f.Type {
		case schema.Numerical:
			m := s.moments[numIdx]
			numIdx++
			entry.Mean = jsonFloat(m.Mean())
			entry.Variance = jsonFloat(m.Variance())
			n, missing := m.NumValues(), m.NumMissing()
			entry.NumValues, entry.NumMissing = &n, &missing
		case schema.Categorical:
			h := s.histograms[catIdx]
			catIdx++
			entry.Histogram = h.counts
			unique := h.NumUniqueValues()
			n, missing := h.NumValues(), h.NumMissing()
			entry.NumUniqueValues = &unique
			entry.NumValues, entry.NumMissing = &n, &missing
		}
		out = append(out, entry)
	}
	return json.Marshal(out)
}

// snapshot is the persisted encoding of a summarizer. The schema blob
// rides along so the state can be restored without a metadata lookup.
type snapshot struct {
	Schema     json.RawMessage `json:"schema"`
	Moments    []*Moments      `json:"moments"`
	Histograms []*Histogram    `json:"histograms"`
}

// Snapshot serializes the full state for the object store.
func (s *Summarizer) Snapshot() ([]byte, error) {
	return json.Marshal(snapshot{
		Schema:     s.schemaBlob,
		Moments:    s.moments,
		Histograms: s.histograms,
	})
}

// FromSnapshot restores a summarizer persisted with Snapshot.
func FromSnapshot(blob []byte) (*Summarizer, error) {
	var snap snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, fmt.Errorf("summarizer: decode snapshot: %w", err)
	}
	sum, err := New(snap.Schema)
	if err != nil {
		return nil, err
	}
	if len(snap.Moments) != len(sum.moments) || len(snap.Histograms) != len(sum.histograms) {
		return nil, fmt.Errorf("summarizer: snapshot shape does not match schema")
	}
	sum.moments = snap.Moments
	sum.histograms = snap.Histograms
	return sum, nil
}
