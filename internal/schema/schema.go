// Package schema defines the dataset feature schema and record types,
// plus the static validation rules applied at dataset creation and
// record ingestion.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
)

// FeatureType is the type class of a feature.
type FeatureType string

const (
	Numerical   FeatureType = "NUMERICAL"
	Categorical FeatureType = "CATEGORICAL"
	Text        FeatureType = "TEXT"
	Invalid     FeatureType = "INVALID"
)

// Valid reports whether t is a type saltfish can store.
func (t FeatureType) Valid() bool {
	switch t {
	case Numerical, Categorical, Text:
		return true
	}
	return false
}

// Feature is one named, typed column of a schema.
type Feature struct {
	Name string      `json:"name"`
	Type FeatureType `json:"type"`
}

// Schema is the ordered, immutable feature list of a dataset.
type Schema struct {
	Features []Feature `json:"features"`
}

// HasDuplicateFeatures reports whether two features share a name.
func (s *Schema) HasDuplicateFeatures() bool {
	seen := make(map[string]bool, len(s.Features))
	for _, f := range s.Features {
		if seen[f.Name] {
			return true
		}
		seen[f.Name] = true
	}
	return false
}

// HasInvalidFeatures reports whether any feature has an unusable type.
func (s *Schema) HasInvalidFeatures() bool {
	for _, f := range s.Features {
		if !f.Type.Valid() {
			return true
		}
	}
	return false
}

// Counts returns the number of numerical, categorical and text features,
// in schema order semantics.
func (s *Schema) Counts() (numericals, categoricals, texts int) {
	for _, f := range s.Features {
		switch f.Type {
		case Numerical:
			numericals++
		case Categorical:
			categoricals++
		case Text:
			texts++
		}
	}
	return
}

// Encode serializes the schema to its canonical blob form. These bytes
// are what the metadata store persists and what the create idempotency
// check compares, so the encoding must be deterministic.
func (s *Schema) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses a schema blob produced by Encode.
func Decode(blob []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, fmt.Errorf("schema: decode: %w", err)
	}
	return &s, nil
}

// Record is one row of feature values. Each slice is ordered to match
// the features of its type class in schema order. NaN marks a missing
// numerical value; the empty string marks a missing categorical.
type Record struct {
	Numericals   []float64
	Categoricals []string
	Texts        []string
}

// MarshalJSON encodes the record with missing numericals as null, since
// NaN is not representable in JSON.
func (r Record) MarshalJSON() ([]byte, error) {
	enc := wireRecord{
		Numericals:   make([]*float64, len(r.Numericals)),
		Categoricals: r.Categoricals,
		Texts:        r.Texts,
	}
	for i, v := range r.Numericals {
		if !math.IsNaN(v) {
			v := v
			enc.Numericals[i] = &v
		}
	}
	return json.Marshal(enc)
}

// UnmarshalJSON restores nulls to NaN.
func (r *Record) UnmarshalJSON(blob []byte) error {
	var enc wireRecord
	if err := json.Unmarshal(blob, &enc); err != nil {
		return err
	}
	r.Numericals = make([]float64, len(enc.Numericals))
	r.Categoricals = enc.Categoricals
	r.Texts = enc.Texts
	for i, v := range enc.Numericals {
		if v == nil {
			r.Numericals[i] = math.NaN()
		} else {
			r.Numericals[i] = *v
		}
	}
	return nil
}

// TaggedRecord pairs a record with an optional client-supplied id and an
// optional free-text provenance tag.
type TaggedRecord struct {
	RecordID []byte `json:"record_id,omitempty"`
	Record   Record `json:"record"`
	Source   string `json:"source,omitempty"`
}

// CheckRecord validates a record against a schema. It returns nil when
// the record's per-type arities match the schema exactly and the schema
// itself contains no invalid feature.
func CheckRecord(s *Schema, r *Record) error {
	for _, f := range s.Features {
		if !f.Type.Valid() {
			return fmt.Errorf("dataset unusable as its schema contains an invalid feature (feature_name=%s)", f.Name)
		}
	}
	expNumericals, expCategoricals, expTexts := s.Counts()
	if len(r.Numericals) != expNumericals {
		return fmt.Errorf("record contains %d numerical features (expected %d)",
			len(r.Numericals), expNumericals)
	}
	if len(r.Categoricals) != expCategoricals {
		return fmt.Errorf("record contains %d categorical features (expected %d)",
			len(r.Categoricals), expCategoricals)
	}
	if len(r.Texts) != expTexts {
		return fmt.Errorf("record contains %d text features (expected %d)",
			len(r.Texts), expTexts)
	}
	return nil
}

// EncodeRecord serializes a record for the object store.
func EncodeRecord(r *Record) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord parses the bytes produced by EncodeRecord.
func DecodeRecord(blob []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(blob, &r); err != nil {
		return nil, fmt.Errorf("schema: decode record: %w", err)
	}
	return &r, nil
}

type wireRecord struct {
	Numericals   []*float64 `json:"numericals"`
	Categoricals []string   `json:"categoricals"`
	Texts        []string   `json:"texts"`
}
