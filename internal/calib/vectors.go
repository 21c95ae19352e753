package calib

import (
	"slices"
	"time"

	"github.com/large-farva/calibration-engine/internal/detector"
	"github.com/large-farva/calibration-engine/internal/phase"
)

// Entry is one row of a store's orbit index. Handle is the store's own
// locator for the record (catalog record, table row or packet offset).
type Entry struct {
	Orbit        int       `json:"orbit"`
	Quality      int       `json:"quality"`
	Consolidated bool      `json:"consolidated"`
	SAA          bool      `json:"saa"`
	Handle       int64     `json:"handle"`
	EntryTime    time.Time `json:"entry_time"`
}

// VectorSet is the decoded content of one record. Every vector spans the
// full detector in physical pixel order; pixels outside Range are zero.
type VectorSet struct {
	Kind    Kind                   `json:"kind"`
	Version Version                `json:"version"`
	Entry   Entry                  `json:"entry"`
	Range   detector.Range         `json:"range"`
	Vectors map[Quantity][]float64 `json:"vectors,omitempty"`

	// Harmonic and PhaseBins carry the orbital variation sample when the
	// record has one.
	Harmonic  *phase.Harmonic `json:"harmonic,omitempty"`
	PhaseBins [][]float64     `json:"-"`
}

// NewVectorSet returns an empty set for the given record.
func NewVectorSet(k Kind, v Version, e Entry, r detector.Range) *VectorSet {
	return &VectorSet{
		Kind:    k,
		Version: v,
		Entry:   e,
		Range:   r,
		Vectors: make(map[Quantity][]float64),
	}
}

// Set stores vec under q, zeroing pixels outside the set's range.
func (s *VectorSet) Set(q Quantity, vec []float64) {
	detector.Mask(vec, s.Range)
	s.Vectors[q] = vec
}

// Vector returns the vector for q, or a zero vector if the record has none.
func (s *VectorSet) Vector(q Quantity) []float64 {
	if v, ok := s.Vectors[q]; ok {
		return v
	}
	return make([]float64, detector.Pixels)
}

// Has reports whether the record carries q.
func (s *VectorSet) Has(q Quantity) bool {
	_, ok := s.Vectors[q]
	return ok
}

// Quantities returns the carried quantities in a stable order.
func (s *VectorSet) Quantities() []Quantity {
	out := make([]Quantity, 0, len(s.Vectors))
	for q := range s.Vectors {
		out = append(out, q)
	}
	slices.Sort(out)
	return out
}
