package engine

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/large-farva/calibration-engine/internal/calib"
)

// QuantitySummary describes one vector of a lookup over its pixel range.
type QuantitySummary struct {
	Quantity calib.Quantity `json:"quantity"`
	Pixels   int            `json:"pixels"`
	NaN      int            `json:"nan"`
	Min      float64        `json:"min"`
	Max      float64        `json:"max"`
	Mean     float64        `json:"mean"`
	StdDev   float64        `json:"std_dev"`
}

// Summarize computes per-quantity statistics of set over its range,
// ignoring NaN pixels.
func Summarize(set *calib.VectorSet) []QuantitySummary {
	r := set.Range
	out := make([]QuantitySummary, 0, len(set.Vectors))
	for _, q := range set.Quantities() {
		vec := set.Vectors[q][r.Start : r.End+1]
		s := QuantitySummary{Quantity: q, Pixels: len(vec)}
		vals := make([]float64, 0, len(vec))
		for _, v := range vec {
			if math.IsNaN(v) {
				s.NaN++
				continue
			}
			vals = append(vals, v)
		}
		if len(vals) > 0 {
			s.Min = floats.Min(vals)
			s.Max = floats.Max(vals)
			s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
			if len(vals) == 1 {
				s.StdDev = 0
			}
		}
		out = append(out, s)
	}
	return out
}
