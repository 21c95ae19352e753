// Package phase models how the dark signal varies along the orbit. Two
// models exist: a table of equally spaced phase bins that is interpolated
// linearly, and a two-harmonic fit evaluated in closed form.
package phase

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Normalize folds p into [0, 1).
func Normalize(p float64) float64 {
	p = math.Mod(p, 1)
	if p < 0 {
		p++
	}
	if p >= 1 {
		p = 0
	}
	return p
}

// Rebase converts a phase given in the product definition to the store
// definition by subtracting the orbit's phase offset.
func Rebase(productPhase, diff float64) float64 {
	p := productPhase - diff
	if p < 0 {
		p++
	}
	return Normalize(p)
}

// Bracket interpolates linearly between the two bins that surround phase.
// The upper neighbour of the last bin is the first bin. A phase that falls
// exactly on a bin boundary returns a copy of that bin.
func Bracket(bins [][]float64, phase float64) []float64 {
	n := len(bins)
	if n == 0 {
		panic("phase: no bins to interpolate")
	}

	pos := Normalize(phase) * float64(n)
	base := math.Floor(pos)
	frac := pos - base
	lo := int(base) % n

	out := make([]float64, len(bins[lo]))
	if frac == 0 {
		copy(out, bins[lo])
		return out
	}

	hi := (lo + 1) % n
	if len(bins[hi]) != len(out) {
		panic(fmt.Sprintf("phase: bin %d has %d values, bin %d has %d", lo, len(out), hi, len(bins[hi])))
	}
	floats.ScaleTo(out, 1-frac, bins[lo])
	floats.AddScaled(out, frac, bins[hi])
	return out
}

// Harmonic holds the scalar terms of the two-harmonic orbital model. The
// per-pixel first-harmonic amplitudes travel separately as vectors.
type Harmonic struct {
	PhaseOffset     float64 `json:"phase_offset"`
	Phase2Offset    float64 `json:"phase2_offset"`
	Amplitude2      float64 `json:"amplitude2"`
	Amplitude2Error float64 `json:"amplitude2_error"`
}

// Variation is the dimensionless orbital variation at phase.
func (h Harmonic) Variation(phase float64) float64 {
	return h.eval(phase, h.Amplitude2)
}

// ErrorVariation is the matching factor for the error amplitudes.
func (h Harmonic) ErrorVariation(phase float64) float64 {
	return h.eval(phase, h.Amplitude2Error)
}

func (h Harmonic) eval(phase, amp2 float64) float64 {
	return math.Cos(2*math.Pi*(h.PhaseOffset+phase)) +
		amp2*math.Cos(4*math.Pi*(h.Phase2Offset+phase))
}

// Apply adds the orbital variation at phase to dark and its error.
// amp and ampErr are the per-pixel first-harmonic amplitudes.
func (h Harmonic) Apply(dark, darkErr, amp, ampErr []float64, phase float64) {
	floats.AddScaled(dark, h.Variation(phase), amp)
	floats.AddScaled(darkErr, h.ErrorVariation(phase), ampErr)
}
