// Package apply applies calibration vectors to detector readouts.
//
// Every function works in place on a Readout and assumes well-formed
// input: vectors span the full detector, and the readout's buffers agree
// with its dimensions. Violations panic.
package apply

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/large-farva/calibration-engine/internal/detector"
)

// Readout is one cluster of science data for a single channel. Signal and
// Error are observation-major: the value of column p at observation o is
// Signal[o*len(PixelIDs)+p].
type Readout struct {
	Channel         int
	PixelIDs        []int
	NumObs          int
	Signal          []float64
	Error           []float64
	Coadd           int
	PET             float64
	IntegrationTime []float64
	StateID         int
	ScanStart       []bool
}

// Row returns the signal of observation obs.
func (r *Readout) Row(obs int) []float64 {
	n := len(r.PixelIDs)
	return r.Signal[obs*n : (obs+1)*n]
}

func (r *Readout) check() {
	if r.Channel < 1 || r.Channel > detector.Channels {
		panic(fmt.Sprintf("apply: readout channel %d out of range", r.Channel))
	}
	if r.Coadd < 1 {
		panic(fmt.Sprintf("apply: coadd factor %d", r.Coadd))
	}
	if len(r.Signal) != r.NumObs*len(r.PixelIDs) {
		panic(fmt.Sprintf("apply: signal holds %d values, want %d×%d", len(r.Signal), r.NumObs, len(r.PixelIDs)))
	}
	if r.Error != nil && len(r.Error) != len(r.Signal) {
		panic(fmt.Sprintf("apply: error holds %d values, signal %d", len(r.Error), len(r.Signal)))
	}
	if r.ScanStart != nil && len(r.ScanStart) != r.NumObs {
		panic(fmt.Sprintf("apply: %d scan flags for %d observations", len(r.ScanStart), r.NumObs))
	}
	rng := detector.PixelRange(r.Channel)
	for _, id := range r.PixelIDs {
		if !rng.Contains(id) {
			panic(fmt.Sprintf("apply: pixel %d is not in channel %d", id, r.Channel))
		}
	}
}

func (r *Readout) checkTimes() {
	if len(r.IntegrationTime) != r.NumObs {
		panic(fmt.Sprintf("apply: %d integration times for %d observations", len(r.IntegrationTime), r.NumObs))
	}
}

func mustDetector(name string, vecs ...[]float64) {
	for _, v := range vecs {
		if len(v) != detector.Pixels {
			panic(fmt.Sprintf("apply: %s vector holds %d values, want %d", name, len(v), detector.Pixels))
		}
	}
}

// each calls fn for every sample with its observation, column and pixel.
func (r *Readout) each(fn func(i, obs, col, id int)) {
	n := len(r.PixelIDs)
	for obs := 0; obs < r.NumObs; obs++ {
		for col, id := range r.PixelIDs {
			fn(obs*n+col, obs, col, id)
		}
	}
}

// Dark subtracts the analog offset, scaled by the coadd factor, and the
// dark current, scaled by each observation's integration time.
func Dark(r *Readout, ao, lc []float64) {
	r.check()
	r.checkTimes()
	mustDetector("dark", ao, lc)
	coadd := float64(r.Coadd)
	r.each(func(i, obs, _, id int) {
		r.Signal[i] -= coadd*ao[id] + r.IntegrationTime[obs]*lc[id]
	})
}

// NonLinearity subtracts the tabulated non-linearity of each pixel's curve
// at its per-readout signal level.
func NonLinearity(r *Readout, curves []int, matrix [][]float64) {
	r.check()
	if len(curves) != detector.Pixels {
		panic(fmt.Sprintf("apply: %d curve indices, want %d", len(curves), detector.Pixels))
	}
	coadd := float64(r.Coadd)
	r.each(func(i, _, _, id int) {
		row := matrix[curves[id]]
		r.Signal[i] -= coadd * row[quantize(r.Signal[i]/coadd, len(row))]
	})
}

// ShotNoise sets Error to the variance of each sample: photon noise of the
// offset-free signal plus the read noise of every coadded readout.
func ShotNoise(r *Readout, ao, meanNoise []float64, electronsPerCount float64) {
	r.check()
	mustDetector("noise", ao, meanNoise)
	if !(electronsPerCount > 0) {
		panic(fmt.Sprintf("apply: electrons per count %v", electronsPerCount))
	}
	if r.Error == nil {
		r.Error = make([]float64, len(r.Signal))
	}
	coadd := float64(r.Coadd)
	r.each(func(i, _, _, id int) {
		noise := meanNoise[id]
		r.Error[i] = math.Abs(r.Signal[i]-coadd*ao[id])/electronsPerCount + coadd*noise*noise
	})
}

// DarkError adds the variance of the dark correction to the variance left
// by ShotNoise and converts the result to a standard deviation.
func DarkError(r *Readout, aoErr, lcErr []float64) {
	r.check()
	r.checkTimes()
	mustDetector("dark error", aoErr, lcErr)
	if r.Error == nil {
		panic("apply: DarkError before ShotNoise")
	}
	coadd := float64(r.Coadd)
	r.each(func(i, obs, _, id int) {
		a := coadd * aoErr[id]
		l := r.IntegrationTime[obs] * lcErr[id]
		r.Error[i] = math.Sqrt(r.Error[i] + a*a + l*l)
	})
}

// MinGain is the smallest pixel gain factor that is divided out. Pixels
// with a smaller factor are set to zero.
const MinGain = 1e-3

// PixelGain divides out the pixel-to-pixel gain. relErr is the relative
// uncertainty of the gain factors; when Error is set it is combined with
// the existing error.
func PixelGain(r *Readout, gain []float64, relErr float64) {
	r.check()
	mustDetector("gain", gain)
	r.each(func(i, _, _, id int) {
		if r.Error != nil {
			d := relErr * r.Signal[i]
			r.Error[i] = math.Hypot(r.Error[i], d)
		}
		if math.Abs(gain[id]) < MinGain {
			r.Signal[i] = 0
			return
		}
		r.Signal[i] /= gain[id]
	})
}

// Transmission divides the signal by the median transmission factor over
// rng and returns that median. NaN factors are ignored. When no usable
// factor exists the readout is left alone and ok is false.
func Transmission(r *Readout, trans []float64, rng detector.Range) (median float64, ok bool) {
	r.check()
	mustDetector("transmission", trans)
	vals := make([]float64, 0, rng.Len())
	for _, v := range trans[rng.Start : rng.End+1] {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, false
	}
	slices.Sort(vals)
	median = stat.Quantile(0.5, stat.Empirical, vals, nil)
	if median == 0 {
		return 0, false
	}
	for i := range r.Signal {
		r.Signal[i] /= median
	}
	return median, true
}

// MaskBadPixels replaces the signal of every flagged pixel by NaN.
func MaskBadPixels(r *Readout, mask []float64) {
	r.check()
	mustDetector("mask", mask)
	r.each(func(i, _, _, id int) {
		if mask[id] != 0 {
			r.Signal[i] = math.NaN()
		}
	})
}

// quantize rounds v to the nearest table index, clamped to [0, n).
func quantize(v float64, n int) int {
	if n == 0 {
		panic("apply: empty correction table")
	}
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	i := int(math.Round(v))
	if i >= n {
		return n - 1
	}
	return i
}
