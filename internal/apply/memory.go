package apply

import (
	"fmt"
	"slices"

	"github.com/large-farva/calibration-engine/internal/detector"
)

// setupTimes holds the instrument setup time in milliseconds of every
// state, indexed by state ID minus one.
var setupTimes = [70]float64{
	421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875,
	421.875, 421.875, 421.875, 421.875, 421.875, 1269.53125, 421.875, 421.875, 421.875, 421.875,
	421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875,
	421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875,
	421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 1269.53125, 421.875, 421.875,
	421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 421.875, 519.53125, 421.875,
	1269.53125, 421.875, 421.875, 421.875, 335.9375, 421.875, 421.875, 421.875, 519.53125, 1269.53125,
}

// SetupTime returns the setup time in milliseconds of a state. States are
// numbered from 1.
func SetupTime(stateID int) (float64, bool) {
	if stateID < 1 || stateID > len(setupTimes) {
		return 0, false
	}
	return setupTimes[stateID-1], true
}

// Carry is the memory-effect correction each column carries into its next
// readout.
type Carry []float64

// ScanFraction is the share of the signal above the last-in-scan dark that
// is assumed to have been present before a scan restart.
const ScanFraction = 3.0 / 16.0

// ResetCarry derives the carry of the first readout after a state change
// from the state's setup time: the readout before it integrated the same
// scene for the setup time instead of the pixel exposure time.
func ResetCarry(r *Readout, table []float64) Carry {
	r.check()
	setup, ok := SetupTime(r.StateID)
	if !ok {
		panic(fmt.Sprintf("apply: no setup time for state %d", r.StateID))
	}
	if !(r.PET > 0) {
		panic(fmt.Sprintf("apply: pixel exposure time %v", r.PET))
	}
	carry := make(Carry, len(r.PixelIDs))
	if r.NumObs == 0 {
		return carry
	}
	scale := setup / (1000 * float64(r.Coadd) * r.PET)
	for col, s := range r.Row(0) {
		carry[col] = table[quantize(scale*s, len(table))]
	}
	return carry
}

// MemoryEffect removes the signal memory of the silicon channels. Each
// readout is corrected by the table value of the previous readout's
// per-coadd signal; the previous value is taken from carry. A nil carry
// starts from ResetCarry. Observations flagged in ScanStart restart the
// recursion from the last readout of the buffer, which is a dark
// measurement for scanning states.
//
// carry is updated in place and returned so the caller can continue the
// recursion into the next cluster of the same state.
func MemoryEffect(r *Readout, table []float64, carry Carry) Carry {
	r.check()
	if detector.IsInfrared(r.Channel) {
		panic(fmt.Sprintf("apply: channel %d has no memory effect", r.Channel))
	}
	if carry == nil {
		carry = ResetCarry(r, table)
	}
	if len(carry) != len(r.PixelIDs) {
		panic(fmt.Sprintf("apply: carry holds %d columns, readout %d", len(carry), len(r.PixelIDs)))
	}
	if r.NumObs == 0 {
		return carry
	}

	coadd := float64(r.Coadd)
	var dark []float64
	if slices.Contains(r.ScanStart, true) {
		dark = slices.Clone(r.Row(r.NumObs - 1))
	}

	for obs := 0; obs < r.NumObs; obs++ {
		row := r.Row(obs)
		if r.ScanStart != nil && r.ScanStart[obs] {
			for col, s := range row {
				v := dark[col]
				if s > v {
					v += ScanFraction * (s - v)
				}
				carry[col] = table[quantize(v/coadd, len(table))]
			}
		}
		for col, s := range row {
			n := quantize(s/coadd, len(table))
			row[col] = s - carry[col]
			if r.Coadd > 1 {
				row[col] -= (coadd - 1) * table[n]
			}
			carry[col] = table[n]
		}
	}
	return carry
}
