package engine

import (
	"context"
	"errors"
	"math"
	"slices"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
)

// DarkCorrection is the dark signal to subtract from one orbit's readouts,
// assembled from the fitted dark and, when a phase is known, the orbital
// variation of the infrared channel.
type DarkCorrection struct {
	Orbit    int     `json:"orbit"`
	Phase    float64 `json:"phase"`
	HasPhase bool    `json:"has_phase"`

	AnalogOffset      []float64 `json:"-"`
	DarkCurrent       []float64 `json:"-"`
	AnalogOffsetError []float64 `json:"-"`
	DarkCurrentError  []float64 `json:"-"`
	// MeanNoise is nil when the fitted record carries none.
	MeanNoise []float64 `json:"-"`

	Fitted  *Result `json:"fitted"`
	Orbital *Result `json:"orbital,omitempty"`
	Simu    *Result `json:"simu,omitempty"`
	Notes   []Note  `json:"notes"`
}

// smallest normal float64
const minNormal = 0x1p-1022

func normal(v float64) bool {
	return v != 0 && !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) >= minNormal
}

// Dark builds the dark correction for req.Orbit over the whole detector;
// req.Channel is ignored. With a phase, channel 8 prefers the simulated
// dark and falls back to the orbital phase table. A missing fitted dark
// fails with calib.ErrNoData. With a session the result is cached per
// orbit and phase and must not be modified.
func (e *Engine) Dark(ctx context.Context, req Request) (*DarkCorrection, error) {
	req.Channel = 0
	if e.session == nil {
		return e.buildDark(ctx, req)
	}
	c, err := e.session.darkCell(darkKey{req.Orbit, req.Phase, req.HasPhase})
	if err != nil {
		return nil, err
	}
	return c.get(func() (*DarkCorrection, error) {
		return e.buildDark(context.WithoutCancel(ctx), req)
	})
}

func (e *Engine) buildDark(ctx context.Context, req Request) (*DarkCorrection, error) {
	fitted, err := e.Lookup(ctx, calib.FittedDark, req)
	if err != nil {
		return nil, err
	}
	d := &DarkCorrection{
		Orbit:             req.Orbit,
		HasPhase:          req.HasPhase,
		Fitted:            fitted,
		AnalogOffset:      slices.Clone(fitted.Set.Vector(calib.AnalogOffset)),
		DarkCurrent:       slices.Clone(fitted.Set.Vector(calib.DarkCurrent)),
		AnalogOffsetError: slices.Clone(fitted.Set.Vector(calib.AnalogOffsetError)),
		DarkCurrentError:  slices.Clone(fitted.Set.Vector(calib.DarkCurrentError)),
		Notes:             []Note{fitted.Note},
	}
	if fitted.Set.Has(calib.MeanNoise) {
		d.MeanNoise = slices.Clone(fitted.Set.Vector(calib.MeanNoise))
	}
	if !req.HasPhase {
		return d, nil
	}

	simu, err := e.Lookup(ctx, calib.SimuDark, req)
	switch {
	case err == nil:
		d.applySimu(simu)
		return d, nil
	case !errors.Is(err, calib.ErrNoData):
		return nil, err
	}
	d.Notes = append(d.Notes, absentNote(calib.SimuDark, req.Orbit))

	orbital, err := e.Lookup(ctx, calib.OrbitalDark, req)
	switch {
	case err == nil:
		d.applyOrbital(orbital)
	case errors.Is(err, calib.ErrNoData):
		d.Notes = append(d.Notes, absentNote(calib.OrbitalDark, req.Orbit))
	default:
		return nil, err
	}
	return d, nil
}

// applySimu replaces channel 8 by the simulated dark and adds its
// two-harmonic variation.
func (d *DarkCorrection) applySimu(r *Result) {
	ch8 := detector.PixelRange(detector.Channels)
	lo, hi := ch8.Start, ch8.End+1
	copy(d.AnalogOffset[lo:hi], r.Set.Vector(calib.AnalogOffset)[lo:hi])
	copy(d.DarkCurrent[lo:hi], r.Set.Vector(calib.DarkCurrent)[lo:hi])
	copy(d.AnalogOffsetError[lo:hi], r.Set.Vector(calib.AnalogOffsetError)[lo:hi])
	copy(d.DarkCurrentError[lo:hi], r.Set.Vector(calib.DarkCurrentError)[lo:hi])
	if r.Variation != nil {
		for i := lo; i < hi; i++ {
			d.DarkCurrent[i] += r.Variation[i]
			d.DarkCurrentError[i] += r.VariationError[i]
		}
	}
	d.Phase = r.Phase
	d.Simu = r
	d.Notes = append(d.Notes, r.Note)
}

// applyOrbital adds the interpolated phase bin to the channel 8 dark
// current. Pixels where either value is zero or not a normal number keep
// the fitted value.
func (d *DarkCorrection) applyOrbital(r *Result) {
	ch8 := detector.PixelRange(detector.Channels)
	for i := ch8.Start; i <= ch8.End && r.Variation != nil; i++ {
		if normal(d.DarkCurrent[i]) && normal(r.Variation[i]) {
			d.DarkCurrent[i] += r.Variation[i]
		}
	}
	d.Phase = r.Phase
	d.Orbital = r
	d.Notes = append(d.Notes, r.Note)
}
