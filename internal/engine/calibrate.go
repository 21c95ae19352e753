package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/large-farva/calibration-engine/internal/apply"
	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
)

// Terms selects correction steps.
type Terms uint16

const (
	TermMemory Terms = 1 << iota
	TermNonLinearity
	TermNoise
	TermDark
	TermPixelGain
	TermTransmission
	TermMask

	AllTerms = TermMemory | TermNonLinearity | TermNoise | TermDark |
		TermPixelGain | TermTransmission | TermMask
)

var termNames = []struct {
	t    Terms
	name string
}{
	{TermMemory, "memory"},
	{TermNonLinearity, "non-linearity"},
	{TermNoise, "noise"},
	{TermDark, "dark"},
	{TermPixelGain, "pixel-gain"},
	{TermTransmission, "transmission"},
	{TermMask, "mask"},
}

func (t Terms) Has(x Terms) bool { return t&x == x }

// Names lists the set terms in processing order.
func (t Terms) Names() []string {
	var out []string
	for _, n := range termNames {
		if t.Has(n.t) {
			out = append(out, n.name)
		}
	}
	return out
}

func (t Terms) String() string { return strings.Join(t.Names(), ",") }

// ParseTerms reads a comma-separated list of term names.
func ParseTerms(s string) (Terms, error) {
	var t Terms
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if f == "all" {
			t |= AllTerms
			continue
		}
		found := false
		for _, n := range termNames {
			if n.name == f {
				t |= n.t
				found = true
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown correction term %q", f)
		}
	}
	return t, nil
}

// Observation is everything calibrated together: the readouts of one
// orbit (or part of it) plus optional per-run overrides.
type Observation struct {
	Orbit    int
	Phase    float64
	HasPhase bool
	Readouts []*apply.Readout

	// ElectronsPerCount overrides the configured conversion, per channel.
	ElectronsPerCount []float64
	// MeanNoise is used when the fitted dark carries no noise vector.
	MeanNoise []float64
	// Terms restricts the steps; zero means all.
	Terms Terms
}

// Report describes one Calibrate call.
type Report struct {
	Orbit    int      `json:"orbit"`
	Applied  []string `json:"applied"`
	Disabled []string `json:"disabled,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Notes    []Note   `json:"notes"`
}

// Calibrator applies the correction chain to observations. A silicon
// channel's memory-effect state continues into the next call only when that
// call reads the same state of the same orbit over the same pixels; any
// other readout starts from the setup-time reset. Missing kinds are warned
// about once. A Calibrator is not safe for concurrent use.
type Calibrator struct {
	eng    *Engine
	carry  map[int]memoryCarry
	warned map[string]bool
}

// memoryCarry is the last memory-effect state of one channel together with
// the cluster it belongs to.
type memoryCarry struct {
	orbit  int
	state  int
	pixels []int
	carry  apply.Carry
}

func (m memoryCarry) continues(orbit int, r *apply.Readout) bool {
	return m.carry != nil && m.orbit == orbit && m.state == r.StateID &&
		slices.Equal(m.pixels, r.PixelIDs)
}

// NewCalibrator returns a calibrator that looks data up through e.
func (e *Engine) NewCalibrator() *Calibrator {
	return &Calibrator{
		eng:    e,
		carry:  make(map[int]memoryCarry),
		warned: make(map[string]bool),
	}
}

// Calibrate corrects obs.Readouts in place. Missing calibration data
// disables the affected step; store failures abort the call with the
// readouts partially corrected.
func (c *Calibrator) Calibrate(ctx context.Context, obs Observation) (*Report, error) {
	cfg := c.eng.cfg
	electrons := obs.ElectronsPerCount
	if electrons == nil {
		electrons = cfg.Calibration.ElectronsPerCount
	}
	if len(electrons) != detector.Channels {
		return nil, fmt.Errorf("electrons per count: %d values, want %d", len(electrons), detector.Channels)
	}

	terms := obs.Terms
	if terms == 0 {
		terms = AllTerms
	}
	if !cfg.Calibration.PropagateErrors {
		terms &^= TermNoise
	}
	rep := &Report{Orbit: obs.Orbit}
	disable := func(t Terms) {
		terms &^= t
	}

	if terms&(TermMemory|TermNonLinearity) != 0 {
		if err := c.keyData(ctx, obs, terms, rep); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			c.warn(rep, "keydata", fmt.Sprintf("key data unavailable, memory and non-linearity corrections disabled: %v", err))
			disable(TermMemory | TermNonLinearity)
		}
	}

	if terms&(TermNoise|TermDark) != 0 {
		d, err := c.eng.Dark(ctx, Request{Orbit: obs.Orbit, Phase: obs.Phase, HasPhase: obs.HasPhase})
		switch {
		case err == nil:
			rep.Notes = append(rep.Notes, d.Notes...)
			noise := d.MeanNoise
			if noise == nil {
				noise = obs.MeanNoise
			}
			if terms.Has(TermNoise) && noise == nil {
				c.warn(rep, "mean-noise", "no mean noise for this dark, error propagation disabled")
				disable(TermNoise)
			}
			for _, r := range obs.Readouts {
				if terms.Has(TermNoise) {
					apply.ShotNoise(r, d.AnalogOffset, noise, electrons[r.Channel-1])
				}
				if terms.Has(TermDark) {
					apply.Dark(r, d.AnalogOffset, d.DarkCurrent)
				}
				if terms.Has(TermNoise) {
					apply.DarkError(r, d.AnalogOffsetError, d.DarkCurrentError)
				}
			}
		case errors.Is(err, calib.ErrNoData):
			c.warn(rep, calib.FittedDark.String(), fmt.Sprintf("dark correction disabled: %v", err))
			disable(TermNoise | TermDark)
		default:
			return nil, err
		}
	}

	if err := c.lateTerms(ctx, obs, &terms, rep); err != nil {
		return nil, err
	}

	rep.Applied = terms.Names()
	rep.Disabled = (AllTerms &^ terms).Names()
	return rep, nil
}

// keyData applies the memory effect and non-linearity. A readout whose
// table is missing is left alone with a warning.
func (c *Calibrator) keyData(ctx context.Context, obs Observation, terms Terms, rep *Report) error {
	kd, err := c.eng.KeyData(ctx)
	if err != nil {
		return err
	}
	for _, r := range obs.Readouts {
		if detector.IsInfrared(r.Channel) {
			if !terms.Has(TermNonLinearity) {
				continue
			}
			nl, err := kd.NonLinearityTables()
			if errors.Is(err, calib.ErrNoData) {
				c.warn(rep, "non-linearity", fmt.Sprintf("non-linearity correction skipped: %v", err))
				continue
			}
			if err != nil {
				return err
			}
			apply.NonLinearity(r, nl.Curves, nl.Matrix)
			continue
		}
		if !terms.Has(TermMemory) {
			continue
		}
		tbl, err := kd.MemoryTable(r.Channel)
		if errors.Is(err, calib.ErrNoData) {
			c.warn(rep, fmt.Sprintf("memory-%d", r.Channel), fmt.Sprintf("memory correction skipped: %v", err))
			continue
		}
		if err != nil {
			return err
		}
		var carry apply.Carry
		if prev := c.carry[r.Channel]; prev.continues(obs.Orbit, r) {
			carry = prev.carry
		}
		c.carry[r.Channel] = memoryCarry{
			orbit:  obs.Orbit,
			state:  r.StateID,
			pixels: slices.Clone(r.PixelIDs),
			carry:  apply.MemoryEffect(r, tbl, carry),
		}
	}
	return nil
}

var lateKinds = []struct {
	term Terms
	kind calib.Kind
}{
	{TermPixelGain, calib.PixelGain},
	{TermTransmission, calib.Transmission},
	{TermMask, calib.BadPixelMask},
}

// lateTerms looks up the gain, transmission and mask concurrently and
// applies whichever exist.
func (c *Calibrator) lateTerms(ctx context.Context, obs Observation, terms *Terms, rep *Report) error {
	var kinds []calib.Kind
	var want []Terms
	for _, l := range lateKinds {
		if terms.Has(l.term) {
			kinds = append(kinds, l.kind)
			want = append(want, l.term)
		}
	}
	if len(kinds) == 0 {
		return nil
	}
	results, err := c.eng.LookupAll(ctx, kinds, Request{Orbit: obs.Orbit})
	if err != nil {
		return err
	}

	for i, res := range results {
		if res == nil {
			c.warn(rep, kinds[i].String(), fmt.Sprintf("%s: no applicable data for orbit %d, correction disabled", kinds[i], obs.Orbit))
			*terms &^= want[i]
			continue
		}
		rep.Notes = append(rep.Notes, res.Note)
		for _, r := range obs.Readouts {
			switch kinds[i] {
			case calib.PixelGain:
				apply.PixelGain(r, res.Set.Vector(calib.GainFactor), c.eng.cfg.Calibration.GainError)
			case calib.Transmission:
				if _, ok := apply.Transmission(r, res.Set.Vector(calib.TransmissionFactor), detector.PixelRange(r.Channel)); !ok {
					c.warn(rep, fmt.Sprintf("transmission-%d", r.Channel),
						fmt.Sprintf("transmission for channel %d has no usable factors", r.Channel))
				}
			case calib.BadPixelMask:
				apply.MaskBadPixels(r, res.Set.Vector(calib.PixelMask))
			}
		}
	}
	return nil
}

// warn records msg the first time key is seen by this calibrator.
func (c *Calibrator) warn(rep *Report, key, msg string) {
	if c.warned[key] {
		return
	}
	c.warned[key] = true
	rep.Warnings = append(rep.Warnings, msg)
	c.eng.log.Printf("warning: %s", msg)
}
