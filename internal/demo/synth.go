package demo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/config"
	"github.com/large-farva/calibration-engine/internal/detector"
	"github.com/large-farva/calibration-engine/internal/fixture"
	"github.com/large-farva/calibration-engine/internal/phase"
	"github.com/large-farva/calibration-engine/internal/store"
)

// Synthesize writes a plausible calibration tree under cfg.Data.Root: V1,
// V2 and V3 stores covering cfg.Demo.Orbits orbits from
// cfg.Demo.FirstOrbit, a key-data file and an event table. It does
// nothing when the V1 catalog already exists. progress, when non-nil, is
// called after each step.
func Synthesize(ctx context.Context, cfg config.Config, progress func(stage string, percent float64)) (bool, error) {
	if progress == nil {
		progress = func(string, float64) {}
	}
	v1 := cfg.Path(cfg.Stores.V1Root)
	if _, err := os.Stat(filepath.Join(v1, store.CatalogFile)); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	s := synth{
		first:  cfg.Demo.FirstOrbit,
		orbits: cfg.Demo.Orbits,
		rng:    rand.New(rand.NewPCG(uint64(cfg.Demo.FirstOrbit), 0x5eed)),
	}

	steps := []struct {
		stage string
		run   func() error
	}{
		{"v1 stores", func() error { return fixture.WriteV1(v1, s.v1Orbits(), store.Zstd) }},
		{"v2 stores", func() error { return s.writeV2(ctx, cfg.Path(cfg.Stores.V2Root)) }},
		{"v3 stores", func() error { return fixture.WriteV3(cfg.Path(cfg.Stores.V3Root), calib.FittedDark, s.v3Darks()) }},
		{"key data", func() error { return fixture.WriteKeyData(ctx, cfg.Path(cfg.Stores.KeyData), s.keyData()) }},
		{"orbit events", func() error { return fixture.WriteEvents(cfg.Path(cfg.Stores.ROE), s.events()) }},
	}
	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := st.run(); err != nil {
			return false, fmt.Errorf("synthesize %s: %w", st.stage, err)
		}
		progress(st.stage, 100*float64(i+1)/float64(len(steps)))
	}
	return true, nil
}

type synth struct {
	first, orbits int
	rng           *rand.Rand
}

func (s synth) each(step int, fn func(orbit int)) {
	for o := s.first; o < s.first+s.orbits; o += step {
		fn(o)
	}
}

func (s synth) quality(orbit, salt int) int {
	return 20 + (orbit*37+salt*11)%80
}

// jitter returns a full-detector vector around base with relative spread.
func (s synth) jitter(base, spread float64) []float64 {
	out := make([]float64, detector.Pixels)
	for i := range out {
		out[i] = base * (1 + spread*s.rng.NormFloat64())
	}
	return out
}

func (s synth) dark() map[calib.Quantity][]float64 {
	return map[calib.Quantity][]float64{
		calib.AnalogOffset:      s.jitter(1200, 0.02),
		calib.DarkCurrent:       s.jitter(40, 0.1),
		calib.AnalogOffsetError: s.jitter(2, 0.1),
		calib.DarkCurrentError:  s.jitter(0.5, 0.1),
		calib.MeanNoise:         s.jitter(1.8, 0.05),
		calib.ChiSquare:         s.jitter(1, 0.2),
	}
}

func (s synth) mask() []float64 {
	m := make([]float64, detector.Pixels)
	for i := range m {
		if s.rng.Float64() < 0.01 {
			m[i] = 1
		}
	}
	return m
}

// orbitalBins samples a one-harmonic variation of the channel-8 dark.
func (s synth) orbitalBins() [][]float64 {
	bins := make([][]float64, store.V1OrbitalBins)
	for b := range bins {
		v := 4 * math.Cos(2*math.Pi*float64(b)/float64(len(bins)))
		bins[b] = make([]float64, detector.ChannelSize)
		for p := range bins[b] {
			bins[b][p] = v * (1 + 0.05*s.rng.NormFloat64())
		}
	}
	return bins
}

func (s synth) v1Orbits() []fixture.V1Orbit {
	var out []fixture.V1Orbit
	s.each(1, func(o int) {
		recs := map[calib.Kind]fixture.Record{
			calib.FittedDark:   {Vectors: s.dark()},
			calib.BadPixelMask: {Vectors: map[calib.Quantity][]float64{calib.PixelMask: s.mask()}},
		}
		if o%5 == 0 {
			recs[calib.OrbitalDark] = fixture.Record{PhaseBins: s.orbitalBins()}
		}
		if o%10 == 0 {
			recs[calib.Transmission] = fixture.Record{Vectors: map[calib.Quantity][]float64{calib.TransmissionFactor: s.jitter(0.95, 0.01)}}
			recs[calib.WlsTransmission] = fixture.Record{Vectors: map[calib.Quantity][]float64{calib.TransmissionFactor: s.jitter(0.97, 0.01)}}
			recs[calib.PixelGain] = fixture.Record{Vectors: map[calib.Quantity][]float64{calib.GainFactor: s.jitter(1, 0.01)}}
			recs[calib.SunMeanReference] = fixture.Record{Vectors: map[calib.Quantity][]float64{calib.SunReference: fixture.Ramp(5000, 0.5)}}
		}
		out = append(out, fixture.V1Orbit{
			Orbit:       o,
			Quality:     s.quality(o, 1),
			MaskQuality: s.quality(o, 2),
			Records:     recs,
		})
	})
	return out
}

func (s synth) writeV2(ctx context.Context, root string) error {
	var darks, simu, trans, gain, mask []fixture.Record
	s.each(3, func(o int) {
		darks = append(darks, fixture.Record{Orbit: o, Quality: s.quality(o, 3), Consolidated: true, Vectors: s.dark()})
	})
	s.each(1, func(o int) {
		if o%4 == 3 {
			return
		}
		ch8 := s.dark()
		ch8[calib.Amplitude] = s.jitter(3, 0.05)
		ch8[calib.AmplitudeError] = s.jitter(0.2, 0.05)
		simu = append(simu, fixture.Record{
			Orbit: o, Quality: 100, Vectors: ch8,
			Harmonic: phase.Harmonic{PhaseOffset: 0.1, Phase2Offset: 0.05, Amplitude2: 0.3, Amplitude2Error: 0.05},
		})
	})
	s.each(8, func(o int) {
		q := s.quality(o, 4)
		trans = append(trans, fixture.Record{Orbit: o, Quality: q, Vectors: map[calib.Quantity][]float64{calib.TransmissionFactor: s.jitter(0.96, 0.01)}})
		gain = append(gain, fixture.Record{Orbit: o, Quality: q, Vectors: map[calib.Quantity][]float64{calib.GainFactor: s.jitter(1, 0.005)}})
		mask = append(mask, fixture.Record{Orbit: o, Quality: q, Vectors: map[calib.Quantity][]float64{calib.PixelMask: s.mask()}})
	})

	for _, w := range []struct {
		k    calib.Kind
		recs []fixture.Record
	}{
		{calib.FittedDark, darks},
		{calib.SimuDark, simu},
		{calib.Transmission, trans},
		{calib.PixelGain, gain},
		{calib.BadPixelMask, mask},
	} {
		if err := fixture.WriteV2(ctx, root, w.k, w.recs); err != nil {
			return err
		}
	}
	return nil
}

func (s synth) v3Darks() []fixture.Record {
	var out []fixture.Record
	s.each(7, func(o int) {
		out = append(out, fixture.Record{Orbit: o, Quality: 60 + o%40, Consolidated: true, Vectors: s.dark()})
	})
	return out
}

func (s synth) keyData() fixture.KeyData {
	kd := fixture.KeyData{Memory: make(map[int][]float64)}
	for ch := 1; ch < detector.FirstInfraChannel; ch++ {
		tbl := make([]float64, 4096)
		for i := range tbl {
			tbl[i] = 0.002 * float64(i) * float64(ch)
		}
		kd.Memory[ch] = tbl
	}
	const curves = 4
	kd.Curves = make([]int, detector.Pixels)
	for i := range kd.Curves {
		kd.Curves[i] = i % curves
	}
	for c := range curves {
		row := make([]float64, 4096)
		for n := range row {
			x := float64(n) / float64(len(row))
			row[n] = float64(c+1) * 20 * x * (1 - x)
		}
		kd.Matrix = append(kd.Matrix, row)
	}
	return kd
}

func (s synth) events() []phase.Event {
	var out []phase.Event
	s.each(1, func(o int) {
		out = append(out, phase.Event{
			Orbit:        int32(o),
			EclipseEntry: 3400 + 20*s.rng.Float64(),
			EclipseExit:  1200 + 20*s.rng.Float64(),
			Period:       6035.9,
		})
	})
	return out
}
