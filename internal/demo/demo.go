// Package demo exercises the engine end to end without a real product
// stream. It synthesises a calibration tree on first start, then walks
// through the configured orbits, looking up every kind, assembling the
// dark and calibrating synthetic readouts, so the daemon, CLI and event
// stream can be tested without real data.
package demo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/large-farva/calibration-engine/internal/apply"
	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
	"github.com/large-farva/calibration-engine/internal/engine"
	"github.com/large-farva/calibration-engine/internal/telemetry"
	"github.com/large-farva/calibration-engine/internal/ws"
)

// Runner sweeps orbits on a configurable interval.
type Runner struct {
	Hub      *ws.Hub
	Engine   func() *engine.Engine // current engine; swapped on reload
	Interval time.Duration         // time between orbits

	FirstOrbit int
	Orbits     int

	next  int
	calib *engine.Calibrator
	owner *engine.Engine
}

// New creates a demo runner with a sensible default interval.
func New(hub *ws.Hub, eng func() *engine.Engine) *Runner {
	cfg := eng().Config()
	return &Runner{
		Hub:        hub,
		Engine:     eng,
		Interval:   2 * time.Second,
		FirstOrbit: cfg.Demo.FirstOrbit,
		Orbits:     cfg.Demo.Orbits,
	}
}

// Run processes one orbit immediately, then one per interval until ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context, setState func(string)) {
	r.log("info", fmt.Sprintf("demo mode active, sweeping %d orbits from %d", r.Orbits, r.FirstOrbit))

	r.Step(ctx, setState)

	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Step(ctx, setState)
		}
	}
}

// Step processes the next orbit of the sweep.
func (r *Runner) Step(ctx context.Context, setState func(string)) {
	if r.Orbits < 1 {
		return
	}
	orbit := r.FirstOrbit + r.next%r.Orbits
	r.next++
	ph := rand.Float64()

	setState("SCANNING")
	defer setState("READY")

	eng := r.Engine()
	if r.owner != eng {
		// A reload replaced the engine; memory-effect carries start over.
		r.owner, r.calib = eng, eng.NewCalibrator()
	}

	req := engine.Request{Orbit: orbit, Phase: ph, HasPhase: true}
	results, err := eng.LookupAll(ctx, calib.Kinds(), req)
	if err != nil {
		r.log("error", fmt.Sprintf("orbit %d: %v", orbit, err))
		return
	}
	found := 0
	for _, res := range results {
		if res != nil {
			found++
		}
	}
	r.progress("lookup", 50, fmt.Sprintf("orbit %d: %d of %d kinds applicable", orbit, found, len(results)))

	rep, err := r.calib.Calibrate(ctx, engine.Observation{
		Orbit:    orbit,
		Phase:    ph,
		HasPhase: true,
		Readouts: readouts(),
	})
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		r.log("error", fmt.Sprintf("orbit %d: calibrate: %v", orbit, err))
		return
	}
	r.progress("calibrate", 100, fmt.Sprintf("orbit %d phase %.3f: applied %v", orbit, ph, rep.Applied))
}

// readouts builds one small synthetic cluster per channel.
func readouts() []*apply.Readout {
	const pixels, obs = 16, 4
	out := make([]*apply.Readout, 0, detector.Channels)
	for ch := 1; ch <= detector.Channels; ch++ {
		rng := detector.PixelRange(ch)
		r := &apply.Readout{
			Channel:         ch,
			PixelIDs:        make([]int, pixels),
			NumObs:          obs,
			Signal:          make([]float64, pixels*obs),
			Coadd:           1,
			PET:             1.26953125,
			IntegrationTime: make([]float64, obs),
			StateID:         16,
		}
		for i := range r.PixelIDs {
			r.PixelIDs[i] = rng.Start + 100 + i
		}
		for i := range r.Signal {
			r.Signal[i] = 1300 + 400*rand.Float64()
		}
		for i := range r.IntegrationTime {
			r.IntegrationTime[i] = 0.5
		}
		out = append(out, r)
	}
	return out
}

func (r *Runner) log(level, msg string) {
	r.Hub.BroadcastJSON(telemetry.LogLine{
		Event:   telemetry.New(telemetry.EventLog, "demo"),
		Level:   level,
		Message: msg,
	})
}

func (r *Runner) progress(stage string, pct float64, detail string) {
	r.Hub.BroadcastJSON(telemetry.Progress{
		Event:   telemetry.New(telemetry.EventProgress, "demo"),
		Stage:   stage,
		Percent: pct,
		Detail:  detail,
	})
}
