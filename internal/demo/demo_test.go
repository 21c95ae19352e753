package demo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/config"
	"github.com/large-farva/calibration-engine/internal/engine"
	"github.com/large-farva/calibration-engine/internal/ws"
)

func demoConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Data.Root = t.TempDir()
	cfg.Demo.FirstOrbit = 100
	cfg.Demo.Orbits = 12
	return cfg
}

func TestSynthesizeWritesTreeOnce(t *testing.T) {
	ctx := context.Background()
	cfg := demoConfig(t)

	var stages []string
	created, err := Synthesize(ctx, cfg, func(stage string, _ float64) { stages = append(stages, stage) })
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"v1 stores", "v2 stores", "v3 stores", "key data", "orbit events"}, stages)

	created, err = Synthesize(ctx, cfg, nil)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestSynthesizedTreeServesLookups(t *testing.T) {
	ctx := context.Background()
	cfg := demoConfig(t)
	_, err := Synthesize(ctx, cfg, nil)
	require.NoError(t, err)

	eng := engine.New(cfg)

	res, err := eng.Lookup(ctx, calib.FittedDark, engine.Request{Orbit: 105})
	require.NoError(t, err)
	assert.InDelta(t, 105, res.Search.Entry.Orbit, float64(cfg.Settings(calib.FittedDark).Search.MaxRadius))

	d, err := eng.Dark(ctx, engine.Request{Orbit: 101, Phase: 0.25, HasPhase: true})
	require.NoError(t, err)
	require.NotNil(t, d.Simu, "orbit 101 has a simulated dark")

	kd, err := eng.KeyData(ctx)
	require.NoError(t, err)
	_, err = kd.MemoryTable(1)
	assert.NoError(t, err)
	_, err = kd.NonLinearityTables()
	assert.NoError(t, err)
}

func TestRunnerStepCyclesOrbits(t *testing.T) {
	ctx := context.Background()
	cfg := demoConfig(t)
	cfg.Demo.Orbits = 2
	_, err := Synthesize(ctx, cfg, nil)
	require.NoError(t, err)

	eng := engine.New(cfg, engine.WithSession(engine.NewSession()))
	r := New(ws.NewHub(), func() *engine.Engine { return eng })

	var states []string
	for range 3 {
		r.Step(ctx, func(s string) { states = append(states, s) })
	}
	assert.Equal(t, []string{"SCANNING", "READY", "SCANNING", "READY", "SCANNING", "READY"}, states)
	assert.Equal(t, 3, r.next)
	assert.Same(t, eng, r.owner)
	assert.Zero(t, r.Hub.Dropped())
}
