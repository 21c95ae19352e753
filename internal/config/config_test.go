package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/orbit"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, validate(Default()))

	s := Default().Settings(calib.FittedDark)
	assert.Equal(t, orbit.Params{MaxRadius: 21, MinQuality: 40, EarlyExit: 70}, s.Search)
	assert.Equal(t, []calib.Version{calib.V3, calib.V2, calib.V1}, s.Versions)
	assert.False(t, s.Required)
}

func TestLoadTOMLOverridesKind(t *testing.T) {
	t.Parallel()
	path := write(t, "calibd.toml", `
[data]
root = "/srv/cal"

[selection]
provenance = "consolidated"

[kinds.fitted-dark]
max_radius = 14
versions = ["v1"]
required = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	s := cfg.Settings(calib.FittedDark)
	assert.Equal(t, 14, s.Search.MaxRadius)
	assert.Equal(t, 40, s.Search.MinQuality, "unset fields keep defaults")
	assert.Equal(t, 70, s.Search.EarlyExit)
	assert.Equal(t, orbit.Consolidated, s.Search.Provenance)
	assert.Equal(t, []calib.Version{calib.V1}, s.Versions)
	assert.True(t, s.Required)

	assert.Equal(t, "/srv/cal/sdmf30", cfg.Path(cfg.Stores.V2Root))
	assert.Equal(t, "/abs/x", cfg.Path("/abs/x"))
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := write(t, "calibd.yaml", `
selection:
  provenance: nrt
kinds:
  pixel-gain:
    min_quality: 60
    early_exit: 80
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	s := cfg.Settings(calib.PixelGain)
	assert.Equal(t, 100, s.Search.MaxRadius)
	assert.Equal(t, 60, s.Search.MinQuality)
	assert.Equal(t, 80, s.Search.EarlyExit)
	assert.Equal(t, orbit.NearRealTime, s.Search.Provenance)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/lib/calibration", cfg.Data.Root)
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unknown kind": `
[kinds.fitted-drak]
max_radius = 3`,
		"early exit below minimum": `
[kinds.fitted-dark]
min_quality = 80
early_exit = 70`,
		"unsupported version": `
[kinds.simu-dark]
versions = ["v1"]`,
		"bad provenance": `
[selection]
provenance = "latest"`,
		"electrons per channel": `
[calibration]
electrons_per_count = [1, 2]`,
		"bad level": `
[logging]
level = "loud"`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(write(t, "c.toml", body))
			assert.Error(t, err)
		})
	}
}

func TestListProfiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.toml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	profiles, err := ListProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "a", profiles[0].Name)
	assert.Equal(t, "yaml", profiles[1].Format)

	p, ok := FindProfile(dir, "b")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "b.yaml"), p)

	none, err := ListProfiles(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, none)
}
