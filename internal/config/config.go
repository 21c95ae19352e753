// Package config handles loading, defaulting, and validation of the
// calibration engine configuration. Files are TOML unless their extension
// says YAML. Every section maps to a typed struct so the rest of the
// codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
	"github.com/large-farva/calibration-engine/internal/orbit"
)

// Config is the top-level configuration, mirroring the file sections.
type Config struct {
	Data        DataConfig            `toml:"data"        yaml:"data"        json:"data"`
	Stores      StoresConfig          `toml:"stores"      yaml:"stores"      json:"stores"`
	Selection   SelectionConfig       `toml:"selection"   yaml:"selection"   json:"selection"`
	Kinds       map[string]KindConfig `toml:"kinds"       yaml:"kinds"       json:"kinds"`
	Calibration CalibrationConfig     `toml:"calibration" yaml:"calibration" json:"calibration"`
	Logging     LoggingConfig         `toml:"logging"     yaml:"logging"     json:"logging"`
	Server      ServerConfig          `toml:"server"      yaml:"server"      json:"server"`
	Demo        DemoConfig            `toml:"demo"        yaml:"demo"        json:"demo"`
}

type DataConfig struct {
	Root string `toml:"root" yaml:"root" json:"root"`
}

// StoresConfig locates the calibration stores. Relative paths are taken
// from data.root.
type StoresConfig struct {
	V1Root  string `toml:"v1_root" yaml:"v1_root" json:"v1_root"`
	V2Root  string `toml:"v2_root" yaml:"v2_root" json:"v2_root"`
	V3Root  string `toml:"v3_root" yaml:"v3_root" json:"v3_root"`
	KeyData string `toml:"keydata" yaml:"keydata" json:"keydata"`
	ROE     string `toml:"roe"     yaml:"roe"     json:"roe"`
}

type SelectionConfig struct {
	Provenance string `toml:"provenance" yaml:"provenance" json:"provenance"`
}

// KindConfig overrides the lookup of one correction kind. Unset fields keep
// the kind's defaults.
type KindConfig struct {
	MaxRadius  *int     `toml:"max_radius,omitempty"  yaml:"max_radius,omitempty"  json:"max_radius,omitempty"`
	MinQuality *int     `toml:"min_quality,omitempty" yaml:"min_quality,omitempty" json:"min_quality,omitempty"`
	EarlyExit  *int     `toml:"early_exit,omitempty"  yaml:"early_exit,omitempty"  json:"early_exit,omitempty"`
	Versions   []string `toml:"versions,omitempty"    yaml:"versions,omitempty"    json:"versions,omitempty"`
	Required   *bool    `toml:"required,omitempty"    yaml:"required,omitempty"    json:"required,omitempty"`
}

// CalibrationConfig holds instrument constants the product does not carry.
type CalibrationConfig struct {
	ElectronsPerCount []float64 `toml:"electrons_per_count" yaml:"electrons_per_count" json:"electrons_per_count"`
	GainError         float64   `toml:"gain_error"          yaml:"gain_error"          json:"gain_error"`
	PropagateErrors   bool      `toml:"propagate_errors"    yaml:"propagate_errors"    json:"propagate_errors"`
}

type LoggingConfig struct {
	Level string `toml:"level" yaml:"level" json:"level"`
}

type ServerConfig struct {
	Bind string `toml:"bind" yaml:"bind" json:"bind"`
}

type DemoConfig struct {
	Enabled         bool `toml:"enabled"          yaml:"enabled"          json:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds" yaml:"interval_seconds" json:"interval_seconds"`
	FirstOrbit      int  `toml:"first_orbit"      yaml:"first_orbit"      json:"first_orbit"`
	Orbits          int  `toml:"orbits"           yaml:"orbits"           json:"orbits"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the file omits a field.
func Default() Config {
	return Config{
		Data: DataConfig{
			Root: "/var/lib/calibration",
		},
		Stores: StoresConfig{
			V1Root:  "sdmf24",
			V2Root:  "sdmf30",
			V3Root:  "sdmf31",
			KeyData: "keydata.db",
			ROE:     "roe.parquet",
		},
		Selection: SelectionConfig{
			Provenance: "any",
		},
		Kinds: map[string]KindConfig{},
		Calibration: CalibrationConfig{
			ElectronsPerCount: []float64{1.5, 1.5, 1.5, 1.5, 1.5, 3.5, 3.5, 3.5},
			GainError:         0,
			PropagateErrors:   true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Bind: "0.0.0.0:8080",
		},
		Demo: DemoConfig{
			Enabled:         true,
			IntervalSeconds: 2,
			FirstOrbit:      10000,
			Orbits:          60,
		},
	}
}

// Load reads the file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		err = toml.Unmarshal(b, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Path resolves a store path against data.root.
func (c Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Data.Root, p)
}

func validate(cfg Config) error {
	if cfg.Data.Root == "" {
		return errors.New("data.root must not be empty")
	}
	if cfg.Stores.V1Root == "" && cfg.Stores.V2Root == "" && cfg.Stores.V3Root == "" {
		return errors.New("stores must name at least one of v1_root, v2_root, v3_root")
	}
	if _, err := orbit.ParseProvenance(cfg.Selection.Provenance); err != nil {
		return fmt.Errorf("selection.provenance: %w", err)
	}
	for name := range cfg.Kinds {
		k, err := calib.ParseKind(name)
		if err != nil {
			return fmt.Errorf("kinds.%s: %w", name, err)
		}
		if _, err := cfg.resolve(k); err != nil {
			return fmt.Errorf("kinds.%s: %w", name, err)
		}
	}
	if n := len(cfg.Calibration.ElectronsPerCount); n != detector.Channels {
		return fmt.Errorf("calibration.electrons_per_count must list %d channels, got %d", detector.Channels, n)
	}
	for _, e := range cfg.Calibration.ElectronsPerCount {
		if e <= 0 {
			return errors.New("calibration.electrons_per_count must be > 0")
		}
	}
	if cfg.Calibration.GainError < 0 {
		return errors.New("calibration.gain_error must be >= 0")
	}
	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.Demo.IntervalSeconds < 0 {
		return errors.New("demo.interval_seconds must be >= 0")
	}
	if cfg.Demo.Enabled && cfg.Demo.Orbits < 1 {
		return errors.New("demo.orbits must be >= 1")
	}
	return nil
}
