package ctl

import (
	"fmt"
	"slices"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	// Decode into a raw message to preserve all fields for both display modes.
	var raw jsoniter.RawMessage
	if err := getJSON(baseURL, "/api/config", &raw); err != nil {
		return err
	}

	if jsonOutput {
		var v any
		_ = json.Unmarshal(raw, &v)
		return printJSON(v)
	}

	var cfg struct {
		Data struct {
			Root string `json:"root"`
		} `json:"data"`
		Stores struct {
			V1Root  string `json:"v1_root"`
			V2Root  string `json:"v2_root"`
			V3Root  string `json:"v3_root"`
			KeyData string `json:"keydata"`
			ROE     string `json:"roe"`
		} `json:"stores"`
		Selection struct {
			Provenance string `json:"provenance"`
		} `json:"selection"`
		Kinds       map[string]map[string]any `json:"kinds"`
		Calibration struct {
			ElectronsPerCount []float64 `json:"electrons_per_count"`
			GainError         float64   `json:"gain_error"`
			PropagateErrors   bool      `json:"propagate_errors"`
		} `json:"calibration"`
		Logging struct {
			Level string `json:"level"`
		} `json:"logging"`
		Server struct {
			Bind string `json:"bind"`
		} `json:"server"`
		Demo struct {
			Enabled         bool `json:"enabled"`
			IntervalSeconds int  `json:"interval_seconds"`
			FirstOrbit      int  `json:"first_orbit"`
			Orbits          int  `json:"orbits"`
		} `json:"demo"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(header("  DAEMON CONFIGURATION"))
	fmt.Println(rule(50))

	section := func(name string) {
		fmt.Printf("\n  %s\n", colorize(bold, "["+name+"]"))
	}
	field := func(key string, val any) {
		fmt.Printf("    %-20s %v\n", colorize(dim, key+":"), val)
	}

	section("data")
	field("root", cfg.Data.Root)

	section("stores")
	field("v1_root", cfg.Stores.V1Root)
	field("v2_root", cfg.Stores.V2Root)
	field("v3_root", cfg.Stores.V3Root)
	field("keydata", cfg.Stores.KeyData)
	field("roe", cfg.Stores.ROE)

	section("selection")
	field("provenance", cfg.Selection.Provenance)

	names := make([]string, 0, len(cfg.Kinds))
	for n := range cfg.Kinds {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		section("kinds." + n)
		keys := make([]string, 0, len(cfg.Kinds[n]))
		for k := range cfg.Kinds[n] {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			field(k, cfg.Kinds[n][k])
		}
	}

	section("calibration")
	field("electrons_per_count", cfg.Calibration.ElectronsPerCount)
	field("gain_error", cfg.Calibration.GainError)
	field("propagate_errors", cfg.Calibration.PropagateErrors)

	section("logging")
	field("level", cfg.Logging.Level)

	section("server")
	field("bind", cfg.Server.Bind)

	section("demo")
	field("enabled", cfg.Demo.Enabled)
	field("interval_seconds", cfg.Demo.IntervalSeconds)
	field("first_orbit", cfg.Demo.FirstOrbit)
	field("orbits", cfg.Demo.Orbits)

	fmt.Println()

	return nil
}

// ConfigList shows the named config profiles the daemon can switch to.
func ConfigList(baseURL string, jsonOutput bool) error {
	var resp struct {
		ConfigDir string `json:"config_dir"`
		Active    string `json:"active"`
		Profiles  []struct {
			Name     string    `json:"name"`
			Path     string    `json:"path"`
			Format   string    `json:"format"`
			Modified time.Time `json:"modified"`
		} `json:"profiles"`
	}
	if err := getJSON(baseURL, "/api/config/profiles", &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  CONFIG PROFILES"))
	fmt.Println(rule(60))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Directory:"), resp.ConfigDir)
	if resp.Active != "" {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Active:"), resp.Active)
	}
	fmt.Println()

	if len(resp.Profiles) == 0 {
		fmt.Println("  No profiles found.")
		fmt.Println()
		return nil
	}
	t := newTable("", "NAME", "FORMAT", "MODIFIED")
	for _, p := range resp.Profiles {
		mark := " "
		if p.Path == resp.Active {
			mark = colorize(green, "*")
		}
		t.row(mark, p.Name, p.Format, p.Modified.Local().Format("2006-01-02 15:04"))
	}
	t.flush()
	fmt.Println()
	return nil
}
