package ctl

import (
	"fmt"
	"strings"
)

// Build-time variables set via -ldflags.
var (
	Version   = "dev"
	GoVersion = "unknown"
)

type daemonVersion struct {
	Version   string   `json:"version"`
	GoVersion string   `json:"go_version"`
	BuiltAt   string   `json:"built_at"`
	Runtime   string   `json:"runtime"`
	Schemas   []string `json:"schemas"`
}

// VersionInfo prints the CLI build next to the daemon's. An unreachable
// daemon is reported in the output rather than as an error.
func VersionInfo(baseURL string, jsonOutput bool) error {
	var daemon daemonVersion
	daemonErr := getJSON(baseURL, "/api/version", &daemon)

	if jsonOutput {
		out := struct {
			CLI         map[string]string `json:"cli"`
			Daemon      *daemonVersion    `json:"daemon,omitempty"`
			DaemonError string            `json:"daemon_error,omitempty"`
		}{CLI: map[string]string{"version": Version, "go_version": GoVersion}}
		if daemonErr != nil {
			out.DaemonError = daemonErr.Error()
		} else {
			out.Daemon = &daemon
		}
		return printJSON(out)
	}

	fmt.Println()
	fmt.Println(header("  CALIBRATION ENGINE VERSION"))
	fmt.Println(rule(44))
	fmt.Printf("  %-12s %s (%s)\n", colorize(dim, "calctl:"), Version, GoVersion)
	if daemonErr != nil {
		fmt.Printf("  %-12s %s\n", colorize(dim, "calibd:"), colorize(red, "unreachable: "+daemonErr.Error()))
		fmt.Println()
		return nil
	}
	fmt.Printf("  %-12s %s (%s, built %s)\n", colorize(dim, "calibd:"), daemon.Version, daemon.GoVersion, daemon.BuiltAt)
	if daemon.Runtime != "" {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Runtime:"), daemon.Runtime)
	}
	if len(daemon.Schemas) > 0 {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Stores:"), strings.Join(daemon.Schemas, ", "))
	}
	fmt.Println()
	return nil
}
