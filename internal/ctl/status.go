package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	Mode          string `json:"mode"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	DataRoot      string `json:"data_root"`
	Lookups       int64  `json:"lookups"`
	WSClients     int64  `json:"ws_clients"`
	Session       *struct {
		ID      string    `json:"id"`
		Started time.Time `json:"started"`
		Stores  int       `json:"stores"`
		Entries int       `json:"entries"`
		Darks   int       `json:"darks"`
	} `json:"session"`
	Disk *struct {
		TotalBytes     uint64  `json:"total_bytes"`
		AvailableBytes uint64  `json:"available_bytes"`
		UsedPercent    float64 `json:"used_percent"`
	} `json:"disk"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
	stateStr := colorize(stateColor(s.State), s.State)

	fmt.Println()
	fmt.Println(header("  CALIBRATION ENGINE STATUS"))
	fmt.Println(rule(38))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Daemon:"), s.Name)
	fmt.Printf("  %-12s %s (%s)\n", colorize(dim, "State:"), stateStr, s.Mode)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Data:"), s.DataRoot)
	if s.Disk != nil {
		fmt.Printf("  %-12s %s free of %s (%.0f%% used)\n", colorize(dim, "Disk:"),
			formatBytes(s.Disk.AvailableBytes), formatBytes(s.Disk.TotalBytes), s.Disk.UsedPercent)
	}
	fmt.Printf("  %-12s %s\n", colorize(dim, "Lookups:"), formatCount(s.Lookups))
	if s.Session != nil {
		fmt.Printf("  %-12s %s, %d stores, %s entries, %d darks\n", colorize(dim, "Session:"),
			s.Session.ID[:8], s.Session.Stores, formatCount(int64(s.Session.Entries)), s.Session.Darks)
	}
	fmt.Printf("  %-12s %d\n", colorize(dim, "Watchers:"), s.WSClients)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Host:"), baseURL)
	fmt.Println()

	return nil
}
