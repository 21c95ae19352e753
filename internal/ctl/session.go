package ctl

import (
	"fmt"
	"strings"
	"time"
)

// Session shows what the daemon's calibration session has cached.
func Session(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s struct {
		ID      string    `json:"id"`
		Started time.Time `json:"started"`
		Stores  int       `json:"stores"`
		Entries int       `json:"entries"`
		Darks   int       `json:"darks"`
	}
	if err := getJSON(baseURL, "/api/session", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	fmt.Println()
	fmt.Println(header("  CALIBRATION SESSION"))
	fmt.Println(rule(38))
	fmt.Printf("  %-12s %s\n", colorize(dim, "ID:"), s.ID)
	fmt.Printf("  %-12s %s (%s ago)\n", colorize(dim, "Started:"),
		s.Started.Local().Format(time.DateTime), formatDuration(time.Since(s.Started)))
	fmt.Printf("  %-12s %d\n", colorize(dim, "Stores:"), s.Stores)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Entries:"), formatCount(int64(s.Entries)))
	fmt.Printf("  %-12s %d\n", colorize(dim, "Darks:"), s.Darks)
	fmt.Println()
	return nil
}
