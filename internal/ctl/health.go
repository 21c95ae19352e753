package ctl

import (
	"fmt"
	"slices"
	"strings"
)

// Health asks the daemon for its component checks via GET /healthz.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, body, err := getRaw(baseURL, "/healthz", "application/json")
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	var resp struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("HTTP %d: %w", status, err)
	}

	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Println()
	if resp.Healthy {
		fmt.Printf("  %s  calibd is ready at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Printf("  %s  calibd returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}
	fmt.Println()

	names := make([]string, 0, len(resp.Checks))
	for n := range resp.Checks {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		c := resp.Checks[n]
		mark := colorize(green, "ok  ")
		if ok, _ := c["ok"].(bool); !ok {
			mark = colorize(red, "FAIL")
			if opt, _ := c["optional"].(bool); opt {
				mark = colorize(yellow, "skip")
			}
		}
		detail, _ := c["path"].(string)
		if e, ok := c["error"].(string); ok {
			detail = e
		}
		fmt.Printf("  %s  %s %s\n", mark, padRight(n, 14), colorize(dim, detail))
	}
	fmt.Println()

	return nil
}
