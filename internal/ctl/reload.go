package ctl

import "fmt"

// ReloadOptions configures the reload command.
type ReloadOptions struct {
	Profile string // named profile in the daemon's config dir
	JSON    bool
}

type reloadResult struct {
	OK              bool   `json:"ok"`
	Message         string `json:"message"`
	Path            string `json:"path"`
	Session         string `json:"session,omitempty"`
	PreviousSession string `json:"previous_session,omitempty"`
}

// Reload asks the daemon to re-read its configuration, or switch to a named
// profile, and start over with an empty session cache.
func Reload(baseURL string, opts ReloadOptions) error {
	var body any
	if opts.Profile != "" {
		body = map[string]string{"profile": opts.Profile}
	}

	var res reloadResult
	if err := postJSON(baseURL, "/api/reload", body, &res); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(res)
	}

	fmt.Println()
	fmt.Printf("  %s  %s\n", colorize(green, "RELOADED"), res.Path)
	if res.PreviousSession != "" {
		fmt.Printf("  %-12s %s %s\n", colorize(dim, "Dropped:"), res.PreviousSession, colorize(dim, "(cache released)"))
	}
	if res.Session != "" {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Session:"), res.Session)
	}
	fmt.Println()
	return nil
}
