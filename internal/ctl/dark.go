package ctl

import (
	"fmt"
	"net/url"
	"strconv"
)

// DarkOptions describes one dark assembly request.
type DarkOptions struct {
	Orbit    int
	Phase    float64
	HasPhase bool
	JSON     bool
}

type darkPart struct {
	Kind    string `json:"kind"`
	Version string `json:"version"`
	Search  struct {
		Entry struct {
			Orbit   int `json:"orbit"`
			Quality int `json:"quality"`
		} `json:"entry"`
	} `json:"search"`
	Phase float64 `json:"phase"`
}

// Dark asks the daemon to assemble the dark correction for an orbit and
// shows which records went into it.
func Dark(baseURL string, opts DarkOptions) error {
	q := url.Values{"orbit": {strconv.Itoa(opts.Orbit)}}
	if opts.HasPhase {
		q.Set("phase", strconv.FormatFloat(opts.Phase, 'f', -1, 64))
	}

	var resp struct {
		Dark struct {
			Orbit    int       `json:"orbit"`
			Phase    float64   `json:"phase"`
			HasPhase bool      `json:"has_phase"`
			Fitted   *darkPart `json:"fitted"`
			Orbital  *darkPart `json:"orbital"`
			Simu     *darkPart `json:"simu"`
			Notes    []struct {
				Message string `json:"message"`
				Absent  bool   `json:"absent"`
			} `json:"notes"`
		} `json:"dark"`
		Summary []quantitySummary `json:"summary"`
	}
	if err := getJSON(baseURL, "/api/dark?"+q.Encode(), &resp); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(resp)
	}

	d := resp.Dark
	fmt.Println()
	fmt.Println(header(fmt.Sprintf("  DARK FOR ORBIT %d", d.Orbit)))
	fmt.Println(rule(60))
	part := func(label string, p *darkPart) {
		if p == nil {
			fmt.Printf("  %-12s %s\n", colorize(dim, label), colorize(dim, "not used"))
			return
		}
		fmt.Printf("  %-12s %s orbit %d, quality %d\n", colorize(dim, label), p.Version, p.Search.Entry.Orbit, p.Search.Entry.Quality)
	}
	part("Fitted:", d.Fitted)
	part("Simulated:", d.Simu)
	part("Orbital:", d.Orbital)
	if d.HasPhase {
		fmt.Printf("  %-12s %.4f\n", colorize(dim, "Phase:"), d.Phase)
	}
	fmt.Println()
	for _, n := range d.Notes {
		mark := colorize(green, "+")
		if n.Absent {
			mark = colorize(yellow, "-")
		}
		fmt.Printf("  %s %s\n", mark, n.Message)
	}
	fmt.Println()
	printSummary(resp.Summary)
	return nil
}
