package ctl

import (
	"fmt"
	"net/url"
	"time"
)

type indexEntry struct {
	Orbit        int       `json:"orbit"`
	Quality      int       `json:"quality"`
	Consolidated bool      `json:"consolidated"`
	SAA          bool      `json:"saa"`
	EntryTime    time.Time `json:"entry_time"`
}

// IndexOptions selects the store index to list.
type IndexOptions struct {
	Kind    string
	Version string
	From    int // first orbit shown; zero shows all
	To      int // last orbit shown; zero shows all
	JSON    bool
}

// Index lists the orbit index of one kind in one store version.
func Index(baseURL string, opts IndexOptions) error {
	q := url.Values{"kind": {opts.Kind}, "version": {opts.Version}}
	var resp struct {
		Kind    string       `json:"kind"`
		Version string       `json:"version"`
		Entries []indexEntry `json:"entries"`
	}
	if err := getJSON(baseURL, "/api/index?"+q.Encode(), &resp); err != nil {
		return err
	}

	entries := resp.Entries[:0]
	for _, e := range resp.Entries {
		if (opts.From != 0 && e.Orbit < opts.From) || (opts.To != 0 && e.Orbit > opts.To) {
			continue
		}
		entries = append(entries, e)
	}
	resp.Entries = entries

	if opts.JSON {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header(fmt.Sprintf("  %s INDEX (%s)", resp.Kind, resp.Version)))
	fmt.Println(rule(60))
	if len(entries) == 0 {
		fmt.Println("  No entries.")
		fmt.Println()
		return nil
	}
	t := newTable("ORBIT", "QUALITY", "PROVENANCE", "SAA", "ENTERED")
	for _, e := range entries {
		prov := "nrt"
		if e.Consolidated {
			prov = "consolidated"
		}
		saa := ""
		if e.SAA {
			saa = "yes"
		}
		entered := "-"
		if !e.EntryTime.IsZero() {
			entered = e.EntryTime.Local().Format(time.DateTime)
		}
		t.row(e.Orbit, e.Quality, prov, saa, entered)
	}
	t.flush()
	fmt.Printf("\n  %s entries\n\n", formatCount(int64(len(entries))))
	return nil
}
