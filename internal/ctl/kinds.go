package ctl

import (
	"fmt"
	"strings"
)

type kindSettings struct {
	Kind   string `json:"kind"`
	Search struct {
		MaxRadius  int    `json:"max_radius"`
		MinQuality int    `json:"min_quality"`
		EarlyExit  int    `json:"early_exit"`
		Provenance string `json:"provenance"`
	} `json:"search"`
	Versions []string `json:"versions"`
	Required bool     `json:"required"`
}

// Kinds lists every correction kind with its resolved lookup policy.
func Kinds(baseURL string, jsonOutput bool) error {
	var resp struct {
		Kinds []kindSettings `json:"kinds"`
	}
	if err := getJSON(baseURL, "/api/kinds", &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  CORRECTION KINDS"))
	fmt.Println(rule(70))
	t := newTable("KIND", "RADIUS", "MIN Q", "EARLY EXIT", "PROVENANCE", "VERSIONS", "REQUIRED")
	for _, k := range resp.Kinds {
		req := "no"
		if k.Required {
			req = "yes"
		}
		t.row(k.Kind, k.Search.MaxRadius, k.Search.MinQuality, k.Search.EarlyExit, k.Search.Provenance, strings.Join(k.Versions, ","), req)
	}
	t.flush()
	fmt.Println()
	return nil
}
