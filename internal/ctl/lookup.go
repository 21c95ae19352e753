package ctl

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
	"github.com/large-farva/calibration-engine/internal/export"
)

// LookupOptions describes one lookup request.
type LookupOptions struct {
	Kind     string
	Orbit    int
	Channel  int
	Phase    float64
	HasPhase bool
	Out      string // Parquet file to export the vectors to
	JSON     bool
}

type quantitySummary struct {
	Quantity string  `json:"quantity"`
	Pixels   int     `json:"pixels"`
	NaN      int     `json:"nan"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
}

type lookupResult struct {
	Kind    calib.Kind    `json:"kind"`
	Version calib.Version `json:"version"`
	Search  struct {
		Entry  calib.Entry `json:"entry"`
		Delta  int         `json:"delta"`
		Probes int         `json:"probes"`
	} `json:"search"`
	Set struct {
		Entry   calib.Entry                   `json:"entry"`
		Range   detector.Range                `json:"range"`
		Vectors map[calib.Quantity][]*float64 `json:"vectors"`
	} `json:"set"`
	Phase float64 `json:"phase"`
	Note  struct {
		Message string `json:"message"`
	} `json:"note"`
}

// vectorSet rebuilds the looked-up record from the wire form, which only
// carries the pixels of the requested range. Null pixels come back as NaN.
func (r *lookupResult) vectorSet() *calib.VectorSet {
	set := calib.NewVectorSet(r.Kind, r.Version, r.Set.Entry, r.Set.Range)
	for q, wire := range r.Set.Vectors {
		vec := make([]float64, detector.Pixels)
		for i, v := range wire {
			p := r.Set.Range.Start + i
			if p >= len(vec) {
				break
			}
			if v == nil {
				vec[p] = math.NaN()
				continue
			}
			vec[p] = *v
		}
		set.Set(q, vec)
	}
	return set
}

func lookupQuery(opts LookupOptions) url.Values {
	q := url.Values{
		"kind":  {opts.Kind},
		"orbit": {strconv.Itoa(opts.Orbit)},
	}
	if opts.Channel != 0 {
		q.Set("channel", strconv.Itoa(opts.Channel))
	}
	if opts.HasPhase {
		q.Set("phase", strconv.FormatFloat(opts.Phase, 'f', -1, 64))
	}
	return q
}

// Lookup asks the daemon for the best record of one kind and prints its
// provenance and per-quantity statistics. With Out set, the vectors are
// also written to a Parquet file.
func Lookup(baseURL string, opts LookupOptions) error {
	q := lookupQuery(opts)
	if opts.Out != "" {
		q.Set("vectors", "1")
	}

	var resp struct {
		Result  lookupResult      `json:"result"`
		Summary []quantitySummary `json:"summary"`
	}
	if err := getJSON(baseURL, "/api/lookup?"+q.Encode(), &resp); err != nil {
		return err
	}

	if opts.Out != "" {
		if err := writeExport(opts.Out, resp.Result.vectorSet()); err != nil {
			return err
		}
	}

	if opts.JSON {
		resp.Result.Set.Vectors = nil
		return printJSON(resp)
	}

	res := resp.Result
	fmt.Println()
	fmt.Println(header(fmt.Sprintf("  %s FOR ORBIT %d", res.Kind, opts.Orbit)))
	fmt.Println(rule(60))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Store:"), res.Version)
	fmt.Printf("  %-12s %d (delta %+d, %d probes)\n", colorize(dim, "Record:"), res.Search.Entry.Orbit, res.Search.Delta, res.Search.Probes)
	fmt.Printf("  %-12s %d\n", colorize(dim, "Quality:"), res.Search.Entry.Quality)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Pixels:"), res.Set.Range)
	if opts.HasPhase {
		fmt.Printf("  %-12s %.4f\n", colorize(dim, "Phase:"), res.Phase)
	}
	fmt.Printf("  %-12s %s\n", colorize(dim, "Note:"), res.Note.Message)
	fmt.Println()
	printSummary(resp.Summary)
	if opts.Out != "" {
		fmt.Printf("  %s %s\n\n", colorize(green, "exported"), opts.Out)
	}
	return nil
}

func printSummary(rows []quantitySummary) {
	t := newTable("QUANTITY", "PIXELS", "NAN", "MIN", "MAX", "MEAN", "STDDEV")
	for _, s := range rows {
		t.row(s.Quantity, s.Pixels, s.NaN, formatValue(s.Min), formatValue(s.Max), formatValue(s.Mean), formatValue(s.StdDev))
	}
	t.flush()
	fmt.Println()
}

func writeExport(path string, set *calib.VectorSet) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteParquet(f, set); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
