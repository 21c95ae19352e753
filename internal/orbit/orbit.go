// Package orbit finds the calibration record nearest to a requested orbit.
//
// Orbits are probed outward from the target in the order 0, +1, -1, +2,
// -2, ... until the search radius is exhausted. A record is acceptable when
// its quality reaches the minimum; the best acceptable record is kept, and
// the search stops early as soon as the kept record is good enough.
package orbit

import (
	"fmt"
	"strings"

	"github.com/large-farva/calibration-engine/internal/calib"
)

// Provenance restricts which records may be selected.
type Provenance int

const (
	Any Provenance = iota
	NearRealTime
	Consolidated
)

func (p Provenance) String() string {
	switch p {
	case NearRealTime:
		return "nrt"
	case Consolidated:
		return "consolidated"
	default:
		return "any"
	}
}

func (p Provenance) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Provenance) UnmarshalText(b []byte) error {
	v, err := ParseProvenance(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParseProvenance accepts "any", "nrt" or "consolidated".
func ParseProvenance(s string) (Provenance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return Any, nil
	case "nrt":
		return NearRealTime, nil
	case "consolidated", "cons":
		return Consolidated, nil
	}
	return Any, fmt.Errorf("unknown provenance %q", s)
}

func (p Provenance) accepts(e calib.Entry) bool {
	switch p {
	case NearRealTime:
		return !e.Consolidated
	case Consolidated:
		return e.Consolidated
	default:
		return true
	}
}

// Params are the per-kind search constants.
type Params struct {
	MaxRadius  int        `json:"max_radius"`
	MinQuality int        `json:"min_quality"`
	EarlyExit  int        `json:"early_exit"`
	Provenance Provenance `json:"provenance"`
}

// Result describes the outcome of a search. Probes counts the orbits
// examined before the search stopped.
type Result struct {
	Entry  calib.Entry `json:"entry"`
	Delta  int         `json:"delta"`
	Probes int         `json:"probes"`
	Found  bool        `json:"found"`
}

// Index groups a store's entries by orbit. It is immutable once built and
// safe for concurrent searches.
type Index struct {
	byOrbit map[int][]calib.Entry
	size    int
}

// NewIndex builds an index over entries. Several entries may share an orbit.
func NewIndex(entries []calib.Entry) *Index {
	x := &Index{
		byOrbit: make(map[int][]calib.Entry, len(entries)),
		size:    len(entries),
	}
	for _, e := range entries {
		x.byOrbit[e.Orbit] = append(x.byOrbit[e.Orbit], e)
	}
	return x
}

// Len returns the number of indexed entries.
func (x *Index) Len() int { return x.size }

// Orbits returns the number of distinct orbits.
func (x *Index) Orbits() int { return len(x.byOrbit) }

// FindBest searches for the best acceptable record near target.
func (x *Index) FindBest(target int, p Params) Result {
	var res Result
	for delta := 0; abs(delta) <= p.MaxRadius; delta = nextDelta(delta) {
		res.Probes++
		for _, e := range x.byOrbit[target+delta] {
			if !p.Provenance.accepts(e) || e.Quality < p.MinQuality {
				continue
			}
			if !res.Found || e.Quality > res.Entry.Quality ||
				(e.Quality == res.Entry.Quality && abs(delta) <= abs(res.Delta)) {
				res.Entry, res.Delta, res.Found = e, delta, true
			}
		}
		if res.Found && res.Entry.Quality >= p.EarlyExit {
			break
		}
	}
	return res
}

// FindBest is a convenience for one-off searches over a plain slice.
func FindBest(entries []calib.Entry, target int, p Params) Result {
	return NewIndex(entries).FindBest(target, p)
}

func nextDelta(d int) int {
	if d > 0 {
		return -d
	}
	return 1 - d
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
