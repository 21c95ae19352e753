package engine

import (
	"fmt"
	"time"

	"github.com/large-farva/calibration-engine/internal/calib"
)

// Note is the provenance record of one lookup. It is advisory: callers log
// or forward it, but never branch on its text.
type Note struct {
	Time       time.Time     `json:"ts"`
	Kind       calib.Kind    `json:"kind"`
	Version    calib.Version `json:"version,omitempty"`
	Orbit      int           `json:"orbit"`
	FoundOrbit int           `json:"found_orbit,omitempty"`
	Quality    int           `json:"quality,omitempty"`
	Absent     bool          `json:"absent"`
	Message    string        `json:"message"`
}

func appliedNote(k calib.Kind, v calib.Version, orbit int, e calib.Entry) Note {
	return Note{
		Time:       time.Now().UTC(),
		Kind:       k,
		Version:    v,
		Orbit:      orbit,
		FoundOrbit: e.Orbit,
		Quality:    e.Quality,
		Message:    fmt.Sprintf("applied %s correction (%s) from orbit %d, quality %d", k, v, e.Orbit, e.Quality),
	}
}

func absentNote(k calib.Kind, orbit int) Note {
	return Note{
		Time:    time.Now().UTC(),
		Kind:    k,
		Orbit:   orbit,
		Absent:  true,
		Message: fmt.Sprintf("%s: no applicable data for orbit %d", k, orbit),
	}
}

func (n Note) String() string { return n.Message }
