package app

import (
	"sync"

	"github.com/large-farva/calibration-engine/internal/telemetry"
)

type logEntry struct {
	TS        string `json:"ts"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

// logRing keeps the most recent log entries for /api/logs.
type logRing struct {
	mu      sync.Mutex
	entries []logEntry
	next    int
	full    bool
}

func newLogRing(size int) *logRing {
	return &logRing{entries: make([]logEntry, size)}
}

func (r *logRing) add(component, level, msg string) logEntry {
	e := logEntry{TS: telemetry.NowTS(), Level: level, Component: component, Message: msg}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	return e
}

// snapshot returns the entries oldest first.
func (r *logRing) snapshot() []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]logEntry(nil), r.entries[:r.next]...)
	}
	out := make([]logEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}
