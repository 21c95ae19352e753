// Package telemetry defines the typed events that flow over the WebSocket
// connection between calibd and its clients.
package telemetry

import "time"

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHeartbeat  EventType = "heartbeat"
	EventState      EventType = "state"
	EventProgress   EventType = "progress"
	EventLog        EventType = "log"
	EventProvenance EventType = "provenance"
	EventReload     EventType = "reload"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type      EventType `json:"type"`
	TS        string    `json:"ts"`
	Component string    `json:"component,omitempty"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Topic is the event type as a string, used by the hub to route events to
// subscribers.
func (e Event) Topic() string { return string(e.Type) }

// New returns an envelope of type t stamped with the current time.
func New(t EventType, component string) Event {
	return Event{Type: t, TS: NowTS(), Component: component}
}

// Heartbeat is sent periodically so clients can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Lookups       int64  `json:"lookups"`
}

// StateTransition is emitted whenever the daemon moves between operating
// states (e.g. LOADING -> READY).
type StateTransition struct {
	Event
	From string `json:"from"`
	To   string `json:"to"`
}

// Progress reports incremental completion of a long-running step such as
// synthesising the demo tree or a lookup sweep.
type Progress struct {
	Event
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Detail  string  `json:"detail"`
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Provenance reports which record a lookup used, or that none applied.
type Provenance struct {
	Event
	Kind       string `json:"kind"`
	Version    string `json:"version,omitempty"`
	Orbit      int    `json:"orbit"`
	FoundOrbit int    `json:"found_orbit,omitempty"`
	Quality    int    `json:"quality,omitempty"`
	Absent     bool   `json:"absent"`
	Message    string `json:"message"`
}
