package phase

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// DefaultPhaseDiff is used for orbits the event table does not list.
const DefaultPhaseDiff = 0.092

// Event is one row of the reference orbit event table.
type Event struct {
	Orbit        int32   `parquet:"orbit"`
	EclipseEntry float64 `parquet:"ecl_entry"`
	EclipseExit  float64 `parquet:"ecl_exit"`
	Period       float64 `parquet:"period"`
}

// PhaseDiff is the offset between the product and store phase definitions.
func (e Event) PhaseDiff() float64 {
	if e.Period == 0 {
		return DefaultPhaseDiff
	}
	return ((e.EclipseEntry-e.EclipseExit)/e.Period - 0.5) / 2
}

// Events maps orbits to their reference events. A nil *Events is valid and
// yields the default offset for every orbit.
type Events struct {
	byOrbit map[int]Event
}

// NewEvents indexes a slice of events by orbit.
func NewEvents(events []Event) *Events {
	t := &Events{byOrbit: make(map[int]Event, len(events))}
	for _, e := range events {
		t.byOrbit[int(e.Orbit)] = e
	}
	return t
}

// LoadEvents reads a Parquet event table from path.
func LoadEvents(path string) (*Events, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	events, err := ReadEvents(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewEvents(events), nil
}

// ReadEvents decodes every row of a Parquet event table.
func ReadEvents(r io.ReaderAt) ([]Event, error) {
	reader := parquet.NewGenericReader[Event](r)
	defer func() { _ = reader.Close() }()

	out := make([]Event, 0, reader.NumRows())
	buf := make([]Event, 256)
	for {
		n, err := reader.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("read events: %w", err)
		}
	}
}

// WriteEvents encodes events as a Snappy-compressed Parquet table.
func WriteEvents(w io.Writer, events []Event) error {
	writer := parquet.NewGenericWriter[Event](w, parquet.Compression(&parquet.Snappy))
	if _, err := writer.Write(events); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write events: %w", err)
	}
	return writer.Close()
}

// PhaseDiff returns the phase offset for orbit.
func (t *Events) PhaseDiff(orbit int) float64 {
	if t == nil {
		return DefaultPhaseDiff
	}
	e, ok := t.byOrbit[orbit]
	if !ok {
		return DefaultPhaseDiff
	}
	return e.PhaseDiff()
}

// Len returns the number of orbits in the table.
func (t *Events) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byOrbit)
}
