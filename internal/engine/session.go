package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/keydata"
	"github.com/large-farva/calibration-engine/internal/orbit"
	"github.com/large-farva/calibration-engine/internal/phase"
	"github.com/large-farva/calibration-engine/internal/store"
)

// ErrSessionClosed is returned for lookups through a closed session.
var ErrSessionClosed = errors.New("calibration session closed")

// cell holds a value computed at most once. The lock of the owning map is
// never held while fn runs.
type cell[T any] struct {
	once sync.Once
	done atomic.Bool
	val  T
	err  error
}

func (c *cell[T]) get(fn func() (T, error)) (T, error) {
	c.once.Do(func() {
		c.val, c.err = fn()
		c.done.Store(true)
	})
	return c.val, c.err
}

func (c *cell[T]) loaded() (T, bool) {
	if !c.done.Load() || c.err != nil {
		var zero T
		return zero, false
	}
	return c.val, true
}

type handle struct {
	store store.Store
	index *orbit.Index
}

type handleKey struct {
	version calib.Version
	kind    calib.Kind
}

type darkKey struct {
	orbit    int
	phase    float64
	hasPhase bool
}

// Session caches what one conversion run reads: open store handles with
// their indexes, the key data, the event table and finished dark
// corrections. Each entry is populated by the first caller that needs it
// and is read-only afterwards. A Session is safe for concurrent use.
type Session struct {
	id      string
	started time.Time

	mu      sync.Mutex
	closed  bool
	handles map[handleKey]*cell[*handle]
	darks   map[darkKey]*cell[*DarkCorrection]
	keydata cell[*keydata.Tables]
	events  cell[*phase.Events]
}

// NewSession returns an empty session with a fresh ID.
func NewSession() *Session {
	return &Session{
		id:      uuid.NewString(),
		started: time.Now().UTC(),
		handles: make(map[handleKey]*cell[*handle]),
		darks:   make(map[darkKey]*cell[*DarkCorrection]),
	}
}

func (s *Session) ID() string         { return s.id }
func (s *Session) Started() time.Time { return s.started }

func (s *Session) handleCell(k handleKey) (*cell[*handle], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	c, ok := s.handles[k]
	if !ok {
		c = new(cell[*handle])
		s.handles[k] = c
	}
	return c, nil
}

func (s *Session) darkCell(k darkKey) (*cell[*DarkCorrection], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	c, ok := s.darks[k]
	if !ok {
		c = new(cell[*DarkCorrection])
		s.darks[k] = c
	}
	return c, nil
}

// SessionStats summarises what a session holds.
type SessionStats struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
	Stores  int       `json:"stores"`
	Entries int       `json:"entries"`
	Darks   int       `json:"darks"`
}

// Stats counts the populated cells.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SessionStats{ID: s.id, Started: s.started}
	for _, c := range s.handles {
		if h, ok := c.loaded(); ok {
			st.Stores++
			st.Entries += h.index.Len()
		}
	}
	for _, c := range s.darks {
		if _, ok := c.loaded(); ok {
			st.Darks++
		}
	}
	return st
}

// Close closes every store handle the session opened. Lookups through a
// closed session fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cells := make([]*cell[*handle], 0, len(s.handles))
	for _, c := range s.handles {
		cells = append(cells, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range cells {
		if h, ok := c.loaded(); ok {
			errs = append(errs, h.store.Close())
		}
	}
	return errors.Join(errs...)
}
