// Package engine resolves calibration lookups. For a correction kind and
// an orbit it walks the kind's store versions in precedence order, searches
// each store's orbit index, decodes the winning record and evaluates any
// orbital-phase component. Every lookup emits a provenance note.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/config"
	"github.com/large-farva/calibration-engine/internal/detector"
	"github.com/large-farva/calibration-engine/internal/keydata"
	"github.com/large-farva/calibration-engine/internal/orbit"
	"github.com/large-farva/calibration-engine/internal/phase"
	"github.com/large-farva/calibration-engine/internal/store"
)

// Engine answers calibration lookups against the configured stores. It
// holds no mutable state of its own; caching lives in an optional Session.
type Engine struct {
	cfg     config.Config
	roots   store.Roots
	log     *log.Logger
	verbose bool
	session *Session

	notifyMu sync.Mutex
	notify   func(Note)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sends engine log lines to l.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithVerbose also logs successful lookups, not just absences.
func WithVerbose(v bool) Option {
	return func(e *Engine) { e.verbose = v }
}

// WithSession caches store handles and derived data in s. Without a
// session every lookup opens and closes its stores.
func WithSession(s *Session) Option {
	return func(e *Engine) { e.session = s }
}

// WithNotifier calls fn with the note of every lookup. Calls are
// serialized.
func WithNotifier(fn func(Note)) Option {
	return func(e *Engine) { e.notify = fn }
}

// New returns an engine over the stores named in cfg.
func New(cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg: cfg,
		roots: store.Roots{
			V1: cfg.Path(cfg.Stores.V1Root),
			V2: cfg.Path(cfg.Stores.V2Root),
			V3: cfg.Path(cfg.Stores.V3Root),
		},
		log: log.New(io.Discard, "", 0),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() config.Config { return e.cfg }

// Session returns the engine's session, or nil.
func (e *Engine) Session() *Session { return e.session }

// Request keys a lookup. Channel 0 asks for the whole detector. Phase is
// the orbital phase in the product's definition and is only used when
// HasPhase is set.
type Request struct {
	Orbit    int     `json:"orbit"`
	Channel  int     `json:"channel"`
	Phase    float64 `json:"phase"`
	HasPhase bool    `json:"has_phase"`
}

func (r Request) validate() error {
	if r.Channel < 0 || r.Channel > detector.Channels {
		return fmt.Errorf("channel %d out of range 0..%d", r.Channel, detector.Channels)
	}
	return nil
}

// Result is a successful lookup. Variation holds the orbital component at
// the requested phase for kinds that have one: the interpolated phase bin
// for orbital-dark, the scaled first-harmonic amplitude for simu-dark.
type Result struct {
	Kind           calib.Kind       `json:"kind"`
	Version        calib.Version    `json:"version"`
	Search         orbit.Result     `json:"search"`
	Set            *calib.VectorSet `json:"set"`
	Phase          float64          `json:"phase,omitempty"`
	Variation      []float64        `json:"-"`
	VariationError []float64        `json:"-"`
	Note           Note             `json:"note"`
}

// Lookup finds the best record of kind k for req. When no store version
// holds an acceptable record the error matches calib.ErrNoData. A missing
// store counts as holding nothing unless the kind is configured as
// required; I/O and layout failures of an existing store are returned
// as is.
func (e *Engine) Lookup(ctx context.Context, k calib.Kind, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	settings := e.cfg.Settings(k)
	rng := detector.PixelRange(req.Channel)

	var missing []error
	for _, v := range settings.Versions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, release, err := e.acquire(ctx, v, k)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, calib.ErrUnsupported) {
			missing = append(missing, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", k, v, err)
		}

		res := h.index.FindBest(req.Orbit, settings.Search)
		if !res.Found {
			release()
			continue
		}
		set, err := h.store.ReadVectors(ctx, res.Entry, rng)
		release()
		if err != nil {
			return nil, fmt.Errorf("%s %s orbit %d: %w", k, v, res.Entry.Orbit, err)
		}

		out := &Result{
			Kind:    k,
			Version: v,
			Search:  res,
			Set:     set,
			Note:    appliedNote(k, v, req.Orbit, res.Entry),
		}
		if req.HasPhase {
			e.evaluatePhase(ctx, out, req)
		}
		e.emit(out.Note)
		return out, nil
	}

	if settings.Required && len(missing) == len(settings.Versions) {
		return nil, fmt.Errorf("required kind %s: %w", k, errors.Join(missing...))
	}
	e.emit(absentNote(k, req.Orbit))
	return nil, fmt.Errorf("%s orbit %d: %w", k, req.Orbit, calib.ErrNoData)
}

func (e *Engine) evaluatePhase(ctx context.Context, out *Result, req Request) {
	set := out.Set
	switch {
	case len(set.PhaseBins) > 0:
		out.Phase = phase.Rebase(req.Phase, e.events(ctx).PhaseDiff(req.Orbit))
		out.Variation = phase.Bracket(set.PhaseBins, out.Phase)
	case set.Harmonic != nil:
		out.Phase = phase.Normalize(req.Phase)
		out.Variation = make([]float64, detector.Pixels)
		out.VariationError = make([]float64, detector.Pixels)
		set.Harmonic.Apply(out.Variation, out.VariationError,
			set.Vector(calib.Amplitude), set.Vector(calib.AmplitudeError), out.Phase)
	}
}

// LookupAll runs the lookups of several kinds concurrently. The result
// slice is parallel to kinds; absent kinds leave a nil entry. The first
// hard failure cancels the rest and is returned.
func (e *Engine) LookupAll(ctx context.Context, kinds []calib.Kind, req Request) ([]*Result, error) {
	out := make([]*Result, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range kinds {
		g.Go(func() error {
			res, err := e.Lookup(gctx, k, req)
			if errors.Is(err, calib.ErrNoData) {
				return nil
			}
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Index returns the selectable entries of kind k in version v.
func (e *Engine) Index(ctx context.Context, v calib.Version, k calib.Kind) ([]calib.Entry, error) {
	h, release, err := e.acquire(ctx, v, k)
	if err != nil {
		return nil, err
	}
	defer release()
	return h.store.ListIndex(ctx)
}

// acquire returns an open store with its index. release must be called
// when the caller is done with it; it is a no-op for session handles.
func (e *Engine) acquire(ctx context.Context, v calib.Version, k calib.Kind) (*handle, func(), error) {
	if e.session == nil {
		h, err := e.openHandle(ctx, v, k)
		if err != nil {
			return nil, nil, err
		}
		return h, func() { _ = h.store.Close() }, nil
	}

	c, err := e.session.handleCell(handleKey{v, k})
	if err != nil {
		return nil, nil, err
	}
	h, err := c.get(func() (*handle, error) {
		return e.openHandle(context.WithoutCancel(ctx), v, k)
	})
	if err != nil {
		return nil, nil, err
	}
	return h, func() {}, nil
}

func (e *Engine) openHandle(ctx context.Context, v calib.Version, k calib.Kind) (*handle, error) {
	s, err := store.Open(ctx, e.roots, v, k)
	if err != nil {
		return nil, err
	}
	entries, err := s.ListIndex(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if e.verbose {
		e.log.Printf("opened %s %s store %s: %d entries", v, k, s.Path(), len(entries))
	}
	return &handle{store: s, index: orbit.NewIndex(entries)}, nil
}

// events returns the reference orbit event table. A missing or unreadable
// table falls back to the default phase offset.
func (e *Engine) events(ctx context.Context) *phase.Events {
	load := func() (*phase.Events, error) {
		path := e.cfg.Path(e.cfg.Stores.ROE)
		if path == "" {
			return nil, nil
		}
		ev, err := phase.LoadEvents(path)
		if err != nil {
			e.log.Printf("orbit events unavailable, using default phase offset %.3f: %v", phase.DefaultPhaseDiff, err)
			return nil, nil
		}
		return ev, nil
	}
	if e.session == nil {
		ev, _ := load()
		return ev
	}
	ev, _ := e.session.events.get(load)
	return ev
}

// KeyData returns the memory-effect and non-linearity tables.
func (e *Engine) KeyData(ctx context.Context) (*keydata.Tables, error) {
	load := func() (*keydata.Tables, error) {
		return keydata.Load(context.WithoutCancel(ctx), e.cfg.Path(e.cfg.Stores.KeyData))
	}
	if e.session == nil {
		return load()
	}
	return e.session.keydata.get(load)
}

func (e *Engine) emit(n Note) {
	if n.Absent || e.verbose {
		e.log.Print(n.Message)
	}
	if e.notify != nil {
		e.notifyMu.Lock()
		defer e.notifyMu.Unlock()
		e.notify(n)
	}
}
