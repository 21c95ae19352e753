// Package app wires together the HTTP server, the WebSocket hub, the
// calibration engine and the demo runner. It owns the daemon's lifecycle
// and is the single source of truth for the current operating state.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/large-farva/calibration-engine/internal/config"
	"github.com/large-farva/calibration-engine/internal/demo"
	"github.com/large-farva/calibration-engine/internal/engine"
	"github.com/large-farva/calibration-engine/internal/telemetry"
	"github.com/large-farva/calibration-engine/internal/ws"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *log.Logger
	Cfg        config.Config
	ConfigPath string
	Bind       string
}

// App is the top-level daemon process. It manages the HTTP server, the
// WebSocket event hub, and the engine serving lookups.
type App struct {
	log        *log.Logger
	cfgMu      sync.RWMutex
	cfg        config.Config
	configPath string
	bind       string
	server     *http.Server

	startedAt time.Time
	state     atomic.Value // current state string (BOOTING, READY, etc.)
	lookups   atomic.Int64

	eng   atomic.Pointer[engine.Engine]
	logs  *logRing
	wsHub *ws.Hub
}

// New creates an App in the BOOTING state with an engine built from
// opts.Cfg. Call Run to start serving.
func New(opts Options) *App {
	a := &App{
		log:        opts.Logger,
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		logs:       newLogRing(500),
		wsHub:      ws.NewHub(),
	}
	if a.log == nil {
		a.log = log.New(log.Writer(), "calibd ", log.LstdFlags)
	}
	a.state.Store("BOOTING")
	a.eng.Store(a.newEngine(opts.Cfg))
	return a
}

// newEngine builds an engine with its own session. Engine log lines go to
// the daemon log, the log ring, and every WebSocket client.
func (a *App) newEngine(cfg config.Config) *engine.Engine {
	level, _ := config.ParseLevel(cfg.Logging.Level)
	return engine.New(cfg,
		engine.WithLogger(log.New(engineWriter{a}, "", 0)),
		engine.WithVerbose(level == config.LevelDebug),
		engine.WithSession(engine.NewSession()),
		engine.WithNotifier(a.provenance),
	)
}

func (a *App) current() *engine.Engine { return a.eng.Load() }

func (a *App) getConfig() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// Run starts the HTTP server, WebSocket hub and heartbeat ticker, prepares
// the demo tree when demo mode is on, and blocks until the context is
// cancelled or the server returns an error.
func (a *App) Run(ctx context.Context) error {
	cfg := a.getConfig()
	bind := a.bind
	if bind == "" && cfg.Server.Bind != "" {
		bind = cfg.Server.Bind
	}
	if bind == "" {
		bind = "0.0.0.0:8080"
	}

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}

	a.log.Printf("listening on http://%s", bind)

	go a.wsHub.Run(ctx)
	go a.heartbeatLoop(ctx)

	a.transition("LOADING")
	if cfg.Demo.Enabled {
		created, err := demo.Synthesize(ctx, cfg, func(stage string, pct float64) {
			a.wsHub.BroadcastJSON(telemetry.Progress{
				Event:   telemetry.New(telemetry.EventProgress, "calibd"),
				Stage:   "synthesize",
				Percent: pct,
				Detail:  stage,
			})
		})
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("demo data: %w", err)
		}
		if created {
			a.logf("info", "synthesised demo calibration tree under %s", cfg.Data.Root)
		}
	}
	a.transition("READY")

	if cfg.Demo.Enabled {
		r := demo.New(a.wsHub, a.current)
		if cfg.Demo.IntervalSeconds > 0 {
			r.Interval = time.Duration(cfg.Demo.IntervalSeconds) * time.Second
		}
		go r.Run(ctx, a.transition)
	}

	go func() {
		<-ctx.Done()
		a.log.Printf("shutdown requested")
		_ = a.server.Shutdown(context.Background())
		if s := a.current().Session(); s != nil {
			if err := s.Close(); err != nil {
				a.log.Printf("close session: %v", err)
			}
		}
	}()

	return a.server.Serve(ln)
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/config/profiles", a.handleConfigProfiles)
	mux.HandleFunc("/api/reload", a.handleReload)
	mux.HandleFunc("/api/logs", a.handleLogs)
	mux.HandleFunc("/api/session", a.handleSession)
	mux.HandleFunc("/api/kinds", a.handleKinds)
	mux.HandleFunc("/api/index", a.handleIndex)
	mux.HandleFunc("/api/lookup", a.handleLookup)
	mux.HandleFunc("/api/dark", a.handleDark)
	mux.Handle("/ws", a.wsHub.Handler())
	return mux
}

// transition atomically updates the daemon state and broadcasts the change
// to all connected WebSocket clients.
func (a *App) transition(newState string) {
	old := a.state.Swap(newState).(string)
	if old == newState {
		return
	}
	a.wsHub.BroadcastJSON(telemetry.StateTransition{
		Event: telemetry.New(telemetry.EventState, "calibd"),
		From:  old,
		To:    newState,
	})
}

// heartbeatLoop sends a periodic heartbeat event so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.wsHub.BroadcastJSON(telemetry.Heartbeat{
				Event:         telemetry.New(telemetry.EventHeartbeat, "calibd"),
				State:         a.state.Load().(string),
				UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
				Lookups:       a.lookups.Load(),
			})
		}
	}
}

// provenance forwards an engine note to WebSocket clients.
func (a *App) provenance(n engine.Note) {
	a.lookups.Add(1)
	var version string
	if n.Version != 0 {
		version = n.Version.String()
	}
	a.wsHub.BroadcastJSON(telemetry.Provenance{
		Event:      telemetry.New(telemetry.EventProvenance, "engine"),
		Kind:       n.Kind.String(),
		Version:    version,
		Orbit:      n.Orbit,
		FoundOrbit: n.FoundOrbit,
		Quality:    n.Quality,
		Absent:     n.Absent,
		Message:    n.Message,
	})
}

// logf writes a daemon log line, keeps it for /api/logs, and pushes it to
// every WebSocket client.
func (a *App) logf(level, format string, args ...any) {
	a.record("calibd", level, fmt.Sprintf(format, args...))
}

func (a *App) record(component, level, msg string) {
	a.log.Printf("%s: %s", level, msg)
	e := a.logs.add(component, level, msg)
	a.wsHub.BroadcastJSON(telemetry.LogLine{
		Event:   telemetry.Event{Type: telemetry.EventLog, TS: e.TS, Component: component},
		Level:   level,
		Message: msg,
	})
}

// engineWriter turns engine log output into daemon log records.
type engineWriter struct{ a *App }

func (w engineWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	level := "info"
	if rest, ok := strings.CutPrefix(msg, "warning: "); ok {
		level, msg = "warn", rest
	}
	w.a.record("engine", level, msg)
	return len(p), nil
}
