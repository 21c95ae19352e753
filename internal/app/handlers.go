package app

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/config"
	"github.com/large-farva/calibration-engine/internal/detector"
	"github.com/large-farva/calibration-engine/internal/engine"
	"github.com/large-farva/calibration-engine/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := a.getConfig()

	resp := map[string]any{
		"name":           "calibration-engine",
		"state":          a.state.Load().(string),
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"data_root":      cfg.Data.Root,
		"demo_enabled":   cfg.Demo.Enabled,
		"lookups":        a.lookups.Load(),
		"ws_clients":     a.wsHub.Clients(),
	}

	if cfg.Demo.Enabled {
		resp["mode"] = "demo"
	} else {
		resp["mode"] = "live"
	}

	if s := a.current().Session(); s != nil {
		resp["session"] = s.Stats()
	}

	// Disk usage for data root.
	if du := diskUsage(cfg.Data.Root); du != nil {
		resp["disk"] = du
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
		"runtime":    runtime.Version(),
		"schemas":    calib.Versions(),
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.getConfig())
}

func (a *App) handleConfigProfiles(w http.ResponseWriter, _ *http.Request) {
	dir := config.DefaultConfigDir()
	profiles, err := config.ListProfiles(dir)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.cfgMu.RLock()
	active := a.configPath
	a.cfgMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"config_dir": dir,
		"active":     active,
		"profiles":   profiles,
	})
}

func (a *App) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := a.logs.snapshot()

	// Apply filters.
	levelFilter := r.URL.Query().Get("level")
	if levelFilter != "" {
		var filtered []logEntry
		for _, e := range entries {
			if e.Level == levelFilter {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (a *App) handleSession(w http.ResponseWriter, _ *http.Request) {
	s := a.current().Session()
	if s == nil {
		jsonError(w, "engine runs without a session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.Stats())
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	cfg := a.getConfig()

	checks := map[string]any{}
	allOK := true

	// Check data directory.
	tmpPath := filepath.Join(cfg.Data.Root, ".healthcheck")
	if err := os.WriteFile(tmpPath, []byte("ok"), 0o644); err != nil {
		checks["data_dir"] = map[string]any{"ok": false, "error": err.Error()}
		allOK = false
	} else {
		_ = os.Remove(tmpPath)
		checks["data_dir"] = map[string]any{"ok": true, "path": cfg.Data.Root}
	}

	// At least one store root must exist.
	roots := 0
	for _, st := range []struct{ name, path string }{
		{"store_v1", cfg.Stores.V1Root},
		{"store_v2", cfg.Stores.V2Root},
		{"store_v3", cfg.Stores.V3Root},
	} {
		if st.path == "" {
			continue
		}
		p := cfg.Path(st.path)
		if _, err := os.Stat(p); err != nil {
			checks[st.name] = map[string]any{"ok": false, "path": p, "error": err.Error()}
			continue
		}
		roots++
		checks[st.name] = map[string]any{"ok": true, "path": p}
	}
	if roots == 0 {
		allOK = false
	}

	// Key data and the event table are optional: without them some
	// corrections are skipped or the default phase offset is used.
	for _, f := range []struct{ name, path string }{
		{"keydata", cfg.Stores.KeyData},
		{"orbit_events", cfg.Stores.ROE},
	} {
		p := cfg.Path(f.path)
		if _, err := os.Stat(p); err != nil {
			checks[f.name] = map[string]any{"ok": false, "optional": true, "error": err.Error()}
		} else {
			checks[f.name] = map[string]any{"ok": true, "path": p}
		}
	}

	// Config file readable.
	a.cfgMu.RLock()
	configPath := a.configPath
	a.cfgMu.RUnlock()
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			checks["config_file"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = map[string]any{"ok": true, "path": configPath}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

func (a *App) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Accept optional profile name in body: {"profile": "archive"}
	var body struct {
		Profile string `json:"profile"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	a.cfgMu.RLock()
	loadPath := a.configPath
	a.cfgMu.RUnlock()

	if body.Profile != "" {
		dir := config.DefaultConfigDir()
		p, ok := config.FindProfile(dir, body.Profile)
		if !ok {
			jsonError(w, fmt.Sprintf("profile %q not found in %s", body.Profile, dir), http.StatusNotFound)
			return
		}
		loadPath = p
	}

	if loadPath == "" {
		jsonError(w, "no config file path set", http.StatusInternalServerError)
		return
	}

	newCfg, err := config.Load(loadPath)
	if err != nil {
		jsonError(w, "config reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	a.cfgMu.Lock()
	a.cfg = newCfg
	a.configPath = loadPath
	a.cfgMu.Unlock()

	fresh := a.newEngine(newCfg)
	old := a.eng.Swap(fresh)
	var previous string
	if s := old.Session(); s != nil {
		previous = s.ID()
		if err := s.Close(); err != nil {
			a.logf("warn", "closing previous session: %v", err)
		}
	}

	a.wsHub.BroadcastJSON(telemetry.LogLine{
		Event:   telemetry.New(telemetry.EventReload, "calibd"),
		Level:   "info",
		Message: "configuration reloaded from " + loadPath,
	})
	a.logf("info", "config reloaded from %s", loadPath)

	resp := map[string]any{
		"ok":      true,
		"message": "configuration reloaded from " + loadPath,
		"path":    loadPath,
	}
	if previous != "" {
		resp["previous_session"] = previous
	}
	if s := fresh.Session(); s != nil {
		resp["session"] = s.ID()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Lookup handlers
// ---------------------------------------------------------------------------

func (a *App) handleKinds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"kinds": a.getConfig().AllSettings()})
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	k, err := calib.ParseKind(q.Get("kind"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := calib.ParseVersion(q.Get("version"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := a.current().Index(r.Context(), v, k)
	if err != nil {
		jsonError(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":    k,
		"version": v,
		"entries": entries,
	})
}

func (a *App) handleLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	k, err := calib.ParseKind(q.Get("kind"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := parseRequest(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := a.current().Lookup(r.Context(), k, req)
	if err != nil {
		jsonError(w, err.Error(), errorStatus(err))
		return
	}
	var result any = slim(res)
	if q.Get("vectors") == "1" {
		result = withVectors(res)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  result,
		"summary": engine.Summarize(res.Set),
	})
}

func (a *App) handleDark(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	d, err := a.current().Dark(r.Context(), req)
	if err != nil {
		jsonError(w, err.Error(), errorStatus(err))
		return
	}

	// Summarise the assembled dark rather than the fitted record alone.
	set := calib.NewVectorSet(calib.FittedDark, d.Fitted.Version, d.Fitted.Set.Entry, detector.Full)
	set.Set(calib.AnalogOffset, append([]float64(nil), d.AnalogOffset...))
	set.Set(calib.DarkCurrent, append([]float64(nil), d.DarkCurrent...))
	set.Set(calib.AnalogOffsetError, append([]float64(nil), d.AnalogOffsetError...))
	set.Set(calib.DarkCurrentError, append([]float64(nil), d.DarkCurrentError...))

	out := *d
	out.Fitted = slim(d.Fitted)
	out.Orbital = slim(d.Orbital)
	out.Simu = slim(d.Simu)
	writeJSON(w, http.StatusOK, map[string]any{
		"dark":    out,
		"summary": engine.Summarize(set),
	})
}

// parseRequest reads orbit, channel and phase from the query string.
func parseRequest(r *http.Request) (engine.Request, error) {
	q := r.URL.Query()
	var req engine.Request
	orbit, err := strconv.Atoi(q.Get("orbit"))
	if err != nil {
		return req, fmt.Errorf("orbit: %w", err)
	}
	req.Orbit = orbit
	if s := q.Get("channel"); s != "" {
		ch, err := strconv.Atoi(s)
		if err != nil {
			return req, fmt.Errorf("channel: %w", err)
		}
		if ch < 0 || ch > detector.Channels {
			return req, fmt.Errorf("channel %d out of range 0..%d", ch, detector.Channels)
		}
		req.Channel = ch
	}
	if s := q.Get("phase"); s != "" {
		ph, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return req, fmt.Errorf("phase: %w", err)
		}
		req.Phase, req.HasPhase = ph, true
	}
	return req, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// jsonFloat encodes NaN and infinities as null.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

// wireResult is a Result whose vectors survive NaN pixels. Only the
// set's range is sent.
type wireResult struct {
	*engine.Result
	Set *wireSet `json:"set"`
}

type wireSet struct {
	*calib.VectorSet
	Vectors map[calib.Quantity][]jsonFloat `json:"vectors"`
}

func withVectors(res *engine.Result) wireResult {
	r := res.Set.Range
	ws := &wireSet{VectorSet: res.Set, Vectors: make(map[calib.Quantity][]jsonFloat, len(res.Set.Vectors))}
	for q, vec := range res.Set.Vectors {
		out := make([]jsonFloat, r.Len())
		for i, v := range vec[r.Start : r.End+1] {
			out[i] = jsonFloat(v)
		}
		ws.Vectors[q] = out
	}
	return wireResult{Result: res, Set: ws}
}

// slim returns a copy of res without vectors.
func slim(res *engine.Result) *engine.Result {
	if res == nil {
		return nil
	}
	out := *res
	set := *res.Set
	set.Vectors = nil
	out.Set = &set
	return &out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps engine errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, calib.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, calib.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrSessionClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{
		"ok":    false,
		"error": msg,
	})
}
