package ctl

import (
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/detector"
	"github.com/large-farva/calibration-engine/internal/export"
	"github.com/large-farva/calibration-engine/internal/telemetry"
)

const lookupBody = `{
  "result": {
    "kind": "transmission",
    "version": "v2",
    "search": {"entry": {"orbit": 120, "quality": 64}, "delta": -1, "probes": 2},
    "set": {
      "kind": "transmission",
      "version": "v2",
      "entry": {"orbit": 120, "quality": 64},
      "range": {"start": 5120, "end": 5122},
      "vectors": {"transmission": [0.5, null, 0.75]}
    },
    "note": {"message": "applied transmission correction (v2) from orbit 120, quality 64"}
  },
  "summary": [{"quantity": "transmission", "pixels": 3, "nan": 1, "min": 0.5, "max": 0.75, "mean": 0.625, "std_dev": 0.17}]
}`

func fakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/lookup", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("orbit") != "121" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"ok":false,"error":"transmission orbit 7: no applicable calibration data"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(lookupBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLookupExportsParquet(t *testing.T) {
	srv := fakeDaemon(t)
	out := filepath.Join(t.TempDir(), "trans.parquet")

	require.NoError(t, Lookup(srv.URL, LookupOptions{Kind: "transmission", Orbit: 121, Channel: 6, Out: out}))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	set, err := export.ReadParquet(f)
	require.NoError(t, err)

	assert.Equal(t, calib.Transmission, set.Kind)
	assert.Equal(t, calib.V2, set.Version)
	assert.Equal(t, detector.Range{Start: 5120, End: 5122}, set.Range)
	vec := set.Vector(calib.TransmissionFactor)
	assert.Equal(t, 0.5, vec[5120])
	assert.True(t, math.IsNaN(vec[5121]))
	assert.Equal(t, 0.75, vec[5122])
}

func TestLookupReportsDaemonError(t *testing.T) {
	srv := fakeDaemon(t)
	err := Lookup(srv.URL, LookupOptions{Kind: "transmission", Orbit: 7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "no applicable calibration data")
}

func TestLookupQuery(t *testing.T) {
	q := lookupQuery(LookupOptions{Kind: "orbital-dark", Orbit: 9, Phase: 0.25, HasPhase: true})
	assert.Equal(t, "kind=orbital-dark&orbit=9&phase=0.25", q.Encode())

	q = lookupQuery(LookupOptions{Kind: "fitted-dark", Orbit: 9, Channel: 2})
	assert.Equal(t, "channel=2&kind=fitted-dark&orbit=9", q.Encode())
}

func TestFilterLogs(t *testing.T) {
	logs := []logLine{
		{Component: "engine", Message: "a"},
		{Component: "calibd", Message: "b"},
		{Component: "engine", Message: "c"},
		{Component: "engine", Message: "d"},
	}
	assert.Len(t, filterLogs(logs, "", 1), 4)

	got := filterLogs(logs, "engine", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Message)
	assert.Equal(t, "d", got[1].Message)
}

func TestWatchURL(t *testing.T) {
	got, err := watchURL("http://127.0.0.1:8080/", nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/ws", got)

	got, err = watchURL("https://calib.example.org/api?x=1", []string{"log", "state"})
	require.NoError(t, err)
	assert.Equal(t, "wss://calib.example.org/ws?types=log%2Cstate", got)

	_, err = watchURL("ftp://calib.example.org", nil)
	assert.Error(t, err)
}

func TestWatchReturnsWhenDaemonCloses(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws", r.URL.Path)
		assert.Equal(t, "provenance", r.URL.Query().Get("types"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(telemetry.Provenance{
			Event:  telemetry.New(telemetry.EventProvenance, "engine"),
			Kind:   "fitted-dark",
			Orbit:  101,
			Absent: true,
		})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	require.NoError(t, Watch(srv.URL, WatchOptions{Filter: []string{"provenance"}, JSON: true}))
}

func TestWanted(t *testing.T) {
	assert.True(t, wanted(nil, telemetry.EventLog))
	assert.True(t, wanted([]string{"state", "log"}, telemetry.EventLog))
	assert.False(t, wanted([]string{"state"}, telemetry.EventHeartbeat))
	assert.False(t, strings.Contains(provenanceLine(telemetry.Provenance{Kind: "transmission", Orbit: 5, Absent: true}), "LOOKUP"))
}
