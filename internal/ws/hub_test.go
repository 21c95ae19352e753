package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/calibration-engine/internal/telemetry"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) telemetry.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev telemetry.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHubRoutesTopics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub()
	go h.Run(ctx)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	all := dial(t, srv, "")
	prov := dial(t, srv, "?types=provenance,reload")
	require.Eventually(t, func() bool { return h.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	h.BroadcastJSON(telemetry.Heartbeat{Event: telemetry.New(telemetry.EventHeartbeat, "calibd"), State: "READY"})
	h.BroadcastJSON(telemetry.Provenance{Event: telemetry.New(telemetry.EventProvenance, "engine"), Kind: "fitted-dark", Orbit: 101})

	assert.Equal(t, telemetry.EventHeartbeat, readEvent(t, all).Type)
	assert.Equal(t, telemetry.EventProvenance, readEvent(t, all).Type)
	assert.Equal(t, telemetry.EventProvenance, readEvent(t, prov).Type)
}

func TestHubDropsClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	dial(t, srv, "")
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, h.Clients())
}

func TestParseTopics(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?types=log,%20state,,", nil)
	assert.Equal(t, map[string]bool{"log": true, "state": true}, parseTopics(r))
	assert.Nil(t, parseTopics(httptest.NewRequest("GET", "/ws", nil)))
	assert.Nil(t, parseTopics(httptest.NewRequest("GET", "/ws?types=,", nil)))
}
