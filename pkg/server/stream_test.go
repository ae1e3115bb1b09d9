package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estmeter/estmeter/pkg/types"
)

func dialStream(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	return conn
}

// waitForClients blocks until the hub has the given number of subscribers.
// The dialer returns before the server side finished registering, so tests
// that publish right after connecting need this.
func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.clients) == n
	}, time.Second, 5*time.Millisecond)
}

func readEvent(t *testing.T, conn *websocket.Conn) types.RunEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var event types.RunEvent
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestStream(t *testing.T) {
	t.Run("Receives Published Events", func(t *testing.T) {
		srv, _ := newTestServer(t)
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		conn := dialStream(t, ts, "")
		defer conn.Close()
		waitForClients(t, srv.hub, 1)

		srv.hub.Publish(types.RunEvent{Type: types.EventRunStarted, Time: time.Now()})

		event := readEvent(t, conn)
		assert.Equal(t, types.EventRunStarted, event.Type)
	})

	t.Run("Replays Last Event", func(t *testing.T) {
		srv, _ := newTestServer(t)
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		report := types.RunReport{Started: time.Now(), Finished: time.Now()}
		srv.hub.Publish(types.RunEvent{Type: types.EventRunFinished, Time: time.Now(), Report: &report})

		conn := dialStream(t, ts, "")
		defer conn.Close()

		event := readEvent(t, conn)
		assert.Equal(t, types.EventRunFinished, event.Type)
		require.NotNil(t, event.Report)
	})

	t.Run("Run Events End To End", func(t *testing.T) {
		srv, _ := newTestServer(t)
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		conn := dialStream(t, ts, "")
		defer conn.Close()
		waitForClients(t, srv.hub, 1)

		resp, err := http.Post(ts.URL+"/api/sync?dry_run=true", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		// the mock portal has two meters, so a run is exactly four events
		events := make([]types.RunEvent, 0, 4)
		for i := 0; i < 4; i++ {
			events = append(events, readEvent(t, conn))
		}
		assert.Equal(t, types.EventRunStarted, events[0].Type)
		assert.Equal(t, types.EventMeterDone, events[1].Type)
		require.NotNil(t, events[1].Meter)
		assert.Equal(t, types.EventMeterDone, events[2].Type)
		assert.Equal(t, types.EventRunFinished, events[3].Type)
		require.NotNil(t, events[3].Report)
		assert.True(t, events[3].Report.DryRun)
	})

	t.Run("Auth Required When Secret Set", func(t *testing.T) {
		srv, _ := newTestServer(t)
		srv.jwtSecret = "sekrit"
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream"
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err, "handshake must fail without a token")
		if resp != nil {
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			resp.Body.Close()
		}
		require.Nil(t, conn)

		conn = dialStream(t, ts, "?access_token="+signToken(t, jwt.SigningMethodHS256, "sekrit"))
		defer conn.Close()
		waitForClients(t, srv.hub, 1)
	})

	t.Run("Dropped Client Is Removed", func(t *testing.T) {
		srv, _ := newTestServer(t)
		ts := httptest.NewServer(srv.setupHandler())
		defer ts.Close()

		conn := dialStream(t, ts, "")
		waitForClients(t, srv.hub, 1)
		conn.Close()

		require.Eventually(t, func() bool {
			srv.hub.mu.Lock()
			defer srv.hub.mu.Unlock()
			return len(srv.hub.clients) == 0
		}, time.Second, 5*time.Millisecond, "the read loop should notice the close")
	})
}
