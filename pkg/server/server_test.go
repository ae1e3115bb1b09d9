package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estmeter/estmeter/pkg/portal"
	"github.com/estmeter/estmeter/pkg/recon"
	"github.com/estmeter/estmeter/pkg/storage"
	"github.com/estmeter/estmeter/pkg/types"
)

// newTestServer builds a Server around the mock portal and the memory store,
// skipping flag parsing.
func newTestServer(t *testing.T) (*Server, *storage.MemoryProvider) {
	t.Helper()
	portals := portal.NewMap()
	portals.SetSource(types.AccountDefault, portal.NewMock())
	db := storage.NewMemory()
	srv := &Server{
		portals:    portals,
		storage:    db,
		engine:     recon.NewEngine(portals, db),
		hub:        newHub(),
		serverName: "estmeter-test",
	}
	srv.engine.SetEventSink(srv.hub)
	return srv, db
}

func TestHandleStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	srv.handleStatus(w, req)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "estmeter-test", status.Server)
	assert.NotEmpty(t, status.Version)
	assert.Equal(t, []string{types.AccountDefault}, status.Accounts)
	assert.False(t, status.Running)
	assert.Nil(t, status.LastRun, "no run happened yet")
	assert.Nil(t, status.NextRun, "no schedule is active")
}

func TestHandleMeters(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/meters", nil)
	w := httptest.NewRecorder()
	srv.handleMeters(w, req)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var meters map[string][]types.Meter
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meters))
	require.Contains(t, meters, types.AccountDefault)
	require.Len(t, meters[types.AccountDefault], 2)
	assert.Equal(t, "60000001", meters[types.AccountDefault][0].ID)
}

func TestSetupHandler(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.setupHandler()

	t.Run("Healthz", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/healthz", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		resp := w.Result()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", w.Body.String())
	})

	t.Run("Security And Revision Headers", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/healthz", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		resp := w.Result()
		assert.Equal(t, "estmeter-test", resp.Header.Get("Server"))
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
		assert.NotEmpty(t, resp.Header.Get("Strict-Transport-Security"))
	})

	t.Run("Metrics", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/metrics", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		resp := w.Result()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, w.Body.String())
	})

	t.Run("Unknown API Route", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/nope", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
	})
}
