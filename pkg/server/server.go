package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/estmeter/estmeter/pkg/common"
	"github.com/estmeter/estmeter/pkg/log"
	"github.com/estmeter/estmeter/pkg/portal"
	"github.com/estmeter/estmeter/pkg/recon"
	"github.com/estmeter/estmeter/pkg/storage"
	"github.com/estmeter/estmeter/pkg/types"
)

// Server handles the ops HTTP API and the reconciliation schedule. It
// orchestrates interactions between the portal, the engine, and storage.
type Server struct {
	portals *portal.Map
	storage storage.Database
	engine  *recon.Engine
	hub     *Hub

	listenAddr   string
	jwtSecret    string
	syncInterval time.Duration
	syncOnStart  bool
	serverName   string
	httpServer   *http.Server

	// runMu is held for the whole duration of a reconciliation run
	runMu sync.Mutex

	mu         sync.Mutex
	running    bool
	lastReport *types.RunReport
	nextRun    time.Time

	baseCtx context.Context
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(p *portal.Map, db storage.Database) *Server {
	srv := &Server{
		portals:    p,
		storage:    db,
		engine:     recon.NewEngine(p, db),
		hub:        newHub(),
		serverName: "estmeter",
	}
	srv.engine.SetEventSink(srv.hub)
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	jwtSecret := lflag.String("api-jwt-secret", "", "HS256 secret for API bearer tokens. Empty disables API auth.")
	syncInterval := lflag.Duration("sync-interval", 12*time.Hour, "How often to reconcile the portal into storage. 0 disables the schedule.")
	syncOnStart := lflag.Bool("sync-on-start", true, "Run a reconciliation pass immediately on startup")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.jwtSecret = *jwtSecret
		srv.syncInterval = *syncInterval
		srv.syncOnStart = *syncOnStart
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/status", s.handleStatus)
	apiMux.HandleFunc("GET /api/meters", s.handleMeters)
	apiMux.HandleFunc("POST /api/sync", s.handleSync)
	apiMux.HandleFunc("GET /api/history", s.handleHistory)
	apiMux.HandleFunc("GET /api/export", s.handleExport)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	// the websocket upgrade hijacks the connection, which the gzip wrapper
	// does not support, so the stream mounts outside of it
	outer := http.NewServeMux()
	outer.Handle("/api/stream", s.authMiddleware(http.HandlerFunc(s.handleStream)))
	outer.Handle("/", gziphandler.GzipHandler(mux))
	return s.revisionMiddleware(s.securityHeadersMiddleware(outer))
}

// Run starts the scheduler and the HTTP server and blocks until the context
// is canceled or an error occurs. It also handles graceful shutdown when the
// context is done.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx
	go s.runScheduler(ctx)

	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		s.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

type statusResponse struct {
	Server   string           `json:"server"`
	Version  string           `json:"version"`
	Accounts []string         `json:"accounts"`
	Storage  string           `json:"storage"`
	Running  bool             `json:"running"`
	LastRun  *types.RunReport `json:"lastRun,omitempty"`
	NextRun  *time.Time       `json:"nextRun,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Server:   s.serverName,
		Version:  common.Version(),
		Accounts: s.portals.Accounts(),
		Storage:  storage.Provider(),
	}
	s.mu.Lock()
	resp.Running = s.running
	resp.LastRun = s.lastReport
	if !s.nextRun.IsZero() {
		next := s.nextRun
		resp.NextRun = &next
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleMeters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meters, err := s.engine.ListMeters(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list meters", slog.Any("error", err))
		writeJSONError(w, "failed to list meters", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(meters); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Strict-Transport-Security: max-age=2 years
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")

		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}
