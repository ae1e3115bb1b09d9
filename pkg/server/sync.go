package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/estmeter/estmeter/pkg/log"
	"github.com/estmeter/estmeter/pkg/metrics"
)

// runScheduler triggers a reconciliation run on startup and then on every
// interval tick until ctx is done. A tick that lands while the previous run
// is still going is skipped, never queued.
func (s *Server) runScheduler(ctx context.Context) {
	if s.syncOnStart {
		s.triggerRun(false)
	}
	if s.syncInterval <= 0 {
		log.Ctx(ctx).InfoContext(ctx, "sync schedule disabled")
		return
	}

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()
	s.setNextRun(time.Now().Add(s.syncInterval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.setNextRun(time.Now().Add(s.syncInterval))
			if !s.triggerRun(false) {
				log.Ctx(ctx).WarnContext(ctx, "previous run still in progress, skipping tick")
				metrics.IncRunSkipped()
			}
		}
	}
}

func (s *Server) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}

// triggerRun starts a run in the background unless one is already underway.
func (s *Server) triggerRun(dryRun bool) bool {
	if !s.runMu.TryLock() {
		return false
	}
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	// the run outlives any request that triggered it, so it gets the
	// server's context rather than the request's
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer s.runMu.Unlock()
		report, err := s.engine.RunOnce(ctx, dryRun)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "run aborted", slog.Any("error", err))
		}
		s.mu.Lock()
		s.running = false
		s.lastReport = &report
		s.mu.Unlock()
	}()
	return true
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		var err error
		dryRun, err = strconv.ParseBool(raw)
		if err != nil {
			writeJSONError(w, "invalid dry_run value", http.StatusBadRequest)
			return
		}
	}

	if !s.triggerRun(dryRun) {
		writeJSONError(w, "a run is already in progress", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(struct {
		Accepted bool `json:"accepted"`
		DryRun   bool `json:"dryRun"`
	}{Accepted: true, DryRun: dryRun}); err != nil {
		panic(http.ErrAbortHandler)
	}
}
