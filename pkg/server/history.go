package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/estmeter/estmeter/pkg/log"
	"github.com/estmeter/estmeter/pkg/portal"
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	statisticID := r.URL.Query().Get("statistic_id")
	if statisticID == "" {
		writeJSONError(w, "statistic_id is required", http.StatusBadRequest)
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	records, err := s.storage.GetRecords(ctx, statisticID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get records", slog.String("statisticID", statisticID), slog.Any("error", err))
		writeJSONError(w, "failed to get records", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	// A range that ends before today is immutable and can cache for 24
	// hours. Anything touching today may still grow.
	if end.Before(portal.Midnight(time.Now())) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}

	if err := json.NewEncoder(w).Encode(records); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" && endStr == "" {
		// Default to the last 30 days if not specified
		end := time.Now()
		return end.AddDate(0, 0, -30), end, nil
	}
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start and end must be given together")
	}

	start, err := parseTimeBound(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := parseTimeBound(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > 366*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed one year")
	}

	return start, end, nil
}

// parseTimeBound accepts RFC3339 or unix seconds.
func parseTimeBound(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
