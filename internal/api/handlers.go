package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/vessel/internal/journal"
)

// handleHealthz handles GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Session:       s.config.SessionID,
	}
	if s.events != nil {
		resp.Subscribers = s.events.Subscribers()
		resp.DroppedEvents = s.events.Dropped()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStats handles GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to read stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	respondJSON(w, http.StatusOK, StatsResponse{TotalRequestCount: stats.TotalRequestCount})
}

// handleResults handles GET /results?session=&limit=
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	session := r.URL.Query().Get("session")
	if session == "" {
		session = s.config.SessionID
	}
	if session == "" {
		s.writeError(w, http.StatusBadRequest, "session is required")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.results.List(r.Context(), session, limit)
	if err != nil {
		s.logger.Error("failed to list results", "session", session, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	summary, err := s.results.Summarize(r.Context(), session)
	if err != nil {
		s.logger.Error("failed to summarize results", "session", session, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to summarize results")
		return
	}
	resp := ResultsResponse{Session: session, Passed: summary.Passed, Failed: summary.Failed, Results: entries}
	if resp.Results == nil {
		resp.Results = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleMetrics handles GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.writeError(w, http.StatusServiceUnavailable, "metrics disabled")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
