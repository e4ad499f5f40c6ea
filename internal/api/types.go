package api

import "github.com/mattjoyce/vessel/internal/journal"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Session       string `json:"session,omitempty"`
	Subscribers   int    `json:"subscribers"`
	DroppedEvents int64  `json:"dropped_events"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	TotalRequestCount int64 `json:"total_request_count"`
}

// ResultsResponse is returned by GET /results.
type ResultsResponse struct {
	Session string          `json:"session"`
	Passed  int             `json:"passed"`
	Failed  int             `json:"failed"`
	Results []journal.Entry `json:"results"`
}
