package journal

import (
	"encoding/json"
	"time"
)

// Session is one host session that ran a presentation process.
type Session struct {
	ID        string
	Host      string
	Port      int
	PID       int
	StartedAt time.Time
	EndedAt   *time.Time
}

// Entry is one journaled result.
type Entry struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Command     string          `json:"command"` // process | repair
	PluginID    string          `json:"plugin_id"`
	Plugin      string          `json:"plugin"`
	PluginOrder float64         `json:"plugin_order"`
	InstanceID  *string         `json:"instance_id,omitempty"`
	Instance    *string         `json:"instance,omitempty"`
	Success     bool            `json:"success"`
	Error       *string         `json:"error,omitempty"`
	Records     json.RawMessage `json:"records"`
	DurationMS  float64         `json:"duration_ms"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Summary counts results of one session.
type Summary struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}
