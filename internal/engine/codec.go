package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mattjoyce/vessel/internal/protocol"
)

// Commands a plugin entrypoint must understand.
const (
	CommandProcess = "process"
	CommandRepair  = "repair"
)

// Request is the envelope sent to a plugin via stdin.
type Request struct {
	Protocol   int                `json:"protocol"`
	Command    string             `json:"command"` // process | repair
	Plugin     protocol.Plugin    `json:"plugin"`
	Context    ContextPayload     `json:"context"`
	Instance   *protocol.Instance `json:"instance,omitempty"`
	DeadlineAt time.Time          `json:"deadline_at"`
}

// ContextPayload is the slice of the context a plugin gets to see.
type ContextPayload struct {
	ID        string              `json:"id"`
	Data      map[string]any      `json:"data"`
	Instances []protocol.Instance `json:"instances"`
}

// Response is the envelope received from a plugin via stdout.
type Response struct {
	Status    string              `json:"status"` // ok | error
	Error     string              `json:"error,omitempty"`
	ErrorInfo *protocol.ErrorInfo `json:"error_info,omitempty"`
	Logs      []LogEntry          `json:"logs,omitempty"`
	// Instances are created by collectors.
	Instances []NewInstance `json:"instances,omitempty"`
	// Data is shallow-merged into the processed instance.
	Data map[string]any `json:"data,omitempty"`
	// ContextData is shallow-merged into the context.
	ContextData map[string]any `json:"context_data,omitempty"`
}

// LogEntry represents a log message from a plugin.
type LogEntry struct {
	Level   string `json:"level"` // debug | info | warn | error
	Message string `json:"message"`
}

// NewInstance is an instance reported by a collector.
type NewInstance struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

// EncodeRequest serializes a Request to JSON and writes it to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Protocol != 1 {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if req.Command != CommandProcess && req.Command != CommandRepair {
		return fmt.Errorf("unsupported command: %q", req.Command)
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// DecodeResponse reads a Response from r, keeping the raw bytes for diagnostics.
func DecodeResponse(r io.Reader) (*Response, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) == 0 {
		return nil, data, fmt.Errorf("plugin produced no output on stdout")
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, data, fmt.Errorf("plugin output is not valid JSON: %w", err)
	}

	if resp.Status == "" {
		return nil, data, fmt.Errorf("response missing required field: status")
	}
	if resp.Status != "ok" && resp.Status != "error" {
		return nil, data, fmt.Errorf("invalid status value: %q (must be 'ok' or 'error')", resp.Status)
	}
	if resp.Status == "error" && resp.Error == "" && (resp.ErrorInfo == nil || resp.ErrorInfo.Message == "") {
		return nil, data, fmt.Errorf("response has status=error but no error message")
	}
	for i, inst := range resp.Instances {
		if inst.Name == "" {
			return nil, data, fmt.Errorf("instances[%d] has no name", i)
		}
	}

	return &resp, data, nil
}
