package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattjoyce/vessel/internal/events"
	"github.com/mattjoyce/vessel/internal/protocol"
)

// maxEventLog bounds the event pane, newest first.
const maxEventLog = 100

func renderEventLog(entries []events.Event, theme Theme) string {
	if len(entries) == 0 {
		return theme.Dim.Render("Waiting for events...")
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, formatEvent(e, theme))
	}
	return strings.Join(lines, "\n")
}

func formatEvent(e events.Event, theme Theme) string {
	desc, failed := describe(e)
	style := theme.Dim
	switch {
	case failed:
		style = theme.Failed
	case e.Type == events.TypeResultProcessed:
		style = theme.Passed
	case e.Type == events.TypeSignal:
		style = theme.Highlight
	}
	return fmt.Sprintf("%s %s %s",
		theme.Dim.Render(e.At.Local().Format("15:04:05")),
		style.Render(fmt.Sprintf("%-20s", e.Type)),
		desc,
	)
}

// describe summarises an event payload and reports whether it is a failure.
func describe(e events.Event) (string, bool) {
	switch e.Type {
	case events.TypeRequestServed:
		var r events.RequestServed
		if json.Unmarshal(e.Data, &r) == nil {
			if r.Error != "" {
				return fmt.Sprintf("%s %.1fms: %s", r.Name, r.DurationMS, r.Error), true
			}
			return fmt.Sprintf("%s %.1fms", r.Name, r.DurationMS), false
		}
	case events.TypeResultProcessed:
		var r protocol.Result
		if json.Unmarshal(e.Data, &r) == nil {
			target := protocol.ContextID
			if r.Instance != nil {
				target = r.Instance.Name
			}
			if !r.Success {
				msg := "failed"
				if r.Error != nil {
					msg = r.Error.Message
				}
				return fmt.Sprintf("%s/%s %s", r.Plugin.Name, target, msg), true
			}
			return fmt.Sprintf("%s/%s ok", r.Plugin.Name, target), false
		}
	case events.TypeSignal:
		var s struct {
			Signal string `json:"signal"`
		}
		if json.Unmarshal(e.Data, &s) == nil && s.Signal != "" {
			return s.Signal, false
		}
	case events.TypeRemoteGone:
		var g struct {
			Cause string `json:"cause"`
		}
		_ = json.Unmarshal(e.Data, &g)
		return "presentation process gone: " + g.Cause, true
	}
	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw, false
}
