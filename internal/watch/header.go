package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// idleAfter is how long without events before the header reads idle.
const idleAfter = 5 * time.Second

// Health is what the header knows about the session.
type Health struct {
	Status        string
	UptimeSeconds int64
	Session       string
	Subscribers   int
	DroppedEvents int64
	Connected     bool
	RemoteGone    bool
	LastEvent     time.Time
}

func renderHeader(h Health, spin spinner.Model, theme Theme, width int) string {
	inner := width - 4

	status := theme.Passed.Render("CONNECTED")
	switch {
	case !h.Connected:
		status = theme.Failed.Render("CONNECTING")
	case h.RemoteGone:
		status = theme.Failed.Render("PRESENTATION GONE")
	case h.Status != "" && h.Status != "ok":
		status = theme.Failed.Render(strings.ToUpper(h.Status))
	}

	session := h.Session
	if len(session) > 8 {
		session = session[:8]
	}
	title := " VESSEL WATCH " + theme.Highlight.Render(session)
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := inner - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}

	activity := theme.Dim.Render("idle")
	if !h.LastEvent.IsZero() && time.Since(h.LastEvent) < idleAfter {
		activity = spin.View() + " active"
	}
	stats := fmt.Sprintf(" %s  up %s  subscribers %d  dropped %d  %s",
		status, formatUptime(time.Duration(h.UptimeSeconds)*time.Second),
		h.Subscribers, h.DroppedEvents, activity)

	return theme.Border.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left,
		title+strings.Repeat(" ", pad)+clock,
		stats,
	))
}

func formatUptime(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
