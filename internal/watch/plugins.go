package watch

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/vessel/internal/events"
	"github.com/mattjoyce/vessel/internal/protocol"
)

// PluginStats aggregates the results one plugin produced this session.
type PluginStats struct {
	ID         string
	Name       string
	Order      float64
	Passed     int
	Failed     int
	DurationMS float64
	Last       string // instance of the latest result, or the context
	LastError  string
}

// Board tracks plugin results seen on the event stream.
type Board struct {
	plugins map[string]*PluginStats
}

func NewBoard() *Board {
	return &Board{plugins: make(map[string]*PluginStats)}
}

// Apply folds a result.processed event into the board. It reports whether
// the event changed anything.
func (b *Board) Apply(e events.Event) bool {
	if e.Type != events.TypeResultProcessed {
		return false
	}
	var r protocol.Result
	if err := json.Unmarshal(e.Data, &r); err != nil || r.Plugin.ID == "" {
		return false
	}

	p, ok := b.plugins[r.Plugin.ID]
	if !ok {
		p = &PluginStats{ID: r.Plugin.ID}
		b.plugins[r.Plugin.ID] = p
	}
	p.Name = r.Plugin.Name
	p.Order = r.Plugin.Order
	p.DurationMS += r.Duration
	p.Last = protocol.ContextID
	if r.Instance != nil {
		p.Last = r.Instance.Name
	}
	if r.Success {
		p.Passed++
		p.LastError = ""
	} else {
		p.Failed++
		if r.Error != nil {
			p.LastError = r.Error.Message
		}
	}
	return true
}

// Sorted returns plugins by order, then name.
func (b *Board) Sorted() []PluginStats {
	out := make([]PluginStats, 0, len(b.plugins))
	for _, p := range b.plugins {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func pluginColumns() []table.Column {
	return []table.Column{
		{Title: "Order", Width: 6},
		{Title: "Plugin", Width: 24},
		{Title: "Pass", Width: 5},
		{Title: "Fail", Width: 5},
		{Title: "Time", Width: 9},
		{Title: "Last", Width: 30},
	}
}

func (b *Board) rows() []table.Row {
	sorted := b.Sorted()
	rows := make([]table.Row, 0, len(sorted))
	for _, p := range sorted {
		last := p.Last
		if p.LastError != "" {
			last = p.Last + ": " + p.LastError
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%.1f", p.Order),
			p.Name,
			fmt.Sprint(p.Passed),
			fmt.Sprint(p.Failed),
			fmt.Sprintf("%.0fms", p.DurationMS),
			last,
		})
	}
	return rows
}
