// Package pipeline walks (plugin, instance) pairs in order and runs them
// through a process function, applying the stop conditions between pairs.
package pipeline

import (
	"sort"

	"github.com/mattjoyce/vessel/internal/model"
	"github.com/mattjoyce/vessel/internal/protocol"
)

// Source is where the cursor re-reads toggles from on every step.
type Source interface {
	Item(id string) (model.Item, bool)
	Instances() []model.Item
}

// Pair is one unit of work. A nil Instance means the plugin runs against
// the context.
type Pair struct {
	Plugin   model.Item
	Instance *model.Item
}

// InstanceID returns the instance id, or "" for context pairs.
func (p Pair) InstanceID() string {
	if p.Instance == nil {
		return ""
	}
	return p.Instance.ID
}

func (p Pair) String() string {
	if p.Instance == nil {
		return p.Plugin.Name + "/" + protocol.ContextID
	}
	return p.Plugin.Name + "/" + p.Instance.Name
}

// Filter selects items.
type Filter func(model.Item) bool

// Toggled keeps items the user left switched on.
func Toggled(it model.Item) bool { return it.IsToggled }

// Failing keeps items that have errored.
func Failing(it model.Item) bool { return it.HasError }

// Band keeps plugins whose order falls in the band centred on base.
func Band(base float64) Filter {
	return func(it model.Item) bool { return protocol.InBand(it.Order, base) }
}

// Cursor yields pairs ordered by plugin order, then plugin declaration
// order, then instance declaration order. Toggles are read when a plugin
// is reached and again when each of its pairs is handed out.
type Cursor struct {
	src        Source
	plugins    []string
	filters    []Filter
	instFilter []Filter

	next    int
	pending []Pair
}

// NewCursor builds a cursor over plugins. Only plugins accepted by every
// filter yield pairs.
func NewCursor(src Source, plugins []model.Item, filters ...Filter) *Cursor {
	sorted := make([]model.Item, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	ids := make([]string, 0, len(sorted))
	for _, p := range sorted {
		ids = append(ids, p.ID)
	}
	return &Cursor{src: src, plugins: ids, filters: filters}
}

// WithInstanceFilter narrows the instances each plugin is paired with.
func (c *Cursor) WithInstanceFilter(filters ...Filter) *Cursor {
	c.instFilter = append(c.instFilter, filters...)
	return c
}

// Restart rewinds to the first plugin.
func (c *Cursor) Restart() {
	c.next = 0
	c.pending = nil
}

// Next returns the next pair, or false once every plugin is exhausted.
func (c *Cursor) Next() (Pair, bool) {
	for {
		for len(c.pending) > 0 {
			pair := c.pending[0]
			c.pending = c.pending[1:]
			if pair.Instance == nil {
				return pair, true
			}
			inst, ok := c.src.Item(pair.Instance.ID)
			if !ok || !inst.IsToggled || !all(c.instFilter, inst) {
				continue
			}
			pair.Instance = &inst
			return pair, true
		}

		if c.next >= len(c.plugins) {
			return Pair{}, false
		}
		id := c.plugins[c.next]
		c.next++

		p, ok := c.src.Item(id)
		if !ok || !all(c.filters, p) {
			continue
		}
		if p.CanProcessContext {
			c.pending = append(c.pending, Pair{Plugin: p})
		}
		if p.CanProcessInstance {
			for _, inst := range c.src.Instances() {
				if model.Compatible(p, inst) {
					inst := inst
					c.pending = append(c.pending, Pair{Plugin: p, Instance: &inst})
				}
			}
		}
	}
}

func all(filters []Filter, it model.Item) bool {
	for _, f := range filters {
		if !f(it) {
			return false
		}
	}
	return true
}
