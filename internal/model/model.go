// Package model holds the presentation state the controller drives: one
// item per plugin, instance and the context, plus a running transcript.
package model

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/mattjoyce/vessel/internal/events"
	"github.com/mattjoyce/vessel/internal/protocol"
)

// Model is written by the orchestration goroutine only; reads are safe
// from anywhere.
type Model struct {
	hub *events.Hub

	mu         sync.RWMutex
	items      []*Item
	byID       map[string]*Item
	transcript []Entry
	lastPlugin string
	passed     int
	failed     int
}

// New creates an empty model. hub may be nil.
func New(hub *events.Hub) *Model {
	return &Model{hub: hub, byID: make(map[string]*Item)}
}

// Reset drops every item, the transcript and the counters.
func (m *Model) Reset() {
	m.mu.Lock()
	m.items = nil
	m.byID = make(map[string]*Item)
	m.transcript = nil
	m.lastPlugin = ""
	m.passed, m.failed = 0, 0
	m.mu.Unlock()
	m.hub.Publish(events.TypeModelReset, nil)
}

// Add appends an item. Ids are unique.
func (m *Model) Add(item Item) error {
	m.mu.Lock()
	if _, exists := m.byID[item.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("add %s: duplicate item id %q", item.Name, item.ID)
	}
	it := item
	m.items = append(m.items, &it)
	m.byID[it.ID] = &it
	m.mu.Unlock()

	m.hub.Publish(events.TypeItemAdded, item)
	return nil
}

// Item returns a copy of one item.
func (m *Model) Item(id string) (Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.byID[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// ItemByName returns a copy of the first item called name.
func (m *Model) ItemByName(name string) (Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, it := range m.items {
		if it.Name == name {
			return *it, true
		}
	}
	return Item{}, false
}

// Plugins returns plugin items in insertion order.
func (m *Model) Plugins() []Item { return m.ofType(TypePlugin) }

// Instances returns instance items in insertion order.
func (m *Model) Instances() []Item { return m.ofType(TypeInstance) }

// Items returns every item in insertion order.
func (m *Model) Items() []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, *it)
	}
	return out
}

func (m *Model) ofType(t ItemType) []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Item
	for _, it := range m.items {
		if it.ItemType == t {
			out = append(out, *it)
		}
	}
	return out
}

// Update patches item fields by their JSON names, e.g. {"isToggled": false}.
// Unknown keys are rejected and nothing is written.
func (m *Model) Update(id string, patch map[string]any) error {
	m.mu.Lock()
	it, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("update: unknown item %q", id)
	}
	next := *it
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      &next,
	})
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("update %s: %w", it.Name, err)
	}
	if err := dec.Decode(patch); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("update %s: %w", it.Name, err)
	}
	*it = next
	m.mu.Unlock()

	m.hub.Publish(events.TypeItemUpdated, map[string]any{"id": id, "fields": patch})
	return nil
}

// ClearProcessing drops the processing flag from every item.
func (m *Model) ClearProcessing() {
	m.mu.Lock()
	for _, it := range m.items {
		it.IsProcessing = false
	}
	m.mu.Unlock()
}

// ResetStatus clears processing flags and progress.
func (m *Model) ResetStatus() {
	m.mu.Lock()
	for _, it := range m.items {
		it.IsProcessing = false
		it.CurrentProgress = 0
	}
	m.mu.Unlock()
}

// MarkProcessing flags the pair about to run. instanceID is empty for
// context-level pairs.
func (m *Model) MarkProcessing(pluginID, instanceID string) {
	m.mu.Lock()
	for _, it := range m.items {
		it.IsProcessing = false
	}
	for _, id := range []string{pluginID, pairInstanceID(instanceID)} {
		if it, ok := m.byID[id]; ok {
			it.IsProcessing = true
		}
	}
	m.mu.Unlock()
	m.hub.Publish(events.TypeItemUpdated, map[string]any{"id": pluginID, "instance": instanceID, "fields": map[string]any{"isProcessing": true}})
}

// ClearError drops the error flag and messages of one item. A repair clears
// its plugin before running; a failed repair sets them again.
func (m *Model) ClearError(id string) {
	m.mu.Lock()
	it, ok := m.byID[id]
	if ok {
		it.HasError = false
		it.Errors = nil
	}
	m.mu.Unlock()
	if ok {
		m.hub.Publish(events.TypeItemUpdated, map[string]any{"id": id, "fields": map[string]any{"hasError": false}})
	}
}

// UpdateWithResult applies one processed pair to the plugin item, the
// instance (or context) item, the counters and the transcript.
func (m *Model) UpdateWithResult(r protocol.Result) {
	instanceID := ""
	if r.Instance != nil {
		instanceID = r.Instance.ID
	}

	m.mu.Lock()
	for _, it := range m.items {
		it.IsProcessing = false
	}
	for _, id := range []string{r.Plugin.ID, pairInstanceID(instanceID)} {
		it, ok := m.byID[id]
		if !ok {
			continue
		}
		it.IsProcessing = true
		it.CurrentProgress = 1
		it.Processed = true
		it.Duration += r.Duration
		it.Records = append(it.Records, r.Records...)
		if r.Error != nil {
			it.HasError = true
			it.Errors = append(it.Errors, *r.Error)
		} else {
			it.Succeeded = true
		}
	}
	if r.Error != nil {
		m.failed++
	} else {
		m.passed++
	}
	m.appendResultLocked(r)
	m.mu.Unlock()

	m.hub.Publish(events.TypeItemUpdated, map[string]any{"id": r.Plugin.ID, "instance": instanceID, "success": r.Error == nil})
}

// UpdateCompatibility relinks plugins and instances by family and
// recomputes which plugins have anything left to process.
func (m *Model) UpdateCompatibility() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ItemType == TypeInstance {
			it.CompatiblePlugins = nil
		}
	}
	for _, p := range m.items {
		if p.ItemType != TypePlugin {
			continue
		}
		p.CompatibleInstances = nil
		p.HasCompatible = false
		for _, it := range m.items {
			if it.ItemType != TypeInstance || !Compatible(*p, *it) {
				continue
			}
			p.CompatibleInstances = append(p.CompatibleInstances, it.ID)
			it.CompatiblePlugins = append(it.CompatiblePlugins, p.ID)
			if it.IsToggled && p.CanProcessInstance {
				p.HasCompatible = true
			}
		}
		if p.CanProcessContext {
			p.HasCompatible = true
		}
	}
}

// Counters returns how many pairs passed and failed since the last reset.
func (m *Model) Counters() (passed, failed int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.passed, m.failed
}

// HasFailedValidator reports whether a validator-band plugin has an error.
func (m *Model) HasFailedValidator() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, it := range m.items {
		if it.ItemType == TypePlugin && it.HasError && protocol.InBand(it.Order, protocol.ValidatorOrder) {
			return true
		}
	}
	return false
}

func pairInstanceID(instanceID string) string {
	if instanceID == "" {
		return protocol.ContextID
	}
	return instanceID
}

// Entry is one line of the transcript.
type Entry struct {
	Type     string              `json:"type"`
	Message  string              `json:"message"`
	Plugin   string              `json:"plugin,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Duration float64             `json:"duration,omitempty"`
	Record   *protocol.Record    `json:"record,omitempty"`
	Error    *protocol.ErrorInfo `json:"error,omitempty"`
	At       time.Time           `json:"at"`
}

// Echo appends a message to the transcript.
func (m *Model) Echo(message string) {
	m.mu.Lock()
	e := m.appendLocked(Entry{Type: "message", Message: message})
	m.mu.Unlock()
	m.hub.Publish(events.TypeTranscriptAppend, e)
}

// AddContext records the context metadata as the first transcript entry.
func (m *Model) AddContext(c protocol.Context) {
	msg := protocol.ContextID
	if host, ok := c.Data["host"].(string); ok && host != "" {
		msg = fmt.Sprintf("%s on %s", protocol.ContextID, host)
	}
	m.mu.Lock()
	e := m.appendLocked(Entry{Type: "context", Message: msg})
	m.mu.Unlock()
	m.hub.Publish(events.TypeTranscriptAppend, e)
}

// Transcript returns a copy of the transcript.
func (m *Model) Transcript() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.transcript)
}

func (m *Model) appendLocked(e Entry) Entry {
	e.At = time.Now().UTC()
	m.transcript = append(m.transcript, e)
	return e
}

func (m *Model) appendResultLocked(r protocol.Result) {
	instance := protocol.ContextID
	if r.Instance != nil {
		instance = r.Instance.Name
	}
	if m.lastPlugin != r.Plugin.ID {
		m.lastPlugin = r.Plugin.ID
		m.appendLocked(Entry{Type: "plugin", Message: r.Plugin.Name, Plugin: r.Plugin.Name, Instance: instance})
	}
	m.appendLocked(Entry{Type: "instance", Message: instance, Plugin: r.Plugin.Name, Instance: instance, Duration: r.Duration})
	for i := range r.Records {
		rec := r.Records[i]
		m.appendLocked(Entry{Type: "record", Message: rec.Message, Plugin: r.Plugin.Name, Instance: instance, Record: &rec})
	}
	if r.Error != nil {
		info := *r.Error
		m.appendLocked(Entry{Type: "error", Message: info.Message, Plugin: r.Plugin.Name, Instance: instance, Error: &info})
	}
}
