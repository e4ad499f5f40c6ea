package model

import (
	"reflect"
	"sort"
	"sync"
)

// Change is one pending field edit on an item. ItemID is carried so the
// edit can be addressed to the host, which resolves instances by id.
type Change struct {
	Item   string `json:"item"`
	ItemID string `json:"itemId"`
	Field  string `json:"field"`
	Old    any    `json:"old"`
	New    any    `json:"new"`
}

// ChangeSet tracks unsaved edits keyed by item name, then field. Changing
// a field back to its original value removes the entry, so an empty set
// means nothing to save.
type ChangeSet struct {
	mu      sync.Mutex
	changes map[string]map[string]Change
}

func NewChangeSet() *ChangeSet {
	return &ChangeSet{changes: make(map[string]map[string]Change)}
}

// Record notes that field on it went from old to new.
func (c *ChangeSet) Record(it Item, field string, old, new any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields, ok := c.changes[it.Name]
	if !ok {
		fields = make(map[string]Change)
		c.changes[it.Name] = fields
	}
	if prev, ok := fields[field]; ok {
		old = prev.Old
	}
	if reflect.DeepEqual(old, new) {
		delete(fields, field)
		if len(fields) == 0 {
			delete(c.changes, it.Name)
		}
		return
	}
	fields[field] = Change{Item: it.Name, ItemID: it.ID, Field: field, Old: old, New: new}
}

// Len returns the number of changed fields.
func (c *ChangeSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, fields := range c.changes {
		n += len(fields)
	}
	return n
}

// Get returns the pending change for one field of the named item.
func (c *ChangeSet) Get(name, field string) (Change, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.changes[name][field]
	return ch, ok
}

// Snapshot returns every change ordered by item name then field.
func (c *ChangeSet) Snapshot() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Change
	for _, fields := range c.changes {
		for _, ch := range fields {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Item != out[j].Item {
			return out[i].Item < out[j].Item
		}
		return out[i].Field < out[j].Field
	})
	return out
}

func (c *ChangeSet) Clear() {
	c.mu.Lock()
	c.changes = make(map[string]map[string]Change)
	c.mu.Unlock()
}
