package service

import (
	"context"
	"sync"

	"github.com/mattjoyce/vessel/internal/engine"
	"github.com/mattjoyce/vessel/internal/plugin"
)

// Signal raised by the presentation process when the user toggles an
// instance.
const SignalInstanceToggled = "instanceToggled"

// EmitArgs are the resolved keyword arguments of an emit call.
// Instance and Plugin are set when the caller passed their ids.
type EmitArgs struct {
	Context  *engine.Context
	Instance *engine.Instance
	Plugin   *plugin.Plugin
	Values   map[string]any
}

// Callback handles one emitted signal.
type Callback func(ctx context.Context, args EmitArgs) error

// Callbacks is the host callback registry emit dispatches into.
type Callbacks struct {
	mu     sync.RWMutex
	nextID int
	bySig  map[string]map[int]Callback
}

// NewCallbacks creates an empty registry.
func NewCallbacks() *Callbacks {
	return &Callbacks{bySig: make(map[string]map[int]Callback)}
}

// Register adds fn for signal and returns a function that removes it.
func (c *Callbacks) Register(signal string, fn Callback) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	if c.bySig[signal] == nil {
		c.bySig[signal] = make(map[int]Callback)
	}
	c.bySig[signal][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.bySig[signal], id)
			c.mu.Unlock()
		})
	}
}

// Clear removes every callback.
func (c *Callbacks) Clear() {
	c.mu.Lock()
	c.bySig = make(map[string]map[int]Callback)
	c.mu.Unlock()
}

// Len returns the number of callbacks registered for signal.
func (c *Callbacks) Len(signal string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bySig[signal])
}

func (c *Callbacks) emit(ctx context.Context, signal string, args EmitArgs) []error {
	c.mu.RLock()
	fns := make([]Callback, 0, len(c.bySig[signal]))
	for _, fn := range c.bySig[signal] {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(ctx, args); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
