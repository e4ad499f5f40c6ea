package engine

import (
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/vessel/internal/protocol"
)

// Instance is one live publishable item.
type Instance struct {
	ID   string
	Name string
	data map[string]any
}

// Context is the live tree plugins operate on. It is safe for concurrent use.
type Context struct {
	mu        sync.RWMutex
	id        string
	data      map[string]any
	instances []*Instance
}

// NewContext creates an empty context with a fresh id.
func NewContext() *Context {
	return &Context{
		id:   uuid.NewString(),
		data: make(map[string]any),
	}
}

// ID returns the context id.
func (c *Context) ID() string { return c.id }

// Add appends a new instance. Instances missing a family get "default".
func (c *Context) Add(name string, data map[string]any) *Instance {
	d := make(map[string]any, len(data)+1)
	maps.Copy(d, data)
	if _, ok := d["family"]; !ok {
		d["family"] = "default"
	}
	inst := &Instance{ID: uuid.NewString(), Name: name, data: d}

	c.mu.Lock()
	c.instances = append(c.instances, inst)
	c.mu.Unlock()
	return inst
}

// Instance looks up an instance by id.
func (c *Context) Instance(id string) (*Instance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, inst := range c.instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return nil, false
}

// InstanceByName looks up an instance by name.
func (c *Context) InstanceByName(name string) (*Instance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, inst := range c.instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return nil, false
}

// Instances returns the instances in creation order.
func (c *Context) Instances() []*Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Instance, len(c.instances))
	copy(out, c.instances)
	return out
}

// Get reads one context data key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Merge shallow-merges patch into the context data.
func (c *Context) Merge(patch map[string]any) {
	c.mu.Lock()
	maps.Copy(c.data, patch)
	c.mu.Unlock()
}

// MergeInstance shallow-merges patch into an instance's data.
func (c *Context) MergeInstance(inst *Instance, patch map[string]any) {
	c.mu.Lock()
	maps.Copy(inst.data, patch)
	c.mu.Unlock()
}

// InstanceData returns a copy of an instance's data.
func (c *Context) InstanceData(inst *Instance) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(inst.data)
}

// InstanceDTO converts an instance to its wire form.
func (c *Context) InstanceDTO(inst *Instance) protocol.Instance {
	return protocol.Instance{
		ID:       inst.ID,
		Name:     inst.Name,
		Data:     c.InstanceData(inst),
		Children: []protocol.Instance{},
	}
}

// DTO converts the whole tree to its wire form.
func (c *Context) DTO() protocol.Context {
	c.mu.RLock()
	data := maps.Clone(c.data)
	insts := make([]*Instance, len(c.instances))
	copy(insts, c.instances)
	c.mu.RUnlock()

	children := make([]protocol.Instance, 0, len(insts))
	for _, inst := range insts {
		children = append(children, c.InstanceDTO(inst))
	}
	return protocol.Context{
		ID:       c.id,
		Name:     protocol.ContextID,
		Data:     data,
		Children: children,
	}
}

func (c *Context) payload() ContextPayload {
	dto := c.DTO()
	return ContextPayload{ID: dto.ID, Data: dto.Data, Instances: dto.Children}
}
