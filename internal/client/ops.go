package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/vessel/internal/protocol"
)

// Stats mirrors the host's request counters.
type Stats struct {
	TotalRequestCount int64 `json:"totalRequestCount"`
}

// Context is the hydrated context tree.
type Context struct {
	protocol.Context
	byID map[string]protocol.Instance
}

func newContext(dto protocol.Context) *Context {
	c := &Context{Context: dto, byID: make(map[string]protocol.Instance)}
	var index func([]protocol.Instance)
	index = func(insts []protocol.Instance) {
		for _, inst := range insts {
			c.byID[inst.ID] = inst
			index(inst.Children)
		}
	}
	index(dto.Children)
	return c
}

// Instances returns every instance in the tree, depth first.
func (c *Context) Instances() []protocol.Instance {
	var out []protocol.Instance
	var walk func([]protocol.Instance)
	walk = func(insts []protocol.Instance) {
		for _, inst := range insts {
			out = append(out, inst)
			walk(inst.Children)
		}
	}
	walk(c.Children)
	return out
}

// Instance looks up an instance by id.
func (c *Context) Instance(id string) (protocol.Instance, bool) {
	inst, ok := c.byID[id]
	return inst, ok
}

func (c *Client) decode(ctx context.Context, dst any, name string, args ...any) error {
	payload, err := c.Call(ctx, name, args...)
	if err != nil {
		return err
	}
	if dst == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("decode %s response: %w", name, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) (string, error) {
	var pong struct {
		Message string `json:"message"`
	}
	err := c.decode(ctx, &pong, "ping")
	return pong.Message, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.decode(ctx, &s, "stats")
	return s, err
}

func (c *Client) Reset(ctx context.Context) error {
	return c.decode(ctx, nil, "reset")
}

// Context fetches and hydrates the context tree.
func (c *Client) Context(ctx context.Context) (*Context, error) {
	var dto protocol.Context
	if err := c.decode(ctx, &dto, "context"); err != nil {
		return nil, err
	}
	return newContext(dto), nil
}

func (c *Client) Discover(ctx context.Context) ([]protocol.Plugin, error) {
	var plugins []protocol.Plugin
	err := c.decode(ctx, &plugins, "discover")
	return plugins, err
}

func (c *Client) Targets(ctx context.Context) ([]string, error) {
	var targets []string
	err := c.decode(ctx, &targets, "targets")
	return targets, err
}

// Process runs plugin against inst, or against the context when inst is nil.
func (c *Client) Process(ctx context.Context, plugin protocol.Plugin, inst *protocol.Instance) (protocol.Result, error) {
	var r protocol.Result
	err := c.decode(ctx, &r, "process", plugin, inst)
	return r, err
}

func (c *Client) Repair(ctx context.Context, plugin protocol.Plugin, inst *protocol.Instance) (protocol.Result, error) {
	var r protocol.Result
	err := c.decode(ctx, &r, "repair", plugin, inst)
	return r, err
}

// Emit raises signal on the host. The host acknowledges before running it.
func (c *Client) Emit(ctx context.Context, signal string, kwargs map[string]any) error {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return c.decode(ctx, nil, "emit", signal, kwargs)
}

func (c *Client) Update(ctx context.Context, key string, value any, name string) error {
	return c.decode(ctx, nil, "update", key, value, name)
}

// Test asks the host whether the next plugin may run. A non-empty reason
// means it may not.
func (c *Client) Test(ctx context.Context, vars protocol.TestVars) (string, error) {
	var reason *string
	if err := c.decode(ctx, &reason, "test", vars); err != nil {
		return "", err
	}
	if reason == nil {
		return "", nil
	}
	return *reason, nil
}

func (c *Client) Attach(ctx context.Context) error {
	return c.decode(ctx, nil, "attach")
}

func (c *Client) Detach(ctx context.Context) error {
	return c.decode(ctx, nil, "detach")
}

func (c *Client) Popup(ctx context.Context, alert string) error {
	return c.decode(ctx, nil, "popup", alert)
}
