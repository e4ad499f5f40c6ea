package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/user"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/vessel/internal/engine"
	"github.com/mattjoyce/vessel/internal/events"
	"github.com/mattjoyce/vessel/internal/log"
	"github.com/mattjoyce/vessel/internal/metrics"
	"github.com/mattjoyce/vessel/internal/plugin"
	"github.com/mattjoyce/vessel/internal/protocol"
)

var (
	ErrUnknownPlugin   = errors.New("unknown plugin")
	ErrUnknownInstance = errors.New("unknown instance")
	ErrNotReset        = errors.New("service has not been reset")
)

// Engine discovers and runs plugins.
type Engine interface {
	Discover(ctx context.Context) ([]*plugin.Plugin, error)
	Process(ctx context.Context, p *plugin.Plugin, c *engine.Context, inst *engine.Instance) protocol.Result
	Repair(ctx context.Context, p *plugin.Plugin, c *engine.Context, inst *engine.Instance) protocol.Result
}

// Recorder persists processed results.
type Recorder interface {
	Record(ctx context.Context, command string, r protocol.Result) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, command string, r protocol.Result) error

func (f RecorderFunc) Record(ctx context.Context, command string, r protocol.Result) error {
	return f(ctx, command, r)
}

// Options configure a Local service.
type Options struct {
	// Host names the embedding application, reported in the context.
	Host string
	// Port is the port claimed for the session, reported in the context.
	Port    int
	Targets []string
	// ValidationThreshold is the first order blocked by a failed validator.
	ValidationThreshold float64
	// SafeMode validates every outgoing DTO against its schema.
	SafeMode  bool
	Callbacks *Callbacks
	Recorder  Recorder
	Metrics   *metrics.Metrics
	Events    *events.Hub
}

// Local serves requests from an in-process engine.
type Local struct {
	engine Engine
	opts   Options
	logger *slog.Logger

	requests atomic.Int64

	mu      sync.RWMutex
	context *engine.Context
	plugins []*plugin.Plugin
}

// NewLocal creates a Local service. Call Reset before processing.
func NewLocal(e Engine, opts Options) *Local {
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbacks()
	}
	if opts.ValidationThreshold <= 0 {
		opts.ValidationThreshold = protocol.DefaultValidationThreshold
	}
	if len(opts.Targets) == 0 {
		opts.Targets = []string{"default"}
	}
	return &Local{
		engine: e,
		opts:   opts,
		logger: log.WithComponent("service"),
	}
}

// Callbacks returns the registry emit dispatches into.
func (s *Local) Callbacks() *Callbacks { return s.opts.Callbacks }

func (s *Local) Ping(ctx context.Context) (Pong, error) {
	s.requests.Add(1)
	return Pong{Message: "Hello, whomever you are"}, nil
}

func (s *Local) Stats(ctx context.Context) (Stats, error) {
	n := s.requests.Add(1)
	return Stats{TotalRequestCount: n}, nil
}

// Reset discards the context and rediscovers plugins.
func (s *Local) Reset(ctx context.Context) error {
	s.requests.Add(1)
	plugins, err := s.engine.Discover(ctx)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	s.mu.Lock()
	s.context = engine.NewContext()
	s.plugins = plugins
	s.mu.Unlock()

	s.logger.Info("service reset", "plugins", len(plugins))
	return nil
}

// Context stamps session metadata on the context and returns its wire form.
func (s *Local) Context(ctx context.Context) (protocol.Context, error) {
	s.requests.Add(1)
	c, err := s.current()
	if err != nil {
		return protocol.Context{}, err
	}

	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	c.Merge(map[string]any{
		"host":        s.opts.Host,
		"port":        s.opts.Port,
		"user":        username,
		"connectTime": time.Now().UTC().Format(time.RFC3339),
	})

	dto := c.DTO()
	if s.opts.SafeMode {
		for _, inst := range dto.Children {
			if err := protocol.Validate(protocol.SchemaInstance, inst); err != nil {
				return protocol.Context{}, err
			}
		}
	}
	return dto, nil
}

func (s *Local) Discover(ctx context.Context) ([]protocol.Plugin, error) {
	s.requests.Add(1)
	s.mu.RLock()
	plugins := s.plugins
	s.mu.RUnlock()

	out := make([]protocol.Plugin, 0, len(plugins))
	for _, p := range plugins {
		dto := p.DTO()
		if s.opts.SafeMode {
			if err := protocol.Validate(protocol.SchemaPlugin, dto); err != nil {
				return nil, err
			}
		}
		out = append(out, dto)
	}
	return out, nil
}

func (s *Local) Targets(ctx context.Context) ([]string, error) {
	s.requests.Add(1)
	return append([]string(nil), s.opts.Targets...), nil
}

func (s *Local) Process(ctx context.Context, pluginID, instanceID string) (protocol.Result, error) {
	s.requests.Add(1)
	return s.run(ctx, "process", pluginID, instanceID, s.engine.Process)
}

func (s *Local) Repair(ctx context.Context, pluginID, instanceID string) (protocol.Result, error) {
	s.requests.Add(1)
	return s.run(ctx, "repair", pluginID, instanceID, s.engine.Repair)
}

type runFunc func(ctx context.Context, p *plugin.Plugin, c *engine.Context, inst *engine.Instance) protocol.Result

func (s *Local) run(ctx context.Context, command, pluginID, instanceID string, fn runFunc) (protocol.Result, error) {
	c, err := s.current()
	if err != nil {
		return protocol.Result{}, err
	}
	p, err := s.plugin(pluginID)
	if err != nil {
		return protocol.Result{}, err
	}
	var inst *engine.Instance
	if instanceID != "" {
		if inst, err = s.instance(c, instanceID); err != nil {
			return protocol.Result{}, err
		}
	}

	result := fn(ctx, p, c, inst)

	if s.opts.SafeMode {
		if err := protocol.ValidateResult(result); err != nil {
			return protocol.Result{}, err
		}
	}
	s.opts.Metrics.ObserveResult(command, p.Name, result.Success, time.Duration(result.Duration*float64(time.Millisecond)))
	s.opts.Events.Publish(events.TypeResultProcessed, result)
	if s.opts.Recorder != nil {
		if err := s.opts.Recorder.Record(ctx, command, result); err != nil {
			s.logger.Warn("failed to journal result", "plugin", p.Name, "error", err)
		}
	}
	return result, nil
}

// Emit resolves the "instance" and "plugin" ids in kwargs and runs every
// callback registered for signal.
func (s *Local) Emit(ctx context.Context, signal string, kwargs map[string]any) error {
	s.requests.Add(1)
	c, err := s.current()
	if err != nil {
		return err
	}

	args := EmitArgs{Context: c, Values: kwargs}
	if id, ok := kwargs["instance"].(string); ok {
		if args.Instance, err = s.instance(c, id); err != nil {
			return fmt.Errorf("emit %s: %w", signal, err)
		}
	}
	if id, ok := kwargs["plugin"].(string); ok {
		if args.Plugin, err = s.plugin(id); err != nil {
			return fmt.Errorf("emit %s: %w", signal, err)
		}
	}

	s.opts.Events.Publish(events.TypeSignal, map[string]any{"signal": signal, "kwargs": kwargs})

	if errs := s.opts.Callbacks.emit(ctx, signal, args); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return fmt.Errorf("emit %s: %s", signal, strings.Join(msgs, "; "))
	}
	return nil
}

func (s *Local) Update(ctx context.Context, key string, value any, name string) error {
	s.requests.Add(1)
	c, err := s.current()
	if err != nil {
		return err
	}
	if name == protocol.ContextID {
		c.Merge(map[string]any{key: value})
		return nil
	}
	inst, ok := c.InstanceByName(name)
	if !ok {
		return fmt.Errorf("update %s: %w: %s", key, ErrUnknownInstance, name)
	}
	c.MergeInstance(inst, map[string]any{key: value})
	return nil
}

func (s *Local) Test(ctx context.Context, vars protocol.TestVars) (string, error) {
	s.requests.Add(1)
	if protocol.FailedValidation(s.opts.ValidationThreshold, vars) {
		return "failed validation", nil
	}
	return "", nil
}

func (s *Local) current() (*engine.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.context == nil {
		return nil, ErrNotReset
	}
	return s.context, nil
}

func (s *Local) plugin(id string) (*plugin.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plugins {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
}

func (s *Local) instance(c *engine.Context, id string) (*engine.Instance, error) {
	inst, ok := c.Instance(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return inst, nil
}
