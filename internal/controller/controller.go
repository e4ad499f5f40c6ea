// Package controller drives the publish workflow from the presentation
// side. One goroutine (Run) owns the state machine, the model and the
// change set; workers hand every mutation to it through invoke.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/vessel/internal/client"
	"github.com/mattjoyce/vessel/internal/events"
	"github.com/mattjoyce/vessel/internal/log"
	"github.com/mattjoyce/vessel/internal/machine"
	"github.com/mattjoyce/vessel/internal/model"
	"github.com/mattjoyce/vessel/internal/pipeline"
	"github.com/mattjoyce/vessel/internal/protocol"
)

var (
	ErrNotReady     = errors.New("controller is not ready")
	ErrBusy         = errors.New("controller is busy")
	ErrNotRunning   = errors.New("nothing is running")
	ErrCannotToggle = errors.New("item cannot be toggled")
	ErrCannotRepair = errors.New("plugin cannot be repaired")
	ErrUnknownItem  = errors.New("unknown item")
	ErrClosed       = errors.New("controller loop is not running")
)

// Remote is the part of the client the controller calls into.
type Remote interface {
	Stats(ctx context.Context) (client.Stats, error)
	Reset(ctx context.Context) error
	Context(ctx context.Context) (*client.Context, error)
	Discover(ctx context.Context) ([]protocol.Plugin, error)
	Process(ctx context.Context, plugin protocol.Plugin, inst *protocol.Instance) (protocol.Result, error)
	Repair(ctx context.Context, plugin protocol.Plugin, inst *protocol.Instance) (protocol.Result, error)
	Emit(ctx context.Context, signal string, kwargs map[string]any) error
	Update(ctx context.Context, key string, value any, name string) error
	Test(ctx context.Context, vars protocol.TestVars) (string, error)
}

type Options struct {
	// ValidationThreshold is the first order that does not run after a
	// validator failed. Zero means protocol.DefaultValidationThreshold.
	ValidationThreshold float64
	// RemoteTest asks the host whether to halt instead of deciding locally.
	RemoteTest bool
	Events     *events.Hub
	// OnQuit runs when the host sends quit.
	OnQuit func()
}

type op struct {
	fn   func()
	done chan struct{}
}

// Controller sequences reset, publish, validate, repair and save.
type Controller struct {
	remote  Remote
	opts    Options
	machine *machine.Machine
	model   *model.Model
	changes *model.ChangeSet
	hub     *events.Hub
	logger  *slog.Logger

	base   context.Context
	cancel context.CancelFunc
	ops    chan op
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	// Owned by the loop.
	busy    bool
	runner  *pipeline.Runner
	pending string

	errMu   sync.Mutex
	lastErr error
}

func New(remote Remote, opts Options) *Controller {
	if opts.ValidationThreshold == 0 {
		opts.ValidationThreshold = protocol.DefaultValidationThreshold
	}
	base, cancel := context.WithCancel(context.Background())
	c := &Controller{
		remote:  remote,
		opts:    opts,
		machine: machine.New(),
		model:   model.New(opts.Events),
		changes: model.NewChangeSet(),
		hub:     opts.Events,
		logger:  log.WithComponent("controller"),
		base:    base,
		cancel:  cancel,
		ops:     make(chan op),
		quit:    make(chan struct{}),
	}
	c.machine.OnAny(func(en machine.Entered, s machine.State) {
		c.logger.Debug("state entered", "region", en.Region.String(), "state", string(en.Leaf), "config", s.String())
		c.hub.Publish(events.TypeStateEntered, events.StateEntered{Region: en.Region.String(), State: string(en.Leaf)})
	})
	return c
}

// Model exposes the presentation model for reading.
func (c *Controller) Model() *model.Model { return c.model }

// Changes exposes the unsaved edits.
func (c *Controller) Changes() *model.ChangeSet { return c.changes }

// On registers a hook for a state entry. Call before Run.
func (c *Controller) On(r machine.Region, l machine.Leaf, fn machine.Hook) {
	c.machine.On(r, l, fn)
}

// Run applies queued mutations until ctx is done. Workers still in flight
// are cancelled and waited for.
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		c.once.Do(func() { close(c.quit) })
		c.cancel()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-c.ops:
			o.fn()
			close(o.done)
		}
	}
}

// Wait blocks until every worker has returned.
func (c *Controller) Wait() { c.wg.Wait() }

// Err returns the last error a worker hit.
func (c *Controller) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// invoke runs fn on the loop goroutine and waits for it.
func (c *Controller) invoke(fn func()) error {
	o := op{fn: fn, done: make(chan struct{})}
	select {
	case c.ops <- o:
	case <-c.quit:
		return ErrClosed
	}
	select {
	case <-o.done:
		return nil
	case <-c.quit:
		return ErrClosed
	}
}

// State returns the active configuration.
func (c *Controller) State() (machine.State, error) {
	var s machine.State
	err := c.invoke(func() { s = c.machine.State() })
	return s, err
}

func (c *Controller) Show() error {
	return c.invoke(func() { c.machine.Fire(machine.EventShow) })
}

func (c *Controller) Hide() error {
	return c.invoke(func() { c.machine.Fire(machine.EventHide) })
}

// spawn starts a worker. Called on the loop with busy already set.
func (c *Controller) spawn(name string, fn func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(c.base); err != nil {
			c.fail(name, err)
		}
	}()
}

func (c *Controller) fail(name string, err error) {
	err = fmt.Errorf("%s: %w", name, err)
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
	c.logger.Error("worker failed", "worker", name, "error", err)
	if ierr := c.invoke(func() { c.message("error", err.Error()) }); ierr != nil {
		c.logger.Debug("failure not echoed", "worker", name, "error", ierr)
	}
}

// message echoes to the transcript and publishes a controller message.
// It mutates the model, so callers off the loop go through invoke.
func (c *Controller) message(level, text string) {
	c.model.Echo(text)
	c.hub.Publish(events.TypeControllerMessage, map[string]string{"level": level, "message": text})
}

func (c *Controller) logStats(ctx context.Context, phase string) {
	s, err := c.remote.Stats(ctx)
	if err != nil {
		c.logger.Warn("stats unavailable", "phase", phase, "error", err)
		return
	}
	c.logger.Info("request statistics", "phase", phase, "total_requests", s.TotalRequestCount)
}
