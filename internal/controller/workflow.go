package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/vessel/internal/machine"
	"github.com/mattjoyce/vessel/internal/model"
	"github.com/mattjoyce/vessel/internal/pipeline"
	"github.com/mattjoyce/vessel/internal/protocol"
	"github.com/mattjoyce/vessel/internal/service"
)

// Reset rebuilds the model from the host: reset, discover, run the
// collectors and read the context back. Allowed from the initial state
// and from anywhere initialise is accepted.
func (c *Controller) Reset() error {
	var err error
	if ierr := c.invoke(func() {
		if c.busy {
			err = ErrBusy
			return
		}
		s := c.machine.State()
		if s.Operation != machine.Initialising {
			if !machine.Accepts(s, machine.EventInitialise) {
				err = fmt.Errorf("reset from %s: %w", s.Operation, ErrBusy)
				return
			}
			c.machine.Fire(machine.EventInitialise)
		}
		c.busy = true
		c.spawn("reset", c.resetWorker)
	}); ierr != nil {
		return ierr
	}
	return err
}

func (c *Controller) resetWorker(ctx context.Context) (err error) {
	defer func() {
		if ierr := c.invoke(func() {
			c.busy = false
			c.machine.Fire(machine.EventInitialised)
			name := c.pending
			c.pending = ""
			if name != "" && err == nil {
				if name == runValidate {
					_ = c.startRunLocked(name, pipeline.Toggled, pipeline.Band(protocol.ValidatorOrder))
				} else {
					_ = c.startRunLocked(name, pipeline.Toggled)
				}
			}
		}); ierr != nil && err == nil {
			err = ierr
		}
	}()

	c.logStats(ctx, "before reset")
	if err := c.remote.Reset(ctx); err != nil {
		return err
	}
	plugins, err := c.remote.Discover(ctx)
	if err != nil {
		return err
	}
	first, err := c.remote.Context(ctx)
	if err != nil {
		return err
	}

	// Collectors run before the user sees anything, on a scratch model.
	scratch := model.New(nil)
	if err := populate(scratch, first.Context, plugins); err != nil {
		return err
	}
	var collected []protocol.Result
	runner := &pipeline.Runner{
		Cursor: pipeline.NewCursor(scratch, scratch.Plugins(), pipeline.Band(protocol.CollectorOrder)),
		Process: func(ctx context.Context, pair pipeline.Pair) (protocol.Result, error) {
			return c.remote.Process(ctx, *pair.Plugin.Plugin, instanceDTO(pair))
		},
		Test:  pipeline.LocalTest(c.opts.ValidationThreshold),
		After: func(_ pipeline.Pair, r protocol.Result) { collected = append(collected, r) },
	}
	out := runner.Run(ctx)
	if out.Status == pipeline.Errored {
		return out.Err
	}

	final, err := c.remote.Context(ctx)
	if err != nil {
		return err
	}

	var buildErr error
	if err := c.invoke(func() {
		c.model.Reset()
		c.changes.Clear()
		c.model.AddContext(final.Context)
		if buildErr = populate(c.model, final.Context, plugins); buildErr != nil {
			return
		}
		c.model.UpdateCompatibility()
		for _, r := range collected {
			c.model.UpdateWithResult(r)
		}
		c.model.ClearProcessing()
	}); err != nil {
		return err
	}
	if buildErr != nil {
		return buildErr
	}

	c.logStats(ctx, "after reset")
	return nil
}

func populate(m *model.Model, ctx protocol.Context, plugins []protocol.Plugin) error {
	if err := m.Add(model.ContextItem()); err != nil {
		return err
	}
	for _, p := range plugins {
		if err := m.Add(model.PluginItem(p)); err != nil {
			return err
		}
	}
	var walk func([]protocol.Instance) error
	walk = func(insts []protocol.Instance) error {
		for _, inst := range insts {
			if err := m.Add(model.InstanceItem(inst)); err != nil {
				return err
			}
			if err := walk(inst.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(ctx.Children); err != nil {
		return err
	}
	m.UpdateCompatibility()
	return nil
}

func instanceDTO(pair pipeline.Pair) *protocol.Instance {
	if pair.Instance == nil {
		return nil
	}
	return pair.Instance.Instance
}

const (
	runPublish  = "publish"
	runValidate = "validate"
)

// Publish runs every toggled plugin over every toggled compatible instance.
func (c *Controller) Publish() error {
	return c.startRun(runPublish, pipeline.Toggled)
}

// Validate runs only the toggled validators.
func (c *Controller) Validate() error {
	return c.startRun(runValidate, pipeline.Toggled, pipeline.Band(protocol.ValidatorOrder))
}

func (c *Controller) startRun(name string, filters ...pipeline.Filter) error {
	var err error
	if ierr := c.invoke(func() { err = c.startRunLocked(name, filters...) }); ierr != nil {
		return ierr
	}
	return err
}

// startRunLocked runs on the loop.
func (c *Controller) startRunLocked(name string, filters ...pipeline.Filter) error {
	s := c.machine.State()
	if !s.Has(machine.Ready) || c.busy {
		err := fmt.Errorf("%s from %s: %w", name, s.Operation, ErrNotReady)
		c.message("error", err.Error())
		return err
	}
	c.machine.Fire(machine.EventPublish)
	c.model.ResetStatus()

	runner := &pipeline.Runner{
		Cursor: pipeline.NewCursor(c.model, c.model.Plugins(), filters...),
		Process: func(ctx context.Context, pair pipeline.Pair) (protocol.Result, error) {
			return c.remote.Process(ctx, *pair.Plugin.Plugin, instanceDTO(pair))
		},
		Test:   c.test(),
		Before: c.before,
		After:  c.after,
	}
	c.busy = true
	c.runner = runner
	c.spawn(name, func(ctx context.Context) error {
		c.logStats(ctx, "before "+name)
		out := runner.Run(ctx)
		c.logger.Info("run ended", "run", name, "status", out.Status.String(), "passed", out.Passed, "failed", out.Failed)
		c.logStats(ctx, "after "+name)
		return c.finish(out)
	})
	return nil
}

// afterReset queues a publish or validate the host asked for while the
// model was still being built. It reports false when nothing is resetting.
func (c *Controller) afterReset(name string) (bool, error) {
	var queued bool
	err := c.invoke(func() {
		if c.busy && c.machine.State().Operation == machine.Initialising {
			c.pending = name
			queued = true
		}
	})
	return queued, err
}

func (c *Controller) test() pipeline.TestFunc {
	if c.opts.RemoteTest {
		return c.remote.Test
	}
	return pipeline.LocalTest(c.opts.ValidationThreshold)
}

func (c *Controller) before(pair pipeline.Pair) {
	_ = c.invoke(func() { c.model.MarkProcessing(pair.Plugin.ID, pair.InstanceID()) })
}

func (c *Controller) after(_ pipeline.Pair, r protocol.Result) {
	_ = c.invoke(func() {
		c.model.UpdateWithResult(r)
		if r.Error != nil {
			c.machine.Fire(machine.EventPluginFailure)
		}
	})
}

// finish moves a publish or validate run to finished.
func (c *Controller) finish(out pipeline.Outcome) error {
	if err := c.invoke(func() {
		c.busy = false
		c.runner = nil
		c.model.ClearProcessing()
		switch out.Status {
		case pipeline.FailedValidation:
			c.message("warning", out.Reason)
		case pipeline.Stopped:
			c.message("info", "stopped")
		}
		if c.machine.State().Has(machine.Stopping) {
			c.machine.Fire(machine.EventStopped)
		}
		c.machine.Fire(machine.EventFinish)
	}); err != nil {
		return err
	}
	if out.Status == pipeline.Errored {
		return out.Err
	}
	return nil
}

// Stop asks the running publish to halt after the pair in flight.
func (c *Controller) Stop() error {
	var err error
	if ierr := c.invoke(func() {
		if c.runner == nil || !c.machine.State().Has(machine.Publishing) {
			err = ErrNotRunning
			return
		}
		c.runner.Stop()
		c.machine.Fire(machine.EventStop)
	}); ierr != nil {
		return ierr
	}
	return err
}

// Repair runs the plugin's repair over the context (if it handles it) and
// each failing instance it is compatible with.
func (c *Controller) Repair(pluginID string) error {
	var err error
	if ierr := c.invoke(func() {
		s := c.machine.State()
		if c.busy || !machine.Accepts(s, machine.EventRepair) {
			err = fmt.Errorf("repair from %s: %w", s.Operation, ErrNotReady)
			return
		}
		p, ok := c.model.Item(pluginID)
		if !ok || p.ItemType != model.TypePlugin {
			err = fmt.Errorf("repair %s: %w", pluginID, ErrUnknownItem)
			return
		}
		if !p.HasRepair || !p.HasError {
			err = fmt.Errorf("repair %s: %w", p.Name, ErrCannotRepair)
			return
		}
		c.machine.Fire(machine.EventRepair)
		c.model.ClearError(p.ID)

		runner := &pipeline.Runner{
			Cursor: pipeline.NewCursor(c.model, []model.Item{p}).WithInstanceFilter(pipeline.Failing),
			Process: func(ctx context.Context, pair pipeline.Pair) (protocol.Result, error) {
				return c.remote.Repair(ctx, *pair.Plugin.Plugin, instanceDTO(pair))
			},
			Test:   func(context.Context, protocol.TestVars) (string, error) { return "", nil },
			Before: c.before,
			After:  c.after,
		}
		c.busy = true
		c.spawn("repair", func(ctx context.Context) error {
			out := runner.Run(ctx)
			if ierr := c.invoke(func() {
				c.busy = false
				c.model.ClearProcessing()
				c.machine.Fire(machine.EventRepaired)
			}); ierr != nil {
				return ierr
			}
			return out.Err
		})
	}); ierr != nil {
		return ierr
	}
	return err
}

// ToggleInstance switches an instance on or off. Instance toggles are
// tracked until saved.
func (c *Controller) ToggleInstance(id string, on bool) error {
	return c.toggle(id, on, model.TypeInstance)
}

// TogglePlugin switches a plugin on or off for this session.
func (c *Controller) TogglePlugin(id string, on bool) error {
	return c.toggle(id, on, model.TypePlugin)
}

func (c *Controller) toggle(id string, on bool, want model.ItemType) error {
	var err error
	if ierr := c.invoke(func() {
		if c.busy || !c.machine.State().Has(machine.Ready) {
			err = ErrNotReady
			return
		}
		it, ok := c.model.Item(id)
		if !ok || it.ItemType != want {
			err = fmt.Errorf("toggle %s: %w", id, ErrUnknownItem)
			return
		}
		if !it.Optional {
			err = fmt.Errorf("toggle %s: %w", it.Name, ErrCannotToggle)
			return
		}
		if it.IsToggled == on {
			return
		}
		if err = c.model.Update(id, map[string]any{"isToggled": on}); err != nil {
			return
		}
		if want == model.TypeInstance {
			c.changes.Record(it, "isToggled", it.IsToggled, on)
		}
		c.model.UpdateCompatibility()
	}); ierr != nil {
		return ierr
	}
	return err
}

// Save pushes pending instance toggles to the host as instanceToggled
// signals. emit is acknowledged before host callbacks run, so only a failed
// request (a dead channel, a closed client) keeps the changes pending;
// callback failures are logged by the host.
func (c *Controller) Save() error {
	var err error
	if ierr := c.invoke(func() {
		if c.busy || !machine.Accepts(c.machine.State(), machine.EventSave) {
			err = ErrNotReady
			return
		}
		changes := c.changes.Snapshot()
		c.machine.Fire(machine.EventSave)
		c.busy = true
		c.spawn("save", func(ctx context.Context) error {
			var errs []error
			for _, ch := range changes {
				if ch.Field != "isToggled" {
					continue
				}
				if err := c.remote.Emit(ctx, service.SignalInstanceToggled, map[string]any{
					"instance": ch.ItemID,
					"oldValue": ch.Old,
					"newValue": ch.New,
				}); err != nil {
					errs = append(errs, err)
				}
			}
			if ierr := c.invoke(func() {
				c.busy = false
				if len(errs) == 0 {
					c.changes.Clear()
				}
				c.machine.Fire(machine.EventSaved)
			}); ierr != nil {
				return ierr
			}
			return errors.Join(errs...)
		})
	}); ierr != nil {
		return ierr
	}
	return err
}

// Comment stores a free-text comment on the context.
func (c *Controller) Comment(ctx context.Context, text string) error {
	if err := c.remote.Update(ctx, "comment", text, protocol.ContextID); err != nil {
		return fmt.Errorf("comment: %w", err)
	}
	return c.invoke(func() { c.model.Echo("comment: " + text) })
}
