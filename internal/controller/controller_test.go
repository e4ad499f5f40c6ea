package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/vessel/internal/client"
	"github.com/mattjoyce/vessel/internal/events"
	"github.com/mattjoyce/vessel/internal/machine"
	"github.com/mattjoyce/vessel/internal/protocol"
	"github.com/mattjoyce/vessel/internal/service"
)

type fakeRemote struct {
	mu      sync.Mutex
	plugins []protocol.Plugin
	ctx     protocol.Context
	failing map[string]bool
	calls   []string
	emitted []map[string]any
	emitErr error
	updates []string
	tests   int

	// When set, processing "hold" blocks until release is closed.
	hold    string
	started chan struct{}
	release chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		plugins: []protocol.Plugin{
			{ID: "collect", Name: "CollectRigs", Order: 0, Families: []string{"*"}, ContextEnabled: true},
			{ID: "validate", Name: "ValidateNaming", Order: 1, Families: []string{"model"}, InstanceEnabled: true, Optional: true, HasRepair: true},
			{ID: "extract", Name: "ExtractAlembic", Order: 2, Families: []string{"model"}, InstanceEnabled: true},
		},
		ctx:     protocol.Context{ID: "ctx", Name: "Context", Data: map[string]any{"host": "shell"}},
		failing: map[string]bool{},
	}
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) Stats(context.Context) (client.Stats, error) {
	return client.Stats{TotalRequestCount: 1}, nil
}

func (f *fakeRemote) Reset(context.Context) error {
	f.record("reset")
	f.mu.Lock()
	f.ctx.Children = nil
	f.mu.Unlock()
	return nil
}

func (f *fakeRemote) Context(context.Context) (*client.Context, error) {
	f.record("context")
	f.mu.Lock()
	defer f.mu.Unlock()
	dto := f.ctx
	dto.Children = append([]protocol.Instance(nil), f.ctx.Children...)
	return &client.Context{Context: dto}, nil
}

func (f *fakeRemote) Discover(context.Context) ([]protocol.Plugin, error) {
	f.record("discover")
	return f.plugins, nil
}

func (f *fakeRemote) run(command string, p protocol.Plugin, inst *protocol.Instance) protocol.Result {
	target := protocol.ContextID
	if inst != nil {
		target = inst.Name
	}
	key := p.ID + "/" + target
	f.record(command + " " + key)

	if command == "process" && key == f.hold {
		close(f.started)
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "collect" {
		f.ctx.Children = append(f.ctx.Children, protocol.Instance{
			ID: "i1", Name: "hero_rig", Data: map[string]any{"family": "model"},
		})
	}
	res := protocol.Result{Success: true, Plugin: p, Instance: inst, Duration: 1}
	if command == "process" && f.failing[key] {
		res.Success = false
		res.Error = &protocol.ErrorInfo{Message: key + " failed"}
	}
	return res
}

func (f *fakeRemote) Process(_ context.Context, p protocol.Plugin, inst *protocol.Instance) (protocol.Result, error) {
	return f.run("process", p, inst), nil
}

func (f *fakeRemote) Repair(_ context.Context, p protocol.Plugin, inst *protocol.Instance) (protocol.Result, error) {
	return f.run("repair", p, inst), nil
}

func (f *fakeRemote) Emit(_ context.Context, signal string, kwargs map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, map[string]any{"signal": signal, "kwargs": kwargs})
	return nil
}

func (f *fakeRemote) Update(_ context.Context, key string, value any, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, name+"."+key)
	return nil
}

func (f *fakeRemote) Test(_ context.Context, vars protocol.TestVars) (string, error) {
	f.mu.Lock()
	f.tests++
	f.mu.Unlock()
	if protocol.FailedValidation(protocol.DefaultValidationThreshold, vars) {
		return "failed validation", nil
	}
	return "", nil
}

func startController(t *testing.T, remote Remote, opts Options) *Controller {
	t.Helper()

	c := New(remote, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		c.Wait()
		cancel()
		<-done
	})
	return c
}

func resetAndWait(t *testing.T, c *Controller) {
	t.Helper()
	require.NoError(t, c.Reset())
	c.Wait()
	require.NoError(t, c.Err())
}

func operation(t *testing.T, c *Controller) machine.Leaf {
	t.Helper()
	s, err := c.State()
	require.NoError(t, err)
	return s.Operation
}

func TestResetBuildsModel(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	c := startController(t, remote, Options{})
	resetAndWait(t, c)

	assert.Equal(t, machine.Ready, operation(t, c))
	assert.Equal(t, []string{"reset", "discover", "context", "process collect/Context", "context"}, remote.Calls())

	m := c.Model()
	assert.Len(t, m.Plugins(), 3)
	rig, ok := m.ItemByName("hero_rig")
	require.True(t, ok, "instance added by the collector")
	assert.True(t, rig.IsToggled)

	collect, _ := m.Item("collect")
	assert.True(t, collect.Processed)
	assert.False(t, collect.IsToggled)
	assert.False(t, collect.IsProcessing)

	validate, _ := m.Item("validate")
	assert.Equal(t, []string{"i1"}, validate.CompatibleInstances)

	transcript := m.Transcript()
	require.NotEmpty(t, transcript)
	assert.Equal(t, "context", transcript[0].Type)
}

func TestResetIsRepeatable(t *testing.T) {
	t.Parallel()

	c := startController(t, newFakeRemote(), Options{})
	resetAndWait(t, c)
	resetAndWait(t, c)

	assert.Equal(t, machine.Ready, operation(t, c))
	assert.Len(t, c.Model().Instances(), 1)
}

func TestPublishRejectedWhenNotReady(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	c := startController(t, remote, Options{})

	err := c.Publish()
	require.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, machine.Initialising, operation(t, c))
	assert.Empty(t, remote.Calls())

	transcript := c.Model().Transcript()
	require.Len(t, transcript, 1)
	assert.Contains(t, transcript[0].Message, "not ready")
}

func TestPublishRunsPairsInOrder(t *testing.T) {
	t.Parallel()

	hub := events.NewHub(256)
	remote := newFakeRemote()
	c := startController(t, remote, Options{Events: hub})
	resetAndWait(t, c)

	require.NoError(t, c.Publish())
	c.Wait()

	s, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, machine.Finished, s.Operation)
	assert.Equal(t, machine.Clean, s.Errored)

	calls := remote.Calls()
	assert.Equal(t, []string{"process validate/hero_rig", "process extract/hero_rig"}, calls[len(calls)-2:])

	passed, failed := c.Model().Counters()
	assert.Equal(t, 3, passed, "collector plus two pairs")
	assert.Zero(t, failed)

	var entered []string
	for _, e := range hub.SnapshotSince(0) {
		if e.Type == events.TypeStateEntered {
			entered = append(entered, string(e.Data))
		}
	}
	assert.Contains(t, strings.Join(entered, ","), `"state":"publishing"`)
	assert.Contains(t, strings.Join(entered, ","), `"state":"finished"`)
}

func TestValidationFailureHaltsBeforeExtraction(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	remote.failing["validate/hero_rig"] = true
	c := startController(t, remote, Options{})
	resetAndWait(t, c)

	require.NoError(t, c.Publish())
	c.Wait()

	s, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, machine.Finished, s.Operation)
	assert.Equal(t, machine.Dirty, s.Errored)
	assert.NotContains(t, remote.Calls(), "process extract/hero_rig")

	rig, _ := c.Model().ItemByName("hero_rig")
	assert.True(t, rig.HasError)

	var messages []string
	for _, e := range c.Model().Transcript() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "stopped due to failed validation")
}

func TestRemoteTest(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	remote.failing["validate/hero_rig"] = true
	c := startController(t, remote, Options{RemoteTest: true})
	resetAndWait(t, c)

	require.NoError(t, c.Publish())
	c.Wait()

	assert.NotContains(t, remote.Calls(), "process extract/hero_rig")
	remote.mu.Lock()
	defer remote.mu.Unlock()
	assert.Equal(t, 2, remote.tests)
}

func TestValidateRunsOnlyValidators(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	c := startController(t, remote, Options{})
	resetAndWait(t, c)

	require.NoError(t, c.Validate())
	c.Wait()

	calls := remote.Calls()
	assert.Equal(t, "process validate/hero_rig", calls[len(calls)-1])
	assert.NotContains(t, calls, "process extract/hero_rig")
	assert.Equal(t, machine.Finished, operation(t, c))
}

func TestStopIsCooperative(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	remote.hold = "validate/hero_rig"
	remote.started = make(chan struct{})
	remote.release = make(chan struct{})
	c := startController(t, remote, Options{})
	resetAndWait(t, c)

	require.NoError(t, c.Publish())
	select {
	case <-remote.started:
	case <-time.After(5 * time.Second):
		t.Fatal("publish never reached the held pair")
	}

	require.NoError(t, c.Stop())
	assert.Equal(t, machine.Stopping, operation(t, c))
	close(remote.release)
	c.Wait()

	assert.Equal(t, machine.Finished, operation(t, c))
	assert.NotContains(t, remote.Calls(), "process extract/hero_rig")
	validate, _ := c.Model().Item("validate")
	assert.True(t, validate.Processed, "in-flight pair completed")

	assert.ErrorIs(t, c.Stop(), ErrNotRunning)
}

func TestToggleAndSave(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	c := startController(t, remote, Options{})
	resetAndWait(t, c)

	require.NoError(t, c.ToggleInstance("i1", false))
	assert.Equal(t, 1, c.Changes().Len())
	_, pending := c.Changes().Get("hero_rig", "isToggled")
	assert.True(t, pending, "changes are keyed by item name")
	require.NoError(t, c.ToggleInstance("i1", true))
	assert.Zero(t, c.Changes().Len(), "toggling back collapses the change")

	require.NoError(t, c.ToggleInstance("i1", false))
	validate, _ := c.Model().Item("validate")
	assert.False(t, validate.HasCompatible)

	assert.ErrorIs(t, c.TogglePlugin("extract", false), ErrCannotToggle)
	assert.ErrorIs(t, c.TogglePlugin("missing", false), ErrUnknownItem)
	require.NoError(t, c.TogglePlugin("validate", false))
	assert.Equal(t, 1, c.Changes().Len(), "plugin toggles are not saved")

	require.NoError(t, c.Save())
	c.Wait()
	require.NoError(t, c.Err())

	assert.Equal(t, machine.Ready, operation(t, c))
	assert.Zero(t, c.Changes().Len())

	remote.mu.Lock()
	defer remote.mu.Unlock()
	require.Len(t, remote.emitted, 1)
	assert.Equal(t, service.SignalInstanceToggled, remote.emitted[0]["signal"])
	kwargs := remote.emitted[0]["kwargs"].(map[string]any)
	assert.Equal(t, "i1", kwargs["instance"])
	assert.Equal(t, false, kwargs["newValue"])
	assert.Equal(t, true, kwargs["oldValue"])
}

func TestSaveKeepsChangesWhenEmitFails(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	remote.emitErr = errors.New("channel closed")
	c := startController(t, remote, Options{})
	resetAndWait(t, c)

	require.NoError(t, c.ToggleInstance("i1", false))
	require.NoError(t, c.Save())
	c.Wait()

	require.ErrorContains(t, c.Err(), "channel closed")
	assert.Equal(t, machine.Ready, operation(t, c))
	assert.Equal(t, 1, c.Changes().Len(), "unsent toggles stay pending")
}

func TestToggleRejectedWhileBusy(t *testing.T) {
	t.Parallel()

	c := startController(t, newFakeRemote(), Options{})
	assert.ErrorIs(t, c.ToggleInstance("i1", false), ErrNotReady)
}

func TestRepairAfterFailure(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	remote.failing["validate/hero_rig"] = true
	c := startController(t, remote, Options{})
	resetAndWait(t, c)

	assert.ErrorIs(t, c.Repair("validate"), ErrCannotRepair, "nothing has failed yet")
	require.NoError(t, c.Publish())
	c.Wait()

	assert.ErrorIs(t, c.Repair("extract"), ErrCannotRepair)
	assert.ErrorIs(t, c.Repair("missing"), ErrUnknownItem)

	p, ok := c.Model().Item("validate")
	require.True(t, ok)
	require.True(t, p.HasError)

	require.NoError(t, c.Repair("validate"))
	c.Wait()
	require.NoError(t, c.Err())

	assert.Equal(t, machine.Ready, operation(t, c))
	assert.Contains(t, remote.Calls(), "repair validate/hero_rig")

	p, _ = c.Model().Item("validate")
	assert.False(t, p.HasError, "successful repair clears the plugin")
	assert.Empty(t, p.Errors)
	assert.ErrorIs(t, c.Repair("validate"), ErrCannotRepair, "nothing left to repair")

	repairs := 0
	for _, call := range remote.Calls() {
		if call == "repair validate/hero_rig" {
			repairs++
		}
	}
	assert.Equal(t, 1, repairs)
}

func TestPopupWaitsForLoop(t *testing.T) {
	t.Parallel()

	c := startController(t, newFakeRemote(), Options{})
	r := client.NewRouter()
	require.NoError(t, c.Bind(r))

	parked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = c.invoke(func() {
			close(parked)
			<-release
		})
	}()
	<-parked

	before := len(c.Model().Transcript())
	popup, err := protocol.NewCall("popup", "hello")
	require.NoError(t, err)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		r.Dispatch(popup)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.Model().Transcript(), before, "model untouched while the loop is busy")

	close(release)
	<-dispatched
	transcript := c.Model().Transcript()
	require.Len(t, transcript, before+1)
	assert.Equal(t, "hello", transcript[before].Message)
}

func TestComment(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	c := startController(t, remote, Options{})
	require.NoError(t, c.Comment(context.Background(), "looks good"))

	remote.mu.Lock()
	assert.Equal(t, []string{"Context.comment"}, remote.updates)
	remote.mu.Unlock()
	assert.Equal(t, "comment: looks good", c.Model().Transcript()[0].Message)
}

func TestBindServesParentCommands(t *testing.T) {
	t.Parallel()

	var quit bool
	c := startController(t, newFakeRemote(), Options{OnQuit: func() { quit = true }})
	r := client.NewRouter()
	require.NoError(t, c.Bind(r))

	show, err := protocol.NewCall("show", map[string]any{"title": "vessel"})
	require.NoError(t, err)
	r.Dispatch(show)
	c.Wait()

	s, err := c.State()
	require.NoError(t, err)
	assert.Equal(t, machine.Visible, s.Visibility)
	assert.Equal(t, machine.Ready, s.Operation)

	publish, _ := protocol.NewCall("publish")
	r.Dispatch(publish)
	c.Wait()
	assert.Equal(t, machine.Finished, operation(t, c))

	hide, _ := protocol.NewCall("hide")
	r.Dispatch(hide)
	s, _ = c.State()
	assert.Equal(t, machine.Hidden, s.Visibility)

	quitCall, _ := protocol.NewCall("quit")
	r.Dispatch(quitCall)
	assert.True(t, quit)

	require.Error(t, c.Bind(r), "commands bind once")
}

func TestClosedLoop(t *testing.T) {
	t.Parallel()

	c := New(newFakeRemote(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx))

	assert.True(t, errors.Is(c.Publish(), ErrClosed))
}

func TestPublishQueuedBehindReset(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	remote.hold = "collect/Context"
	remote.started = make(chan struct{})
	remote.release = make(chan struct{})
	c := startController(t, remote, Options{})
	r := client.NewRouter()
	require.NoError(t, c.Bind(r))

	require.NoError(t, c.Reset())
	select {
	case <-remote.started:
	case <-time.After(5 * time.Second):
		t.Fatal("reset never reached the collector")
	}

	publish, _ := protocol.NewCall("publish")
	r.Dispatch(publish)
	assert.Equal(t, machine.Initialising, operation(t, c))

	close(remote.release)
	c.Wait()

	assert.Equal(t, machine.Finished, operation(t, c))
	assert.Contains(t, remote.Calls(), "process extract/hero_rig")
}
