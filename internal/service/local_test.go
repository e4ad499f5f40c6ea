package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/vessel/internal/engine"
	"github.com/mattjoyce/vessel/internal/events"
	"github.com/mattjoyce/vessel/internal/plugin"
	"github.com/mattjoyce/vessel/internal/protocol"
)

type fakeEngine struct {
	plugins  []*plugin.Plugin
	discErr  error
	calls    []string
	collects map[string][]string
	duration float64
}

func (f *fakeEngine) Discover(ctx context.Context) ([]*plugin.Plugin, error) {
	return f.plugins, f.discErr
}

func (f *fakeEngine) Process(ctx context.Context, p *plugin.Plugin, c *engine.Context, inst *engine.Instance) protocol.Result {
	return f.run("process", p, c, inst)
}

func (f *fakeEngine) Repair(ctx context.Context, p *plugin.Plugin, c *engine.Context, inst *engine.Instance) protocol.Result {
	return f.run("repair", p, c, inst)
}

func (f *fakeEngine) run(command string, p *plugin.Plugin, c *engine.Context, inst *engine.Instance) protocol.Result {
	name := "Context"
	r := protocol.Result{Success: true, Plugin: p.DTO(), Records: []protocol.Record{}, Duration: f.duration}
	if inst != nil {
		name = inst.Name
		dto := c.InstanceDTO(inst)
		r.Instance = &dto
	}
	f.calls = append(f.calls, command+":"+p.Name+":"+name)
	for _, n := range f.collects[p.Name] {
		c.Add(n, map[string]any{"family": "model"})
	}
	return r
}

func newLocal(t *testing.T, opts Options) (*Local, *fakeEngine) {
	t.Helper()
	fe := &fakeEngine{
		plugins: []*plugin.Plugin{
			{ID: "collect", Name: "CollectModels", Order: 0, Families: []string{"*"}, Context: true},
			{ID: "validate", Name: "ValidateNaming", Order: 1, Families: []string{"model"}, Instance: true},
		},
		collects: map[string][]string{"CollectModels": {"hero_rig"}},
	}
	s := NewLocal(fe, opts)
	require.NoError(t, s.Reset(context.Background()))
	return s, fe
}

func TestLocalRequiresReset(t *testing.T) {
	t.Parallel()

	s := NewLocal(&fakeEngine{}, Options{})
	_, err := s.Context(context.Background())
	assert.ErrorIs(t, err, ErrNotReset)
	_, err = s.Process(context.Background(), "x", "")
	assert.ErrorIs(t, err, ErrNotReset)
}

func TestLocalResetPropagatesDiscoveryError(t *testing.T) {
	t.Parallel()

	s := NewLocal(&fakeEngine{discErr: errors.New("bad root")}, Options{})
	err := s.Reset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad root")
}

func TestLocalProcessCollectsThenValidates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var (
		mu       sync.Mutex
		recorded []string
	)
	hub := events.NewHub(10)
	s, fe := newLocal(t, Options{
		Host: "shell",
		Port: 9001,
		Recorder: RecorderFunc(func(ctx context.Context, command string, r protocol.Result) error {
			mu.Lock()
			defer mu.Unlock()
			recorded = append(recorded, command+":"+r.Plugin.Name)
			return nil
		}),
		Events: hub,
	})

	r, err := s.Process(ctx, "collect", "")
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Nil(t, r.Instance)

	c, err := s.Context(ctx)
	require.NoError(t, err)
	require.Len(t, c.Children, 1)
	assert.Equal(t, "hero_rig", c.Children[0].Name)
	assert.Equal(t, "shell", c.Data["host"])
	assert.Equal(t, 9001, c.Data["port"])
	assert.Contains(t, c.Data, "connectTime")

	r, err = s.Repair(ctx, "validate", c.Children[0].ID)
	require.NoError(t, err)
	require.NotNil(t, r.Instance)
	assert.Equal(t, "hero_rig", r.Instance.Name)

	assert.Equal(t, []string{"process:CollectModels:Context", "repair:ValidateNaming:hero_rig"}, fe.calls)
	assert.Equal(t, []string{"process:CollectModels", "repair:ValidateNaming"}, recorded)
	assert.Len(t, hub.SnapshotSince(0), 2)
}

func TestLocalProcessUnknownIDs(t *testing.T) {
	t.Parallel()

	s, _ := newLocal(t, Options{})
	_, err := s.Process(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrUnknownPlugin)
	_, err = s.Process(context.Background(), "validate", "nope")
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestLocalStatsCountsRequests(t *testing.T) {
	t.Parallel()

	s, _ := newLocal(t, Options{})
	_, _ = s.Ping(context.Background())
	_, _ = s.Discover(context.Background())
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	// reset + ping + discover + stats
	assert.EqualValues(t, 4, st.TotalRequestCount)
}

func TestLocalUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newLocal(t, Options{})
	_, err := s.Process(ctx, "collect", "")
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, "comment", "ready for review", protocol.ContextID))
	require.NoError(t, s.Update(ctx, "publish", false, "hero_rig"))
	assert.ErrorIs(t, s.Update(ctx, "publish", false, "missing"), ErrUnknownInstance)

	c, err := s.Context(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ready for review", c.Data["comment"])
	assert.Equal(t, false, c.Children[0].Data["publish"])
}

func TestLocalEmitResolvesIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newLocal(t, Options{})
	_, err := s.Process(ctx, "collect", "")
	require.NoError(t, err)
	c, err := s.Context(ctx)
	require.NoError(t, err)
	instID := c.Children[0].ID

	var got EmitArgs
	deregister := s.Callbacks().Register(SignalInstanceToggled, func(ctx context.Context, args EmitArgs) error {
		got = args
		return nil
	})

	err = s.Emit(ctx, SignalInstanceToggled, map[string]any{"instance": instID, "plugin": "validate", "new_value": false})
	require.NoError(t, err)
	require.NotNil(t, got.Instance)
	assert.Equal(t, "hero_rig", got.Instance.Name)
	require.NotNil(t, got.Plugin)
	assert.Equal(t, "ValidateNaming", got.Plugin.Name)
	assert.Equal(t, false, got.Values["new_value"])

	deregister()
	deregister()
	assert.Equal(t, 0, s.Callbacks().Len(SignalInstanceToggled))

	assert.ErrorIs(t, s.Emit(ctx, "any", map[string]any{"instance": "missing"}), ErrUnknownInstance)
}

func TestLocalEmitReportsCallbackErrors(t *testing.T) {
	t.Parallel()

	s, _ := newLocal(t, Options{})
	s.Callbacks().Register("saved", func(ctx context.Context, args EmitArgs) error {
		return errors.New("disk full")
	})
	err := s.Emit(context.Background(), "saved", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestLocalTest(t *testing.T) {
	t.Parallel()

	s, _ := newLocal(t, Options{ValidationThreshold: 2})
	msg, err := s.Test(context.Background(), protocol.TestVars{NextOrder: 2, OrdersWithError: []float64{1}})
	require.NoError(t, err)
	assert.Equal(t, "failed validation", msg)

	msg, err = s.Test(context.Background(), protocol.TestVars{NextOrder: 1, OrdersWithError: []float64{1}})
	require.NoError(t, err)
	assert.Empty(t, msg)
}

func TestLocalSafeMode(t *testing.T) {
	t.Parallel()

	fe := &fakeEngine{plugins: []*plugin.Plugin{{ID: "v", Name: "Validate", Order: 1, Context: true}}}
	s := NewLocal(fe, Options{SafeMode: true})
	require.NoError(t, s.Reset(context.Background()))

	_, err := s.Process(context.Background(), "v", "")
	require.NoError(t, err)

	fe.duration = -1
	_, err = s.Process(context.Background(), "v", "")
	var schemaErr *protocol.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, protocol.SchemaResult, schemaErr.Schema)
}
