package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/vessel/internal/model"
	"github.com/mattjoyce/vessel/internal/protocol"
)

type fixture struct {
	m       *model.Model
	plugins []model.Item
}

func newFixture(t *testing.T, plugins []protocol.Plugin, instances []protocol.Instance) fixture {
	t.Helper()

	m := model.New(nil)
	require.NoError(t, m.Add(model.ContextItem()))
	for _, p := range plugins {
		require.NoError(t, m.Add(model.PluginItem(p)))
	}
	for _, inst := range instances {
		require.NoError(t, m.Add(model.InstanceItem(inst)))
	}
	m.UpdateCompatibility()
	return fixture{m: m, plugins: m.Plugins()}
}

func names(pairs []Pair) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.String())
	}
	return out
}

func drain(c *Cursor) []Pair {
	var out []Pair
	for {
		p, ok := c.Next()
		if !ok {
			return out
		}
		out = append(out, p)
	}
}

func instancePlugin(id string, order float64, families ...string) protocol.Plugin {
	return protocol.Plugin{ID: id, Name: id, Order: order, Families: families, InstanceEnabled: true}
}

func contextPlugin(id string, order float64) protocol.Plugin {
	return protocol.Plugin{ID: id, Name: id, Order: order, Families: []string{"*"}, ContextEnabled: true}
}

func inst(id, family string) protocol.Instance {
	return protocol.Instance{ID: id, Name: id, Data: map[string]any{"family": family}}
}

func TestCursorOrdering(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		[]protocol.Plugin{
			instancePlugin("extract", 2, "model"),
			instancePlugin("validateA", 1, "model", "camera"),
			contextPlugin("validateCtx", 1),
			instancePlugin("validateB", 1, "camera"),
		},
		[]protocol.Instance{inst("rig", "model"), inst("cam", "camera")},
	)

	got := names(drain(NewCursor(f.m, f.plugins, Toggled)))
	assert.Equal(t, []string{
		"validateA/rig", "validateA/cam",
		"validateCtx/Context",
		"validateB/cam",
		"extract/rig",
	}, got)
}

func TestCursorReadsTogglesLazily(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		[]protocol.Plugin{instancePlugin("validate", 1, "model"), instancePlugin("extract", 2, "model")},
		[]protocol.Instance{inst("a", "model"), inst("b", "model")},
	)
	c := NewCursor(f.m, f.plugins, Toggled)

	first, ok := c.Next()
	require.True(t, ok)
	assert.Equal(t, "validate/a", first.String())

	require.NoError(t, f.m.Update("b", map[string]any{"isToggled": false}))
	require.NoError(t, f.m.Update("extract", map[string]any{"isToggled": false}))

	assert.Empty(t, drain(c))

	c.Restart()
	assert.Equal(t, []string{"validate/a"}, names(drain(c)))
}

func TestCursorInstanceFilter(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		[]protocol.Plugin{{ID: "fix", Name: "fix", Order: 1, Families: []string{"model"}, InstanceEnabled: true, ContextEnabled: true, HasRepair: true}},
		[]protocol.Instance{inst("a", "model"), inst("b", "model")},
	)
	require.NoError(t, f.m.Update("b", map[string]any{"hasError": true}))

	c := NewCursor(f.m, f.plugins).WithInstanceFilter(Failing)
	assert.Equal(t, []string{"fix/Context", "fix/b"}, names(drain(c)))
}

func TestRunnerFinishes(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		[]protocol.Plugin{instancePlugin("validate", 1, "model"), instancePlugin("integrate", 3, "model")},
		[]protocol.Instance{inst("a", "model")},
	)

	var before, after []string
	r := &Runner{
		Cursor: NewCursor(f.m, f.plugins, Toggled),
		Process: func(_ context.Context, p Pair) (protocol.Result, error) {
			return protocol.Result{Success: true, Plugin: *p.Plugin.Plugin}, nil
		},
		Before: func(p Pair) { before = append(before, p.String()) },
		After:  func(p Pair, _ protocol.Result) { after = append(after, p.String()) },
	}

	out := r.Run(context.Background())
	assert.Equal(t, Finished, out.Status)
	assert.Equal(t, 2, out.Passed)
	assert.Equal(t, []string{"validate/a", "integrate/a"}, before)
	assert.Equal(t, before, after)
}

func TestRunnerHaltsOnValidationBoundary(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		[]protocol.Plugin{
			instancePlugin("validate", 1, "model"),
			instancePlugin("validateLate", 1.4, "model"),
			instancePlugin("extract", 2, "model"),
			instancePlugin("integrate", 3, "model"),
		},
		[]protocol.Instance{inst("a", "model")},
	)

	var ran []string
	r := &Runner{
		Cursor: NewCursor(f.m, f.plugins, Toggled),
		Process: func(_ context.Context, p Pair) (protocol.Result, error) {
			ran = append(ran, p.String())
			res := protocol.Result{Plugin: *p.Plugin.Plugin}
			if p.Plugin.ID == "validate" {
				res.Error = &protocol.ErrorInfo{Message: "bad"}
			}
			return res, nil
		},
	}

	out := r.Run(context.Background())
	assert.Equal(t, FailedValidation, out.Status)
	assert.Equal(t, "stopped due to failed validation", out.Reason)
	assert.Equal(t, []string{"validate/a", "validateLate/a"}, ran, "validators below the threshold still run")
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 1, out.Passed)
}

func TestRunnerIgnoresFailuresOnUntoggledInstances(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		[]protocol.Plugin{instancePlugin("validate", 1, "model"), instancePlugin("extract", 2, "model")},
		[]protocol.Instance{inst("a", "model"), inst("b", "model")},
	)

	var ran []string
	r := &Runner{Cursor: NewCursor(f.m, f.plugins, Toggled)}
	r.Process = func(_ context.Context, p Pair) (protocol.Result, error) {
		ran = append(ran, p.String())
		res := protocol.Result{Plugin: *p.Plugin.Plugin}
		if p.String() == "validate/b" {
			res.Error = &protocol.ErrorInfo{Message: "bad"}
		}
		return res, nil
	}
	r.After = func(p Pair, res protocol.Result) {
		if res.Error != nil {
			require.NoError(t, f.m.Update(p.InstanceID(), map[string]any{"isToggled": false}))
		}
	}

	out := r.Run(context.Background())
	assert.Equal(t, Finished, out.Status)
	assert.Equal(t, []string{"validate/a", "validate/b", "extract/a"}, ran)
}

func TestRunnerContextFailureHalts(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		[]protocol.Plugin{contextPlugin("validateScene", 1), contextPlugin("integrate", 3)},
		nil,
	)
	r := &Runner{
		Cursor: NewCursor(f.m, f.plugins, Toggled),
		Process: func(_ context.Context, p Pair) (protocol.Result, error) {
			return protocol.Result{Plugin: *p.Plugin.Plugin, Error: &protocol.ErrorInfo{Message: "scene unsaved"}}, nil
		},
	}
	assert.Equal(t, FailedValidation, r.Run(context.Background()).Status)
}

func TestRunnerCollectorFailureDoesNotHalt(t *testing.T) {
	t.Parallel()

	collector := contextPlugin("collect", 0)
	f := newFixture(t, []protocol.Plugin{collector, contextPlugin("integrate", 3)}, nil)
	require.NoError(t, f.m.Update("collect", map[string]any{"isToggled": true}))

	r := &Runner{
		Cursor: NewCursor(f.m, f.plugins, Toggled),
		Process: func(_ context.Context, p Pair) (protocol.Result, error) {
			res := protocol.Result{Plugin: *p.Plugin.Plugin}
			if p.Plugin.ID == "collect" {
				res.Error = &protocol.ErrorInfo{Message: "nothing found"}
			}
			return res, nil
		},
	}
	out := r.Run(context.Background())
	assert.Equal(t, Finished, out.Status)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 1, out.Passed)
}

func TestRunnerCooperativeStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		[]protocol.Plugin{instancePlugin("validate", 1, "model"), instancePlugin("extract", 2, "model")},
		[]protocol.Instance{inst("a", "model"), inst("b", "model")},
	)

	var ran []string
	r := &Runner{Cursor: NewCursor(f.m, f.plugins, Toggled)}
	r.Process = func(_ context.Context, p Pair) (protocol.Result, error) {
		ran = append(ran, p.String())
		if len(ran) == 2 {
			r.Stop()
		}
		return protocol.Result{Success: true, Plugin: *p.Plugin.Plugin}, nil
	}

	out := r.Run(context.Background())
	assert.Equal(t, Stopped, out.Status)
	assert.Equal(t, []string{"validate/a", "validate/b"}, ran, "in-flight pair completes")
	assert.True(t, r.Stopping())
}

func TestRunnerProcessErrorEnds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []protocol.Plugin{contextPlugin("validate", 1)}, nil)
	boom := errors.New("stream closed")
	r := &Runner{
		Cursor: NewCursor(f.m, f.plugins, Toggled),
		Process: func(context.Context, Pair) (protocol.Result, error) {
			return protocol.Result{}, boom
		},
	}

	out := r.Run(context.Background())
	assert.Equal(t, Errored, out.Status)
	assert.ErrorIs(t, out.Err, boom)
}

func TestRunnerUsesRemoteTest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []protocol.Plugin{contextPlugin("integrate", 3)}, nil)

	var seen []protocol.TestVars
	r := &Runner{
		Cursor: NewCursor(f.m, f.plugins, Toggled),
		Test: func(_ context.Context, vars protocol.TestVars) (string, error) {
			seen = append(seen, vars)
			return "host refused", nil
		},
		Process: func(context.Context, Pair) (protocol.Result, error) {
			t.Fatal("process must not run")
			return protocol.Result{}, nil
		},
	}

	out := r.Run(context.Background())
	assert.Equal(t, FailedValidation, out.Status)
	assert.Equal(t, "stopped due to host refused", out.Reason)
	require.Len(t, seen, 1)
	assert.Equal(t, 3.0, seen[0].NextOrder)
	assert.NotNil(t, seen[0].OrdersWithError)
}

func TestBandFilter(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		[]protocol.Plugin{contextPlugin("collect", 0), contextPlugin("validate", 1), contextPlugin("extract", 2)},
		nil,
	)
	got := names(drain(NewCursor(f.m, f.plugins, Toggled, Band(protocol.ValidatorOrder))))
	assert.Equal(t, []string{"validate/Context"}, got)
}
