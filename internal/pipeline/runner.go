package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/mattjoyce/vessel/internal/protocol"
)

// Status is how a run ended.
type Status int

const (
	Finished Status = iota
	Stopped
	FailedValidation
	Errored
)

func (s Status) String() string {
	switch s {
	case Finished:
		return "finished"
	case Stopped:
		return "stopped"
	case FailedValidation:
		return "failed validation"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome summarises a run.
type Outcome struct {
	Status Status
	// Reason is set when the run halted on the validation boundary.
	Reason string
	// Err is the transport error that ended an Errored run.
	Err    error
	Passed int
	Failed int
}

// ProcessFunc runs one pair, typically through the client's process or
// repair RPC.
type ProcessFunc func(ctx context.Context, pair Pair) (protocol.Result, error)

// TestFunc reports a non-empty reason when the pipeline must halt.
type TestFunc func(ctx context.Context, vars protocol.TestVars) (string, error)

// LocalTest applies the validation boundary without a round trip.
func LocalTest(threshold float64) TestFunc {
	return func(_ context.Context, vars protocol.TestVars) (string, error) {
		if protocol.FailedValidation(threshold, vars) {
			return "failed validation", nil
		}
		return "", nil
	}
}

// Runner drives a cursor to completion.
type Runner struct {
	Cursor  *Cursor
	Process ProcessFunc
	// Test defaults to LocalTest(protocol.DefaultValidationThreshold).
	Test   TestFunc
	Before func(Pair)
	After  func(Pair, protocol.Result)

	stop     atomic.Bool
	failures []failure
}

type failure struct {
	order      float64
	instanceID string
}

// Stop asks the runner to halt before the next pair. The pair in flight
// completes.
func (r *Runner) Stop() { r.stop.Store(true) }

// Stopping reports whether Stop was called.
func (r *Runner) Stopping() bool { return r.stop.Load() }

// Run processes pairs until the cursor is exhausted or a stop condition
// applies.
func (r *Runner) Run(ctx context.Context) Outcome {
	test := r.Test
	if test == nil {
		test = LocalTest(protocol.DefaultValidationThreshold)
	}

	var out Outcome
	for {
		if r.stop.Load() || ctx.Err() != nil {
			out.Status = Stopped
			return out
		}

		pair, ok := r.Cursor.Next()
		if !ok {
			out.Status = Finished
			return out
		}

		reason, err := test(ctx, protocol.TestVars{
			NextOrder:       pair.Plugin.Order,
			OrdersWithError: r.ordersWithError(),
		})
		if err != nil {
			out.Status = Errored
			out.Err = fmt.Errorf("test before %s: %w", pair, err)
			return out
		}
		if reason != "" {
			out.Status = FailedValidation
			out.Reason = "stopped due to " + reason
			return out
		}

		if r.Before != nil {
			r.Before(pair)
		}
		res, err := r.Process(ctx, pair)
		if err != nil {
			out.Status = Errored
			out.Err = fmt.Errorf("process %s: %w", pair, err)
			return out
		}
		if res.Error != nil {
			out.Failed++
			r.failures = append(r.failures, failure{order: pair.Plugin.Order, instanceID: pair.InstanceID()})
		} else {
			out.Passed++
		}
		if r.After != nil {
			r.After(pair, res)
		}
	}
}

// ordersWithError lists the orders of plugins that failed on the context
// or on an instance that is still toggled.
func (r *Runner) ordersWithError() []float64 {
	out := []float64{}
	for _, f := range r.failures {
		if f.instanceID != "" {
			inst, ok := r.Cursor.src.Item(f.instanceID)
			if !ok || !inst.IsToggled {
				continue
			}
		}
		out = append(out, f.order)
	}
	return out
}
