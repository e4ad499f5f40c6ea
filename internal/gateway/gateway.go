package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/vessel/internal/events"
	"github.com/mattjoyce/vessel/internal/log"
	"github.com/mattjoyce/vessel/internal/metrics"
	"github.com/mattjoyce/vessel/internal/protocol"
	"github.com/mattjoyce/vessel/internal/service"
)

// DefaultPulseInterval is how often the host proves it is alive.
const DefaultPulseInterval = 5 * time.Second

// Options configure a Gateway.
type Options struct {
	PulseInterval time.Duration
	Executor      Executor
	Container     Container
	// Passthrough receives out-of-band text printed by the remote side.
	Passthrough io.Writer
	// OnRemoteGone runs once when the remote side stops accepting writes.
	OnRemoteGone func()
	Metrics      *metrics.Metrics
	Events       *events.Hub
}

// Gateway is the host end of the channel.
type Gateway struct {
	ch       *protocol.Channel
	registry *Registry
	opts     Options
	logger   *slog.Logger

	cleanupOnce sync.Once
	gone        chan struct{}
}

// New creates a Gateway serving registry over ch.
func New(ch *protocol.Channel, registry *Registry, opts Options) *Gateway {
	if opts.PulseInterval <= 0 {
		opts.PulseInterval = DefaultPulseInterval
	}
	if opts.Executor == nil {
		opts.Executor = InlineExecutor{}
	}
	if opts.Container == nil {
		opts.Container = NopContainer{}
	}
	return &Gateway{
		ch:       ch,
		registry: registry,
		opts:     opts,
		logger:   log.WithComponent("gateway"),
		gone:     make(chan struct{}),
	}
}

// Gone is closed once the remote side has been declared dead.
func (g *Gateway) Gone() <-chan struct{} {
	return g.gone
}

// Parent returns the proxy for host-initiated commands.
func (g *Gateway) Parent() *Parent {
	return &Parent{g: g}
}

// Run pulses and serves until the stream ends, the remote side is gone or
// ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.Pulse(ctx)
	return g.Serve(ctx)
}

// Serve answers requests one at a time until the stream ends.
// Envelopes this side cannot accept are protocol faults and panic.
func (g *Gateway) Serve(ctx context.Context) error {
	for {
		frame, err := g.ch.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				g.remoteGone(io.EOF)
				return nil
			}
			var fault *protocol.ProtocolFault
			if errors.As(err, &fault) {
				panic(fault)
			}
			g.remoteGone(err)
			return fmt.Errorf("receive: %w", err)
		}

		if frame.IsText() {
			g.passthrough(frame.Text)
			continue
		}
		if frame.Envelope.Kind != protocol.KindRequest {
			panic(&protocol.ProtocolFault{
				Line:   string(frame.Envelope.Payload),
				Reason: "host received " + frame.Envelope.Kind.String() + " envelope",
			})
		}

		payload := g.handle(ctx, frame.Envelope)
		if err := g.ch.SendValue(protocol.KindResponse, payload); err != nil {
			g.remoteGone(err)
			return fmt.Errorf("send response: %w", err)
		}

		select {
		case <-g.gone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Pulse writes a pulse every interval until ctx is done or a write fails.
func (g *Gateway) Pulse(ctx context.Context) {
	ticker := time.NewTicker(g.opts.PulseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.gone:
			return
		case <-ticker.C:
			if err := g.ch.SendPulse(); err != nil {
				g.opts.Metrics.ObservePulseFailure()
				g.remoteGone(err)
				return
			}
		}
	}
}

// handle produces the response payload for one request. It never panics.
func (g *Gateway) handle(ctx context.Context, env *protocol.Envelope) (payload any) {
	started := time.Now()
	call, err := env.Call()
	if err != nil {
		g.logger.Error("malformed request", "error", err)
		return protocol.ErrorPayload("invalid_request", err.Error())
	}

	logger := g.logger.With("command", call.Name)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "panic", r)
			err = fmt.Errorf("panic: %v", r)
			payload = protocol.ErrorPayload("panic", err.Error())
		}
		g.observe(call.Name, started, err)
	}()

	e, ok := g.registry.lookup(call.Name)
	if !ok {
		err = fmt.Errorf("%w: %s", ErrUnknownCommand, call.Name)
		logger.Warn("unknown command")
		return protocol.ErrorPayload("unknown_command", err.Error())
	}

	var result any
	switch e.class {
	case ClassNonBlocking:
		go g.runDetached(ctx, e.handler, call)
		return nil
	case ClassLocal:
		result, err = e.handler(ctx, call)
	default:
		result, err = g.opts.Executor.Execute(func() (any, error) {
			return e.handler(ctx, call)
		})
	}
	if err != nil {
		logger.Warn("command failed", "error", err)
		return protocol.ErrorPayload(errorType(err), err.Error())
	}
	return result
}

func (g *Gateway) runDetached(ctx context.Context, h Handler, call protocol.Call) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("non-blocking handler panicked", "command", call.Name, "panic", r)
		}
	}()
	if _, err := h(ctx, call); err != nil {
		g.logger.Warn("non-blocking command failed", "command", call.Name, "error", err)
	}
}

func (g *Gateway) observe(name string, started time.Time, err error) {
	g.opts.Metrics.ObserveRequest(name, err)
	ev := events.RequestServed{
		Name:       name,
		DurationMS: float64(time.Since(started).Microseconds()) / 1000,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	g.opts.Events.Publish(events.TypeRequestServed, ev)
}

func (g *Gateway) passthrough(text string) {
	if g.opts.Passthrough == nil {
		g.logger.Debug("remote output", "text", text)
		return
	}
	if _, err := fmt.Fprintln(g.opts.Passthrough, text); err != nil {
		g.logger.Debug("passthrough write failed", "error", err)
	}
}

// remoteGone runs the cleanup path exactly once.
func (g *Gateway) remoteGone(cause error) {
	g.cleanupOnce.Do(func() {
		g.logger.Info("remote side gone, cleaning up", "cause", cause)
		if err := g.opts.Container.Close(); err != nil {
			g.logger.Warn("failed to close container", "error", err)
		}
		if g.opts.OnRemoteGone != nil {
			g.opts.OnRemoteGone()
		}
		g.opts.Events.Publish(events.TypeRemoteGone, map[string]string{"cause": cause.Error()})
		close(g.gone)
	})
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, ErrInvalidArgs):
		return "invalid_arguments"
	case errors.Is(err, service.ErrUnknownPlugin):
		return "unknown_plugin"
	case errors.Is(err, service.ErrUnknownInstance):
		return "unknown_instance"
	case errors.Is(err, service.ErrNotReset):
		return "not_reset"
	default:
		return "error"
	}
}
