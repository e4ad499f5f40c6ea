// Package client is the presentation-process end of the channel.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/vessel/internal/log"
	"github.com/mattjoyce/vessel/internal/protocol"
)

// DefaultSelfDestruct is how long the client survives without a pulse.
const DefaultSelfDestruct = 15 * time.Second

var (
	// ErrPendingCall is the panic value when a response is already waiting
	// as a new call starts.
	ErrPendingCall = errors.New("pending call: previous response was never consumed")
	// ErrClosed is returned by Call once the host stream has ended.
	ErrClosed = errors.New("channel to host closed")
)

// RemoteError is a failure reported by the host.
type RemoteError struct {
	Command string
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Command, e.Type, e.Message)
}

// Options configure a Client.
type Options struct {
	SelfDestruct time.Duration
	// Exit terminates the process when the host stops pulsing.
	Exit func(code int)
}

// Client issues requests to the host and receives its parent commands.
type Client struct {
	ch     *protocol.Channel
	opts   Options
	logger *slog.Logger

	callMu    sync.Mutex
	pending   atomic.Bool
	responses chan json.RawMessage
	commands  chan protocol.Call

	timer     *time.Timer
	pulses    atomic.Int64
	startOnce sync.Once
	closed    chan struct{}
	readErr   error
}

// New creates a Client over ch. Call Start to begin reading.
func New(ch *protocol.Channel, opts Options) *Client {
	if opts.SelfDestruct <= 0 {
		opts.SelfDestruct = DefaultSelfDestruct
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	return &Client{
		ch:        ch,
		opts:      opts,
		logger:    log.WithComponent("client"),
		responses: make(chan json.RawMessage, 1),
		commands:  make(chan protocol.Call, 64),
		closed:    make(chan struct{}),
	}
}

// Start arms the self-destruct timer and starts the reader goroutine.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		c.timer = time.AfterFunc(c.opts.SelfDestruct, c.selfDestruct)
		go c.read()
	})
}

// Stop disarms the self-destruct timer.
func (c *Client) Stop() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

// Commands delivers parent commands from the host. It is closed when the
// host stream ends.
func (c *Client) Commands() <-chan protocol.Call {
	return c.commands
}

// Done is closed when the host stream ends.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Err returns why the host stream ended, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.closed:
		return c.readErr
	default:
		return nil
	}
}

// Pulses returns the number of pulses received.
func (c *Client) Pulses() int64 {
	return c.pulses.Load()
}

// Call sends one request and blocks until its response arrives. Concurrent
// callers queue. ctx is only checked before sending: once a request is on
// the wire the response must be consumed to keep the stream correlated, and
// the self-destruct timer bounds the wait.
func (c *Client) Call(ctx context.Context, name string, args ...any) (json.RawMessage, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(c.responses) > 0 {
		panic(ErrPendingCall)
	}
	select {
	case <-c.closed:
		return nil, fmt.Errorf("%s: %w", name, ErrClosed)
	default:
	}

	c.pending.Store(true)
	if err := c.ch.SendCall(protocol.KindRequest, name, args...); err != nil {
		c.pending.Store(false)
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var payload json.RawMessage
	select {
	case payload = <-c.responses:
	case <-c.closed:
		c.pending.Store(false)
		return nil, fmt.Errorf("%s: %w", name, ErrClosed)
	}
	c.pending.Store(false)

	if marker, ok := protocol.AsError(payload); ok {
		return nil, &RemoteError{Command: name, Type: marker.Type, Message: marker.Message}
	}
	return payload, nil
}

func (c *Client) read() {
	defer close(c.commands)
	for {
		frame, err := c.ch.Receive()
		if err != nil {
			var fault *protocol.ProtocolFault
			if errors.As(err, &fault) {
				panic(fault)
			}
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("read from host failed", "error", err)
			}
			c.readErr = err
			close(c.closed)
			return
		}
		c.route(frame)
	}
}

// route delivers one frame to its mailbox.
func (c *Client) route(frame protocol.Frame) {
	if frame.IsText() {
		c.logger.Info("host output", "text", frame.Text)
		return
	}

	env := frame.Envelope
	switch env.Kind {
	case protocol.KindPulse:
		c.pulses.Add(1)
		if c.timer != nil {
			c.timer.Reset(c.opts.SelfDestruct)
		}
	case protocol.KindResponse:
		if !c.pending.Load() {
			panic(&protocol.ProtocolFault{Line: string(env.Payload), Reason: "response without a pending call"})
		}
		select {
		case c.responses <- env.Payload:
		default:
			panic(ErrPendingCall)
		}
	case protocol.KindParent:
		call, err := env.Call()
		if err != nil {
			panic(&protocol.ProtocolFault{Line: string(env.Payload), Reason: err.Error()})
		}
		c.commands <- call
	default:
		panic(&protocol.ProtocolFault{Line: string(env.Payload), Reason: "client received " + env.Kind.String() + " envelope"})
	}
}

func (c *Client) selfDestruct() {
	c.logger.Error("no pulse from host, self-destructing", "after", c.opts.SelfDestruct)
	c.opts.Exit(1)
}
