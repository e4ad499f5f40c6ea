package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// ProtocolFault reports a line that claims to be an envelope but is not one
// this side understands. Endpoints treat it as a bug and panic.
type ProtocolFault struct {
	Line   string
	Reason string
}

func (f *ProtocolFault) Error() string {
	return fmt.Sprintf("protocol fault: %s: %q", f.Reason, f.Line)
}

// Frame is one received line: either an envelope or out-of-band text.
type Frame struct {
	Envelope *Envelope
	Text     string
}

// IsText reports whether the line was plain text.
func (f Frame) IsText() bool { return f.Envelope == nil }

type flusher interface {
	Flush() error
}

// Channel frames envelopes as newline-delimited JSON over a duplex stream.
// Send is safe for concurrent use; Receive must be called from one goroutine.
type Channel struct {
	r *bufio.Reader

	mu sync.Mutex
	w  io.Writer
}

// NewChannel wraps the read and write halves of a stream.
func NewChannel(r io.Reader, w io.Writer) *Channel {
	return &Channel{r: bufio.NewReader(r), w: w}
}

// Send writes env as a single line and flushes it.
func (c *Channel) Send(env Envelope) error {
	header := env.Kind.Header()
	if header == "" {
		return fmt.Errorf("send: unknown envelope kind %d", int(env.Kind))
	}
	b, err := json.Marshal(wireEnvelope{Header: header, Payload: env.Payload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	b = append(b, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", env.Kind, err)
	}
	if f, ok := c.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush %s: %w", env.Kind, err)
		}
	}
	return nil
}

// SendValue marshals v as the payload of an envelope of kind k.
func (c *Channel) SendValue(k Kind, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", k, err)
	}
	return c.Send(Envelope{Kind: k, Payload: payload})
}

// SendCall sends a request or parent command.
func (c *Channel) SendCall(k Kind, name string, args ...any) error {
	call, err := NewCall(name, args...)
	if err != nil {
		return err
	}
	return c.SendValue(k, call)
}

// SendPulse sends a liveness pulse.
func (c *Channel) SendPulse() error {
	return c.Send(Envelope{Kind: KindPulse})
}

// Receive blocks until the next complete line is available.
// It returns io.EOF once the stream is closed and *ProtocolFault for
// unrecognized envelopes.
func (c *Channel) Receive() (Frame, error) {
	line, err := c.r.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		return Frame{}, err
	}
	// A final line without a newline is still a line.
	return Decode(line)
}

// Decode classifies one line.
// Anything that is not a JSON object is text; a JSON object must carry a
// known header.
func Decode(line []byte) (Frame, error) {
	line = bytes.TrimRight(line, "\r\n")
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Frame{Text: string(line)}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Frame{Text: string(line)}, nil
	}

	h, ok := raw["header"]
	if !ok {
		return Frame{}, &ProtocolFault{Line: string(line), Reason: "missing header"}
	}
	var header string
	if err := json.Unmarshal(h, &header); err != nil {
		return Frame{}, &ProtocolFault{Line: string(line), Reason: "header is not a string"}
	}
	kind, ok := ParseHeader(header)
	if !ok {
		return Frame{}, &ProtocolFault{Line: string(line), Reason: "unrecognized header " + header}
	}

	payload := raw["payload"]
	if bytes.Equal(payload, []byte("null")) {
		payload = nil
	}
	return Frame{Envelope: &Envelope{Kind: kind, Payload: payload}}, nil
}
