package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Namespace prefixes every header so foreign JSON on the stream is never
// mistaken for an envelope.
const Namespace = "vessel"

// Kind identifies the mailbox an envelope belongs to.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindParent
	KindPulse
)

var headers = map[Kind]string{
	KindRequest:  Namespace + ":popen.request",
	KindResponse: Namespace + ":popen.response",
	KindParent:   Namespace + ":popen.parent",
	KindPulse:    Namespace + ":server.pulse",
}

// Header returns the wire header for k.
func (k Kind) Header() string {
	return headers[k]
}

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindParent:
		return "parent"
	case KindPulse:
		return "pulse"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseHeader maps a wire header back to its Kind.
func ParseHeader(header string) (Kind, bool) {
	for k, h := range headers {
		if h == header {
			return k, true
		}
	}
	return 0, false
}

// Envelope is one framed message.
type Envelope struct {
	Kind    Kind
	Payload json.RawMessage
}

type wireEnvelope struct {
	Header  string          `json:"header"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Call is the payload of request and parent envelopes.
type Call struct {
	Name string            `json:"name"`
	Args []json.RawMessage `json:"args"`
}

// NewCall marshals args into a Call.
func NewCall(name string, args ...any) (Call, error) {
	call := Call{Name: name, Args: make([]json.RawMessage, 0, len(args))}
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return Call{}, fmt.Errorf("marshal %s arg %d: %w", name, i, err)
		}
		call.Args = append(call.Args, b)
	}
	return call, nil
}

// DecodeArgs unmarshals the call arguments positionally into dst.
// Missing trailing arguments leave their destinations untouched.
func (c Call) DecodeArgs(dst ...any) error {
	if len(c.Args) > len(dst) {
		return fmt.Errorf("%s: expected at most %d args, got %d", c.Name, len(dst), len(c.Args))
	}
	for i, raw := range c.Args {
		if err := json.Unmarshal(raw, dst[i]); err != nil {
			return fmt.Errorf("%s: decode arg %d: %w", c.Name, i, err)
		}
	}
	return nil
}

// Call decodes the envelope payload as a Call.
func (e Envelope) Call() (Call, error) {
	var call Call
	if err := json.Unmarshal(e.Payload, &call); err != nil {
		return Call{}, fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	if call.Name == "" {
		return Call{}, fmt.Errorf("%s payload has no name", e.Kind)
	}
	return call, nil
}

// ErrorMarker is carried in a response payload when a call failed.
type ErrorMarker struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorPayload struct {
	Err *ErrorMarker `json:"__error__"`
}

var errorKey = []byte(`"__error__"`)

// ErrorPayload builds the response payload for a failed call.
func ErrorPayload(typ, message string) any {
	return errorPayload{Err: &ErrorMarker{Type: typ, Message: message}}
}

// AsError reports whether payload is an error marker.
func AsError(payload json.RawMessage) (*ErrorMarker, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !bytes.Contains(trimmed, errorKey) {
		return nil, false
	}
	var p errorPayload
	if err := json.Unmarshal(trimmed, &p); err != nil || p.Err == nil {
		return nil, false
	}
	return p.Err, true
}
