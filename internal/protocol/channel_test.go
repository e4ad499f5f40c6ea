package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tx := NewChannel(strings.NewReader(""), &buf)

	require.NoError(t, tx.SendCall(KindRequest, "process", map[string]any{"id": "p1"}, nil))
	require.NoError(t, tx.SendValue(KindResponse, []string{"a", "b"}))
	require.NoError(t, tx.SendCall(KindParent, "show", map[string]any{"title": "Publish"}))
	require.NoError(t, tx.SendPulse())

	rx := NewChannel(&buf, io.Discard)

	f, err := rx.Receive()
	require.NoError(t, err)
	require.False(t, f.IsText())
	assert.Equal(t, KindRequest, f.Envelope.Kind)
	call, err := f.Envelope.Call()
	require.NoError(t, err)
	assert.Equal(t, "process", call.Name)
	require.Len(t, call.Args, 2)
	assert.JSONEq(t, `{"id":"p1"}`, string(call.Args[0]))
	assert.Equal(t, "null", string(call.Args[1]))

	f, err = rx.Receive()
	require.NoError(t, err)
	assert.Equal(t, KindResponse, f.Envelope.Kind)
	assert.JSONEq(t, `["a","b"]`, string(f.Envelope.Payload))

	f, err = rx.Receive()
	require.NoError(t, err)
	assert.Equal(t, KindParent, f.Envelope.Kind)

	f, err = rx.Receive()
	require.NoError(t, err)
	assert.Equal(t, KindPulse, f.Envelope.Kind)
	assert.Nil(t, f.Envelope.Payload)

	_, err = rx.Receive()
	assert.ErrorIs(t, err, io.EOF)
}

func TestChannelWireFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ch := NewChannel(strings.NewReader(""), &buf)
	require.NoError(t, ch.SendPulse())
	require.NoError(t, ch.SendCall(KindRequest, "ping"))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"header":"vessel:server.pulse"}`, lines[0])
	assert.Equal(t, `{"header":"vessel:popen.request","payload":{"name":"ping","args":[]}}`, lines[1])
}

func TestDecodeTextPassthrough(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		"Loading plugins from /opt/plugins",
		"",
		"   ",
		"[1, 2, 3]",
		`"quoted"`,
		"{not json at all",
	} {
		f, err := Decode([]byte(line + "\n"))
		require.NoError(t, err, line)
		assert.True(t, f.IsText(), line)
		assert.Equal(t, line, f.Text)
	}
}

func TestDecodeProtocolFault(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		`{"header":"other:popen.request","payload":{}}`,
		`{"payload":{"name":"ping"}}`,
		`{"header":42}`,
	} {
		_, err := Decode([]byte(line))
		var fault *ProtocolFault
		require.True(t, errors.As(err, &fault), line)
		assert.Equal(t, line, fault.Line)
	}
}

func TestReceiveLastLineWithoutNewline(t *testing.T) {
	t.Parallel()

	rx := NewChannel(strings.NewReader(`{"header":"vessel:server.pulse"}`), io.Discard)
	f, err := rx.Receive()
	require.NoError(t, err)
	assert.Equal(t, KindPulse, f.Envelope.Kind)
}

func TestSendIsSerialized(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ch := NewChannel(strings.NewReader(""), &buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = ch.SendPulse() }()
		go func(i int) { defer wg.Done(); _ = ch.SendValue(KindResponse, map[string]int{"n": i}) }(i)
	}
	wg.Wait()

	rx := NewChannel(&buf, io.Discard)
	count := 0
	for {
		f, err := rx.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.False(t, f.IsText(), "interleaved write produced text: %q", f.Text)
		count++
	}
	assert.Equal(t, 100, count)
}

func TestSendWriteFailure(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()
	require.NoError(t, r.Close())
	ch := NewChannel(strings.NewReader(""), w)
	assert.Error(t, ch.SendPulse())
}

func TestCallDecodeArgs(t *testing.T) {
	t.Parallel()

	call, err := NewCall("update", "comment", "first pass", ContextID)
	require.NoError(t, err)

	var key, name string
	var value any
	require.NoError(t, call.DecodeArgs(&key, &value, &name))
	assert.Equal(t, "comment", key)
	assert.Equal(t, "first pass", value)
	assert.Equal(t, ContextID, name)

	var only string
	assert.Error(t, call.DecodeArgs(&only))
}

func TestErrorMarker(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(ErrorPayload("KeyError", "no plugin p9"))
	require.NoError(t, err)

	m, ok := AsError(b)
	require.True(t, ok)
	assert.Equal(t, "KeyError", m.Type)
	assert.Equal(t, "no plugin p9", m.Message)

	_, ok = AsError(json.RawMessage(`{"totalRequestCount":3}`))
	assert.False(t, ok)
	_, ok = AsError(json.RawMessage(`"__error__"`))
	assert.False(t, ok)
	_, ok = AsError(nil)
	assert.False(t, ok)
}
