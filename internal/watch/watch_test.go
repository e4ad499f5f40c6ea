package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/vessel/internal/events"
	"github.com/mattjoyce/vessel/internal/protocol"
)

func resultEvent(t *testing.T, id int64, plugin protocol.Plugin, instance string, failure string) events.Event {
	t.Helper()
	r := protocol.Result{Success: failure == "", Plugin: plugin, Duration: 12}
	if instance != "" {
		r.Instance = &protocol.Instance{ID: "i-" + instance, Name: instance}
	}
	if failure != "" {
		r.Error = &protocol.ErrorInfo{Message: failure}
	}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	return events.Event{ID: id, Type: events.TypeResultProcessed, At: time.Now(), Data: b}
}

var (
	collector = protocol.Plugin{ID: "collect", Name: "CollectRigs", Order: 0}
	validator = protocol.Plugin{ID: "validate", Name: "ValidateNaming", Order: 1}
)

func TestReadSSE(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		"retry: 2000",
		"",
		": keep-alive",
		"",
		"id: 4",
		"event: gateway.request",
		`data: {"name":"ping"}`,
		"",
		"id: 5",
		"event: service.signal",
		"data: line one",
		"data: line two",
		"",
		"id: 6",
		"event: result.processed",
		"",
	}, "\n")

	var got []events.Event
	require.NoError(t, readSSE(strings.NewReader(stream), func(e events.Event) { got = append(got, e) }))

	require.Len(t, got, 2, "retry hints, comments and empty events are skipped")
	assert.Equal(t, int64(4), got[0].ID)
	assert.Equal(t, "gateway.request", got[0].Type)
	assert.JSONEq(t, `{"name":"ping"}`, string(got[0].Data))
	assert.Equal(t, "line one\nline two", string(got[1].Data))
	assert.False(t, got[1].At.IsZero())
}

func TestBoardTracksResults(t *testing.T) {
	t.Parallel()

	b := NewBoard()
	assert.False(t, b.Apply(events.Event{Type: events.TypeSignal, Data: []byte(`{}`)}))
	assert.False(t, b.Apply(events.Event{Type: events.TypeResultProcessed, Data: []byte(`not json`)}))

	require.True(t, b.Apply(resultEvent(t, 1, validator, "hero_rig", "name is not snake_case")))
	require.True(t, b.Apply(resultEvent(t, 2, collector, "", "")))
	require.True(t, b.Apply(resultEvent(t, 3, validator, "prop_cup", "")))

	sorted := b.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, "CollectRigs", sorted[0].Name, "ordered by plugin order")
	assert.Equal(t, protocol.ContextID, sorted[0].Last)

	v := sorted[1]
	assert.Equal(t, 1, v.Passed)
	assert.Equal(t, 1, v.Failed)
	assert.Equal(t, "prop_cup", v.Last)
	assert.Empty(t, v.LastError, "a later pass clears the shown error")
	assert.InDelta(t, 24, v.DurationMS, 0.001)

	rows := b.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1.0", "ValidateNaming", "1", "1", "24ms", "prop_cup"}, []string(rows[1]))
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	desc, failed := describe(resultEvent(t, 1, validator, "hero_rig", "bad name"))
	assert.Equal(t, "ValidateNaming/hero_rig bad name", desc)
	assert.True(t, failed)

	served, _ := json.Marshal(events.RequestServed{Name: "process", DurationMS: 3.4})
	desc, failed = describe(events.Event{Type: events.TypeRequestServed, Data: served})
	assert.Equal(t, "process 3.4ms", desc)
	assert.False(t, failed)

	desc, failed = describe(events.Event{Type: events.TypeRemoteGone, Data: []byte(`{"cause":"EOF"}`)})
	assert.Equal(t, "presentation process gone: EOF", desc)
	assert.True(t, failed)

	desc, _ = describe(events.Event{Type: "other", Data: []byte(strings.Repeat("x", 80))})
	assert.Len(t, desc, 63)
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModelAppliesEvents(t *testing.T) {
	t.Parallel()

	m := New("http://127.0.0.1:0")
	assert.Contains(t, m.View(), "Connecting to http://127.0.0.1:0")

	m = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 40})
	m = update(t, m, eventMsg(resultEvent(t, 7, validator, "hero_rig", "")))
	m = update(t, m, healthMsg{Status: "ok", Session: "0123456789abcdef", UptimeSeconds: 75, Subscribers: 2})

	assert.Equal(t, int64(7), m.lastID)
	assert.True(t, m.health.Connected)
	assert.Equal(t, "0123456789abcdef", m.health.Session)
	require.Len(t, m.eventLog, 1)

	view := m.View()
	for _, want := range []string{"VESSEL WATCH", "01234567", "PLUGINS", "ValidateNaming", "EVENTS", "result.processed", "1m 15s"} {
		assert.Contains(t, view, want)
	}

	gone, _ := json.Marshal(map[string]string{"cause": "broken pipe"})
	m = update(t, m, eventMsg(events.Event{ID: 8, Type: events.TypeRemoteGone, At: time.Now(), Data: gone}))
	assert.True(t, m.health.RemoteGone)
	assert.Contains(t, m.View(), "PRESENTATION GONE")

	served, _ := json.Marshal(events.RequestServed{Name: "ping"})
	m = update(t, m, eventMsg(events.Event{ID: 9, Type: events.TypeRequestServed, At: time.Now(), Data: served}))
	assert.False(t, m.health.RemoteGone)
}

func TestModelEventLogIsBounded(t *testing.T) {
	t.Parallel()

	m := New("http://127.0.0.1:0")
	for i := range maxEventLog + 10 {
		m = update(t, m, eventMsg(events.Event{ID: int64(i + 1), Type: events.TypeSignal, Data: []byte(`{"signal":"tick"}`)}))
	}
	require.Len(t, m.eventLog, maxEventLog)
	assert.Equal(t, int64(maxEventLog+10), m.eventLog[0].ID, "newest first")
}

func TestModelDisconnectAndErrors(t *testing.T) {
	t.Parallel()

	m := New("http://127.0.0.1:0")
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 30})
	m = update(t, m, eventMsg(events.Event{ID: 3, Type: events.TypeSignal, Data: []byte(`{}`)}))

	m = update(t, m, disconnectedMsg{err: errors.New("connection reset")})
	assert.False(t, m.health.Connected)
	assert.Contains(t, m.View(), "event stream: connection reset")
	assert.Contains(t, m.View(), "CONNECTING")

	m = update(t, m, errMsg{err: errors.New("healthz down")})
	assert.Equal(t, "healthz down", m.lastError)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestSubscribeResumesFromLastID(t *testing.T) {
	t.Parallel()

	seen := make(chan [2]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- [2]string{r.URL.Query().Get("type"), r.Header.Get("Last-Event-ID")}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "retry: 2000\n\nid: 12\nevent: service.signal\ndata: {\"signal\":\"instanceToggled\"}\n\n")
	}))
	t.Cleanup(srv.Close)

	ch := make(chan events.Event, 4)
	msg := subscribe(srv.Client(), srv.URL, 11, ch)()

	disc, ok := msg.(disconnectedMsg)
	require.True(t, ok, "stream end reports a disconnect, got %T", msg)
	assert.NoError(t, disc.err)
	req := <-seen
	assert.Equal(t, "gateway.,result.,service.", req[0])
	assert.Equal(t, "11", req[1], "resumes after the last event seen")

	require.Len(t, ch, 1)
	ev := <-ch
	assert.Equal(t, int64(12), ev.ID)
	assert.Equal(t, events.TypeSignal, ev.Type)
}

func TestSubscribeRejectsBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "events disabled", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	msg := subscribe(srv.Client(), srv.URL, 0, make(chan events.Event, 1))()
	disc, ok := msg.(disconnectedMsg)
	require.True(t, ok)
	assert.ErrorContains(t, disc.err, "503")
}

func TestFetchHealth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok","uptime_seconds":9,"session":"s1","subscribers":1,"dropped_events":4}`))
	}))
	t.Cleanup(srv.Close)

	msg := fetchHealth(srv.Client(), srv.URL)
	h, ok := msg.(healthMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, healthMsg{Status: "ok", UptimeSeconds: 9, Session: "s1", Subscribers: 1, DroppedEvents: 4}, h)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	t.Cleanup(bad.Close)
	_, isErr := fetchHealth(bad.Client(), bad.URL).(errMsg)
	assert.True(t, isErr)
}
