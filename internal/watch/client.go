package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/vessel/internal/events"
)

// streamTypes are the event prefixes the dashboard subscribes to. Model and
// controller events stay inside the presentation process.
var streamTypes = []string{"gateway.", "result.", "service."}

type eventMsg events.Event

// healthMsg mirrors the /healthz body.
type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Session       string `json:"session"`
	Subscribers   int    `json:"subscribers"`
	DroppedEvents int64  `json:"dropped_events"`
}

type errMsg struct{ err error }

// disconnectedMsg ends one /events connection.
type disconnectedMsg struct{ err error }

type reconnectMsg struct{}

// subscribe streams /events into ch until the connection drops. lastID
// resumes the stream after a reconnect.
func subscribe(client *http.Client, baseURL string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		u := baseURL + "/events?type=" + url.QueryEscape(strings.Join(streamTypes, ","))
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return errMsg{err}
		}
		req.Header.Set("Accept", "text/event-stream")
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := client.Do(req)
		if err != nil {
			return disconnectedMsg{err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return disconnectedMsg{fmt.Errorf("events: %s", resp.Status)}
		}
		return disconnectedMsg{readSSE(resp.Body, func(ev events.Event) { ch <- ev })}
	}
}

// readSSE parses a server-sent event stream, calling emit for every event
// that carries data. Comments and retry hints are skipped.
func readSSE(r io.Reader, emit func(events.Event)) error {
	var (
		ev   events.Event
		data []string
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(data) > 0 {
				ev.At = time.Now().UTC()
				ev.Data = []byte(strings.Join(data, "\n"))
				emit(ev)
			}
			ev, data = events.Event{}, nil
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			if id, err := strconv.ParseInt(value, 10, 64); err == nil {
				ev.ID = id
			}
		case "event":
			ev.Type = value
		case "data":
			data = append(data, value)
		}
	}
	return sc.Err()
}

func receiveNext(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg { return eventMsg(<-ch) }
}

func fetchHealth(client *http.Client, baseURL string) tea.Msg {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return errMsg{err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return errMsg{err}
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg{fmt.Errorf("decode healthz: %w", err)}
	}
	return h
}
