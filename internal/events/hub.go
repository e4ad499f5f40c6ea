// Package events is the in-process event bus shared by the gateway, the
// service and the presentation model.
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// subscriberBuffer is how many events a subscriber may lag behind before
// events are dropped for it.
const subscriberBuffer = 128

type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

type subscription struct {
	ch    chan Event
	match func(string) bool
}

// Hub is an in-memory pub/sub with a ring buffer for late clients.
// A nil *Hub accepts Publish calls and drops them.
type Hub struct {
	nextID  atomic.Int64
	dropped atomic.Int64

	mu     sync.Mutex
	ring   []Event
	oldest int
	count  int

	subs      map[int]subscription
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]subscription),
	}
}

// Publish stamps data as the next event and fans it out. Payloads that
// cannot be marshalled, and nil, become "{}".
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}
	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: []byte("{}"),
	}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			ev.Data = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.push(ev)
	for _, sub := range h.subs {
		if !sub.match(ev.Type) {
			continue
		}
		// Slow subscribers lose events rather than stall producers.
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of future events whose type starts with one
// of prefixes (all events when none are given) and a func that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe(prefixes ...string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	sub := subscription{ch: make(chan Event, subscriberBuffer), match: MatchTypes(prefixes...)}
	h.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// SnapshotSince returns buffered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.count)
	for i := range h.count {
		ev := h.ring[(h.oldest+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// push appends ev, overwriting the oldest event once the ring is full.
func (h *Hub) push(ev Event) {
	if h.count < len(h.ring) {
		h.ring[(h.oldest+h.count)%len(h.ring)] = ev
		h.count++
		return
	}
	h.ring[h.oldest] = ev
	h.oldest = (h.oldest + 1) % len(h.ring)
}

// MatchTypes returns a predicate over event types that accepts any type
// starting with one of prefixes. Blank prefixes are ignored; with none left
// every type matches.
func MatchTypes(prefixes ...string) func(string) bool {
	var keep []string
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			keep = append(keep, p)
		}
	}
	if len(keep) == 0 {
		return func(string) bool { return true }
	}
	return func(typ string) bool {
		for _, p := range keep {
			if strings.HasPrefix(typ, p) {
				return true
			}
		}
		return false
	}
}
