// Package events is the in-process telemetry channel shared by the subscriber
// engine and the push server. Components publish small JSON facts; the watch
// TUI (and tests) subscribe. Publishing never blocks a producer.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Telemetry event types published by this module.
const (
	TypeEngineStarted  = "engine.started"
	TypeEngineStopped  = "engine.stopped"
	TypeCycleProcessed = "engine.cycle"
	TypeHandlerError   = "engine.handler_error"
	TypePullError      = "engine.pull_error"
	TypeAckError       = "engine.ack_error"
	TypePushDelivery   = "push.delivery"
	TypePushRejected   = "push.rejected"
	TypePushDuplicate  = "push.duplicate"
)

type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

// Hub is an in-memory fan-out with a small ring buffer so late subscribers
// can catch up on recent history.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int

	counts map[string]int64
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring:   make([]Event, capacity),
		subs:   make(map[int]chan Event),
		counts: make(map[string]int64),
	}
}

// Publish records an event and fans it out. Slow subscribers are skipped,
// never waited on.
func (h *Hub) Publish(eventType string, data any) {
	id := h.nextID.Add(1)

	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   id,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	h.pushLocked(ev)
	h.counts[eventType]++
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe returns a channel of future events and a cancel function.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// ReplaySince returns buffered events with ID > lastID, oldest-first.
// lastID 0 returns the full buffer.
func (h *Hub) ReplaySince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Counts returns a snapshot of per-type publish counts since the hub was
// created. Counts survive ring-buffer eviction.
func (h *Hub) Counts() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]int64, len(h.counts))
	for k, v := range h.counts {
		out[k] = v
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
