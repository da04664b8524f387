// Package sse fans job progress events out to server-sent-event streams.
package sse

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event represents a server-sent event.
type Event struct {
	Type string // e.g. "fetched", "scored", "reported"
	Data string // JSON payload
}

// Hub is an in-memory pub/sub hub keyed by topic.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[chan Event]struct{}
}

func New() *Hub {
	return &Hub{
		clients: make(map[string]map[chan Event]struct{}),
	}
}

// JobTopic is the topic carrying events for one analysis job.
func JobTopic(jobID string) string {
	return "job:" + jobID
}

// Subscribe registers a listener on the given topic. The returned function
// unregisters it and closes the channel.
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[chan Event]struct{})
	}
	h.clients[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients[topic], ch)
			if len(h.clients[topic]) == 0 {
				delete(h.clients, topic)
			}
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, unsub
}

// Publish sends an event to all subscribers on the topic. Slow clients
// whose buffer is full miss the event.
func (h *Hub) Publish(topic string, event Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients[topic] {
		select {
		case ch <- event:
		default:
		}
	}
}

// PublishJSON marshals v as the event payload.
func (h *Hub) PublishJSON(topic, eventType string, v any) {
	if h == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("sse marshal", "topic", topic, "error", err)
		return
	}
	h.Publish(topic, Event{Type: eventType, Data: string(data)})
}

// Subscribers reports how many listeners a topic has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[topic])
}
