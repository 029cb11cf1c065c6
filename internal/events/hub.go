// Package events distributes controller events to in-process subscribers
// and external brokers.
package events

import (
	"sync"

	"pantilt-remote/internal/motion"
)

const subscriberBuffer = 64

// Hub fans controller events out to subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan motion.Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan motion.Event]struct{}),
	}
}

// Subscribe returns a channel of events and a cleanup function that must
// be called when the subscriber goes away.
func (h *Hub) Subscribe() (<-chan motion.Event, func()) {
	ch := make(chan motion.Event, subscriberBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish implements motion.EventSink.
func (h *Hub) Publish(e motion.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Fanout publishes every event to each sink in order.
type Fanout []motion.EventSink

func (f Fanout) Publish(e motion.Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(e)
		}
	}
}
