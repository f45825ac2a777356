package upload

import (
	"sync"

	"github.com/haulbit/haulbit/pkg/protocol"
)

const subscriberBuffer = 64

// Hub fans upload progress events out to subscribers. Each subscriber owns a
// buffered channel; a slow subscriber drops events rather than blocking the
// upload path.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan protocol.Event
}

// NewHub creates an event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan protocol.Event)}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. Unsubscribing closes the channel.
func (h *Hub) Subscribe() (<-chan protocol.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan protocol.Event, subscriberBuffer)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Publish delivers ev to every subscriber with room in its buffer.
func (h *Hub) Publish(ev protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; drop rather than stall a chunk write.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
