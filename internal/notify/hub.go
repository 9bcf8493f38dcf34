package notify

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/banshee-data/cartvision/internal/events"
)

// DefaultSubscriberBuffer is the per-subscriber channel depth.
const DefaultSubscriberBuffer = 64

// Hub is an in-process fan-out of event messages to any number of
// subscribers, used by the live stream endpoint. A subscriber whose buffer
// is full misses the message; publishers never block.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan events.Message
	buffer      int
	closed      bool
}

// NewHub returns an empty hub. A non-positive buffer selects
// DefaultSubscriberBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		subscribers: make(map[string]chan events.Message),
		buffer:      buffer,
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	_, _ = crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new subscriber. The id is used to Unsubscribe. On a
// closed hub the returned channel is already closed.
func (h *Hub) Subscribe() (string, <-chan events.Message) {
	id := randomID()
	ch := make(chan events.Message, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Publish offers msg to every subscriber and returns how many took it.
func (h *Hub) Publish(msg events.Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for _, ch := range h.subscribers {
		select {
		case ch <- msg:
			delivered++
		default:
			// slow subscriber, skip so as not to block the session loop
		}
	}
	return delivered
}

// NotifyDetection implements Notifier.
func (h *Hub) NotifyDetection(_ context.Context, d events.Detection) error {
	h.Publish(events.DetectionMessage(d))
	return nil
}

// NotifyAlert implements Notifier.
func (h *Hub) NotifyAlert(_ context.Context, a events.Alert) error {
	h.Publish(events.AlertMessage(a))
	return nil
}

// NotifySessionEnded implements SessionEndNotifier.
func (h *Hub) NotifySessionEnded(_ context.Context, sessionID string, at time.Time) error {
	h.Publish(events.SessionEndedMessage(sessionID, at))
	return nil
}

// Close closes every subscriber channel. Later subscribers receive a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
