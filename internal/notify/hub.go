// Package notify pushes ledger changes to connected student sessions. Delivery
// is best effort: nothing here is persisted or replayed.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"classledger/internal/metrics"
)

// Event is one ledger change for one student.
type Event struct {
	Recipient string    `json:"recipient"`
	ClassKey  string    `json:"class_key"`
	Day       string    `json:"day"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

// Subscription is one connected session. C is closed when the subscription
// is closed.
type Subscription struct {
	C <-chan Event

	id        uint64
	recipient string
	ch        chan Event
	hub       *Hub
	once      sync.Once
}

// Close detaches the subscription from its hub.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub is the process-local registry of subscriptions keyed by recipient.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	buffer int
	log    *zap.Logger
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{subs: make(map[string]map[uint64]*Subscription), buffer: buffer, log: log}
}

// Subscribe registers a new session for recipient.
func (h *Hub) Subscribe(recipient string) *Subscription {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.nextID++
	sub := &Subscription{C: ch, id: h.nextID, recipient: recipient, ch: ch, hub: h}
	if h.subs[recipient] == nil {
		h.subs[recipient] = make(map[uint64]*Subscription)
	}
	h.subs[recipient][sub.id] = sub
	h.mu.Unlock()
	metrics.Subscribers.Inc()
	return sub
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	if set := h.subs[s.recipient]; set != nil {
		delete(set, s.id)
		if len(set) == 0 {
			delete(h.subs, s.recipient)
		}
	}
	close(s.ch)
	h.mu.Unlock()
	metrics.Subscribers.Dec()
}

// Deliver hands evt to every session of its recipient without blocking. A
// session whose buffer is full misses the event.
func (h *Hub) Deliver(evt Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, sub := range h.subs[evt.Recipient] {
		select {
		case sub.ch <- evt:
			delivered++
			metrics.Notifications.WithLabelValues("delivered").Inc()
		default:
			metrics.Notifications.WithLabelValues("dropped").Inc()
			h.log.Debug("subscriber buffer full, dropping event",
				zap.String("recipient", evt.Recipient), zap.String("day", evt.Day))
		}
	}
	return delivered
}

// Count returns the number of sessions open for recipient.
func (h *Hub) Count(recipient string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[recipient])
}

// CloseAll ends every open session, closing their channels.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var subs []*Subscription
	for _, set := range h.subs {
		for _, s := range set {
			subs = append(subs, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range subs {
		s.Close()
	}
}
