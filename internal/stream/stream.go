// Package stream is the live issue stream's fan-out hub: newly ingested
// events are pushed, per project, to every connected dashboard subscriber.
// It is additive observability — publishing never blocks the ingest path
// that produced the event, and a hub with no subscribers does no work.
package stream

import (
	"sync"

	"github.com/Ap3pp3rs94/issuewatch/internal/model"
)

// subscriberBuffer bounds how far behind a slow subscriber may fall; once its
// buffer is full, newly published events are skipped for it rather than
// blocking Publish.
const subscriberBuffer = 64

// Hub fans out ingested events to per-project subscriber channels.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan model.Event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan model.Event]struct{})}
}

// Subscribe registers a new listener for projectID's events. The returned
// cancel func must be called to unregister and release the channel.
func (h *Hub) Subscribe(projectID string) (<-chan model.Event, func()) {
	ch := make(chan model.Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[projectID]
	if !ok {
		set = make(map[chan model.Event]struct{})
		h.subs[projectID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[projectID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, projectID)
			}
		}
		close(ch)
	}
	return ch, cancel
}

// Publish pushes ev to every current subscriber of projectID. A subscriber
// whose buffer is full is skipped for this event rather than blocked on.
func (h *Hub) Publish(projectID string, ev model.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[projectID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports how many listeners projectID currently has.
func (h *Hub) SubscriberCount(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[projectID])
}
