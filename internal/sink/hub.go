// Package sink delivers live transcripts to attached consumers.
//
// Delivery is best effort end to end: a slow consumer loses entries
// instead of stalling the capture pipeline, and running with zero
// consumers is the normal idle case, not an error.
package sink

import (
	"sync"

	"github.com/tiroq/echotap/internal/diaglog"
	"github.com/tiroq/echotap/internal/orchestrator"
)

// consumerBuffer is the per-consumer queue depth. A consumer that falls
// further behind starts losing entries.
const consumerBuffer = 32

var _ orchestrator.Publisher = (*Hub)(nil)

// Hub fans transcript entries out to attached consumers.
type Hub struct {
	mu        sync.Mutex
	consumers map[int]chan orchestrator.Entry
	nextID    int
	dropped   int64
	absorbed  int64
	log       *diaglog.Logger
}

// NewHub returns an empty hub. A nil logger disables diagnostics.
func NewHub(log *diaglog.Logger) *Hub {
	if log == nil {
		log = diaglog.NewNoOp()
	}
	return &Hub{
		consumers: make(map[int]chan orchestrator.Entry),
		log:       log,
	}
}

// Attach registers a consumer and returns its entry channel plus a
// detach function. Detaching closes the channel; it is safe to call
// more than once.
func (h *Hub) Attach() (<-chan orchestrator.Entry, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan orchestrator.Entry, consumerBuffer)
	h.consumers[id] = ch
	h.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentSink,
		Event:     diaglog.EventSinkAttach,
		Payload:   map[string]interface{}{"consumers": len(h.consumers)},
	})
	return ch, func() { h.detach(id) }
}

func (h *Hub) detach(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.consumers[id]
	if !ok {
		return
	}
	delete(h.consumers, id)
	close(ch)
	h.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentSink,
		Event:     diaglog.EventSinkDetach,
		Payload:   map[string]interface{}{"consumers": len(h.consumers)},
	})
}

// Publish delivers e to every consumer without blocking. Entries that
// find no room, or no consumer at all, are counted and forgotten.
func (h *Hub) Publish(e orchestrator.Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.consumers) == 0 {
		h.absorbed++
		return
	}
	for _, ch := range h.consumers {
		select {
		case ch <- e:
		default:
			h.dropped++
			h.log.Log(diaglog.LogEntry{
				Component: diaglog.ComponentSink,
				Event:     diaglog.EventSinkDrop,
				SessionID: e.SessionID,
			})
		}
	}
}

// Consumers reports how many consumers are attached.
func (h *Hub) Consumers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.consumers)
}

// Dropped reports entries lost to full consumer queues.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Absorbed reports entries published while no consumer was attached.
func (h *Hub) Absorbed() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.absorbed
}
