package orchestrator

import (
	"sync"
	"time"
)

// Entry is one transcript line with its provenance. The same shape is
// published to live sink consumers and returned by the history API.
type Entry struct {
	Text      string    `json:"text"`
	EmittedAt time.Time `json:"emitted_at"`
	SessionID string    `json:"session_id"`
	Target    string    `json:"target"`
}

// History is a bounded ring of recent transcript entries. Entries fall
// off by count as new ones arrive and by age when read back.
type History struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
	maxAge  time.Duration
}

// NewHistory returns a ring holding at most limit entries. Entries older
// than maxAge are filtered from Recent; maxAge <= 0 disables the filter.
func NewHistory(limit int, maxAge time.Duration) *History {
	if limit <= 0 {
		limit = 1
	}
	return &History{limit: limit, maxAge: maxAge}
}

// Add appends an entry, evicting the oldest when the ring is full.
func (h *History) Add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == h.limit {
		copy(h.entries, h.entries[1:])
		h.entries[len(h.entries)-1] = e
		return
	}
	h.entries = append(h.entries, e)
}

// Recent returns the stored entries younger than the max age, oldest
// first. The returned slice is a copy.
func (h *History) Recent() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := time.Now().Add(-h.maxAge)
	out := make([]Entry, 0, len(h.entries))
	for _, e := range h.entries {
		if h.maxAge > 0 && e.EmittedAt.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Session returns every stored entry for one session, oldest first.
func (h *History) Session(id string) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Entry
	for _, e := range h.entries {
		if e.SessionID == id {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the number of stored entries, including aged-out ones
// that have not been evicted by count yet.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
