package orchestrator

import (
	"fmt"
	"testing"
	"time"
)

func TestHistoryEvictsByCount(t *testing.T) {
	h := NewHistory(3, 0)
	for i := 0; i < 5; i++ {
		h.Add(Entry{Text: fmt.Sprintf("line-%d", i), EmittedAt: time.Now(), SessionID: "s1"})
	}

	got := h.Recent()
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, want := range []string{"line-2", "line-3", "line-4"} {
		if got[i].Text != want {
			t.Errorf("entry %d: got %q, want %q", i, got[i].Text, want)
		}
	}
}

func TestHistoryFiltersByAge(t *testing.T) {
	h := NewHistory(10, 10*time.Minute)
	h.Add(Entry{Text: "stale", EmittedAt: time.Now().Add(-20 * time.Minute)})
	h.Add(Entry{Text: "fresh", EmittedAt: time.Now()})

	got := h.Recent()
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].Text != "fresh" {
		t.Errorf("got %q, want %q", got[0].Text, "fresh")
	}

	// Aged-out entries still occupy ring slots until count eviction.
	if h.Len() != 2 {
		t.Errorf("Len = %d, want 2", h.Len())
	}
}

func TestHistoryZeroMaxAgeKeepsEverything(t *testing.T) {
	h := NewHistory(10, 0)
	h.Add(Entry{Text: "ancient", EmittedAt: time.Now().Add(-24 * time.Hour)})

	if got := h.Recent(); len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
}

func TestHistorySessionFilter(t *testing.T) {
	h := NewHistory(10, 0)
	now := time.Now()
	h.Add(Entry{Text: "a1", EmittedAt: now, SessionID: "a"})
	h.Add(Entry{Text: "b1", EmittedAt: now, SessionID: "b"})
	h.Add(Entry{Text: "a2", EmittedAt: now, SessionID: "a"})

	got := h.Session("a")
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Text != "a1" || got[1].Text != "a2" {
		t.Errorf("unexpected order: %q, %q", got[0].Text, got[1].Text)
	}

	if got := h.Session("missing"); len(got) != 0 {
		t.Errorf("expected no entries, got %d", len(got))
	}
}

func TestHistoryMinimumCapacity(t *testing.T) {
	h := NewHistory(0, 0)
	h.Add(Entry{Text: "first"})
	h.Add(Entry{Text: "second"})

	got := h.Recent()
	if len(got) != 1 || got[0].Text != "second" {
		t.Errorf("expected only the newest entry, got %+v", got)
	}
}
