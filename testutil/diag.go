package testutil

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/tiroq/echotap/internal/diaglog"
)

// ReadDiag parses the NDJSON diagnostic log at path. A missing file
// yields no entries; a malformed line fails the test.
func ReadDiag(t *testing.T, path string) []diaglog.LogEntry {
	t.Helper()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read diag log: %v", err)
	}

	var entries []diaglog.LogEntry
	for i, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var e diaglog.LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("diag log line %d: %v", i+1, err)
		}
		entries = append(entries, e)
	}
	return entries
}

// CountEvent returns how many entries carry the given event name.
func CountEvent(entries []diaglog.LogEntry, event string) int {
	n := 0
	for _, e := range entries {
		if e.Event == event {
			n++
		}
	}
	return n
}

// FindEvent returns the first entry carrying the given event name.
func FindEvent(entries []diaglog.LogEntry, event string) (diaglog.LogEntry, bool) {
	for _, e := range entries {
		if e.Event == event {
			return e, true
		}
	}
	return diaglog.LogEntry{}, false
}
