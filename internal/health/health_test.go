package health

import (
	"os"
	"testing"
)

func TestCollectPopulatesProcessBasics(t *testing.T) {
	c := NewCollector()
	snap := c.Collect()

	if snap.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", snap.PID, os.Getpid())
	}
	if snap.Goroutines <= 0 {
		t.Errorf("Goroutines = %d, want > 0", snap.Goroutines)
	}
	if snap.CollectedAt.IsZero() {
		t.Error("CollectedAt is zero")
	}
	if snap.UptimeSec < 0 {
		t.Errorf("UptimeSec = %d, want >= 0", snap.UptimeSec)
	}
}

func TestUptimeNeverDecreases(t *testing.T) {
	c := NewCollector()
	first := c.Collect()
	second := c.Collect()

	if second.UptimeSec < first.UptimeSec {
		t.Errorf("uptime went backwards: %d -> %d", first.UptimeSec, second.UptimeSec)
	}
}
