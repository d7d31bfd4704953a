package heartbeat

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPingsAtCadence(t *testing.T) {
	var count atomic.Int64
	h := New(10*time.Millisecond, func() { count.Add(1) })

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(55 * time.Millisecond)
	h.Stop()

	got := count.Load()
	if got < 3 || got > 7 {
		t.Errorf("pings = %d, want roughly 5", got)
	}
}

func TestNoPingsAfterStop(t *testing.T) {
	var count atomic.Int64
	h := New(5*time.Millisecond, func() { count.Add(1) })

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	h.Stop()

	at := count.Load()
	time.Sleep(30 * time.Millisecond)
	if count.Load() != at {
		t.Errorf("pings after Stop: %d -> %d", at, count.Load())
	}
}

func TestStartWhileRunningGuarded(t *testing.T) {
	h := New(time.Hour, func() {})
	if err := h.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer h.Stop()

	if err := h.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if !h.Running() {
		t.Error("heartbeat should still be running after rejected Start")
	}
}

func TestStopIdempotent(t *testing.T) {
	h := New(time.Hour, func() {})

	// Stop before any Start is a no-op.
	h.Stop()

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.Stop()
	h.Stop() // second stop must not panic or block
	if h.Running() {
		t.Error("heartbeat should be stopped")
	}
}

func TestRestartAfterStop(t *testing.T) {
	var count atomic.Int64
	h := New(5*time.Millisecond, func() { count.Add(1) })

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.Stop()

	if err := h.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	h.Stop()

	if count.Load() == 0 {
		t.Error("restarted heartbeat should ping again")
	}
}
