// Package heartbeat emits liveness pings at a fixed cadence while a
// capture session runs. The capture controller owns one instance per
// session and drives it from its start/stop transitions.
package heartbeat

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start when a ticker is already
// active. Callers treat it as a no-op.
var ErrAlreadyRunning = errors.New("heartbeat: already running")

// Heartbeat calls ping every interval until stopped.
type Heartbeat struct {
	interval time.Duration
	ping     func()

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New returns a stopped heartbeat. ping runs on the heartbeat's own
// goroutine; keep it non-blocking.
func New(interval time.Duration, ping func()) *Heartbeat {
	return &Heartbeat{interval: interval, ping: ping}
}

// Start launches the ticker goroutine. A second Start while running
// returns ErrAlreadyRunning and leaves the active ticker untouched.
func (h *Heartbeat) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrAlreadyRunning
	}
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	h.running = true
	go h.loop(h.stop, h.done)
	return nil
}

func (h *Heartbeat) loop(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			h.ping()
		case <-stop:
			return
		}
	}
}

// Stop halts the ticker. Safe to call when not running and safe to call
// repeatedly; every stop path in the capture teardown goes through here.
// When Stop returns, no further ping will be delivered.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	stop, done := h.stop, h.done
	h.mu.Unlock()

	close(stop)
	<-done
}

// Running reports whether the ticker is active.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}
