// Package targetwatch polls the host for the presence and identity of
// the active capture target, reporting when it disappears or resolves
// to a different underlying source.
//
// A single missed probe is not enough: sources flicker during device
// renegotiation, so removal is declared only after a consecutive-miss
// streak reaches the configured threshold. Identity is fingerprinted by
// the target's native sample rate; a source that comes back at a
// different rate is a different stream and the session must not keep
// reading it.
package targetwatch

import (
	"context"
	"sync"
	"time"

	"github.com/tiroq/echotap/internal/diaglog"
	"github.com/tiroq/echotap/internal/host"
)

// Prober answers whether a capture target is still present and what it
// currently resolves to. Host implementations satisfy it.
type Prober interface {
	TargetExists(name string) bool
	ResolveTarget(name string) (host.StreamHandle, error)
}

// Watcher polls one target at a time. It is armed with Watch when a
// session starts and disarmed (empty target) when it stops.
type Watcher struct {
	prober    Prober
	interval  time.Duration
	threshold int
	onRemoved func(target string)
	onChanged func(target string)
	log       *diaglog.Logger

	mu     sync.Mutex
	target string
	misses int
	rate   int // fingerprint from the first successful probe
}

// New builds a watcher. threshold is the number of consecutive failed
// probes before the target counts as removed. onRemoved and onChanged
// run on the watcher goroutine; a nil logger disables diagnostics.
func New(prober Prober, interval time.Duration, threshold int, onRemoved, onChanged func(string), log *diaglog.Logger) *Watcher {
	if log == nil {
		log = diaglog.NewNoOp()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if threshold <= 0 {
		threshold = 1
	}
	return &Watcher{
		prober:    prober,
		interval:  interval,
		threshold: threshold,
		onRemoved: onRemoved,
		onChanged: onChanged,
		log:       log,
	}
}

// Watch sets the target under watch. Re-arming with the current target
// is a no-op so callers may invoke it on every status change; a new
// name resets the miss streak and the identity fingerprint. An empty
// name disarms the watcher.
func (w *Watcher) Watch(target string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target == target {
		return
	}
	w.target = target
	w.misses = 0
	w.rate = 0
}

// Target returns the name currently under watch.
func (w *Watcher) Target() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.target
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	w.mu.Lock()
	target := w.target
	w.mu.Unlock()
	if target == "" {
		return
	}

	exists := w.prober.TargetExists(target)
	rate := 0
	if exists {
		// Resolution errors leave rate at zero; existence alone governs
		// the removal streak and the fingerprint check waits a round.
		if handle, err := w.prober.ResolveTarget(target); err == nil {
			rate = handle.Target.SampleRate
		}
	}

	w.mu.Lock()
	// The watch may have moved while the probes ran.
	if w.target != target {
		w.mu.Unlock()
		return
	}

	if exists {
		w.misses = 0
		changed := false
		if rate > 0 {
			if w.rate == 0 {
				w.rate = rate
			} else if rate != w.rate {
				changed = true
				w.target = ""
				w.rate = 0
			}
		}
		w.mu.Unlock()

		if !changed {
			return
		}
		w.log.Log(diaglog.LogEntry{
			Component: diaglog.ComponentTargetWatch,
			Event:     diaglog.EventTargetChanged,
			Target:    target,
			Payload:   map[string]interface{}{"sample_rate": rate},
		})
		if w.onChanged != nil {
			w.onChanged(target)
		}
		return
	}

	w.misses++
	misses := w.misses
	tripped := misses >= w.threshold
	if tripped {
		w.target = ""
		w.misses = 0
		w.rate = 0
	}
	w.mu.Unlock()

	if !tripped {
		return
	}
	w.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentTargetWatch,
		Event:     diaglog.EventTargetLost,
		Target:    target,
		Payload:   map[string]interface{}{"misses": misses},
	})
	if w.onRemoved != nil {
		w.onRemoved(target)
	}
}
