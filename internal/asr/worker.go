package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/echotap/internal/diaglog"
)

// Callbacks deliver worker lifecycle and results to the capture
// controller. All callbacks run on the worker goroutine; keep them
// non-blocking (the controller forwards onto its event channel).
type Callbacks struct {
	OnModelLoading func()
	OnModelReady   func()
	OnTranscript   func(text string)
	OnChunkError   func(err error) // per-chunk, session keeps running
	OnFatal        func(err error) // model load failed, session must stop
}

// Stats is a snapshot of the worker's chunk accounting.
type Stats struct {
	Inferred    int64
	Dropped     int64
	ChunkErrors int64
}

// Worker owns one Engine and consumes chunks strictly one at a time.
// The queue holds a single pending chunk: a newer chunk replaces an
// unconsumed one (newest wins) and the replaced chunk is counted as
// dropped. The model loads lazily when the first chunk arrives.
type Worker struct {
	engine  Engine
	timeout time.Duration
	cb      Callbacks
	log     *diaglog.Logger
	session string

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu         sync.Mutex
	pending    []float32
	hasPending bool
	started    bool
	closed     bool
	stats      Stats
}

// NewWorker wraps engine. timeout bounds each Transcribe call; on
// expiry the chunk is dropped and the worker keeps consuming.
func NewWorker(engine Engine, timeout time.Duration, cb Callbacks) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		engine:  engine,
		timeout: timeout,
		cb:      cb,
		log:     diaglog.NewNoOp(),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// SetLogger injects the diagnostic logger and session id.
func (w *Worker) SetLogger(l *diaglog.Logger, sessionID string) {
	if l != nil {
		w.log = l
	}
	w.session = sessionID
}

// Submit hands a resampled chunk to the worker and returns immediately.
// Ownership of the slice transfers to the worker. The first Submit
// starts the consumer goroutine and the lazy model load. Submits after
// Close are dropped silently.
func (w *Worker) Submit(samples []float32) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if w.hasPending {
		w.stats.Dropped++
		w.log.Log(diaglog.LogEntry{
			Component: diaglog.ComponentEngine,
			Event:     diaglog.EventChunkDropped,
			SessionID: w.session,
			Reason:    "inference busy, newer chunk wins",
		})
	}
	w.pending = samples
	w.hasPending = true
	start := !w.started
	w.started = true
	w.mu.Unlock()

	if start {
		go w.loop()
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the chunk accounting.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Close cancels any in-flight inference and discards the engine. It
// does not wait for the engine to finish; late results are dropped.
// Idempotent.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	started := w.started
	w.started = true // a later Submit must not spawn the loop
	w.mu.Unlock()

	w.cancel()
	if !started {
		// No goroutine owns the engine yet.
		_ = w.engine.Close()
		close(w.done)
	}
}

// Done is closed when the consumer goroutine has exited and the engine
// is released.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) loop() {
	defer close(w.done)
	defer w.engine.Close()

	if w.cb.OnModelLoading != nil {
		w.cb.OnModelLoading()
	}
	w.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentEngine,
		Event:     diaglog.EventModelLoadStart,
		SessionID: w.session,
		Payload:   map[string]interface{}{"backend": w.engine.Name()},
	})

	if err := w.engine.Load(w.ctx); err != nil {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		if w.ctx.Err() == nil && w.cb.OnFatal != nil {
			w.cb.OnFatal(fmt.Errorf("asr: load model: %w", err))
		}
		return
	}
	if w.ctx.Err() != nil {
		return
	}

	if w.cb.OnModelReady != nil {
		w.cb.OnModelReady()
	}
	w.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentEngine,
		Event:     diaglog.EventModelLoadDone,
		SessionID: w.session,
	})

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.wake:
		}
		for {
			samples, ok := w.take()
			if !ok {
				break
			}
			w.infer(samples)
			if w.ctx.Err() != nil {
				return
			}
		}
	}
}

func (w *Worker) take() ([]float32, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasPending {
		return nil, false
	}
	s := w.pending
	w.pending = nil
	w.hasPending = false
	return s, true
}

func (w *Worker) infer(samples []float32) {
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()

	text, err := w.engine.Transcribe(ctx, samples)
	if err != nil {
		if w.ctx.Err() != nil {
			// Closing; the result no longer matters.
			return
		}
		w.mu.Lock()
		w.stats.ChunkErrors++
		w.mu.Unlock()

		event := diaglog.EventInferenceError
		if errors.Is(err, context.DeadlineExceeded) {
			event = diaglog.EventInferenceTimeout
			err = fmt.Errorf("asr: inference exceeded %s: %w", w.timeout, err)
		}
		w.log.Log(diaglog.LogEntry{
			Component: diaglog.ComponentEngine,
			Event:     event,
			SessionID: w.session,
			Reason:    err.Error(),
		})
		if w.cb.OnChunkError != nil {
			w.cb.OnChunkError(err)
		}
		return
	}

	w.mu.Lock()
	w.stats.Inferred++
	w.mu.Unlock()

	if w.cb.OnTranscript != nil {
		// Empty text is a valid no-speech result and is forwarded as is.
		w.cb.OnTranscript(strings.TrimSpace(text))
	}
}
