// Package capture runs the audio side of a session: it acquires the
// stream for a resolved target, applies the loopback routing, records
// fixed-interval chunks, resamples them to the pipeline rate, and feeds
// the engine worker. All session resources live in one struct that is
// built on Start and consumed on Stop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiroq/echotap/internal/asr"
	"github.com/tiroq/echotap/internal/audio"
	"github.com/tiroq/echotap/internal/config"
	"github.com/tiroq/echotap/internal/diaglog"
	"github.com/tiroq/echotap/internal/heartbeat"
	"github.com/tiroq/echotap/internal/host"
)

// ErrAlreadyCapturing is returned by Start while a session is active.
// Callers treat it as a no-op, not a failure.
var ErrAlreadyCapturing = errors.New("capture: already capturing")

// EventKind discriminates controller events.
type EventKind int

const (
	EventStarted EventKind = iota
	EventModelLoading
	EventModelReady
	EventTranscript
	EventChunkError
	EventError
	EventHeartbeat
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventModelLoading:
		return "model_loading"
	case EventModelReady:
		return "model_ready"
	case EventTranscript:
		return "transcript"
	case EventChunkError:
		return "chunk_error"
	case EventError:
		return "error"
	case EventHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Event is delivered to the orchestrator on a single ordered channel.
// Events carry the session id so stale ones (emitted by a session that
// was since stopped) can be discarded by the receiver.
type Event struct {
	Kind      EventKind
	SessionID string
	Text      string // EventTranscript
	Err       error  // EventChunkError, EventError
	At        time.Time
}

// Stats is a snapshot of the active session's chunk pipeline. Zero when
// nothing is capturing.
type Stats struct {
	ChunksRead      int64
	ChunksResampled int64
	ChunksGated     int64
	Engine          asr.Stats
}

// EngineFactory builds a fresh engine instance. Each session gets its
// own; the worker discards it wholesale on stop.
type EngineFactory func() (asr.Engine, error)

// session holds every resource of one capture activation.
type session struct {
	id       string
	stream   host.Stream
	loopback host.LoopbackHandle
	worker   *asr.Worker
	hb       *heartbeat.Heartbeat
	stop     chan struct{}
	done     chan struct{}

	chunksRead      atomic.Int64
	chunksResampled atomic.Int64
	chunksGated     atomic.Int64
}

// Controller owns at most one session at a time.
type Controller struct {
	host      host.Host
	cfg       *config.Config
	newEngine EngineFactory
	log       *diaglog.Logger
	events    chan Event

	mu  sync.Mutex
	cur *session
}

// New creates a controller. newEngine is called once per session.
func New(h host.Host, cfg *config.Config, newEngine EngineFactory, log *diaglog.Logger) *Controller {
	if log == nil {
		log = diaglog.NewNoOp()
	}
	return &Controller{
		host:      h,
		cfg:       cfg,
		newEngine: newEngine,
		log:       log,
		events:    make(chan Event, 64),
	}
}

// Events returns the ordered event channel consumed by the orchestrator.
func (c *Controller) Events() <-chan Event { return c.events }

// Active reports whether a session is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

// Stats returns the active session's pipeline counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s == nil {
		return Stats{}
	}
	return Stats{
		ChunksRead:      s.chunksRead.Load(),
		ChunksResampled: s.chunksResampled.Load(),
		ChunksGated:     s.chunksGated.Load(),
		Engine:          s.worker.Stats(),
	}
}

// Start brings up the full capture pipeline for a resolved handle:
// stream, loopback routing, engine worker, chunk recorder, heartbeat.
// On any setup failure everything already acquired is released and the
// error is returned; no session is left behind.
func (c *Controller) Start(ctx context.Context, sessionID string, handle host.StreamHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return ErrAlreadyCapturing
	}

	target := handle.Target.Name

	stream, err := c.host.AcquireStream(ctx, handle)
	if err != nil {
		return fmt.Errorf("capture: acquire stream: %w", err)
	}
	c.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCapture,
		Event:     diaglog.EventStreamAcquire,
		SessionID: sessionID,
		Target:    target,
		Payload:   map[string]interface{}{"sample_rate": stream.SampleRate()},
	})

	// The loopback fix: capturing mutes the source on some platforms,
	// so route it back to the default output for the session's lifetime.
	loopback, err := c.host.EnableLoopback(handle)
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("capture: enable loopback: %w", err)
	}
	c.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCapture,
		Event:     diaglog.EventLoopbackOn,
		SessionID: sessionID,
		Target:    target,
	})

	engine, err := c.newEngine()
	if err != nil {
		_ = loopback.Close()
		_ = stream.Close()
		return fmt.Errorf("capture: build engine: %w", err)
	}
	if sl, ok := engine.(interface {
		SetLogger(*diaglog.Logger, string)
	}); ok {
		sl.SetLogger(c.log, sessionID)
	}

	worker := asr.NewWorker(engine, c.cfg.EngineTimeout(), asr.Callbacks{
		OnModelLoading: func() { c.emit(Event{Kind: EventModelLoading, SessionID: sessionID}) },
		OnModelReady:   func() { c.emit(Event{Kind: EventModelReady, SessionID: sessionID}) },
		OnTranscript:   func(text string) { c.emit(Event{Kind: EventTranscript, SessionID: sessionID, Text: text}) },
		OnChunkError:   func(err error) { c.emit(Event{Kind: EventChunkError, SessionID: sessionID, Err: err}) },
		OnFatal:        func(err error) { c.emit(Event{Kind: EventError, SessionID: sessionID, Err: err}) },
	})
	worker.SetLogger(c.log, sessionID)

	hb := heartbeat.New(c.cfg.HeartbeatInterval(), func() {
		c.emit(Event{Kind: EventHeartbeat, SessionID: sessionID})
		c.log.Log(diaglog.LogEntry{
			Component: diaglog.ComponentHeartbeat,
			Event:     diaglog.EventHeartbeatPing,
			SessionID: sessionID,
		})
	})

	s := &session{
		id:       sessionID,
		stream:   stream,
		loopback: loopback,
		worker:   worker,
		hb:       hb,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.cur = s

	go c.recordLoop(s)
	if err := hb.Start(); err != nil {
		// Fresh heartbeat, cannot already be running.
		c.log.Log(diaglog.LogEntry{
			Component: diaglog.ComponentHeartbeat,
			Event:     diaglog.EventCaptureError,
			SessionID: sessionID,
			Reason:    err.Error(),
		})
	}

	c.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCapture,
		Event:     diaglog.EventCaptureStart,
		SessionID: sessionID,
		Target:    target,
	})
	c.emit(Event{Kind: EventStarted, SessionID: sessionID})
	return nil
}

// Stop tears the session down. Idempotent and callable when nothing
// runs. Each step nil-checks its own resource so a partial failure can
// never leave a dangling handle.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.cur
	if s == nil {
		return
	}
	c.cur = nil

	if s.stop != nil {
		close(s.stop)
	}
	if s.hb != nil {
		s.hb.Stop()
	}
	if s.loopback != nil {
		_ = s.loopback.Close()
		c.log.Log(diaglog.LogEntry{
			Component: diaglog.ComponentCapture,
			Event:     diaglog.EventLoopbackOff,
			SessionID: s.id,
		})
	}
	if s.stream != nil {
		_ = s.stream.Close()
	}
	if s.worker != nil {
		s.worker.Close()
	}

	c.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCapture,
		Event:     diaglog.EventCaptureStop,
		SessionID: s.id,
	})
}

// recordLoop reads one chunk per interval, resamples it to the target
// rate, and hands the resampled slice to the worker. The slice is never
// touched again by this side (ownership transfer).
func (c *Controller) recordLoop(s *session) {
	defer close(s.done)

	interval := c.cfg.ChunkInterval()
	targetRate := c.cfg.Capture.TargetSampleRate

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		samples, err := s.stream.ReadChunk(interval)
		if err != nil {
			select {
			case <-s.stop:
				// Teardown closed the stream under us; not a failure.
				return
			default:
			}
			c.emit(Event{Kind: EventError, SessionID: s.id, Err: fmt.Errorf("capture: read chunk: %w", err)})
			return
		}
		s.chunksRead.Add(1)

		resampled, err := audio.Resample(samples, s.stream.SampleRate(), targetRate)
		if err != nil {
			c.emit(Event{Kind: EventError, SessionID: s.id, Err: fmt.Errorf("capture: resample: %w", err)})
			return
		}
		s.chunksResampled.Add(1)
		c.log.Log(diaglog.LogEntry{
			Component: diaglog.ComponentRecorder,
			Event:     diaglog.EventChunkRecorded,
			SessionID: s.id,
			Payload: map[string]interface{}{
				"src_rate": s.stream.SampleRate(),
				"in":       len(samples),
				"out":      len(resampled),
			},
		})

		// The gate runs after resampling so the resample count is the
		// same whether or not quiet chunks reach the engine.
		if c.cfg.Capture.SilenceGate {
			if audio.RMS(resampled) < c.cfg.Capture.SilenceRMSThreshold {
				s.chunksGated.Add(1)
				c.log.Log(diaglog.LogEntry{
					Component: diaglog.ComponentRecorder,
					Event:     diaglog.EventChunkDropped,
					SessionID: s.id,
					Reason:    "below silence gate",
				})
				continue
			}
		}

		s.worker.Submit(resampled)
	}
}

func (c *Controller) emit(ev Event) {
	ev.At = time.Now()
	c.events <- ev
}
