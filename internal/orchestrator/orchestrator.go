// Package orchestrator owns the capture session lifecycle.
//
// A single run loop serialises commands from the control surfaces and
// events from the capture pipeline, so session state never needs a
// lock. The exported methods are safe to call from any goroutine while
// Run is active.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tiroq/echotap/internal/capture"
	"github.com/tiroq/echotap/internal/config"
	"github.com/tiroq/echotap/internal/diaglog"
	"github.com/tiroq/echotap/internal/fileutil"
	"github.com/tiroq/echotap/internal/host"
	"github.com/tiroq/echotap/internal/transcript"
)

// ErrNotRunning is returned by commands posted after Run has returned.
var ErrNotRunning = errors.New("orchestrator: not running")

// CaptureController is the capture pipeline the orchestrator drives.
// *capture.Controller satisfies it; tests substitute a fake.
type CaptureController interface {
	Start(ctx context.Context, sessionID string, handle host.StreamHandle) error
	Stop()
	Stats() capture.Stats
	Events() <-chan capture.Event
}

// TargetResolver matches a target name to a capturable stream handle.
// Host implementations satisfy it.
type TargetResolver interface {
	ResolveTarget(name string) (host.StreamHandle, error)
}

var (
	_ CaptureController = (*capture.Controller)(nil)
	_ TargetResolver    = (host.Host)(nil)
)

// Publisher receives transcript entries for live consumers. Publish
// must not block; delivery is best effort.
type Publisher interface {
	Publish(Entry)
}

// Session is the live capture session. A fresh value is built for every
// start and discarded wholesale on stop; the stream handle never
// outlives it.
type Session struct {
	ID        string
	Target    string
	Handle    host.StreamHandle
	StartedAt time.Time

	LastHeartbeat time.Time
	lines         []transcript.Line
}

// ChunkStats summarises pipeline throughput for status surfaces.
type ChunkStats struct {
	Read      int64 `json:"read"`
	Resampled int64 `json:"resampled"`
	Gated     int64 `json:"gated"`
	Inferred  int64 `json:"inferred"`
	Dropped   int64 `json:"dropped"`
	Errors    int64 `json:"errors"`
}

func chunkStats(s capture.Stats) ChunkStats {
	return ChunkStats{
		Read:      s.ChunksRead,
		Resampled: s.ChunksResampled,
		Gated:     s.ChunksGated,
		Inferred:  s.Engine.Inferred,
		Dropped:   s.Engine.Dropped,
		Errors:    s.Engine.ChunkErrors,
	}
}

// Status is a point-in-time snapshot of the orchestrator, shaped for
// the status surfaces (status.json, the sink status endpoint).
type Status struct {
	State         string     `json:"state"`
	Indicator     string     `json:"indicator"`
	Target        string     `json:"target,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	DurationSec   int64      `json:"duration_sec"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	LastError     string     `json:"last_error,omitempty"`
	Chunks        ChunkStats `json:"chunks"`
	HistoryLen    int        `json:"history_len"`
}

type commandKind int

const (
	cmdTrigger commandKind = iota
	cmdStart
	cmdStop
	cmdTargetRemoved
	cmdTargetChanged
)

func (k commandKind) String() string {
	switch k {
	case cmdTrigger:
		return "trigger"
	case cmdStart:
		return "start"
	case cmdStop:
		return "stop"
	case cmdTargetRemoved:
		return "target_removed"
	case cmdTargetChanged:
		return "target_changed"
	default:
		return fmt.Sprintf("commandKind(%d)", int(k))
	}
}

type command struct {
	kind   commandKind
	target string
	reply  chan error
}

// Orchestrator coordinates capture sessions, transcript history, and
// the status surface.
type Orchestrator struct {
	cfg      *config.Config
	resolver TargetResolver
	ctrl     CaptureController
	history  *History
	log      *diaglog.Logger

	publisher Publisher
	onStatus  func(Status)

	commands chan command
	done     chan struct{}

	// Owned by the run loop.
	state     State
	indicator Indicator
	session   *Session
	lastError string
	lastStats capture.Stats

	status atomic.Value // Status
}

// New builds an orchestrator around the given capture controller. A nil
// logger disables diagnostics.
func New(cfg *config.Config, resolver TargetResolver, ctrl CaptureController, log *diaglog.Logger) *Orchestrator {
	if log == nil {
		log = diaglog.NewNoOp()
	}
	o := &Orchestrator{
		cfg:       cfg,
		resolver:  resolver,
		ctrl:      ctrl,
		history:   NewHistory(cfg.History.MaxEntries, cfg.HistoryMaxAge()),
		log:       log,
		commands:  make(chan command, 16),
		done:      make(chan struct{}),
		state:     StateIdle,
		indicator: IndicatorIdle,
	}
	o.status.Store(o.snapshot())
	return o
}

// SetPublisher wires the live transcript consumer. Call before Run.
func (o *Orchestrator) SetPublisher(p Publisher) { o.publisher = p }

// OnStatus registers a callback invoked from the run loop after every
// status change. Call before Run.
func (o *Orchestrator) OnStatus(fn func(Status)) { o.onStatus = fn }

// History returns the transcript history ring.
func (o *Orchestrator) History() *History { return o.history }

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Run processes commands and capture events until ctx is cancelled. Any
// active session is stopped, and its transcript flushed, on the way out.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)
	events := o.ctrl.Events()
	for {
		select {
		case <-ctx.Done():
			o.stopSession("shutdown", IndicatorIdle)
			return
		case cmd := <-o.commands:
			cmd.reply <- o.handleCommand(ctx, cmd)
		case ev := <-events:
			o.handleEvent(ev)
		}
	}
}

// Trigger toggles capture for target: an active session for the same
// target stops, otherwise a new session starts.
func (o *Orchestrator) Trigger(target string) error {
	return o.post(cmdTrigger, target)
}

// Start begins capture for target. Starting the already-active target
// again is a no-op; a different target while busy is an error.
func (o *Orchestrator) Start(target string) error {
	return o.post(cmdStart, target)
}

// Stop ends the active session. Stopping when idle is a no-op, aside
// from repainting a leftover error indicator to idle. A non-empty
// target only stops a session for that same target.
func (o *Orchestrator) Stop(target string) error {
	return o.post(cmdStop, target)
}

// HandleTargetRemoved stops the active session when its capture target
// disappears from the host.
func (o *Orchestrator) HandleTargetRemoved(target string) {
	_ = o.post(cmdTargetRemoved, target)
}

// HandleTargetChanged stops the active session when its capture target
// resolves to a different underlying source. Capture never continues
// against a target whose identity changed under it.
func (o *Orchestrator) HandleTargetChanged(target string) {
	_ = o.post(cmdTargetChanged, target)
}

// Status returns the latest published snapshot. Safe at any time, even
// before Run starts.
func (o *Orchestrator) Status() Status {
	return o.status.Load().(Status)
}

func (o *Orchestrator) post(kind commandKind, target string) error {
	cmd := command{kind: kind, target: target, reply: make(chan error, 1)}
	select {
	case o.commands <- cmd:
	case <-o.done:
		return ErrNotRunning
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-o.done:
		return ErrNotRunning
	}
}

func (o *Orchestrator) handleCommand(ctx context.Context, cmd command) error {
	o.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventCommandReceived,
		Target:    cmd.target,
		Payload:   map[string]interface{}{"command": cmd.kind.String()},
	})
	switch cmd.kind {
	case cmdTrigger:
		return o.handleTrigger(ctx, cmd.target)
	case cmdStart:
		return o.handleStart(ctx, cmd.target)
	case cmdStop:
		return o.handleStop(cmd.target)
	case cmdTargetRemoved:
		o.handleTargetGone(cmd.target, "removed")
		return nil
	case cmdTargetChanged:
		o.handleTargetGone(cmd.target, "changed")
		return nil
	default:
		return fmt.Errorf("orchestrator: unknown command %d", cmd.kind)
	}
}

func (o *Orchestrator) handleTrigger(ctx context.Context, target string) error {
	if o.session != nil && o.session.Target == target {
		o.stopSession("toggled off", IndicatorIdle)
		return nil
	}
	if o.session != nil {
		return fmt.Errorf("orchestrator: busy capturing %q", o.session.Target)
	}
	return o.startSession(ctx, target)
}

func (o *Orchestrator) handleStart(ctx context.Context, target string) error {
	if o.session != nil {
		if o.session.Target == target {
			return nil
		}
		return fmt.Errorf("orchestrator: busy capturing %q", o.session.Target)
	}
	return o.startSession(ctx, target)
}

func (o *Orchestrator) handleStop(target string) error {
	if o.session == nil {
		// Stop doubles as acknowledgement: an error lamp left behind by
		// a failed or torn-down session repaints to idle.
		if o.indicator == IndicatorError {
			o.indicator = IndicatorIdle
			o.publishStatus()
		}
		return nil
	}
	if target != "" && o.session.Target != target {
		return nil
	}
	o.stopSession("stop requested", IndicatorIdle)
	return nil
}

func (o *Orchestrator) handleTargetGone(target, how string) {
	if o.session == nil || o.session.Target != target {
		return
	}
	o.lastError = fmt.Sprintf("target %q %s", target, how)
	o.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventTargetLost,
		SessionID: o.session.ID,
		Target:    target,
		Reason:    how,
	})
	o.stopSession("target "+how, IndicatorIdle)
}

func (o *Orchestrator) startSession(ctx context.Context, target string) error {
	if target == "" {
		return errors.New("orchestrator: empty target")
	}
	next, err := Transition(o.state, EventStartRequested)
	if err != nil {
		return err
	}
	o.setState(next)
	o.indicator = IndicatorWorking
	o.lastError = ""
	o.publishStatus()

	handle, err := o.resolver.ResolveTarget(target)
	if err != nil {
		err = fmt.Errorf("orchestrator: resolve target: %w", err)
		// The session never existed; nothing was denied, so no error lamp.
		o.failStart(target, err, IndicatorIdle)
		return err
	}

	s := &Session{
		ID:        uuid.NewString(),
		Target:    target,
		Handle:    handle,
		StartedAt: time.Now(),
	}
	if err := o.ctrl.Start(ctx, s.ID, handle); err != nil {
		err = fmt.Errorf("orchestrator: start capture: %w", err)
		// Acquisition was refused or failed; that is a capture error and
		// the indicator must say so.
		o.failStart(target, err, IndicatorError)
		return err
	}
	o.session = s
	o.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventSessionStart,
		SessionID: s.ID,
		Target:    target,
	})
	o.publishStatus()
	return nil
}

// failStart reverts a session that never came up: back to Idle with the
// error text recorded for the status surface. final distinguishes a
// target that could not be resolved (plain idle) from a capture that
// was denied or failed to come up (error lamp).
func (o *Orchestrator) failStart(target string, err error, final Indicator) {
	o.lastError = err.Error()
	if next, terr := Transition(o.state, EventStopRequested); terr == nil {
		o.setState(next)
	}
	o.indicator = final
	o.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventCaptureError,
		Target:    target,
		Reason:    err.Error(),
	})
	o.publishStatus()
}

func (o *Orchestrator) handleEvent(ev capture.Event) {
	if o.session == nil || ev.SessionID != o.session.ID {
		// A stop won the race against the pipeline; whatever it still
		// produced is discarded.
		if ev.Kind == capture.EventTranscript {
			o.log.Log(diaglog.LogEntry{
				Component: diaglog.ComponentOrchestrator,
				Event:     diaglog.EventTranscriptLate,
				SessionID: ev.SessionID,
			})
		}
		return
	}
	switch ev.Kind {
	case capture.EventStarted:
		next, err := Transition(o.state, EventCaptureStarted)
		if err != nil {
			o.logInvalidTransition(err)
			return
		}
		o.setState(next)
		o.indicator = IndicatorActive
		o.publishStatus()
	case capture.EventModelLoading:
		o.indicator = IndicatorWorking
		o.publishStatus()
	case capture.EventModelReady:
		o.indicator = IndicatorActive
		o.publishStatus()
	case capture.EventTranscript:
		o.handleTranscript(ev)
	case capture.EventChunkError:
		// Non-fatal; the engine worker already logged it and the chunk
		// error counter picks it up.
	case capture.EventError:
		o.handleCaptureError(ev)
	case capture.EventHeartbeat:
		o.session.LastHeartbeat = ev.At
		o.publishStatus()
	}
}

func (o *Orchestrator) handleTranscript(ev capture.Event) {
	entry := Entry{
		Text:      ev.Text,
		EmittedAt: ev.At,
		SessionID: ev.SessionID,
		Target:    o.session.Target,
	}
	// Empty text is a valid inference result (silence); consumers see
	// it but it never lands in history or the transcript file.
	if entry.Text != "" {
		o.history.Add(entry)
		o.session.lines = append(o.session.lines, transcript.Line{Text: entry.Text, At: entry.EmittedAt})
	}
	if o.publisher != nil {
		o.publisher.Publish(entry)
	}
	o.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventTranscriptEmit,
		SessionID: ev.SessionID,
		Payload:   map[string]interface{}{"chars": len(ev.Text)},
	})
	o.publishStatus()
}

func (o *Orchestrator) handleCaptureError(ev capture.Event) {
	next, err := Transition(o.state, EventCaptureFailed)
	if err != nil {
		o.logInvalidTransition(err)
		return
	}
	o.setState(next)
	o.indicator = IndicatorError
	o.lastError = ev.Err.Error()
	o.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventCaptureError,
		SessionID: ev.SessionID,
		Target:    o.session.Target,
		Reason:    ev.Err.Error(),
	})
	// Forced stop: resources are released even when the failure arrived
	// mid-chunk, and the state lands back in Idle with LastError set.
	o.stopSession("capture error", IndicatorError)
}

// stopSession tears down the active session exactly once. The stats
// snapshot is taken before Stop while the engine worker still exists.
func (o *Orchestrator) stopSession(reason string, final Indicator) {
	if o.session == nil {
		return
	}
	s := o.session
	stats := o.ctrl.Stats()
	o.ctrl.Stop()
	o.session = nil
	o.lastStats = stats

	next, err := Transition(o.state, EventStopRequested)
	if err != nil {
		o.logInvalidTransition(err)
	} else {
		o.setState(next)
	}
	o.indicator = final

	o.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventSessionStop,
		SessionID: s.ID,
		Target:    s.Target,
		Reason:    reason,
		Payload: map[string]interface{}{
			"duration_ms": time.Since(s.StartedAt).Milliseconds(),
			"lines":       len(s.lines),
			"inferred":    stats.Engine.Inferred,
			"dropped":     stats.Engine.Dropped,
		},
	})

	o.flushTranscript(s, stats, reason)
	o.publishStatus()
}

// flushTranscript writes the session transcript and its metadata
// sidecar. Best effort: a write failure never fails the stop.
func (o *Orchestrator) flushTranscript(s *Session, stats capture.Stats, reason string) {
	if !o.cfg.Transcripts.Enabled || len(s.lines) == 0 {
		return
	}
	stoppedAt := time.Now()
	sess := transcript.Session{
		ID:        s.ID,
		Target:    s.Target,
		StartedAt: s.StartedAt,
		StoppedAt: stoppedAt,
	}
	paths, err := transcript.WriteAll(o.cfg.Transcripts.Dir, sess, s.lines, o.cfg.Transcripts.Formats)
	if err != nil {
		o.log.Log(diaglog.LogEntry{
			Component: diaglog.ComponentOrchestrator,
			Event:     diaglog.EventTranscriptSaved,
			SessionID: s.ID,
			Reason:    err.Error(),
		})
		return
	}
	meta := &fileutil.SessionMetadata{
		Version:    "1",
		SessionID:  s.ID,
		Target:     s.Target,
		StartedAt:  s.StartedAt,
		StoppedAt:  stoppedAt,
		Duration:   stoppedAt.Sub(s.StartedAt).Round(time.Second).String(),
		DurationMs: stoppedAt.Sub(s.StartedAt).Milliseconds(),
		SourceRate: s.Handle.Target.SampleRate,
		Segments:   len(s.lines),
		OutputFile: paths[0],
		Engine: &fileutil.EngineMeta{
			Backend:        o.cfg.Engine.Backend,
			Model:          o.cfg.Engine.Model,
			Language:       o.cfg.Engine.Language,
			ChunksInferred: stats.Engine.Inferred,
			ChunksDropped:  stats.Engine.Dropped,
			ChunkErrors:    stats.Engine.ChunkErrors,
		},
		StoppedReason: reason,
	}
	if err := fileutil.WriteMetadata(paths[0], meta); err != nil {
		o.log.Log(diaglog.LogEntry{
			Component: diaglog.ComponentOrchestrator,
			Event:     diaglog.EventTranscriptSaved,
			SessionID: s.ID,
			Reason:    err.Error(),
		})
		return
	}
	o.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventTranscriptSaved,
		SessionID: s.ID,
		Payload:   map[string]interface{}{"files": paths},
	})
}

func (o *Orchestrator) setState(next State) {
	if next == o.state {
		return
	}
	o.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventStateChange,
		Payload:   map[string]interface{}{"from": o.state.String(), "to": next.String()},
	})
	o.state = next
}

func (o *Orchestrator) logInvalidTransition(err error) {
	o.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentOrchestrator,
		Event:     diaglog.EventStateChange,
		Reason:    err.Error(),
	})
}

func (o *Orchestrator) snapshot() Status {
	st := Status{
		State:      o.state.String(),
		Indicator:  string(o.indicator),
		LastError:  o.lastError,
		Chunks:     chunkStats(o.lastStats),
		HistoryLen: o.history.Len(),
	}
	if s := o.session; s != nil {
		st.Target = s.Target
		st.SessionID = s.ID
		st.StartedAt = s.StartedAt
		st.DurationSec = int64(time.Since(s.StartedAt).Seconds())
		st.LastHeartbeat = s.LastHeartbeat
		st.Chunks = chunkStats(o.ctrl.Stats())
	}
	return st
}

func (o *Orchestrator) publishStatus() {
	st := o.snapshot()
	o.status.Store(st)
	if o.onStatus != nil {
		o.onStatus(st)
	}
}
