package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tiroq/echotap/internal/audio"
	"github.com/tiroq/echotap/internal/diaglog"
)

// PulseHost drives a PulseAudio/PipeWire control tool (pactl) for
// source discovery and loopback routing, and ffmpeg for the PCM stream
// itself. Both are external executables on a narrow exec boundary.
type PulseHost struct {
	pactl  string
	ffmpeg string
	log    *diaglog.Logger
}

// NewPulse returns a host using the given tool paths. Empty paths fall
// back to looking up "pactl" and "ffmpeg" on PATH.
func NewPulse(pactlPath, ffmpegPath string) *PulseHost {
	if pactlPath == "" {
		pactlPath = "pactl"
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &PulseHost{pactl: pactlPath, ffmpeg: ffmpegPath, log: diaglog.NewNoOp()}
}

// SetLogger injects the diagnostic logger.
func (h *PulseHost) SetLogger(l *diaglog.Logger) {
	if l != nil {
		h.log = l
	}
}

func (h *PulseHost) listSources() ([]Source, error) {
	out, err := exec.Command(h.pactl, "list", "short", "sources").Output()
	if err != nil {
		return nil, fmt.Errorf("host: pactl list sources: %w", err)
	}
	return parseShortSources(string(out)), nil
}

// ResolveTarget matches name against the live source list.
func (h *PulseHost) ResolveTarget(name string) (StreamHandle, error) {
	sources, err := h.listSources()
	if err != nil {
		return StreamHandle{}, err
	}
	src, ok := matchSource(sources, name)
	if !ok {
		return StreamHandle{}, fmt.Errorf("%w: %q", ErrTargetNotFound, name)
	}
	rate := src.Rate
	if rate <= 0 {
		rate = 44100
	}
	return StreamHandle{Target: Target{Name: src.Name, SampleRate: rate}}, nil
}

// TargetExists reports whether the source is still listed.
func (h *PulseHost) TargetExists(name string) bool {
	sources, err := h.listSources()
	if err != nil {
		return false
	}
	_, ok := matchSource(sources, name)
	return ok
}

// AcquireStream spawns ffmpeg reading the pulse source and emitting raw
// f32le mono PCM on stdout. Channel 0 is selected explicitly; the
// resampler downstream owns the rate conversion, so the stream keeps
// the source's native rate.
func (h *PulseHost) AcquireStream(ctx context.Context, handle StreamHandle) (Stream, error) {
	rate := handle.Target.SampleRate
	if rate <= 0 {
		rate = 44100
	}

	cmd := exec.CommandContext(ctx, h.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-f", "pulse", "-i", handle.Target.Name,
		"-af", "pan=mono|c0=c0",
		"-ar", fmt.Sprintf("%d", rate),
		"-f", "f32le", "-",
	)
	// Process group so the whole ffmpeg tree dies on Close.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("host: ffmpeg stdout: %w", err)
	}
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("host: start ffmpeg: %w", err)
	}

	h.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCapture,
		Event:     diaglog.EventStreamAcquire,
		Target:    handle.Target.Name,
		Payload:   map[string]interface{}{"sample_rate": rate},
	})

	return &pulseStream{cmd: cmd, out: stdout, stderr: stderr, rate: rate}, nil
}

// EnableLoopback loads module-loopback for the source so the captured
// audio keeps playing on the default output.
func (h *PulseHost) EnableLoopback(handle StreamHandle) (LoopbackHandle, error) {
	out, err := exec.Command(h.pactl, "load-module", "module-loopback",
		"source="+handle.Target.Name, "latency_msec=60").Output()
	if err != nil {
		return nil, fmt.Errorf("host: load loopback module: %w", err)
	}
	id, err := validateModuleID(string(out))
	if err != nil {
		return nil, err
	}

	h.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCapture,
		Event:     diaglog.EventLoopbackOn,
		Target:    handle.Target.Name,
		Payload:   map[string]interface{}{"module_id": id},
	})

	return &pulseLoopback{pactl: h.pactl, id: id, target: handle.Target.Name, log: h.log}, nil
}

// ── pulseStream ──────────────────────────────────────────────────────────────

type pulseStream struct {
	cmd    *exec.Cmd
	out    io.ReadCloser
	stderr *lockedBuffer
	rate   int

	mu       sync.Mutex
	closed   bool
	waitOnce sync.Once
}

func (s *pulseStream) SampleRate() int { return s.rate }

// ReadChunk blocks until d worth of samples has arrived. ffmpeg
// delivers in real time, so a two second chunk takes about two seconds.
func (s *pulseStream) ReadChunk(d time.Duration) ([]float32, error) {
	if s.isClosed() {
		return nil, ErrStreamClosed
	}

	n := int(float64(s.rate) * d.Seconds())
	if n <= 0 {
		return []float32{}, nil
	}

	buf := make([]byte, n*4)
	if _, err := io.ReadFull(s.out, buf); err != nil {
		if s.isClosed() {
			return nil, ErrStreamClosed
		}
		s.wait()
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			return nil, fmt.Errorf("host: pcm stream: %s: %w", msg, err)
		}
		return nil, fmt.Errorf("host: pcm stream: %w", err)
	}
	return audio.DecodeF32LE(buf), nil
}

func (s *pulseStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		// Kill the entire process group
		_ = syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL)
	}
	_ = s.out.Close()
	s.wait()
	return nil
}

func (s *pulseStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *pulseStream) wait() {
	s.waitOnce.Do(func() { _ = s.cmd.Wait() })
}

// ── pulseLoopback ────────────────────────────────────────────────────────────

type pulseLoopback struct {
	pactl  string
	id     string
	target string
	log    *diaglog.Logger

	mu     sync.Mutex
	closed bool
}

func (l *pulseLoopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if err := exec.Command(l.pactl, "unload-module", l.id).Run(); err != nil {
		return fmt.Errorf("host: unload loopback module %s: %w", l.id, err)
	}
	l.log.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCapture,
		Event:     diaglog.EventLoopbackOff,
		Target:    l.target,
		Payload:   map[string]interface{}{"module_id": l.id},
	})
	return nil
}

// ── lockedBuffer ─────────────────────────────────────────────────────────────

// lockedBuffer guards stderr, which ffmpeg writes from its own pipe
// goroutine while ReadChunk may inspect it after a failure.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
