package host

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Host for tests and for `capture.host: fake` dev
// runs. Targets are scripted, failures are injectable, and every
// acquire/close is counted so teardown behaviour can be asserted.
type Fake struct {
	mu           sync.Mutex
	targets      map[string]*fakeTarget
	denyResolve  map[string]string
	denyAcquire  map[string]string
	denyLoopback map[string]string
	streams      map[string][]*FakeStream
	loopbacks    map[string][]*FakeLoopback
	resolves     int
	acquires     int
}

type fakeTarget struct {
	rate   int
	chunks [][]float32
	loop   bool
	delay  time.Duration
}

// NewFake returns an empty fake host.
func NewFake() *Fake {
	return &Fake{
		targets:      make(map[string]*fakeTarget),
		denyResolve:  make(map[string]string),
		denyAcquire:  make(map[string]string),
		denyLoopback: make(map[string]string),
		streams:      make(map[string][]*FakeStream),
		loopbacks:    make(map[string][]*FakeLoopback),
	}
}

// AddTarget registers a target whose stream yields the given chunks in
// order and then blocks until the stream is closed.
func (f *Fake) AddTarget(name string, rate int, chunks ...[]float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets[name] = &fakeTarget{rate: rate, chunks: chunks}
}

// AddPacedTarget is AddTarget with a pause before each read, like a
// live source delivering audio in real time. Tests that count every
// chunk use this so the script cannot outrun the inference queue.
func (f *Fake) AddPacedTarget(name string, rate int, delay time.Duration, chunks ...[]float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets[name] = &fakeTarget{rate: rate, chunks: chunks, delay: delay}
}

// AddLoopingTarget registers a target whose stream repeats chunk
// forever, pausing delay between reads.
func (f *Fake) AddLoopingTarget(name string, rate int, chunk []float32, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets[name] = &fakeTarget{rate: rate, chunks: [][]float32{chunk}, loop: true, delay: delay}
}

// RemoveTarget makes the target disappear, as an unplugged device or a
// closed application would.
func (f *Fake) RemoveTarget(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.targets, name)
}

// DenyResolve makes ResolveTarget fail for name with the given reason.
func (f *Fake) DenyResolve(name, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denyResolve[name] = reason
}

// DenyAcquire makes AcquireStream fail for name with the given reason.
func (f *Fake) DenyAcquire(name, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denyAcquire[name] = reason
}

// DenyLoopback makes EnableLoopback fail for name with the given reason.
func (f *Fake) DenyLoopback(name, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denyLoopback[name] = reason
}

// ── Host implementation ──────────────────────────────────────────────────────

func (f *Fake) ResolveTarget(name string) (StreamHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if reason, denied := f.denyResolve[name]; denied {
		return StreamHandle{}, fmt.Errorf("host: resolve %q: %s", name, reason)
	}
	t, ok := f.targets[name]
	if !ok {
		return StreamHandle{}, fmt.Errorf("%w: %q", ErrTargetNotFound, name)
	}
	return StreamHandle{Target: Target{Name: name, SampleRate: t.rate}}, nil
}

func (f *Fake) TargetExists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.targets[name]
	return ok
}

func (f *Fake) AcquireStream(_ context.Context, handle StreamHandle) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	name := handle.Target.Name
	if reason, denied := f.denyAcquire[name]; denied {
		return nil, fmt.Errorf("host: acquire %q: %s", name, reason)
	}
	t, ok := f.targets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTargetNotFound, name)
	}
	s := &FakeStream{
		rate:    t.rate,
		chunks:  append([][]float32(nil), t.chunks...),
		loop:    t.loop,
		delay:   t.delay,
		closeCh: make(chan struct{}),
	}
	f.streams[name] = append(f.streams[name], s)
	return s, nil
}

func (f *Fake) EnableLoopback(handle StreamHandle) (LoopbackHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := handle.Target.Name
	if reason, denied := f.denyLoopback[name]; denied {
		return nil, fmt.Errorf("host: loopback %q: %s", name, reason)
	}
	l := &FakeLoopback{}
	f.loopbacks[name] = append(f.loopbacks[name], l)
	return l, nil
}

// ── Inspection ───────────────────────────────────────────────────────────────

// Acquires returns the total number of AcquireStream calls.
func (f *Fake) Acquires() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires
}

// Streams returns every stream ever opened for the target.
func (f *Fake) Streams(name string) []*FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeStream(nil), f.streams[name]...)
}

// Loopbacks returns every loopback ever opened for the target.
func (f *Fake) Loopbacks(name string) []*FakeLoopback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeLoopback(nil), f.loopbacks[name]...)
}

// OpenStreams counts streams not yet closed, across all targets.
func (f *Fake) OpenStreams() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ss := range f.streams {
		for _, s := range ss {
			if !s.isClosed() {
				n++
			}
		}
	}
	return n
}

// OpenLoopbacks counts loopback handles not yet closed.
func (f *Fake) OpenLoopbacks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ls := range f.loopbacks {
		for _, l := range ls {
			if !l.isClosed() {
				n++
			}
		}
	}
	return n
}

// ── FakeStream ───────────────────────────────────────────────────────────────

// FakeStream plays a script of chunks. After the script runs out (and
// looping is off) ReadChunk blocks until Close, matching a live source
// that simply has no more audio yet.
type FakeStream struct {
	rate  int
	loop  bool
	delay time.Duration

	mu      sync.Mutex
	chunks  [][]float32
	idx     int
	reads   int
	closes  int
	closed  bool
	closeCh chan struct{}
}

func (s *FakeStream) SampleRate() int { return s.rate }

func (s *FakeStream) ReadChunk(_ time.Duration) ([]float32, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.closeCh:
			return nil, ErrStreamClosed
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	if s.idx < len(s.chunks) {
		c := s.chunks[s.idx]
		s.idx++
		s.reads++
		s.mu.Unlock()
		return c, nil
	}
	if s.loop && len(s.chunks) > 0 {
		c := s.chunks[len(s.chunks)-1]
		s.reads++
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	<-s.closeCh
	return nil, ErrStreamClosed
}

// Close unblocks any pending read. Every call is counted so tests can
// verify teardown happens exactly once.
func (s *FakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closeCh)
	return nil
}

// Reads returns how many chunks were handed out.
func (s *FakeStream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Closes returns how many times Close was called.
func (s *FakeStream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *FakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ── FakeLoopback ─────────────────────────────────────────────────────────────

// FakeLoopback counts Close calls.
type FakeLoopback struct {
	mu     sync.Mutex
	closes int
	closed bool
}

func (l *FakeLoopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	l.closed = true
	return nil
}

// Closes returns how many times Close was called.
func (l *FakeLoopback) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

func (l *FakeLoopback) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
