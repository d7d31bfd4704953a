package asr

import (
	"context"
	"sync"
	"time"
)

// Stub is a deterministic in-process engine used by tests and by
// `engine.backend: stub` dev runs. Replies are handed out in order;
// when the list is exhausted (or empty) every chunk transcribes to "".
type Stub struct {
	LoadDelay time.Duration
	LoadErr   error

	mu          sync.Mutex
	replies     []string
	delay       time.Duration
	gate        chan struct{}
	nextErr     error
	loads       int
	transcribes int
	closes      int
	chunks      [][]float32
	started     chan struct{}
}

// NewStub returns a stub engine with the given canned replies.
func NewStub(replies ...string) *Stub {
	return &Stub{
		replies: replies,
		started: make(chan struct{}, 64),
	}
}

func (s *Stub) Name() string { return "stub" }

// Load honors ctx during LoadDelay and then returns LoadErr.
func (s *Stub) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()

	if s.LoadDelay > 0 {
		select {
		case <-time.After(s.LoadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.LoadErr
}

// Transcribe records the chunk, waits out the configured delay (or the
// context, whichever ends first), and returns the next reply.
func (s *Stub) Transcribe(ctx context.Context, samples []float32) (string, error) {
	s.mu.Lock()
	s.transcribes++
	s.chunks = append(s.chunks, samples)
	delay := s.delay
	gate := s.gate
	s.mu.Unlock()

	select {
	case s.started <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextErr != nil {
		err := s.nextErr
		s.nextErr = nil
		return "", err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func (s *Stub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// SetDelay makes each Transcribe take d.
func (s *Stub) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Gate makes each Transcribe block until a matching Release call.
func (s *Stub) Gate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
}

// Release unblocks one gated Transcribe. Blocks until a Transcribe is
// waiting, which makes test sequencing deterministic.
func (s *Stub) Release() {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	gate <- struct{}{}
}

// FailNext makes the next Transcribe return err.
func (s *Stub) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextErr = err
}

// Started receives one value each time a Transcribe call begins.
func (s *Stub) Started() <-chan struct{} { return s.started }

// Loads returns how many times Load was called.
func (s *Stub) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// Transcribes returns how many Transcribe calls were made.
func (s *Stub) Transcribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcribes
}

// Closes returns how many times Close was called.
func (s *Stub) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Chunks returns every chunk passed to Transcribe, in order.
func (s *Stub) Chunks() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]float32(nil), s.chunks...)
}
