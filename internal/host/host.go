// Package host is the platform boundary for audio capture. It resolves
// capture targets, acquires PCM streams, and manages the loopback
// routing that keeps captured audio audible on the default output.
package host

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTargetNotFound is returned when a target name matches no
	// available source.
	ErrTargetNotFound = errors.New("host: target not found")

	// ErrStreamClosed is returned by ReadChunk after Close.
	ErrStreamClosed = errors.New("host: stream closed")
)

// Target identifies a capturable audio source and its native rate.
type Target struct {
	Name       string
	SampleRate int
}

// StreamHandle is the token produced by target resolution. It is valid
// for a single capture activation and is never persisted.
type StreamHandle struct {
	Target Target
}

// Stream delivers mono float32 PCM from an acquired source. ReadChunk
// blocks until d worth of audio has arrived or the stream fails.
type Stream interface {
	SampleRate() int
	ReadChunk(d time.Duration) ([]float32, error)
	Close() error
}

// LoopbackHandle undoes the monitor routing applied for a capture.
type LoopbackHandle interface {
	Close() error
}

// Host is implemented by the pulse host and the in-memory fake.
type Host interface {
	// ResolveTarget matches name against the available sources and
	// returns a handle carrying the source's native sample rate.
	ResolveTarget(name string) (StreamHandle, error)

	// TargetExists reports whether the target is still present. Used by
	// the liveness watcher while a session runs.
	TargetExists(name string) bool

	// AcquireStream opens the PCM stream for a resolved handle. The
	// stream stops when ctx is cancelled or Close is called.
	AcquireStream(ctx context.Context, handle StreamHandle) (Stream, error)

	// EnableLoopback routes the captured source back to the default
	// output. Capturing mutes the source on some platforms, so a
	// session without this routing records audio the user cannot hear.
	EnableLoopback(handle StreamHandle) (LoopbackHandle, error)
}
