// Package asr defines the inference engine interface and the worker
// that feeds it resampled audio chunks one at a time.
package asr

import "context"

// Engine is the interface inference backends must implement. An engine
// instance belongs to exactly one capture session: Load runs once
// before the first Transcribe and Close discards the whole instance.
type Engine interface {
	Name() string

	// Load constructs the model. Called lazily by the worker when the
	// first chunk arrives, never again for the same instance.
	Load(ctx context.Context) error

	// Transcribe runs inference on a mono chunk at the pipeline's
	// target rate and returns the recognized text. Empty text is a
	// valid result meaning no speech was detected.
	Transcribe(ctx context.Context, samples []float32) (string, error)

	// Close releases the model. Safe to call on a never-loaded engine.
	Close() error
}

// HealthChecker is implemented by backends that can probe their
// external dependencies (binary present, remote reachable).
type HealthChecker interface {
	HealthCheck() error
}
