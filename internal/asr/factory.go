package asr

import (
	"fmt"

	"github.com/tiroq/echotap/internal/asr/remotews"
	"github.com/tiroq/echotap/internal/asr/whispercli"
	"github.com/tiroq/echotap/internal/config"
)

// Compile-time checks that every backend satisfies Engine.
var (
	_ Engine = (*whispercli.Backend)(nil)
	_ Engine = (*remotews.Client)(nil)
	_ Engine = (*Stub)(nil)
)

// NewEngine builds the configured inference backend. The engine is not
// loaded here; the worker loads it lazily when the first chunk arrives.
func NewEngine(cfg *config.Config) (Engine, error) {
	switch cfg.Engine.Backend {
	case config.BackendWhisperCLI:
		return whispercli.New(whispercli.Config{
			BinaryPath:    cfg.Engine.BinaryPath,
			Model:         cfg.Engine.Model,
			ModelPath:     cfg.Engine.ModelPath,
			ManifestPath:  cfg.Engine.ModelsManifest,
			Language:      cfg.Engine.Language,
			WindowSeconds: cfg.Engine.WindowSeconds,
			StrideSeconds: cfg.Engine.StrideSeconds,
			SampleRate:    cfg.Capture.TargetSampleRate,
		}), nil

	case config.BackendRemoteWS:
		return remotews.New(remotews.Config{
			URL:           cfg.Engine.RemoteURL,
			Token:         cfg.Engine.RemoteToken,
			Language:      cfg.Engine.Language,
			SampleRate:    cfg.Capture.TargetSampleRate,
			WindowSeconds: cfg.Engine.WindowSeconds,
			StrideSeconds: cfg.Engine.StrideSeconds,
		}), nil

	case config.BackendStub:
		return NewStub(), nil

	default:
		return nil, fmt.Errorf("asr: unknown backend %q", cfg.Engine.Backend)
	}
}
