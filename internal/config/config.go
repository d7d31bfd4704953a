// Package config loads the daemon configuration from
// ~/.config/echotap/config.yaml with ECHOTAP_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Engine backend names accepted by engine.backend.
const (
	BackendWhisperCLI = "whisper_cli"
	BackendRemoteWS   = "remote_ws"
	BackendStub       = "stub"
)

// Capture host names accepted by capture.host.
const (
	HostPulse = "pulse"
	HostFake  = "fake"
)

// Config holds all daemon configuration.
type Config struct {
	Capture     CaptureConfig    `mapstructure:"capture"`
	Engine      EngineConfig     `mapstructure:"engine"`
	Sink        SinkConfig       `mapstructure:"sink"`
	History     HistoryConfig    `mapstructure:"history"`
	Watch       WatchConfig      `mapstructure:"watch"`
	Transcripts TranscriptConfig `mapstructure:"transcripts"`
}

// CaptureConfig controls the capture pipeline.
type CaptureConfig struct {
	Host                     string  `mapstructure:"host"`              // "pulse" or "fake"
	ChunkIntervalMs          int     `mapstructure:"chunk_interval_ms"` // recorder cadence
	TargetSampleRate         int     `mapstructure:"target_sample_rate"`
	HeartbeatIntervalSeconds int     `mapstructure:"heartbeat_interval_seconds"`
	SilenceGate              bool    `mapstructure:"silence_gate"` // skip inference on quiet chunks
	SilenceRMSThreshold      float64 `mapstructure:"silence_rms_threshold"`
}

// EngineConfig selects and tunes the inference backend.
type EngineConfig struct {
	Backend        string `mapstructure:"backend"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // per-chunk inference bound
	Language       string `mapstructure:"language"`
	WindowSeconds  int    `mapstructure:"window_seconds"`
	StrideSeconds  int    `mapstructure:"stride_seconds"`
	BinaryPath     string `mapstructure:"binary_path"`
	Model          string `mapstructure:"model"`
	ModelPath      string `mapstructure:"model_path"`      // overrides manifest lookup
	ModelsManifest string `mapstructure:"models_manifest"` // defaults to <config dir>/models.yaml
	RemoteURL      string `mapstructure:"remote_url"`
	RemoteToken    string `mapstructure:"remote_token"`
}

// SinkConfig controls the live transcript endpoint.
type SinkConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// HistoryConfig bounds the in-memory transcript ring.
type HistoryConfig struct {
	MaxEntries    int `mapstructure:"max_entries"`
	MaxAgeMinutes int `mapstructure:"max_age_minutes"`
}

// WatchConfig controls target liveness polling.
type WatchConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	LostThreshold       int `mapstructure:"lost_threshold"` // consecutive misses before stop
}

// TranscriptConfig controls transcript files written on session stop.
type TranscriptConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Dir     string   `mapstructure:"dir"`
	Formats []string `mapstructure:"formats"` // "txt", "md"
}

// Default returns the configuration used when no file or env overrides
// are present.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Host:                     HostPulse,
			ChunkIntervalMs:          2000,
			TargetSampleRate:         16000,
			HeartbeatIntervalSeconds: 20,
			SilenceGate:              false,
			SilenceRMSThreshold:      0.0075,
		},
		Engine: EngineConfig{
			Backend:        BackendWhisperCLI,
			TimeoutSeconds: 30,
			Language:       "en",
			WindowSeconds:  30,
			StrideSeconds:  5,
			BinaryPath:     "whisper-cli",
			Model:          "small",
			RemoteURL:      "ws://127.0.0.1:43007/v1/stream",
		},
		Sink: SinkConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:8787",
		},
		History: HistoryConfig{
			MaxEntries:    200,
			MaxAgeMinutes: 10,
		},
		Watch: WatchConfig{
			PollIntervalSeconds: 2,
			LostThreshold:       3,
		},
		Transcripts: TranscriptConfig{
			Enabled: true,
			Dir:     defaultTranscriptDir(),
			Formats: []string{"txt", "md"},
		},
	}
}

// Load reads cfgFile (or ~/.config/echotap/config.yaml when empty),
// applies ECHOTAP_* environment overrides, validates, and returns the
// result. A missing config file is not an error; defaults apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ECHOTAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.Transcripts.Dir == "" {
		cfg.Transcripts.Dir = defaultTranscriptDir()
	}
	if cfg.Engine.ModelsManifest == "" {
		cfg.Engine.ModelsManifest = filepath.Join(Dir(), "models.yaml")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even
// without a config file on disk.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("capture.host", d.Capture.Host)
	v.SetDefault("capture.chunk_interval_ms", d.Capture.ChunkIntervalMs)
	v.SetDefault("capture.target_sample_rate", d.Capture.TargetSampleRate)
	v.SetDefault("capture.heartbeat_interval_seconds", d.Capture.HeartbeatIntervalSeconds)
	v.SetDefault("capture.silence_gate", d.Capture.SilenceGate)
	v.SetDefault("capture.silence_rms_threshold", d.Capture.SilenceRMSThreshold)
	v.SetDefault("engine.backend", d.Engine.Backend)
	v.SetDefault("engine.timeout_seconds", d.Engine.TimeoutSeconds)
	v.SetDefault("engine.language", d.Engine.Language)
	v.SetDefault("engine.window_seconds", d.Engine.WindowSeconds)
	v.SetDefault("engine.stride_seconds", d.Engine.StrideSeconds)
	v.SetDefault("engine.binary_path", d.Engine.BinaryPath)
	v.SetDefault("engine.model", d.Engine.Model)
	v.SetDefault("engine.model_path", d.Engine.ModelPath)
	v.SetDefault("engine.models_manifest", d.Engine.ModelsManifest)
	v.SetDefault("engine.remote_url", d.Engine.RemoteURL)
	v.SetDefault("engine.remote_token", d.Engine.RemoteToken)
	v.SetDefault("sink.enabled", d.Sink.Enabled)
	v.SetDefault("sink.listen_addr", d.Sink.ListenAddr)
	v.SetDefault("history.max_entries", d.History.MaxEntries)
	v.SetDefault("history.max_age_minutes", d.History.MaxAgeMinutes)
	v.SetDefault("watch.poll_interval_seconds", d.Watch.PollIntervalSeconds)
	v.SetDefault("watch.lost_threshold", d.Watch.LostThreshold)
	v.SetDefault("transcripts.enabled", d.Transcripts.Enabled)
	v.SetDefault("transcripts.dir", d.Transcripts.Dir)
	v.SetDefault("transcripts.formats", d.Transcripts.Formats)
}

// Validate checks Config for validity
func (c *Config) Validate() error {
	if c.Capture.Host != HostPulse && c.Capture.Host != HostFake {
		return fmt.Errorf("capture.host must be %q or %q, got %q", HostPulse, HostFake, c.Capture.Host)
	}

	// ChunkIntervalMs must be between 500 and 10000 milliseconds
	if c.Capture.ChunkIntervalMs < 500 || c.Capture.ChunkIntervalMs > 10000 {
		return fmt.Errorf("capture.chunk_interval_ms must be between 500 and 10000, got %d", c.Capture.ChunkIntervalMs)
	}

	if c.Capture.TargetSampleRate < 8000 || c.Capture.TargetSampleRate > 48000 {
		return fmt.Errorf("capture.target_sample_rate must be between 8000 and 48000, got %d", c.Capture.TargetSampleRate)
	}

	if c.Capture.HeartbeatIntervalSeconds < 5 || c.Capture.HeartbeatIntervalSeconds > 120 {
		return fmt.Errorf("capture.heartbeat_interval_seconds must be between 5 and 120, got %d", c.Capture.HeartbeatIntervalSeconds)
	}

	switch c.Engine.Backend {
	case BackendWhisperCLI, BackendRemoteWS, BackendStub:
	default:
		return fmt.Errorf("engine.backend must be one of %q, %q, %q, got %q",
			BackendWhisperCLI, BackendRemoteWS, BackendStub, c.Engine.Backend)
	}

	if c.Engine.TimeoutSeconds < 1 || c.Engine.TimeoutSeconds > 300 {
		return fmt.Errorf("engine.timeout_seconds must be between 1 and 300, got %d", c.Engine.TimeoutSeconds)
	}

	if c.Engine.StrideSeconds < 1 {
		return fmt.Errorf("engine.stride_seconds must be at least 1, got %d", c.Engine.StrideSeconds)
	}

	// Window must cover at least one stride
	if c.Engine.WindowSeconds < c.Engine.StrideSeconds {
		return fmt.Errorf("engine.window_seconds (%d) must be >= engine.stride_seconds (%d)",
			c.Engine.WindowSeconds, c.Engine.StrideSeconds)
	}

	if c.Sink.Enabled && c.Sink.ListenAddr == "" {
		return fmt.Errorf("sink.listen_addr must be set when sink is enabled")
	}

	if c.History.MaxEntries < 1 || c.History.MaxEntries > 10000 {
		return fmt.Errorf("history.max_entries must be between 1 and 10000, got %d", c.History.MaxEntries)
	}
	if c.History.MaxAgeMinutes < 1 || c.History.MaxAgeMinutes > 1440 {
		return fmt.Errorf("history.max_age_minutes must be between 1 and 1440, got %d", c.History.MaxAgeMinutes)
	}

	// PollInterval must be between 1 and 10 seconds
	if c.Watch.PollIntervalSeconds < 1 || c.Watch.PollIntervalSeconds > 10 {
		return fmt.Errorf("watch.poll_interval_seconds must be between 1 and 10, got %d", c.Watch.PollIntervalSeconds)
	}
	if c.Watch.LostThreshold < 1 || c.Watch.LostThreshold > 10 {
		return fmt.Errorf("watch.lost_threshold must be between 1 and 10, got %d", c.Watch.LostThreshold)
	}

	for _, f := range c.Transcripts.Formats {
		if f != "txt" && f != "md" {
			return fmt.Errorf("transcripts.formats entries must be \"txt\" or \"md\", got %q", f)
		}
	}

	return nil
}

// ChunkInterval returns the recorder cadence as a duration.
func (c *Config) ChunkInterval() time.Duration {
	return time.Duration(c.Capture.ChunkIntervalMs) * time.Millisecond
}

// HeartbeatInterval returns the heartbeat cadence as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Capture.HeartbeatIntervalSeconds) * time.Second
}

// EngineTimeout returns the per-chunk inference bound as a duration.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// HistoryMaxAge returns the transcript ring age bound as a duration.
func (c *Config) HistoryMaxAge() time.Duration {
	return time.Duration(c.History.MaxAgeMinutes) * time.Minute
}

// WatchPollInterval returns the target liveness poll cadence.
func (c *Config) WatchPollInterval() time.Duration {
	return time.Duration(c.Watch.PollIntervalSeconds) * time.Second
}

// Dir returns the echotap config directory (~/.config/echotap).
func Dir() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "echotap")
}

func defaultTranscriptDir() string {
	return filepath.Join(os.Getenv("HOME"), "Documents", "Echotap")
}
