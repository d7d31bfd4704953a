// Package whispercli shells out to a whisper-style CLI binary for
// on-device transcription. Each chunk becomes one subprocess run over
// a temp WAV file.
package whispercli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/tiroq/echotap/internal/audio"
)

// Config configures the whisper CLI backend.
type Config struct {
	BinaryPath    string // path to whisper-cpp or faster-whisper CLI
	Model         string // model name resolved through the manifest
	ModelPath     string // explicit .bin path, overrides manifest lookup
	ManifestPath  string // models.yaml location
	Language      string
	WindowSeconds int
	StrideSeconds int
	Threads       int // CPU threads (0 = auto)
	SampleRate    int // rate of incoming chunks, default 16000
}

// Backend runs the CLI once per chunk.
type Backend struct {
	cfg Config

	mu        sync.Mutex
	loaded    bool
	modelPath string
}

// New creates a whisper CLI backend with the given config.
func New(cfg Config) *Backend {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Backend{cfg: cfg}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return "whisper_cli"
}

// Load verifies the binary and resolves the model file. The heavy model
// load happens inside the CLI on every run; Load fails fast when the
// pieces are missing so the session can abort before recording.
func (b *Backend) Load(ctx context.Context) error {
	info, err := os.Stat(b.cfg.BinaryPath)
	if err != nil {
		return fmt.Errorf("whispercli: binary not found at %q: %w", b.cfg.BinaryPath, err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("whispercli: binary at %q is not executable", b.cfg.BinaryPath)
	}

	modelPath, err := b.resolveModelPath()
	if err != nil {
		return err
	}
	if modelPath != "" {
		if _, err := os.Stat(modelPath); err != nil {
			return fmt.Errorf("whispercli: model not found at %q: %w", modelPath, err)
		}
	}

	// A --help run proves the binary actually executes on this system.
	cmd := exec.CommandContext(ctx, b.cfg.BinaryPath, "--help")
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return fmt.Errorf("whispercli: binary failed to execute: %w", err)
		}
	}

	b.mu.Lock()
	b.loaded = true
	b.modelPath = modelPath
	b.mu.Unlock()
	return nil
}

// Transcribe writes samples to a temp WAV and runs the CLI over it.
// ctx expiry kills the whole subprocess tree.
func (b *Backend) Transcribe(ctx context.Context, samples []float32) (string, error) {
	b.mu.Lock()
	loaded := b.loaded
	modelPath := b.modelPath
	b.mu.Unlock()
	if !loaded {
		return "", fmt.Errorf("whispercli: transcribe before load")
	}

	tmp, err := os.CreateTemp("", "echotap-chunk-*.wav")
	if err != nil {
		return "", fmt.Errorf("whispercli: create temp wav: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(audio.EncodeWAV(samples, b.cfg.SampleRate)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("whispercli: write temp wav: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("whispercli: close temp wav: %w", err)
	}

	cmd := exec.Command(b.cfg.BinaryPath, b.buildArgs(modelPath, tmpPath)...)
	// Use process group so we can kill the entire tree on timeout
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("whispercli: failed to start subprocess: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		// Kill the entire process group
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return "", fmt.Errorf("whispercli: subprocess failed: %s: %w", msg, err)
			}
			return "", fmt.Errorf("whispercli: subprocess failed: %w", err)
		}
	}

	return parseOutput(stdout.Bytes())
}

// Close drops the loaded state. The CLI holds no resources between runs.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.loaded = false
	b.mu.Unlock()
	return nil
}

// HealthCheck verifies the binary exists, is executable, and the model
// resolves, without touching the loaded state.
func (b *Backend) HealthCheck() error {
	info, err := os.Stat(b.cfg.BinaryPath)
	if err != nil {
		return fmt.Errorf("whispercli: binary not found at %q: %w", b.cfg.BinaryPath, err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("whispercli: binary at %q is not executable", b.cfg.BinaryPath)
	}
	modelPath, err := b.resolveModelPath()
	if err != nil {
		return err
	}
	if modelPath != "" {
		if _, err := os.Stat(modelPath); err != nil {
			return fmt.Errorf("whispercli: model not found at %q: %w", modelPath, err)
		}
	}
	return nil
}

// resolveModelPath prefers the explicit path; otherwise the manifest
// maps the model name to a file. No model at all is allowed, some CLIs
// ship a built-in default.
func (b *Backend) resolveModelPath() (string, error) {
	if b.cfg.ModelPath != "" {
		return b.cfg.ModelPath, nil
	}
	if b.cfg.Model == "" || b.cfg.ManifestPath == "" {
		return "", nil
	}
	manifest, err := LoadManifest(b.cfg.ManifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return manifest.Resolve(b.cfg.Model)
}

// whisperSegment represents a single segment in whisper CLI JSON output.
type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// whisperOutput represents the JSON output from whisper CLI.
type whisperOutput struct {
	Segments []whisperSegment `json:"segments"`
	Language string           `json:"language"`
}

// parseOutput joins all segment texts into one chunk transcript.
func parseOutput(data []byte) (string, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("whispercli: failed to parse JSON output: %w", err)
	}
	parts := make([]string, 0, len(out.Segments))
	for _, seg := range out.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// buildArgs constructs the CLI arguments for the whisper binary.
func (b *Backend) buildArgs(modelPath, filePath string) []string {
	var args []string

	if modelPath != "" {
		args = append(args, "--model", modelPath)
	}

	args = append(args, "--output-json", "--task", "transcribe")

	if b.cfg.Language != "" {
		args = append(args, "--language", b.cfg.Language)
	}
	if b.cfg.WindowSeconds > 0 {
		args = append(args, "--window", strconv.Itoa(b.cfg.WindowSeconds))
	}
	if b.cfg.StrideSeconds > 0 {
		args = append(args, "--stride", strconv.Itoa(b.cfg.StrideSeconds))
	}
	if b.cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(b.cfg.Threads))
	}

	args = append(args, filePath)
	return args
}
