package fileutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteMetadata_Basic(t *testing.T) {
	dir := t.TempDir()
	txPath := filepath.Join(dir, "2026-01-15_1430_meet-monitor.txt")
	// Create a dummy transcript file so the dir exists.
	if err := os.WriteFile(txPath, []byte("fake"), 0644); err != nil {
		t.Fatal(err)
	}

	meta := &SessionMetadata{
		Version:    "1.2.3",
		SessionID:  "abc123",
		Target:     "meet.google.com",
		StartedAt:  time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC),
		StoppedAt:  time.Date(2026, 1, 15, 15, 0, 0, 0, time.UTC),
		Duration:   "30m0s",
		DurationMs: 1800000,
		SourceRate: 44100,
		Segments:   42,
		OutputFile: txPath,
	}

	if err := WriteMetadata(txPath, meta); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	// Verify file exists at expected path.
	metaPath := filepath.Join(dir, "2026-01-15_1430_meet-monitor.meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read meta file: %v", err)
	}

	var got SessionMetadata
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Version != "1.2.3" {
		t.Errorf("version = %q, want %q", got.Version, "1.2.3")
	}
	if got.SessionID != "abc123" {
		t.Errorf("session_id = %q, want %q", got.SessionID, "abc123")
	}
	if got.Target != "meet.google.com" {
		t.Errorf("target = %q, want %q", got.Target, "meet.google.com")
	}
	if got.DurationMs != 1800000 {
		t.Errorf("duration_ms = %d, want %d", got.DurationMs, 1800000)
	}
	if got.SourceRate != 44100 {
		t.Errorf("source_sample_rate = %d, want %d", got.SourceRate, 44100)
	}
}

func TestWriteMetadata_WithEngine(t *testing.T) {
	dir := t.TempDir()
	txPath := filepath.Join(dir, "transcript.txt")
	if err := os.WriteFile(txPath, []byte("fake"), 0644); err != nil {
		t.Fatal(err)
	}

	meta := &SessionMetadata{
		Version:    "dev",
		OutputFile: txPath,
		Engine: &EngineMeta{
			Backend:        "whisper_cli",
			Model:          "small",
			Language:       "en",
			ChunksInferred: 90,
			ChunksDropped:  3,
			ChunkErrors:    1,
		},
	}

	if err := WriteMetadata(txPath, meta); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	metaPath := filepath.Join(dir, "transcript.meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got SessionMetadata
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Engine == nil {
		t.Fatal("Engine is nil, expected non-nil")
	}
	if got.Engine.Backend != "whisper_cli" {
		t.Errorf("engine.backend = %q, want %q", got.Engine.Backend, "whisper_cli")
	}
	if got.Engine.ChunksDropped != 3 {
		t.Errorf("engine.chunks_dropped = %d, want 3", got.Engine.ChunksDropped)
	}
}

func TestWriteMetadata_NilEngine(t *testing.T) {
	dir := t.TempDir()
	txPath := filepath.Join(dir, "transcript.txt")
	if err := os.WriteFile(txPath, []byte("fake"), 0644); err != nil {
		t.Fatal(err)
	}

	meta := &SessionMetadata{
		Version:    "dev",
		OutputFile: txPath,
	}

	if err := WriteMetadata(txPath, meta); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	metaPath := filepath.Join(dir, "transcript.meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// Engine should be omitted from JSON.
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["engine"]; ok {
		t.Error("expected no 'engine' field in JSON when Engine is nil")
	}
}

func TestMetadataPath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"transcript.txt", "transcript.meta.json"},
		{"/path/to/session.md", "/path/to/session.meta.json"},
		{"no-ext", "no-ext.meta.json"},
	}
	for _, tt := range tests {
		got := metadataPath(tt.input)
		if got != tt.want {
			t.Errorf("metadataPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestWriteMetadata_AtomicNoPartialFile(t *testing.T) {
	// Write to a non-existent directory should fail cleanly.
	badPath := filepath.Join(t.TempDir(), "nonexistent", "sub", "transcript.txt")
	meta := &SessionMetadata{Version: "dev"}
	err := WriteMetadata(badPath, meta)
	if err == nil {
		t.Fatal("expected error for non-existent directory")
	}
}

func TestSanitizeForFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty falls back", "", "Capture"},
		{"plain name kept", "meet-monitor", "meet-monitor"},
		{"pulse source dots collapsed", "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor", "alsa-output-pci-0000-00-1f-3-analog-stereo-monitor"},
		{"illegal chars replaced", `call:08/25 "standup"`, "call-08-25-standup"},
		{"only illegal chars falls back", `///\\\`, "Capture"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeForFilename(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeForFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
