// Package fileutil provides transcript file utilities.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionMetadata is the sidecar metadata written alongside each
// session transcript.
type SessionMetadata struct {
	Version       string      `json:"version"`
	SessionID     string      `json:"session_id"`
	Target        string      `json:"target"`
	StartedAt     time.Time   `json:"started_at"`
	StoppedAt     time.Time   `json:"stopped_at"`
	Duration      string      `json:"duration"`
	DurationMs    int64       `json:"duration_ms"`
	SourceRate    int         `json:"source_sample_rate"`
	Segments      int         `json:"segments"`
	OutputFile    string      `json:"output_file"`
	Engine        *EngineMeta `json:"engine,omitempty"`
	StoppedReason string      `json:"stopped_reason,omitempty"`
}

// EngineMeta captures inference details for the sidecar.
type EngineMeta struct {
	Backend        string `json:"backend"`
	Model          string `json:"model,omitempty"`
	Language       string `json:"language"`
	ChunksInferred int64  `json:"chunks_inferred"`
	ChunksDropped  int64  `json:"chunks_dropped"`
	ChunkErrors    int64  `json:"chunk_errors"`
}

// WriteMetadata writes a <basepath>.meta.json sidecar file alongside the
// transcript. Uses atomic write (temp + rename) consistent with ipc patterns.
func WriteMetadata(transcriptPath string, meta *SessionMetadata) error {
	metaPath := metadataPath(transcriptPath)
	dir := filepath.Dir(metaPath)

	tmpFile, err := os.CreateTemp(dir, "meta-*.tmp")
	if err != nil {
		return fmt.Errorf("create metadata temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync metadata: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close metadata temp: %w", err)
	}
	success = true // prevent defer cleanup

	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename metadata: %w", err)
	}
	return nil
}

// metadataPath returns <basepath>.meta.json for a given transcript file path.
func metadataPath(transcriptPath string) string {
	ext := filepath.Ext(transcriptPath)
	base := transcriptPath[:len(transcriptPath)-len(ext)]
	return base + ".meta.json"
}
