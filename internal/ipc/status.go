package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tiroq/echotap/internal/health"
	"github.com/tiroq/echotap/internal/orchestrator"
)

// StatusSnapshot is the daemon state persisted to status.json for the
// control CLI and anything else that wants a cheap poll.
type StatusSnapshot struct {
	Pipeline  orchestrator.Status `json:"pipeline"`
	Health    health.Snapshot     `json:"health"`
	Version   string              `json:"version"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// WriteStatus persists the snapshot atomically under dir.
func WriteStatus(dir string, snap *StatusSnapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ipc: create dir: %w", err)
	}
	return atomicWriteJSON(StatusFile(dir), snap)
}

// ReadStatus loads the snapshot written by the daemon.
func ReadStatus(dir string) (*StatusSnapshot, error) {
	data, err := os.ReadFile(StatusFile(dir))
	if err != nil {
		return nil, fmt.Errorf("ipc: read status: %w", err)
	}
	var snap StatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("ipc: parse status: %w", err)
	}
	return &snap, nil
}

// atomicWriteJSON writes v as indented JSON via temp file + fsync +
// rename, so readers never observe a partial snapshot.
func atomicWriteJSON(path string, v interface{}) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return fmt.Errorf("ipc: create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmpFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("ipc: encode status: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("ipc: sync status: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("ipc: close temp file: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ipc: rename status: %w", err)
	}
	return nil
}
