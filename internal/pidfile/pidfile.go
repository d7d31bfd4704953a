// Package pidfile guards against running two copies of the daemon at
// once. The file holds the owning pid; a stale file left behind by a
// crash is detected and replaced.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile marks a running instance. Remove releases the guard.
type PIDFile struct {
	path string
	pid  int
}

// Acquire claims the PID file at path. It fails when another live
// process already holds it and silently replaces a stale file whose
// owner is gone.
func Acquire(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("pidfile: create dir: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		if existing, convErr := strconv.Atoi(strings.TrimSpace(string(data))); convErr == nil {
			if processAlive(existing) {
				return nil, fmt.Errorf("pidfile: already running (pid %d)", existing)
			}
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("pidfile: remove stale file: %w", err)
			}
		}
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("pidfile: write: %w", err)
	}
	return &PIDFile{path: path, pid: pid}, nil
}

// Remove deletes the PID file, but only while it still holds our own
// pid. A file rewritten by a newer instance is left alone.
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err != nil || pid != p.pid {
		return nil
	}
	return os.Remove(p.path)
}

// Path returns the conventional PID file location for the named
// binary.
func Path(app string) string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "echotap", app+".pid")
}

// processAlive reports whether pid maps to a live process. Signal 0
// probes without delivering anything; EPERM means the process exists
// but belongs to another user.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
