// Package transcript writes finished session transcripts to disk.
//
// The orchestrator collects transcript lines in memory while a capture
// session runs and flushes them here when the session stops. Files are
// written atomically (temp file + rename) so a crash mid-write never
// leaves a truncated transcript behind.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tiroq/echotap/internal/fileutil"
)

// Line is one transcript line captured during a session.
type Line struct {
	Text string
	At   time.Time
}

// Session describes the finished capture whose transcript is written.
type Session struct {
	ID        string
	Target    string
	StartedAt time.Time
	StoppedAt time.Time
}

// WriteAll writes the transcript in every requested format under dir and
// returns the paths it wrote. Supported formats are "txt" and "md".
func WriteAll(dir string, s Session, lines []Line, formats []string) ([]string, error) {
	base := filepath.Join(dir, baseName(s))
	var paths []string
	for _, format := range formats {
		var (
			path string
			err  error
		)
		switch format {
		case "txt":
			path = base + ".txt"
			err = WriteText(path, s, lines)
		case "md":
			path = base + ".md"
			err = WriteMarkdown(path, s, lines)
		default:
			return paths, fmt.Errorf("transcript: unknown format %q", format)
		}
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteText writes plain text, one line per transcript line, each prefixed
// with its offset from the session start:
//
//	[00:00:05] Let's discuss the agenda.
func WriteText(path string, s Session, lines []Line) error {
	var b strings.Builder
	for _, line := range lines {
		fmt.Fprintf(&b, "[%s] %s\n", formatOffset(line.At.Sub(s.StartedAt)), line.Text)
	}
	return atomicWrite(path, []byte(b.String()))
}

// WriteMarkdown writes a Markdown document with a small session header
// followed by the timestamped lines.
func WriteMarkdown(path string, s Session, lines []Line) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Transcript: %s\n\n", s.Target)
	fmt.Fprintf(&b, "- Started: %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- Duration: %s\n", s.StoppedAt.Sub(s.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "- Lines: %d\n\n", len(lines))
	for _, line := range lines {
		fmt.Fprintf(&b, "**[%s]** %s\n\n", formatOffset(line.At.Sub(s.StartedAt)), line.Text)
	}
	return atomicWrite(path, []byte(b.String()))
}

// baseName builds the file name stem for a session, without extension.
// Example: 2026-02-03_15-04-05_team-standup
func baseName(s Session) string {
	stamp := s.StartedAt.Format("2006-01-02_15-04-05")
	return stamp + "_" + fileutil.SanitizeForFilename(s.Target)
}

// formatOffset renders a line offset as HH:MM:SS. Offsets before the
// session start can happen when clocks jump; they clamp to zero.
func formatOffset(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

// atomicWrite writes data to path via a temp file in the same directory,
// fsyncs it, then renames it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("transcript: create dir %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "transcript-*.tmp")
	if err != nil {
		return fmt.Errorf("transcript: create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("transcript: write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("transcript: sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("transcript: close temp file: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("transcript: rename into place: %w", err)
	}
	return nil
}
