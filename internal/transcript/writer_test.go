package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleSession() Session {
	start := time.Date(2026, 2, 3, 15, 4, 5, 0, time.UTC)
	return Session{
		ID:        "sess-1",
		Target:    "Team Standup",
		StartedAt: start,
		StoppedAt: start.Add(2*time.Minute + 10*time.Second),
	}
}

func sampleLines(s Session) []Line {
	return []Line{
		{Text: "Hello, welcome to the meeting.", At: s.StartedAt.Add(5 * time.Second)},
		{Text: "Let's discuss the agenda.", At: s.StartedAt.Add(65 * time.Second)},
	}
}

func TestWriteText(t *testing.T) {
	s := sampleSession()
	path := filepath.Join(t.TempDir(), "out.txt")

	if err := WriteText(path, s, sampleLines(s)); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := string(data)

	if !strings.Contains(got, "[00:00:05] Hello, welcome to the meeting.") {
		t.Errorf("missing first line; got:\n%s", got)
	}
	if !strings.Contains(got, "[00:01:05] Let's discuss the agenda.") {
		t.Errorf("missing second line; got:\n%s", got)
	}

	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 lines, got %d", len(lines))
	}
}

func TestWriteTextEmpty(t *testing.T) {
	s := sampleSession()
	path := filepath.Join(t.TempDir(), "out.txt")

	if err := WriteText(path, s, nil); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty file, got %q", data)
	}
}

func TestWriteMarkdown(t *testing.T) {
	s := sampleSession()
	path := filepath.Join(t.TempDir(), "out.md")

	if err := WriteMarkdown(path, s, sampleLines(s)); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := string(data)

	for _, want := range []string{
		"# Transcript: Team Standup",
		"- Started: 2026-02-03 15:04:05",
		"- Duration: 2m10s",
		"- Lines: 2",
		"**[00:00:05]** Hello, welcome to the meeting.",
		"**[00:01:05]** Let's discuss the agenda.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q; got:\n%s", want, got)
		}
	}
}

func TestWriteAll(t *testing.T) {
	s := sampleSession()
	dir := t.TempDir()

	paths, err := WriteAll(dir, s, sampleLines(s), []string{"txt", "md"})
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d: %v", len(paths), paths)
	}

	wantStem := "2026-02-03_15-04-05_Team-Standup"
	for i, ext := range []string{".txt", ".md"} {
		base := filepath.Base(paths[i])
		if base != wantStem+ext {
			t.Errorf("path %d: got %q, want %q", i, base, wantStem+ext)
		}
		if _, err := os.Stat(paths[i]); err != nil {
			t.Errorf("stat %s: %v", paths[i], err)
		}
	}
}

func TestWriteAllUnknownFormat(t *testing.T) {
	s := sampleSession()

	_, err := WriteAll(t.TempDir(), s, nil, []string{"srt"})
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	if !strings.Contains(err.Error(), `unknown format "srt"`) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWriteAllCreatesDir(t *testing.T) {
	s := sampleSession()
	dir := filepath.Join(t.TempDir(), "nested", "transcripts")

	paths, err := WriteAll(dir, s, sampleLines(s), []string{"txt"})
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if _, err := os.Stat(paths[0]); err != nil {
		t.Errorf("stat %s: %v", paths[0], err)
	}
}

func TestWriteTextNoTempLeftovers(t *testing.T) {
	s := sampleSession()
	dir := t.TempDir()

	if err := WriteText(filepath.Join(dir, "out.txt"), s, sampleLines(s)); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, "transcript-*.tmp"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestFormatOffset(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{5 * time.Second, "00:00:05"},
		{65 * time.Second, "00:01:05"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
		{-3 * time.Second, "00:00:00"},
	}
	for _, tt := range tests {
		if got := formatOffset(tt.d); got != tt.want {
			t.Errorf("formatOffset(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
