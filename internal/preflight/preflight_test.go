package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tiroq/echotap/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := config.Default()
	cfg.Capture.Host = config.HostFake
	cfg.Engine.Backend = config.BackendStub
	cfg.Transcripts.Dir = t.TempDir()
	return cfg
}

func TestRunAllChecksPass(t *testing.T) {
	cfg := testConfig(t)

	rep := Run(cfg)
	if !rep.OK() {
		t.Fatalf("expected all checks to pass, got %+v", rep.Results)
	}
	if len(rep.Results) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(rep.Results))
	}
	if rep.Failed() != 0 {
		t.Fatalf("Failed() = %d, want 0", rep.Failed())
	}
}

func TestHostToolsSkippedForFakeHost(t *testing.T) {
	cfg := testConfig(t)

	res := checkHostTools(cfg)
	if !res.OK {
		t.Fatalf("fake host check failed: %+v", res)
	}
	if !strings.Contains(res.Message, "no audio tooling") {
		t.Errorf("message = %q, want mention of no audio tooling", res.Message)
	}
}

func TestEngineCheckPassesForStub(t *testing.T) {
	cfg := testConfig(t)

	res := checkEngine(cfg)
	if !res.OK {
		t.Fatalf("stub engine check failed: %+v", res)
	}
	if !strings.Contains(res.Message, "no external dependencies") {
		t.Errorf("message = %q, want mention of no external dependencies", res.Message)
	}
}

func TestEngineCheckReportsMissingBinary(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.Backend = config.BackendWhisperCLI
	cfg.Engine.BinaryPath = filepath.Join(t.TempDir(), "no-such-binary")

	res := checkEngine(cfg)
	if res.OK {
		t.Fatal("expected engine check to fail for missing binary")
	}
	if len(res.Issues) == 0 || !strings.Contains(res.Issues[0], "not found") {
		t.Errorf("issues = %v, want binary-not-found", res.Issues)
	}
	if len(res.Fixes) == 0 || !strings.Contains(res.Fixes[0], "binary_path") {
		t.Errorf("fixes = %v, want binary_path hint", res.Fixes)
	}
}

func TestWritableFailsWhenParentIsFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := checkWritable("cache dir", filepath.Join(blocker, "nested"))
	if res.OK {
		t.Fatal("expected check to fail when the parent is a regular file")
	}
	if len(res.Issues) == 0 {
		t.Error("expected an issue explaining the failure")
	}
}

func TestWritableCleansUpProbeFile(t *testing.T) {
	dir := t.TempDir()

	res := checkWritable("transcript dir", dir)
	if !res.OK {
		t.Fatalf("check failed: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, ".echotap-doctor")); !os.IsNotExist(err) {
		t.Error("probe file left behind")
	}
}

func TestTranscriptDirDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transcripts.Enabled = false

	res := checkTranscriptDir(cfg)
	if !res.OK {
		t.Fatalf("disabled transcript check failed: %+v", res)
	}
	if !strings.Contains(res.Message, "disabled") {
		t.Errorf("message = %q, want mention of disabled", res.Message)
	}
}

func TestReportFailedCounts(t *testing.T) {
	rep := &Report{Results: []Result{
		{Name: "a", OK: true},
		{Name: "b", OK: false},
		{Name: "c", OK: false},
	}}
	if got := rep.Failed(); got != 2 {
		t.Errorf("Failed() = %d, want 2", got)
	}
	if rep.OK() {
		t.Error("OK() = true, want false")
	}
}
