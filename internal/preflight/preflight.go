// Package preflight checks the host environment before capture can
// work: audio tooling on PATH, engine dependencies present, command
// and transcript directories writable. The doctor command prints its
// report.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tiroq/echotap/internal/asr"
	"github.com/tiroq/echotap/internal/config"
	"github.com/tiroq/echotap/internal/ipc"
)

// Result is the outcome of one environment check.
type Result struct {
	Name    string
	OK      bool
	Message string
	Issues  []string
	Fixes   []string
}

// Report collects the results of one preflight run.
type Report struct {
	Results []Result
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	return r.Failed() == 0
}

// Failed returns the number of failed checks.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK {
			n++
		}
	}
	return n
}

// Run executes every check for the given configuration.
func Run(cfg *config.Config) *Report {
	rep := &Report{}
	rep.Results = append(rep.Results, checkHostTools(cfg))
	rep.Results = append(rep.Results, checkEngine(cfg))
	rep.Results = append(rep.Results, checkWritable("cache dir", ipc.DefaultDir()))
	rep.Results = append(rep.Results, checkTranscriptDir(cfg))
	return rep
}

// checkHostTools verifies the audio capture binaries. The fake host
// needs none.
func checkHostTools(cfg *config.Config) Result {
	res := Result{Name: "capture host", OK: true}
	if cfg.Capture.Host == config.HostFake {
		res.Message = "fake host selected, no audio tooling required"
		return res
	}

	var found []string
	for _, tool := range []struct{ bin, hint string }{
		{"pactl", "install the PulseAudio utilities, or run PipeWire with pipewire-pulse"},
		{"ffmpeg", "install ffmpeg, the recorder reads the loopback stream through it"},
	} {
		path, err := exec.LookPath(tool.bin)
		if err != nil {
			res.OK = false
			res.Issues = append(res.Issues, fmt.Sprintf("%s not found on PATH", tool.bin))
			res.Fixes = append(res.Fixes, tool.hint)
			continue
		}
		found = append(found, fmt.Sprintf("%s at %s", tool.bin, path))
	}
	if res.OK {
		res.Message = strings.Join(found, ", ")
	}
	return res
}

// checkEngine builds the configured backend and runs its health probe.
// Backends without external dependencies pass trivially.
func checkEngine(cfg *config.Config) Result {
	res := Result{Name: "engine", OK: true}

	eng, err := asr.NewEngine(cfg)
	if err != nil {
		res.OK = false
		res.Issues = append(res.Issues, err.Error())
		res.Fixes = append(res.Fixes, fmt.Sprintf("set engine.backend to one of %q, %q, %q",
			config.BackendWhisperCLI, config.BackendRemoteWS, config.BackendStub))
		return res
	}

	hc, ok := eng.(asr.HealthChecker)
	if !ok {
		res.Message = fmt.Sprintf("%s backend has no external dependencies", eng.Name())
		return res
	}
	if err := hc.HealthCheck(); err != nil {
		res.OK = false
		res.Issues = append(res.Issues, err.Error())
		res.Fixes = append(res.Fixes, engineFix(cfg))
		return res
	}
	res.Message = fmt.Sprintf("%s backend is ready", eng.Name())
	return res
}

func engineFix(cfg *config.Config) string {
	switch cfg.Engine.Backend {
	case config.BackendWhisperCLI:
		return fmt.Sprintf("install a whisper CLI and point engine.binary_path at it; models are listed in %s", cfg.Engine.ModelsManifest)
	case config.BackendRemoteWS:
		return fmt.Sprintf("start the remote transcription server or fix engine.remote_url (currently %s)", cfg.Engine.RemoteURL)
	default:
		return "review the engine section of the config"
	}
}

func checkTranscriptDir(cfg *config.Config) Result {
	if !cfg.Transcripts.Enabled {
		return Result{Name: "transcript dir", OK: true, Message: "transcript files disabled"}
	}
	return checkWritable("transcript dir", cfg.Transcripts.Dir)
}

// checkWritable proves the directory can be created and written, the
// same way the daemon will at runtime.
func checkWritable(name, dir string) Result {
	res := Result{Name: name, OK: true}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		res.OK = false
		res.Issues = append(res.Issues, fmt.Sprintf("cannot create %s: %v", dir, err))
		res.Fixes = append(res.Fixes, "check permissions on the parent directory")
		return res
	}

	probe := filepath.Join(dir, ".echotap-doctor")
	if err := os.WriteFile(probe, []byte("ok\n"), 0o644); err != nil {
		res.OK = false
		res.Issues = append(res.Issues, fmt.Sprintf("cannot write to %s: %v", dir, err))
		res.Fixes = append(res.Fixes, "check permissions on "+dir)
		return res
	}
	_ = os.Remove(probe)

	res.Message = dir + " is writable"
	return res
}
