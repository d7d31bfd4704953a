package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"github.com/tiroq/echotap/internal/asr"
	"github.com/tiroq/echotap/internal/capture"
	"github.com/tiroq/echotap/internal/config"
	"github.com/tiroq/echotap/internal/diaglog"
	"github.com/tiroq/echotap/internal/health"
	"github.com/tiroq/echotap/internal/host"
	"github.com/tiroq/echotap/internal/ipc"
	"github.com/tiroq/echotap/internal/orchestrator"
	"github.com/tiroq/echotap/internal/pidfile"
	"github.com/tiroq/echotap/internal/sink"
	"github.com/tiroq/echotap/internal/targetwatch"
)

const (
	logPrefix          = "[echotap-core]"
	defaultDiagLogPath = "/tmp/echotap-debug.log"

	// statusRefresh keeps duration and health in status.json moving
	// between state changes.
	statusRefresh = 2 * time.Second

	commandPoll = time.Second
)

var (
	outLog = log.New(os.Stdout, logPrefix+" ", log.LstdFlags)
	errLog = log.New(os.Stderr, logPrefix+" ERROR: ", log.LstdFlags)
)

func runDaemon() {
	defer func() {
		if r := recover(); r != nil {
			errLog.Printf("PANIC: %v", r)
			os.Exit(1)
		}
	}()

	outLog.Printf("Starting echotap-core v%s (pid %d)", Version, os.Getpid())

	// A local .env can seed ECHOTAP_* overrides before config loads.
	if err := godotenv.Load(); err == nil {
		outLog.Println("Loaded environment overrides from .env")
	}

	pf, err := pidfile.Acquire(pidfile.Path("echotap-core"))
	if err != nil {
		errLog.Printf("%v", err)
		errLog.Println("Another echotap-core may already be running.")
		os.Exit(1)
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			errLog.Printf("remove pid file: %v", err)
		}
	}()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		errLog.Printf("load config: %v", err)
		os.Exit(1)
	}
	outLog.Printf("Config: host=%s engine=%s chunk=%s sink=%v",
		cfg.Capture.Host, cfg.Engine.Backend, cfg.ChunkInterval(), cfg.Sink.Enabled)

	logPath := os.Getenv("ECHOTAP_LOG_PATH")
	if logPath == "" {
		logPath = defaultDiagLogPath
	}
	diagLogger, err := diaglog.New(logPath)
	if err != nil {
		errLog.Printf("diagnostic log unavailable at %s: %v (continuing)", logPath, err)
		diagLogger = diaglog.NewNoOp()
	}
	defer diagLogger.Close()
	diaglog.Version = Version
	if diaglog.IsDebugEnabled() {
		outLog.Printf("Diagnostic log: %s", logPath)
	}

	h, err := buildHost(cfg, diagLogger)
	if err != nil {
		errLog.Printf("%v", err)
		os.Exit(1)
	}

	ctrl := capture.New(h, cfg, func() (asr.Engine, error) { return asr.NewEngine(cfg) }, diagLogger)
	orch := orchestrator.New(cfg, h, ctrl, diagLogger)

	var srv *sink.Server
	if cfg.Sink.Enabled {
		hub := sink.NewHub(diagLogger)
		orch.SetPublisher(hub)
		srv = sink.NewServer(cfg.Sink.ListenAddr, hub, orch.Status, func() []orchestrator.Entry {
			return orch.History().Recent()
		}, diagLogger)
		addr, err := srv.Start()
		if err != nil {
			errLog.Printf("start sink: %v", err)
			os.Exit(1)
		}
		outLog.Printf("Live sink listening on %s", addr)
	}

	watcher := targetwatch.New(h, cfg.WatchPollInterval(), cfg.Watch.LostThreshold,
		orch.HandleTargetRemoved, orch.HandleTargetChanged, diagLogger)

	collector := health.NewCollector()
	cacheDir := ipc.DefaultDir()
	writeStatus := func(st orchestrator.Status) {
		snap := &ipc.StatusSnapshot{
			Pipeline:  st,
			Health:    collector.Collect(),
			Version:   Version,
			UpdatedAt: time.Now().UTC(),
		}
		if err := ipc.WriteStatus(cacheDir, snap); err != nil {
			errLog.Printf("write status: %v", err)
		}
	}
	orch.OnStatus(func(st orchestrator.Status) {
		watcher.Watch(st.Target)
		writeStatus(st)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)
	go watcher.Run(ctx)

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }
	go watchCommands(ctx, orch, quit)

	writeStatus(orch.Status())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()

	outLog.Println("echotap-core is running")
	for {
		select {
		case <-ticker.C:
			writeStatus(orch.Status())
		case sig := <-sigChan:
			outLog.Printf("Received %v, shutting down", sig)
			shutdown(cancel, orch, srv, writeStatus)
			return
		case <-quitCh:
			outLog.Println("Quit command received, shutting down")
			shutdown(cancel, orch, srv, writeStatus)
			return
		}
	}
}

// shutdown stops the orchestrator loop (which tears down any active
// session), closes the sink, and leaves a final idle snapshot behind.
func shutdown(cancel context.CancelFunc, orch *orchestrator.Orchestrator, srv *sink.Server, writeStatus func(orchestrator.Status)) {
	cancel()
	<-orch.Done()
	if srv != nil {
		ctx, stop := context.WithTimeout(context.Background(), 3*time.Second)
		defer stop()
		if err := srv.Shutdown(ctx); err != nil {
			errLog.Printf("sink shutdown: %v", err)
		}
	}
	writeStatus(orch.Status())
	outLog.Println("Shutdown complete")
}

func buildHost(cfg *config.Config, log *diaglog.Logger) (host.Host, error) {
	switch cfg.Capture.Host {
	case config.HostPulse:
		h := host.NewPulse("", "")
		h.SetLogger(log)
		return h, nil
	case config.HostFake:
		// Dev mode: one synthetic looping target so start commands have
		// something to capture without audio hardware.
		h := host.NewFake()
		h.AddLoopingTarget("demo", 48000, demoChunk(48000, cfg.ChunkInterval()), cfg.ChunkInterval())
		return h, nil
	default:
		return nil, fmt.Errorf("unknown capture host %q", cfg.Capture.Host)
	}
}

// demoChunk synthesises one chunk interval of a 440Hz tone.
func demoChunk(rate int, interval time.Duration) []float32 {
	n := int(float64(rate) * interval.Seconds())
	c := make([]float32, n)
	for i := range c {
		c[i] = float32(0.2 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return c
}

// watchCommands monitors cmd.txt for commands written by echotap-ctl.
// fsnotify when available, with a polling backstop for dropped events.
func watchCommands(ctx context.Context, orch *orchestrator.Orchestrator, quit func()) {
	dir := ipc.DefaultDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		errLog.Printf("create cache dir: %v", err)
		return
	}
	cmdPath := ipc.CommandFile(dir)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errLog.Printf("fsnotify unavailable, falling back to polling: %v", err)
		watchCommandsWithPolling(ctx, dir, orch, quit)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		errLog.Printf("watch %s failed, falling back to polling: %v", dir, err)
		watchCommandsWithPolling(ctx, dir, orch, quit)
		return
	}
	outLog.Println("Command watcher started (fsnotify)")

	pollTicker := time.NewTicker(commandPoll)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				watchCommandsWithPolling(ctx, dir, orch, quit)
				return
			}
			if event.Name == cmdPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Small delay so the writer finishes before we read.
				time.Sleep(50 * time.Millisecond)
				runPendingCommand(dir, orch, quit)
			}

		case <-pollTicker.C:
			runPendingCommand(dir, orch, quit)

		case err, ok := <-watcher.Errors:
			if !ok {
				watchCommandsWithPolling(ctx, dir, orch, quit)
				return
			}
			errLog.Printf("command watcher: %v", err)
		}
	}
}

// watchCommandsWithPolling is the pure polling fallback.
func watchCommandsWithPolling(ctx context.Context, dir string, orch *orchestrator.Orchestrator, quit func()) {
	outLog.Println("Command watcher started (polling fallback)")

	ticker := time.NewTicker(commandPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runPendingCommand(dir, orch, quit)
		}
	}
}

func runPendingCommand(dir string, orch *orchestrator.Orchestrator, quit func()) {
	cmd, ok, err := ipc.ReadCommand(dir)
	if err != nil {
		// Malformed content was already cleared; report and move on.
		errLog.Printf("command file: %v", err)
		return
	}
	if !ok {
		return
	}
	dispatchCommand(cmd, orch, quit)
}

func dispatchCommand(cmd ipc.Command, orch *orchestrator.Orchestrator, quit func()) {
	if cmd.Target != "" {
		outLog.Printf("Command: %s %q", cmd.Kind, cmd.Target)
	} else {
		outLog.Printf("Command: %s", cmd.Kind)
	}

	var err error
	switch cmd.Kind {
	case ipc.CmdStart:
		err = orch.Start(cmd.Target)
	case ipc.CmdStop:
		err = orch.Stop(cmd.Target)
	case ipc.CmdToggle:
		err = orch.Trigger(cmd.Target)
	case ipc.CmdQuit:
		quit()
	}
	if err != nil {
		errLog.Printf("command %s: %v", cmd.Kind, err)
	}
}
