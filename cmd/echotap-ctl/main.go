// echotap-ctl is the command line control surface for echotap-core: it
// writes commands to the shared command file, reads the status
// snapshot, and can attach to the live transcript stream.
package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/tiroq/echotap/internal/config"
	"github.com/tiroq/echotap/internal/ipc"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"

	cfgFile  string
	sinkAddr string
)

var rootCmd = &cobra.Command{
	Use:   "echotap-ctl",
	Short: "Control echotap-core",
	Long: `echotap-ctl sends commands to a running echotap-core daemon and shows
its status and live transcript.`,
}

var startCmd = &cobra.Command{
	Use:   "start <target>",
	Short: "Start capturing the named audio target",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// Target names may contain spaces; take the args verbatim.
		sendCommand(ipc.Command{Kind: ipc.CmdStart, Target: strings.Join(args, " ")})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [target]",
	Short: "Stop the active capture session",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Kind: ipc.CmdStop, Target: strings.Join(args, " ")})
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <target>",
	Short: "Start capturing the target, or stop if it is already active",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Kind: ipc.CmdToggle, Target: strings.Join(args, " ")})
	},
}

var quitCmd = &cobra.Command{
	Use:   "quit",
	Short: "Shut the daemon down",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Kind: ipc.CmdQuit})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon status",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printStatus()
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print live transcript lines as they arrive",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := watchLive(resolveSinkAddr()); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("echotap-ctl v%s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/echotap/config.yaml)")
	watchCmd.Flags().StringVar(&sinkAddr, "addr", "", "sink address (default from config)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(quitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// sendCommand validates and writes the command file. The daemon picks
// it up within a second even when fsnotify is unavailable.
func sendCommand(cmd ipc.Command) {
	if err := ipc.WriteCommand(ipc.DefaultDir(), cmd); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if cmd.Target != "" {
		fmt.Printf("Sent: %s %s\n", cmd.Kind, cmd.Target)
	} else {
		fmt.Printf("Sent: %s\n", cmd.Kind)
	}
}

func printStatus() {
	snap, err := ipc.ReadStatus(ipc.DefaultDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("echotap-core is not running (no status snapshot).")
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	p := snap.Pipeline
	fmt.Printf("State:      %s", p.State)
	if p.Indicator != "" && p.Indicator != p.State {
		fmt.Printf(" (indicator: %s)", p.Indicator)
	}
	fmt.Println()

	if p.Target != "" {
		fmt.Printf("Target:     %s\n", p.Target)
		fmt.Printf("Session:    %s\n", p.SessionID)
		fmt.Printf("Duration:   %s\n", (time.Duration(p.DurationSec) * time.Second))
		if !p.LastHeartbeat.IsZero() {
			fmt.Printf("Heartbeat:  %s ago\n", time.Since(p.LastHeartbeat).Round(time.Second))
		}
	}
	if p.LastError != "" {
		fmt.Printf("Last error: %s\n", p.LastError)
	}
	fmt.Printf("Chunks:     read=%d resampled=%d gated=%d inferred=%d dropped=%d errors=%d\n",
		p.Chunks.Read, p.Chunks.Resampled, p.Chunks.Gated, p.Chunks.Inferred, p.Chunks.Dropped, p.Chunks.Errors)
	fmt.Printf("History:    %d lines\n", p.HistoryLen)
	fmt.Printf("Daemon:     v%s pid=%d cpu=%.1f%% rss=%dMB goroutines=%d uptime=%s\n",
		snap.Version, snap.Health.PID, snap.Health.CPUPercent, snap.Health.RSSMB,
		snap.Health.Goroutines, (time.Duration(snap.Health.UptimeSec) * time.Second))

	if age := time.Since(snap.UpdatedAt); age > 10*time.Second {
		fmt.Printf("\nSnapshot is %s old; the daemon may have stopped.\n", age.Round(time.Second))
	}
}

// resolveSinkAddr prefers the --addr flag, then the configured sink
// listen address.
func resolveSinkAddr() string {
	if sinkAddr != "" {
		return sinkAddr
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Default().Sink.ListenAddr
	}
	return cfg.Sink.ListenAddr
}

// watchLive attaches to /v1/live and prints each transcript line until
// the stream ends or the user interrupts.
func watchLive(addr string) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/v1/live"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w (is echotap-core running with the sink enabled?)", u.String(), err)
	}
	defer conn.Close()

	interrupted := make(chan struct{})
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		close(interrupted)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	fmt.Printf("Watching live transcript on %s (Ctrl-C to stop)\n", addr)
	for {
		var update struct {
			Text      string    `json:"text"`
			EmittedAt time.Time `json:"emittedAt"`
		}
		if err := conn.ReadJSON(&update); err != nil {
			select {
			case <-interrupted:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("live stream ended: %w", err)
		}
		if update.Text == "" {
			continue
		}
		fmt.Printf("[%s] %s\n", update.EmittedAt.Local().Format("15:04:05"), update.Text)
	}
}
