package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tiroq/echotap/internal/config"
	"github.com/tiroq/echotap/internal/diaglog"
	"github.com/tiroq/echotap/internal/ipc"
	"github.com/tiroq/echotap/internal/preflight"
	"github.com/tiroq/echotap/internal/update"
)

// Release checks query this repository.
const (
	repoOwner = "tiroq"
	repoName  = "echotap"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"

	cfgFile      string
	checkUpdates bool
)

var rootCmd = &cobra.Command{
	Use:   "echotap-core",
	Short: "echotap capture daemon",
	Long: `echotap-core captures a system audio target, transcribes it on-device
in near real time, and serves live transcript lines to local consumers.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the daemon status snapshot",
	Run: func(cmd *cobra.Command, args []string) {
		printStatus()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("echotap-core v%s\n", Version)
		if checkUpdates {
			checkForUpdate()
		}
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment for missing dependencies",
	Run: func(cmd *cobra.Command, args []string) {
		runDoctor()
	},
}

var exportDiagCmd = &cobra.Command{
	Use:   "export-diag",
	Short: "Bundle the diagnostic log into a shareable file",
	Run: func(cmd *cobra.Command, args []string) {
		exportDiag()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/echotap/config.yaml)")
	versionCmd.Flags().BoolVar(&checkUpdates, "check", false, "also check GitHub for a newer release")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(exportDiagCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printStatus dumps the last written snapshot as indented JSON, the
// ops-facing view. echotap-ctl renders the human-facing one.
func printStatus() {
	snap, err := ipc.ReadStatus(ipc.DefaultDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("No status snapshot found. Is echotap-core running?")
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}

func checkForUpdate() {
	rel, newer, err := update.NewChecker(repoOwner, repoName, Version).Check()
	if err != nil {
		fmt.Fprintln(os.Stderr, "update check failed:", err)
		os.Exit(2)
	}
	if newer {
		fmt.Printf("Update available: %s (%s)\n", rel.TagName, rel.HTMLURL)
		return
	}
	fmt.Println("You are on the latest release.")
}

// runDoctor prints the preflight report and exits non-zero when any
// check failed.
func runDoctor() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	rep := preflight.Run(cfg)
	for _, res := range rep.Results {
		status := "OK  "
		if !res.OK {
			status = "FAIL"
		}
		if res.Message != "" {
			fmt.Printf("%s %s: %s\n", status, res.Name, res.Message)
		} else {
			fmt.Printf("%s %s\n", status, res.Name)
		}
		for _, issue := range res.Issues {
			fmt.Printf("     issue: %s\n", issue)
		}
		for _, fix := range res.Fixes {
			fmt.Printf("     fix:   %s\n", fix)
		}
	}

	if n := rep.Failed(); n > 0 {
		fmt.Printf("\n%d of %d checks failed.\n", n, len(rep.Results))
		os.Exit(1)
	}
	fmt.Printf("\nAll %d checks passed.\n", len(rep.Results))
}

func exportDiag() {
	logPath := os.Getenv("ECHOTAP_LOG_PATH")
	if logPath == "" {
		logPath = defaultDiagLogPath
	}
	diaglog.Version = Version
	path, n, err := diaglog.Export(logPath, ".")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "hint: run with ECHOTAP_DEBUG=true to enable logging")
			os.Exit(1)
		}
		os.Exit(2)
	}
	fmt.Printf("Wrote: %s (%d lines)\n", path, n)
}
