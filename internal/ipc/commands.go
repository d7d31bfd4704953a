// Package ipc carries commands and status between the control CLI and
// the daemon through files in the cache directory.
//
// The command file holds at most one pending command. The daemon reads
// and clears it in one step so a command can never run twice; the CLI
// overwrites whatever is pending, which matches how a human retries.
package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CommandKind names a control request.
type CommandKind string

const (
	CmdStart  CommandKind = "start"  // begin capture for a target
	CmdStop   CommandKind = "stop"   // end the session (target optional)
	CmdToggle CommandKind = "toggle" // start or stop depending on state
	CmdQuit   CommandKind = "quit"   // shut the daemon down
)

// Command is one control request. Target is required for start and
// toggle, optional for stop, and absent for quit.
type Command struct {
	Kind   CommandKind
	Target string
}

// Validate checks the kind/target combination.
func (c Command) Validate() error {
	switch c.Kind {
	case CmdStart, CmdToggle:
		if strings.TrimSpace(c.Target) == "" {
			return fmt.Errorf("ipc: %s requires a target", c.Kind)
		}
	case CmdStop:
	case CmdQuit:
		if c.Target != "" {
			return fmt.Errorf("ipc: quit takes no target")
		}
	default:
		return fmt.Errorf("ipc: unknown command %q", c.Kind)
	}
	return nil
}

// DefaultDir is where the daemon and CLI exchange files unless the
// caller overrides it.
func DefaultDir() string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "echotap")
}

// CommandFile returns the command file path under dir.
func CommandFile(dir string) string {
	return filepath.Join(dir, "cmd.txt")
}

// StatusFile returns the status snapshot path under dir.
func StatusFile(dir string) string {
	return filepath.Join(dir, "status.json")
}

// WriteCommand serialises cmd into dir's command file, replacing any
// pending command.
func WriteCommand(dir string, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ipc: create dir: %w", err)
	}
	line := string(cmd.Kind)
	if cmd.Target != "" {
		line += " " + cmd.Target
	}
	if err := os.WriteFile(CommandFile(dir), []byte(line+"\n"), 0o644); err != nil {
		return fmt.Errorf("ipc: write command: %w", err)
	}
	return nil
}

// ReadCommand reads and clears the pending command. The second return
// is false when no command is pending. Malformed content is cleared
// and reported so a bad write cannot loop forever.
func ReadCommand(dir string) (Command, bool, error) {
	path := CommandFile(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Command{}, false, nil
		}
		return Command{}, false, fmt.Errorf("ipc: read command: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		// Nothing pending. Leaving the file alone keeps a command that
		// lands between our read and a clear from being wiped unread.
		return Command{}, false, nil
	}

	// Clear before acting so the command never executes twice.
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return Command{}, false, fmt.Errorf("ipc: clear command: %w", err)
	}

	cmd, err := ParseCommand(string(data))
	if err != nil {
		return Command{}, false, err
	}
	return cmd, true, nil
}

// ParseCommand parses one "kind [target]" line. Empty input parses to
// the zero Command without error.
func ParseCommand(raw string) (Command, error) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Command{}, nil
	}
	kind, target, _ := strings.Cut(line, " ")
	cmd := Command{Kind: CommandKind(kind), Target: strings.TrimSpace(target)}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}
