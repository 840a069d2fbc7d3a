// Package terminal is the single polymorphic interface to the four
// supported terminal multiplexers (tmux, kitty, wezterm, zellij), grounded
// on original_source/daemon/terminal.py. It injects text, injects control
// keys, spawns new panes, and gracefully stops a pane.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/agentmesh/daemon/internal/store"
)

// subprocessTimeout bounds every multiplexer CLI invocation.
const subprocessTimeout = 5 * time.Second

// ErrUnsupportedMultiplexer is returned when a TerminalHandle names an
// empty or unknown multiplexer tag.
var ErrUnsupportedMultiplexer = errors.New("terminal: unsupported multiplexer")

// Driver is the polymorphic operation set every multiplexer implements.
type Driver interface {
	InjectText(ctx context.Context, h store.TerminalHandle, text string) error
	InjectCtrlC(ctx context.Context, h store.TerminalHandle) error
	Spawn(ctx context.Context, req SpawnRequest) (store.TerminalHandle, string, error)
	StopGracefully(ctx context.Context, h store.TerminalHandle) error
}

// SpawnRequest describes a new pane to launch.
type SpawnRequest struct {
	Agent  string // claude, codex, gemini
	Prompt string
	CWD    string
	Mux    store.TerminalHandle // ambient multiplexer identity (no pane/window id yet)
}

// driver dispatches to the per-multiplexer implementation by tag.
type driver struct{}

// New returns the default Driver.
func New() Driver { return &driver{} }

func (d *driver) InjectText(ctx context.Context, h store.TerminalHandle, text string) error {
	switch h.Multiplexer {
	case "tmux":
		return sendTmux(ctx, h, text)
	case "kitty":
		return sendKitty(ctx, h, text)
	case "wezterm":
		return sendWezterm(ctx, h, text)
	case "zellij":
		return sendZellij(ctx, h, text)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMultiplexer, h.Multiplexer)
	}
}

// InjectApprove is InjectText("y\n").
func (d *driver) InjectApprove(ctx context.Context, h store.TerminalHandle) error {
	return d.InjectText(ctx, h, "y\n")
}

// InjectReject is InjectText("n\n").
func (d *driver) InjectReject(ctx context.Context, h store.TerminalHandle) error {
	return d.InjectText(ctx, h, "n\n")
}

func (d *driver) InjectCtrlC(ctx context.Context, h store.TerminalHandle) error {
	switch h.Multiplexer {
	case "tmux":
		return sendTmuxKeys(ctx, h, "C-c")
	case "kitty":
		return sendKitty(ctx, h, "\x03")
	case "wezterm":
		return sendWezterm(ctx, h, "\x03")
	case "zellij":
		return sendZellijAction(ctx, h, "write", "3")
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMultiplexer, h.Multiplexer)
	}
}

func (d *driver) Spawn(ctx context.Context, req SpawnRequest) (store.TerminalHandle, string, error) {
	if req.Mux.Multiplexer == "" {
		return store.TerminalHandle{}, "", fmt.Errorf(
			"terminal: no multiplexer detected (need tmux, kitty, wezterm, or zellij)")
	}
	shellCmd := buildAgentCommand(req.Agent, req.Prompt, req.CWD)
	switch req.Mux.Multiplexer {
	case "tmux":
		return spawnTmux(ctx, req.Mux, shellCmd, req.CWD)
	case "kitty":
		return spawnKitty(ctx, req.Mux, shellCmd, req.CWD)
	case "wezterm":
		return spawnWezterm(ctx, req.Mux, shellCmd, req.CWD)
	case "zellij":
		return spawnZellij(ctx, req.Mux, shellCmd, req.CWD)
	default:
		return store.TerminalHandle{}, "", fmt.Errorf("%w: %q", ErrUnsupportedMultiplexer, req.Mux.Multiplexer)
	}
}

// StopGracefully sends Ctrl-C, waits 500ms, then injects "exit\n".
func (d *driver) StopGracefully(ctx context.Context, h store.TerminalHandle) error {
	if err := d.InjectCtrlC(ctx, h); err != nil {
		return err
	}
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.InjectText(ctx, h, "exit\n")
}

// run executes cmd with the package subprocess timeout, returning stdout
// trimmed of leading and trailing whitespace. Exit errors and missing binaries are
// returned as plain errors, not panics — callers decide how to surface
// them (spec.md §7's "External tool" taxonomy).
func run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, subprocessTimeout)
	defer cancel()

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("command not found: %s", name)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return "", errors.New("command timed out")
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			msg := strings.TrimSpace(string(ee.Stderr))
			if msg == "" {
				msg = fmt.Sprintf("exit code %d", ee.ExitCode())
			}
			return "", errors.New(msg)
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// shellQuote wraps s in single quotes, escaping internal single quotes as
// '\'' — spec.md §4.2's quoting rule.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// agentBinaries maps a known agent kind to its CLI binary name; unknown
// agents pass through unchanged (matching terminal.py's dict.get fallback).
var agentBinaries = map[string]string{
	"claude": "claude",
	"codex":  "codex",
	"gemini": "gemini",
}

// buildAgentCommand builds the shell command string used to launch an
// agent session in a freshly spawned pane.
func buildAgentCommand(agent, prompt, cwd string) string {
	binary, ok := agentBinaries[agent]
	if !ok {
		binary = agent
	}

	var parts []string
	if cwd != "" {
		parts = append(parts, fmt.Sprintf("cd %s &&", shellQuote(cwd)))
	}
	parts = append(parts, binary)

	if prompt != "" {
		switch agent {
		case "claude":
			parts = append(parts, "--print", "--prompt", shellQuote(prompt))
		default:
			parts = append(parts, "--prompt", shellQuote(prompt))
		}
	}
	return strings.Join(parts, " ")
}

// DetectAmbient reads the environment to determine the ambient
// multiplexer, populating only the socket/session fields that identify the
// multiplexer server — pane/window id is produced by Spawn. Returns a zero
// TerminalHandle if none is detected.
func DetectAmbient() store.TerminalHandle {
	if tmux := os.Getenv("TMUX"); tmux != "" {
		socket := tmux
		if i := strings.Index(tmux, ","); i >= 0 {
			socket = tmux[:i]
		}
		return store.TerminalHandle{Multiplexer: "tmux", TmuxSocket: socket}
	}
	if session := os.Getenv("ZELLIJ_SESSION_NAME"); session != "" {
		return store.TerminalHandle{Multiplexer: "zellij", ZellijSession: session}
	}
	if winID := os.Getenv("KITTY_WINDOW_ID"); winID != "" {
		return store.TerminalHandle{Multiplexer: "kitty", KittySocket: os.Getenv("KITTY_LISTEN_ON")}
	}
	if pane := os.Getenv("WEZTERM_PANE"); pane != "" {
		return store.TerminalHandle{Multiplexer: "wezterm", WeztermSocket: os.Getenv("WEZTERM_UNIX_SOCKET")}
	}
	return store.TerminalHandle{}
}
