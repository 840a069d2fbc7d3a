package terminal

import (
	"context"

	"github.com/agentmesh/daemon/internal/store"
)

func zellijArgs(session string, rest ...string) []string {
	args := []string{}
	if session != "" {
		args = append(args, "-s", session)
	}
	return append(args, rest...)
}

// sendZellij types text into the focused pane via "action write-chars".
func sendZellij(ctx context.Context, h store.TerminalHandle, text string) error {
	_, err := run(ctx, "zellij", zellijArgs(h.ZellijSession, "action", "write-chars", text)...)
	return err
}

// sendZellijAction runs an arbitrary zellij "action <name> <args...>".
func sendZellijAction(ctx context.Context, h store.TerminalHandle, action string, args ...string) error {
	rest := append([]string{"action", action}, args...)
	_, err := run(ctx, "zellij", zellijArgs(h.ZellijSession, rest...)...)
	return err
}

// spawnZellij opens a new pane to the right running shellCmd under sh -c.
// Unlike the other three multiplexers, zellij's CLI gives no way to
// capture the new pane's id, so the session name is echoed back as the
// pane identifier — this asymmetry is preserved from terminal.py.
func spawnZellij(ctx context.Context, mux store.TerminalHandle, shellCmd, cwd string) (store.TerminalHandle, string, error) {
	args := []string{"action", "new-pane", "--direction", "right"}
	if cwd != "" {
		args = append(args, "--cwd", cwd)
	}
	args = append(args, "--", "sh", "-c", shellCmd)

	if _, err := run(ctx, "zellij", zellijArgs(mux.ZellijSession, args...)...); err != nil {
		return store.TerminalHandle{}, "", err
	}
	h := store.TerminalHandle{Multiplexer: "zellij", ZellijSession: mux.ZellijSession}
	return h, mux.ZellijSession, nil
}
