package terminal

import (
	"context"
	"fmt"

	"github.com/agentmesh/daemon/internal/store"
)

func tmuxArgs(socket string, rest ...string) []string {
	args := []string{}
	if socket != "" {
		args = append(args, "-S", socket)
	}
	return append(args, rest...)
}

// sendTmux sends literal text via "tmux send-keys -l".
func sendTmux(ctx context.Context, h store.TerminalHandle, text string) error {
	_, err := run(ctx, "tmux", tmuxArgs(h.TmuxSocket, "send-keys", "-t", h.TmuxPane, "-l", text)...)
	return err
}

// sendTmuxKeys sends a named key (e.g. "C-c") without -l.
func sendTmuxKeys(ctx context.Context, h store.TerminalHandle, key string) error {
	_, err := run(ctx, "tmux", tmuxArgs(h.TmuxSocket, "send-keys", "-t", h.TmuxPane, key)...)
	return err
}

// spawnTmux splits the current window and captures the new pane id via
// "-P -F #{pane_id}".
func spawnTmux(ctx context.Context, mux store.TerminalHandle, shellCmd, cwd string) (store.TerminalHandle, string, error) {
	args := []string{"split-window", "-h"}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	args = append(args, shellCmd, "-P", "-F", "#{pane_id}")

	paneID, err := run(ctx, "tmux", tmuxArgs(mux.TmuxSocket, args...)...)
	if err != nil {
		return store.TerminalHandle{}, "", fmt.Errorf("spawn tmux pane: %w", err)
	}
	h := store.TerminalHandle{Multiplexer: "tmux", TmuxSocket: mux.TmuxSocket, TmuxPane: paneID}
	return h, paneID, nil
}
