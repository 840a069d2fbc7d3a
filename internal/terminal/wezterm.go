package terminal

import (
	"context"
	"fmt"

	"github.com/agentmesh/daemon/internal/store"
)

// sendWezterm sends text (or a control byte) to the given pane.
func sendWezterm(ctx context.Context, h store.TerminalHandle, text string) error {
	_, err := run(ctx, "wezterm",
		"cli", "send-text", "--pane-id", h.WeztermPane, "--no-paste", text)
	return err
}

// spawnWezterm splits the current pane to the right and captures the new
// pane id from stdout.
func spawnWezterm(ctx context.Context, mux store.TerminalHandle, shellCmd, cwd string) (store.TerminalHandle, string, error) {
	args := []string{"cli", "split-pane", "--right"}
	if cwd != "" {
		args = append(args, "--cwd", cwd)
	}
	args = append(args, "--", "sh", "-c", shellCmd)

	paneID, err := run(ctx, "wezterm", args...)
	if err != nil {
		return store.TerminalHandle{}, "", fmt.Errorf("spawn wezterm pane: %w", err)
	}
	h := store.TerminalHandle{Multiplexer: "wezterm", WeztermSocket: mux.WeztermSocket, WeztermPane: paneID}
	return h, paneID, nil
}
