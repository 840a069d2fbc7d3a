package terminal

import (
	"context"
	"fmt"

	"github.com/agentmesh/daemon/internal/store"
)

func kittyRemoteArgs(socket string, rest ...string) []string {
	args := []string{"@"}
	if socket != "" {
		args = append(args, "--to", socket)
	}
	return append(args, rest...)
}

// sendKitty sends text (or a control byte) to a window matched by id.
func sendKitty(ctx context.Context, h store.TerminalHandle, text string) error {
	_, err := run(ctx, "kitty",
		kittyRemoteArgs(h.KittySocket, "send-text", "--match", "id:"+h.KittyWindowID, text)...)
	return err
}

// spawnKitty launches a new kept-focus window running shellCmd under sh -c.
func spawnKitty(ctx context.Context, mux store.TerminalHandle, shellCmd, cwd string) (store.TerminalHandle, string, error) {
	args := []string{"launch", "--type=window", "--keep-focus"}
	if cwd != "" {
		args = append(args, "--cwd", cwd)
	}
	args = append(args, "sh", "-c", shellCmd)

	windowID, err := run(ctx, "kitty", kittyRemoteArgs(mux.KittySocket, args...)...)
	if err != nil {
		return store.TerminalHandle{}, "", fmt.Errorf("spawn kitty window: %w", err)
	}
	h := store.TerminalHandle{Multiplexer: "kitty", KittySocket: mux.KittySocket, KittyWindowID: windowID}
	return h, windowID, nil
}
