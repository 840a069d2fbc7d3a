package terminal

import (
	"context"
	"testing"

	"github.com/agentmesh/daemon/internal/store"
	"github.com/stretchr/testify/require"
)

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	require.Equal(t, `'it'\''s fine'`, shellQuote("it's fine"))
	require.Equal(t, `'plain'`, shellQuote("plain"))
}

func TestBuildAgentCommandClaudeUsesPrintFlag(t *testing.T) {
	cmd := buildAgentCommand("claude", "do the thing", "/repo")
	require.Equal(t, `cd '/repo' && claude --print --prompt 'do the thing'`, cmd)
}

func TestBuildAgentCommandCodexOmitsPrintFlag(t *testing.T) {
	cmd := buildAgentCommand("codex", "do the thing", "")
	require.Equal(t, `codex --prompt 'do the thing'`, cmd)
}

func TestBuildAgentCommandUnknownAgentPassesThroughBinary(t *testing.T) {
	cmd := buildAgentCommand("some-custom-agent", "", "")
	require.Equal(t, "some-custom-agent", cmd)
}

func TestBuildAgentCommandNoPromptOmitsPromptFlag(t *testing.T) {
	cmd := buildAgentCommand("gemini", "", "/x")
	require.Equal(t, `cd '/x' && gemini`, cmd)
}

func TestDetectAmbientReadsTmuxEnv(t *testing.T) {
	t.Setenv("TMUX", "/tmp/tmux-1000/default,1234,0")
	t.Setenv("ZELLIJ_SESSION_NAME", "")
	t.Setenv("KITTY_WINDOW_ID", "")
	t.Setenv("WEZTERM_PANE", "")

	h := DetectAmbient()
	require.Equal(t, "tmux", h.Multiplexer)
	require.Equal(t, "/tmp/tmux-1000/default", h.TmuxSocket)
}

func TestDetectAmbientReturnsZeroWhenUnset(t *testing.T) {
	t.Setenv("TMUX", "")
	t.Setenv("ZELLIJ_SESSION_NAME", "")
	t.Setenv("KITTY_WINDOW_ID", "")
	t.Setenv("WEZTERM_PANE", "")

	h := DetectAmbient()
	require.True(t, h.IsZero())
}

func TestInjectTextUnsupportedMultiplexer(t *testing.T) {
	d := New()
	err := d.InjectText(context.Background(), store.TerminalHandle{Multiplexer: "screen"}, "hi")
	require.ErrorIs(t, err, ErrUnsupportedMultiplexer)
}
