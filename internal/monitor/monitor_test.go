package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmesh/daemon/internal/daemonlog"
	"github.com/agentmesh/daemon/internal/eventbus"
	"github.com/agentmesh/daemon/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "daemon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCheckTierEscalatesOnlyUpward(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	bus := eventbus.New()
	m := New(s, bus, daemonlog.New(nil))

	require.NoError(t, s.UpsertSession(ctx, store.Event{SessionID: "s1", AgentName: "claude", Category: store.CategoryStart}))
	time.Sleep(1100 * time.Millisecond)

	m.checkTier(ctx, tier{LevelStale, 0, "stale_agent", "warning"})
	require.Equal(t, LevelStale, m.GetLevel("s1"))

	// A lower-severity tier must not downgrade an already-escalated session.
	m.levels["s1"] = LevelStuck
	m.checkTier(ctx, tier{LevelStale, 0, "stale_agent", "warning"})
	require.Equal(t, LevelStuck, m.GetLevel("s1"), "must never de-escalate or repeat a lower level")
}

func TestClearAlertResetsLevel(t *testing.T) {
	s := newTestStore(t)
	m := New(s, eventbus.New(), daemonlog.New(nil))
	m.levels["s1"] = LevelDead
	m.ClearAlert("s1")
	require.Equal(t, LevelNormal, m.GetLevel("s1"))
}

func TestAlertMessageByLevel(t *testing.T) {
	session := store.AgentSession{AgentName: "claude", ProjectCWD: "/repo"}
	require.Contains(t, alertMessage(session, LevelStale), "may be stalling")
	require.Contains(t, alertMessage(session, LevelStuck), "appears stuck")
	require.Contains(t, alertMessage(session, LevelDead), "appears dead")
}

func TestStartStopDoesNotBlock(t *testing.T) {
	s := newTestStore(t)
	m := New(s, eventbus.New(), daemonlog.New(nil))
	m.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	m.Stop()
}
