package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/daemon/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "daemon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExportImportRoundTrips(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	require.NoError(t, src.UpsertSession(ctx, store.Event{SessionID: "s1", AgentName: "claude", Category: store.CategoryStart}))
	_, err := src.InsertEvent(ctx, store.Event{SessionID: "s1", AgentName: "claude", Category: store.CategoryCompletion, WorkSummary: "did the thing"})
	require.NoError(t, err)
	_, err = src.InsertRule(ctx, store.CoordinationRule{FromAgent: "claude", EventType: store.CategoryCompletion, Action: store.RouteNotify})
	require.NoError(t, err)
	_, err = src.InsertTask(ctx, store.Task{Title: "ship it", Status: store.TaskPending, Priority: store.PriorityHigh})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	require.NoError(t, Export(ctx, src, path))

	dst := newTestStore(t)
	require.NoError(t, Import(ctx, dst, path))

	events, err := dst.ListEvents(ctx, store.EventFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "did the thing", events[0].WorkSummary)

	sessions, err := dst.ListSessions(ctx, "")
	require.NoError(t, err)
	require.Len(t, sessions, 1, "replaying the event re-derives the session via UpsertSession")
	require.Equal(t, "s1", sessions[0].SessionID)

	rules, err := dst.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, store.RouteNotify, rules[0].Action)

	tasks, err := dst.ListTasks(ctx, store.TaskListFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "ship it", tasks[0].Title)
}
