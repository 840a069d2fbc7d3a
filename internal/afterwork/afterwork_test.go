package afterwork

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentmesh/daemon/internal/store"
	"github.com/agentmesh/daemon/internal/terminal"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	injected  []string
	spawnPane string
	spawnErr  error
}

func (f *fakeDriver) InjectText(ctx context.Context, h store.TerminalHandle, text string) error {
	f.injected = append(f.injected, text)
	return nil
}
func (f *fakeDriver) InjectCtrlC(ctx context.Context, h store.TerminalHandle) error { return nil }
func (f *fakeDriver) Spawn(ctx context.Context, req terminal.SpawnRequest) (store.TerminalHandle, string, error) {
	if f.spawnErr != nil {
		return store.TerminalHandle{}, "", f.spawnErr
	}
	return store.TerminalHandle{Multiplexer: "tmux"}, f.spawnPane, nil
}
func (f *fakeDriver) StopGracefully(ctx context.Context, h store.TerminalHandle) error { return nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "daemon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRouteAfterWorkIgnoresNonTerminalCategories(t *testing.T) {
	s := newTestStore(t)
	r := New(s, &fakeDriver{})
	results, err := r.RouteAfterWork(context.Background(), EventData{Category: store.CategoryStart})
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestRouteAfterWorkNextTaskAssignsAndInjects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	driver := &fakeDriver{}
	r := New(s, driver)

	require.NoError(t, s.UpsertSession(ctx, store.Event{SessionID: "s1", AgentName: "claude", Category: store.CategoryStart}))
	_, err := s.InsertTask(ctx, store.Task{Title: "build thing", Description: "do it well"})
	require.NoError(t, err)
	_, err = s.InsertRule(ctx, store.CoordinationRule{FromAgent: "claude", EventType: store.CategoryCompletion, Action: store.RouteNextTask})
	require.NoError(t, err)

	results, err := r.RouteAfterWork(ctx, EventData{AgentName: "claude", Category: store.CategoryCompletion, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "assigned", results[0].Status)
	require.Len(t, driver.injected, 1)
	require.Contains(t, driver.injected[0], "[Next Task #")
	require.Contains(t, driver.injected[0], "build thing")
	require.Contains(t, driver.injected[0], "do it well")
}

func TestRouteAfterWorkNextTaskNoTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := New(s, &fakeDriver{})

	require.NoError(t, s.UpsertSession(ctx, store.Event{SessionID: "s1", AgentName: "claude", Category: store.CategoryStart}))
	_, err := s.InsertRule(ctx, store.CoordinationRule{FromAgent: "claude", EventType: store.CategoryCompletion, Action: store.RouteNextTask})
	require.NoError(t, err)

	results, err := r.RouteAfterWork(ctx, EventData{AgentName: "claude", Category: store.CategoryCompletion, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "no_tasks", results[0].Status)
}

func TestRouteAfterWorkHandoffDeliversAndRecordsMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	driver := &fakeDriver{}
	r := New(s, driver)

	require.NoError(t, s.UpsertSession(ctx, store.Event{SessionID: "from", AgentName: "claude", Category: store.CategoryStart}))
	require.NoError(t, s.UpsertSession(ctx, store.Event{SessionID: "to", AgentName: "codex", Category: store.CategoryStart}))
	_, err := s.InsertRule(ctx, store.CoordinationRule{
		FromAgent: "claude", EventType: store.CategoryCompletion, Action: store.RouteHandoff, Template: "to",
	})
	require.NoError(t, err)

	results, err := r.RouteAfterWork(ctx, EventData{
		AgentName: "claude", Category: store.CategoryCompletion, SessionID: "from", WorkSummary: "finished the refactor",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "delivered", results[0].Status)
	require.Equal(t, "to", results[0].TargetSession)
	require.Len(t, driver.injected, 1)
	require.Equal(t, "[Handoff from claude] finished the refactor\n", driver.injected[0])

	msgs, err := s.ListMessages(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, store.MessageDelivered, msgs[0].Status)
}

func TestRouteAfterWorkHandoffTargetNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := New(s, &fakeDriver{})

	require.NoError(t, s.UpsertSession(ctx, store.Event{SessionID: "from", AgentName: "claude", Category: store.CategoryStart}))
	_, err := s.InsertRule(ctx, store.CoordinationRule{
		FromAgent: "claude", EventType: store.CategoryCompletion, Action: store.RouteHandoff, Template: "ghost",
	})
	require.NoError(t, err)

	results, err := r.RouteAfterWork(ctx, EventData{AgentName: "claude", Category: store.CategoryCompletion, SessionID: "from"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "target_not_found", results[0].Status)
}

func TestRouteAfterWorkSpawnSubstitutesSummary(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	driver := &fakeDriver{spawnPane: "%3"}
	r := New(s, driver)

	require.NoError(t, s.UpsertSession(ctx, store.Event{SessionID: "s1", AgentName: "claude", Category: store.CategoryStart}))
	_, err := s.InsertRule(ctx, store.CoordinationRule{
		FromAgent: "claude", EventType: store.CategoryCompletion, Action: store.RouteSpawn,
		Template: `{"agent":"codex","prompt":"continue: {summary}"}`,
	})
	require.NoError(t, err)

	results, err := r.RouteAfterWork(ctx, EventData{
		AgentName: "claude", Category: store.CategoryCompletion, SessionID: "s1", WorkSummary: "refactor done",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "spawned", results[0].Status)
	require.Equal(t, "%3", results[0].PaneID)
}

func TestRouteAfterWorkNotifyProducesMessageOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	driver := &fakeDriver{}
	r := New(s, driver)

	require.NoError(t, s.UpsertSession(ctx, store.Event{SessionID: "s1", AgentName: "claude", Category: store.CategoryStart}))
	_, err := s.InsertRule(ctx, store.CoordinationRule{FromAgent: "claude", EventType: store.CategoryStop, Action: store.RouteNotify})
	require.NoError(t, err)

	results, err := r.RouteAfterWork(ctx, EventData{AgentName: "claude", Category: store.CategoryStop, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "claude finished", results[0].Message)
	require.Empty(t, driver.injected, "notify performs no terminal action")
}

func TestRouteAfterWorkPipelineRunsStepsInOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := New(s, &fakeDriver{})

	require.NoError(t, s.UpsertSession(ctx, store.Event{SessionID: "s1", AgentName: "claude", Category: store.CategoryStart}))
	_, err := s.InsertRule(ctx, store.CoordinationRule{
		FromAgent: "claude", EventType: store.CategoryCompletion, Action: store.RoutePipeline,
		Template: `[{"action":"notify","template":"step one"},{"action":"notify","template":"step two"}]`,
	})
	require.NoError(t, err)

	results, err := r.RouteAfterWork(ctx, EventData{AgentName: "claude", Category: store.CategoryCompletion, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "ok", results[0].Status)
	require.Len(t, results[0].Steps, 2)
	require.Equal(t, "step one", results[0].Steps[0].Message)
	require.Equal(t, "step two", results[0].Steps[1].Message)
}

func TestRouteAfterWorkPipelineSkipsNonObjectEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := New(s, &fakeDriver{})

	require.NoError(t, s.UpsertSession(ctx, store.Event{SessionID: "s1", AgentName: "claude", Category: store.CategoryStart}))
	_, err := s.InsertRule(ctx, store.CoordinationRule{
		FromAgent: "claude", EventType: store.CategoryCompletion, Action: store.RoutePipeline,
		Template: `[{"action":"notify","template":"step one"},"garbage",{"action":"notify","template":"step two"}]`,
	})
	require.NoError(t, err)

	results, err := r.RouteAfterWork(ctx, EventData{AgentName: "claude", Category: store.CategoryCompletion, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "ok", results[0].Status)
	require.Len(t, results[0].Steps, 2, "the non-object entry is skipped, not treated as a fatal decode error")
	require.Equal(t, "step one", results[0].Steps[0].Message)
	require.Equal(t, "step two", results[0].Steps[1].Message)
}
