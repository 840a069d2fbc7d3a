package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "daemon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertSessionMonotonicity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertSession(ctx, Event{
		SessionID: "s1", AgentName: "claude", Category: CategoryStart,
		ProjectCWD: "/repo", GitBranch: "main",
	}))
	require.NoError(t, s.UpsertSession(ctx, Event{
		SessionID: "s1", AgentName: "claude", Category: CategoryCompletion,
		ProjectCWD: "", GitBranch: "",
	}))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "/repo", got.ProjectCWD, "empty incoming field must preserve prior value")
	require.Equal(t, "main", got.GitBranch)
	require.Equal(t, StatusIdle, got.Status)
	require.Equal(t, 2, got.EventCount)
}

func TestStatusMappingAndEndedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cases := []struct {
		category string
		want     string
	}{
		{CategoryStart, StatusActive},
		{CategoryCompletion, StatusIdle},
		{CategoryApproval, StatusWaiting},
		{CategoryQuestion, StatusWaiting},
		{CategoryError, StatusError},
		{CategoryAuth, StatusActive},
		{CategoryStop, StatusEnded},
	}
	for _, tc := range cases {
		sid := "sess-" + tc.category
		require.NoError(t, s.UpsertSession(ctx, Event{SessionID: sid, AgentName: "a", Category: tc.category}))
		got, err := s.GetSession(ctx, sid)
		require.NoError(t, err)
		require.Equal(t, tc.want, got.Status, "category %s", tc.category)
		if tc.want == StatusEnded {
			require.NotEmpty(t, got.EndedAt)
		} else {
			require.Empty(t, got.EndedAt)
		}
	}
}

func TestMatchRuleSpecificityCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.InsertRule(ctx, CoordinationRule{FromAgent: "*", ToAgent: "*", EventType: "*", Action: RuleActionApprove})
	require.NoError(t, err)
	_, err = s.InsertRule(ctx, CoordinationRule{FromAgent: "claude", ToAgent: "*", EventType: "*", Action: RuleActionBlock})
	require.NoError(t, err)
	_, err = s.InsertRule(ctx, CoordinationRule{FromAgent: "claude", ToAgent: "codex", EventType: "handoff", Action: RuleActionAuto})
	require.NoError(t, err)

	r, err := s.MatchRule(ctx, "claude", "codex", "handoff")
	require.NoError(t, err)
	require.Equal(t, RuleActionAuto, r.Action, "exact/exact/exact must win")

	r, err = s.MatchRule(ctx, "claude", "codex", "status")
	require.NoError(t, err)
	require.Equal(t, RuleActionBlock, r.Action, "exact/*/* beats */*/* ")

	r, err = s.MatchRule(ctx, "gemini", "codex", "status")
	require.NoError(t, err)
	require.Equal(t, RuleActionApprove, r.Action, "falls through to */*/*")
}

func TestMatchRuleDefaultWhenEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r, err := s.MatchRule(ctx, "claude", "codex", "handoff")
	require.NoError(t, err)
	require.Equal(t, defaultRule, r)
}

func TestNextTaskDependencyClosure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t1, err := s.InsertTask(ctx, Task{Title: "first"})
	require.NoError(t, err)
	_, err = s.InsertTask(ctx, Task{Title: "second", Dependencies: []int64{t1}})
	require.NoError(t, err)

	next, err := s.NextTask(ctx, "")
	require.NoError(t, err)
	require.Equal(t, t1, next.ID, "task with no deps is actionable first")

	require.NoError(t, s.UpdateTask(ctx, t1, TaskUpdate{Status: strPtr(TaskDone)}))

	next, err = s.NextTask(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "second", next.Title, "dependent task becomes actionable once dep is done")
}

func TestNextTaskCrossSessionDependency(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t1, err := s.InsertTask(ctx, Task{Title: "on s1", SessionID: "s1"})
	require.NoError(t, err)
	_, err = s.InsertTask(ctx, Task{Title: "on s2", SessionID: "s2", Dependencies: []int64{t1}})
	require.NoError(t, err)

	_, err = s.NextTask(ctx, "s2")
	require.ErrorIs(t, err, ErrNotFound, "dependency from another session is not yet done")

	require.NoError(t, s.UpdateTask(ctx, t1, TaskUpdate{Status: strPtr(TaskDone)}))

	next, err := s.NextTask(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, "on s2", next.Title)
}

func TestDeletePreferenceReportsExistence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.DeletePreference(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetPreference(ctx, "theme", "dark"))
	ok, err = s.DeletePreference(ctx, "theme")
	require.NoError(t, err)
	require.True(t, ok)
}

func strPtr(s string) *string { return &s }
