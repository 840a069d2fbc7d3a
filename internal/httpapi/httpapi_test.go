package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/agentmesh/daemon/internal/afterwork"
	"github.com/agentmesh/daemon/internal/daemonlog"
	"github.com/agentmesh/daemon/internal/eventbus"
	"github.com/agentmesh/daemon/internal/mesh"
	"github.com/agentmesh/daemon/internal/monitor"
	"github.com/agentmesh/daemon/internal/store"
	"github.com/agentmesh/daemon/internal/terminal"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct{}

func (fakeDriver) InjectText(ctx context.Context, h store.TerminalHandle, text string) error { return nil }
func (fakeDriver) InjectCtrlC(ctx context.Context, h store.TerminalHandle) error              { return nil }
func (fakeDriver) Spawn(ctx context.Context, req terminal.SpawnRequest) (store.TerminalHandle, string, error) {
	return store.TerminalHandle{Multiplexer: "tmux", TmuxPane: "%1"}, "%1", nil
}
func (fakeDriver) StopGracefully(ctx context.Context, h store.TerminalHandle) error { return nil }

func newTestAPI(t *testing.T) *API {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "daemon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	bus := eventbus.New()
	driver := fakeDriver{}
	log := daemonlog.New(nil)
	mon := monitor.New(s, bus, log)
	meshR := mesh.New(s, driver)
	afterworkR := afterwork.New(s, driver)
	return New(s, bus, mon, meshR, afterworkR, driver, log)
}

func doJSON(t *testing.T, api *API, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsOK(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, Version, body["version"])
}

func TestPostEventRequiresTitleOrAgent(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodPost, "/api/events", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostEventCreatesSessionAndEvent(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodPost, "/api/events", map[string]string{
		"agent_name": "claude", "session_id": "s1", "category": "start", "title": "hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	getRec := doJSON(t, api, http.MethodGet, "/api/agents/s1", nil)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestGetAgentNotFound(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/api/agents/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentSpawnCreatesSession(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodPost, "/api/agents/spawn", map[string]string{"agent": "claude", "prompt": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "spawned", body["status"])
	require.NotEmpty(t, body["session_id"])
}

func TestAgentApproveInjectsYes(t *testing.T) {
	api := newTestAPI(t)
	doJSON(t, api, http.MethodPost, "/api/events", map[string]string{
		"agent_name": "claude", "session_id": "s1", "category": "approval", "title": "needs approval",
	})
	rec := doJSON(t, api, http.MethodPost, "/api/agents/s1/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTaskLifecycle(t *testing.T) {
	api := newTestAPI(t)
	createRec := doJSON(t, api, http.MethodPost, "/api/tasks", map[string]string{"title": "build"})
	require.Equal(t, http.StatusCreated, createRec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	id := int64(created["id"].(float64))

	nextRec := doJSON(t, api, http.MethodGet, "/api/tasks/next", nil)
	require.Equal(t, http.StatusOK, nextRec.Code)

	deleteReq := httptest.NewRequest(http.MethodDelete, taskPath(id), nil)
	deleteRec := httptest.NewRecorder()
	api.ServeHTTP(deleteRec, deleteReq)
	require.Equal(t, http.StatusOK, deleteRec.Code)
}

func taskPath(id int64) string {
	return "/api/tasks/" + strconv.FormatInt(id, 10)
}

func TestRulesLifecycle(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodPost, "/api/rules", map[string]any{
		"from_agent": "claude", "to_agent": "codex", "event_type": "handoff", "action": "auto",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	listRec := doJSON(t, api, http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var rules []store.CoordinationRule
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &rules))
	require.Len(t, rules, 1)
}

func TestOptionsPreflightReturnsOK(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDashboardServesIndex(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "agent mesh daemon")
}
