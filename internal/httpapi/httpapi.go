// Package httpapi serves the daemon's loopback HTTP API, SSE stream, and
// static dashboard, grounded on original_source/daemon/server.go and
// routes.go. It replaces the original's manual HTTP/1.1 parsing with
// net/http, which gives every documented behavior (CORS preflight,
// request timeouts, the full endpoint surface) for free or via
// http.Server's native timeout fields.
package httpapi

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentmesh/daemon/internal/afterwork"
	"github.com/agentmesh/daemon/internal/daemonlog"
	"github.com/agentmesh/daemon/internal/eventbus"
	"github.com/agentmesh/daemon/internal/mesh"
	"github.com/agentmesh/daemon/internal/monitor"
	"github.com/agentmesh/daemon/internal/sessionid"
	"github.com/agentmesh/daemon/internal/store"
	"github.com/agentmesh/daemon/internal/terminal"
)

// Version is reported by GET /api/health.
const Version = "0.1.0"

// httpapiMetrics holds the OTel instruments for events ingested and
// current SSE client count, registered against the global delegating
// provider at init time — same pattern as internal/monitor and the
// teacher's internal/storage/dolt.doltMetrics. The SSE-clients gauge is
// observable rather than a plain counter because it reports live state
// (eventbus.Bus.ClientCount), not a running total; its callback is
// registered once a *API exists, in New.
var httpapiMetrics struct {
	eventsIngested metric.Int64Counter
	sseClients     metric.Int64ObservableGauge
}

func init() {
	m := otel.Meter("github.com/agentmesh/daemon/httpapi")
	httpapiMetrics.eventsIngested, _ = m.Int64Counter("mesh.events.ingested",
		metric.WithDescription("Events accepted via POST /api/events"),
		metric.WithUnit("{event}"),
	)
	httpapiMetrics.sseClients, _ = m.Int64ObservableGauge("mesh.sse.clients",
		metric.WithDescription("Connected SSE dashboard/observer clients"),
		metric.WithUnit("{client}"),
	)
}

//go:embed static
var staticFS embed.FS

// API holds the daemon's dependencies and implements http.Handler.
type API struct {
	store     *store.Store
	bus       *eventbus.Bus
	monitor   *monitor.Monitor
	mesh      *mesh.Router
	afterwork *afterwork.Router
	driver    terminal.Driver
	log       *daemonlog.Logger
	startTime time.Time

	mux *http.ServeMux
}

// New wires an API over the given components.
func New(s *store.Store, bus *eventbus.Bus, mon *monitor.Monitor, meshR *mesh.Router,
	afterworkR *afterwork.Router, driver terminal.Driver, log *daemonlog.Logger) *API {
	a := &API{
		store: s, bus: bus, monitor: mon, mesh: meshR,
		afterwork: afterworkR, driver: driver, log: log, startTime: time.Now(),
	}
	a.mux = http.NewServeMux()
	a.routes()

	if httpapiMetrics.sseClients != nil {
		_, _ = otel.Meter("github.com/agentmesh/daemon/httpapi").RegisterCallback(
			func(_ context.Context, o metric.Observer) error {
				o.ObserveInt64(httpapiMetrics.sseClients, int64(a.bus.ClientCount()))
				return nil
			},
			httpapiMetrics.sseClients,
		)
	}

	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	a.mux.ServeHTTP(w, r)
}

// NewServer wraps the API in an *http.Server bound to 127.0.0.1:port with
// the same generous per-phase timeouts the original enforced manually
// (10s for the request line, 5s per header, 10s for a JSON body) —
// ReadHeaderTimeout plus ReadTimeout approximate that envelope for the
// whole request; WriteTimeout is left at zero because SSE connections are
// long-lived by design.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (a *API) routes() {
	mux := a.mux

	mux.HandleFunc("/api/events", a.handleEvents)
	mux.HandleFunc("/api/events/stream", a.handleEventsStream)
	mux.HandleFunc("/api/agents", a.handleListAgents)
	mux.HandleFunc("/api/agents/spawn", a.handleAgentSpawn)
	mux.HandleFunc("/api/agents/", a.handleAgentsSubpath)
	mux.HandleFunc("/api/health", a.handleHealth)
	mux.HandleFunc("/api/heartbeat", a.handleHeartbeat)
	mux.HandleFunc("/api/preferences", a.handlePreferences)
	mux.HandleFunc("/api/preferences/", a.handleDeletePreference)
	mux.HandleFunc("/api/messages", a.handleMessages)
	mux.HandleFunc("/api/messages/", a.handleMessagesSubpath)
	mux.HandleFunc("/api/tasks", a.handleTasks)
	mux.HandleFunc("/api/tasks/next", a.handleNextTask)
	mux.HandleFunc("/api/tasks/", a.handleTasksSubpath)
	mux.HandleFunc("/api/context", a.handleContext)
	mux.HandleFunc("/api/context/", a.handleDeleteContext)
	mux.HandleFunc("/api/rules", a.handleRules)
	mux.HandleFunc("/api/rules/", a.handleDeleteRule)

	mux.HandleFunc("/", a.handleDashboard)
	mux.HandleFunc("/ui", a.handleDashboard)
	mux.HandleFunc("/dashboard", a.handleDashboard)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errResponse(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func intParam(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// --- Phase 1: events, agents, health ---

type eventPostBody struct {
	AgentName       string               `json:"agent_name"`
	SessionID       string               `json:"session_id"`
	ParentSessionID string               `json:"parent_session_id"`
	Category        string               `json:"category"`
	Title           string               `json:"title"`
	Message         string               `json:"message"`
	ProjectCWD      string               `json:"project_cwd"`
	GitBranch       string               `json:"git_branch"`
	Terminal        store.TerminalHandle `json:"terminal"`
	WorkSummary     string               `json:"work_summary"`
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.postEvent(w, r)
	case http.MethodGet:
		a.listEvents(w, r)
	default:
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) postEvent(w http.ResponseWriter, r *http.Request) {
	var body eventPostBody
	if err := decodeBody(r, &body); err != nil {
		errResponse(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if body.Title == "" && body.AgentName == "" {
		errResponse(w, http.StatusBadRequest, "title or agent_name required")
		return
	}

	ctx := r.Context()
	ev := store.Event{
		AgentName: body.AgentName, SessionID: body.SessionID, ParentSessionID: body.ParentSessionID,
		Category: body.Category, Title: body.Title, Message: body.Message,
		ProjectCWD: body.ProjectCWD, GitBranch: body.GitBranch, Terminal: body.Terminal,
		WorkSummary: body.WorkSummary,
	}
	eventID, err := a.store.InsertEvent(ctx, ev)
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if httpapiMetrics.eventsIngested != nil {
		httpapiMetrics.eventsIngested.Add(ctx, 1)
	}
	if err := a.store.UpsertSession(ctx, ev); err != nil {
		a.log.Log("httpapi: upsert session failed: %v", err)
	}

	if body.SessionID != "" {
		a.monitor.ClearAlert(body.SessionID)
	}

	if saved, err := a.store.GetEvent(ctx, eventID); err == nil {
		_ = a.bus.Broadcast(saved)
	}

	routeResults, err := a.afterwork.RouteAfterWork(ctx, afterwork.EventData{
		AgentName: body.AgentName, Category: body.Category, SessionID: body.SessionID,
		WorkSummary: body.WorkSummary, Message: body.Message, ProjectCWD: body.ProjectCWD,
	})
	if err != nil {
		a.log.Log("httpapi: after-work routing failed: %v", err)
	}
	for _, rr := range routeResults {
		_ = a.bus.Broadcast(map[string]any{"type": "route", "session_id": body.SessionID, "result": rr})
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": eventID, "status": "created"})
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := a.store.ListEvents(r.Context(), store.EventFilter{
		Agent: q.Get("agent"), Category: q.Get("category"), Project: q.Get("project"),
		Since: q.Get("since"), Limit: intParam(r, "limit", 50),
	})
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := a.bus.Register(r.Context(), w, r); err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *API) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessions, err := a.store.ListSessions(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.store.ListSessions(r.Context(), "")
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	active := 0
	for _, s := range sessions {
		if s.Status == store.StatusActive || s.Status == store.StatusWaiting {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       Version,
		"uptime":        time.Since(a.startTime).Seconds(),
		"sse_clients":   a.bus.ClientCount(),
		"agents_total":  len(sessions),
		"agents_active": active,
	})
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		SessionID string `json:"session_id"`
	}
	_ = decodeBody(r, &body)
	if body.SessionID == "" {
		errResponse(w, http.StatusBadRequest, "session_id required")
		return
	}
	err := a.store.Heartbeat(r.Context(), body.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		errResponse(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.monitor.ClearAlert(body.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Phase 2: two-way control + agent subpaths ---

func (a *API) handleAgentSpawn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Agent  string `json:"agent"`
		Prompt string `json:"prompt"`
		CWD    string `json:"cwd"`
	}
	_ = decodeBody(r, &body)
	if body.Agent == "" {
		body.Agent = "claude"
	}

	ctx := r.Context()
	_, paneID, err := a.driver.Spawn(ctx, terminal.SpawnRequest{
		Agent: body.Agent, Prompt: body.Prompt, CWD: body.CWD, Mux: terminal.DetectAmbient(),
	})
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	sid, err := sessionid.Unique(ctx, sessionid.CheckedBy(a.store))
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	agentName := capitalize(body.Agent)
	title := fmt.Sprintf("%s: Spawned from daemon", agentName)
	message := body.Prompt
	if message == "" {
		message = "New session"
	}
	ev := store.Event{
		AgentName: agentName, SessionID: sid, Category: store.CategoryStart,
		Title: title, Message: message, ProjectCWD: body.CWD,
		Terminal: store.TerminalHandle{Multiplexer: terminal.DetectAmbient().Multiplexer},
	}
	if _, err := a.store.InsertEvent(ctx, ev); err != nil {
		a.log.Log("httpapi: insert spawn event failed: %v", err)
	}
	if err := a.store.UpsertSession(ctx, ev); err != nil {
		a.log.Log("httpapi: upsert spawn session failed: %v", err)
	}

	_ = a.bus.Broadcast(map[string]any{
		"type": "spawn", "action": "spawned", "session_id": sid, "agent_name": agentName, "pane_id": paneID,
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"status": "spawned", "session_id": sid, "pane_id": paneID,
	})
}

// handleAgentsSubpath dispatches /api/agents/{id}[/action] — the most
// specific suffix (stop/approve/reject/send/interrupt/events/children)
// must be checked before the bare GET /api/agents/{id} fallthrough.
func (a *API) handleAgentsSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(rest, "/stop"):
		a.agentStop(w, r, strings.TrimSuffix(rest, "/stop"))
	case r.Method == http.MethodPost && strings.HasSuffix(rest, "/approve"):
		a.agentApprove(w, r, strings.TrimSuffix(rest, "/approve"))
	case r.Method == http.MethodPost && strings.HasSuffix(rest, "/reject"):
		a.agentReject(w, r, strings.TrimSuffix(rest, "/reject"))
	case r.Method == http.MethodPost && strings.HasSuffix(rest, "/send"):
		a.agentSend(w, r, strings.TrimSuffix(rest, "/send"))
	case r.Method == http.MethodPost && strings.HasSuffix(rest, "/interrupt"):
		a.agentInterrupt(w, r, strings.TrimSuffix(rest, "/interrupt"))
	case r.Method == http.MethodGet && strings.HasSuffix(rest, "/events"):
		a.agentEvents(w, r, strings.TrimSuffix(rest, "/events"))
	case r.Method == http.MethodGet && strings.HasSuffix(rest, "/children"):
		a.agentChildren(w, r, strings.TrimSuffix(rest, "/children"))
	case r.Method == http.MethodGet:
		a.getAgent(w, r, rest)
	default:
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) getAgent(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := a.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		errResponse(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) agentStop(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()
	session, err := a.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		errResponse(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	stopErr := a.driver.StopGracefully(ctx, session.Terminal)

	ev := store.Event{
		AgentName: session.AgentName, SessionID: sessionID, Category: store.CategoryStop,
		Title: fmt.Sprintf("%s: Stopped by user", session.AgentName),
	}
	if _, err := a.store.InsertEvent(ctx, ev); err != nil {
		a.log.Log("httpapi: insert stop event failed: %v", err)
	}
	if err := a.store.UpsertSession(ctx, ev); err != nil {
		a.log.Log("httpapi: upsert stopped session failed: %v", err)
	}

	_ = a.bus.Broadcast(map[string]any{
		"type": "action", "action": "stop", "session_id": sessionID, "agent_name": session.AgentName,
	})

	if stopErr == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "session_id": sessionID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "stopped", "session_id": sessionID, "warning": stopErr.Error(),
	})
}

func (a *API) agentApprove(w http.ResponseWriter, r *http.Request, sessionID string) {
	a.agentTerminalAction(w, r, sessionID, "approve", func(ctx context.Context, h store.TerminalHandle) error {
		return a.driver.InjectText(ctx, h, "y\n")
	})
}

func (a *API) agentReject(w http.ResponseWriter, r *http.Request, sessionID string) {
	a.agentTerminalAction(w, r, sessionID, "reject", func(ctx context.Context, h store.TerminalHandle) error {
		return a.driver.InjectText(ctx, h, "n\n")
	})
}

func (a *API) agentInterrupt(w http.ResponseWriter, r *http.Request, sessionID string) {
	a.agentTerminalAction(w, r, sessionID, "interrupt", a.driver.InjectCtrlC)
}

// agentTerminalAction is the common shape of approve/reject/interrupt:
// look up the session, run the injection, broadcast on success.
func (a *API) agentTerminalAction(w http.ResponseWriter, r *http.Request, sessionID, action string,
	inject func(context.Context, store.TerminalHandle) error) {
	ctx := r.Context()
	session, err := a.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		errResponse(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := inject(ctx, session.Terminal); err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	_ = a.bus.Broadcast(map[string]any{
		"type": "action", "action": action, "session_id": sessionID, "agent_name": session.AgentName,
	})

	status := map[string]string{"approve": "approved", "reject": "rejected", "interrupt": "interrupted"}[action]
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "session_id": sessionID})
}

func (a *API) agentSend(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()
	session, err := a.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		errResponse(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	var body struct {
		Text string `json:"text"`
	}
	_ = decodeBody(r, &body)
	if body.Text == "" {
		errResponse(w, http.StatusBadRequest, "text required")
		return
	}
	text := body.Text
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	if err := a.driver.InjectText(ctx, session.Terminal, text); err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	_ = a.bus.Broadcast(map[string]any{
		"type": "action", "action": "send", "session_id": sessionID,
		"agent_name": session.AgentName, "text": body.Text,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "session_id": sessionID})
}

func (a *API) agentEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, err := a.store.GetSession(r.Context(), sessionID); errors.Is(err, store.ErrNotFound) {
		errResponse(w, http.StatusNotFound, "session not found")
		return
	}
	events, err := a.store.SessionEvents(r.Context(), sessionID, intParam(r, "limit", 50))
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) agentChildren(w http.ResponseWriter, r *http.Request, sessionID string) {
	children, err := a.store.ChildSessions(r.Context(), sessionID)
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, children)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
