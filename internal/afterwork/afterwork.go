// Package afterwork runs after-work routing — triggered when an agent
// completes or stops — grounded on original_source/daemon/router.go.
//
// Five routing strategies, matched from coordination_rules where
// event_type is "completion" or "stop":
//
//	next_task  auto-assign the next pending DAG task to the same agent.
//	handoff    hand off to another agent session; template names the
//	           target session id.
//	spawn      spawn a new agent in a new pane; template is a JSON object
//	           {"agent":"...", "prompt":"...", "cwd":"..."}.
//	notify     broadcast an SSE event only; template is an optional
//	           custom message.
//	pipeline   run a JSON array of {action, template} steps in order.
package afterwork

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/agentmesh/daemon/internal/store"
	"github.com/agentmesh/daemon/internal/terminal"
)

// Result is one rule's routing outcome.
type Result struct {
	Action       string `json:"action"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	TaskID       int64  `json:"task_id,omitempty"`
	TaskTitle    string `json:"task_title,omitempty"`
	TargetSession string `json:"target_session_id,omitempty"`
	PaneID       string `json:"pane_id,omitempty"`
	Agent        string `json:"agent,omitempty"`
	Message      string `json:"message,omitempty"`
	Steps        []Result `json:"steps,omitempty"`
}

// EventData carries the fields _execute_route reads off the triggering event.
type EventData struct {
	AgentName   string
	Category    string
	SessionID   string
	WorkSummary string
	Message     string
	ProjectCWD  string
}

// Router executes after-work routing rules.
type Router struct {
	store  *store.Store
	driver terminal.Driver
}

// New builds a Router over store s, injecting via driver d.
func New(s *store.Store, d terminal.Driver) *Router {
	return &Router{store: s, driver: d}
}

// routingActions are the rule actions this router handles; approve/block/auto
// belong to the message mesh, not after-work routing.
var routingActions = map[string]bool{
	store.RouteNextTask: true,
	store.RouteHandoff:  true,
	store.RouteSpawn:    true,
	store.RouteNotify:   true,
	store.RoutePipeline: true,
}

// RouteAfterWork runs every matching routing rule for ev and returns one
// Result per rule. Only triggers for completion/stop categories.
func (r *Router) RouteAfterWork(ctx context.Context, ev EventData) ([]Result, error) {
	if ev.Category != store.CategoryCompletion && ev.Category != store.CategoryStop {
		return nil, nil
	}

	rules, err := r.store.MatchRulesForEvent(ctx, ev.AgentName, ev.Category)
	if err != nil {
		return nil, fmt.Errorf("afterwork: match rules: %w", err)
	}

	var route []store.CoordinationRule
	for _, rule := range rules {
		if routingActions[rule.Action] {
			route = append(route, rule)
		}
	}
	if len(route) == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(route))
	for _, rule := range route {
		res, err := r.executeRoute(ctx, rule.Action, rule.Template, ev, ev.SessionID)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Router) executeRoute(ctx context.Context, action, template string, ev EventData, sessionID string) (Result, error) {
	switch action {
	case store.RouteNextTask:
		return r.routeNextTask(ctx, sessionID)
	case store.RouteHandoff:
		return r.routeHandoff(ctx, ev, template, sessionID)
	case store.RouteSpawn:
		return r.routeSpawn(ctx, ev, template)
	case store.RouteNotify:
		return r.routeNotify(ev, template), nil
	case store.RoutePipeline:
		return r.routePipeline(ctx, ev, template, sessionID)
	default:
		return Result{Action: action, Status: "unknown_action"}, nil
	}
}

// routeNextTask assigns the next pending DAG task — preferring one scoped
// to sessionID, falling back to any global task — to the finishing agent.
func (r *Router) routeNextTask(ctx context.Context, sessionID string) (Result, error) {
	task, err := r.store.NextTask(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		task, err = r.store.NextTask(ctx, "")
	}
	if errors.Is(err, store.ErrNotFound) {
		return Result{Action: store.RouteNextTask, Status: "no_tasks"}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("afterwork: next task: %w", err)
	}

	inProgress := store.TaskInProgress
	sid := sessionID
	if err := r.store.UpdateTask(ctx, task.ID, store.TaskUpdate{Status: &inProgress, SessionID: &sid}); err != nil {
		return Result{}, fmt.Errorf("afterwork: mark task in progress: %w", err)
	}

	if session, err := r.store.GetSession(ctx, sessionID); err == nil {
		text := fmt.Sprintf("[Next Task #%d] %s\n%s\n", task.ID, task.Title, task.Description)
		_ = r.driver.InjectText(ctx, session.Terminal, text)
	}

	return Result{Action: store.RouteNextTask, Status: "assigned", TaskID: task.ID, TaskTitle: task.Title}, nil
}

// routeHandoff types a handoff message into the target session's pane and
// records it as a mesh message.
func (r *Router) routeHandoff(ctx context.Context, ev EventData, template, fromSessionID string) (Result, error) {
	targetSessionID := strings.TrimSpace(template)
	if targetSessionID == "" {
		return Result{Action: store.RouteHandoff, Status: "no_target", Error: "template must contain target session_id"}, nil
	}

	target, err := r.store.GetSession(ctx, targetSessionID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Action: store.RouteHandoff, Status: "target_not_found",
			Error: fmt.Sprintf("session %s not found", targetSessionID)}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("afterwork: get target session: %w", err)
	}

	agentName := ev.AgentName
	if agentName == "" {
		agentName = "Agent"
	}
	content := firstNonEmpty(ev.WorkSummary, ev.Message, "Work completed")

	text := fmt.Sprintf("[Handoff from %s] %s\n", agentName, content)
	injectErr := r.driver.InjectText(ctx, target.Terminal, text)

	status := "delivered"
	if injectErr != nil {
		status = "pending"
	}
	_, err = r.store.InsertMessage(ctx, store.Message{
		FromSession: fromSessionID,
		ToSession:   targetSessionID,
		MessageType: "handoff",
		Content:     content,
		Status:      status,
	})
	if err != nil {
		return Result{}, fmt.Errorf("afterwork: insert handoff message: %w", err)
	}

	return Result{Action: store.RouteHandoff, Status: status, TargetSession: targetSessionID}, nil
}

type spawnConfig struct {
	Agent  string `json:"agent"`
	Prompt string `json:"prompt"`
	CWD    string `json:"cwd"`
}

// routeSpawn launches a new agent pane from a JSON template, substituting
// "{summary}" in the prompt with the triggering event's work summary.
func (r *Router) routeSpawn(ctx context.Context, ev EventData, template string) (Result, error) {
	cfg := spawnConfig{Agent: "claude"}
	if template != "" {
		if err := json.Unmarshal([]byte(template), &cfg); err != nil {
			cfg = spawnConfig{Agent: "claude", Prompt: template}
		}
	}
	if cfg.CWD == "" {
		cfg.CWD = ev.ProjectCWD
	}
	if ev.WorkSummary != "" && strings.Contains(cfg.Prompt, "{summary}") {
		cfg.Prompt = strings.ReplaceAll(cfg.Prompt, "{summary}", ev.WorkSummary)
	}

	_, paneID, err := r.driver.Spawn(ctx, terminal.SpawnRequest{
		Agent:  cfg.Agent,
		Prompt: cfg.Prompt,
		CWD:    cfg.CWD,
		Mux:    terminal.DetectAmbient(),
	})
	if err != nil {
		return Result{Action: store.RouteSpawn, Status: "failed", Error: err.Error()}, nil
	}
	return Result{Action: store.RouteSpawn, Status: "spawned", PaneID: paneID, Agent: cfg.Agent}, nil
}

// routeNotify produces a result for the caller to broadcast over SSE; it
// performs no terminal action.
func (r *Router) routeNotify(ev EventData, template string) Result {
	msg := template
	if msg == "" {
		agentName := ev.AgentName
		if agentName == "" {
			agentName = "Agent"
		}
		msg = agentName + " finished"
	}
	return Result{Action: store.RouteNotify, Status: "ok", Message: msg}
}

type pipelineStep struct {
	Action   string `json:"action"`
	Template string `json:"template"`
}

// routePipeline runs a JSON array of {action, template} steps in order.
func (r *Router) routePipeline(ctx context.Context, ev EventData, template, sessionID string) (Result, error) {
	if template == "" {
		return Result{Action: store.RoutePipeline, Status: "ok", Steps: nil}, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(template), &raw); err != nil {
		return Result{Action: store.RoutePipeline, Status: "invalid_template"}, nil
	}

	results := make([]Result, 0, len(raw))
	for _, entry := range raw {
		var step pipelineStep
		if err := json.Unmarshal(entry, &step); err != nil {
			// not a {action,template} object — skip, like router.py's
			// "if not isinstance(step, dict): continue".
			continue
		}
		res, err := r.executeRoute(ctx, step.Action, step.Template, ev, sessionID)
		if err != nil {
			return Result{}, err
		}
		results = append(results, res)
	}
	return Result{Action: store.RoutePipeline, Status: "ok", Steps: results}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
