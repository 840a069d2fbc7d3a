package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/agentmesh/daemon/internal/store"
)

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.postTask(w, r)
	case http.MethodGet:
		a.listTasks(w, r)
	default:
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) postTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID    string  `json:"session_id"`
		Title        string  `json:"title"`
		Description  string  `json:"description"`
		Priority     string  `json:"priority"`
		Dependencies []int64 `json:"dependencies"`
	}
	_ = decodeBody(r, &body)
	if body.Title == "" {
		errResponse(w, http.StatusBadRequest, "title required")
		return
	}
	id, err := a.store.InsertTask(r.Context(), store.Task{
		SessionID: body.SessionID, Title: body.Title, Description: body.Description,
		Priority: body.Priority, Dependencies: body.Dependencies,
	})
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "status": "created"})
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks, err := a.store.ListTasks(r.Context(), store.TaskListFilter{
		SessionID: q.Get("session_id"), Status: q.Get("status"), Limit: intParam(r, "limit", 100),
	})
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (a *API) handleNextTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	task, err := a.store.NextTask(r.Context(), r.URL.Query().Get("session_id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "no actionable tasks"})
		return
	}
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) handleTasksSubpath(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	id, ok := parseID(w, raw, "task")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getTask(w, r, id)
	case http.MethodPut:
		a.updateTask(w, r, id)
	case http.MethodDelete:
		a.deleteTask(w, r, id)
	default:
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request, id int64) {
	task, err := a.store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		errResponse(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) updateTask(w http.ResponseWriter, r *http.Request, id int64) {
	var body struct {
		Title        *string  `json:"title"`
		Description  *string  `json:"description"`
		Status       *string  `json:"status"`
		Priority     *string  `json:"priority"`
		SessionID    *string  `json:"session_id"`
		Dependencies []int64  `json:"dependencies"`
	}
	_ = decodeBody(r, &body)

	upd := store.TaskUpdate{
		Title: body.Title, Description: body.Description, Status: body.Status,
		Priority: body.Priority, SessionID: body.SessionID,
	}
	if body.Dependencies != nil {
		upd.Dependencies = body.Dependencies
		upd.SetDeps = true
	}

	err := a.store.UpdateTask(r.Context(), id, upd)
	if errors.Is(err, store.ErrNotFound) {
		errResponse(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	task, err := a.store.GetTask(r.Context(), id)
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) deleteTask(w http.ResponseWriter, r *http.Request, id int64) {
	ok, err := a.store.DeleteTask(r.Context(), id)
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		errResponse(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Coordination rules ---

func (a *API) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.postRule(w, r)
	case http.MethodGet:
		a.listRules(w, r)
	default:
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) postRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FromAgent string `json:"from_agent"`
		ToAgent   string `json:"to_agent"`
		EventType string `json:"event_type"`
		Action    string `json:"action"`
		Priority  int    `json:"priority"`
		Template  string `json:"template"`
	}
	_ = decodeBody(r, &body)
	id, err := a.store.InsertRule(r.Context(), store.CoordinationRule{
		FromAgent: body.FromAgent, ToAgent: body.ToAgent, EventType: body.EventType,
		Action: body.Action, Priority: body.Priority, Template: body.Template,
	})
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "status": "created"})
}

func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.store.ListRules(r.Context())
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/api/rules/")
	id, ok := parseID(w, raw, "rule")
	if !ok {
		return
	}
	existed, err := a.store.DeleteRule(r.Context(), id)
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !existed {
		errResponse(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
