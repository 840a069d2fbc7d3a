package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentmesh/daemon/internal/store"
)

// --- Phase 3: agent mesh (messages) ---

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.postMessage(w, r)
	case http.MethodGet:
		a.listMessages(w, r)
	default:
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) postMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FromSession string `json:"from_session"`
		ToSession   string `json:"to_session"`
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
	}
	_ = decodeBody(r, &body)
	if body.FromSession == "" || body.ToSession == "" {
		errResponse(w, http.StatusBadRequest, "from_session and to_session required")
		return
	}
	if body.Content == "" {
		errResponse(w, http.StatusBadRequest, "content required")
		return
	}

	ctx := r.Context()
	msgID, err := a.store.InsertMessage(ctx, store.Message{
		FromSession: body.FromSession, ToSession: body.ToSession,
		MessageType: body.MessageType, Content: body.Content,
	})
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := a.mesh.RouteMessage(ctx, msgID)
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if msg, err := a.store.GetMessage(ctx, msgID); err == nil {
		_ = a.bus.Broadcast(map[string]any{"type": "message", "message": msg, "routing": result.Action})
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": msgID, "action": result.Action, "reason": result.Reason})
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := a.store.ListMessages(r.Context(), r.URL.Query().Get("status"), intParam(r, "limit", 50))
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (a *API) handleMessagesSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/messages/")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(rest, "/approve"):
		a.approveMessage(w, r, strings.TrimSuffix(rest, "/approve"))
	case r.Method == http.MethodPost && strings.HasSuffix(rest, "/reject"):
		a.rejectMessage(w, r, strings.TrimSuffix(rest, "/reject"))
	case r.Method == http.MethodGet:
		a.getMessage(w, r, rest)
	default:
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func parseID(w http.ResponseWriter, raw, kind string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		errResponse(w, http.StatusBadRequest, "invalid "+kind+" id")
		return 0, false
	}
	return id, true
}

func (a *API) getMessage(w http.ResponseWriter, r *http.Request, raw string) {
	id, ok := parseID(w, raw, "message")
	if !ok {
		return
	}
	msg, err := a.store.GetMessage(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		errResponse(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) approveMessage(w http.ResponseWriter, r *http.Request, raw string) {
	id, ok := parseID(w, raw, "message")
	if !ok {
		return
	}
	result, err := a.mesh.ApproveMessage(r.Context(), id)
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.Action != "delivered" {
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	_ = a.bus.Broadcast(map[string]any{"type": "message_action", "action": "approved", "message_id": id})
	writeJSON(w, http.StatusOK, result)
}

func (a *API) rejectMessage(w http.ResponseWriter, r *http.Request, raw string) {
	id, ok := parseID(w, raw, "message")
	if !ok {
		return
	}
	result, err := a.mesh.RejectMessage(r.Context(), id)
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.Action != "rejected" {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	_ = a.bus.Broadcast(map[string]any{"type": "message_action", "action": "rejected", "message_id": id})
	writeJSON(w, http.StatusOK, result)
}
