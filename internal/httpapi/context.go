package httpapi

import (
	"net/http"
	"strings"

	"github.com/agentmesh/daemon/internal/store"
)

func (a *API) handleContext(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listContext(w, r)
	case http.MethodPost:
		a.setContext(w, r)
	default:
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) listContext(w http.ResponseWriter, r *http.Request) {
	vars, err := a.store.ListContext(r.Context(), r.URL.Query().Get("scope"))
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, vars)
}

func (a *API) setContext(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key       string `json:"key"`
		Value     string `json:"value"`
		Scope     string `json:"scope"`
		UpdatedBy string `json:"updated_by"`
	}
	_ = decodeBody(r, &body)
	if body.Key == "" {
		errResponse(w, http.StatusBadRequest, "key required")
		return
	}
	if body.Scope == "" {
		body.Scope = "global"
	}
	if err := a.store.UpsertContext(r.Context(), store.ContextVariable{
		Key: body.Key, Value: body.Value, Scope: body.Scope, UpdatedBy: body.UpdatedBy,
	}); err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok", "key": body.Key, "scope": body.Scope, "value": body.Value,
	})
}

func (a *API) handleDeleteContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/api/context/")
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = "global"
	}
	existed, err := a.store.DeleteContext(r.Context(), key, scope)
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !existed {
		errResponse(w, http.StatusNotFound, "context variable not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Preferences ---

func (a *API) handlePreferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		prefs, err := a.store.ListPreferences(r.Context())
		if err != nil {
			errResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	case http.MethodPost:
		var body struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		_ = decodeBody(r, &body)
		if body.Key == "" {
			errResponse(w, http.StatusBadRequest, "key required")
			return
		}
		if err := a.store.SetPreference(r.Context(), body.Key, body.Value); err != nil {
			errResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "key": body.Key, "value": body.Value})
	default:
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) handleDeletePreference(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/api/preferences/")
	existed, err := a.store.DeletePreference(r.Context(), key)
	if err != nil {
		errResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !existed {
		errResponse(w, http.StatusNotFound, "preference not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
