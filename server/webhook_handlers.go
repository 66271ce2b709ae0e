package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/petal-labs/toolpilot/webhook"
)

// CreateWebhookRequest is the body of POST /api/webhooks.
type CreateWebhookRequest struct {
	URL     string `json:"url"`
	Tool    string `json:"tool,omitempty"`
	Secret  string `json:"secret,omitempty"`
	Retries int    `json:"retries,omitempty"`
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.hooks.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeStoreError, err.Error())
		return
	}
	out := make([]webhook.Hook, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, h.Redacted())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, codeBodyTooLarge, "request body exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	hook, err := s.hooks.Add(r.Context(), webhook.Hook{
		URL:     req.URL,
		Tool:    req.Tool,
		Secret:  req.Secret,
		Retries: req.Retries,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidHook) {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, codeStoreError, err.Error())
		return
	}
	if hook.Tool != "" {
		if _, err := s.registry.Lookup(hook.Tool); err != nil {
			s.logger.Warn("webhook registered for unknown tool", "hook_id", hook.ID, "tool", hook.Tool)
		}
	}
	writeJSON(w, http.StatusCreated, hook.Redacted())
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.hooks.Remove(r.Context(), id); err != nil {
		if errors.Is(err, webhook.ErrHookNotFound) {
			writeError(w, http.StatusNotFound, "HOOK_NOT_FOUND", fmt.Sprintf("webhook %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, codeStoreError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
