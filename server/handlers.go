package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/petal-labs/toolpilot/calllog"
	"github.com/petal-labs/toolpilot/tool"
)

const (
	codeBadRequest    = "BAD_REQUEST"
	codeBodyTooLarge  = "BODY_TOO_LARGE"
	codeStoreError    = "STORE_ERROR"
	codeCallNotFound  = "CALL_NOT_FOUND"
	defaultCallsLimit = 50
	maxCallsLimit     = 1000
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tools": s.registry.Len()})
}

func (s *Server) handleManifest(w http.ResponseWriter, _ *http.Request) {
	tools := tool.JSONManifest(s.registry)
	writeJSON(w, http.StatusOK, tool.ManifestDocument{TotalTools: len(tools), Tools: tools})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, tool.OpenAPI(s.registry, s.info))
}

// RunRequest is the body of POST /run/{name}.
type RunRequest struct {
	Inputs   map[string]any `json:"inputs"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunResponse is the success body of POST /run/{name}.
type RunResponse struct {
	Outputs any    `json:"outputs"`
	CallID  string `json:"call_id"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	auth, hasAuth, err := s.auth.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, tool.ErrorCodeUnauthorized, err.Error())
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, codeBodyTooLarge, "request body exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Inputs == nil {
		req.Inputs = map[string]any{}
	}

	ctx := r.Context()
	if hasAuth {
		ctx = tool.WithAuth(ctx, auth)
	}
	if len(req.Metadata) > 0 {
		ctx = tool.WithMetadata(ctx, req.Metadata)
	}

	res := s.pipeline.Invoke(ctx, name, req.Inputs)
	if res.OK() {
		writeJSON(w, http.StatusOK, RunResponse{Outputs: res.Output, CallID: res.CallID})
		return
	}
	writeResultError(w, res)
}

func writeResultError(w http.ResponseWriter, res tool.Result) {
	body := apiError{
		Error:  res.Error.Message,
		Code:   res.Error.Code,
		Field:  res.Error.Field,
		CallID: res.CallID,
	}
	writeJSON(w, statusForResult(res.Status), body)
}

func statusForResult(status tool.Status) int {
	switch status {
	case tool.StatusNotFound:
		return http.StatusNotFound
	case tool.StatusValidationError:
		return http.StatusBadRequest
	case tool.StatusUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := calllog.Filter{
		ToolName:   q.Get("tool"),
		FailedOnly: q.Get("failed") == "true",
		Limit:      defaultCallsLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxCallsLimit)
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}

	records, err := s.calls.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeStoreError, err.Error())
		return
	}
	if records == nil {
		records = []calllog.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")
	rec, err := s.calls.Get(r.Context(), callID)
	if err != nil {
		if errors.Is(err, calllog.ErrCallNotFound) {
			writeError(w, http.StatusNotFound, codeCallNotFound, fmt.Sprintf("call %q not found", callID))
			return
		}
		writeError(w, http.StatusInternalServerError, codeStoreError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleReplayCall(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")

	auth, hasAuth, err := s.auth.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, tool.ErrorCodeUnauthorized, err.Error())
		return
	}
	ctx := r.Context()
	if hasAuth {
		ctx = tool.WithAuth(ctx, auth)
	}

	result, err := s.replayer.Replay(ctx, callID)
	if err != nil {
		if errors.Is(err, calllog.ErrCallNotFound) {
			writeError(w, http.StatusNotFound, codeCallNotFound, fmt.Sprintf("call %q not found", callID))
			return
		}
		writeError(w, http.StatusInternalServerError, codeStoreError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
