package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/petal-labs/toolpilot/bus"
	"github.com/petal-labs/toolpilot/calllog"
	"github.com/petal-labs/toolpilot/sse"
	"github.com/petal-labs/toolpilot/tool"
	"github.com/petal-labs/toolpilot/ui"
	"github.com/petal-labs/toolpilot/webhook"
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Pipeline *tool.Pipeline
	// Calls backs /api/calls. Nil disables the call-log routes.
	Calls calllog.Store
	// Hooks backs /api/webhooks. Nil disables the webhook routes.
	Hooks webhook.Store
	// Bus feeds /api/calls/stream. Nil disables streaming.
	Bus  bus.EventBus
	Auth AuthConfig
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Dashboard overrides the embedded dashboard assets.
	Dashboard  fs.FS
	Info       tool.OpenAPIInfo
	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the toolpilot HTTP API server.
type Server struct {
	pipeline  *tool.Pipeline
	registry  *tool.Registry
	calls     calllog.Store
	replayer  *calllog.Replayer
	hooks     webhook.Store
	bus       bus.EventBus
	auth      *authenticator
	metrics   http.Handler
	dashboard fs.FS
	info      tool.OpenAPIInfo

	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("server: pipeline is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	dashboard := cfg.Dashboard
	if dashboard == nil {
		dist, err := ui.DistFS()
		if err != nil {
			return nil, err
		}
		dashboard = dist
	}

	s := &Server{
		pipeline:   cfg.Pipeline,
		registry:   cfg.Pipeline.Registry(),
		calls:      cfg.Calls,
		hooks:      cfg.Hooks,
		bus:        cfg.Bus,
		auth:       newAuthenticator(cfg.Auth),
		metrics:    cfg.Metrics,
		dashboard:  dashboard,
		info:       cfg.Info,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
	if cfg.Calls != nil {
		s.replayer = calllog.NewReplayer(cfg.Calls, cfg.Pipeline)
	}
	return s, nil
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /manifest.json", s.handleManifest)
	mux.HandleFunc("GET /openapi.json", s.handleOpenAPI)
	mux.HandleFunc("POST /run/{name}", s.handleRun)

	if s.calls != nil {
		mux.HandleFunc("GET /api/calls", s.handleListCalls)
		mux.HandleFunc("GET /api/logs", s.handleListCalls)
		mux.HandleFunc("GET /api/calls/{call_id}", s.handleGetCall)
		mux.HandleFunc("POST /api/calls/{call_id}/replay", s.handleReplayCall)
	}
	if s.bus != nil {
		mux.Handle("GET /api/calls/stream", sse.NewHandler(s.calls, s.bus, s.logger))
	}
	if s.hooks != nil {
		mux.HandleFunc("GET /api/webhooks", s.handleListWebhooks)
		mux.HandleFunc("POST /api/webhooks", s.requireCredential(s.handleCreateWebhook))
		mux.HandleFunc("DELETE /api/webhooks/{id}", s.requireCredential(s.handleDeleteWebhook))
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.Handle("GET /", http.FileServerFS(s.dashboard))
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the flat error envelope returned by every route.
type apiError struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Field  string `json:"field,omitempty"`
	CallID string `json:"call_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: message, Code: code})
}

func isMaxBytesError(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
