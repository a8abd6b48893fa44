// Package api implements the HTTP API the agent host uses to read the
// published state and invoke functions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/nugget/thane-openhab/internal/buildinfo"
	"github.com/nugget/thane-openhab/internal/config"
	"github.com/nugget/thane-openhab/internal/events"
	"github.com/nugget/thane-openhab/internal/host"
	"github.com/nugget/thane-openhab/internal/reconcile"
	"github.com/nugget/thane-openhab/internal/render"
	"github.com/nugget/thane-openhab/internal/tools"
)

// maxBodyBytes bounds request bodies for function calls and parameters.
const maxBodyBytes = 64 << 10

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// StatusProvider reports reconciliation progress.
type StatusProvider interface {
	Status() reconcile.Status
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	ext     *host.Extension
	params  *config.Parameters
	loop    StatusProvider
	logger  *slog.Logger
	server  *http.Server
	events  *events.Bus

	onParamChange func(name string)
}

// NewServer creates a new API server.
func NewServer(address string, port int, ext *host.Extension, params *config.Parameters, loop StatusProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		ext:     ext,
		params:  params,
		loop:    loop,
		logger:  logger,
	}
}

// OnParameterChange registers fn to run after a parameter is updated.
func (s *Server) OnParameterChange(fn func(name string)) {
	s.onParamChange = fn
}

// SetEventBus forwards operational events to websocket clients.
func (s *Server) SetEventBus(bus *events.Bus) {
	s.events = bus
}

// Handler returns the routed handler, wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	// Published state
	mux.HandleFunc("GET /v1/instructions", s.handleInstructions)
	mux.HandleFunc("GET /v1/instructions.html", s.handleInstructionsHTML)
	mux.HandleFunc("GET /v1/functions", s.handleFunctions)
	mux.HandleFunc("POST /v1/functions/{name}", s.handleFunctionCall)
	mux.HandleFunc("GET /v1/errors", s.handleErrors)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)

	// Host controls
	mux.HandleFunc("POST /v1/lifecycle/{event}", s.handleLifecycle)
	mux.HandleFunc("GET /v1/parameters", s.handleParameters)
	mux.HandleFunc("PUT /v1/parameters/{name}", s.handleSetParameter)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"name":     buildinfo.Name,
		"version":  buildinfo.Version,
		"status":   "ok",
		"manifest": s.ext.Manifest(),
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	resp := map[string]any{
		"enabled":          s.ext.IsEnabled(),
		"software_version": s.ext.SoftwareVersion(),
	}
	if s.loop != nil {
		st := s.loop.Status()
		resp["reconcile"] = st
		if st.LastError != "" {
			status = "degraded"
		}
	}
	resp["status"] = status

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleInstructions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(w, s.ext.Instructions()); err != nil {
		s.logger.Debug("failed to write instructions", "error", err)
	}
}

func (s *Server) handleInstructionsHTML(w http.ResponseWriter, r *http.Request) {
	body, err := render.HTML(s.ext.Instructions())
	if err != nil {
		s.logger.Error("instruction rendering failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "render failed")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`, buildinfo.Name, body)
}

func (s *Server) handleFunctions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"functions": s.ext.FunctionSchemas()}, s.logger)
}

func (s *Server) handleFunctionCall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// A batch runs to completion or first failure even if the caller
	// hangs up; each command is still bounded by the client timeout.
	result, err := s.ext.Call(context.WithoutCancel(r.Context()), name, string(body))
	if err != nil {
		var unavailable *tools.ErrToolUnavailable
		if errors.As(err, &unavailable) {
			s.errorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"result": result}, s.logger)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"errors": s.ext.Errors()}, s.logger)
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	switch event := r.PathValue("event"); event {
	case "boot":
		s.ext.Boot()
	case "enable":
		s.ext.Enable()
	case "disable":
		s.ext.Disable()
	default:
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown lifecycle event %q", event))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]bool{"enabled": s.ext.IsEnabled()}, s.logger)
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.params.Snapshot(), s.logger)
}

// setParameterRequest is the body of PUT /v1/parameters/{name}.
type setParameterRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSetParameter(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !slices.Contains(config.ParameterNames(), name) {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown parameter %q", name))
		return
	}

	var req setParameterRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.params.Set(name, req.Value); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("parameter updated", "name", name)
	if s.onParamChange != nil {
		s.onParamChange(name)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.params.Snapshot(), s.logger)
}
