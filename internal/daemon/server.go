package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/mnemo/internal/tracing"
	"github.com/harun/mnemo/pkg/maintenance"
	"github.com/harun/mnemo/pkg/memory"
	"github.com/harun/mnemo/pkg/toolexecutor"
)

// maxBodyBytes bounds a tool request body.
const maxBodyBytes = 1 << 20

// Server exposes the tool executor, health and metrics over HTTP.
type Server struct {
	app     *App
	logger  zerolog.Logger
	timeout time.Duration
	server  *http.Server
	errCh   chan error
}

// NewServer creates an HTTP server for app.
func NewServer(app *App, logger zerolog.Logger) *Server {
	s := &Server{
		app:     app,
		logger:  logger,
		timeout: app.Config().Server.RequestTimeoutDuration(),
		errCh:   make(chan error, 1),
	}
	s.server = &http.Server{
		Addr:              app.Config().Server.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tools/{name}", s.handleTool)
	mux.HandleFunc("GET /tools", s.handleListTools)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.app.Metrics().Handler())
	return mux
}

// Start listens on the configured address and serves in the background. A bind
// failure is returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
			s.errCh <- err
		}
	}()
	return nil
}

// Errors delivers a fatal serve error.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// toolResponse is the wire shape of a tool call result
type toolResponse struct {
	Success  bool                   `json:"success"`
	Data     interface{}            `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	ctx := tracing.NewRequestContext(r.Context(), r.Header.Get("X-Request-Id"))
	params := map[string]interface{}{}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, toolResponse{Error: "failed to read request body"})
		return
	}
	if len(body) > maxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, toolResponse{Error: "request body too large"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			writeJSON(w, http.StatusBadRequest, toolResponse{Error: "request body must be a JSON object"})
			return
		}
	}
	if user, ok := params["user_id"].(string); ok && user != "" {
		ctx = tracing.WithUserID(ctx, user)
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().Str("tool", name).Msg("Tool request received")

	result := s.app.ExecuteTool(ctx, name, params, &toolexecutor.ExecutionContext{
		RequestID: tracing.GetRequestID(ctx),
		Timeout:   s.timeout,
	})

	status := statusFor(result.Err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(result.Err).Str("tool", name).Msg("Tool request failed")
	}

	writeJSON(w, status, toolResponse{
		Success:  result.Success,
		Data:     result.Output,
		Error:    result.Error,
		Metadata: result.Metadata,
	})
}

// statusFor maps a tool error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, toolexecutor.ErrToolNotFound), errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, toolexecutor.ErrValidation), errors.Is(err, memory.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrDuplicateContent):
		return http.StatusConflict
	case errors.Is(err, toolexecutor.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, memory.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type toolInfo struct {
	Name        string                       `json:"name"`
	Description string                       `json:"description"`
	Parameters  []toolexecutor.ToolParameter `json:"parameters"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	exec := s.app.Executor()
	names := exec.ListTools()
	tools := make([]toolInfo, 0, len(names))
	for _, name := range names {
		def := exec.GetTool(name)
		if def == nil {
			continue
		}
		tools = append(tools, toolInfo{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

type healthResponse struct {
	Status string `json:"status"`
	*memory.HealthResult
	Jobs map[string]maintenance.JobState `json:"jobs,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.app.Service().Health(r.Context(), r.URL.Query().Get("user_id"))
	s.app.Metrics().SetMemoryRecords(health.Count)

	resp := healthResponse{Status: "ok", HealthResult: health}
	if sched := s.app.Scheduler(); sched != nil {
		resp.Jobs = make(map[string]maintenance.JobState)
		for _, name := range sched.Jobs() {
			if st, ok := sched.State(name); ok {
				resp.Jobs[name] = st
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
