package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"twingate/internal/domain"
)

// ToolExecutor is the dispatcher surface the API needs.
type ToolExecutor interface {
	Execute(ctx context.Context, scope uuid.UUID, name string, params json.RawMessage) (string, error)
}

// ToolRegistry is the registry surface the API needs.
type ToolRegistry interface {
	Upsert(ctx context.Context, scope uuid.UUID, tool domain.ToolSchema) error
	List(scope uuid.UUID) []domain.ToolSchema
	ListAll() []domain.ToolSchema
}

type Server struct {
	registry   ToolRegistry
	dispatcher ToolExecutor
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
}

func NewServer(registry ToolRegistry, dispatcher ToolExecutor, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		registry:   registry,
		dispatcher: dispatcher,
		gatherer:   gatherer,
		logger:     logger.Named("httpapi"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register_tool", s.handleRegister)
	mux.HandleFunc("GET /tools", s.handleListAll)
	mux.HandleFunc("GET /tools/{twin_id}", s.handleListScope)
	mux.HandleFunc("POST /execute/{tool_name}", s.handleExecute)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Serve runs the API until ctx is cancelled, then shuts down with a
// short grace period for in-flight requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("gateway api listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("gateway api failed to start: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("gateway api shutdown error", zap.Error(err))
			return err
		}
		s.logger.Info("gateway api stopped")
		return nil
	}
}

type registerRequest struct {
	TwinID string            `json:"twin_id"`
	Tool   domain.ToolSchema `json:"tool"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, domain.CodeConfiguration,
			"invalid request body: "+err.Error())
		return
	}
	scope, ok := parseTwinID(w, req.TwinID)
	if !ok {
		return
	}
	if req.Tool.Name == "" {
		writeErrorStatus(w, http.StatusBadRequest, domain.CodeConfiguration, "tool.name is required")
		return
	}
	if err := s.registry.Upsert(r.Context(), scope, req.Tool); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "registered",
		"tool":   req.Tool.Name,
	})
}

func (s *Server) handleListAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": s.registry.ListAll(),
	})
}

func (s *Server) handleListScope(w http.ResponseWriter, r *http.Request) {
	scope, ok := parseTwinID(w, r.PathValue("twin_id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"twin_id": scope.String(),
		"tools":   s.registry.List(scope),
	})
}

type executeRequest struct {
	TwinID     string          `json:"twin_id"`
	Parameters json.RawMessage `json:"parameters"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("tool_name")

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, domain.CodeConfiguration,
			"invalid request body: "+err.Error())
		return
	}
	scope, ok := parseTwinID(w, req.TwinID)
	if !ok {
		return
	}

	result, err := s.dispatcher.Execute(r.Context(), scope, name, req.Parameters)
	if err != nil {
		s.logger.Warn("tool execution failed",
			zap.String("tool", name),
			zap.String("twin_id", scope.String()),
			zap.Error(err))
		writeError(w, err)
		return
	}
	// The backend response passes through untouched; its content type
	// is the plugin's business.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(result))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// parseTwinID interprets the optional scope identifier. Absent means
// the global scope. A malformed value writes a 400 and returns false.
func parseTwinID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	if raw == "" {
		return domain.GlobalTwinID(), true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, domain.CodeConfiguration,
			fmt.Sprintf("invalid twin_id %q", raw))
		return uuid.Nil, false
	}
	return id, true
}
