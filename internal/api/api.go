// Package api implements the HTTP facade of spec.md §6 over
// net/http.ServeMux's Go 1.22+ method-and-path patterns, instrumented
// with otelhttp the way the teacher instruments its outward-facing
// transports.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/splitup/compute-service/internal/config"
	"github.com/splitup/compute-service/internal/execution"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/splitup/compute-service/internal/api")
}

// Health describes the worker's overall liveness, exposed at GET /health.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Server is the API facade. It holds no state of its own beyond
// wiring -- Service and ConfigStore own the actual mutable state.
type Server struct {
	Service     *execution.Service
	ConfigStore *config.Store
	Logger      hclog.Logger
	Version     string
	StartedAt   time.Time
}

// Handler builds the net/http.ServeMux routing table spec.md §6
// describes, wrapped in otelhttp server instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /task_execution", s.handleTaskExecution)
	mux.HandleFunc("GET /execution/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /execution/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /executions/active", s.handleListActive)
	mux.HandleFunc("POST /load_config", s.handleLoadConfig)
	mux.HandleFunc("GET /health", s.handleHealth)
	return otelhttp.NewHandler(mux, "compute-service")
}

type taskScheduledResponse struct {
	ExecutionID string    `json:"execution_id"`
	TaskID      string    `json:"task_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (s *Server) handleTaskExecution(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "handleTaskExecution")
	defer span.End()

	var req execution.TaskExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("execution_id", req.ExecutionID), attribute.String("task_id", req.TaskID))

	if err := s.Service.Submit(req); err != nil {
		s.Logger.Error("failed to submit task", "execution_id", req.ExecutionID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, taskScheduledResponse{
		ExecutionID: req.ExecutionID,
		TaskID:      req.TaskID,
		ScheduledAt: time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := s.Service.Status(id)
	if err != nil {
		var notFound *execution.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type cancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Service.Cancel(id); err != nil {
		var notRunning *execution.NotRunningError
		if errors.As(err, &notRunning) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Success: true, Message: "cancellation requested"})
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.Service.ListActive()})
}

type configResponse struct {
	Config *config.Config `json:"config"`
}

func (s *Server) handleLoadConfig(w http.ResponseWriter, r *http.Request) {
	current := s.ConfigStore.Current()
	if current == nil {
		writeError(w, http.StatusInternalServerError, "no configuration loaded")
		return
	}

	if current.ConfigURL != "" {
		remote, err := config.FetchRemote(r.Context(), current.ConfigURL)
		if err != nil {
			s.Logger.Error("failed to fetch remote config", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.ConfigStore.Replace(remote)
		current = remote
	}

	writeJSON(w, http.StatusOK, configResponse{Config: current})
}

type healthResponse struct {
	Status  Health         `json:"status"`
	Uptime  string         `json:"uptime"`
	Version string         `json:"version"`
	Details map[string]any `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthHealthy
	if s.ConfigStore.Current() == nil {
		status = HealthDegraded
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  status,
		Uptime:  time.Since(s.StartedAt).String(),
		Version: s.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
