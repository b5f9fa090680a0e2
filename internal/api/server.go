// Package api provides the HTTP surface for band: thin marshaling
// wrappers around the Engine's public operations (spec.md §4.6). The
// HTTP layer adds no scheduling semantics of its own (SPEC_FULL.md §6).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/band-engine/band/internal/domain"
	"github.com/band-engine/band/internal/engine"
)

// Server is band's HTTP API server.
type Server struct {
	e              *engine.Engine
	metricsEnabled bool
}

// NewServer creates a new API server fronting e.
func NewServer(e *engine.Engine) *Server {
	return &Server{e: e}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/models", s.handleRegisterModel)
		r.Delete("/models/{id}", s.handleUnregisterModel)
		r.Post("/infer", s.handleInferSync)
		r.Post("/infer/async", s.handleInferAsync)
		r.Get("/infer/wait", s.handleInferWait)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── /v1/models ─────────────────────────────────────────────────────────────

type registerModelRequest struct {
	Path string `json:"path"`
}

type registerModelResponse struct {
	ModelID       int64 `json:"model_id"`
	InputTensors  []int `json:"input_tensors"`
	OutputTensors []int `json:"output_tensors"`
}

func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req registerModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	modelID, err := s.e.RegisterModel(req.Path)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	inputs, _ := s.e.GetInputTensorIndices(modelID)
	outputs, _ := s.e.GetOutputTensorIndices(modelID)
	writeJSON(w, http.StatusCreated, registerModelResponse{
		ModelID:       int64(modelID),
		InputTensors:  inputs,
		OutputTensors: outputs,
	})
}

func (s *Server) handleUnregisterModel(w http.ResponseWriter, r *http.Request) {
	modelID, err := parseModelID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.e.UnregisterModel(modelID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── /v1/infer ──────────────────────────────────────────────────────────────

type inferRequest struct {
	ModelID        int64          `json:"model_id"`
	InputHandle    int            `json:"input_handle"`
	SLOUs          int64          `json:"slo_us"`
	Inputs         map[int][]byte `json:"inputs,omitempty"`
	TargetWorkerID *int64         `json:"target_worker_id,omitempty"`
}

// targetWorker returns the worker id requested in the body, or
// domain.AnyWorker when the caller left target_worker_id unset.
func (req inferRequest) targetWorker() domain.WorkerID {
	if req.TargetWorkerID == nil {
		return domain.AnyWorker
	}
	return domain.WorkerID(*req.TargetWorkerID)
}

type inferSyncResponse struct {
	OutputHandle int    `json:"output_handle"`
	Status       string `json:"status"`
}

func (s *Server) handleInferSync(w http.ResponseWriter, r *http.Request) {
	req, handle, ok := s.prepareInfer(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	outputHandle, status, err := s.e.RequestSync(ctx, domain.ModelID(req.ModelID), handle, req.SLOUs, req.targetWorker())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inferSyncResponse{OutputHandle: outputHandle, Status: status.String()})
}

type inferAsyncResponse struct {
	JobID        int64 `json:"job_id"`
	OutputHandle int   `json:"output_handle"`
}

func (s *Server) handleInferAsync(w http.ResponseWriter, r *http.Request) {
	req, handle, ok := s.prepareInfer(w, r)
	if !ok {
		return
	}
	jobID, outputHandle, err := s.e.RequestAsync(domain.ModelID(req.ModelID), handle, req.SLOUs, false, req.targetWorker())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, inferAsyncResponse{JobID: int64(jobID), OutputHandle: outputHandle})
}

func (s *Server) handleInferWait(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(r.URL.Query().Get("job_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "job_id query parameter required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.e.Wait(ctx, []domain.JobID{domain.JobID(jobID)}); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	status, _ := s.e.JobStatus(domain.JobID(jobID))
	writeJSON(w, http.StatusOK, map[string]string{"status": status.String()})
}

// prepareInfer decodes the request body, allocates a tensor handle for the
// model if the caller sent raw tensor bytes, and writes them in; returns
// the handle clients should pass to the Engine.
func (s *Server) prepareInfer(w http.ResponseWriter, r *http.Request) (inferRequest, int, bool) {
	var req inferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, 0, false
	}
	modelID := domain.ModelID(req.ModelID)
	handle := req.InputHandle
	if len(req.Inputs) > 0 {
		var err error
		handle, err = s.e.CreateTensor(modelID)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return req, 0, false
		}
		for idx, data := range req.Inputs {
			if err := s.e.WriteTensor(modelID, handle, idx, data); err != nil {
				writeError(w, statusFor(err), err.Error())
				return req, 0, false
			}
		}
	}
	return req, handle, true
}

// ─── helpers ────────────────────────────────────────────────────────────────

func parseModelID(s string) (domain.ModelID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	return domain.ModelID(n), err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoSuchModel), errors.Is(err, domain.ErrNoSuchWorker), errors.Is(err, domain.ErrNoSuchJob):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConfiguration), errors.Is(err, domain.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSLOViolation):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{"message": msg},
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
