// Package api provides the HTTP API handlers and routing for the drover
// service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"drover/internal/apperrors"
	"drover/internal/engine"
	"drover/internal/health"
	"drover/internal/job"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// defaultListLimit caps GET /v1/jobs when no limit parameter is given.
const defaultListLimit = 100

// Handler contains HTTP handlers for the jobs API
type Handler struct {
	engine *engine.Engine
	health *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(eng *engine.Engine, healthChecker *health.Checker) *Handler {
	return &Handler{
		engine: eng,
		health: healthChecker,
	}
}

// SubmitJob handles POST /v1/jobs
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req engine.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	j, err := h.engine.Submit(r.Context(), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, j)
}

// listResponse is the GET /v1/jobs envelope.
type listResponse struct {
	Total int       `json:"total"`
	Jobs  []job.Job `json:"jobs"`
}

// ListJobs handles GET /v1/jobs. The state parameter may repeat to select
// several states at once; limit defaults to 100 newest jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var states []job.State
	for _, raw := range q["state"] {
		state := job.State(raw)
		if !state.Valid() {
			h.writeError(w, http.StatusBadRequest, "Unknown state filter: "+raw)
			return
		}
		states = append(states, state)
	}

	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := h.engine.List(r.Context(), states, limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []job.Job{}
	}

	h.writeJSON(w, http.StatusOK, listResponse{Total: len(jobs), Jobs: jobs})
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	j, err := h.engine.Info(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, j)
}

// TrackJob handles POST /v1/jobs/{jobId}/track. One tracking pass polls
// the scheduler, classifies failures, spawns retries, and dispatches any
// dependents the new state unblocks.
func (h *Handler) TrackJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	res, err := h.engine.Track(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// RetryJob handles POST /v1/jobs/{jobId}/retry - manual retry of a failed
// job whose automatic budget is exhausted.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	spawn, err := h.engine.Retry(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, spawn)
}

// CancelJob handles DELETE /v1/jobs/{jobId}
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	j, err := h.engine.Cancel(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, j)
}

// CleanupJob handles DELETE /v1/jobs/{jobId}/record - removes a terminal
// job's record and edges, and with files=true its run directory.
func (h *Handler) CleanupJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	removeFiles := false
	if raw := r.URL.Query().Get("files"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "files must be a boolean")
			return
		}
		removeFiles = v
	}

	if err := h.engine.Cleanup(r.Context(), jobID, removeFiles); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExportState handles GET /v1/state/export - streams a snapshot of every
// job as one JSON document.
func (h *Handler) ExportState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.engine.Export(r.Context(), w); err != nil {
		h.handleError(w, r, err)
	}
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the service is ready to accept traffic.
// Returns 503 if a dependency (store, scheduler CLI) is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from the engine with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
