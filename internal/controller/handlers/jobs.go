package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"flowplane/internal/logger"
	"flowplane/internal/store"
	"flowplane/pkg/api"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// CanceledError is the failure recorded for a job an operator failed by hand.
type CanceledError struct {
	Reason string
}

func (e *CanceledError) Error() string { return "canceled by operator: " + e.Reason }

// Name is the error name recorded in the job result.
func (e *CanceledError) Name() string { return "Canceled" }

// GetJob handles GET /internal/jobs/{id}.
// A completed job is returned with its result and logs; a pending one with its queue state.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	completed, err := h.store.GetCompletedJob(ctx, id)
	if err == nil {
		h.respondJson(w, http.StatusOK, completedResponse(completed))
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		logger.FromContext(ctx, h.log).Errorw("Failed to load completed job", "job_id", id, "error", err)
		h.httpError(w, "Failed to load job", http.StatusInternalServerError)
		return
	}

	pending, err := h.store.GetPendingJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.FromContext(ctx, h.log).Errorw("Failed to load pending job", "job_id", id, "error", err)
		h.httpError(w, "Failed to load job", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, pendingResponse(pending))
}

// FailJob handles POST /internal/jobs/{id}/fail.
// The job is finalized as failed through the engine, so schedules and error handlers fire.
func (h *Handlers) FailJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx, h.log)

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	var req api.FailJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.httpError(w, "Invalid body", http.StatusBadRequest)
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		req.Reason = "no reason given"
	}

	job, err := h.store.GetPendingJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Pending job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Errorw("Failed to load pending job", "job_id", id, "error", err)
		h.httpError(w, "Failed to load job", http.StatusInternalServerError)
		return
	}

	result, err := h.engine.FinalizeError(ctx, job, "", &CanceledError{Reason: req.Reason})
	if err != nil {
		log.Errorw("Failed to finalize job", "job_id", id, "error", err)
		h.httpError(w, "Failed to finalize job", http.StatusInternalServerError)
		return
	}

	log.Infow("Job failed by operator", "job_id", id, "reason", req.Reason)
	h.respondJson(w, http.StatusOK, api.FailJobResponse{ID: id.String(), Result: result})
}

func completedResponse(job *store.CompletedJob) api.JobResponse {
	status := api.StatusFailure
	switch {
	case job.Skipped:
		status = api.StatusSkipped
	case job.Success:
		status = api.StatusSuccess
	}
	return api.JobResponse{
		ID:           job.ID.String(),
		WorkspaceID:  job.WorkspaceID,
		Kind:         string(job.Kind),
		Status:       status,
		ScriptPath:   job.ScriptPath,
		SchedulePath: job.SchedulePath,
		CreatedBy:    job.CreatedBy,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		DurationMs:   job.DurationMs,
		MemPeak:      job.MemPeak,
		Result:       job.Result,
		Logs:         job.Logs,
	}
}

func pendingResponse(job *store.PendingJob) api.JobResponse {
	status := api.StatusQueued
	if job.Running {
		status = api.StatusRunning
	}
	scheduledFor := job.ScheduledFor
	return api.JobResponse{
		ID:           job.ID.String(),
		WorkspaceID:  job.WorkspaceID,
		Kind:         string(job.Kind),
		Status:       status,
		ScriptPath:   job.ScriptPath,
		SchedulePath: job.SchedulePath,
		CreatedBy:    job.CreatedBy,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		ScheduledFor: &scheduledFor,
		MemPeak:      job.MemPeak,
	}
}
