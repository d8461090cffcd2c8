package handlers

import (
	"net/http"

	"flowplane/internal/completion"
	"flowplane/internal/logger"
	"flowplane/internal/store"
	"flowplane/pkg/api"

	"github.com/cockroachdb/errors"
)

// EnableSchedule handles POST /internal/schedules/{workspace}/enable?path=.
// It re-enables a schedule the engine disabled, clears its recorded error and
// enqueues its next occurrence.
func (h *Handlers) EnableSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspace := r.PathValue("workspace")
	path := r.URL.Query().Get("path")
	if path == "" {
		h.httpError(w, "Missing path query parameter", http.StatusBadRequest)
		return
	}

	nextID, err := h.engine.ResumeSchedule(ctx, workspace, path)
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Schedule not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, completion.ErrSchedulePush) {
		logger.FromContext(ctx, h.log).Warnw("Schedule enabled without a next occurrence", "workspace_id", workspace, "path", path, "error", err)
		h.httpError(w, "Schedule enabled but its next occurrence could not be scheduled", http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		logger.FromContext(ctx, h.log).Errorw("Failed to enable schedule", "workspace_id", workspace, "path", path, "error", err)
		h.httpError(w, "Failed to enable schedule", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.EnableScheduleResponse{
		WorkspaceID: workspace,
		Path:        path,
		Enabled:     true,
		NextJobID:   nextID.String(),
	})
}
