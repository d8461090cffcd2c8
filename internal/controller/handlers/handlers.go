// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"flowplane/internal/logger"
	"flowplane/internal/store"
	"flowplane/pkg/api"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store combines the store operations the controller needs.
type Store interface {
	Ping(ctx context.Context) error
	GetPendingJob(ctx context.Context, id uuid.UUID) (*store.PendingJob, error)
	GetCompletedJob(ctx context.Context, id uuid.UUID) (*store.CompletedJob, error)
}

// Engine applies operator actions through the completion engine. Implemented by completion.Recorder.
type Engine interface {
	FinalizeError(ctx context.Context, job *store.PendingJob, logs string, cause error) (json.RawMessage, error)
	ResumeSchedule(ctx context.Context, workspaceID, path string) (uuid.UUID, error)
}

// Pinger is an optional dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the dependencies of the handlers.
type Deps struct {
	Store  Store
	Engine Engine
	// QueueMirror is checked by /readyz when set.
	QueueMirror Pinger
	Logger      *zap.SugaredLogger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store  Store
	engine Engine
	mirror Pinger
	log    *zap.SugaredLogger
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	return &Handlers{
		store:  d.Store,
		engine: d.Engine,
		mirror: d.QueueMirror,
		log:    logger.OrNop(d.Logger),
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
