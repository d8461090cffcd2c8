package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"flowplane/internal/controller/handlers"
	"flowplane/internal/logger"
	"flowplane/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type stubStore struct{}

func (stubStore) Ping(ctx context.Context) error { return nil }

func (stubStore) GetPendingJob(ctx context.Context, id uuid.UUID) (*store.PendingJob, error) {
	return nil, store.ErrNotFound
}

func (stubStore) GetCompletedJob(ctx context.Context, id uuid.UUID) (*store.CompletedJob, error) {
	return &store.CompletedJob{ID: id, Success: true}, nil
}

type stubEngine struct{}

func (stubEngine) FinalizeError(ctx context.Context, job *store.PendingJob, logs string, cause error) (json.RawMessage, error) {
	return nil, errors.New("unused")
}

func (stubEngine) ResumeSchedule(ctx context.Context, workspaceID, path string) (uuid.UUID, error) {
	return uuid.New(), nil
}

func newTestHandler() http.Handler {
	return NewHandler(
		Options{
			InternalSecret: "s3cret",
			Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("# metrics"))
			}),
		},
		handlers.Deps{Store: stubStore{}, Engine: stubEngine{}},
		logger.Nop(),
	)
}

func serve(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRoutes_PublicProbes(t *testing.T) {
	h := newTestHandler()

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/readyz", "").Code)

	rr := serve(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "# metrics", rr.Body.String())
}

func TestRoutes_InternalRequireSecret(t *testing.T) {
	h := newTestHandler()
	jobPath := "/internal/jobs/" + uuid.NewString()

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, jobPath, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, jobPath, "wrong").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, jobPath, "s3cret").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/internal/schedules/acme/enable?path=f/x", "s3cret").Code)
}

func TestRoutes_MethodMismatch(t *testing.T) {
	h := newTestHandler()

	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodPost, "/healthz", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/jobs", "").Code)
}

func TestRoutes_RequestIDHeader(t *testing.T) {
	rr := serve(newTestHandler(), http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}
