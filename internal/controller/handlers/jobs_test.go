package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flowplane/internal/store"
	"flowplane/pkg/api"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func getJob(h *Handlers, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/internal/jobs/"+id, nil)
	req.SetPathValue("id", id)
	rr := httptest.NewRecorder()
	h.GetJob(rr, req)
	return rr
}

func failJob(h *Handlers, id, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/"+id+"/fail", strings.NewReader(body))
	req.SetPathValue("id", id)
	rr := httptest.NewRecorder()
	h.FailJob(rr, req)
	return rr
}

func TestGetJob_Completed(t *testing.T) {
	s := newMockStore()
	id := uuid.New()
	duration := int64(1500)
	s.completed[id] = &store.CompletedJob{
		ID:          id,
		WorkspaceID: "acme",
		Kind:        store.JobKindScript,
		Success:     true,
		DurationMs:  &duration,
		ScriptPath:  strPtr("f/etl/nightly"),
		Result:      json.RawMessage(`{"rows":3}`),
		Logs:        "done\n",
	}
	h := New(Deps{Store: s, Engine: &mockEngine{}})

	rr := getJob(h, id.String())
	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.JobResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, api.StatusSuccess, resp.Status)
	assert.Equal(t, "script", resp.Kind)
	assert.Equal(t, int64(1500), *resp.DurationMs)
	assert.JSONEq(t, `{"rows":3}`, string(resp.Result))
	assert.Equal(t, "done\n", resp.Logs)
}

func TestGetJob_CompletedStatuses(t *testing.T) {
	assert.Equal(t, api.StatusFailure, completedResponse(&store.CompletedJob{}).Status)
	assert.Equal(t, api.StatusSkipped, completedResponse(&store.CompletedJob{Success: true, Skipped: true}).Status)
}

func TestGetJob_PendingFallback(t *testing.T) {
	s := newMockStore()
	id := uuid.New()
	scheduled := time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC)
	s.pending[id] = &store.PendingJob{ID: id, WorkspaceID: "acme", Kind: store.JobKindScript, Running: true, ScheduledFor: scheduled}
	h := New(Deps{Store: s, Engine: &mockEngine{}})

	rr := getJob(h, id.String())
	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.JobResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, api.StatusRunning, resp.Status)
	require.NotNil(t, resp.ScheduledFor)
	assert.True(t, scheduled.Equal(*resp.ScheduledFor))
}

func TestGetJob_Errors(t *testing.T) {
	h := New(Deps{Store: newMockStore(), Engine: &mockEngine{}})
	assert.Equal(t, http.StatusBadRequest, getJob(h, "not-a-uuid").Code)
	assert.Equal(t, http.StatusNotFound, getJob(h, uuid.NewString()).Code)

	s := newMockStore()
	s.getCompleted = errors.New("connection reset")
	h = New(Deps{Store: s, Engine: &mockEngine{}})
	assert.Equal(t, http.StatusInternalServerError, getJob(h, uuid.NewString()).Code)
}

func TestFailJob_FinalizesThroughEngine(t *testing.T) {
	s := newMockStore()
	id := uuid.New()
	s.pending[id] = &store.PendingJob{ID: id, WorkspaceID: "acme", Kind: store.JobKindScript}
	engine := &mockEngine{}
	h := New(Deps{Store: s, Engine: engine})

	rr := failJob(h, id.String(), `{"reason":"stuck on a dead worker"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.FailJobResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, id.String(), resp.ID)
	assert.Contains(t, string(resp.Result), "stuck on a dead worker")

	require.Len(t, engine.causes, 1)
	var canceled *CanceledError
	require.True(t, errors.As(engine.causes[0], &canceled))
	assert.Equal(t, "stuck on a dead worker", canceled.Reason)
	assert.Equal(t, "Canceled", canceled.Name())
}

func TestFailJob_EmptyBodyUsesDefaultReason(t *testing.T) {
	s := newMockStore()
	id := uuid.New()
	s.pending[id] = &store.PendingJob{ID: id}
	engine := &mockEngine{}
	h := New(Deps{Store: s, Engine: engine})

	rr := failJob(h, id.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "canceled by operator: no reason given", engine.causes[0].Error())
}

func TestFailJob_Errors(t *testing.T) {
	s := newMockStore()
	id := uuid.New()
	s.pending[id] = &store.PendingJob{ID: id}

	h := New(Deps{Store: s, Engine: &mockEngine{}})
	assert.Equal(t, http.StatusBadRequest, failJob(h, "nope", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, failJob(h, id.String(), `{"reason":`).Code)
	assert.Equal(t, http.StatusNotFound, failJob(h, uuid.NewString(), `{}`).Code)

	h = New(Deps{Store: s, Engine: &mockEngine{finalizeErr: errors.New("tx aborted")}})
	assert.Equal(t, http.StatusInternalServerError, failJob(h, id.String(), `{}`).Code)
}
