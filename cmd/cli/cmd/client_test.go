package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"flowplane/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(api.JobResponse{ID: "j1"})
	}))
	defer srv.Close()

	job, err := NewClient(srv.URL, "secret").GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Job not found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "secret").GetJob("missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Job not found", apiErr.Message)
}

func TestClient_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid authorization token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "wrong").GetJob("j1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid authorization token", apiErr.Message)
}

func TestClient_FailJob(t *testing.T) {
	var got api.FailJobRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/internal/jobs/j1/fail", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(api.FailJobResponse{ID: "j1", Result: json.RawMessage(`{"error":{"name":"Canceled"}}`)})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "secret").FailJob("j1", "host lost")
	require.NoError(t, err)
	assert.Equal(t, "host lost", got.Reason)
	assert.Equal(t, "j1", resp.ID)
}

func TestClient_EnableScheduleEscapesPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/schedules/acme/enable", r.URL.Path)
		assert.Equal(t, "f/etl/every hour", r.URL.Query().Get("path"))
		json.NewEncoder(w).Encode(api.EnableScheduleResponse{WorkspaceID: "acme", Path: "f/etl/every hour", Enabled: true, NextJobID: "n1"})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "secret").EnableSchedule("acme", "f/etl/every hour")
	require.NoError(t, err)
	assert.True(t, resp.Enabled)
	assert.Equal(t, "n1", resp.NextJobID)
}
