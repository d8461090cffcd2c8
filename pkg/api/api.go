// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// Job statuses reported by GET /internal/jobs/{id}.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// JobResponse describes a pending or completed job.
type JobResponse struct {
	ID           string          `json:"id"`
	WorkspaceID  string          `json:"workspace_id"`
	Kind         string          `json:"kind"`
	Status       string          `json:"status"`
	ScriptPath   *string         `json:"script_path,omitempty"`
	SchedulePath *string         `json:"schedule_path,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	DurationMs   *int64          `json:"duration_ms,omitempty"`
	MemPeak      *int32          `json:"mem_peak,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Logs         string          `json:"logs,omitempty"`
}

// FailJobRequest is the request body for failing a stuck pending job.
type FailJobRequest struct {
	Reason string `json:"reason"`
}

// FailJobResponse is returned after a job has been finalized as failed.
type FailJobResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// EnableScheduleResponse is returned after a schedule has been re-enabled.
type EnableScheduleResponse struct {
	WorkspaceID string `json:"workspace_id"`
	Path        string `json:"path"`
	Enabled     bool   `json:"enabled"`
	NextJobID   string `json:"next_job_id"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
