// Package store contains the database layer for flowplane.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobKind identifies what a job executes.
type JobKind string

const (
	JobKindScript       JobKind = "script"
	JobKindPreview      JobKind = "preview"
	JobKindFlow         JobKind = "flow"
	JobKindFlowPreview  JobKind = "flowpreview"
	JobKindDependencies JobKind = "dependencies"
	JobKindIdentity     JobKind = "identity"
)

// IsFlow reports whether jobs of this kind are flow containers.
// Flow containers are finalized by the flow engine and never drive schedules.
func (k JobKind) IsFlow() bool {
	return k == JobKindFlow || k == JobKindFlowPreview
}

// DefaultTag returns the worker tag used when nothing more specific is known.
func (k JobKind) DefaultTag() string {
	if k.IsFlow() {
		return "flow"
	}
	return "default"
}

// PendingJob represents a job awaiting or currently under execution.
type PendingJob struct {
	ID             uuid.UUID
	WorkspaceID    string
	ParentJob      *uuid.UUID
	CreatedBy      string
	CreatedAt      time.Time
	StartedAt      *time.Time
	ScheduledFor   time.Time
	Running        bool
	ScriptHash     *int64
	ScriptPath     *string
	Args           json.RawMessage
	RawCode        *string
	Kind           JobKind
	SchedulePath   *string
	PermissionedAs string
	FlowStatus     json.RawMessage
	IsFlowStep     bool
	Language       *string
	Email          string
	Tag            string
	MemPeak        *int32
	VisibleAfter   time.Time
}

// CompletedJob is the terminal record of a job, keyed by the originating pending job id.
type CompletedJob struct {
	ID             uuid.UUID
	WorkspaceID    string
	ParentJob      *uuid.UUID
	CreatedBy      string
	CreatedAt      time.Time
	StartedAt      *time.Time
	DurationMs     *int64
	Success        bool
	Skipped        bool
	ScriptHash     *int64
	ScriptPath     *string
	Args           json.RawMessage
	Result         json.RawMessage
	Logs           string
	RawCode        *string
	Kind           JobKind
	SchedulePath   *string
	PermissionedAs string
	FlowStatus     json.RawMessage
	IsFlowStep     bool
	Language       *string
	Email          string
	Tag            string
	MemPeak        *int32
}

// NewCompletedJob copies the identity of a pending job into a terminal record.
func NewCompletedJob(job *PendingJob, success, skipped bool, result json.RawMessage, logs string) *CompletedJob {
	return &CompletedJob{
		ID:             job.ID,
		WorkspaceID:    job.WorkspaceID,
		ParentJob:      job.ParentJob,
		CreatedBy:      job.CreatedBy,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		Success:        success,
		Skipped:        skipped,
		ScriptHash:     job.ScriptHash,
		ScriptPath:     job.ScriptPath,
		Args:           job.Args,
		Result:         result,
		Logs:           logs,
		RawCode:        job.RawCode,
		Kind:           job.Kind,
		SchedulePath:   job.SchedulePath,
		PermissionedAs: job.PermissionedAs,
		FlowStatus:     job.FlowStatus,
		IsFlowStep:     job.IsFlowStep,
		Language:       job.Language,
		Email:          job.Email,
		Tag:            job.Tag,
		MemPeak:        job.MemPeak,
	}
}

// Schedule is a named recurring trigger, keyed by (WorkspaceID, Path).
type Schedule struct {
	WorkspaceID string
	Path        string
	EditedBy    string
	EditedAt    time.Time
	Schedule    string // cron expression
	Timezone    string
	Enabled     bool
	ScriptPath  string
	IsFlow      bool
	Args        json.RawMessage
	Email       string
	OnFailure   *string
	Error       *string
}

// PermissionedAs derives the authorization scope of jobs triggered on behalf of username.
func PermissionedAs(username string) string {
	return "u/" + username
}

// JobPayload is a resolved execution target.
type JobPayload struct {
	Kind       JobKind
	Path       string
	ScriptHash *int64
}

// PushRequest carries everything needed to enqueue a new pending job.
type PushRequest struct {
	WorkspaceID    string
	Payload        JobPayload
	Args           json.RawMessage
	CreatedBy      string
	Email          string
	PermissionedAs string
	ScheduledFor   *time.Time
	SchedulePath   *string
	ParentJob      *uuid.UUID
	IsFlowStep     bool
	Tag            *string
}
