package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// QueueTx is a unit of work: one SQL transaction plus message-queue side effects
// that are only flushed on the commit path.
type QueueTx interface {
	DBTransaction

	// NotifyPushed stages a publish of a newly pushed job on the queue mirror.
	NotifyPushed(tag string, jobID uuid.UUID)

	// NotifyDeleted stages the removal of a job from the queue mirror.
	NotifyDeleted(tag string, jobID uuid.UUID)

	// AfterCommit registers fn to run once the SQL transaction has committed.
	// It never runs when the unit of work rolls back.
	AfterCommit(fn func(ctx context.Context))
}

// CompletedStore persists terminal job records.
type CompletedStore interface {
	// Upsert inserts the completed job, or on conflict updates success and result and
	// appends logs to the existing row. A nil DurationMs is resolved by the store as
	// the wall-clock time since StartedAt. Returns the stored duration in milliseconds
	// and whether the row was newly inserted.
	Upsert(ctx context.Context, tx QueueTx, job *CompletedJob) (durationMs int64, inserted bool, err error)

	// SumDurations returns the summed duration of the completed jobs with the given ids,
	// or nil when none of them are persisted.
	SumDurations(ctx context.Context, ids []uuid.UUID) (*int64, error)

	// GetCompletedJob returns a completed job by its ID.
	GetCompletedJob(ctx context.Context, id uuid.UUID) (*CompletedJob, error)
}

// ScheduleStore reads schedules and applies the engine's writes to them.
type ScheduleStore interface {
	// GetSchedule returns the schedule or an error wrapping ErrNotFound.
	GetSchedule(ctx context.Context, tx DBTransaction, workspaceID, path string) (*Schedule, error)

	// DisableSchedule sets enabled=false and records reason as the schedule error.
	// It bypasses any ambient transaction and commits immediately, so the write
	// survives a rollback of the caller's unit of work.
	DisableSchedule(ctx context.Context, workspaceID, path, reason string) error

	// EnableSchedule re-enables a schedule and clears its error inside tx.
	EnableSchedule(ctx context.Context, tx QueueTx, workspaceID, path string) error

	// PushNextOccurrence enqueues the job for the schedule's next occurrence inside tx.
	PushNextOccurrence(ctx context.Context, tx QueueTx, schedule *Schedule) (uuid.UUID, error)
}

// ScriptStore resolves execution targets.
type ScriptStore interface {
	// ResolvePayload resolves a "script/<path>" or "flow/<path>" reference into a payload
	// and an optional worker tag override.
	ResolvePayload(ctx context.Context, tx DBTransaction, workspaceID, prefixedPath string) (JobPayload, *string, error)
}

// UsageStore records execution usage for billing.
type UsageStore interface {
	IsPremiumWorkspace(ctx context.Context, workspaceID string) (bool, error)

	// RecordUsage adds units to the usage counter of key for the given month key.
	RecordUsage(ctx context.Context, key string, isWorkspace bool, month int, units int64) error
}
