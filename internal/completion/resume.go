package completion

import (
	"context"
	"fmt"

	"flowplane/internal/logger"
	"flowplane/internal/txqueue"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ResumeSchedule re-enables a schedule, clears its error and enqueues its next
// occurrence in one unit of work. The enqueue is idempotent, so resuming an enabled
// schedule is harmless. If the next occurrence cannot be pushed, the schedule is
// disabled again with the push error recorded.
func (r *Recorder) ResumeSchedule(ctx context.Context, workspaceID, path string) (uuid.UUID, error) {
	if r.coordinator == nil {
		return uuid.Nil, errors.New("schedule coordination is not configured")
	}
	schedules := r.coordinator.schedules
	log := logger.FromContext(ctx, r.log).With("workspace_id", workspaceID, "schedule_path", path)

	tx, err := txqueue.Begin(ctx, r.db, r.notifier, r.log)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback()

	schedule, err := schedules.GetSchedule(ctx, tx, workspaceID, path)
	if err != nil {
		return uuid.Nil, err
	}

	if err := schedules.EnableSchedule(ctx, tx, workspaceID, path); err != nil {
		return uuid.Nil, err
	}
	schedule.Enabled = true
	schedule.Error = nil

	id, err := schedules.PushNextOccurrence(ctx, tx, schedule)
	if err != nil {
		_ = tx.Rollback()
		reason := fmt.Sprintf("Could not schedule next job for %s: %v", path, err)
		cause := errors.Mark(errors.Wrapf(err, "resume schedule %s", path), ErrSchedulePush)
		return uuid.Nil, r.coordinator.disable(ctx, log, schedule, cause, reason)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, errors.Wrapf(err, "resume schedule %s", path)
	}

	log.Infow("Schedule resumed", "next_job_id", id)
	return id, nil
}
