package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flowplane/internal/logger"
	"flowplane/internal/store"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Error classes returned by Coordinate. Both mean the schedule was disabled.
var (
	ErrEscalation   = errors.New("failure handler dispatch failed")
	ErrSchedulePush = errors.New("next occurrence push failed")
)

const disableTimeout = 10 * time.Second

// CoordinateRequest identifies the scheduled run that just finished.
type CoordinateRequest struct {
	WorkspaceID  string
	SchedulePath string
	ScriptPath   string
	Success      bool
	Result       json.RawMessage
}

// Coordinator decides what a finished scheduled run means for its schedule.
type Coordinator struct {
	schedules store.ScheduleStore
	escalator *Escalator
	log       *zap.SugaredLogger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(schedules store.ScheduleStore, escalator *Escalator, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{schedules: schedules, escalator: escalator, log: logger.OrNop(log)}
}

// Coordinate runs inside the completion transaction tx. It dispatches the failure
// handler when the run failed, then pushes the next occurrence. When either step
// fails the schedule is disabled outside tx, so the disable survives the rollback
// the returned error causes.
func (c *Coordinator) Coordinate(ctx context.Context, tx store.QueueTx, req CoordinateRequest) error {
	log := logger.FromContext(ctx, c.log).With("workspace_id", req.WorkspaceID, "schedule_path", req.SchedulePath)

	sch, err := c.schedules.GetSchedule(ctx, tx, req.WorkspaceID, req.SchedulePath)
	if errors.Is(err, store.ErrNotFound) {
		log.Errorw("Schedule not found, skipping", "error", err)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "load schedule %s", req.SchedulePath)
	}

	if !sch.Enabled || sch.ScriptPath != req.ScriptPath {
		log.Debugw("Schedule no longer targets this run", "enabled", sch.Enabled,
			"schedule_script_path", sch.ScriptPath, "script_path", req.ScriptPath)
		return nil
	}

	if !req.Success && sch.OnFailure != nil {
		_, err := c.escalator.Escalate(ctx, tx, EscalateRequest{Schedule: sch, ScriptPath: req.ScriptPath, Result: req.Result})
		if err != nil {
			reason := fmt.Sprintf("Could not trigger error handler: %v", err)
			return c.disable(ctx, log, sch, errors.Mark(err, ErrEscalation), reason)
		}
	}

	if _, err := c.schedules.PushNextOccurrence(ctx, tx, sch); err != nil {
		reason := fmt.Sprintf("Could not schedule next job for %s: %v", sch.Path, err)
		return c.disable(ctx, log, sch, errors.Mark(err, ErrSchedulePush), reason)
	}

	return nil
}

func (c *Coordinator) disable(ctx context.Context, log *zap.SugaredLogger, sch *store.Schedule, cause error, reason string) error {
	// The caller's ctx may already be cancelled; the disable must still land.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disableTimeout)
	defer cancel()

	log.Warnw("Disabling schedule", "reason", reason)
	if err := c.schedules.DisableSchedule(dctx, sch.WorkspaceID, sch.Path, reason); err != nil {
		log.Errorw("Failed to disable schedule", "error", err)
		return errors.WithSecondaryError(cause, err)
	}
	return cause
}
