package postgres

import (
	"context"
	"database/sql"

	"flowplane/internal/recurrence"
	"flowplane/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// GetSchedule loads a schedule by its composite key.
func (s *Store) GetSchedule(ctx context.Context, tx store.DBTransaction, workspaceID, path string) (*store.Schedule, error) {
	var (
		sch  store.Schedule
		args []byte
	)
	err := s.getExecutor(tx).QueryRowContext(ctx, `
		SELECT workspace_id, path, edited_by, edited_at, schedule, timezone, enabled, script_path,
			is_flow, args, email, on_failure, error
		FROM schedule
		WHERE workspace_id = $1 AND path = $2
	`, workspaceID, path).Scan(
		&sch.WorkspaceID, &sch.Path, &sch.EditedBy, &sch.EditedAt, &sch.Schedule, &sch.Timezone, &sch.Enabled,
		&sch.ScriptPath, &sch.IsFlow, &args, &sch.Email, &sch.OnFailure, &sch.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrNotFound, "schedule %s/%s", workspaceID, path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get schedule %s/%s", workspaceID, path)
	}
	sch.Args = rawJSON(args)
	return &sch, nil
}

// DisableSchedule runs on the connection pool, never on a caller's transaction.
func (s *Store) DisableSchedule(ctx context.Context, workspaceID, path, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedule SET enabled = false, error = $3 WHERE workspace_id = $1 AND path = $2`,
		workspaceID, path, reason,
	)
	if err != nil {
		return errors.Wrapf(err, "disable schedule %s/%s", workspaceID, path)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(store.ErrNotFound, "schedule %s/%s", workspaceID, path)
	}
	return nil
}

// EnableSchedule re-enables a schedule disabled by an error. The write belongs to tx
// so it commits together with the schedule's next occurrence.
func (s *Store) EnableSchedule(ctx context.Context, tx store.QueueTx, workspaceID, path string) error {
	res, err := s.getExecutor(tx).ExecContext(ctx,
		`UPDATE schedule SET enabled = true, error = NULL WHERE workspace_id = $1 AND path = $2`,
		workspaceID, path,
	)
	if err != nil {
		return errors.Wrapf(err, "enable schedule %s/%s", workspaceID, path)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(store.ErrNotFound, "schedule %s/%s", workspaceID, path)
	}
	return nil
}

// PushNextOccurrence enqueues the next run of schedule. If that occurrence is
// already pending, its id is returned and nothing is inserted.
func (s *Store) PushNextOccurrence(ctx context.Context, tx store.QueueTx, schedule *store.Schedule) (uuid.UUID, error) {
	next, err := recurrence.Next(schedule.Schedule, schedule.Timezone, s.now())
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "schedule %s", schedule.Path)
	}

	var existing uuid.UUID
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM queue
		WHERE workspace_id = $1 AND schedule_path = $2 AND scheduled_for = $3 AND parent_job IS NULL
	`, schedule.WorkspaceID, schedule.Path, next).Scan(&existing)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return uuid.Nil, errors.Wrapf(err, "check pending occurrence of %s", schedule.Path)
	}

	prefix := "script/"
	if schedule.IsFlow {
		prefix = "flow/"
	}
	payload, tag, err := s.ResolvePayload(ctx, tx, schedule.WorkspaceID, prefix+schedule.ScriptPath)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "schedule %s", schedule.Path)
	}

	schedulePath := schedule.Path
	return s.Push(ctx, tx, store.PushRequest{
		WorkspaceID:    schedule.WorkspaceID,
		Payload:        payload,
		Args:           schedule.Args,
		CreatedBy:      schedule.EditedBy,
		Email:          schedule.Email,
		PermissionedAs: store.PermissionedAs(schedule.EditedBy),
		ScheduledFor:   &next,
		SchedulePath:   &schedulePath,
		Tag:            tag,
	})
}
