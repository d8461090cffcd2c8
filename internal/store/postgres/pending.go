package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"flowplane/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DefaultLease is how long a dequeued job stays invisible without a heartbeat.
const DefaultLease = 5 * time.Minute

const pendingColumns = `id, workspace_id, parent_job, created_by, created_at, started_at, scheduled_for, running,
	script_hash, script_path, args, raw_code, job_kind, schedule_path, permissioned_as, flow_status,
	is_flow_step, language, email, tag, mem_peak, visible_after`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPendingJob(row rowScanner) (*store.PendingJob, error) {
	var (
		j                store.PendingJob
		kind             string
		args, flowStatus []byte
	)
	err := row.Scan(
		&j.ID, &j.WorkspaceID, &j.ParentJob, &j.CreatedBy, &j.CreatedAt, &j.StartedAt, &j.ScheduledFor, &j.Running,
		&j.ScriptHash, &j.ScriptPath, &args, &j.RawCode, &kind, &j.SchedulePath, &j.PermissionedAs, &flowStatus,
		&j.IsFlowStep, &j.Language, &j.Email, &j.Tag, &j.MemPeak, &j.VisibleAfter,
	)
	if err != nil {
		return nil, err
	}
	j.Kind = store.JobKind(kind)
	j.Args = rawJSON(args)
	j.FlowStatus = rawJSON(flowStatus)
	return &j, nil
}

// GetPendingJob returns a pending job by its ID.
func (s *Store) GetPendingJob(ctx context.Context, id uuid.UUID) (*store.PendingJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM queue WHERE id = $1`, id)
	job, err := scanPendingJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrNotFound, "pending job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get pending job %s", id)
	}
	return job, nil
}

// PeekMemPeak reads the live memory sample of a pending job.
// A missing row or an unset sample both yield nil.
func (s *Store) PeekMemPeak(ctx context.Context, id uuid.UUID) (*int32, error) {
	var memPeak sql.NullInt32
	err := s.db.QueryRowContext(ctx, `SELECT mem_peak FROM queue WHERE id = $1`, id).Scan(&memPeak)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "peek mem_peak of %s", id)
	}
	if !memPeak.Valid {
		return nil, nil
	}
	return &memPeak.Int32, nil
}

// Delete removes the pending row and stages its removal from the queue mirror.
func (s *Store) Delete(ctx context.Context, tx store.QueueTx, job *store.PendingJob) error {
	if tx == nil {
		return errors.New("delete pending job: transaction required")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE id = $1`, job.ID); err != nil {
		return errors.Wrapf(err, "delete pending job %s", job.ID)
	}
	tx.NotifyDeleted(job.Tag, job.ID)
	return nil
}

// Push inserts a new pending job and stages its publish on the queue mirror.
func (s *Store) Push(ctx context.Context, tx store.QueueTx, req store.PushRequest) (uuid.UUID, error) {
	if tx == nil {
		return uuid.Nil, errors.New("push job: transaction required")
	}

	id := uuid.New()
	tag := req.Payload.Kind.DefaultTag()
	if req.Tag != nil && *req.Tag != "" {
		tag = *req.Tag
	}
	scheduledFor := s.now()
	if req.ScheduledFor != nil {
		scheduledFor = *req.ScheduledFor
	}
	args := req.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var scriptPath *string
	if req.Payload.Path != "" {
		scriptPath = &req.Payload.Path
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO queue (id, workspace_id, parent_job, created_by, scheduled_for, script_hash, script_path,
			args, job_kind, schedule_path, permissioned_as, is_flow_step, email, tag, visible_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $5)
	`, id, req.WorkspaceID, req.ParentJob, req.CreatedBy, scheduledFor, req.Payload.ScriptHash, scriptPath,
		[]byte(args), string(req.Payload.Kind), req.SchedulePath, req.PermissionedAs, req.IsFlowStep, req.Email, tag)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "push %s job %q", req.Payload.Kind, req.Payload.Path)
	}

	tx.NotifyPushed(tag, id)
	return id, nil
}

// DequeueBatch claims up to 'limit' runnable jobs atomically using SELECT ... FOR UPDATE SKIP LOCKED.
// Flow containers are never claimed; the flow engine drives them.
// Returns nil slice if no jobs are available.
func (s *Store) DequeueBatch(ctx context.Context, tags []string, limit int, lease time.Duration) ([]*store.PendingJob, error) {
	if limit <= 0 {
		limit = 1
	}
	if lease <= 0 {
		lease = DefaultLease
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin dequeue")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+pendingColumns+`
		FROM queue
		WHERE tag = ANY($1)
			AND job_kind NOT IN ('flow', 'flowpreview')
			AND scheduled_for <= NOW()
			AND visible_after <= NOW()
		ORDER BY scheduled_for ASC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, pq.Array(tags), limit)
	if err != nil {
		return nil, errors.Wrap(err, "batch dequeue query failed")
	}
	defer rows.Close()

	var jobs []*store.PendingJob
	var ids []uuid.UUID
	for rows.Next() {
		job, err := scanPendingJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "batch dequeue scan failed")
		}
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "batch dequeue rows error")
	}

	if len(jobs) == 0 {
		return nil, nil
	}

	now := s.now()
	visibleAfter := now.Add(lease)
	_, err = tx.ExecContext(ctx, `
		UPDATE queue
		SET running = true, started_at = COALESCE(started_at, $2), visible_after = $3
		WHERE id = ANY($1)
	`, pq.Array(ids), now, visibleAfter)
	if err != nil {
		return nil, errors.Wrap(err, "batch claim update failed")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit dequeue")
	}

	for _, job := range jobs {
		job.Running = true
		if job.StartedAt == nil {
			started := now
			job.StartedAt = &started
		}
		job.VisibleAfter = visibleAfter
	}
	return jobs, nil
}

// Heartbeat extends the visibility lease and keeps the highest memory sample seen.
func (s *Store) Heartbeat(ctx context.Context, id uuid.UUID, visibleAfter time.Time, memPeak *int32) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue
		SET visible_after = $2, mem_peak = GREATEST(mem_peak, $3::integer)
		WHERE id = $1
	`, id, visibleAfter, memPeak)
	if err != nil {
		return errors.Wrapf(err, "heartbeat %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(store.ErrNotFound, "pending job %s", id)
	}
	return nil
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// CountPending returns the number of jobs in the pending queue.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count pending jobs")
	}
	return count, nil
}
