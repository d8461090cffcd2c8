package postgres

import (
	"context"
	"database/sql"

	"flowplane/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const completedColumns = `id, workspace_id, parent_job, created_by, created_at, started_at, duration_ms, success, skipped,
	script_hash, script_path, args, result, logs, raw_code, job_kind, schedule_path, permissioned_as, flow_status,
	is_flow_step, language, email, tag, mem_peak`

// Upsert records a terminal job. A retried finalize for the same id overwrites the
// outcome and appends its logs to those already stored. inserted is false when the
// row already existed.
func (s *Store) Upsert(ctx context.Context, tx store.QueueTx, job *store.CompletedJob) (int64, bool, error) {
	executor := s.getExecutor(tx)

	var (
		durationMs sql.NullInt64
		inserted   bool
	)
	err := executor.QueryRowContext(ctx, `
		INSERT INTO completed_job AS cj (`+completedColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6,
			COALESCE($7::bigint, (EXTRACT(EPOCH FROM (NOW() - COALESCE($6::timestamptz, NOW()))) * 1000)::bigint),
			$8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (id) DO UPDATE SET
			success = EXCLUDED.success,
			result = EXCLUDED.result,
			logs = CONCAT(cj.logs, EXCLUDED.logs)
		RETURNING duration_ms, (xmax = 0) AS inserted
	`,
		job.ID, job.WorkspaceID, job.ParentJob, job.CreatedBy, job.CreatedAt, job.StartedAt,
		job.DurationMs, job.Success, job.Skipped, job.ScriptHash, job.ScriptPath, nullJSON(job.Args),
		nullJSON(job.Result), job.Logs, job.RawCode, string(job.Kind), job.SchedulePath, job.PermissionedAs,
		nullJSON(job.FlowStatus), job.IsFlowStep, job.Language, job.Email, job.Tag, job.MemPeak,
	).Scan(&durationMs, &inserted)
	if err != nil {
		return 0, false, errors.Wrapf(err, "upsert completed job %s", job.ID)
	}
	return durationMs.Int64, inserted, nil
}

// SumDurations totals the durations of the given completed jobs.
func (s *Store) SumDurations(ctx context.Context, ids []uuid.UUID) (*int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(duration_ms)::bigint FROM completed_job WHERE id = ANY($1)`,
		pq.Array(ids),
	).Scan(&total)
	if err != nil {
		return nil, errors.Wrapf(err, "sum durations of %d jobs", len(ids))
	}
	if !total.Valid {
		return nil, nil
	}
	return &total.Int64, nil
}

// GetCompletedJob returns a completed job by its ID.
func (s *Store) GetCompletedJob(ctx context.Context, id uuid.UUID) (*store.CompletedJob, error) {
	var (
		j                        store.CompletedJob
		kind                     string
		args, result, flowStatus []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+completedColumns+` FROM completed_job WHERE id = $1`, id).Scan(
		&j.ID, &j.WorkspaceID, &j.ParentJob, &j.CreatedBy, &j.CreatedAt, &j.StartedAt, &j.DurationMs, &j.Success, &j.Skipped,
		&j.ScriptHash, &j.ScriptPath, &args, &result, &j.Logs, &j.RawCode, &kind, &j.SchedulePath, &j.PermissionedAs, &flowStatus,
		&j.IsFlowStep, &j.Language, &j.Email, &j.Tag, &j.MemPeak,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrNotFound, "completed job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get completed job %s", id)
	}
	j.Kind = store.JobKind(kind)
	j.Args = rawJSON(args)
	j.Result = rawJSON(result)
	j.FlowStatus = rawJSON(flowStatus)
	return &j, nil
}
