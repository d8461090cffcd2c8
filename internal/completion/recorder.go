package completion

import (
	"context"
	"database/sql"
	"encoding/json"

	"flowplane/internal/logger"
	"flowplane/internal/store"
	"flowplane/internal/txqueue"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Outcome is what a worker reports for a finished job.
type Outcome struct {
	Success bool
	Skipped bool
	Result  json.RawMessage
	Logs    string

	// DurationMs overrides the computed duration when set.
	DurationMs *int64
}

// RecorderConfig holds the dependencies of a Recorder.
type RecorderConfig struct {
	DB          *sql.DB
	Notifier    txqueue.Notifier // optional
	Pending     store.PendingStore
	Completed   store.CompletedStore
	Coordinator *Coordinator
	Meter       *Meter  // optional
	Metrics     Metrics // optional
	Tracer      trace.Tracer
	Logger      *zap.SugaredLogger
}

// Recorder finalizes jobs.
type Recorder struct {
	db          *sql.DB
	notifier    txqueue.Notifier
	pending     store.PendingStore
	completed   store.CompletedStore
	coordinator *Coordinator
	meter       *Meter
	metrics     Metrics
	tracer      trace.Tracer
	log         *zap.SugaredLogger
}

// NewRecorder creates a Recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	r := &Recorder{
		db:          cfg.DB,
		notifier:    cfg.Notifier,
		pending:     cfg.Pending,
		completed:   cfg.Completed,
		coordinator: cfg.Coordinator,
		meter:       cfg.Meter,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		log:         logger.OrNop(cfg.Logger),
	}
	if r.metrics == nil {
		r.metrics = NopMetrics{}
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("flowplane/completion")
	}
	return r
}

// Finalize moves job to the terminal store. The completed row upsert, the pending
// row delete and, for top-level scheduled runs, the schedule coordination commit
// as one unit. Any error leaves the job pending so it can be finalized again.
func (r *Recorder) Finalize(ctx context.Context, job *store.PendingJob, out Outcome) (uuid.UUID, error) {
	ctx, span := r.tracer.Start(ctx, "finalize_job", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("workspace.id", job.WorkspaceID),
		attribute.Bool("job.success", out.Success),
	))
	defer span.End()

	log := logger.FromContext(ctx, r.log).With("job_id", job.ID, "workspace_id", job.WorkspaceID)

	id, err := r.finalize(ctx, log, job, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		return uuid.Nil, err
	}
	return id, nil
}

func (r *Recorder) finalize(ctx context.Context, log *zap.SugaredLogger, job *store.PendingJob, out Outcome) (uuid.UUID, error) {
	duration := out.DurationMs
	if duration == nil && job.Kind.IsFlow() {
		duration = r.flowDuration(ctx, log, job)
	}

	memPeak, err := r.pending.PeekMemPeak(ctx, job.ID)
	if err != nil {
		log.Warnw("Could not read peak memory", "error", err)
		memPeak = nil
	}

	completed := store.NewCompletedJob(job, out.Success, out.Skipped, out.Result, out.Logs)
	completed.DurationMs = duration
	if memPeak != nil {
		completed.MemPeak = memPeak
	}

	tx, err := txqueue.Begin(ctx, r.db, r.notifier, r.log)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback()

	resolved, inserted, err := r.completed.Upsert(ctx, tx, completed)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "finalize %s", job.ID)
	}

	if err := r.pending.Delete(ctx, tx, job); err != nil {
		return uuid.Nil, errors.Wrapf(err, "finalize %s", job.ID)
	}

	if r.coordinator != nil && drivesSchedule(job) {
		err := r.coordinator.Coordinate(ctx, tx, CoordinateRequest{
			WorkspaceID:  job.WorkspaceID,
			SchedulePath: *job.SchedulePath,
			ScriptPath:   *job.ScriptPath,
			Success:      out.Success,
			Result:       out.Result,
		})
		if err != nil {
			return uuid.Nil, errors.Wrapf(err, "finalize %s", job.ID)
		}
	}

	// A repeated finalize of the same id only rewrites the row.
	if inserted {
		tx.AfterCommit(func(ctx context.Context) {
			r.afterCommit(ctx, job, resolved)
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, errors.Wrapf(err, "finalize %s", job.ID)
	}

	log.Debugw("Job finalized", "success", out.Success, "duration_ms", resolved)
	return job.ID, nil
}

// FinalizeError finalizes job as failed with cause as its result and returns that result.
func (r *Recorder) FinalizeError(ctx context.Context, job *store.PendingJob, logs string, cause error) (json.RawMessage, error) {
	r.metrics.Inc(ctx, MetricExecutionFailed)

	result := ErrorResult(cause)
	if _, err := r.Finalize(ctx, job, Outcome{Success: false, Result: result, Logs: logs}); err != nil {
		return result, err
	}
	return result, nil
}

// ErrorResult renders cause as a job result: {"error": {"message": ..., "name": ...}}.
func ErrorResult(cause error) json.RawMessage {
	type errorBody struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	}
	name := "ExecutionError"
	var named interface{ Name() string }
	if errors.As(cause, &named) {
		name = named.Name()
	}
	out, err := json.Marshal(map[string]errorBody{"error": {Message: cause.Error(), Name: name}})
	if err != nil {
		return json.RawMessage(`{"error":{"message":"unencodable error","name":"ExecutionError"}}`)
	}
	return out
}

// flowDuration sums the durations of the flow's leaf jobs, which complete before
// the flow itself. Nil means the store falls back to wall-clock time.
func (r *Recorder) flowDuration(ctx context.Context, log *zap.SugaredLogger, job *store.PendingJob) *int64 {
	status, err := store.ParseFlowStatus(job.FlowStatus)
	if err != nil {
		log.Warnw("Could not parse flow status, using wall-clock duration", "error", err)
		return nil
	}

	ids := FlattenJobs(flowModules(status))
	total, err := r.completed.SumDurations(ctx, ids)
	if err != nil {
		log.Warnw("Could not sum flow step durations", "steps", len(ids), "error", err)
		return nil
	}
	return total
}

func (r *Recorder) afterCommit(ctx context.Context, job *store.PendingJob, durationMs int64) {
	r.metrics.Inc(ctx, MetricExecutionCount)
	if r.meter != nil && !job.Kind.IsFlow() {
		r.meter.Record(ctx, job, durationMs)
	}
}

// drivesSchedule reports whether job is a top-level scheduled run of a script.
func drivesSchedule(job *store.PendingJob) bool {
	return !job.IsFlowStep && !job.Kind.IsFlow() && job.SchedulePath != nil && job.ScriptPath != nil
}
