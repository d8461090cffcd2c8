// Package worker contains the worker-specific logic for job execution.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"flowplane/internal/completion"
	"flowplane/internal/store"
	"flowplane/internal/worker/runtime"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxLogBytes caps the logs kept per job; the tail past it is dropped.
const maxLogBytes = 1 << 20

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                  string
	Concurrency         int
	PollInterval        time.Duration
	MaxBackoff          time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval   time.Duration // Interval between heartbeat calls (default: 2m)
	VisibilityExtension time.Duration // Lease taken on dequeue and renewed on heartbeat (default: 5m)
	JobTimeout          time.Duration // default: 30m

	Tags        []string
	DequeueRate float64 // dequeue calls per second, 0 = unlimited

	// FinalizeMaxRetries bounds the retries of a failed finalize (default: 5).
	FinalizeMaxRetries   int
	FinalizeRetryInitial time.Duration // default: 500ms

	// Images maps a script language to the container image it runs in.
	Images map[string]string
}

// Finalizer records the outcome of a job. Implemented by completion.Recorder.
type Finalizer interface {
	Finalize(ctx context.Context, job *store.PendingJob, out completion.Outcome) (uuid.UUID, error)
	FinalizeError(ctx context.Context, job *store.PendingJob, logs string, cause error) (json.RawMessage, error)
}

// CodeSource loads the source of a script version.
type CodeSource interface {
	ScriptContent(ctx context.Context, workspaceID string, hash int64) (content, language string, err error)
}

// ExitError reports a job process that exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit code %d", e.Code) }

// Name is the error name recorded in the job result.
func (e *ExitError) Name() string { return "ExitError" }

// Agent is the main worker agent that runs the pull-loop for job execution.
type Agent struct {
	pending   store.PendingStore
	scripts   CodeSource
	finalizer Finalizer
	runtime   runtime.Runtime
	limiter   *rate.Limiter
	tracer    trace.Tracer
	config    AgentConfig
	log       *zap.SugaredLogger
	done      chan struct{}
}

// New creates a new worker agent.
func New(pending store.PendingStore, scripts CodeSource, finalizer Finalizer, rt runtime.Runtime, config AgentConfig, log *zap.SugaredLogger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Minute
	}
	if config.VisibilityExtension <= 0 {
		config.VisibilityExtension = 5 * time.Minute
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Minute
	}
	if len(config.Tags) == 0 {
		config.Tags = []string{"default"}
	}
	if config.FinalizeMaxRetries < 0 {
		config.FinalizeMaxRetries = 0
	}
	if config.FinalizeRetryInitial <= 0 {
		config.FinalizeRetryInitial = 500 * time.Millisecond
	}

	limit := rate.Inf
	if config.DequeueRate > 0 {
		limit = rate.Limit(config.DequeueRate)
	}

	return &Agent{
		pending:   pending,
		scripts:   scripts,
		finalizer: finalizer,
		runtime:   rt,
		limiter:   rate.NewLimiter(limit, 1),
		tracer:    otel.Tracer("worker-agent"),
		config:    config,
		log:       log.With("worker_id", config.ID),
		done:      make(chan struct{}),
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On SIGTERM, it stops dequeuing new work and allows in-flight executions to finish.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Infow("Agent starting", "concurrency", a.config.Concurrency, "tags", a.config.Tags)

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Signals that a slot became available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Grows on an empty queue, resets when work is found
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("Context cancelled, waiting for running jobs to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			if err := a.limiter.Wait(ctx); err != nil {
				continue
			}

			jobs, err := a.pending.DequeueBatch(ctx, a.config.Tags, availableSlots, a.config.VisibilityExtension)
			if err != nil {
				if ctx.Err() == nil {
					a.log.Errorw("DequeueBatch failed", "error", err)
				}
				continue
			}

			if len(jobs) == 0 {
				currentBackoff = min(currentBackoff*2, a.config.MaxBackoff)
				continue
			}

			currentBackoff = a.config.PollInterval
			a.log.Debugw("Claimed jobs", "count", len(jobs))

			for _, job := range jobs {
				sem <- struct{}{}

				wg.Add(1)
				go func(job *store.PendingJob) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					// In-flight jobs run to completion even after shutdown starts.
					a.processJob(context.WithoutCancel(ctx), job)
				}(job)
			}

			if len(jobs) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// processJob runs one dequeued job and finalizes it.
func (a *Agent) processJob(ctx context.Context, job *store.PendingJob) {
	ctx, span := a.tracer.Start(ctx, "process_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.kind", string(job.Kind)),
			attribute.String("workspace.id", job.WorkspaceID),
			attribute.String("job.tag", job.Tag),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log := a.log.With("job_id", job.ID, "workspace_id", job.WorkspaceID)
	log.Debugw("Processing job", "kind", job.Kind)

	opts, err := a.startOptions(ctx, job)
	if err != nil {
		span.RecordError(err)
		a.fail(ctx, log, job, "", err)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, a.config.JobTimeout)
	defer cancel()

	handle, err := a.runtime.Start(execCtx, opts)
	if err != nil {
		span.RecordError(err)
		log.Errorw("Failed to start runtime", "error", err)
		a.fail(ctx, log, job, "", errors.Wrap(err, "failed to start runtime"))
		return
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go a.runHeartbeat(heartbeatCtx, log, job.ID, handle)

	var (
		logs   string
		logsWg sync.WaitGroup
	)
	logsWg.Add(1)
	go func() {
		defer logsWg.Done()
		logs = a.collectLogs(execCtx, log, handle)
	}()

	result, err := handle.Wait(execCtx)
	if err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		// Stopping ends the log stream.
		stopCtx, stopCancel := context.WithTimeout(ctx, 10*time.Second)
		if stopErr := handle.Stop(stopCtx); stopErr != nil {
			log.Warnw("Failed to stop timed out job", "error", stopErr)
		}
		stopCancel()
	}
	logsWg.Wait()
	cancelHeartbeat()

	if err != nil {
		span.RecordError(err)
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			log.Warnw("Job timed out", "timeout", a.config.JobTimeout)
			a.fail(ctx, log, job, logs, errors.Newf("execution timed out after %v", a.config.JobTimeout))
			return
		}
		log.Errorw("Runtime wait failed", "error", err)
		a.fail(ctx, log, job, logs, errors.Wrap(err, "runtime wait failed"))
		return
	}

	span.SetAttributes(attribute.Int("exit_code", result.ExitCode))

	if result.ExitCode != 0 {
		log.Infow("Job failed", "exit_code", result.ExitCode)
		var cause error = &ExitError{Code: result.ExitCode}
		if result.Error != nil {
			cause = errors.WithSecondaryError(cause, result.Error)
		}
		a.fail(ctx, log, job, logs, cause)
		return
	}

	out := completion.Outcome{Success: true, Result: ParseResult(logs, result.ExitCode), Logs: logs}
	err = a.retryFinalize(ctx, log, func() error {
		_, err := a.finalizer.Finalize(ctx, job, out)
		return err
	})
	if err != nil {
		span.RecordError(err)
		log.Errorw("Giving up finalizing job, it stays pending until its lease expires", "error", err)
		return
	}
	log.Infow("Job completed")
}

// fail finalizes job as failed with cause. Retries call Finalize directly so the
// failure metric counts the job once.
func (a *Agent) fail(ctx context.Context, log *zap.SugaredLogger, job *store.PendingJob, logs string, cause error) {
	first := true
	err := a.retryFinalize(ctx, log, func() error {
		if first {
			first = false
			_, err := a.finalizer.FinalizeError(ctx, job, logs, cause)
			return err
		}
		_, err := a.finalizer.Finalize(ctx, job, completion.Outcome{
			Success: false,
			Result:  completion.ErrorResult(cause),
			Logs:    logs,
		})
		return err
	})
	if err != nil {
		log.Errorw("Giving up finalizing failed job, it stays pending until its lease expires", "error", err, "cause", cause)
	}
}

func (a *Agent) retryFinalize(ctx context.Context, log *zap.SugaredLogger, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = a.config.FinalizeRetryInitial
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(a.config.FinalizeMaxRetries)), ctx)
	return backoff.RetryNotify(op, b, func(err error, next time.Duration) {
		log.Warnw("Finalize failed, retrying", "error", err, "retry_in", next)
	})
}

// startOptions resolves the code of job and builds the process to run it.
func (a *Agent) startOptions(ctx context.Context, job *store.PendingJob) (runtime.StartOptions, error) {
	var code, language string
	if job.Language != nil {
		language = *job.Language
	}

	switch {
	case job.RawCode != nil:
		code = *job.RawCode
	case job.ScriptHash != nil:
		content, lang, err := a.scripts.ScriptContent(ctx, job.WorkspaceID, *job.ScriptHash)
		if err != nil {
			return runtime.StartOptions{}, errors.Wrap(err, "load script")
		}
		code = content
		if language == "" {
			language = lang
		}
	default:
		return runtime.StartOptions{}, errors.Newf("job of kind %s has no code to run", job.Kind)
	}

	command, err := runtime.CommandFor(language, code)
	if err != nil {
		return runtime.StartOptions{}, err
	}

	args := job.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	env := map[string]string{
		runtime.EnvJobID:            job.ID.String(),
		"FLOWPLANE_WORKSPACE":       job.WorkspaceID,
		"FLOWPLANE_ARGS":            string(args),
		"FLOWPLANE_PERMISSIONED_AS": job.PermissionedAs,
	}
	if job.ScriptPath != nil {
		env["FLOWPLANE_SCRIPT_PATH"] = *job.ScriptPath
	}

	return runtime.StartOptions{
		Image:   a.config.Images[language],
		Command: command,
		Env:     env,
	}, nil
}

// runHeartbeat extends the visibility lease periodically while a job is executing,
// so long-running jobs are not picked up by another worker. Each beat carries the
// job's peak memory sample.
func (a *Agent) runHeartbeat(ctx context.Context, log *zap.SugaredLogger, jobID uuid.UUID, handle runtime.Handle) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			memPeak, err := handle.MemPeak(ctx)
			if err != nil && ctx.Err() == nil {
				log.Debugw("Memory sample failed", "error", err)
			}
			visibleAfter := time.Now().Add(a.config.VisibilityExtension)
			if err := a.pending.Heartbeat(ctx, jobID, visibleAfter, memPeak); err != nil && ctx.Err() == nil {
				log.Warnw("Heartbeat failed", "error", err)
			}
		}
	}
}

// collectLogs reads the combined output of handle until it closes.
func (a *Agent) collectLogs(ctx context.Context, log *zap.SugaredLogger, handle runtime.Handle) string {
	rc, err := handle.StreamLogs(ctx)
	if err != nil {
		log.Warnw("Failed to get log stream", "error", err)
		return ""
	}
	defer rc.Close()

	var (
		buf       strings.Builder
		truncated bool
	)
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), maxLogBytes)
	for scanner.Scan() {
		// Postgres rejects \x00 in text columns
		line := strings.ReplaceAll(scanner.Text(), "\x00", "")
		line = strings.TrimSuffix(line, "\r")
		if buf.Len()+len(line)+1 > maxLogBytes {
			truncated = true
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() == nil {
			log.Warnw("Log stream ended with error", "error", err)
		}
		// Keep draining so the process never blocks on a full pipe.
		truncated = true
		_, _ = io.Copy(io.Discard, rc)
	}
	if truncated {
		buf.WriteString("[logs truncated]\n")
	}
	return buf.String()
}

// ParseResult takes the last non-empty line of logs as the job's JSON result.
// Output that does not end in a JSON value yields {"exit_code": exitCode}.
func ParseResult(logs string, exitCode int) json.RawMessage {
	lines := strings.Split(strings.TrimRight(logs, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace([]byte(lines[i]))
		if len(line) == 0 {
			continue
		}
		if json.Valid(line) {
			return json.RawMessage(line)
		}
		break
	}
	return json.RawMessage(fmt.Sprintf(`{"exit_code":%d}`, exitCode))
}
