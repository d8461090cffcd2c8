// Package runtime provides the execution backends a worker runs job code on.
package runtime

import (
	"context"
	"io"
)

// Runtime starts job processes. Implementations include Docker and raw process execution.
type Runtime interface {
	// Start begins execution of a job and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a job.
type StartOptions struct {
	// Image is the container image. Ignored by the exec runtime.
	Image   string
	Command []string
	Env     map[string]string
}

// ExitResult is the terminal state of a finished process.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a running job execution.
type Handle interface {
	// Wait blocks until the job completes. A cancelled ctx returns ExitCode -1 and ctx.Err().
	Wait(ctx context.Context) (ExitResult, error)

	// Stop terminates the job.
	Stop(ctx context.Context) error

	// StreamLogs returns the combined stdout/stderr of the job.
	// The reader reaches EOF once the process exits.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)

	// MemPeak samples the job's memory and returns the highest usage seen so far
	// in KB, or nil before any sample succeeded.
	MemPeak(ctx context.Context) (*int32, error)
}

// EnvJobID carries the job id into the process environment; the exec runtime
// names the per-job working directory after it.
const EnvJobID = "FLOWPLANE_JOB_ID"
