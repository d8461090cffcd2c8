package runtime

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
)

// ExecRuntime runs job code as raw OS processes on the worker host.
// Primarily used for development and trusted deployments.
type ExecRuntime struct {
	// WorkDir is the parent of the per-job working directories.
	WorkDir string
}

// NewExecRuntime creates a new process-based runtime rooted at workDir.
func NewExecRuntime(workDir string) *ExecRuntime {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "flowplane", "runner")
	}
	return &ExecRuntime{WorkDir: workDir}
}

// Start implements Runtime.Start using os/exec.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}

	dir, err := e.jobDir(opts.Env[EnvJobID])
	if err != nil {
		return nil, err
	}

	// The write end is handed to the child; the reader sees EOF once it exits.
	logR, logW, err := os.Pipe()
	if err != nil {
		os.RemoveAll(dir)
		return nil, errors.Wrap(err, "create log pipe")
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = logW
	cmd.Stderr = logW

	if err := cmd.Start(); err != nil {
		logR.Close()
		logW.Close()
		os.RemoveAll(dir)
		return nil, errors.Wrapf(err, "start %s", opts.Command[0])
	}
	logW.Close()

	h := &ExecHandle{cmd: cmd, dir: dir, logs: logR, done: make(chan struct{})}
	go h.reap()
	return h, nil
}

func (e *ExecRuntime) jobDir(jobID string) (string, error) {
	if err := os.MkdirAll(e.WorkDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create work dir %s", e.WorkDir)
	}
	if jobID == "" {
		dir, err := os.MkdirTemp(e.WorkDir, "job-")
		return dir, errors.Wrap(err, "create job dir")
	}
	dir := filepath.Join(e.WorkDir, jobID)
	return dir, errors.Wrapf(os.MkdirAll(dir, 0o755), "create job dir %s", dir)
}

// ExecHandle is a running OS process.
type ExecHandle struct {
	cmd  *exec.Cmd
	dir  string
	logs *os.File

	done    chan struct{}
	result  ExitResult
	cleanup sync.Once
	peak    peakTracker
}

func (h *ExecHandle) reap() {
	err := h.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		h.result = ExitResult{ExitCode: 0}
	case errors.As(err, &exitErr):
		h.result = ExitResult{ExitCode: exitErr.ExitCode()}
	default:
		h.result = ExitResult{ExitCode: -1, Error: err}
	}
	close(h.done)
}

// Wait implements Handle.Wait.
func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.done:
		h.cleanup.Do(func() { os.RemoveAll(h.dir) })
		return h.result, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop sends SIGTERM and kills the process if it has not exited when ctx ends.
func (h *ExecHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "signal process")
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return errors.Wrap(err, "kill process")
		}
		<-h.done
		return nil
	}
}

// StreamLogs implements Handle.StreamLogs. The returned reader is shared; read it once.
func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.logs, nil
}

// MemPeak implements Handle.MemPeak by sampling the resident memory of the process tree.
func (h *ExecHandle) MemPeak(ctx context.Context) (*int32, error) {
	select {
	case <-h.done:
		return h.peak.current(), nil
	default:
	}

	rss, err := treeRSS(ctx, int32(h.cmd.Process.Pid))
	if err != nil {
		select {
		case <-h.done:
			return h.peak.current(), nil
		default:
			return h.peak.current(), err
		}
	}
	return h.peak.observe(rss), nil
}
