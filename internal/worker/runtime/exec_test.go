package runtime

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, h Handle) string {
	t.Helper()
	reader, err := h.StreamLogs(context.Background())
	require.NoError(t, err)
	out, err := io.ReadAll(reader)
	require.NoError(t, err)
	return string(out)
}

func TestNewExecRuntime_DefaultWorkDir(t *testing.T) {
	rt := NewExecRuntime("")
	assert.Equal(t, filepath.Join(os.TempDir(), "flowplane", "runner"), rt.WorkDir)
}

func TestNewExecRuntime_CustomWorkDir(t *testing.T) {
	rt := NewExecRuntime("/custom/path")
	assert.Equal(t, "/custom/path", rt.WorkDir)
}

func TestExecStart_EmptyCommand(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	_, err := rt.Start(context.Background(), StartOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command is required")
}

func TestExecStart_CommandNotFound(t *testing.T) {
	base := t.TempDir()
	rt := NewExecRuntime(base)

	_, err := rt.Start(context.Background(), StartOptions{
		Command: []string{"nonexistent-binary-xyz"},
		Env:     map[string]string{EnvJobID: "missing"},
	})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(base, "missing"))
	assert.True(t, os.IsNotExist(statErr), "job dir should be removed when start fails")
}

func TestExecStart_JobDirNamedAfterJob(t *testing.T) {
	base := t.TempDir()
	rt := NewExecRuntime(base)

	h, err := rt.Start(context.Background(), StartOptions{
		Command: []string{"pwd"},
		Env:     map[string]string{EnvJobID: "0191d2c4-job"},
	})
	require.NoError(t, err)

	out := readAll(t, h)
	assert.Equal(t, filepath.Join(base, "0191d2c4-job"), strings.TrimSpace(out))

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	_, statErr := os.Stat(filepath.Join(base, "0191d2c4-job"))
	assert.True(t, os.IsNotExist(statErr), "job dir should be removed after wait")
}

func TestExecWait_ExitCodes(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	for name, tc := range map[string]struct {
		cmd  []string
		code int
	}{
		"zero":     {[]string{"true"}, 0},
		"one":      {[]string{"false"}, 1},
		"explicit": {[]string{"sh", "-c", "exit 7"}, 7},
	} {
		t.Run(name, func(t *testing.T) {
			h, err := rt.Start(context.Background(), StartOptions{Command: tc.cmd})
			require.NoError(t, err)

			res, err := h.Wait(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.code, res.ExitCode)
			assert.NoError(t, res.Error)
		})
	}
}

func TestExecWait_ContextDeadline(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	h, err := rt.Start(context.Background(), StartOptions{Command: []string{"sleep", "10"}})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Stop(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, res.ExitCode)
}

func TestExecStop_TerminatesProcess(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	h, err := rt.Start(context.Background(), StartOptions{Command: []string{"sleep", "30"}})
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Stop(stopCtx))

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, 0, res.ExitCode)
}

func TestExecStop_AfterExitIsNoop(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	h, err := rt.Start(context.Background(), StartOptions{Command: []string{"true"}})
	require.NoError(t, err)
	_, err = h.Wait(context.Background())
	require.NoError(t, err)

	assert.NoError(t, h.Stop(context.Background()))
}

func TestExecStreamLogs_CombinesStdoutAndStderr(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	h, err := rt.Start(context.Background(), StartOptions{
		Command: []string{"sh", "-c", "echo out; echo err 1>&2"},
	})
	require.NoError(t, err)

	out := readAll(t, h)
	assert.Contains(t, out, "out\n")
	assert.Contains(t, out, "err\n")

	_, err = h.Wait(context.Background())
	require.NoError(t, err)
}

func TestExecStart_PassesEnvironment(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	h, err := rt.Start(context.Background(), StartOptions{
		Command: []string{"sh", "-c", "echo $FLOWPLANE_ARGS"},
		Env:     map[string]string{"FLOWPLANE_ARGS": `{"n":1}`},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"n":1}`, strings.TrimSpace(readAll(t, h)))
	_, err = h.Wait(context.Background())
	require.NoError(t, err)
}

func TestExecStart_ImageIgnored(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	h, err := rt.Start(context.Background(), StartOptions{
		Image:   "python:3.12-slim",
		Command: []string{"echo", "works"},
	})
	require.NoError(t, err)

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecMemPeak_SamplesRunningProcess(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())
	h, err := rt.Start(context.Background(), StartOptions{Command: []string{"sleep", "5"}})
	require.NoError(t, err)

	peak, err := h.MemPeak(context.Background())
	require.NoError(t, err)
	require.NotNil(t, peak)
	assert.Greater(t, *peak, int32(0))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))
	_, err = h.Wait(context.Background())
	require.NoError(t, err)

	after, err := h.MemPeak(context.Background())
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, *peak, *after)
}
