package runtime

import (
	"context"
	"encoding/json"
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

// stopTimeoutSeconds is the grace period between SIGTERM and SIGKILL on Stop.
const stopTimeoutSeconds = 5

// DockerRuntime runs each job in a fresh container.
type DockerRuntime struct {
	client *client.Client
	log    *zap.SugaredLogger
}

// DockerHandle represents a running container.
type DockerHandle struct {
	client      *client.Client
	containerID string
	log         *zap.SugaredLogger
	peak        peakTracker
}

// containerMemory is the part of a container stats response the handle reads.
type containerMemory struct {
	MemoryStats struct {
		Usage    uint64 `json:"usage"`
		MaxUsage uint64 `json:"max_usage"`
	} `json:"memory_stats"`
}

// envList renders env as KEY=VALUE pairs in key order.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// NewDockerRuntime creates a runtime from the standard Docker environment (DOCKER_HOST, etc.).
func NewDockerRuntime(log *zap.SugaredLogger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "create docker client")
	}
	return &DockerRuntime{client: cli, log: log}, nil
}

// Close releases the Docker client.
func (d *DockerRuntime) Close() error {
	return d.client.Close()
}

// Start implements Runtime.Start. The image is pulled on first use.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}
	if opts.Image == "" {
		return nil, errors.New("image is required")
	}

	if _, _, err := d.client.ImageInspectWithRaw(ctx, opts.Image); err != nil {
		d.log.Infow("Pulling image", "image", opts.Image)
		reader, err := d.client.ImagePull(ctx, opts.Image, image.PullOptions{})
		if err != nil {
			return nil, errors.Wrapf(err, "pull image %s", opts.Image)
		}
		_, copyErr := io.Copy(io.Discard, reader)
		reader.Close()
		if copyErr != nil {
			return nil, errors.Wrapf(copyErr, "pull image %s", opts.Image)
		}
	}

	created, err := d.client.ContainerCreate(ctx, &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Command,
		Env:        envList(opts.Env),
		WorkingDir: "/tmp",
		// Tty merges stdout and stderr into one unframed stream.
		Tty: true,
	}, nil, nil, nil, "")
	if err != nil {
		return nil, errors.Wrap(err, "create container")
	}

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = d.client.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return nil, errors.Wrap(err, "start container")
	}

	return &DockerHandle{client: d.client, containerID: created.ID, log: d.log}, nil
}

// Wait implements Handle.Wait and removes the container once it has exited.
func (h *DockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
		}
		return ExitResult{ExitCode: -1, Error: err}, errors.Wrap(err, "wait container")
	case status := <-statusCh:
		h.remove(ctx)
		res := ExitResult{ExitCode: int(status.StatusCode)}
		if status.Error != nil {
			res.Error = errors.New(status.Error.Message)
		}
		return res, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop implements Handle.Stop.
func (h *DockerHandle) Stop(ctx context.Context) error {
	timeout := stopTimeoutSeconds
	if err := h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return errors.Wrapf(err, "stop container %s", h.containerID)
	}
	h.remove(ctx)
	return nil
}

func (h *DockerHandle) remove(ctx context.Context) {
	err := h.client.ContainerRemove(context.WithoutCancel(ctx), h.containerID, container.RemoveOptions{})
	if err != nil && !client.IsErrNotFound(err) {
		h.log.Warnw("Failed to remove container", "container", h.containerID, "error", err)
	}
}

// StreamLogs implements Handle.StreamLogs.
func (h *DockerHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	rc, err := h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	return rc, errors.Wrap(err, "container logs")
}

// MemPeak implements Handle.MemPeak from a one-shot container stats sample.
func (h *DockerHandle) MemPeak(ctx context.Context) (*int32, error) {
	stats, err := h.client.ContainerStatsOneShot(ctx, h.containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return h.peak.current(), nil
		}
		return h.peak.current(), errors.Wrapf(err, "stats of container %s", h.containerID)
	}
	defer stats.Body.Close()

	var mem containerMemory
	if err := json.NewDecoder(stats.Body).Decode(&mem); err != nil {
		return h.peak.current(), errors.Wrap(err, "decode container stats")
	}
	usage := max(mem.MemoryStats.Usage, mem.MemoryStats.MaxUsage)
	if usage == 0 {
		return h.peak.current(), nil
	}
	return h.peak.observe(usage), nil
}
