// Package docker implements runner.Runner by executing each command in a
// one-shot container on the host Docker daemon.
//
// The deployment root is bind-mounted at its host path so commands see the
// same working tree the pipeline prepared, and the container is removed once
// its output has been collected.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"upgrader/internal/runner"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// Runner runs commands inside containers.
type Runner struct {
	client *client.Client
	cfg    Config
	logger *slog.Logger
}

// NewRunner connects to the Docker daemon from the environment (DOCKER_HOST etc).
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("tool image is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = runner.DefaultTimeout
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Runner{
		client: dockerClient,
		cfg:    cfg,
		logger: slog.With("component", "docker-runner", "image", cfg.Image),
	}, nil
}

// Run executes cmd in a fresh container and returns its combined output.
func (r *Runner) Run(ctx context.Context, cmd runner.Command) runner.Result {
	if len(cmd.Args) == 0 || cmd.Args[0] == "" {
		return runner.Result{ExitCode: -1, Output: "empty command"}
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	logger := r.logger.With("command", cmd.String())

	if err := r.pullImageIfNeeded(ctx); err != nil {
		return failed(start, fmt.Sprintf("docker: pull %s: %v", r.cfg.Image, err))
	}

	containerID, err := r.createContainer(ctx, cmd)
	if err != nil {
		return failed(start, fmt.Sprintf("docker: create container: %v", err))
	}
	defer r.removeContainer(containerID)

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return failed(start, fmt.Sprintf("docker: start container: %v", err))
	}

	exitCode, waitErr := r.waitForExit(ctx, containerID)

	// Logs are read with a fresh context so a timed-out command still reports
	// whatever it printed before being killed.
	logCtx, logCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer logCancel()
	stdout, stderr := r.collectLogs(logCtx, containerID)

	res := runner.Result{
		OK:       waitErr == nil && exitCode == 0,
		ExitCode: exitCode,
		Duration: time.Since(start),
	}
	if waitErr != nil {
		res.ExitCode = -1
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
			stderr += fmt.Sprintf("\ncommand timed out after %s", timeout)
		} else {
			stderr += "\n" + waitErr.Error()
		}
	}
	res.Output = runner.CombineOutput(stdout, stderr)

	logger.Debug("Container command finished", "ok", res.OK, "exitCode", res.ExitCode, "duration", res.Duration)
	return res
}

// Ready verifies the daemon is reachable.
func (r *Runner) Ready(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Close releases the Docker client.
func (r *Runner) Close() error {
	return r.client.Close()
}

func (r *Runner) createContainer(ctx context.Context, cmd runner.Command) (string, error) {
	containerConfig := &container.Config{
		Image:      r.cfg.Image,
		Entrypoint: cmd.Args[:1],
		Cmd:        cmd.Args[1:],
		Env:        cmd.Env,
		WorkingDir: cmd.Dir,
		User:       r.cfg.User,
		Labels: map[string]string{
			"managed-by": "upgrader",
		},
	}

	mounts := make([]mount.Mount, 0, len(r.cfg.Mounts))
	for _, path := range r.cfg.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: path,
			Target: path,
		})
	}

	hostConfig := &container.HostConfig{
		Mounts: mounts,
	}
	if r.cfg.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(r.cfg.Network)
	}

	containerName := fmt.Sprintf("upgrader-step-%d", time.Now().UnixNano())
	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (r *Runner) waitForExit(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// collectLogs reads the multiplexed log stream and splits it by stream type.
// Each frame has an 8-byte header: stream id, three padding bytes, and a
// big-endian payload size.
func (r *Runner) collectLogs(ctx context.Context, containerID string) (string, string) {
	logs, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		r.logger.Warn("Failed to read container logs", "error", err)
		return "", ""
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(logs, header); err != nil {
			break
		}

		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size == 0 {
			continue
		}

		dest := &stdout
		if header[0] == 2 {
			dest = &stderr
		}
		if _, err := io.CopyN(dest, logs, int64(size)); err != nil {
			break
		}
	}
	return stdout.String(), stderr.String()
}

func (r *Runner) pullImageIfNeeded(ctx context.Context) error {
	_, err := r.client.ImageInspect(ctx, r.cfg.Image)
	if err == nil {
		return nil
	}

	reader, err := r.client.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (r *Runner) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		r.logger.Warn("Failed to remove container", "containerId", containerID, "error", err)
	}
}

func failed(start time.Time, msg string) runner.Result {
	return runner.Result{
		ExitCode: -1,
		Output:   msg,
		Duration: time.Since(start),
	}
}

var _ runner.Runner = (*Runner)(nil)
