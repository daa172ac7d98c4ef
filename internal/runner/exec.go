package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Exec runs commands as local child processes.
type Exec struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewExec creates a local runner. A non-positive timeout uses DefaultTimeout.
func NewExec(timeout time.Duration) *Exec {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Exec{
		timeout: timeout,
		logger:  slog.With("component", "runner"),
	}
}

// Run executes cmd and waits for it to exit or time out.
func (e *Exec) Run(ctx context.Context, cmd Command) Result {
	if len(cmd.Args) == 0 || cmd.Args[0] == "" {
		return Result{ExitCode: -1, Output: "empty command"}
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	configureProcessGroup(c)
	// Children that keep the pipes open must not hold Wait forever.
	c.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := Result{
		OK:       err == nil,
		ExitCode: c.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	errOut := stderr.String()
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
		errOut += fmt.Sprintf("\ncommand timed out after %s", timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		res.ExitCode = -1
		errOut += "\ncommand cancelled"
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Never started (binary missing, bad working directory).
			res.ExitCode = -1
			errOut += "\n" + err.Error()
		}
	}
	res.Output = CombineOutput(stdout.String(), errOut)

	e.logger.Debug("Command finished",
		"command", cmd.String(),
		"dir", cmd.Dir,
		"ok", res.OK,
		"exitCode", res.ExitCode,
		"duration", res.Duration,
	)
	return res
}

var _ Runner = (*Exec)(nil)
