// Package runner executes external commands as argument vectors and reports
// their outcome uniformly.
//
// Commands are never interpreted by a shell: Args[0] is the program and the
// remaining elements are passed verbatim, so shell metacharacters in any
// argument have no effect.
package runner

import (
	"context"
	"strings"
	"time"
)

// DefaultTimeout bounds a single command when neither the command nor the
// runner specifies one.
const DefaultTimeout = 30 * time.Minute

// Command describes one external command invocation.
type Command struct {
	Args    []string      // Program followed by its arguments
	Dir     string        // Working directory
	Timeout time.Duration // Zero uses the runner default
	Env     []string      // Extra KEY=VALUE pairs appended to the inherited environment
}

// String renders the command the way it appears in transcripts.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Result is the outcome of one command. A non-zero exit is reported through
// OK, never as an error.
type Result struct {
	OK       bool
	Output   string // stdout, newline, stderr; trimmed
	ExitCode int    // -1 when the process did not exit normally
	Duration time.Duration
	TimedOut bool
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) Result

// Run calls f(ctx, cmd).
func (f RunnerFunc) Run(ctx context.Context, cmd Command) Result {
	return f(ctx, cmd)
}

// CombineOutput joins stdout and stderr in transcript order.
func CombineOutput(stdout, stderr string) string {
	return strings.TrimSpace(stdout + "\n" + stderr)
}
