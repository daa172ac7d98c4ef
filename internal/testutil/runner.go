package testutil

import (
	"context"
	"strings"
	"sync"
	"upgrader/internal/runner"
)

// FakeRunner is a scripted runner.Runner that records every command it is
// asked to run. Commands that match no script entry succeed with empty output.
type FakeRunner struct {
	mu      sync.Mutex
	calls   []runner.Command
	scripts []script
}

type script struct {
	prefix string
	fn     func(ctx context.Context, cmd runner.Command) runner.Result
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On scripts the result for commands whose rendered form starts with prefix.
// Later entries take precedence over earlier ones.
func (f *FakeRunner) On(prefix string, res runner.Result) *FakeRunner {
	return f.OnFunc(prefix, func(context.Context, runner.Command) runner.Result { return res })
}

// OnFunc scripts a callback for commands whose rendered form starts with prefix.
func (f *FakeRunner) OnFunc(prefix string, fn func(ctx context.Context, cmd runner.Command) runner.Result) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script{prefix: prefix, fn: fn})
	return f
}

// Run records cmd and returns the scripted result.
func (f *FakeRunner) Run(ctx context.Context, cmd runner.Command) runner.Result {
	line := cmd.String()

	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	var fn func(context.Context, runner.Command) runner.Result
	for i := len(f.scripts) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.scripts[i].prefix) {
			fn = f.scripts[i].fn
			break
		}
	}
	f.mu.Unlock()

	if fn == nil {
		return runner.Result{OK: true}
	}
	return fn(ctx, cmd)
}

// Calls returns the rendered commands in the order they were run.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

// Commands returns copies of the recorded commands.
func (f *FakeRunner) Commands() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Command(nil), f.calls...)
}

// Called reports whether any recorded command starts with prefix.
func (f *FakeRunner) Called(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// Reset clears recorded calls but keeps scripts.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

var _ runner.Runner = (*FakeRunner)(nil)
