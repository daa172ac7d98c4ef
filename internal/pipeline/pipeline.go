// Package pipeline implements the single-flight upgrade sequence: validate the
// requested version, take the upgrade lease, verify the working tree is clean,
// then fetch, check out, reinstall dependencies and clear caches, stopping at
// the first failing step.
//
// Every failure is reported as an Outcome; nothing in this package returns an
// error or lets a panic escape while the lease is held.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"upgrader/internal/lease"
	"upgrader/internal/runner"
	"upgrader/internal/vcs"
)

// Observer receives step progress. Implementations must not block.
type Observer interface {
	StepStarted(ctx context.Context, version, step string)
	StepFinished(ctx context.Context, version, step string, res runner.Result)
}

type nopObserver struct{}

func (nopObserver) StepStarted(context.Context, string, string)                 {}
func (nopObserver) StepFinished(context.Context, string, string, runner.Result) {}

// Pipeline runs upgrades against one deployment root.
type Pipeline struct {
	source   vcs.Source
	lease    lease.Lease
	runner   runner.Runner
	tools    runner.Runner
	cfg      Config
	observer Observer
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithToolRunner runs the dependency and cache steps on r instead of the git runner.
func WithToolRunner(r runner.Runner) Option {
	return func(p *Pipeline) {
		p.tools = r
	}
}

// WithObserver registers a step observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// New creates a pipeline. r executes git commands in cfg.Root.
func New(source vcs.Source, l lease.Lease, r runner.Runner, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:   source,
		lease:    l,
		runner:   r,
		tools:    r,
		cfg:      cfg.withDefaults(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run performs a complete upgrade to version and blocks until it finishes.
func (p *Pipeline) Run(ctx context.Context, version string) Outcome {
	s, out := p.Begin(ctx, version)
	if out != nil {
		return *out
	}
	return s.Execute(ctx)
}

// Begin validates version, confirms the tag exists and takes the lease. On
// success the returned Session owns the lease and must be executed or aborted.
// Otherwise the terminal Outcome is returned and no lease is held.
func (p *Pipeline) Begin(ctx context.Context, version string) (*Session, *Outcome) {
	startedAt := p.now()
	version = strings.TrimSpace(version)
	logger := slog.With("version", version)

	if !ValidVersion(version) {
		logger.Warn("Rejected invalid version")
		return nil, p.fail(startedAt, version, KindValidation, MsgInvalidVersion, "")
	}

	if exists, out := p.source.TagExists(ctx, version); !exists {
		logger.Warn("Requested version tag not found")
		return nil, p.fail(startedAt, version, KindNotFound, MsgNotFound, out)
	}

	h, err := p.lease.TryAcquire(ctx, p.cfg.LeaseName)
	if errors.Is(err, lease.ErrHeld) {
		logger.Warn("Upgrade already in progress")
		return nil, p.fail(startedAt, version, KindConflict, MsgInProgress, "")
	}
	if err != nil {
		logger.Error("Failed to acquire upgrade lease", "error", err)
		return nil, p.fail(startedAt, version, KindInternal, MsgLockFailed, err.Error())
	}

	return &Session{
		p:         p,
		version:   version,
		handle:    h,
		startedAt: startedAt,
		logger:    logger,
	}, nil
}

func (p *Pipeline) fail(startedAt time.Time, version string, kind Kind, msg, log string) *Outcome {
	return &Outcome{
		Message:    msg,
		Log:        log,
		Version:    version,
		Kind:       kind,
		StartedAt:  startedAt,
		FinishedAt: p.now(),
	}
}

// Session is an upgrade that holds the lease and has not run yet.
type Session struct {
	p         *Pipeline
	version   string
	handle    lease.Handle
	startedAt time.Time
	logger    *slog.Logger
	once      sync.Once
}

// Version returns the validated version the session upgrades to.
func (s *Session) Version() string {
	return s.version
}

// Execute checks the working tree and runs the steps. The lease is released
// before Execute returns. Commands are not cancelled with ctx; each is only
// bounded by its timeout. If the lease reports itself lost, the run stops
// before the next step.
func (s *Session) Execute(ctx context.Context) (out Outcome) {
	ctx = context.WithoutCancel(ctx)
	var transcript strings.Builder

	defer s.release(ctx)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Upgrade panicked", "panic", r, "stack", string(debug.Stack()))
			fmt.Fprintf(&transcript, "panic: %v\n", r)
			out = s.finish(KindInternal, MsgInternal, "", transcript.String())
		}
	}()

	clean, status, err := s.p.source.Clean(ctx)
	if err != nil {
		s.logger.Error("Failed to read repository state", "error", err)
		return s.finish(KindInternal, MsgStateUnknown, "", status)
	}
	if !clean {
		s.logger.Warn("Repository has local tracked changes")
		return s.finish(KindDirty, MsgDirty, "", status)
	}

	s.logger.Info("Upgrade started")
	lost := lease.Lost(s.handle)
	for _, step := range s.p.Plan(s.version) {
		select {
		case <-lost:
			s.logger.Error("Upgrade lease lost", "nextStep", step.Name)
			return s.finish(KindConflict, MsgLeaseLost, step.Name, transcript.String())
		default:
		}

		r := s.p.runner
		if step.tool {
			r = s.p.tools
		}

		s.p.observer.StepStarted(ctx, s.version, step.Name)
		res := r.Run(ctx, step.Command)
		s.p.observer.StepFinished(ctx, s.version, step.Name, res)

		line := step.Command.String()
		fmt.Fprintf(&transcript, "$ %s\n%s\n", line, res.Output)

		if !res.OK {
			s.logger.Error("Upgrade step failed",
				"step", step.Name, "exitCode", res.ExitCode, "timedOut", res.TimedOut, "duration", res.Duration)
			return s.finish(KindStep, fmt.Sprintf(msgStepFailed, line), step.Name, transcript.String())
		}
		s.logger.Info("Upgrade step finished", "step", step.Name, "duration", res.Duration)
	}

	s.logger.Info("Upgrade finished")
	return Outcome{
		OK:         true,
		Message:    fmt.Sprintf(msgSucceeded, s.version),
		Log:        transcript.String(),
		Version:    s.version,
		StartedAt:  s.startedAt,
		FinishedAt: s.p.now(),
	}
}

// Abort releases the lease without running anything.
func (s *Session) Abort(ctx context.Context) {
	s.release(ctx)
}

func (s *Session) release(ctx context.Context) {
	s.once.Do(func() {
		if err := s.handle.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("Failed to release upgrade lease", "error", err)
		}
	})
}

func (s *Session) finish(kind Kind, msg, step, log string) Outcome {
	return Outcome{
		Message:    msg,
		Log:        log,
		Version:    s.version,
		Kind:       kind,
		Step:       step,
		StartedAt:  s.startedAt,
		FinishedAt: s.p.now(),
	}
}
