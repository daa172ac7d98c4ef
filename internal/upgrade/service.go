// Package upgrade runs pipeline upgrades on behalf of authorized callers and
// records, archives and announces their results.
package upgrade

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"upgrader/internal/access"
	"upgrader/internal/apperrors"
	"upgrader/internal/archive"
	"upgrader/internal/history"
	"upgrader/internal/notify"
	"upgrader/internal/pipeline"
	"upgrader/internal/settings"
	"upgrader/internal/vcs"

	"github.com/oklog/ulid/v2"
)

var errShuttingDown = apperrors.Conflict("upgrade", "service is shutting down")

// MetricsRecorder is an optional interface for recording upgrade metrics.
type MetricsRecorder interface {
	RecordUpgradeStarted(ctx context.Context)
	RecordUpgradeFinished(ctx context.Context, kind string, durationSeconds float64)
	RecordUpgradeRejected(ctx context.Context, kind string)
}

// Deps wires a Service. Pipeline, Source and Guard are required.
type Deps struct {
	Pipeline     *pipeline.Pipeline
	Source       vcs.Source
	Guard        *access.Guard
	Settings     settings.Store   // nil: no db-version reporting
	History      history.Store    // nil: in-memory history
	Sink         notify.Sink      // nil: notifications discarded
	Archive      archive.Archiver // nil: transcripts not archived
	Metrics      MetricsRecorder  // nil: no metrics
	AppDBVersion string           // Schema version shipped with the running code
}

// Service starts upgrades and answers questions about them.
type Service struct {
	pipeline     *pipeline.Pipeline
	source       vcs.Source
	guard        *access.Guard
	settings     settings.Store
	history      history.Store
	sink         notify.Sink
	archive      archive.Archiver
	metrics      MetricsRecorder
	appDBVersion string
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	active   atomic.Int32
}

// NewService creates an upgrade service.
func NewService(d Deps) *Service {
	s := &Service{
		pipeline:     d.Pipeline,
		source:       d.Source,
		guard:        d.Guard,
		settings:     d.Settings,
		history:      d.History,
		sink:         d.Sink,
		archive:      d.Archive,
		metrics:      d.Metrics,
		appDBVersion: d.AppDBVersion,
		logger:       slog.With("component", "upgrade"),
		now:          time.Now,
	}
	if s.history == nil {
		s.history = history.NewMemory(0)
	}
	if s.sink == nil {
		s.sink = notify.Discard
	}
	if s.settings == nil {
		s.settings = settings.Static{}
	}
	return s
}

// Start authorizes the caller, validates version and takes the upgrade lease
// before returning. The remaining steps run in the background; poll Get with
// the returned run's ID. Rejections are returned as errors together with the
// recorded failed run.
func (s *Service) Start(ctx context.Context, id *access.Identity, version string) (history.Run, error) {
	run, sess, err := s.begin(ctx, id, version)
	if sess == nil {
		return run, err
	}

	go func() {
		defer s.inflight.Done()
		s.execute(context.WithoutCancel(ctx), run, sess)
	}()
	return run, nil
}

// RunSync is Start followed by waiting for the outcome. A failed outcome is
// returned as an apperrors error carrying the outcome message.
func (s *Service) RunSync(ctx context.Context, id *access.Identity, version string) (history.Run, error) {
	run, sess, err := s.begin(ctx, id, version)
	if sess == nil {
		return run, err
	}

	defer s.inflight.Done()
	run = s.execute(context.WithoutCancel(ctx), run, sess)
	return run, OutcomeError(*run.Outcome)
}

// begin authorizes and runs the pipeline checks. A returned session is
// already counted in inflight; the caller must call inflight.Done after it runs.
func (s *Service) begin(ctx context.Context, id *access.Identity, version string) (history.Run, *pipeline.Session, error) {
	if err := s.guard.Authorize(ctx, id); err != nil {
		s.logger.Warn("Upgrade denied", "requester", subject(id), "error", err)
		return history.Run{}, nil, err
	}

	if s.isClosed() {
		return history.Run{}, nil, errShuttingDown
	}

	now := s.now()
	run := history.Run{
		ID:        ulid.Make().String(),
		Version:   version,
		State:     history.StateAccepted,
		Requester: subject(id),
		CreatedAt: now,
		UpdatedAt: now,
	}
	logger := s.logger.With("runId", run.ID, "requester", run.Requester)

	sess, out := s.pipeline.Begin(ctx, version)
	if out != nil {
		logger.Warn("Upgrade rejected", "kind", out.Kind, "message", out.Message)
		if s.metrics != nil {
			s.metrics.RecordUpgradeRejected(ctx, string(out.Kind))
		}
		run = s.complete(context.WithoutCancel(ctx), run, *out)
		return run, nil, OutcomeError(*out)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sess.Abort(ctx)
		return history.Run{}, nil, errShuttingDown
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	run.Version = sess.Version()
	if err := s.history.Put(ctx, run); err != nil {
		logger.Error("Failed to record run", "error", err)
		sess.Abort(ctx)
		s.inflight.Done()
		return run, nil, apperrors.Internal("history.put", err)
	}
	if s.metrics != nil {
		s.metrics.RecordUpgradeStarted(ctx)
	}
	s.active.Add(1)
	logger.Info("Upgrade accepted", "version", run.Version)
	return run, sess, nil
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Service) execute(ctx context.Context, run history.Run, sess *pipeline.Session) history.Run {
	defer s.active.Add(-1)

	run.State = history.StateRunning
	run.UpdatedAt = s.now()
	if err := s.history.Put(ctx, run); err != nil {
		s.logger.Error("Failed to record run", "runId", run.ID, "error", err)
	}

	out := sess.Execute(ctx)
	if s.metrics != nil {
		s.metrics.RecordUpgradeFinished(ctx, string(out.Kind), out.Duration().Seconds())
	}
	return s.complete(ctx, run, out)
}

// complete records a terminal outcome: archive, history, notification, cache.
func (s *Service) complete(ctx context.Context, run history.Run, out pipeline.Outcome) history.Run {
	logger := s.logger.With("runId", run.ID, "version", out.Version)

	run.Outcome = &out
	run.State = history.StateFailed
	if out.OK {
		run.State = history.StateSucceeded
	}
	if out.Version != "" {
		run.Version = out.Version
	}

	if s.archive != nil && out.Log != "" {
		key, err := s.archive.Store(ctx, run.ID, out.Log)
		if err != nil {
			logger.Warn("Failed to archive transcript", "error", err)
		} else {
			run.ArchiveKey = key
		}
	}

	run.UpdatedAt = s.now()
	if err := s.history.Put(ctx, run); err != nil {
		logger.Error("Failed to record run", "error", err)
	}

	severity := notify.SeverityError
	if out.OK {
		severity = notify.SeverityInfo
	}
	if err := s.sink.Notify(ctx, notify.Notification{
		Severity: severity,
		Message:  out.Message,
		RunID:    run.ID,
		Version:  run.Version,
		Time:     run.UpdatedAt,
	}); err != nil {
		logger.Warn("Failed to deliver notification", "error", err)
	}

	if inv, ok := s.source.(interface{ Invalidate() }); ok && out.Kind != pipeline.KindValidation {
		inv.Invalidate()
	}

	if out.OK {
		logger.Info("Upgrade succeeded", "duration", out.Duration())
	} else {
		logger.Warn("Upgrade failed", "kind", out.Kind, "step", out.Step, "message", out.Message)
	}
	return run
}

// Authorize reports whether id may use the upgrade endpoints.
func (s *Service) Authorize(ctx context.Context, id *access.Identity) error {
	return s.guard.Authorize(ctx, id)
}

// Get returns a run by ID.
func (s *Service) Get(ctx context.Context, id string) (history.Run, error) {
	return s.history.Get(ctx, id)
}

// List returns recent runs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]history.Run, error) {
	return s.history.List(ctx, limit)
}

// Versions returns up to limit release tags, newest first.
func (s *Service) Versions(ctx context.Context, limit int) []string {
	return s.source.ListVersions(ctx, limit)
}

// Close stops accepting upgrades and waits for running ones until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Shutdown with upgrades still running", "active", s.active.Load())
		return ctx.Err()
	}
}

func subject(id *access.Identity) string {
	if id == nil {
		return ""
	}
	return id.Subject
}
