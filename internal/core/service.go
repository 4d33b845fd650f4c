package core

import (
	"context"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/csvsync/internal/logging"
	"github.com/google/uuid"
)

// ServiceConfig holds the settings the service needs from the application
// configuration.
type ServiceConfig struct {
	CSVDir        string
	BackupDir     string
	RunTimeout    time.Duration
	MaxConcurrent int
	MaxWait       time.Duration
}

// Service runs imports, exports and backups against a store.
// It is the entry point shared by the CLI and the HTTP API.
type Service struct {
	store    Store
	registry *Registry
	cfg      ServiceConfig
	limiter  *RunLimiter
	recorder RunRecorder
	now      func() time.Time
}

// NewService creates a service. When store also implements RunRecorder,
// every run is written to its history.
func NewService(store Store, registry *Registry, cfg ServiceConfig) *Service {
	if registry == nil {
		registry = DefaultRegistry
	}
	s := &Service{
		store:    store,
		registry: registry,
		cfg:      cfg,
		limiter:  NewRunLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		now:      time.Now,
	}
	if rec, ok := store.(RunRecorder); ok {
		s.recorder = rec
	}
	return s
}

// Registry returns the definitions the service runs.
func (s *Service) Registry() *Registry { return s.registry }

// Limiter returns the run limiter, for status reporting and shutdown.
func (s *Service) Limiter() *RunLimiter { return s.limiter }

// Path resolves a definition file name against the CSV directory.
func (s *Service) Path(file string) string {
	if filepath.IsAbs(file) || s.cfg.CSVDir == "" {
		return file
	}
	return filepath.Join(s.cfg.CSVDir, file)
}

// RecentRuns returns the latest runs from the store's history.
// Stores without history return an empty list.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s.recorder == nil {
		return nil, nil
	}
	return s.recorder.RecentRuns(ctx, limit)
}

type activeRun struct {
	id      string
	kind    RunKind
	models  []string
	mode    Mode
	started time.Time
	cancel  context.CancelFunc
	release func()
}

// startRun takes a limiter slot and returns a context carrying the run's
// logger and timeout. finishRun must be called with the returned run.
func (s *Service) startRun(ctx context.Context, kind RunKind, models []string, mode Mode) (context.Context, *activeRun, error) {
	run := &activeRun{
		id:      uuid.NewString(),
		kind:    kind,
		models:  append([]string(nil), models...),
		mode:    mode,
		started: s.now(),
	}
	release, err := s.limiter.Acquire(ctx, RunSlot{ID: run.id, Kind: kind, Models: run.models, Started: run.started})
	if err != nil {
		return ctx, nil, err
	}
	run.release = release
	ctx = logging.WithRun(ctx, run.id, "kind", kind)
	if s.cfg.RunTimeout > 0 {
		ctx, run.cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
	}

	logging.FromContext(ctx).Info("run started", "models", models, "mode", mode)
	return ctx, run, nil
}

func (s *Service) finishRun(ctx context.Context, run *activeRun, rows int, committed bool, err error) {
	defer run.release()
	if run.cancel != nil {
		defer run.cancel()
	}

	logger := logging.FromContext(ctx)
	rec := RunRecord{
		ID:        run.id,
		Kind:      run.kind,
		Models:    run.models,
		Mode:      run.mode,
		Status:    RunStatusSucceeded,
		Rows:      rows,
		StartedAt: run.started,
		Duration:  s.now().Sub(run.started),
		Committed: committed,
	}
	if err != nil {
		rec.Status = RunStatusFailed
		rec.Error = err.Error()
		logger.Error("run failed", "error", err, "duration", rec.Duration)
	} else {
		logger.Info("run finished", "rows", rows, "committed", committed, "duration", rec.Duration)
	}

	if s.recorder == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.recorder.RecordRun(recCtx, rec); err != nil {
		logger.Warn("failed to record run", "error", err)
	}
}
