// Package scheduler runs periodic jobs on cron expressions in the worker process.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
)

// Job is a unit of scheduled work. It receives a context that is cancelled on
// Stop or after the job timeout.
type Job func(ctx context.Context)

// Scheduler wraps robfig/cron with a standard five-field parser, the local
// time zone and overlap protection.
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Jobs are bounded by timeout when it is positive.
func New(logger *slog.Logger, loc *time.Location, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser:  parser,
		logger:  logger,
		timeout: timeout,
		ctx:     context.Background(),
	}
}

// Add registers job under name on spec.
func (s *Scheduler) Add(name, spec string, job Job) error {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("op=scheduler.Add: %s: %w", name, err)
	}
	s.cron.Schedule(sched, cron.FuncJob(func() { s.run(name, job) }))
	s.logger.Info("scheduled job registered", slog.String("job", name), slog.String("spec", spec))
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	if base.Err() != nil {
		return
	}
	ctx := observability.ContextWithLogger(base, s.logger.With(slog.String("job", name)))
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	job(ctx)
	s.logger.Info("scheduled job finished", slog.String("job", name), slog.Duration("took", time.Since(start)))
}

// RunNow executes the named job synchronously outside the schedule.
func (s *Scheduler) RunNow(name string, job Job) { s.run(name, job) }

// Start begins firing jobs. Cancelling ctx cancels running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))
}

// Stop prevents new runs, cancels running ones and waits until they return
// or ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports when spec fires after from.
func (s *Scheduler) Next(spec string, from time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ logger *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
