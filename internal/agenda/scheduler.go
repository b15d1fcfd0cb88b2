package agenda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "daygrid/internal/log"
)

// Hook runs after every successful refresh, e.g. to capture a preview.
type Hook func(ctx context.Context) error

// Scheduler calls Service.Refresh on a cron spec. Overlapping runs are
// skipped rather than queued.
type Scheduler struct {
	svc   *Service
	cron  *cron.Cron
	hooks []Hook

	ctx    context.Context
	cancel context.CancelFunc
}

// cronLogger adapts the package logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

// NewScheduler parses spec (standard five fields) in loc.
func NewScheduler(svc *Service, spec string, loc *time.Location, hooks ...Hook) (*Scheduler, error) {
	if svc == nil {
		return nil, errors.New("agenda: scheduler needs a service")
	}
	if loc == nil {
		loc = svc.Location()
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{svc: svc, cron: c, hooks: hooks, ctx: ctx, cancel: cancel}

	if _, err := c.AddFunc(spec, s.run); err != nil {
		cancel()
		return nil, fmt.Errorf("agenda: refresh spec %q: %w", spec, err)
	}
	return s, nil
}

// RunOnce refreshes and runs the hooks synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if err := s.svc.Refresh(ctx); err != nil {
		return err
	}
	var errs []error
	for _, h := range s.hooks {
		if err := h(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) run() {
	if err := s.RunOnce(s.ctx); err != nil {
		appLog.Error("scheduled refresh failed", err)
	}
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("refresh scheduler started", "entries", len(s.cron.Entries()))
}

// Next is the time of the next scheduled refresh, zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop cancels a running refresh and waits for it to return, or for ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
