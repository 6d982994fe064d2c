package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "taskcal/internal/log"
)

var ErrSchedulerStopped = errors.New("reminder: scheduler stopped")

// Scheduler runs named jobs on cron specs. Jobs receive a context that is
// cancelled when the scheduler stops.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
}

func NewScheduler(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers fn under a standard five-field cron spec. A job that is
// still running when its next tick arrives is skipped for that tick, and a
// panicking job is logged without taking the scheduler down.
func (s *Scheduler) AddJob(name, spec string, fn func(context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}

	job := jobChain(name).Then(cron.FuncJob(func() { fn(s.ctx) }))
	if _, err := s.cron.AddJob(spec, job); err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", name, spec, err)
	}
	appLog.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

func jobChain(name string) cron.Chain {
	l := cronLogger{job: name}
	return cron.NewChain(cron.Recover(l), cron.SkipIfStillRunning(l))
}

// cronLogger forwards cron's wrapper logs to the app logger, tagged with
// the job name.
type cronLogger struct {
	job string
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Warn("job "+msg, append([]any{"job", l.job}, kv...)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("job "+msg, err, append([]any{"job", l.job}, kv...)...)
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop prevents new runs, cancels the job context and waits for running
// jobs or ctx, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
