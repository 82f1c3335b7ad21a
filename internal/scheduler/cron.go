// Package scheduler runs the recurring backup triggers on robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pdrb/internal/pdr"
)

// CronScheduler implements pdr.TriggerScheduler.
// Triggers may be scheduled before or after Start.
type CronScheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]entry // trigger name → cron entry
	clock   pdr.Clock
	logger  pdr.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type entry struct {
	id       cron.EntryID
	schedule *intervalSchedule
}

// New creates a scheduler. Fires of a trigger that is still running are skipped.
func New(clock pdr.Clock, logger pdr.Logger) *CronScheduler {
	logger = pdr.OrNop(logger)
	cl := cronLogger{logger}
	ctx, cancel := context.WithCancel(context.Background())

	return &CronScheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		entries: make(map[string]entry),
		clock:   clock,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ScheduleRecurring registers spec. onFire receives a context that is cancelled by Stop.
func (s *CronScheduler) ScheduleRecurring(spec pdr.TriggerSpec, onFire func(ctx context.Context)) error {
	if spec.Name == "" {
		return fmt.Errorf("trigger name required")
	}
	if spec.Interval <= 0 {
		return fmt.Errorf("trigger %s: interval must be positive", spec.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[spec.Name]; exists {
		return fmt.Errorf("trigger %s already scheduled", spec.Name)
	}

	sched := newIntervalSchedule(spec.Start, spec.Interval)
	name := spec.Name
	id := s.cron.Schedule(sched, cron.FuncJob(func() {
		s.logger.Debug("trigger running", "trigger", name)
		onFire(s.ctx)
	}))
	s.entries[name] = entry{id: id, schedule: sched}

	s.logger.Debug("trigger registered", "trigger", name, "start", spec.Start, "interval", spec.Interval)
	return nil
}

// Cancel removes the trigger. A run already in progress is not interrupted.
func (s *CronScheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)
	s.logger.Debug("trigger removed", "trigger", name)
}

func (s *CronScheduler) IsScheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

// Next returns the next fire time of name.
func (s *CronScheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}

	if next := s.cron.Entry(e.id).Next; !next.IsZero() {
		return next, true
	}
	// Not started yet.
	return e.schedule.peek(s.clock.Now()), true
}

// Names returns the scheduled trigger names.
func (s *CronScheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Start begins running triggers in the background.
func (s *CronScheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "triggers", len(s.Names()))
}

// Stop cancels the context handed to running triggers and waits for them to return.
func (s *CronScheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

var _ pdr.TriggerScheduler = (*CronScheduler)(nil)

// cronLogger adapts pdr.Logger to cron.Logger.
type cronLogger struct {
	l pdr.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
