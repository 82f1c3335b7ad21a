package pdr

import (
	"context"
	"fmt"
	"time"
)

// Trigger names.
const (
	AutoExportTrigger = "pdr_cron_backup"
	CleanupTrigger    = "pdr_clean_files"
)

// Trigger recurrences.
const (
	Daily  = 24 * time.Hour
	Hourly = time.Hour
)

// TriggerSpec describes a recurring trigger: first fire at Start, then every Interval.
type TriggerSpec struct {
	Name     string
	Start    time.Time
	Interval time.Duration
}

// TriggerScheduler runs named recurring triggers.
type TriggerScheduler interface {
	// ScheduleRecurring registers a trigger. Scheduling a name that is already
	// scheduled is an error; callers check IsScheduled first.
	ScheduleRecurring(spec TriggerSpec, onFire func(ctx context.Context)) error

	// Cancel removes a trigger. Cancelling an unknown name is a no-op.
	Cancel(name string)

	IsScheduled(name string) bool

	// Next returns the next fire time of a scheduled trigger.
	Next(name string) (time.Time, bool)
}

// Reconciler brings the scheduled triggers in line with the persisted ScheduleConfig.
type Reconciler struct {
	scheduler TriggerScheduler
	settings  SettingsStore
	jobs      *Jobs
	clock     Clock
	logger    Logger
}

// NewReconciler creates a Reconciler that schedules the given jobs.
func NewReconciler(scheduler TriggerScheduler, settings SettingsStore, jobs *Jobs, clock Clock, logger Logger) *Reconciler {
	return &Reconciler{
		scheduler: scheduler,
		settings:  settings,
		jobs:      jobs,
		clock:     clock,
		logger:    OrNop(logger),
	}
}

// Reconcile schedules or cancels triggers to match the current config.
// Triggers already in their desired state are left untouched so their phase is kept.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	cfg, err := r.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading schedule config: %w", err)
	}

	now := r.clock.Now()
	scheduled := r.scheduler.IsScheduled(AutoExportTrigger)

	switch {
	case cfg.AutoExportEnabled && !scheduled:
		spec := TriggerSpec{Name: AutoExportTrigger, Start: now, Interval: Daily}
		if err := r.scheduler.ScheduleRecurring(spec, r.jobs.AutoExport); err != nil {
			return fmt.Errorf("scheduling auto-export: %w", err)
		}
		r.logger.Info("trigger scheduled", "trigger", AutoExportTrigger, "interval", Daily)
	case !cfg.AutoExportEnabled && scheduled:
		r.scheduler.Cancel(AutoExportTrigger)
		r.logger.Info("trigger cancelled", "trigger", AutoExportTrigger)
	}

	if !r.scheduler.IsScheduled(CleanupTrigger) {
		spec := TriggerSpec{Name: CleanupTrigger, Start: now.Add(Hourly), Interval: Hourly}
		if err := r.scheduler.ScheduleRecurring(spec, r.jobs.Cleanup); err != nil {
			return fmt.Errorf("scheduling cleanup: %w", err)
		}
		r.logger.Info("trigger scheduled", "trigger", CleanupTrigger, "interval", Hourly)
	}

	return nil
}
