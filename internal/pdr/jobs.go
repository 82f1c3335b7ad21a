package pdr

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// subjectTemplate is used for both the subject and the body of the backup mail.
const subjectTemplate = "Personal Data Request Backups - %s"

// Jobs holds what the recurring triggers do when they fire.
// Trigger bodies run one at a time.
type Jobs struct {
	mu       sync.Mutex
	engine   *Engine
	dir      ArchiveDirectory
	settings SettingsStore
	mailer   Mailer
	mirror   Mirror // optional
	siteURL  string
	hooks    Hooks
	idgen    IDGenerator
	logger   Logger
	metrics  Metrics
}

// JobsOptions configures Jobs.
type JobsOptions struct {
	Mirror  Mirror
	SiteURL string
	Hooks   Hooks
	IDGen   IDGenerator
	Metrics Metrics
}

// NewJobs creates the trigger jobs.
func NewJobs(engine *Engine, dir ArchiveDirectory, settings SettingsStore, mailer Mailer, logger Logger, opts JobsOptions) *Jobs {
	if opts.IDGen == nil {
		opts.IDGen = UUIDGenerator{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics{}
	}
	return &Jobs{
		engine:   engine,
		dir:      dir,
		settings: settings,
		mailer:   mailer,
		mirror:   opts.Mirror,
		siteURL:  opts.SiteURL,
		hooks:    opts.Hooks,
		idgen:    opts.IDGen,
		logger:   OrNop(logger),
		metrics:  opts.Metrics,
	}
}

// AutoExport is the auto-export trigger body. Errors are logged; the next fire retries.
func (j *Jobs) AutoExport(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.RunAutoExport(ctx)
	j.metrics.ObserveTrigger(AutoExportTrigger, err)
}

// RunAutoExport exports a new archive and mails it to the configured address.
func (j *Jobs) RunAutoExport(ctx context.Context) error {
	runID := j.idgen.New()
	j.logger.Info("trigger fired", "trigger", AutoExportTrigger, "run_id", runID)

	res, err := j.engine.Export(ctx)
	if err != nil {
		j.logger.Error("auto-export failed", "run_id", runID, "error", err)
		return err
	}

	cfg, err := j.settings.Load(ctx)
	if err != nil {
		j.logger.Error("loading schedule config", "run_id", runID, "error", err)
		return fmt.Errorf("loading schedule config: %w", err)
	}

	if cfg.NotifyEmail == "" {
		j.logger.Warn("no notification address configured, archive not mailed", "run_id", runID, "file", res.FileName)
	} else {
		msg := j.message(cfg.NotifyEmail, res)
		if err := j.mailer.Send(ctx, msg); err != nil {
			j.logger.Error("mailing archive failed", "run_id", runID, "to", msg.To, "error", err)
			return fmt.Errorf("mailing archive: %w", err)
		}
		j.logger.Info("archive mailed", "run_id", runID, "to", msg.To, "file", res.FileName)
	}

	if j.mirror != nil {
		if err := j.mirrorArchive(ctx, res); err != nil {
			j.logger.Warn("mirroring archive failed", "run_id", runID, "file", res.FileName, "error", err)
		}
	}

	return nil
}

func (j *Jobs) message(to string, res *SnapshotResult) Message {
	text := fmt.Sprintf(subjectTemplate, j.siteURL)
	return Message{
		To:          to,
		Subject:     applyFilters(text, j.hooks.Subject),
		Body:        applyFilters(text, j.hooks.Body),
		Attachments: []string{res.FilePath},
	}
}

func (j *Jobs) mirrorArchive(ctx context.Context, res *SnapshotResult) error {
	f, err := os.Open(res.FilePath)
	if err != nil {
		return &IOError{Op: "open", Path: res.FilePath, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &IOError{Op: "stat", Path: res.FilePath, Err: err}
	}

	return j.mirror.Put(ctx, res.FileName, f, info.Size())
}

// Cleanup is the cleanup trigger body.
func (j *Jobs) Cleanup(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	removed, err := j.dir.Purge(ctx)
	j.metrics.ObservePurge(removed, err)
	j.metrics.ObserveTrigger(CleanupTrigger, err)
	if err != nil {
		j.logger.Warn("cleanup finished with errors", "removed", removed, "error", err)
		return
	}
	j.logger.Debug("cleanup finished", "removed", removed)
}
