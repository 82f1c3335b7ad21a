package pdr

import (
	"context"
	"fmt"
)

// Service is the command surface offered to the admin front end.
// Every command is gated by the injected mayOperate predicate.
type Service struct {
	engine     *Engine
	settings   SettingsStore
	reconciler *Reconciler
	scheduler  TriggerScheduler
	dir        ArchiveDirectory
	mayOperate func() bool
	logger     Logger
}

// NewService creates the command surface. A nil mayOperate denies everything.
func NewService(engine *Engine, settings SettingsStore, reconciler *Reconciler, scheduler TriggerScheduler, dir ArchiveDirectory, mayOperate func() bool, logger Logger) *Service {
	return &Service{
		engine:     engine,
		settings:   settings,
		reconciler: reconciler,
		scheduler:  scheduler,
		dir:        dir,
		mayOperate: mayOperate,
		logger:     OrNop(logger),
	}
}

func (s *Service) authorize() error {
	if s.mayOperate == nil || !s.mayOperate() {
		return ErrNotPermitted
	}
	return nil
}

// TriggerExport writes a new archive on demand.
func (s *Service) TriggerExport(ctx context.Context) (*SnapshotResult, error) {
	if err := s.authorize(); err != nil {
		return nil, err
	}
	return s.engine.Export(ctx)
}

// TriggerImport replaces the stored requests with the uploaded archive.
func (s *Service) TriggerImport(ctx context.Context, upload Upload) (*ImportResult, error) {
	if err := s.authorize(); err != nil {
		return nil, err
	}
	return s.engine.Import(ctx, upload)
}

// UpdateConfig validates and persists cfg, then reconciles the triggers against it.
func (s *Service) UpdateConfig(ctx context.Context, cfg ScheduleConfig) error {
	if err := s.authorize(); err != nil {
		return err
	}

	cfg, err := cfg.Normalize()
	if err != nil {
		return err
	}

	if err := s.settings.Save(ctx, cfg); err != nil {
		return fmt.Errorf("saving schedule config: %w", err)
	}
	s.logger.Info("schedule config updated", "auto_export", cfg.AutoExportEnabled,
		"retain_files", cfg.RetainFilesAfterUninstall)

	return s.reconciler.Reconcile(ctx)
}

// GetConfig returns the persisted schedule config.
func (s *Service) GetConfig(ctx context.Context) (ScheduleConfig, error) {
	if err := s.authorize(); err != nil {
		return ScheduleConfig{}, err
	}
	return s.settings.Load(ctx)
}

// Uninstall cancels both triggers, removes archive files unless configured to keep them
// and deletes the persisted settings. It returns the number of files removed.
func (s *Service) Uninstall(ctx context.Context) (int, error) {
	if err := s.authorize(); err != nil {
		return 0, err
	}

	s.scheduler.Cancel(AutoExportTrigger)
	s.scheduler.Cancel(CleanupTrigger)

	cfg, err := s.settings.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading schedule config: %w", err)
	}
	removed := 0
	if cfg.RetainFilesAfterUninstall {
		s.logger.Info("uninstall keeping archive files")
	} else {
		removed, err = s.dir.Purge(ctx)
		if err != nil {
			return removed, fmt.Errorf("removing archive files: %w", err)
		}
		s.logger.Info("uninstall removed archive files", "removed", removed)
	}

	if err := s.settings.Clear(ctx); err != nil {
		return removed, fmt.Errorf("clearing schedule config: %w", err)
	}
	return removed, nil
}

// PurgeArchives removes every archive file now, as the cleanup trigger would.
func (s *Service) PurgeArchives(ctx context.Context) (int, error) {
	if err := s.authorize(); err != nil {
		return 0, err
	}
	removed, err := s.dir.Purge(ctx)
	if err != nil {
		return removed, fmt.Errorf("removing archive files: %w", err)
	}
	return removed, nil
}
