package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"time"

	"pdrb/internal/archive"
	"pdrb/internal/config"
	"pdrb/internal/database"
	"pdrb/internal/delivery"
	"pdrb/internal/housekeeping"
	"pdrb/internal/metrics"
	"pdrb/internal/pdr"
	"pdrb/internal/scheduler"
)

// ReconcileInterval is how often `run` re-reads the schedule settings, so changes made
// by other pdrb invocations reach the running scheduler.
const ReconcileInterval = time.Minute

// PDRApp is the application layer between the CLI and pdr.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw paths, and manages the store lifecycle on Close.
type PDRApp struct {
	cfg        *config.Config
	db         *database.SQLiteDatabase
	dir        *housekeeping.Directory
	engine     *pdr.Engine
	reconciler *pdr.Reconciler
	scheduler  *scheduler.CronScheduler
	metrics    *metrics.Recorder
	service    *pdr.Service
	mayOperate func() bool
	logger     pdr.Logger
	clock      pdr.Clock
	op         *Operation
	logFile    *os.File
}

// NewPDRApp creates a fully wired PDRApp from the given config.
// operation identifies the CLI command being run (e.g. "Export", "Run").
// The caller must call Close when done.
func NewPDRApp(ctx context.Context, cfg *config.Config, operation string) (*PDRApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	container, err := archive.LookupContainer(cfg.Archive.Container)
	if err != nil {
		return nil, fmt.Errorf("archive container: %w", err)
	}
	policy, err := pdr.ParseImportPolicy(cfg.Import.Policy)
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Import.Timeout()
	if err != nil {
		return nil, err
	}
	mayOperate, err := permitUsers(cfg.AllowedUsers)
	if err != nil {
		return nil, err
	}

	clock := pdr.RealClock{}
	op := NewOperation(operation, pdr.UUIDGenerator{}, clock)

	sl, logFile, err := newLogger(cfg.LogDir, level, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl}

	db, err := database.NewDatabaseFromConfig(cfg.Database, loc)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	mirror, err := delivery.NewMirrorFromConfig(ctx, cfg.Mirror)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating mirror: %w", err)
	}

	recorder := metrics.NewRecorder()
	dir := housekeeping.NewDirectory(cfg.Archive.Dir, logger)

	engine := pdr.NewEngine(db, archive.NewCodec(loc), dir, clock, logger, recorder, pdr.EngineOptions{
		Container:    container,
		Containers:   archive.Containers(),
		BaseURL:      cfg.Archive.BaseURL,
		StoreTimeout: timeout,
		Policy:       policy,
		Location:     loc,
		StoreLock:    db,
	})

	jobs := pdr.NewJobs(engine, dir, db, delivery.NewSMTPMailer(cfg.Mail), logger, pdr.JobsOptions{
		Mirror:  mirror,
		SiteURL: cfg.SiteURL,
		Metrics: recorder,
	})

	sched := scheduler.New(clock, logger)
	reconciler := pdr.NewReconciler(sched, db, jobs, clock, logger)
	svc := pdr.NewService(engine, db, reconciler, sched, dir, mayOperate, logger)

	logger.Debug("operation started", "operation", op.Name)

	return &PDRApp{
		cfg:        cfg,
		db:         db,
		dir:        dir,
		engine:     engine,
		reconciler: reconciler,
		scheduler:  sched,
		metrics:    recorder,
		service:    svc,
		mayOperate: mayOperate,
		logger:     logger,
		clock:      clock,
		op:         op,
		logFile:    logFile,
	}, nil
}

// permitUsers builds the permission predicate from the allowed user list.
// An empty list permits everyone.
func permitUsers(allowed []string) (func() bool, error) {
	if len(allowed) == 0 {
		return func() bool { return true }, nil
	}

	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("determining current user: %w", err)
	}
	ok := slices.Contains(allowed, u.Username)
	return func() bool { return ok }, nil
}

// Export writes a new archive now.
func (a *PDRApp) Export(ctx context.Context) (*pdr.SnapshotResult, error) {
	res, err := a.service.TriggerExport(ctx)
	return res, a.op.Track(err)
}

// Import reads the archive at rawPath and replaces the stored requests with it.
func (a *PDRApp) Import(ctx context.Context, rawPath string) (*pdr.ImportResult, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, a.op.Track(&pdr.IOError{Op: "read", Path: absPath, Err: err})
	}

	res, err := a.service.TriggerImport(ctx, pdr.Upload{FileName: filepath.Base(absPath), Content: content})
	return res, a.op.Track(err)
}

// GetSettings returns the persisted schedule settings.
func (a *PDRApp) GetSettings(ctx context.Context) (pdr.ScheduleConfig, error) {
	cfg, err := a.service.GetConfig(ctx)
	return cfg, a.op.Track(err)
}

// UpdateSettings validates and persists the schedule settings.
func (a *PDRApp) UpdateSettings(ctx context.Context, cfg pdr.ScheduleConfig) error {
	return a.op.Track(a.service.UpdateConfig(ctx, cfg))
}

// ListArchives returns the archive files currently on disk, oldest first.
func (a *PDRApp) ListArchives() ([]housekeeping.Entry, error) {
	if !a.mayOperate() {
		return nil, a.op.Track(pdr.ErrNotPermitted)
	}
	entries, err := a.dir.List()
	return entries, a.op.Track(err)
}

// ArchiveDir returns the directory archives are written to.
func (a *PDRApp) ArchiveDir() string {
	return a.dir.Root()
}

// Purge removes every archive file now.
func (a *PDRApp) Purge(ctx context.Context) (int, error) {
	n, err := a.service.PurgeArchives(ctx)
	return n, a.op.Track(err)
}

// Uninstall cancels the triggers and removes the archive files unless settings retain them.
func (a *PDRApp) Uninstall(ctx context.Context) (int, error) {
	n, err := a.service.Uninstall(ctx)
	return n, a.op.Track(err)
}

// TriggerStatus reports when a scheduled trigger fires next.
type TriggerStatus struct {
	Name string
	Next time.Time
}

// Triggers returns the scheduled triggers of this process, sorted by name.
func (a *PDRApp) Triggers() []TriggerStatus {
	names := a.scheduler.Names()
	slices.Sort(names)

	out := make([]TriggerStatus, 0, len(names))
	for _, name := range names {
		if next, ok := a.scheduler.Next(name); ok {
			out = append(out, TriggerStatus{Name: name, Next: next})
		}
	}
	return out
}

// Run reconciles the triggers, starts the scheduler and serves metrics until ctx is done.
func (a *PDRApp) Run(ctx context.Context) error {
	if !a.mayOperate() {
		return a.op.Track(pdr.ErrNotPermitted)
	}
	if err := a.reconciler.Reconcile(ctx); err != nil {
		return a.op.Track(fmt.Errorf("reconciling triggers: %w", err))
	}

	a.scheduler.Start()
	defer a.scheduler.Stop()

	for _, t := range a.Triggers() {
		a.logger.Info("trigger pending", "trigger", t.Name, "next", t.Next.Format(time.RFC3339))
	}

	serveErr := make(chan error, 1)
	var srv *http.Server
	if addr := a.cfg.Metrics.Listen; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
		a.logger.Info("serving metrics", "addr", addr)
	}

	ticker := time.NewTicker(ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn("metrics server shutdown", "error", err)
				}
				cancel()
			}
			return nil
		case err := <-serveErr:
			return a.op.Track(fmt.Errorf("metrics endpoint: %w", err))
		case <-ticker.C:
			if err := a.reconciler.Reconcile(ctx); err != nil {
				a.logger.Warn("reconciling triggers", "error", err)
			}
		}
	}
}

// Close logs the operation outcome and closes all resources.
func (a *PDRApp) Close() error {
	var firstErr error

	if a.op.Failed() {
		a.logger.Error("operation failed", "operation", a.op.Name,
			"elapsed", a.op.Elapsed(a.clock), "error", a.op.Err)
	} else {
		a.logger.Info("operation finished", "operation", a.op.Name, "elapsed", a.op.Elapsed(a.clock))
	}

	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
