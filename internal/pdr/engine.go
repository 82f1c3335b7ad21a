package pdr

import (
	"context"
	"fmt"
	"time"
)

// ArchivePrefix starts every archive file name.
const ArchivePrefix = "personal-data-request-backups-"

// archiveTimestamp is day-month-year-hour-minute-second.
const archiveTimestamp = "02012006-150405"

// JSONExtension is the extension of an uncompressed archive.
const JSONExtension = ".json"

// DefaultStoreTimeout bounds each RecordStore call.
const DefaultStoreTimeout = 30 * time.Second

// ImportPolicy decides what happens after the first per-record failure during import.
type ImportPolicy string

const (
	// BestEffort continues past failures and reports them all.
	BestEffort ImportPolicy = "best-effort"
	// AbortOnFirstFailure stops at the first failure.
	AbortOnFirstFailure ImportPolicy = "abort-on-first-failure"
)

// ParseImportPolicy accepts the configuration spelling of a policy. Empty means BestEffort.
func ParseImportPolicy(s string) (ImportPolicy, error) {
	switch ImportPolicy(s) {
	case "", BestEffort:
		return BestEffort, nil
	case AbortOnFirstFailure:
		return AbortOnFirstFailure, nil
	default:
		return "", fmt.Errorf("unknown import policy: %q", s)
	}
}

// EngineOptions configures an Engine. Zero values select the defaults.
type EngineOptions struct {
	// Container wraps exported archives; nil writes plain .json files.
	Container Container
	// Containers are the backends available for unwrapping uploads.
	Containers   []Container
	BaseURL      string
	StoreTimeout time.Duration
	Policy       ImportPolicy
	// StoreLock, when set, is held with the category locks for every export and import.
	StoreLock StoreLock
	// Location is the zone archive names are written in; nil keeps the clock's zone.
	Location *time.Location
}

// SnapshotResult describes a written archive.
type SnapshotResult struct {
	FileName string
	FilePath string
	FileURL  string
	Exports  int
	Erasures int
}

// Engine exports the record store to archive files and restores it from them.
type Engine struct {
	store   RecordStore
	codec   Codec
	dir     ArchiveDirectory
	clock   Clock
	logger  Logger
	metrics Metrics
	opts    EngineOptions
	locks   *categoryLocks
}

// NewEngine creates an Engine with the provided dependencies.
func NewEngine(store RecordStore, codec Codec, dir ArchiveDirectory, clock Clock, logger Logger, metrics Metrics, opts EngineOptions) *Engine {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Policy == "" {
		opts.Policy = BestEffort
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Engine{
		store:   store,
		codec:   codec,
		dir:     dir,
		clock:   clock,
		logger:  OrNop(logger),
		metrics: metrics,
		opts:    opts,
		locks:   newCategoryLocks(),
	}
}

// ArchiveName returns the file name of an archive created at t, in the engine's location.
func (e *Engine) ArchiveName(t time.Time) string {
	ext := JSONExtension
	if e.opts.Container != nil {
		ext = e.opts.Container.Extension()
	}
	if e.opts.Location != nil {
		t = t.In(e.opts.Location)
	}
	return ArchivePrefix + t.Format(archiveTimestamp) + ext
}

// Export snapshots both categories into a new archive file.
// A file with the same name (same-second export) is replaced.
func (e *Engine) Export(ctx context.Context) (res *SnapshotResult, err error) {
	start := time.Now()
	defer func() {
		records := 0
		if res != nil {
			records = res.Exports + res.Erasures
		}
		e.metrics.ObserveExport(time.Since(start), records, err)
	}()

	release, err := e.lockStore(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	exports, err := e.find(ctx, ExportRequest)
	if err != nil {
		return nil, err
	}
	erasures, err := e.find(ctx, ErasureRequest)
	if err != nil {
		return nil, err
	}

	data, err := e.codec.Encode(exports, erasures)
	if err != nil {
		return nil, fmt.Errorf("encoding archive: %w", err)
	}

	name := e.ArchiveName(e.clock.Now())
	if c := e.opts.Container; c != nil {
		entry := name[:len(name)-len(c.Extension())] + JSONExtension
		data, err = c.Wrap(entry, data)
		if err != nil {
			return nil, fmt.Errorf("wrapping archive in %s: %w", c.Name(), err)
		}
	}

	if err := e.dir.Ensure(); err != nil {
		return nil, fmt.Errorf("preparing archive directory: %w", err)
	}
	if e.dir.Exists(name) {
		if err := e.dir.Remove(name); err != nil {
			return nil, fmt.Errorf("replacing existing archive: %w", err)
		}
	}
	if err := e.dir.Write(name, data); err != nil {
		return nil, fmt.Errorf("writing archive: %w", err)
	}

	res = &SnapshotResult{
		FileName: name,
		FilePath: e.dir.Path(name),
		FileURL:  e.fileURL(name),
		Exports:  len(exports),
		Erasures: len(erasures),
	}
	e.logger.Info("archive exported", "file", name, "exports", res.Exports, "erasures", res.Erasures)
	return res, nil
}

func (e *Engine) fileURL(name string) string {
	if e.opts.BaseURL == "" {
		return ""
	}
	base := e.opts.BaseURL
	if base[len(base)-1] != '/' {
		base += "/"
	}
	return base + name
}

// find lists one category under the store timeout.
func (e *Engine) find(ctx context.Context, c Category) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	records, err := e.store.Find(ctx, c)
	if err != nil {
		return nil, &StoreError{Op: "find", Category: c, Index: -1, Err: err}
	}
	return records, nil
}
