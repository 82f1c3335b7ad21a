package pdr

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// Upload is an archive file handed in by an operator.
type Upload struct {
	FileName string
	Content  []byte
}

// ImportResult counts what an import changed.
type ImportResult struct {
	ExportsImported  int
	ErasuresImported int
	Deleted          int
	Failures         []*StoreError
}

// Inserted returns the total number of records inserted.
func (r *ImportResult) Inserted() int {
	return r.ExportsImported + r.ErasuresImported
}

// Import replaces every export and erasure record in the store with the archive's contents.
//
// The upload is validated and fully decoded before the store is touched. After that the
// current records are deleted and the archive records inserted without a transaction;
// any failure from that point on is reported as a *PartialImportError alongside the
// partial result.
func (e *Engine) Import(ctx context.Context, upload Upload) (res *ImportResult, err error) {
	defer func() {
		inserted, failed := 0, 0
		if res != nil {
			inserted, failed = res.Inserted(), len(res.Failures)
		}
		e.metrics.ObserveImport(inserted, failed, err)
	}()

	payload, err := e.unpack(upload)
	if err != nil {
		return nil, err
	}

	archive, rejected, err := e.codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	if len(rejected) > 0 && e.opts.Policy == AbortOnFirstFailure {
		errs := make([]error, len(rejected))
		for i, r := range rejected {
			errs[i] = r
		}
		return nil, &DecodeError{Stage: DecodeRecords, Err: errors.Join(errs...)}
	}

	release, err := e.lockStore(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	res = &ImportResult{Failures: rejected}
	e.logger.Info("import started", "file", upload.FileName,
		"exports", len(archive.Exports), "erasures", len(archive.Erasures))

	if err := e.wipe(ctx, res); err != nil {
		return res, err
	}

	for _, c := range Categories {
		if err := e.restore(ctx, c, archive.Records(c), res); err != nil {
			return res, err
		}
	}

	if len(res.Failures) > 0 {
		e.logger.Warn("import finished with failures", "inserted", res.Inserted(), "failures", len(res.Failures))
		return res, e.partial(res)
	}

	e.logger.Info("import complete", "deleted", res.Deleted,
		"exports", res.ExportsImported, "erasures", res.ErasuresImported)
	return res, nil
}

// unpack validates the upload and strips an optional container.
func (e *Engine) unpack(upload Upload) ([]byte, error) {
	if strings.TrimSpace(upload.FileName) == "" {
		return nil, &ValidationError{Field: "file", Reason: "no file name given"}
	}
	if len(bytes.TrimSpace(upload.Content)) == 0 {
		return nil, &ValidationError{Field: "file", Reason: "file is empty"}
	}

	ext := strings.ToLower(filepath.Ext(upload.FileName))
	if ext == JSONExtension {
		return upload.Content, nil
	}
	for _, c := range e.opts.Containers {
		if ext == c.Extension() {
			payload, err := c.Unwrap(upload.Content)
			if err != nil {
				return nil, &DecodeError{Stage: DecodeContainer, Err: err}
			}
			return payload, nil
		}
	}

	return nil, &ValidationError{Field: "file", Reason: "expected a " + strings.Join(e.acceptedExtensions(), " or ") + " file"}
}

func (e *Engine) acceptedExtensions() []string {
	exts := []string{JSONExtension}
	for _, c := range e.opts.Containers {
		exts = append(exts, c.Extension())
	}
	return exts
}

// wipe deletes every current record in both categories.
// A failed listing stops the import: records that cannot be listed cannot be replaced.
func (e *Engine) wipe(ctx context.Context, res *ImportResult) error {
	for _, c := range Categories {
		existing, err := e.find(ctx, c)
		if err != nil {
			var storeErr *StoreError
			if res.Deleted == 0 || !errors.As(err, &storeErr) {
				return err
			}
			res.Failures = append(res.Failures, storeErr)
			return e.partial(res)
		}

		for i := range existing {
			id := existing[i].ID
			if err := e.delete(ctx, id); err != nil {
				res.Failures = append(res.Failures, &StoreError{Op: "delete", Category: c, Index: -1, RecordID: id, Err: err})
				if e.opts.Policy == AbortOnFirstFailure {
					return e.partial(res)
				}
				continue
			}
			res.Deleted++
		}
	}
	return nil
}

// restore inserts records as category c, preserving archive order.
func (e *Engine) restore(ctx context.Context, c Category, records []Record, res *ImportResult) error {
	for i, r := range records {
		r.ID = 0
		r.Slug = c.Slug()

		if _, err := e.insert(ctx, r); err != nil {
			res.Failures = append(res.Failures, &StoreError{Op: "insert", Category: c, Index: i, Err: err})
			if e.opts.Policy == AbortOnFirstFailure {
				return e.partial(res)
			}
			continue
		}

		switch c {
		case ExportRequest:
			res.ExportsImported++
		case ErasureRequest:
			res.ErasuresImported++
		}
	}
	return nil
}

func (e *Engine) partial(res *ImportResult) error {
	return &PartialImportError{Deleted: res.Deleted, Inserted: res.Inserted(), Failures: res.Failures}
}

func (e *Engine) insert(ctx context.Context, r Record) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()
	return e.store.Insert(ctx, r)
}

func (e *Engine) delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()
	return e.store.Delete(ctx, id)
}
