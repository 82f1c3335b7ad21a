// Package housekeeping manages the on-disk directory that exported archives are written to.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"pdrb/internal/pdr"
)

// Directory is a filesystem implementation of pdr.ArchiveDirectory.
//
//	<root>/
//	  index.html   (empty placeholder, never removed)
//	  personal-data-request-backups-<ts>.json
type Directory struct {
	root   string
	logger pdr.Logger
}

// Entry describes one archive file.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// NewDirectory creates a Directory rooted at root. Nothing is created until Ensure.
func NewDirectory(root string, logger pdr.Logger) *Directory {
	return &Directory{root: root, logger: pdr.OrNop(logger)}
}

// Root returns the directory path.
func (d *Directory) Root() string {
	return d.root
}

// Ensure creates the directory and an empty placeholder. An existing placeholder is left as is.
func (d *Directory) Ensure() error {
	if err := os.MkdirAll(d.root, 0755); err != nil {
		return &pdr.IOError{Op: "mkdir", Path: d.root, Err: err}
	}

	placeholder := d.Path(pdr.PlaceholderName)
	f, err := os.OpenFile(placeholder, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return &pdr.IOError{Op: "create", Path: placeholder, Err: err}
	}
	if err := f.Close(); err != nil {
		return &pdr.IOError{Op: "close", Path: placeholder, Err: err}
	}
	return nil
}

// Path returns the path of name inside the directory.
func (d *Directory) Path(name string) string {
	return filepath.Join(d.root, name)
}

func (d *Directory) Exists(name string) bool {
	_, err := os.Stat(d.Path(name))
	return err == nil
}

func (d *Directory) Remove(name string) error {
	path := d.Path(name)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &pdr.IOError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// Write replaces name with data using atomic write (temp file + rename).
func (d *Directory) Write(name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	destPath := d.Path(name)

	// Temp file in the same directory so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(d.root, ".tmp-*")
	if err != nil {
		return &pdr.IOError{Op: "create", Path: d.root, Err: err}
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return &pdr.IOError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmpFile.Chmod(0644); err != nil {
		tmpFile.Close()
		return &pdr.IOError{Op: "chmod", Path: tmpPath, Err: err}
	}
	if err := tmpFile.Close(); err != nil {
		return &pdr.IOError{Op: "close", Path: tmpPath, Err: err}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return &pdr.IOError{Op: "rename", Path: destPath, Err: err}
	}

	success = true
	return nil
}

func validName(name string) error {
	if name == "" || name == pdr.PlaceholderName || filepath.Base(name) != name {
		return &pdr.ValidationError{Field: "file", Reason: fmt.Sprintf("%q is not a valid archive name", name)}
	}
	return nil
}

// List returns every file except the placeholder, oldest first.
func (d *Directory) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &pdr.IOError{Op: "readdir", Path: d.root, Err: err}
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || de.Name() == pdr.PlaceholderName {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue // removed since ReadDir
		}
		entries = append(entries, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	return entries, nil
}

// Purge removes every entry except the placeholder. Failures are logged and
// collected; the remaining entries are still attempted.
func (d *Directory) Purge(ctx context.Context) (int, error) {
	if err := d.Ensure(); err != nil {
		return 0, err
	}

	dirEntries, err := os.ReadDir(d.root)
	if err != nil {
		return 0, &pdr.IOError{Op: "readdir", Path: d.root, Err: err}
	}

	removed := 0
	var errs []error
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if de.Name() == pdr.PlaceholderName {
			continue
		}

		path := d.Path(de.Name())
		if err := os.RemoveAll(path); err != nil {
			d.logger.Warn("removing archive file", "path", path, "error", err)
			errs = append(errs, &pdr.IOError{Op: "remove", Path: path, Err: err})
			continue
		}
		removed++
	}

	if removed > 0 {
		d.logger.Info("purged archive directory", "dir", d.root, "removed", removed)
	}
	return removed, errors.Join(errs...)
}

var _ pdr.ArchiveDirectory = (*Directory)(nil)
