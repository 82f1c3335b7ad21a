package testutil

import (
	"context"
	"path"
	"sort"
	"sync"

	"pdrb/internal/pdr"
)

// MemoryDirectory is an in-memory pdr.ArchiveDirectory with failure injection.
// Safe for concurrent use.
type MemoryDirectory struct {
	mu    sync.RWMutex
	root  string
	files map[string][]byte

	EnsureErr error
	WriteErr  error
	// RemoveErr fails Remove and Purge for the named files.
	RemoveErr map[string]error
}

// NewMemoryDirectory creates an empty directory reported at root.
func NewMemoryDirectory(root string) *MemoryDirectory {
	return &MemoryDirectory{
		root:      root,
		files:     make(map[string][]byte),
		RemoveErr: make(map[string]error),
	}
}

func (d *MemoryDirectory) Ensure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.EnsureErr != nil {
		return d.EnsureErr
	}
	if _, ok := d.files[pdr.PlaceholderName]; !ok {
		d.files[pdr.PlaceholderName] = nil
	}
	return nil
}

func (d *MemoryDirectory) Path(name string) string {
	return path.Join(d.root, name)
}

func (d *MemoryDirectory) Exists(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.files[name]
	return ok
}

func (d *MemoryDirectory) Remove(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.RemoveErr[name]; err != nil {
		return err
	}
	delete(d.files, name)
	return nil
}

func (d *MemoryDirectory) Write(name string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.WriteErr != nil {
		return &pdr.IOError{Op: "write", Path: path.Join(d.root, name), Err: d.WriteErr}
	}
	d.files[name] = append([]byte(nil), data...)
	return nil
}

func (d *MemoryDirectory) Purge(ctx context.Context) (int, error) {
	if err := d.Ensure(); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	var firstErr error
	for name := range d.files {
		if name == pdr.PlaceholderName {
			continue
		}
		if err := d.RemoveErr[name]; err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(d.files, name)
		removed++
	}
	return removed, firstErr
}

// Read returns the contents of name.
func (d *MemoryDirectory) Read(name string) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.files[name]
	return data, ok
}

// Names returns every file name, placeholder included, sorted.
func (d *MemoryDirectory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ pdr.ArchiveDirectory = (*MemoryDirectory)(nil)
