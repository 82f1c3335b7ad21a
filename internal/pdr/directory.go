package pdr

import "context"

// PlaceholderName is the empty file that blocks directory listing of the archive directory.
const PlaceholderName = "index.html"

// ArchiveDirectory manages the directory exported archives are written to.
type ArchiveDirectory interface {
	// Ensure creates the directory and placeholder if they are missing.
	Ensure() error

	// Path returns the absolute path of name inside the directory.
	Path(name string) string

	Exists(name string) bool
	Remove(name string) error

	// Write creates or replaces name with data.
	Write(name string, data []byte) error

	// Purge removes every entry except the placeholder and returns the count removed.
	Purge(ctx context.Context) (int, error)
}
