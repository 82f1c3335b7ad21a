package database

import (
	"context"
	"fmt"
	"os"
	"time"
)

// LockSuffix names the advisory lock file kept next to the database file.
const LockSuffix = ".lock"

const (
	minLockBackoff = 10 * time.Millisecond
	maxLockBackoff = 500 * time.Millisecond
)

// Lock takes an exclusive advisory lock shared by every process using the same database file.
// In-memory databases are private to the process and get a no-op lock.
func (s *SQLiteDatabase) Lock(ctx context.Context) (func(), error) {
	if s.path == ":memory:" {
		return func() {}, nil
	}
	return lockFile(ctx, s.path+LockSuffix)
}

// lockFile polls for an exclusive flock on path until it is held or ctx is done.
func lockFile(ctx context.Context, path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	backoff := minLockBackoff
	for {
		ok, err := tryLock(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		if ok {
			return func() {
				unlock(f)
				f.Close()
			}, nil
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("waiting for %s: %w", path, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxLockBackoff)
	}
}
