package pdr

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// StoreLock excludes other processes sharing the same record store.
type StoreLock interface {
	// Lock blocks until the lock is held or ctx is done. unlock must be called exactly once.
	Lock(ctx context.Context) (unlock func(), err error)
}

// categoryLocks is an exclusive advisory lock per category.
// Locks are always acquired in Categories order so concurrent holders cannot deadlock.
type categoryLocks struct {
	sems map[Category]*semaphore.Weighted
}

func newCategoryLocks() *categoryLocks {
	sems := make(map[Category]*semaphore.Weighted, len(Categories))
	for _, c := range Categories {
		sems[c] = semaphore.NewWeighted(1)
	}
	return &categoryLocks{sems: sems}
}

// acquire blocks until every requested category is held or ctx is done.
// The returned release func must be called exactly once.
func (l *categoryLocks) acquire(ctx context.Context, want ...Category) (func(), error) {
	wanted := make(map[Category]bool, len(want))
	for _, c := range want {
		wanted[c] = true
	}

	var held []*semaphore.Weighted
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}

	for _, c := range Categories {
		if !wanted[c] {
			continue
		}
		sem := l.sems[c]
		if err := sem.Acquire(ctx, 1); err != nil {
			release()
			return nil, fmt.Errorf("locking %s records: %w", c, err)
		}
		held = append(held, sem)
	}

	return release, nil
}

// lockStore takes the category locks and then the store lock, if one is configured.
// Waiting for the store lock is bounded by the store timeout.
func (e *Engine) lockStore(ctx context.Context) (func(), error) {
	release, err := e.locks.acquire(ctx, Categories...)
	if err != nil {
		return nil, err
	}
	if e.opts.StoreLock == nil {
		return release, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()
	unlock, err := e.opts.StoreLock.Lock(lockCtx)
	if err != nil {
		release()
		return nil, fmt.Errorf("locking record store: %w", err)
	}
	return func() {
		unlock()
		release()
	}, nil
}
