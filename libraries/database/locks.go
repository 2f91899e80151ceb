// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package database

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// idLocks serializes writers of the same document id while writers of
// different ids proceed concurrently. Lock respects context cancelation.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	sema *semaphore.Weighted
	refs int
}

func newIDLocks() *idLocks {
	return &idLocks{locks: make(map[string]*idLock)}
}

func (l *idLocks) Lock(ctx context.Context, id string) error {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &idLock{sema: semaphore.NewWeighted(1)}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	if err := lock.sema.Acquire(ctx, 1); err != nil {
		l.release(id, lock)
		return err
	}
	return nil
}

func (l *idLocks) Unlock(id string) {
	l.mu.Lock()
	lock := l.locks[id]
	l.mu.Unlock()

	lock.sema.Release(1)
	l.release(id, lock)
}

func (l *idLocks) release(id string, lock *idLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, id)
	}
}
