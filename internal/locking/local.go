/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package locking

import (
	"context"
	"sync"
	"time"
)

// LocalLocker serializes lock holders within one process. It is used when Redis
// is not configured and in tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

// Backend implements Locker.
func (l *LocalLocker) Backend() string { return "local" }

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, keys []string, timeout time.Duration) (Lease, error) {
	keys = normalize(keys)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if l.tryAcquire(keys) {
			return &localLease{locker: l, keys: keys}, nil
		}

		l.mu.Lock()
		var wait chan struct{}
		for _, k := range keys {
			if ch, ok := l.held[k]; ok {
				wait = ch
				break
			}
		}
		l.mu.Unlock()
		if wait == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrTimeout
		case <-wait:
		}
	}
}

func (l *LocalLocker) tryAcquire(keys []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if _, ok := l.held[k]; ok {
			return false
		}
	}
	for _, k := range keys {
		l.held[k] = make(chan struct{})
	}
	return true
}

type localLease struct {
	locker *LocalLocker
	keys   []string
	once   sync.Once
}

func (ll *localLease) Release(context.Context) error {
	ll.once.Do(func() {
		ll.locker.mu.Lock()
		defer ll.locker.mu.Unlock()
		for _, k := range ll.keys {
			if ch, ok := ll.locker.held[k]; ok {
				close(ch)
				delete(ll.locker.held, k)
			}
		}
	})
	return nil
}
