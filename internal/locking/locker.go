/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package locking provides the exclusive technician-day locks held while a
// schedule is validated and committed.
package locking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/friendsincode/torque/internal/telemetry"
)

// ErrTimeout is returned when a lock could not be acquired before the deadline.
var ErrTimeout = errors.New("lock acquisition timed out")

const keyPrefix = "torque:lock:"

// Lease is a set of held locks.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires a set of named locks atomically from the caller's point of view:
// either every key is held or none is.
type Locker interface {
	Acquire(ctx context.Context, keys []string, timeout time.Duration) (Lease, error)
	Backend() string
}

// TechnicianDayKey names the lock guarding one technician's calendar date.
func TechnicianDayKey(technicianID string, day time.Time) string {
	return fmt.Sprintf("tech:%s:%s", technicianID, day.Format("2006-01-02"))
}

// normalize sorts and dedupes keys so every caller acquires in the same order.
func normalize(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

// AcquireAll acquires keys with l and records the wait.
func AcquireAll(ctx context.Context, l Locker, keys []string, timeout time.Duration) (Lease, error) {
	start := time.Now()
	lease, err := l.Acquire(ctx, normalize(keys), timeout)
	outcome := "acquired"
	switch {
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	telemetry.LockWaitDuration.WithLabelValues(l.Backend(), outcome).Observe(time.Since(start).Seconds())
	return lease, err
}
