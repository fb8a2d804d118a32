/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/torque/internal/events"
	"github.com/friendsincode/torque/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&models.Booking{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedBooking(t *testing.T, db *gorm.DB, id string, start, end time.Time, status models.BookingStatus) {
	t.Helper()
	b := models.Booking{
		ID:                   id,
		WorkOrderID:          "wo-" + id,
		TechnicianID:         "tech-x",
		StartsAt:             start,
		EndsAt:               end,
		DurationMinutes:      int(end.Sub(start).Minutes()),
		Status:               status,
		SequenceNumber:       1,
		TotalDurationMinutes: int(end.Sub(start).Minutes()),
	}
	if err := db.Create(&b).Error; err != nil {
		t.Fatalf("seed booking: %v", err)
	}
}

func statusOf(t *testing.T, db *gorm.DB, id string) models.BookingStatus {
	t.Helper()
	var b models.Booking
	if err := db.First(&b, "id = ?", id).Error; err != nil {
		t.Fatalf("load booking: %v", err)
	}
	return b.Status
}

func TestSweepAdvancesStatuses(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	seedBooking(t, db, "future", now.Add(time.Hour), now.Add(2*time.Hour), models.BookingScheduled)
	seedBooking(t, db, "running", now.Add(-time.Hour), now.Add(time.Hour), models.BookingScheduled)
	seedBooking(t, db, "finished", now.Add(-3*time.Hour), now.Add(-time.Hour), models.BookingScheduled)
	seedBooking(t, db, "was-running", now.Add(-2*time.Hour), now, models.BookingInProgress)
	seedBooking(t, db, "cancelled", now.Add(-2*time.Hour), now.Add(-time.Hour), models.BookingCancelled)

	bus := events.NewBus()
	sub := bus.Subscribe(events.EventBookingStatus)
	defer bus.Unsubscribe(events.EventBookingStatus, sub)

	s := NewSweeper(db, bus, time.Minute, zerolog.Nop())
	applied, err := s.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(applied) != 3 {
		t.Fatalf("expected 3 transitions, got %d: %+v", len(applied), applied)
	}

	want := map[string]models.BookingStatus{
		"future":      models.BookingScheduled,
		"running":     models.BookingInProgress,
		"finished":    models.BookingCompleted,
		"was-running": models.BookingCompleted,
		"cancelled":   models.BookingCancelled,
	}
	for id, status := range want {
		if got := statusOf(t, db, id); got != status {
			t.Errorf("%s: status = %s, want %s", id, got, status)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case p := <-sub:
			if p["to"] == "" || p["booking_id"] == "" {
				t.Errorf("incomplete payload %v", p)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected 3 status events, got %d", i)
		}
	}

	// A second sweep at the same instant is a no-op.
	applied, err = s.Sweep(context.Background(), now)
	if err != nil || len(applied) != 0 {
		t.Fatalf("second sweep = (%d, %v), want no transitions", len(applied), err)
	}
}

type fakeElection struct {
	leader atomic.Bool
	ch     chan bool
}

func newFakeElection() *fakeElection {
	return &fakeElection{ch: make(chan bool, 1)}
}

func (f *fakeElection) Start(context.Context) error { return nil }
func (f *fakeElection) Stop() error                 { return nil }
func (f *fakeElection) IsLeader() bool              { return f.leader.Load() }
func (f *fakeElection) LeaderCh() <-chan bool       { return f.ch }

func (f *fakeElection) set(v bool) {
	f.leader.Store(v)
	f.ch <- v
}

type countingRunner struct {
	runs atomic.Int32
}

func (r *countingRunner) Run(ctx context.Context) error {
	r.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestLeaderAwareFollowsLeadership(t *testing.T) {
	election := newFakeElection()
	runner := &countingRunner{}
	la := NewLeaderAware(runner, election, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := la.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor := func(cond func() bool, msg string) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for !cond() {
			if time.Now().After(deadline) {
				t.Fatal(msg)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	if la.Running() {
		t.Fatal("follower must not run the sweeper")
	}

	election.set(true)
	waitFor(func() bool { return la.Running() && runner.runs.Load() == 1 }, "leader should start the sweeper")

	election.set(false)
	waitFor(func() bool { return !la.Running() }, "sweeper should stop after losing leadership")

	election.set(true)
	waitFor(func() bool { return runner.runs.Load() == 2 }, "sweeper should restart on re-election")

	if err := la.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if la.Running() {
		t.Error("sweeper still running after Stop")
	}
}
