/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/torque/internal/auth"
	"github.com/friendsincode/torque/internal/events"
	"github.com/friendsincode/torque/internal/models"
)

type testEngine struct {
	db     *gorm.DB
	store  *GormStore
	bus    *events.Bus
	coord  *Coordinator
	shifts *ShiftService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.Organization{},
		&models.Technician{},
		&models.TechnicianSpecialty{},
		&models.TechnicianAvailability{},
		&models.BusinessHours{},
		&models.WorkOrder{},
		&models.WorkOrderSpecialty{},
		&models.Booking{},
		&models.ShiftType{},
		&models.Shift{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	db := newTestDB(t)
	seedShop(t, db)

	store := NewGormStore(db, nil)
	validator := NewValidator(30, zerolog.Nop())
	oracle := NewOracle(store, validator, "org-1", time.UTC, zerolog.Nop())
	planner := NewPlanner(oracle, NewSplitter(0))
	matcher := NewMatcher(store, planner, time.UTC, MatcherConfig{}, zerolog.Nop())
	bus := events.NewBus()

	return &testEngine{
		db:     db,
		store:  store,
		bus:    bus,
		coord:  NewCoordinator(store, oracle, planner, matcher, nil, bus, CoordinatorConfig{LockTimeout: 2 * time.Second}, zerolog.Nop()),
		shifts: NewShiftService(store, validator, nil, bus, time.UTC, time.Second, zerolog.Nop()),
	}
}

func seedShop(t *testing.T, db *gorm.DB) {
	t.Helper()
	rows := []any{
		&models.Organization{ID: "org-1", Name: "Main Street Garage", Timezone: "UTC"},
		&models.Technician{ID: "tech-x", OrganizationID: "org-1", Name: "Xavi", Active: true},
		&models.Technician{ID: "tech-y", OrganizationID: "org-1", Name: "Yara", Active: true},
		&models.TechnicianSpecialty{ID: "ts-1", TechnicianID: "tech-x", SpecialtyID: "brakes", Level: models.LevelIntermediate},
		&models.TechnicianSpecialty{ID: "ts-2", TechnicianID: "tech-y", SpecialtyID: "brakes", Level: models.LevelExpert},
		&models.TechnicianSpecialty{ID: "ts-3", TechnicianID: "tech-y", SpecialtyID: "engine", Level: models.LevelIntermediate},
	}
	for _, r := range rows {
		if err := db.Create(r).Error; err != nil {
			t.Fatalf("seed %T: %v", r, err)
		}
	}
	hours := weekdayHours("org-1", "09:00", "17:00")
	if err := db.Create(&hours).Error; err != nil {
		t.Fatalf("seed hours: %v", err)
	}
	for i := 1; i <= 4; i++ {
		createWorkOrder(t, db, fmt.Sprintf("wo-%d", i), 240)
	}
}

func createWorkOrder(t *testing.T, db *gorm.DB, id string, minutes int, required ...models.WorkOrderSpecialty) {
	t.Helper()
	wo := models.WorkOrder{
		ID:                       id,
		OrganizationID:           "org-1",
		EstimatedDurationMinutes: minutes,
		Priority:                 models.PriorityNormal,
		RequiredSpecialties:      required,
	}
	if err := db.Create(&wo).Error; err != nil {
		t.Fatalf("seed work order: %v", err)
	}
}

func (e *testEngine) allBookings(t *testing.T) []models.Booking {
	t.Helper()
	var rows []models.Booking
	if err := e.db.Order("technician_id, starts_at").Find(&rows).Error; err != nil {
		t.Fatalf("load bookings: %v", err)
	}
	return rows
}

func (e *testEngine) workOrder(t *testing.T, id string) models.WorkOrder {
	t.Helper()
	var wo models.WorkOrder
	if err := e.db.First(&wo, "id = ?", id).Error; err != nil {
		t.Fatalf("load work order: %v", err)
	}
	return wo
}

func assertNoOverlaps(t *testing.T, rows []models.Booking) {
	t.Helper()
	for i := range rows {
		for j := i + 1; j < len(rows); j++ {
			a, b := rows[i], rows[j]
			if a.TechnicianID == b.TechnicianID && a.StartsAt.Before(b.EndsAt) && b.StartsAt.Before(a.EndsAt) {
				t.Fatalf("bookings %s and %s overlap", a.ID, b.ID)
			}
		}
	}
}

func TestScheduleSingleDay(t *testing.T) {
	e := newTestEngine(t)
	sub := e.bus.Subscribe(events.EventBookingScheduled)
	defer e.bus.Unsubscribe(events.EventBookingScheduled, sub)

	res, err := e.coord.Schedule(context.Background(), ScheduleRequest{
		WorkOrderID:  "wo-1",
		TechnicianID: "tech-x",
		Start:        monday(9, 0),
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if res.Kind != "single_day" || len(res.Bookings) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	rows := e.allBookings(t)
	if len(rows) != 1 {
		t.Fatalf("expected 1 stored booking, got %d", len(rows))
	}
	b := rows[0]
	if !b.StartsAt.Equal(monday(9, 0)) || !b.EndsAt.Equal(monday(13, 0)) || b.IsMultiDay {
		t.Errorf("stored booking %s-%s multi=%v", b.StartsAt, b.EndsAt, b.IsMultiDay)
	}

	wo := e.workOrder(t, "wo-1")
	if wo.SchedulingStatus != models.WorkOrderScheduled || wo.AssignedTechnicianID == nil || *wo.AssignedTechnicianID != "tech-x" {
		t.Errorf("work order not updated: %+v", wo)
	}

	select {
	case p := <-sub:
		if p["work_order_id"] != "wo-1" || p["technician_id"] != "tech-x" {
			t.Errorf("unexpected event payload %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("expected booking.scheduled event")
	}
}

func TestScheduleMultiDay(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.coord.Schedule(context.Background(), ScheduleRequest{
		WorkOrderID:     "wo-1",
		TechnicianID:    "tech-x",
		Start:           monday(9, 0),
		DurationMinutes: 600,
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if res.Kind != "multi_day" {
		t.Fatalf("Kind = %s", res.Kind)
	}

	rows, err := e.store.GetWorkOrderBookings(context.Background(), "wo-1")
	if err != nil {
		t.Fatalf("GetWorkOrderBookings: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(rows))
	}
	root, second := rows[0], rows[1]
	if root.SequenceNumber != 1 || root.DurationMinutes != 480 || root.RemainingMinutes != 120 || root.ParentBookingID != nil {
		t.Errorf("root segment %+v", root)
	}
	if second.SequenceNumber != 2 || second.DurationMinutes != 120 || second.RemainingMinutes != 0 {
		t.Errorf("second segment %+v", second)
	}
	if second.ParentBookingID == nil || *second.ParentBookingID != root.ID {
		t.Errorf("second segment does not point at root")
	}
	if !second.StartsAt.Equal(onDay(1, 9, 0)) || !second.EndsAt.Equal(onDay(1, 11, 0)) {
		t.Errorf("second segment window %s-%s", second.StartsAt, second.EndsAt)
	}
	if err := ChainFromBookings(rows).Validate(); err != nil {
		t.Errorf("stored chain invalid: %v", err)
	}
}

func TestScheduleRejections(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		minutes  int
		wantRule Rule
	}{
		{"overlap", monday(10, 30), 60, RuleOverlap},
		{"insufficient break", monday(11, 10), 50, RuleInsufficientBreak},
		{"outside business hours", monday(7, 0), 60, RuleOutsideBusinessHours},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			if _, err := e.coord.Schedule(context.Background(), ScheduleRequest{
				WorkOrderID: "wo-1", TechnicianID: "tech-x", Start: monday(10, 0), DurationMinutes: 60,
			}); err != nil {
				t.Fatalf("seed booking: %v", err)
			}

			_, err := e.coord.Schedule(context.Background(), ScheduleRequest{
				WorkOrderID: "wo-2", TechnicianID: "tech-x", Start: tt.start, DurationMinutes: tt.minutes,
			})
			var availErr *AvailabilityError
			if !errors.As(err, &availErr) || availErr.Rule != tt.wantRule {
				t.Fatalf("expected %s, got %v", tt.wantRule, err)
			}
			if Outcome(err) != "unavailable" {
				t.Errorf("Outcome = %s", Outcome(err))
			}

			if got := len(e.allBookings(t)); got != 1 {
				t.Errorf("rejected schedule wrote bookings: %d rows", got)
			}
			if wo := e.workOrder(t, "wo-2"); wo.SchedulingStatus != models.WorkOrderUnscheduled {
				t.Errorf("rejected work order status = %s", wo.SchedulingStatus)
			}
		})
	}
}

func TestScheduleValidation(t *testing.T) {
	e := newTestEngine(t)
	if err := e.db.Model(&models.Technician{}).Where("id = ?", "tech-y").Update("active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := e.coord.Schedule(context.Background(), ScheduleRequest{
		WorkOrderID: "wo-3", TechnicianID: "tech-x", Start: monday(9, 0),
	}); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	tests := []struct {
		name        string
		req         ScheduleRequest
		wantOutcome string
	}{
		{"missing work order id", ScheduleRequest{TechnicianID: "tech-x", Start: monday(9, 0)}, "validation"},
		{"missing start", ScheduleRequest{WorkOrderID: "wo-1", TechnicianID: "tech-x"}, "validation"},
		{"negative duration", ScheduleRequest{WorkOrderID: "wo-1", TechnicianID: "tech-x", Start: monday(9, 0), DurationMinutes: -5}, "validation"},
		{"inactive technician", ScheduleRequest{WorkOrderID: "wo-1", TechnicianID: "tech-y", Start: monday(9, 0)}, "validation"},
		{"already scheduled", ScheduleRequest{WorkOrderID: "wo-3", TechnicianID: "tech-x", Start: onDay(1, 9, 0)}, "validation"},
		{"unknown work order", ScheduleRequest{WorkOrderID: "wo-missing", TechnicianID: "tech-x", Start: monday(9, 0)}, "not_found"},
		{"unknown technician", ScheduleRequest{WorkOrderID: "wo-1", TechnicianID: "tech-missing", Start: monday(9, 0)}, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.coord.Schedule(context.Background(), tt.req)
			if got := Outcome(err); got != tt.wantOutcome {
				t.Fatalf("Outcome = %s (%v), want %s", got, err, tt.wantOutcome)
			}
		})
	}
	if got := len(e.allBookings(t)); got != 1 {
		t.Errorf("validation failures wrote bookings: %d rows", got)
	}
}

func TestScheduleAutoAssign(t *testing.T) {
	e := newTestEngine(t)
	createWorkOrder(t, e.db, "wo-brakes", 120, models.WorkOrderSpecialty{
		ID: "wos-1", WorkOrderID: "wo-brakes", SpecialtyID: "brakes", MinimumLevel: models.LevelIntermediate,
	})

	// tech-y carries more load this week, so tech-x wins.
	if _, err := e.coord.Schedule(context.Background(), ScheduleRequest{
		WorkOrderID: "wo-1", TechnicianID: "tech-y", Start: onDay(2, 9, 0),
	}); err != nil {
		t.Fatalf("seed load: %v", err)
	}

	res, err := e.coord.Schedule(context.Background(), ScheduleRequest{WorkOrderID: "wo-brakes", Start: monday(9, 0)})
	if err != nil {
		t.Fatalf("auto-assign: %v", err)
	}
	if res.TechnicianID != "tech-x" {
		t.Errorf("assigned %s, want tech-x", res.TechnicianID)
	}
}

func TestScheduleAutoAssignNoMatch(t *testing.T) {
	e := newTestEngine(t)
	createWorkOrder(t, e.db, "wo-engine", 60, models.WorkOrderSpecialty{
		ID: "wos-1", WorkOrderID: "wo-engine", SpecialtyID: "engine", MinimumLevel: models.LevelExpert,
	})

	_, err := e.coord.Schedule(context.Background(), ScheduleRequest{WorkOrderID: "wo-engine", Start: monday(9, 0)})
	var noMatch *NoMatchError
	if !errors.As(err, &noMatch) {
		t.Fatalf("expected *NoMatchError, got %v", err)
	}
	if got := len(e.allBookings(t)); got != 0 {
		t.Errorf("no-match wrote %d bookings", got)
	}
}

func TestConcurrentScheduleSameTechnician(t *testing.T) {
	e := newTestEngine(t)

	starts := map[string]time.Time{
		"wo-1": monday(10, 0),
		"wo-2": monday(11, 0),
		"wo-3": monday(10, 30),
		"wo-4": monday(12, 0),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, rejected int
	for id, start := range starts {
		wg.Add(1)
		go func(id string, start time.Time) {
			defer wg.Done()
			_, err := e.coord.Schedule(context.Background(), ScheduleRequest{
				WorkOrderID: id, TechnicianID: "tech-x", Start: start, DurationMinutes: 120,
			})
			mu.Lock()
			defer mu.Unlock()
			switch Outcome(err) {
			case "ok":
				succeeded++
			case "unavailable", "conflict":
				rejected++
			default:
				t.Errorf("%s: unexpected error %v", id, err)
			}
		}(id, start)
	}
	wg.Wait()

	// Every window overlaps every other, so exactly one can win.
	if succeeded != 1 || rejected != len(starts)-1 {
		t.Fatalf("succeeded=%d rejected=%d", succeeded, rejected)
	}
	rows := e.allBookings(t)
	if len(rows) != 1 {
		t.Fatalf("expected 1 stored booking, got %d", len(rows))
	}
	assertNoOverlaps(t, rows)
}

func TestScheduleRetriesOverlapGuard(t *testing.T) {
	e := newTestEngine(t)

	failures := 1
	err := e.db.Callback().Create().Before("gorm:create").Register("test:overlap_guard", func(tx *gorm.DB) {
		if tx.Statement.Table == "bookings" && failures > 0 {
			failures--
			_ = tx.AddError(&pgconn.PgError{Code: "23P01", Message: "booking overlaps"})
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	if _, err := e.coord.Schedule(context.Background(), ScheduleRequest{
		WorkOrderID: "wo-1", TechnicianID: "tech-x", Start: monday(9, 0),
	}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := len(e.allBookings(t)); got != 1 {
		t.Errorf("expected 1 booking after retry, got %d", got)
	}

	failures = 100
	_, err = e.coord.Schedule(context.Background(), ScheduleRequest{
		WorkOrderID: "wo-2", TechnicianID: "tech-x", Start: onDay(1, 9, 0),
	})
	var conflict *SchedulingConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *SchedulingConflict after exhausting retries, got %v", err)
	}
	if wo := e.workOrder(t, "wo-2"); wo.SchedulingStatus != models.WorkOrderUnscheduled {
		t.Errorf("failed commit changed work order status to %s", wo.SchedulingStatus)
	}
}

func TestReschedule(t *testing.T) {
	e := newTestEngine(t)
	ctx := auth.WithClaims(context.Background(), &auth.Claims{UserID: "user-1", Roles: []string{"dispatcher"}})

	if _, err := e.coord.Schedule(ctx, ScheduleRequest{WorkOrderID: "wo-1", TechnicianID: "tech-x", Start: monday(9, 0)}); err != nil {
		t.Fatalf("schedule wo-1: %v", err)
	}
	if _, err := e.coord.Schedule(ctx, ScheduleRequest{WorkOrderID: "wo-2", TechnicianID: "tech-x", Start: onDay(1, 9, 0)}); err != nil {
		t.Fatalf("schedule wo-2: %v", err)
	}
	before, _ := e.store.GetWorkOrderBookings(ctx, "wo-1")

	// Moving onto wo-2 fails and keeps the previous schedule.
	_, err := e.coord.Reschedule(ctx, RescheduleRequest{WorkOrderID: "wo-1", Start: onDay(1, 10, 0)})
	var availErr *AvailabilityError
	if !errors.As(err, &availErr) {
		t.Fatalf("expected *AvailabilityError, got %v", err)
	}
	after, _ := e.store.GetWorkOrderBookings(ctx, "wo-1")
	if len(after) != 1 || after[0].ID != before[0].ID {
		t.Fatalf("failed reschedule changed bookings: %+v", after)
	}

	// Overlapping its own old slot is fine.
	res, err := e.coord.Reschedule(ctx, RescheduleRequest{WorkOrderID: "wo-1", Start: monday(10, 0)})
	if err != nil {
		t.Fatalf("Reschedule onto own slot: %v", err)
	}
	if !res.Chain.Start().Equal(monday(10, 0)) || res.Chain.TotalMinutes != 240 {
		t.Errorf("unexpected chain %+v", res.Chain)
	}
	rows, _ := e.store.GetWorkOrderBookings(ctx, "wo-1")
	if len(rows) != 1 || !rows[0].StartsAt.Equal(monday(10, 0)) {
		t.Fatalf("stored bookings after reschedule %+v", rows)
	}
	if rows[0].UpdatedBy == nil || *rows[0].UpdatedBy != "user-1" {
		t.Errorf("actor not recorded on booking")
	}

	// Hand over to another technician.
	res, err = e.coord.Reschedule(ctx, RescheduleRequest{WorkOrderID: "wo-1", Start: onDay(1, 10, 0), TechnicianID: "tech-y"})
	if err != nil {
		t.Fatalf("Reschedule to tech-y: %v", err)
	}
	if wo := e.workOrder(t, "wo-1"); wo.AssignedTechnicianID == nil || *wo.AssignedTechnicianID != "tech-y" {
		t.Errorf("assigned technician not updated")
	}
	assertNoOverlaps(t, e.allBookings(t))

	if _, err := e.coord.Reschedule(ctx, RescheduleRequest{WorkOrderID: "wo-3", Start: monday(9, 0)}); Outcome(err) != "validation" {
		t.Errorf("rescheduling an unscheduled work order: %v", err)
	}
}

func TestUnscheduleIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	sub := e.bus.Subscribe(events.EventBookingUnscheduled)
	defer e.bus.Unsubscribe(events.EventBookingUnscheduled, sub)

	if _, err := e.coord.Schedule(context.Background(), ScheduleRequest{
		WorkOrderID: "wo-1", TechnicianID: "tech-x", Start: monday(9, 0), DurationMinutes: 600,
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := e.coord.Unschedule(context.Background(), "wo-1"); err != nil {
			t.Fatalf("Unschedule #%d: %v", i+1, err)
		}
	}

	if got := len(e.allBookings(t)); got != 0 {
		t.Errorf("expected no bookings, got %d", got)
	}
	wo := e.workOrder(t, "wo-1")
	if wo.SchedulingStatus != models.WorkOrderUnscheduled || wo.AssignedTechnicianID != nil {
		t.Errorf("work order not reset: %+v", wo)
	}

	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("expected booking.unscheduled event")
	}
	select {
	case p := <-sub:
		t.Fatalf("second unschedule should be a no-op, got event %v", p)
	default:
	}

	if err := e.coord.Unschedule(context.Background(), "wo-missing"); Outcome(err) != "not_found" {
		t.Errorf("unknown work order: %v", err)
	}

	// The freed slot can be booked again.
	if _, err := e.coord.Schedule(context.Background(), ScheduleRequest{
		WorkOrderID: "wo-2", TechnicianID: "tech-x", Start: monday(9, 0),
	}); err != nil {
		t.Fatalf("schedule into freed slot: %v", err)
	}
}

func TestCheckAvailabilityAgainstStore(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.coord.Schedule(context.Background(), ScheduleRequest{
		WorkOrderID: "wo-1", TechnicianID: "tech-x", Start: monday(10, 0), DurationMinutes: 60,
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	off := models.TechnicianAvailability{ID: "ta-1", TechnicianID: "tech-y", Date: onDay(1, 0, 0), Available: true, Reason: "training"}
	if err := e.db.Create(&off).Error; err != nil {
		t.Fatalf("seed override: %v", err)
	}
	if err := e.db.Model(&off).Update("available", false).Error; err != nil {
		t.Fatalf("block override: %v", err)
	}

	tests := []struct {
		name       string
		tech       string
		start, end time.Time
		want       bool
		wantRule   Rule
	}{
		{"overlap", "tech-x", monday(10, 30), monday(11, 30), false, RuleOverlap},
		{"adjacent", "tech-x", monday(11, 0), monday(12, 0), true, ""},
		{"day off", "tech-y", onDay(1, 10, 0), onDay(1, 11, 0), false, RuleTechnicianUnavailable},
		{"day after day off", "tech-y", onDay(2, 10, 0), onDay(2, 11, 0), true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, rule, err := e.coord.CheckAvailability(context.Background(), tt.tech, tt.start, tt.end)
			if err != nil {
				t.Fatalf("CheckAvailability: %v", err)
			}
			if ok != tt.want || rule != tt.wantRule {
				t.Fatalf("got (%v, %q), want (%v, %q)", ok, rule, tt.want, tt.wantRule)
			}
		})
	}

	for _, w := range [][2]time.Time{{monday(11, 0), monday(10, 0)}, {monday(11, 0), monday(11, 0)}} {
		ok, rule, err := e.coord.CheckAvailability(context.Background(), "tech-x", w[0], w[1])
		if err != nil || ok || rule != RuleEmptyWindow {
			t.Errorf("window %v-%v: got (%v, %q, %v), want (false, %q, nil)", w[0], w[1], ok, rule, err, RuleEmptyWindow)
		}
	}
	if _, _, err := e.coord.CheckAvailability(context.Background(), "tech-missing", monday(10, 0), monday(11, 0)); Outcome(err) != "not_found" {
		t.Errorf("unknown technician: %v", err)
	}
}
