/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/friendsincode/torque/internal/auth"
	"github.com/friendsincode/torque/internal/events"
	"github.com/friendsincode/torque/internal/locking"
	"github.com/friendsincode/torque/internal/models"
	"github.com/friendsincode/torque/internal/telemetry"
)

const (
	// DefaultLockTimeout bounds the wait for technician-day locks.
	DefaultLockTimeout = 5 * time.Second

	// DefaultConflictRetries is how often a commit rejected by the storage
	// overlap guard is revalidated before giving up.
	DefaultConflictRetries = 3
)

// SQLSTATE raised by the bookings overlap guard trigger.
const overlapGuardSQLState = "23P01"

// CoordinatorConfig tunes the coordinator.
type CoordinatorConfig struct {
	LockTimeout     time.Duration
	ConflictRetries int
}

// ScheduleRequest asks for a work order to be placed on the calendar.
type ScheduleRequest struct {
	WorkOrderID string
	// TechnicianID is optional; when empty a technician is auto-assigned.
	TechnicianID string
	Start        time.Time
	// DurationMinutes of 0 uses the work order's estimate.
	DurationMinutes int

	// Auto-assignment inputs. Empty values fall back to the work order.
	RequiredSpecialties []SpecialtyRequirement
	MinimumLevel        models.SpecialtyLevel
	IsEmergency         bool
}

// RescheduleRequest moves a scheduled work order.
type RescheduleRequest struct {
	WorkOrderID string
	Start       time.Time
	// TechnicianID is optional; empty keeps the assigned technician.
	TechnicianID string
}

// ScheduleResult is the committed chain.
type ScheduleResult struct {
	WorkOrderID  string           `json:"work_order_id"`
	TechnicianID string           `json:"technician_id"`
	Kind         string           `json:"kind"`
	Chain        Chain            `json:"chain"`
	Bookings     []models.Booking `json:"bookings"`
}

// Coordinator owns the work order scheduling state machine:
// unscheduled -> scheduled -> unscheduled.
type Coordinator struct {
	store   *GormStore
	oracle  *Oracle
	planner *Planner
	matcher *Matcher
	locker  locking.Locker
	bus     *events.Bus
	config  CoordinatorConfig
	logger  zerolog.Logger
}

// NewCoordinator creates the schedule coordinator.
func NewCoordinator(store *GormStore, oracle *Oracle, planner *Planner, matcher *Matcher, locker locking.Locker, bus *events.Bus, cfg CoordinatorConfig, logger zerolog.Logger) *Coordinator {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = DefaultConflictRetries
	}
	if locker == nil {
		locker = locking.NewLocalLocker()
	}
	return &Coordinator{
		store:   store,
		oracle:  oracle,
		planner: planner,
		matcher: matcher,
		locker:  locker,
		bus:     bus,
		config:  cfg,
		logger:  logger.With().Str("component", "schedule_coordinator").Logger(),
	}
}

// Schedule validates the request, picks or checks the technician, splits the job
// and commits every segment together with the work order's new state.
func (c *Coordinator) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	ctx, span := telemetry.StartOperation(ctx, telemetry.Operation{
		Name:         "schedule",
		WorkOrderID:  req.WorkOrderID,
		TechnicianID: req.TechnicianID,
		Start:        req.Start,
		Emergency:    req.IsEmergency,
	})
	defer span.End()

	started := time.Now()
	result, err := c.schedule(ctx, req)
	c.observe(span, "schedule", req.WorkOrderID, started, result, err)
	return result, err
}

func (c *Coordinator) schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	if req.WorkOrderID == "" {
		return nil, invalid("work_order_id", "required")
	}
	if req.Start.IsZero() {
		return nil, invalid("start", "required")
	}
	if req.DurationMinutes < 0 {
		return nil, invalid("duration_minutes", "must be positive, got %d", req.DurationMinutes)
	}

	wo, err := c.store.GetWorkOrder(ctx, req.WorkOrderID)
	if err != nil {
		return nil, err
	}
	if wo.SchedulingStatus == models.WorkOrderScheduled {
		return nil, invalid("work_order_id", "work order %s is already scheduled, reschedule it instead", wo.ID)
	}

	minutes := req.DurationMinutes
	if minutes == 0 {
		minutes = wo.EstimatedDurationMinutes
	}
	if minutes <= 0 {
		return nil, invalid("duration_minutes", "must be positive, got %d", minutes)
	}

	c.logger.Info().
		Str("work_order_id", wo.ID).
		Str("technician_id", req.TechnicianID).
		Time("start", req.Start).
		Int("duration_minutes", minutes).
		Msg("scheduling attempt")

	technicianID := req.TechnicianID
	start := req.Start
	if technicianID != "" {
		if err := c.requireActiveTechnician(ctx, technicianID); err != nil {
			return nil, err
		}
	} else {
		match, err := c.autoAssign(ctx, wo, req, minutes)
		if err != nil {
			return nil, err
		}
		technicianID = match.TechnicianID
		start = match.Chain.Start()
	}

	return c.commit(ctx, commitPlan{
		op:           "schedule",
		workOrderID:  wo.ID,
		technicianID: technicianID,
		start:        start,
		minutes:      minutes,
		expect:       models.WorkOrderUnscheduled,
	})
}

func (c *Coordinator) autoAssign(ctx context.Context, wo *models.WorkOrder, req ScheduleRequest, minutes int) (Match, error) {
	required := req.RequiredSpecialties
	if len(required) == 0 {
		for _, s := range wo.RequiredSpecialties {
			required = append(required, SpecialtyRequirement{SpecialtyID: s.SpecialtyID, MinimumLevel: s.MinimumLevel})
		}
	}

	techs, err := c.store.ListTechnicians(ctx, wo.OrganizationID)
	if err != nil {
		return Match{}, fmt.Errorf("list technicians: %w", err)
	}
	ids := make([]string, 0, len(techs))
	for _, t := range techs {
		ids = append(ids, t.ID)
	}

	return c.matcher.SelectTechnician(ctx, MatchRequest{
		Required:        required,
		MinimumLevel:    req.MinimumLevel,
		IsEmergency:     req.IsEmergency || wo.IsEmergency,
		Priority:        wo.Priority,
		Start:           req.Start,
		DurationMinutes: minutes,
		CandidateIDs:    ids,
	})
}

// Reschedule moves a scheduled work order. The old bookings are replaced in the
// same transaction that writes the new ones, so a failure leaves them untouched.
func (c *Coordinator) Reschedule(ctx context.Context, req RescheduleRequest) (*ScheduleResult, error) {
	ctx, span := telemetry.StartOperation(ctx, telemetry.Operation{
		Name:         "reschedule",
		WorkOrderID:  req.WorkOrderID,
		TechnicianID: req.TechnicianID,
		Start:        req.Start,
	})
	defer span.End()

	started := time.Now()
	result, err := c.reschedule(ctx, req)
	c.observe(span, "reschedule", req.WorkOrderID, started, result, err)
	return result, err
}

func (c *Coordinator) reschedule(ctx context.Context, req RescheduleRequest) (*ScheduleResult, error) {
	if req.WorkOrderID == "" {
		return nil, invalid("work_order_id", "required")
	}
	if req.Start.IsZero() {
		return nil, invalid("start", "required")
	}

	wo, err := c.store.GetWorkOrder(ctx, req.WorkOrderID)
	if err != nil {
		return nil, err
	}
	previous, err := c.store.GetWorkOrderBookings(ctx, wo.ID)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	if wo.SchedulingStatus != models.WorkOrderScheduled || len(previous) == 0 {
		return nil, invalid("work_order_id", "work order %s is not scheduled", wo.ID)
	}

	minutes := previous[0].TotalDurationMinutes
	if minutes <= 0 {
		minutes = wo.EstimatedDurationMinutes
	}

	technicianID := req.TechnicianID
	if technicianID == "" {
		switch {
		case wo.AssignedTechnicianID != nil:
			technicianID = *wo.AssignedTechnicianID
		default:
			technicianID = previous[0].TechnicianID
		}
	}
	if err := c.requireActiveTechnician(ctx, technicianID); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("work_order_id", wo.ID).
		Str("technician_id", technicianID).
		Time("start", req.Start).
		Int("duration_minutes", minutes).
		Msg("rescheduling attempt")

	return c.commit(ctx, commitPlan{
		op:           "reschedule",
		workOrderID:  wo.ID,
		technicianID: technicianID,
		start:        req.Start,
		minutes:      minutes,
		expect:       models.WorkOrderScheduled,
	})
}

// Unschedule deletes every booking of the work order and returns it to
// unscheduled. Unscheduling an unscheduled work order succeeds without change.
func (c *Coordinator) Unschedule(ctx context.Context, workOrderID string) error {
	ctx, span := telemetry.StartOperation(ctx, telemetry.Operation{Name: "unschedule", WorkOrderID: workOrderID})
	defer span.End()

	started := time.Now()
	err := c.unschedule(ctx, workOrderID)
	c.observe(span, "unschedule", workOrderID, started, nil, err)
	return err
}

func (c *Coordinator) unschedule(ctx context.Context, workOrderID string) error {
	if workOrderID == "" {
		return invalid("work_order_id", "required")
	}
	if _, err := c.store.GetWorkOrder(ctx, workOrderID); err != nil {
		return err
	}

	lease, err := c.acquire(ctx, "", []string{workOrderKey(workOrderID)})
	if err != nil {
		return err
	}
	defer c.release(ctx, lease)

	wo, err := c.store.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return err
	}
	bookings, err := c.store.GetWorkOrderBookings(ctx, workOrderID)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}
	if len(bookings) == 0 && wo.SchedulingStatus == models.WorkOrderUnscheduled {
		c.logger.Debug().Str("work_order_id", workOrderID).Msg("already unscheduled")
		return nil
	}

	actor := auth.ActorID(ctx)
	err = c.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("work_order_id = ?", workOrderID).Delete(&models.Booking{}).Error; err != nil {
			return fmt.Errorf("delete bookings: %w", err)
		}
		return tx.Model(&models.WorkOrder{}).
			Where("id = ?", workOrderID).
			Updates(map[string]any{
				"scheduling_status":      models.WorkOrderUnscheduled,
				"assigned_technician_id": nil,
				"updated_at":             time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return fmt.Errorf("unschedule work order: %w", err)
	}

	bookingIDs := make([]string, 0, len(bookings))
	for _, b := range bookings {
		bookingIDs = append(bookingIDs, b.ID)
	}
	c.bus.Publish(events.EventBookingUnscheduled, events.Payload{
		"work_order_id":   workOrderID,
		"organization_id": wo.OrganizationID,
		"booking_ids":     bookingIDs,
		"actor_id":        actor,
	})
	return nil
}

// CheckAvailability is a read-only check for UI hinting. It applies business
// hours, availability overrides and the no-overlap rule. A window with
// end <= start is never available and reports RuleEmptyWindow.
func (c *Coordinator) CheckAvailability(ctx context.Context, technicianID string, start, end time.Time) (bool, Rule, error) {
	ctx, span := telemetry.StartOperation(ctx, telemetry.Operation{
		Name:         "check_availability",
		TechnicianID: technicianID,
		Start:        start,
		End:          end,
	})
	defer span.End()

	if technicianID == "" {
		return false, "", invalid("technician_id", "required")
	}
	if _, err := c.store.GetTechnician(ctx, technicianID); err != nil {
		return false, "", err
	}
	if !start.Before(end) {
		return false, RuleEmptyWindow, nil
	}
	ok, rule, err := c.oracle.Probe(ctx, technicianID, start, end)
	telemetry.FinishOperation(span, Outcome(err), -1, err)
	return ok, rule, err
}

// WorkOrderBookings returns the work order's bookings in chain order.
func (c *Coordinator) WorkOrderBookings(ctx context.Context, workOrderID string) ([]models.Booking, error) {
	if _, err := c.store.GetWorkOrder(ctx, workOrderID); err != nil {
		return nil, err
	}
	return c.store.GetWorkOrderBookings(ctx, workOrderID)
}

type commitPlan struct {
	op           string
	workOrderID  string
	technicianID string
	start        time.Time
	minutes      int
	expect       models.SchedulingStatus
}

// commit runs validate+write under the work order and technician-day locks. A
// write rejected by the storage guard is revalidated, never replayed blindly.
func (c *Coordinator) commit(ctx context.Context, p commitPlan) (*ScheduleResult, error) {
	exclude := ""
	if p.expect == models.WorkOrderScheduled {
		exclude = p.workOrderID
	}

	// Unlocked pass: fail fast and learn which days to lock.
	chain, err := c.planner.Plan(ctx, p.technicianID, p.start, p.minutes, exclude)
	if err != nil {
		return nil, err
	}

	lease, err := c.acquire(ctx, p.technicianID, c.lockKeys(p.workOrderID, p.technicianID, chain))
	if err != nil {
		return nil, err
	}
	defer c.release(ctx, lease)

	wo, err := c.store.GetWorkOrder(ctx, p.workOrderID)
	if err != nil {
		return nil, err
	}
	if wo.SchedulingStatus != p.expect {
		return nil, &SchedulingConflict{
			TechnicianID: p.technicianID,
			Reason:       fmt.Sprintf("work order %s changed state to %s concurrently", wo.ID, wo.SchedulingStatus),
		}
	}

	actor := auth.ActorID(ctx)
	for attempt := 0; ; attempt++ {
		fresh, err := c.planner.Plan(ctx, p.technicianID, p.start, p.minutes, exclude)
		if err != nil {
			return nil, err
		}
		if !sameDays(fresh, chain, c.oracle.loc) {
			return nil, &SchedulingConflict{TechnicianID: p.technicianID, Reason: "business calendar changed during scheduling"}
		}

		bookings := fresh.Bookings(wo.ID, p.technicianID, actor)
		err = c.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("work_order_id = ?", wo.ID).Delete(&models.Booking{}).Error; err != nil {
				return fmt.Errorf("delete previous bookings: %w", err)
			}
			if err := tx.Create(&bookings).Error; err != nil {
				return fmt.Errorf("insert bookings: %w", err)
			}
			return tx.Model(&models.WorkOrder{}).
				Where("id = ?", wo.ID).
				Updates(map[string]any{
					"scheduling_status":      models.WorkOrderScheduled,
					"assigned_technician_id": p.technicianID,
					"updated_at":             time.Now().UTC(),
				}).Error
		})
		if err == nil {
			result := &ScheduleResult{
				WorkOrderID:  wo.ID,
				TechnicianID: p.technicianID,
				Kind:         fresh.Kind().String(),
				Chain:        fresh,
				Bookings:     bookings,
			}
			c.publishCommitted(p.op, wo, result, actor)
			return result, nil
		}

		if !isOverlapGuardViolation(err) {
			return nil, fmt.Errorf("%s work order: %w", p.op, err)
		}
		if attempt >= c.config.ConflictRetries {
			return nil, &SchedulingConflict{
				TechnicianID: p.technicianID,
				Reason:       "storage overlap guard rejected the booking",
				Err:          err,
			}
		}
		telemetry.ConflictRetriesTotal.Inc()
		c.logger.Warn().
			Err(err).
			Str("work_order_id", wo.ID).
			Str("technician_id", p.technicianID).
			Int("attempt", attempt+1).
			Msg("overlap guard rejected commit, revalidating")
	}
}

func (c *Coordinator) acquire(ctx context.Context, technicianID string, keys []string) (locking.Lease, error) {
	lease, err := locking.AcquireAll(ctx, c.locker, keys, c.config.LockTimeout)
	if errors.Is(err, locking.ErrTimeout) {
		return nil, &SchedulingConflict{
			TechnicianID: technicianID,
			Reason:       "timed out waiting for a concurrent scheduling operation",
			Err:          err,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("acquire scheduling locks: %w", err)
	}
	return lease, nil
}

func (c *Coordinator) release(ctx context.Context, lease locking.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to release scheduling locks")
	}
}

func (c *Coordinator) lockKeys(workOrderID, technicianID string, chain Chain) []string {
	keys := []string{workOrderKey(workOrderID)}
	for _, seg := range chain.Segments {
		keys = append(keys, locking.TechnicianDayKey(technicianID, seg.Window.Start.In(c.oracle.loc)))
	}
	return keys
}

func workOrderKey(workOrderID string) string {
	return "work_order:" + workOrderID
}

func (c *Coordinator) requireActiveTechnician(ctx context.Context, technicianID string) error {
	tech, err := c.store.GetTechnician(ctx, technicianID)
	if err != nil {
		return err
	}
	if !tech.Active {
		return invalid("technician_id", "technician %s is inactive", technicianID)
	}
	return nil
}

func (c *Coordinator) publishCommitted(op string, wo *models.WorkOrder, result *ScheduleResult, actor *string) {
	eventType := events.EventBookingScheduled
	if op == "reschedule" {
		eventType = events.EventBookingRescheduled
	}
	bookingIDs := make([]string, 0, len(result.Bookings))
	for _, b := range result.Bookings {
		bookingIDs = append(bookingIDs, b.ID)
	}
	last := result.Chain.Segments[len(result.Chain.Segments)-1]
	c.bus.Publish(eventType, events.Payload{
		"work_order_id":   wo.ID,
		"organization_id": wo.OrganizationID,
		"technician_id":   result.TechnicianID,
		"booking_ids":     bookingIDs,
		"starts_at":       result.Chain.Start(),
		"ends_at":         last.Window.End,
		"segments":        len(result.Chain.Segments),
		"total_minutes":   result.Chain.TotalMinutes,
		"actor_id":        actor,
	})
}

// observe records metrics and the outcome log for one operation.
func (c *Coordinator) observe(span trace.Span, op, workOrderID string, started time.Time, result *ScheduleResult, err error) {
	outcome := Outcome(err)
	telemetry.ScheduleOperationsTotal.WithLabelValues(op, outcome).Inc()
	telemetry.ScheduleOperationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())

	segments := -1
	if result != nil {
		segments = len(result.Chain.Segments)
	}
	telemetry.FinishOperation(span, outcome, segments, err)

	if err == nil {
		evt := c.logger.Info().Str("operation", op).Str("work_order_id", workOrderID).Dur("elapsed", time.Since(started))
		if result != nil {
			telemetry.ChainSegments.Observe(float64(segments))
			evt = evt.Str("technician_id", result.TechnicianID).Int("segments", segments)
		}
		evt.Msg("scheduling succeeded")
		return
	}

	var availErr *AvailabilityError
	var conflict *SchedulingConflict
	switch {
	case errors.As(err, &availErr):
		telemetry.AvailabilityRejectionsTotal.WithLabelValues(string(availErr.Rule)).Inc()
		c.logger.Warn().Str("operation", op).Str("work_order_id", workOrderID).
			Str("rule", string(availErr.Rule)).Err(err).Msg("scheduling rejected")
	case errors.As(err, &conflict):
		c.logger.Error().Str("operation", op).Str("work_order_id", workOrderID).Err(err).Msg("scheduling conflict")
		c.bus.Publish(events.EventBookingConflict, events.Payload{
			"work_order_id": workOrderID,
			"technician_id": conflict.TechnicianID,
			"operation":     op,
			"reason":        conflict.Reason,
		})
	case outcome == "error":
		c.logger.Error().Str("operation", op).Str("work_order_id", workOrderID).Err(err).Msg("scheduling failed")
	default:
		c.logger.Warn().Str("operation", op).Str("work_order_id", workOrderID).Str("outcome", outcome).Err(err).Msg("scheduling rejected")
	}
}

// Outcome classifies an error for metrics and the API layer.
func Outcome(err error) string {
	var (
		validationErr *ValidationError
		availErr      *AvailabilityError
		conflict      *SchedulingConflict
		noMatch       *NoMatchError
		notFound      *NotFoundError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &availErr):
		return "unavailable"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &noMatch):
		return "no_match"
	case errors.As(err, &notFound):
		return "not_found"
	default:
		return "error"
	}
}

func isOverlapGuardViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == overlapGuardSQLState
}

func sameDays(a, b Chain, loc *time.Location) bool {
	if len(a.Segments) != len(b.Segments) {
		return false
	}
	for i := range a.Segments {
		da := a.Segments[i].Window.Start.In(loc).Format(time.DateOnly)
		db := b.Segments[i].Window.Start.In(loc).Format(time.DateOnly)
		if da != db {
			return false
		}
	}
	return true
}
