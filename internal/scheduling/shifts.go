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

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/torque/internal/auth"
	"github.com/friendsincode/torque/internal/events"
	"github.com/friendsincode/torque/internal/locking"
	"github.com/friendsincode/torque/internal/models"
	"github.com/friendsincode/torque/internal/timewindow"
)

// CreateShiftRequest describes a roster shift.
type CreateShiftRequest struct {
	StaffID     string
	StartsAt    time.Time
	EndsAt      time.Time
	ShiftTypeID *string
}

// ShiftService creates roster shifts under the same overlap and minimum-break
// rules as bookings.
type ShiftService struct {
	store       *GormStore
	validator   *Validator
	locker      locking.Locker
	bus         *events.Bus
	loc         *time.Location
	lockTimeout time.Duration
	logger      zerolog.Logger
}

// NewShiftService creates a shift service.
func NewShiftService(store *GormStore, validator *Validator, locker locking.Locker, bus *events.Bus, loc *time.Location, lockTimeout time.Duration, logger zerolog.Logger) *ShiftService {
	if loc == nil {
		loc = time.UTC
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if locker == nil {
		locker = locking.NewLocalLocker()
	}
	return &ShiftService{
		store:       store,
		validator:   validator,
		locker:      locker,
		bus:         bus,
		loc:         loc,
		lockTimeout: lockTimeout,
		logger:      logger.With().Str("component", "shift_service").Logger(),
	}
}

// CreateShift validates the shift against the staff member's other shifts on the
// same date and stores it.
func (s *ShiftService) CreateShift(ctx context.Context, req CreateShiftRequest) (*models.Shift, error) {
	if req.StaffID == "" {
		return nil, invalid("staff_id", "required")
	}
	w := timewindow.New(req.StartsAt.In(s.loc), req.EndsAt.In(s.loc))
	if !w.Valid() {
		return nil, invalid("ends_at", "must be after starts_at")
	}
	if !timewindow.SameCalendarDay(w.Start, w.End.Add(-time.Nanosecond)) {
		return nil, invalid("ends_at", "shift must end on the day it starts")
	}
	if _, err := s.store.GetTechnician(ctx, req.StaffID); err != nil {
		return nil, err
	}

	day := timewindow.StartOfDay(w.Start)
	lease, err := locking.AcquireAll(ctx, s.locker, []string{"shift:" + locking.TechnicianDayKey(req.StaffID, day)}, s.lockTimeout)
	if errors.Is(err, locking.ErrTimeout) {
		return nil, &SchedulingConflict{TechnicianID: req.StaffID, Reason: "timed out waiting for roster lock", Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("acquire roster lock: %w", err)
	}
	defer func() { _ = lease.Release(context.WithoutCancel(ctx)) }()

	existing, err := s.store.GetShifts(ctx, req.StaffID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load shifts: %w", err)
	}
	result := s.validator.ValidateCandidate(req.StaffID, w.Start, w.Start, w.End, ShiftItems(existing))
	if err := result.Err(); err != nil {
		return nil, err
	}

	shift := &models.Shift{
		ID:          uuid.NewString(),
		StaffID:     req.StaffID,
		Date:        timewindow.DateOf(w.Start),
		StartsAt:    w.Start.UTC(),
		EndsAt:      w.End.UTC(),
		ShiftTypeID: req.ShiftTypeID,
		Status:      models.ShiftPlanned,
		CreatedBy:   auth.ActorID(ctx),
	}
	if err := s.store.DB().WithContext(ctx).Create(shift).Error; err != nil {
		return nil, fmt.Errorf("create shift: %w", err)
	}

	s.logger.Info().Str("shift_id", shift.ID).Str("staff_id", shift.StaffID).Str("window", w.String()).Msg("shift created")
	s.bus.Publish(events.EventShiftCreated, events.Payload{
		"shift_id":  shift.ID,
		"staff_id":  shift.StaffID,
		"starts_at": shift.StartsAt,
		"ends_at":   shift.EndsAt,
		"actor_id":  shift.CreatedBy,
	})
	return shift, nil
}
