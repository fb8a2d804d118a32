/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package lifecycle advances booking status as wall-clock time passes.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/torque/internal/events"
	"github.com/friendsincode/torque/internal/models"
	"github.com/friendsincode/torque/internal/telemetry"
)

// DefaultInterval is how often the sweeper runs.
const DefaultInterval = time.Minute

// Sweeper moves bookings scheduled -> in_progress when they start and to completed
// when they end. Cancelled bookings are never touched.
type Sweeper struct {
	db       *gorm.DB
	bus      *events.Bus
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewSweeper constructs the lifecycle sweeper.
func NewSweeper(db *gorm.DB, bus *events.Bus, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		db:       db,
		bus:      bus,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("component", "lifecycle_sweeper").Logger(),
	}
}

// Run executes the sweep loop until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("lifecycle loop started")
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("lifecycle loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.Sweep(ctx, s.now()); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("lifecycle sweep failed")
	}
}

// Transition is one applied status change.
type Transition struct {
	BookingID    string
	WorkOrderID  string
	TechnicianID string
	From         models.BookingStatus
	To           models.BookingStatus
}

// Sweep applies every transition due at now and returns them.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) ([]Transition, error) {
	now = now.UTC()
	var applied []Transition

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []models.Booking
		err := tx.Where("status IN ? AND ends_at <= ?",
			[]models.BookingStatus{models.BookingScheduled, models.BookingInProgress}, now).
			Find(&due).Error
		if err != nil {
			return fmt.Errorf("load finished bookings: %w", err)
		}
		done, err := advance(tx, due, models.BookingCompleted, now)
		if err != nil {
			return err
		}

		var started []models.Booking
		err = tx.Where("status = ? AND starts_at <= ? AND ends_at > ?", models.BookingScheduled, now, now).
			Find(&started).Error
		if err != nil {
			return fmt.Errorf("load started bookings: %w", err)
		}
		running, err := advance(tx, started, models.BookingInProgress, now)
		if err != nil {
			return err
		}

		applied = append(done, running...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, t := range applied {
		telemetry.BookingTransitionsTotal.WithLabelValues(string(t.To)).Inc()
		s.bus.Publish(events.EventBookingStatus, events.Payload{
			"booking_id":    t.BookingID,
			"work_order_id": t.WorkOrderID,
			"technician_id": t.TechnicianID,
			"from":          string(t.From),
			"to":            string(t.To),
		})
	}
	if len(applied) > 0 {
		s.logger.Info().Int("transitions", len(applied)).Msg("booking statuses advanced")
	}
	return applied, nil
}

func advance(tx *gorm.DB, bookings []models.Booking, to models.BookingStatus, now time.Time) ([]Transition, error) {
	if len(bookings) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(bookings))
	out := make([]Transition, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
		out = append(out, Transition{
			BookingID:    b.ID,
			WorkOrderID:  b.WorkOrderID,
			TechnicianID: b.TechnicianID,
			From:         b.Status,
			To:           to,
		})
	}
	err := tx.Model(&models.Booking{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"status": to, "updated_at": now}).Error
	if err != nil {
		return nil, fmt.Errorf("mark bookings %s: %w", to, err)
	}
	return out, nil
}
