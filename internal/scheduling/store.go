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

	"gorm.io/gorm"

	"github.com/friendsincode/torque/internal/cache"
	"github.com/friendsincode/torque/internal/models"
	"github.com/friendsincode/torque/internal/timewindow"
)

// GormStore implements Source, plus the technician and work order lookups the
// coordinator needs, over the application database.
// Business hours and specialties go through the Redis cache when one is configured.
type GormStore struct {
	db    *gorm.DB
	cache *cache.Cache
}

var _ Source = (*GormStore)(nil)

// NewGormStore creates a store. c may be nil.
func NewGormStore(db *gorm.DB, c *cache.Cache) *GormStore {
	return &GormStore{db: db, cache: c}
}

// DB returns the underlying handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// GetBusinessHours implements Source.
func (s *GormStore) GetBusinessHours(ctx context.Context, organizationID string) ([]models.BusinessHours, error) {
	if rows, ok := s.cache.GetBusinessHours(ctx, organizationID); ok {
		return rows, nil
	}
	var rows []models.BusinessHours
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("day_of_week ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	_ = s.cache.SetBusinessHours(ctx, organizationID, rows)
	return rows, nil
}

// GetTechnicianAvailability implements Source.
func (s *GormStore) GetTechnicianAvailability(ctx context.Context, technicianID string, date time.Time) (*models.TechnicianAvailability, error) {
	day := timewindow.DateOf(date)
	var row models.TechnicianAvailability
	err := s.db.WithContext(ctx).
		Where("technician_id = ? AND date >= ? AND date < ?", technicianID, day, day.AddDate(0, 0, 1)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetActiveBookings implements Source. It returns non-cancelled bookings that
// intersect [from, to).
func (s *GormStore) GetActiveBookings(ctx context.Context, technicianID string, from, to time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.WithContext(ctx).
		Where("technician_id = ? AND status <> ? AND starts_at < ? AND ends_at > ?",
			technicianID, models.BookingCancelled, to.UTC(), from.UTC()).
		Order("starts_at ASC").
		Find(&bookings).Error
	return bookings, err
}

// GetTechnicianSpecialties implements Source.
func (s *GormStore) GetTechnicianSpecialties(ctx context.Context, technicianID string) ([]models.TechnicianSpecialty, error) {
	if rows, ok := s.cache.GetSpecialties(ctx, technicianID); ok {
		return rows, nil
	}
	var rows []models.TechnicianSpecialty
	if err := s.db.WithContext(ctx).
		Where("technician_id = ?", technicianID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	_ = s.cache.SetSpecialties(ctx, technicianID, rows)
	return rows, nil
}

// GetCurrentWorkload implements Source: scheduled and in-progress minutes
// starting in [from, to).
func (s *GormStore) GetCurrentWorkload(ctx context.Context, technicianID string, from, to time.Time) (int, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.Booking{}).
		Select("COALESCE(SUM(duration_minutes), 0)").
		Where("technician_id = ? AND status IN ? AND starts_at >= ? AND starts_at < ?",
			technicianID, []models.BookingStatus{models.BookingScheduled, models.BookingInProgress}, from.UTC(), to.UTC()).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum workload: %w", err)
	}
	return int(total), nil
}

// GetTechnician loads one technician.
func (s *GormStore) GetTechnician(ctx context.Context, technicianID string) (*models.Technician, error) {
	var tech models.Technician
	err := s.db.WithContext(ctx).First(&tech, "id = ?", technicianID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "technician", ID: technicianID}
	}
	if err != nil {
		return nil, err
	}
	return &tech, nil
}

// ListTechnicians lists an organization's technicians. Only active technicians are returned.
func (s *GormStore) ListTechnicians(ctx context.Context, organizationID string) ([]models.Technician, error) {
	var techs []models.Technician
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND active = ?", organizationID, true).
		Order("id ASC").
		Find(&techs).Error
	return techs, err
}

// GetWorkOrder loads a work order with its required specialties.
func (s *GormStore) GetWorkOrder(ctx context.Context, workOrderID string) (*models.WorkOrder, error) {
	var wo models.WorkOrder
	err := s.db.WithContext(ctx).
		Preload("RequiredSpecialties").
		First(&wo, "id = ?", workOrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "work order", ID: workOrderID}
	}
	if err != nil {
		return nil, err
	}
	return &wo, nil
}

// GetWorkOrderBookings returns a work order's bookings in chain order.
func (s *GormStore) GetWorkOrderBookings(ctx context.Context, workOrderID string) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.WithContext(ctx).
		Where("work_order_id = ?", workOrderID).
		Order("sequence_number ASC").
		Find(&bookings).Error
	return bookings, err
}

// GetShifts returns non-cancelled shifts of staffID intersecting [from, to).
func (s *GormStore) GetShifts(ctx context.Context, staffID string, from, to time.Time) ([]models.Shift, error) {
	var shifts []models.Shift
	err := s.db.WithContext(ctx).
		Where("staff_id = ? AND status <> ? AND starts_at < ? AND ends_at > ?",
			staffID, models.ShiftCancelled, to.UTC(), from.UTC()).
		Order("starts_at ASC").
		Find(&shifts).Error
	return shifts, err
}
