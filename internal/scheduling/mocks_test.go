/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"time"

	"github.com/friendsincode/torque/internal/models"
)

type MockSource struct {
	GetBusinessHoursFunc          func(ctx context.Context, organizationID string) ([]models.BusinessHours, error)
	GetTechnicianAvailabilityFunc func(ctx context.Context, technicianID string, date time.Time) (*models.TechnicianAvailability, error)
	GetActiveBookingsFunc         func(ctx context.Context, technicianID string, from, to time.Time) ([]models.Booking, error)
	GetTechnicianSpecialtiesFunc  func(ctx context.Context, technicianID string) ([]models.TechnicianSpecialty, error)
	GetCurrentWorkloadFunc        func(ctx context.Context, technicianID string, from, to time.Time) (int, error)
}

func (m *MockSource) GetBusinessHours(ctx context.Context, organizationID string) ([]models.BusinessHours, error) {
	if m.GetBusinessHoursFunc != nil {
		return m.GetBusinessHoursFunc(ctx, organizationID)
	}
	return weekdayHours(organizationID, "09:00", "17:00"), nil
}

func (m *MockSource) GetTechnicianAvailability(ctx context.Context, technicianID string, date time.Time) (*models.TechnicianAvailability, error) {
	if m.GetTechnicianAvailabilityFunc != nil {
		return m.GetTechnicianAvailabilityFunc(ctx, technicianID, date)
	}
	return nil, nil
}

func (m *MockSource) GetActiveBookings(ctx context.Context, technicianID string, from, to time.Time) ([]models.Booking, error) {
	if m.GetActiveBookingsFunc != nil {
		return m.GetActiveBookingsFunc(ctx, technicianID, from, to)
	}
	return nil, nil
}

func (m *MockSource) GetTechnicianSpecialties(ctx context.Context, technicianID string) ([]models.TechnicianSpecialty, error) {
	if m.GetTechnicianSpecialtiesFunc != nil {
		return m.GetTechnicianSpecialtiesFunc(ctx, technicianID)
	}
	return nil, nil
}

func (m *MockSource) GetCurrentWorkload(ctx context.Context, technicianID string, from, to time.Time) (int, error) {
	if m.GetCurrentWorkloadFunc != nil {
		return m.GetCurrentWorkloadFunc(ctx, technicianID, from, to)
	}
	return 0, nil
}

// weekdayHours opens Monday to Friday; Saturday and Sunday are closed.
func weekdayHours(orgID, open, close string) []models.BusinessHours {
	rows := make([]models.BusinessHours, 0, 7)
	for d := 0; d < 7; d++ {
		rows = append(rows, models.BusinessHours{
			ID:             orgID + "-" + time.Weekday(d).String(),
			OrganizationID: orgID,
			DayOfWeek:      d,
			OpenTime:       open,
			CloseTime:      close,
			Closed:         d == int(time.Saturday) || d == int(time.Sunday),
		})
	}
	return rows
}

// monday is 2026-03-09, a Monday.
func monday(hour, min int) time.Time {
	return time.Date(2026, 3, 9, hour, min, 0, 0, time.UTC)
}

func onDay(offset, hour, min int) time.Time {
	return monday(hour, min).AddDate(0, 0, offset)
}

func booking(id, techID, woID string, start, end time.Time) models.Booking {
	return models.Booking{
		ID:                   id,
		WorkOrderID:          woID,
		TechnicianID:         techID,
		StartsAt:             start,
		EndsAt:               end,
		DurationMinutes:      int(end.Sub(start).Minutes()),
		Status:               models.BookingScheduled,
		SequenceNumber:       1,
		TotalDurationMinutes: int(end.Sub(start).Minutes()),
	}
}
