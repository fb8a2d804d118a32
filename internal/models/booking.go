/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/friendsincode/torque/internal/timewindow"
)

// BookingStatus tracks a booking through execution.
type BookingStatus string

const (
	BookingScheduled  BookingStatus = "scheduled"
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
)

// Booking assigns a technician to (part of) a work order for a time window.
// Multi-day jobs are stored as a chain: every segment points at the root through
// ParentBookingID, except the root itself which has a nil parent.
type Booking struct {
	ID              string        `gorm:"type:varchar(64);primaryKey" json:"id"`
	WorkOrderID     string        `gorm:"type:varchar(64);index:idx_bookings_work_order;not null" json:"work_order_id"`
	TechnicianID    string        `gorm:"type:varchar(64);index:idx_bookings_technician_start,priority:1;not null" json:"technician_id"`
	StartsAt        time.Time     `gorm:"index:idx_bookings_technician_start,priority:2;not null" json:"starts_at"`
	EndsAt          time.Time     `gorm:"not null" json:"ends_at"`
	DurationMinutes int           `gorm:"not null" json:"duration_minutes"`
	Status          BookingStatus `gorm:"type:varchar(16);not null;default:'scheduled';index" json:"status"`

	IsMultiDay           bool    `gorm:"not null;default:false" json:"is_multi_day"`
	ParentBookingID      *string `gorm:"type:varchar(64);index:idx_bookings_parent" json:"parent_booking_id,omitempty"`
	SequenceNumber       int     `gorm:"not null;default:1" json:"sequence_number"`
	RemainingMinutes     int     `gorm:"not null;default:0" json:"remaining_minutes"`
	TotalDurationMinutes int     `gorm:"not null" json:"total_duration_minutes"`

	CreatedBy *string `gorm:"type:varchar(64)" json:"created_by,omitempty"`
	UpdatedBy *string `gorm:"type:varchar(64)" json:"updated_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Booking) TableName() string {
	return "bookings"
}

// Window returns the booked interval.
func (b Booking) Window() timewindow.Window {
	return timewindow.New(b.StartsAt, b.EndsAt)
}

// IsActive reports whether the booking still occupies the technician.
func (b Booking) IsActive() bool {
	return b.Status != BookingCancelled
}

// ChainRootID returns the id of the first booking in the chain.
func (b Booking) ChainRootID() string {
	if b.ParentBookingID != nil && *b.ParentBookingID != "" {
		return *b.ParentBookingID
	}
	return b.ID
}
