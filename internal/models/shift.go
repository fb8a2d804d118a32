/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/friendsincode/torque/internal/timewindow"
)

// ShiftStatus tracks a rostered shift.
type ShiftStatus string

const (
	ShiftPlanned   ShiftStatus = "planned"
	ShiftConfirmed ShiftStatus = "confirmed"
	ShiftCancelled ShiftStatus = "cancelled"
)

// ShiftType names a kind of roster shift (opening, closing, on-call...).
type ShiftType struct {
	ID             string `gorm:"type:varchar(64);primaryKey" json:"id"`
	OrganizationID string `gorm:"type:varchar(64);index;not null" json:"organization_id"`
	Name           string `gorm:"type:varchar(64);not null" json:"name"`
	Color          string `gorm:"type:varchar(7)" json:"color,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (ShiftType) TableName() string {
	return "shift_types"
}

// Shift is a roster-planning block for a staff member. It is not tied to a work order
// but obeys the same overlap and minimum-break rules as bookings.
type Shift struct {
	ID          string      `gorm:"type:varchar(64);primaryKey" json:"id"`
	StaffID     string      `gorm:"type:varchar(64);index:idx_shifts_staff_date,priority:1;not null" json:"staff_id"`
	Date        time.Time   `gorm:"type:date;index:idx_shifts_staff_date,priority:2;not null" json:"date"`
	StartsAt    time.Time   `gorm:"not null" json:"starts_at"`
	EndsAt      time.Time   `gorm:"not null" json:"ends_at"`
	ShiftTypeID *string     `gorm:"type:varchar(64)" json:"shift_type_id,omitempty"`
	Status      ShiftStatus `gorm:"type:varchar(16);not null;default:'planned'" json:"status"`
	CreatedBy   *string     `gorm:"type:varchar(64)" json:"created_by,omitempty"`

	ShiftType *ShiftType `gorm:"foreignKey:ShiftTypeID" json:"shift_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Shift) TableName() string {
	return "shifts"
}

// Window returns the shift interval.
func (s Shift) Window() timewindow.Window {
	return timewindow.New(s.StartsAt, s.EndsAt)
}
