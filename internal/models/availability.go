/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AvailabilityWindow is an explicit allowed sub-window on an override date.
type AvailabilityWindow struct {
	StartTime string `json:"start_time"` // HH:MM format
	EndTime   string `json:"end_time"`   // HH:MM format
}

// TechnicianAvailability overrides the default (business-hours) availability of a
// technician for one calendar date. Owned by staff administration.
type TechnicianAvailability struct {
	ID           string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	TechnicianID string    `gorm:"type:varchar(64);uniqueIndex:idx_tech_availability_date;not null" json:"technician_id"`
	Date         time.Time `gorm:"type:date;uniqueIndex:idx_tech_availability_date;not null" json:"date"`

	// Available = false with no Windows blocks the whole day.
	// When Windows is non-empty the technician may only be booked inside one of them.
	Available bool                 `gorm:"not null;default:true" json:"is_available"`
	Windows   []AvailabilityWindow `gorm:"type:jsonb;serializer:json" json:"windows,omitempty"`
	Reason    string               `gorm:"type:text" json:"reason,omitempty"`

	Technician *Technician `gorm:"foreignKey:TechnicianID" json:"technician,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (TechnicianAvailability) TableName() string {
	return "technician_availability"
}

// BusinessHours is the organization's open window for one weekday.
type BusinessHours struct {
	ID             string `gorm:"type:varchar(64);primaryKey" json:"id"`
	OrganizationID string `gorm:"type:varchar(64);uniqueIndex:idx_business_hours_day;not null" json:"organization_id"`
	DayOfWeek      int    `gorm:"uniqueIndex:idx_business_hours_day;not null" json:"day_of_week"` // 0=Sunday, 6=Saturday
	OpenTime       string `gorm:"type:varchar(5);not null" json:"open_time"`                      // HH:MM format
	CloseTime      string `gorm:"type:varchar(5);not null" json:"close_time"`                     // HH:MM format
	Closed         bool   `gorm:"not null;default:false" json:"closed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (BusinessHours) TableName() string {
	return "business_hours"
}
