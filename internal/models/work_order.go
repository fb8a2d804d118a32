/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Priority ranks how urgently a work order should be handled.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// SchedulingStatus is the scheduler-owned state of a work order.
type SchedulingStatus string

const (
	WorkOrderUnscheduled SchedulingStatus = "unscheduled"
	WorkOrderScheduled   SchedulingStatus = "scheduled"
)

// WorkOrder is a repair job that needs technician time.
// Only SchedulingStatus and AssignedTechnicianID are written by the scheduler.
type WorkOrder struct {
	ID                       string           `gorm:"type:varchar(64);primaryKey" json:"id"`
	OrganizationID           string           `gorm:"type:varchar(64);index:idx_work_orders_org;not null" json:"organization_id"`
	Description              string           `gorm:"type:text" json:"description"`
	EstimatedDurationMinutes int              `gorm:"not null;default:0" json:"estimated_duration_minutes"`
	Priority                 Priority         `gorm:"type:varchar(16);not null;default:'normal'" json:"priority"`
	IsEmergency              bool             `gorm:"not null;default:false" json:"is_emergency"`
	SchedulingStatus         SchedulingStatus `gorm:"type:varchar(16);not null;default:'unscheduled';index" json:"scheduling_status"`
	AssignedTechnicianID     *string          `gorm:"type:varchar(64);index" json:"assigned_technician_id,omitempty"`

	RequiredSpecialties []WorkOrderSpecialty `gorm:"foreignKey:WorkOrderID" json:"required_specialties,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (WorkOrder) TableName() string {
	return "work_orders"
}

// WorkOrderSpecialty is one specialty a work order requires, with the minimum level.
type WorkOrderSpecialty struct {
	ID           string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	WorkOrderID  string         `gorm:"type:varchar(64);index;not null" json:"work_order_id"`
	SpecialtyID  string         `gorm:"type:varchar(64);not null" json:"specialty_id"`
	MinimumLevel SpecialtyLevel `gorm:"type:varchar(16);not null;default:'beginner'" json:"minimum_level"`
}

// TableName returns the table name for GORM.
func (WorkOrderSpecialty) TableName() string {
	return "work_order_specialties"
}
