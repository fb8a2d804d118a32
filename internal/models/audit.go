/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for scheduling mutations.
const (
	AuditActionBookingSchedule   AuditAction = "booking.schedule"
	AuditActionBookingReschedule AuditAction = "booking.reschedule"
	AuditActionBookingUnschedule AuditAction = "booking.unschedule"
	AuditActionBookingConflict   AuditAction = "booking.conflict"
	AuditActionBookingStatus     AuditAction = "booking.status"
	AuditActionShiftCreate       AuditAction = "shift.create"
)

// AuditLog records who changed the schedule and how.
type AuditLog struct {
	ID             string         `gorm:"type:varchar(64);primaryKey"`
	Timestamp      time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	ActorID        *string        `gorm:"type:varchar(64);index:idx_audit_actor"` // NULL for system actions
	OrganizationID *string        `gorm:"type:varchar(64);index:idx_audit_org"`
	Action         AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	ResourceType   string         `gorm:"type:varchar(64)"` // "work_order", "shift"
	ResourceID     string         `gorm:"type:varchar(64);index:idx_audit_resource"`
	Details        map[string]any `gorm:"type:jsonb;serializer:json"`
	CreatedAt      time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
