/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// RoleName enumerates the RBAC roles.
type RoleName string

const (
	RoleAdmin      RoleName = "admin"
	RoleDispatcher RoleName = "dispatcher"
	RoleTechnician RoleName = "technician"
)

// Organization is a repair shop tenant. Business hours are scoped to it.
type Organization struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	Name      string `gorm:"type:varchar(255);not null"`
	Timezone  string `gorm:"type:varchar(64)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (Organization) TableName() string {
	return "organizations"
}

// Technician is a staff member who can be booked onto work orders.
type Technician struct {
	ID             string `gorm:"type:varchar(64);primaryKey" json:"id"`
	OrganizationID string `gorm:"type:varchar(64);index:idx_technicians_org;not null" json:"organization_id"`
	Name           string `gorm:"type:varchar(255);not null" json:"name"`
	Email          string `gorm:"type:varchar(255)" json:"email,omitempty"`
	Active         bool   `gorm:"not null;default:true" json:"active"`

	Specialties []TechnicianSpecialty `gorm:"foreignKey:TechnicianID" json:"specialties,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Technician) TableName() string {
	return "technicians"
}
