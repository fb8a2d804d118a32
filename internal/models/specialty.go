/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"strings"
	"time"
)

// SpecialtyLevel is an ordinal proficiency ranking.
type SpecialtyLevel string

const (
	LevelBeginner     SpecialtyLevel = "beginner"
	LevelIntermediate SpecialtyLevel = "intermediate"
	LevelExpert       SpecialtyLevel = "expert"
)

// Rank returns the ordinal of the level. Unknown levels rank 0, below beginner.
func (l SpecialtyLevel) Rank() int {
	switch l {
	case LevelBeginner:
		return 1
	case LevelIntermediate:
		return 2
	case LevelExpert:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether l meets or exceeds min.
func (l SpecialtyLevel) AtLeast(min SpecialtyLevel) bool {
	return l.Rank() >= min.Rank()
}

// ParseSpecialtyLevel normalizes a level string. Empty input yields beginner.
func ParseSpecialtyLevel(s string) (SpecialtyLevel, error) {
	switch SpecialtyLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "", LevelBeginner:
		return LevelBeginner, nil
	case LevelIntermediate:
		return LevelIntermediate, nil
	case LevelExpert:
		return LevelExpert, nil
	}
	return "", fmt.Errorf("unknown specialty level %q", s)
}

// TechnicianSpecialty records a technician's proficiency in one specialty.
type TechnicianSpecialty struct {
	ID           string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	TechnicianID string         `gorm:"type:varchar(64);uniqueIndex:idx_tech_specialty;not null" json:"technician_id"`
	SpecialtyID  string         `gorm:"type:varchar(64);uniqueIndex:idx_tech_specialty;not null" json:"specialty_id"`
	Level        SpecialtyLevel `gorm:"type:varchar(16);not null;default:'beginner'" json:"level"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (TechnicianSpecialty) TableName() string {
	return "technician_specialties"
}
