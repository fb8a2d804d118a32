/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package seed loads an organization fixture (business hours, technicians,
// specialties, work orders) from YAML into the database.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/torque/internal/events"
	"github.com/friendsincode/torque/internal/models"
)

// Fixture is the YAML document layout.
type Fixture struct {
	Organization  Organization   `yaml:"organization"`
	BusinessHours []Hours        `yaml:"business_hours"`
	Technicians   []Technician   `yaml:"technicians"`
	Availability  []Availability `yaml:"availability"`
	WorkOrders    []WorkOrder    `yaml:"work_orders"`
}

type Organization struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// Hours is one weekday. Days missing from the fixture are closed.
type Hours struct {
	Day    string `yaml:"day"`
	Open   string `yaml:"open"`
	Close  string `yaml:"close"`
	Closed bool   `yaml:"closed"`
}

type Technician struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Email       string      `yaml:"email"`
	Active      *bool       `yaml:"active"`
	Specialties []Specialty `yaml:"specialties"`
}

type Specialty struct {
	ID    string `yaml:"id"`
	Level string `yaml:"level"`
}

type Availability struct {
	TechnicianID string   `yaml:"technician_id"`
	Date         string   `yaml:"date"`
	Available    bool     `yaml:"available"`
	Windows      []Window `yaml:"windows"`
	Reason       string   `yaml:"reason"`
}

type Window struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type WorkOrder struct {
	ID                  string      `yaml:"id"`
	Description         string      `yaml:"description"`
	EstimatedMinutes    int         `yaml:"estimated_minutes"`
	Priority            string      `yaml:"priority"`
	IsEmergency         bool        `yaml:"is_emergency"`
	RequiredSpecialties []Specialty `yaml:"required_specialties"`
}

// Summary counts what Apply wrote.
type Summary struct {
	OrganizationID string
	BusinessHours  int
	Technicians    int
	Specialties    int
	Availability   int
	WorkOrders     int
}

// LoadFile parses a fixture file.
func LoadFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and validates a fixture.
func Load(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func parseClock(s string) error {
	_, err := time.Parse("15:04", s)
	return err
}

// Validate checks references and formats before anything is written.
func (fx *Fixture) Validate() error {
	if fx.Organization.Name == "" {
		return fmt.Errorf("organization.name is required")
	}
	if fx.Organization.Timezone != "" {
		if _, err := time.LoadLocation(fx.Organization.Timezone); err != nil {
			return fmt.Errorf("organization.timezone: %w", err)
		}
	}

	seenDays := map[time.Weekday]bool{}
	for i, h := range fx.BusinessHours {
		day, ok := weekdays[strings.ToLower(h.Day)]
		if !ok {
			return fmt.Errorf("business_hours[%d]: unknown day %q", i, h.Day)
		}
		if seenDays[day] {
			return fmt.Errorf("business_hours[%d]: %s listed twice", i, h.Day)
		}
		seenDays[day] = true
		if h.Closed {
			continue
		}
		if err := parseClock(h.Open); err != nil {
			return fmt.Errorf("business_hours[%d].open: %w", i, err)
		}
		if err := parseClock(h.Close); err != nil {
			return fmt.Errorf("business_hours[%d].close: %w", i, err)
		}
		if h.Open >= h.Close {
			return fmt.Errorf("business_hours[%d]: open must be before close", i)
		}
	}

	techs := map[string]bool{}
	for i, t := range fx.Technicians {
		if t.ID == "" || t.Name == "" {
			return fmt.Errorf("technicians[%d]: id and name are required", i)
		}
		techs[t.ID] = true
		for j, s := range t.Specialties {
			if s.ID == "" {
				return fmt.Errorf("technicians[%d].specialties[%d]: id is required", i, j)
			}
			if _, err := models.ParseSpecialtyLevel(s.Level); err != nil {
				return fmt.Errorf("technicians[%d].specialties[%d]: %w", i, j, err)
			}
		}
	}

	for i, a := range fx.Availability {
		if !techs[a.TechnicianID] {
			return fmt.Errorf("availability[%d]: unknown technician %q", i, a.TechnicianID)
		}
		if _, err := time.Parse(time.DateOnly, a.Date); err != nil {
			return fmt.Errorf("availability[%d].date: %w", i, err)
		}
		for j, w := range a.Windows {
			if parseClock(w.Start) != nil || parseClock(w.End) != nil || w.Start >= w.End {
				return fmt.Errorf("availability[%d].windows[%d]: invalid window %s-%s", i, j, w.Start, w.End)
			}
		}
	}

	for i, wo := range fx.WorkOrders {
		if wo.ID == "" {
			return fmt.Errorf("work_orders[%d]: id is required", i)
		}
		if wo.EstimatedMinutes < 0 {
			return fmt.Errorf("work_orders[%d]: estimated_minutes must not be negative", i)
		}
		switch models.Priority(wo.Priority) {
		case "", models.PriorityLow, models.PriorityNormal, models.PriorityHigh:
		default:
			return fmt.Errorf("work_orders[%d]: unknown priority %q", i, wo.Priority)
		}
		for j, s := range wo.RequiredSpecialties {
			if _, err := models.ParseSpecialtyLevel(s.Level); err != nil {
				return fmt.Errorf("work_orders[%d].required_specialties[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

// Apply upserts the fixture in one transaction and publishes cache invalidations
// for the organization's hours and every seeded technician.
func Apply(ctx context.Context, db *gorm.DB, fx *Fixture, bus *events.Bus) (*Summary, error) {
	orgID := fx.Organization.ID
	if orgID == "" {
		orgID = uuid.NewString()
	}
	tz := fx.Organization.Timezone
	if tz == "" {
		tz = "UTC"
	}
	sum := &Summary{OrganizationID: orgID}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org := models.Organization{ID: orgID, Name: fx.Organization.Name, Timezone: tz}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&org).Error; err != nil {
			return fmt.Errorf("upsert organization: %w", err)
		}

		if err := applyHours(tx, orgID, fx.BusinessHours, sum); err != nil {
			return err
		}
		if err := applyTechnicians(tx, orgID, fx.Technicians, sum); err != nil {
			return err
		}
		if err := applyAvailability(tx, fx.Availability, sum); err != nil {
			return err
		}
		return applyWorkOrders(tx, orgID, fx.WorkOrders, sum)
	})
	if err != nil {
		return nil, err
	}

	bus.Publish(events.EventBusinessHoursUpdated, events.Payload{"organization_id": orgID})
	for _, t := range fx.Technicians {
		bus.Publish(events.EventTechnicianSpecialtyUpdate, events.Payload{"technician_id": t.ID})
	}
	return sum, nil
}

func applyHours(tx *gorm.DB, orgID string, hours []Hours, sum *Summary) error {
	byDay := map[time.Weekday]Hours{}
	for _, h := range hours {
		byDay[weekdays[strings.ToLower(h.Day)]] = h
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		h, listed := byDay[d]
		row := models.BusinessHours{
			ID:             uuid.NewString(),
			OrganizationID: orgID,
			DayOfWeek:      int(d),
			OpenTime:       h.Open,
			CloseTime:      h.Close,
			Closed:         !listed || h.Closed,
		}
		if row.Closed {
			row.OpenTime, row.CloseTime = "00:00", "00:00"
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}, {Name: "day_of_week"}},
			DoUpdates: clause.AssignmentColumns([]string{"open_time", "close_time", "closed", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("upsert business hours for %s: %w", d, err)
		}
		sum.BusinessHours++
	}
	return nil
}

func applyTechnicians(tx *gorm.DB, orgID string, techs []Technician, sum *Summary) error {
	for _, t := range techs {
		tech := models.Technician{ID: t.ID, OrganizationID: orgID, Name: t.Name, Email: t.Email, Active: true}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&tech).Error; err != nil {
			return fmt.Errorf("upsert technician %s: %w", t.ID, err)
		}
		// Active has a column default, so false must be written explicitly.
		active := t.Active == nil || *t.Active
		if err := tx.Model(&models.Technician{}).Where("id = ?", t.ID).Update("active", active).Error; err != nil {
			return fmt.Errorf("set technician %s active: %w", t.ID, err)
		}
		sum.Technicians++

		if err := tx.Where("technician_id = ?", t.ID).Delete(&models.TechnicianSpecialty{}).Error; err != nil {
			return fmt.Errorf("clear specialties for %s: %w", t.ID, err)
		}
		for _, s := range t.Specialties {
			level, _ := models.ParseSpecialtyLevel(s.Level)
			row := models.TechnicianSpecialty{ID: uuid.NewString(), TechnicianID: t.ID, SpecialtyID: s.ID, Level: level}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create specialty %s for %s: %w", s.ID, t.ID, err)
			}
			sum.Specialties++
		}
	}
	return nil
}

func applyAvailability(tx *gorm.DB, overrides []Availability, sum *Summary) error {
	for _, a := range overrides {
		date, _ := time.Parse(time.DateOnly, a.Date)
		windows := make([]models.AvailabilityWindow, 0, len(a.Windows))
		for _, w := range a.Windows {
			windows = append(windows, models.AvailabilityWindow{StartTime: w.Start, EndTime: w.End})
		}

		if err := tx.Where("technician_id = ? AND date = ?", a.TechnicianID, date).Delete(&models.TechnicianAvailability{}).Error; err != nil {
			return fmt.Errorf("clear availability for %s: %w", a.TechnicianID, err)
		}
		row := models.TechnicianAvailability{
			ID:           uuid.NewString(),
			TechnicianID: a.TechnicianID,
			Date:         date,
			Available:    true,
			Windows:      windows,
			Reason:       a.Reason,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create availability for %s: %w", a.TechnicianID, err)
		}
		if !a.Available {
			if err := tx.Model(&row).Update("available", false).Error; err != nil {
				return fmt.Errorf("mark %s unavailable: %w", a.TechnicianID, err)
			}
		}
		sum.Availability++
	}
	return nil
}

func applyWorkOrders(tx *gorm.DB, orgID string, orders []WorkOrder, sum *Summary) error {
	for _, w := range orders {
		priority := models.Priority(w.Priority)
		if priority == "" {
			priority = models.PriorityNormal
		}
		wo := models.WorkOrder{
			ID:                       w.ID,
			OrganizationID:           orgID,
			Description:              w.Description,
			EstimatedDurationMinutes: w.EstimatedMinutes,
			Priority:                 priority,
			IsEmergency:              w.IsEmergency,
		}
		// Scheduling state is owned by the engine; existing rows keep it.
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "estimated_duration_minutes", "priority", "is_emergency", "updated_at"}),
		}).Create(&wo).Error
		if err != nil {
			return fmt.Errorf("upsert work order %s: %w", w.ID, err)
		}

		if err := tx.Where("work_order_id = ?", w.ID).Delete(&models.WorkOrderSpecialty{}).Error; err != nil {
			return fmt.Errorf("clear requirements for %s: %w", w.ID, err)
		}
		for _, s := range w.RequiredSpecialties {
			level, _ := models.ParseSpecialtyLevel(s.Level)
			row := models.WorkOrderSpecialty{ID: uuid.NewString(), WorkOrderID: w.ID, SpecialtyID: s.ID, MinimumLevel: level}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create requirement %s for %s: %w", s.ID, w.ID, err)
			}
		}
		sum.WorkOrders++
	}
	return nil
}
