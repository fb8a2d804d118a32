/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/torque/internal/models"
)

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&models.Organization{},
		&models.BusinessHours{},
		&models.Technician{},
		&models.TechnicianSpecialty{},
		&models.TechnicianAvailability{},
		&models.WorkOrder{},
		&models.WorkOrderSpecialty{},
		&models.Booking{},
		&models.ShiftType{},
		&models.Shift{},
		&models.AuditLog{},
	}
}

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(Models()...); err != nil {
		return err
	}

	if err := applyPostgresBookingOverlapGuard(database); err != nil {
		return err
	}
	if err := applyPostgresShiftOverlapGuard(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresBookingOverlapGuard rejects overlapping active bookings for one
// technician with SQLSTATE 23P01. The advisory lock serializes concurrent inserts
// for the same technician so two transactions cannot both pass the check.
func applyPostgresBookingOverlapGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_technician_booking_overlap()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.ends_at <= NEW.starts_at THEN
    RAISE EXCEPTION 'booking end must be after start'
      USING ERRCODE = '23514';
  END IF;

  IF NEW.status = 'cancelled' THEN
    RETURN NEW;
  END IF;

  PERFORM pg_advisory_xact_lock(hashtext('torque:booking:' || NEW.technician_id::text));

  IF EXISTS (
    SELECT 1
    FROM bookings b
    WHERE b.technician_id = NEW.technician_id
      AND b.id <> NEW.id
      AND b.status <> 'cancelled'
      AND tstzrange(b.starts_at, b.ends_at, '[)') && tstzrange(NEW.starts_at, NEW.ends_at, '[)')
  ) THEN
    RAISE EXCEPTION 'overlapping booking for technician %', NEW.technician_id
      USING ERRCODE = '23P01';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_technician_booking_overlap ON bookings;

CREATE TRIGGER trg_prevent_technician_booking_overlap
BEFORE INSERT OR UPDATE OF technician_id, starts_at, ends_at, status
ON bookings
FOR EACH ROW
EXECUTE FUNCTION prevent_technician_booking_overlap();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres booking overlap guard: %w", err)
	}

	return nil
}

func applyPostgresShiftOverlapGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_staff_shift_overlap()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.ends_at <= NEW.starts_at THEN
    RAISE EXCEPTION 'shift end must be after start'
      USING ERRCODE = '23514';
  END IF;

  IF NEW.status = 'cancelled' THEN
    RETURN NEW;
  END IF;

  PERFORM pg_advisory_xact_lock(hashtext('torque:shift:' || NEW.staff_id::text));

  IF EXISTS (
    SELECT 1
    FROM shifts s
    WHERE s.staff_id = NEW.staff_id
      AND s.id <> NEW.id
      AND s.status <> 'cancelled'
      AND tstzrange(s.starts_at, s.ends_at, '[)') && tstzrange(NEW.starts_at, NEW.ends_at, '[)')
  ) THEN
    RAISE EXCEPTION 'overlapping shift for staff member %', NEW.staff_id
      USING ERRCODE = '23P01';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_staff_shift_overlap ON shifts;

CREATE TRIGGER trg_prevent_staff_shift_overlap
BEFORE INSERT OR UPDATE OF staff_id, starts_at, ends_at, status
ON shifts
FOR EACH ROW
EXECUTE FUNCTION prevent_staff_shift_overlap();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres shift overlap guard: %w", err)
	}

	return nil
}
