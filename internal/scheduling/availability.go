/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/torque/internal/models"
	"github.com/friendsincode/torque/internal/timewindow"
)

// Candidate is a window proposed for one technician.
type Candidate struct {
	TechnicianID string
	Window       timewindow.Window

	// ExcludeWorkOrderID ignores bookings of this work order, so a reschedule is not
	// blocked by the schedule it replaces.
	ExcludeWorkOrderID string
}

// Oracle is the single place that decides whether a technician is free for a window.
type Oracle struct {
	source         Source
	validator      *Validator
	organizationID string
	loc            *time.Location
	logger         zerolog.Logger
}

// NewOracle creates the availability oracle for one organization.
func NewOracle(source Source, validator *Validator, organizationID string, loc *time.Location, logger zerolog.Logger) *Oracle {
	if loc == nil {
		loc = time.UTC
	}
	return &Oracle{
		source:         source,
		validator:      validator,
		organizationID: organizationID,
		loc:            loc,
		logger:         logger.With().Str("component", "availability_oracle").Logger(),
	}
}

// Calendar loads the organization's business hours.
func (o *Oracle) Calendar(ctx context.Context) (*Calendar, error) {
	rows, err := o.source.GetBusinessHours(ctx, o.organizationID)
	if err != nil {
		return nil, fmt.Errorf("load business hours: %w", err)
	}
	return NewCalendar(rows, o.loc)
}

// IsAvailable reports whether technicianID is free for [start, end): inside business
// hours, not blocked by an availability override, and not overlapping an active booking.
func (o *Oracle) IsAvailable(ctx context.Context, technicianID string, start, end time.Time) (bool, error) {
	ok, _, err := o.Probe(ctx, technicianID, start, end)
	return ok, err
}

// Probe is IsAvailable that also names the rule that failed.
func (o *Oracle) Probe(ctx context.Context, technicianID string, start, end time.Time) (bool, Rule, error) {
	err := o.check(ctx, Candidate{TechnicianID: technicianID, Window: timewindow.New(start, end)}, false)
	if err == nil {
		return true, "", nil
	}
	var availErr *AvailabilityError
	if errors.As(err, &availErr) {
		return false, availErr.Rule, nil
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false, "", nil
	}
	return false, "", err
}

// Check applies every rule, including the minimum break, to a candidate. It returns
// a *ValidationError or *AvailabilityError when the candidate is rejected.
func (o *Oracle) Check(ctx context.Context, c Candidate) error {
	return o.check(ctx, c, true)
}

func (o *Oracle) check(ctx context.Context, c Candidate, withBreak bool) error {
	if c.TechnicianID == "" {
		return invalid("technician_id", "required")
	}
	w := timewindow.New(c.Window.Start.In(o.loc), c.Window.End.In(o.loc))
	if !w.Valid() {
		return invalid("window", "start %s must be before end %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}

	cal, err := o.Calendar(ctx)
	if err != nil {
		return err
	}
	if !cal.Contains(w) {
		return &AvailabilityError{Rule: RuleOutsideBusinessHours, TechnicianID: c.TechnicianID, Window: w}
	}

	override, err := o.source.GetTechnicianAvailability(ctx, c.TechnicianID, w.Start)
	if err != nil {
		return fmt.Errorf("load availability override: %w", err)
	}
	if err := checkOverride(override, c.TechnicianID, w); err != nil {
		return err
	}

	dayStart := timewindow.StartOfDay(w.Start)
	bookings, err := o.source.GetActiveBookings(ctx, c.TechnicianID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("load active bookings: %w", err)
	}
	if c.ExcludeWorkOrderID != "" {
		kept := make([]models.Booking, 0, len(bookings))
		for _, b := range bookings {
			if b.WorkOrderID != c.ExcludeWorkOrderID {
				kept = append(kept, b)
			}
		}
		bookings = kept
	}

	items := BookingItems(bookings)
	var result ValidationResult
	if withBreak {
		result = o.validator.ValidateCandidate(c.TechnicianID, w.Start, w.Start, w.End, items)
	} else {
		result = o.validator.CheckOverlap(c.TechnicianID, w, items)
	}
	return result.Err()
}

func checkOverride(override *models.TechnicianAvailability, technicianID string, w timewindow.Window) error {
	if override == nil {
		return nil
	}
	if len(override.Windows) > 0 {
		for _, slot := range override.Windows {
			allowed, err := timewindow.OnDay(w.Start, slot.StartTime, slot.EndTime)
			if err != nil {
				continue
			}
			if allowed.Contains(w) {
				return nil
			}
		}
		return &AvailabilityError{
			Rule:         RuleOutsideAvailabilityWindow,
			TechnicianID: technicianID,
			Window:       w,
			Reason:       override.Reason,
		}
	}
	if !override.Available {
		return &AvailabilityError{
			Rule:         RuleTechnicianUnavailable,
			TechnicianID: technicianID,
			Window:       w,
			Reason:       override.Reason,
		}
	}
	return nil
}
