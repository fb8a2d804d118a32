/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/torque/internal/timewindow"
)

// Rule names the availability rule a candidate window violated.
type Rule string

const (
	RuleOutsideBusinessHours      Rule = "outside_business_hours"
	RuleTechnicianUnavailable     Rule = "technician_unavailable"
	RuleOutsideAvailabilityWindow Rule = "outside_availability_window"
	RuleOverlap                   Rule = "overlap"
	RuleInsufficientBreak         Rule = "insufficient_break"
	RuleEmptyWindow               Rule = "empty_window"
)

// ValidationError reports malformed input. It is always raised before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AvailabilityError reports that a window breaks business hours, technician
// availability, or the overlap / minimum-break rules.
type AvailabilityError struct {
	Rule         Rule
	TechnicianID string
	Window       timewindow.Window

	// Conflict is the occupied window that caused an overlap or break violation.
	Conflict   *timewindow.Window
	ConflictID string
	GapMinutes int
	Reason     string
}

func (e *AvailabilityError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "technician %s unavailable for %s: %s", e.TechnicianID, e.Window, e.Rule)
	if e.ConflictID != "" {
		fmt.Fprintf(&b, " (conflicts with %s)", e.ConflictID)
	}
	if e.Rule == RuleInsufficientBreak {
		fmt.Fprintf(&b, " gap=%dm", e.GapMinutes)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// NextFeasibleStart suggests the earliest start after the violation that could
// clear it, or the zero time when no suggestion applies.
func (e *AvailabilityError) NextFeasibleStart(minBreak time.Duration) time.Time {
	if e.Conflict == nil {
		return time.Time{}
	}
	return e.Conflict.End.Add(minBreak)
}

// SchedulingConflict reports a race detected at commit time. Callers should retry
// with fresh availability data rather than replaying the identical write.
type SchedulingConflict struct {
	TechnicianID string
	Reason       string
	Err          error
}

func (e *SchedulingConflict) Error() string {
	msg := "scheduling conflict for technician " + e.TechnicianID + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchedulingConflict) Unwrap() error {
	return e.Err
}

// NoMatchError reports that auto-assignment found no qualifying technician.
type NoMatchError struct {
	Required   []SpecialtyRequirement
	Candidates int
	Reason     string
}

func (e *NoMatchError) Error() string {
	ids := make([]string, 0, len(e.Required))
	for _, r := range e.Required {
		ids = append(ids, fmt.Sprintf("%s>=%s", r.SpecialtyID, r.MinimumLevel))
	}
	return fmt.Sprintf("no technician meets requirements [%s] among %d candidates: %s",
		strings.Join(ids, ", "), e.Candidates, e.Reason)
}

// NotFoundError reports a missing work order or technician.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}
