/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/torque/internal/models"
	"github.com/friendsincode/torque/internal/timewindow"
)

// DefaultMinBreakMinutes is the rest period required between two same-day items.
const DefaultMinBreakMinutes = 30

// OccupiedItem is anything that occupies a technician's time: a booking or a shift.
type OccupiedItem struct {
	ID          string
	Type        string // "booking", "shift"
	OwnerID     string
	WorkOrderID string
	Window      timewindow.Window
}

// Violation is one rule failure found for a candidate window.
type Violation struct {
	Rule       Rule              `json:"rule"`
	Message    string            `json:"message"`
	Conflict   timewindow.Window `json:"conflict"`
	ConflictID string            `json:"conflict_id"`
	GapMinutes int               `json:"gap_minutes"`
	Details    map[string]any    `json:"details,omitempty"`
}

// ValidationResult is the outcome of checking one candidate.
type ValidationResult struct {
	Valid        bool              `json:"valid"`
	TechnicianID string            `json:"technician_id"`
	Candidate    timewindow.Window `json:"candidate"`
	Violations   []Violation       `json:"violations"`
	CheckedAt    time.Time         `json:"checked_at"`
}

// Reason returns the first violated rule, or "" when the candidate is valid.
func (r ValidationResult) Reason() Rule {
	if len(r.Violations) == 0 {
		return ""
	}
	return r.Violations[0].Rule
}

// Err converts a failed result into an *AvailabilityError. It returns nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid || len(r.Violations) == 0 {
		return nil
	}
	v := r.Violations[0]
	conflict := v.Conflict
	return &AvailabilityError{
		Rule:         v.Rule,
		TechnicianID: r.TechnicianID,
		Window:       r.Candidate,
		Conflict:     &conflict,
		ConflictID:   v.ConflictID,
		GapMinutes:   v.GapMinutes,
		Reason:       v.Message,
	}
}

// Validator enforces the no-overlap and minimum-break rules. Bookings and roster
// shifts are both checked through it.
type Validator struct {
	minBreak int
	logger   zerolog.Logger
}

// NewValidator creates a validator. A non-positive minBreakMinutes uses the default.
func NewValidator(minBreakMinutes int, logger zerolog.Logger) *Validator {
	if minBreakMinutes <= 0 {
		minBreakMinutes = DefaultMinBreakMinutes
	}
	return &Validator{
		minBreak: minBreakMinutes,
		logger:   logger.With().Str("component", "conflict_validator").Logger(),
	}
}

// MinBreak returns the configured minimum break.
func (v *Validator) MinBreak() time.Duration {
	return time.Duration(v.minBreak) * time.Minute
}

// ValidateCandidate checks [start, end) for technicianID on date against existing.
// Items owned by someone else or falling on another calendar date are ignored.
func (v *Validator) ValidateCandidate(technicianID string, date time.Time, start, end time.Time, existing []OccupiedItem) ValidationResult {
	return v.validate(technicianID, date, timewindow.New(start, end), existing, true)
}

// CheckOverlap applies only the no-overlap rule. The availability oracle uses it for
// its yes/no answer.
func (v *Validator) CheckOverlap(technicianID string, candidate timewindow.Window, existing []OccupiedItem) ValidationResult {
	return v.validate(technicianID, candidate.Start, candidate, existing, false)
}

func (v *Validator) validate(technicianID string, date time.Time, candidate timewindow.Window, existing []OccupiedItem, withBreak bool) ValidationResult {
	result := ValidationResult{
		Valid:        true,
		TechnicianID: technicianID,
		Candidate:    candidate,
		Violations:   []Violation{},
		CheckedAt:    time.Now(),
	}

	items := make([]OccupiedItem, 0, len(existing))
	for _, item := range existing {
		if item.OwnerID != technicianID {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Window.Start.Before(items[j].Window.Start)
	})

	for _, item := range items {
		if timewindow.Overlaps(candidate, item.Window) {
			overlapStart := maxTime(candidate.Start, item.Window.Start)
			overlapEnd := minTime(candidate.End, item.Window.End)
			overlapMinutes := int(overlapEnd.Sub(overlapStart).Minutes())
			result.Violations = append(result.Violations, Violation{
				Rule:       RuleOverlap,
				Message:    fmt.Sprintf("overlaps %s %s by %d minutes", item.Type, item.Window, overlapMinutes),
				Conflict:   item.Window,
				ConflictID: item.ID,
				GapMinutes: timewindow.GapMinutes(candidate, item.Window),
				Details: map[string]any{
					"overlap_start":   overlapStart,
					"overlap_end":     overlapEnd,
					"overlap_minutes": overlapMinutes,
				},
			})
			continue
		}

		if !withBreak || !timewindow.SameCalendarDay(date, item.Window.Start) {
			continue
		}

		gap := timewindow.GapMinutes(candidate, item.Window)
		if gap < v.minBreak {
			result.Violations = append(result.Violations, Violation{
				Rule:       RuleInsufficientBreak,
				Message:    fmt.Sprintf("only %d minutes from %s %s, at least %d required", gap, item.Type, item.Window, v.minBreak),
				Conflict:   item.Window,
				ConflictID: item.ID,
				GapMinutes: gap,
				Details: map[string]any{
					"gap_minutes":       gap,
					"min_break_minutes": v.minBreak,
				},
			})
		}
	}

	if len(result.Violations) > 0 {
		result.Valid = false
		// Overlaps are reported ahead of break violations.
		sort.SliceStable(result.Violations, func(i, j int) bool {
			return result.Violations[i].Rule == RuleOverlap && result.Violations[j].Rule != RuleOverlap
		})
		v.logger.Debug().
			Str("technician_id", technicianID).
			Str("candidate", candidate.String()).
			Str("rule", string(result.Reason())).
			Int("violations", len(result.Violations)).
			Msg("candidate rejected")
	}

	return result
}

// BookingItems converts active bookings into occupied items.
func BookingItems(bookings []models.Booking) []OccupiedItem {
	items := make([]OccupiedItem, 0, len(bookings))
	for _, b := range bookings {
		if !b.IsActive() {
			continue
		}
		items = append(items, OccupiedItem{
			ID:          b.ID,
			Type:        "booking",
			OwnerID:     b.TechnicianID,
			WorkOrderID: b.WorkOrderID,
			Window:      b.Window(),
		})
	}
	return items
}

// ShiftItems converts non-cancelled shifts into occupied items.
func ShiftItems(shifts []models.Shift) []OccupiedItem {
	items := make([]OccupiedItem, 0, len(shifts))
	for _, s := range shifts {
		if s.Status == models.ShiftCancelled {
			continue
		}
		items = append(items, OccupiedItem{
			ID:      s.ID,
			Type:    "shift",
			OwnerID: s.StaffID,
			Window:  s.Window(),
		})
	}
	return items
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
