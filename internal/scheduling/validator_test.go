/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/torque/internal/models"
	"github.com/friendsincode/torque/internal/timewindow"
)

func TestNewValidatorDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want time.Duration
	}{
		{"zero uses default", 0, 30 * time.Minute},
		{"negative uses default", -5, 30 * time.Minute},
		{"custom preserved", 45, 45 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(tt.in, zerolog.Nop())
			if v.MinBreak() != tt.want {
				t.Errorf("MinBreak() = %v, want %v", v.MinBreak(), tt.want)
			}
		})
	}
}

func TestValidateCandidate(t *testing.T) {
	v := NewValidator(30, zerolog.Nop())
	existing := BookingItems([]models.Booking{
		booking("b1", "tech-x", "wo-1", monday(10, 0), monday(11, 0)),
	})

	tests := []struct {
		name      string
		tech      string
		start     time.Time
		end       time.Time
		wantValid bool
		wantRule  Rule
		wantGap   int
	}{
		{"overlap", "tech-x", monday(10, 30), monday(11, 30), false, RuleOverlap, -30},
		{"insufficient break after", "tech-x", monday(11, 10), monday(12, 0), false, RuleInsufficientBreak, 10},
		{"insufficient break before", "tech-x", monday(9, 0), monday(9, 45), false, RuleInsufficientBreak, 15},
		{"exact break is enough", "tech-x", monday(11, 30), monday(12, 30), true, "", 0},
		{"touching still needs a break", "tech-x", monday(11, 0), monday(12, 0), false, RuleInsufficientBreak, 0},
		{"other technician ignored", "tech-y", monday(10, 0), monday(11, 0), true, "", 0},
		{"other day ignored for break", "tech-x", onDay(1, 11, 0), onDay(1, 12, 0), true, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.ValidateCandidate(tt.tech, tt.start, tt.start, tt.end, existing)
			if res.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (violations %+v)", res.Valid, tt.wantValid, res.Violations)
			}
			if res.Reason() != tt.wantRule {
				t.Fatalf("Reason() = %q, want %q", res.Reason(), tt.wantRule)
			}
			if !tt.wantValid && res.Violations[0].GapMinutes != tt.wantGap {
				t.Errorf("GapMinutes = %d, want %d", res.Violations[0].GapMinutes, tt.wantGap)
			}
		})
	}
}

func TestValidateCandidateReportsOverlapFirst(t *testing.T) {
	v := NewValidator(30, zerolog.Nop())
	existing := BookingItems([]models.Booking{
		booking("early", "tech-x", "wo-1", monday(9, 0), monday(9, 50)),
		booking("late", "tech-x", "wo-2", monday(10, 30), monday(11, 0)),
	})

	res := v.ValidateCandidate("tech-x", monday(10, 0), monday(10, 0), monday(10, 45), existing)
	if res.Valid {
		t.Fatal("expected violations")
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(res.Violations))
	}
	if res.Violations[0].Rule != RuleOverlap || res.Violations[0].ConflictID != "late" {
		t.Errorf("first violation = %+v, want overlap with late", res.Violations[0])
	}
	if res.Violations[1].Rule != RuleInsufficientBreak || res.Violations[1].ConflictID != "early" {
		t.Errorf("second violation = %+v, want break with early", res.Violations[1])
	}
}

func TestCheckOverlapIgnoresBreak(t *testing.T) {
	v := NewValidator(30, zerolog.Nop())
	existing := BookingItems([]models.Booking{
		booking("b1", "tech-x", "wo-1", monday(10, 0), monday(11, 0)),
	})

	if res := v.CheckOverlap("tech-x", timewindow.New(monday(11, 0), monday(12, 0)), existing); !res.Valid {
		t.Fatalf("touching window should pass overlap-only check: %+v", res.Violations)
	}
	if res := v.CheckOverlap("tech-x", timewindow.New(monday(10, 59), monday(12, 0)), existing); res.Valid {
		t.Fatal("overlapping window should fail")
	}
}

func TestBookingItemsSkipsCancelled(t *testing.T) {
	b := booking("b1", "tech-x", "wo-1", monday(10, 0), monday(11, 0))
	b.Status = models.BookingCancelled
	if items := BookingItems([]models.Booking{b}); len(items) != 0 {
		t.Fatalf("expected cancelled booking to be skipped, got %d items", len(items))
	}
}

func TestValidationResultErr(t *testing.T) {
	v := NewValidator(30, zerolog.Nop())
	existing := BookingItems([]models.Booking{
		booking("b1", "tech-x", "wo-1", monday(10, 0), monday(11, 0)),
	})
	res := v.ValidateCandidate("tech-x", monday(11, 10), monday(11, 10), monday(12, 0), existing)

	var availErr *AvailabilityError
	if !errors.As(res.Err(), &availErr) {
		t.Fatalf("expected *AvailabilityError, got %v", res.Err())
	}
	if availErr.Rule != RuleInsufficientBreak || availErr.GapMinutes != 10 {
		t.Errorf("unexpected error %+v", availErr)
	}
	if next := availErr.NextFeasibleStart(v.MinBreak()); !next.Equal(monday(11, 30)) {
		t.Errorf("NextFeasibleStart = %s, want 11:30", next)
	}
}

func TestShiftItemsValidatedLikeBookings(t *testing.T) {
	v := NewValidator(30, zerolog.Nop())
	shifts := []models.Shift{
		{ID: "s1", StaffID: "tech-x", StartsAt: monday(8, 0), EndsAt: monday(12, 0), Status: models.ShiftPlanned},
		{ID: "s2", StaffID: "tech-x", StartsAt: monday(12, 0), EndsAt: monday(13, 0), Status: models.ShiftCancelled},
	}

	res := v.ValidateCandidate("tech-x", monday(12, 15), monday(12, 15), monday(16, 0), ShiftItems(shifts))
	if res.Valid || res.Reason() != RuleInsufficientBreak {
		t.Fatalf("expected insufficient break against s1, got %+v", res.Violations)
	}
}
