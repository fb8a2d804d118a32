/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"time"

	"github.com/friendsincode/torque/internal/timewindow"
)

// DefaultSplitHorizonDays bounds how far ahead a job may be split.
const DefaultSplitHorizonDays = 30

// Splitter decomposes a job into per-day segments that fit business hours.
type Splitter struct {
	horizonDays int
}

// NewSplitter creates a splitter. A non-positive horizon uses the default.
func NewSplitter(horizonDays int) *Splitter {
	if horizonDays <= 0 {
		horizonDays = DefaultSplitHorizonDays
	}
	return &Splitter{horizonDays: horizonDays}
}

// SplitDuration lays jobMinutes out starting at start. The first segment begins at
// start and runs to the close of that day's window; each later segment starts at
// the opening of the next business day. The returned chain has not been checked
// against technician bookings.
func (s *Splitter) SplitDuration(jobMinutes int, start time.Time, days DayWindows) (Chain, error) {
	if jobMinutes <= 0 {
		return Chain{}, invalid("duration_minutes", "must be positive, got %d", jobMinutes)
	}
	if start.IsZero() {
		return Chain{}, invalid("start", "required")
	}

	first, ok := days.WindowOn(start)
	if !ok || start.Before(first.Start) || !start.Before(first.End) {
		return Chain{}, &AvailabilityError{
			Rule:   RuleOutsideBusinessHours,
			Window: timewindow.New(start, start.Add(time.Duration(jobMinutes)*time.Minute)),
			Reason: "job must start inside business hours",
		}
	}

	horizon := timewindow.StartOfDay(start).AddDate(0, 0, s.horizonDays)
	chain := Chain{TotalMinutes: jobMinutes}
	remaining := jobMinutes
	segStart := start
	day := first

	for {
		available := int(day.End.Sub(segStart) / time.Minute)
		if available > 0 {
			alloc := min(remaining, available)
			remaining -= alloc
			chain.Segments = append(chain.Segments, ChainSegment{
				Sequence:  len(chain.Segments) + 1,
				Window:    timewindow.New(segStart, segStart.Add(time.Duration(alloc)*time.Minute)),
				Minutes:   alloc,
				Remaining: remaining,
			})
		}
		if remaining == 0 {
			return chain, nil
		}

		next, found := nextWindow(day.Start, horizon, days)
		if !found {
			return Chain{}, invalid("duration_minutes",
				"%d minutes cannot be placed within %d days of %s", jobMinutes, s.horizonDays, start.Format(time.RFC3339))
		}
		day = next
		segStart = next.Start
	}
}

// nextWindow finds the first business day after the date of after and before horizon.
func nextWindow(after, horizon time.Time, days DayWindows) (timewindow.Window, bool) {
	cur := timewindow.StartOfDay(after)
	for {
		cur = cur.AddDate(0, 0, 1)
		if !cur.Before(horizon) {
			return timewindow.Window{}, false
		}
		if w, ok := days.WindowOn(cur); ok {
			return w, true
		}
	}
}
