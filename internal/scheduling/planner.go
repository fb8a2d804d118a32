/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/torque/internal/timewindow"
)

// maxSearchSteps caps the forward search for an emergency slot.
const maxSearchSteps = 256

// Planner splits a job into a chain and validates every segment for one technician.
type Planner struct {
	oracle   *Oracle
	splitter *Splitter
}

// NewPlanner creates a planner.
func NewPlanner(oracle *Oracle, splitter *Splitter) *Planner {
	return &Planner{oracle: oracle, splitter: splitter}
}

// Plan lays out minutes starting at start and checks each segment with every
// availability rule. The whole chain is rejected if any segment fails.
func (p *Planner) Plan(ctx context.Context, technicianID string, start time.Time, minutes int, excludeWorkOrderID string) (Chain, error) {
	cal, err := p.oracle.Calendar(ctx)
	if err != nil {
		return Chain{}, err
	}
	return p.plan(ctx, cal, technicianID, start, minutes, excludeWorkOrderID)
}

func (p *Planner) plan(ctx context.Context, cal *Calendar, technicianID string, start time.Time, minutes int, excludeWorkOrderID string) (Chain, error) {
	chain, err := p.splitter.SplitDuration(minutes, start.In(cal.Location()), cal)
	if err != nil {
		var availErr *AvailabilityError
		if errors.As(err, &availErr) {
			availErr.TechnicianID = technicianID
		}
		return Chain{}, err
	}
	for _, seg := range chain.Segments {
		err := p.oracle.Check(ctx, Candidate{
			TechnicianID:       technicianID,
			Window:             seg.Window,
			ExcludeWorkOrderID: excludeWorkOrderID,
		})
		if err != nil {
			return Chain{}, err
		}
	}
	return chain, nil
}

// Earliest finds the first start at or after from, within searchDays, for which
// the whole chain passes every rule. Overlap and minimum-break rules are never
// relaxed; the search only moves the start forward.
func (p *Planner) Earliest(ctx context.Context, technicianID string, from time.Time, minutes int, excludeWorkOrderID string, searchDays int) (Chain, error) {
	cal, err := p.oracle.Calendar(ctx)
	if err != nil {
		return Chain{}, err
	}
	from = from.In(cal.Location())
	limit := timewindow.StartOfDay(from).AddDate(0, 0, searchDays)
	minBreak := p.oracle.validator.MinBreak()

	start := alignToOpen(cal, from, searchDays)
	var lastErr error
	for step := 0; step < maxSearchSteps && !start.IsZero() && start.Before(limit); step++ {
		chain, err := p.plan(ctx, cal, technicianID, start, minutes, excludeWorkOrderID)
		if err == nil {
			return chain, nil
		}

		var availErr *AvailabilityError
		if !errors.As(err, &availErr) {
			return Chain{}, err
		}
		lastErr = err

		next := availErr.NextFeasibleStart(minBreak)
		if next.IsZero() || !next.After(start) {
			// Day-level rejection: move to the next business day.
			day := availErr.Window.Start
			if day.Before(start) {
				day = start
			}
			w, ok := cal.NextOpenDay(day, searchDays)
			if !ok {
				break
			}
			next = w.Start
		}
		start = alignToOpen(cal, next, searchDays)
	}

	if lastErr == nil {
		lastErr = &AvailabilityError{
			Rule:         RuleOutsideBusinessHours,
			TechnicianID: technicianID,
			Window:       timewindow.New(from, from.Add(time.Duration(minutes)*time.Minute)),
			Reason:       "no business hours in search range",
		}
	}
	return Chain{}, lastErr
}

// alignToOpen moves t into business hours: to the day's opening if t is early,
// or to the next business day if t is at or past closing.
func alignToOpen(cal *Calendar, t time.Time, searchDays int) time.Time {
	if w, ok := cal.WindowOn(t); ok {
		if t.Before(w.Start) {
			return w.Start
		}
		if t.Before(w.End) {
			return t
		}
	}
	w, ok := cal.NextOpenDay(t, searchDays)
	if !ok {
		return time.Time{}
	}
	return w.Start
}
