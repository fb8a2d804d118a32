/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"fmt"
	"time"

	"github.com/friendsincode/torque/internal/models"
	"github.com/friendsincode/torque/internal/timewindow"
)

// DayWindows yields the schedulable window for a calendar date.
type DayWindows interface {
	WindowOn(day time.Time) (timewindow.Window, bool)
}

// Calendar answers business-hours questions for one organization in one timezone.
type Calendar struct {
	loc   *time.Location
	hours map[time.Weekday][2]timewindow.ClockTime
}

// NewCalendar builds a calendar from weekly business hours rows. Closed days and
// weekdays without a row are not schedulable.
func NewCalendar(rows []models.BusinessHours, loc *time.Location) (*Calendar, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := &Calendar{loc: loc, hours: make(map[time.Weekday][2]timewindow.ClockTime, len(rows))}
	for _, row := range rows {
		if row.Closed {
			continue
		}
		if row.DayOfWeek < 0 || row.DayOfWeek > 6 {
			return nil, fmt.Errorf("business hours %s: day_of_week %d out of range", row.ID, row.DayOfWeek)
		}
		open, err := timewindow.ParseClock(row.OpenTime)
		if err != nil {
			return nil, fmt.Errorf("business hours %s: %w", row.ID, err)
		}
		closing, err := timewindow.ParseClock(row.CloseTime)
		if err != nil {
			return nil, fmt.Errorf("business hours %s: %w", row.ID, err)
		}
		if closing <= open {
			return nil, fmt.Errorf("business hours %s: close %s is not after open %s", row.ID, closing, open)
		}
		c.hours[time.Weekday(row.DayOfWeek)] = [2]timewindow.ClockTime{open, closing}
	}
	return c, nil
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// WindowOn returns the open window for the calendar date of day.
func (c *Calendar) WindowOn(day time.Time) (timewindow.Window, bool) {
	day = day.In(c.loc)
	h, ok := c.hours[day.Weekday()]
	if !ok {
		return timewindow.Window{}, false
	}
	return timewindow.New(h[0].On(day), h[1].On(day)), true
}

// Contains reports whether w lies inside the business hours of w's start date.
func (c *Calendar) Contains(w timewindow.Window) bool {
	day, ok := c.WindowOn(w.Start)
	return ok && day.Contains(w)
}

// NextOpenDay returns the window of the first business day strictly after day,
// searching at most limit days ahead.
func (c *Calendar) NextOpenDay(day time.Time, limit int) (timewindow.Window, bool) {
	cur := timewindow.StartOfDay(day.In(c.loc))
	for i := 0; i < limit; i++ {
		cur = cur.AddDate(0, 0, 1)
		if w, ok := c.WindowOn(cur); ok {
			return w, true
		}
	}
	return timewindow.Window{}, false
}
