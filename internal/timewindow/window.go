/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timewindow provides interval math over half-open [start, end) windows.
package timewindow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New returns the window [start, end).
func New(start, end time.Time) Window {
	return Window{Start: start, End: end}
}

// Valid reports whether the window has a positive length.
func (w Window) Valid() bool {
	return w.Start.Before(w.End)
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Minutes returns the length of the window in whole minutes.
func (w Window) Minutes() int {
	return int(w.Duration() / time.Minute)
}

// Contains reports whether other lies entirely inside w.
func (w Window) Contains(other Window) bool {
	return !other.Start.Before(w.Start) && !other.End.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Overlaps reports whether a and b share any instant. Touching endpoints do not overlap.
func Overlaps(a, b Window) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// GapMinutes returns the minutes between the earlier window's end and the later
// window's start. The result is negative when the windows overlap.
func GapMinutes(a, b Window) int {
	first, second := a, b
	if b.Start.Before(a.Start) {
		first, second = b, a
	}
	return int(second.Start.Sub(first.End) / time.Minute)
}

// SameCalendarDay reports whether both instants fall on the same date in a's location.
func SameCalendarDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// StartOfDay truncates t to local midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DateOf returns the calendar date of t as midnight UTC, the form dates are stored in.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ClockTime is a wall-clock time of day stored as minutes after midnight.
type ClockTime int

// ParseClock parses an "HH:MM" string. "24:00" is accepted as end of day.
func ParseClock(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock hour %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock minute %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return ClockTime(h*60 + m), nil
}

// On anchors the clock time to the calendar date of day in day's location. The
// result is the wall-clock reading, not an offset from midnight, so it holds on
// daylight saving transition days. "24:00" is the following midnight.
func (c ClockTime) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, day.Location())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// OnDay builds the window between two "HH:MM" clock strings on the date of day.
func OnDay(day time.Time, start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	w := Window{Start: s.On(day), End: e.On(day)}
	if !w.Valid() {
		return Window{}, fmt.Errorf("clock window %s-%s is empty", start, end)
	}
	return w, nil
}
