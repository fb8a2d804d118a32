/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/torque/internal/models"
	"github.com/friendsincode/torque/internal/timewindow"
)

// ChainKind distinguishes a job that fits in one day from one split across days.
type ChainKind int

const (
	SingleDay ChainKind = iota
	MultiDay
)

func (k ChainKind) String() string {
	if k == MultiDay {
		return "multi_day"
	}
	return "single_day"
}

// ChainSegment is one day's share of a job.
type ChainSegment struct {
	Sequence  int               `json:"sequence_number"`
	Window    timewindow.Window `json:"window"`
	Minutes   int               `json:"duration_minutes"`
	Remaining int               `json:"remaining_minutes"`
}

// Chain is the ordered set of segments for one job.
type Chain struct {
	TotalMinutes int            `json:"total_duration_minutes"`
	Segments     []ChainSegment `json:"segments"`
}

// Kind reports whether the chain spans more than one segment.
func (c Chain) Kind() ChainKind {
	if len(c.Segments) > 1 {
		return MultiDay
	}
	return SingleDay
}

// Start returns the start of the first segment.
func (c Chain) Start() time.Time {
	if len(c.Segments) == 0 {
		return time.Time{}
	}
	return c.Segments[0].Window.Start
}

// Validate checks the chain invariants: sequence numbers run 1..n, the segment
// minutes add up to the total, and the last segment leaves nothing remaining.
func (c Chain) Validate() error {
	if len(c.Segments) == 0 {
		return fmt.Errorf("chain has no segments")
	}
	sum := 0
	for i, seg := range c.Segments {
		if seg.Sequence != i+1 {
			return fmt.Errorf("segment %d has sequence number %d", i+1, seg.Sequence)
		}
		if seg.Minutes <= 0 || seg.Window.Minutes() != seg.Minutes {
			return fmt.Errorf("segment %d duration %d does not match window %s", seg.Sequence, seg.Minutes, seg.Window)
		}
		sum += seg.Minutes
		if seg.Remaining != c.TotalMinutes-sum {
			return fmt.Errorf("segment %d remaining %d, want %d", seg.Sequence, seg.Remaining, c.TotalMinutes-sum)
		}
	}
	if sum != c.TotalMinutes {
		return fmt.Errorf("segments sum to %d minutes, want %d", sum, c.TotalMinutes)
	}
	return nil
}

// Bookings flattens the chain into booking rows. The first row is the chain root:
// it has no parent, and every later segment points back at it.
func (c Chain) Bookings(workOrderID, technicianID string, actorID *string) []models.Booking {
	multi := c.Kind() == MultiDay
	rows := make([]models.Booking, 0, len(c.Segments))
	var rootID string
	for _, seg := range c.Segments {
		b := models.Booking{
			ID:                   uuid.NewString(),
			WorkOrderID:          workOrderID,
			TechnicianID:         technicianID,
			StartsAt:             seg.Window.Start.UTC(),
			EndsAt:               seg.Window.End.UTC(),
			DurationMinutes:      seg.Minutes,
			Status:               models.BookingScheduled,
			IsMultiDay:           multi,
			SequenceNumber:       seg.Sequence,
			RemainingMinutes:     seg.Remaining,
			TotalDurationMinutes: c.TotalMinutes,
			CreatedBy:            actorID,
			UpdatedBy:            actorID,
		}
		if seg.Sequence == 1 {
			rootID = b.ID
		} else {
			parent := rootID
			b.ParentBookingID = &parent
		}
		rows = append(rows, b)
	}
	return rows
}

// ChainFromBookings rebuilds a chain from stored rows of one work order.
func ChainFromBookings(bookings []models.Booking) Chain {
	sorted := append([]models.Booking(nil), bookings...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SequenceNumber < sorted[j].SequenceNumber
	})
	c := Chain{Segments: make([]ChainSegment, 0, len(sorted))}
	for _, b := range sorted {
		if c.TotalMinutes == 0 {
			c.TotalMinutes = b.TotalDurationMinutes
		}
		c.Segments = append(c.Segments, ChainSegment{
			Sequence:  b.SequenceNumber,
			Window:    b.Window(),
			Minutes:   b.DurationMinutes,
			Remaining: b.RemainingMinutes,
		})
	}
	return c
}
