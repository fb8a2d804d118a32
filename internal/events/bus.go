/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventBookingScheduled   EventType = "booking.scheduled"
	EventBookingRescheduled EventType = "booking.rescheduled"
	EventBookingUnscheduled EventType = "booking.unscheduled"
	EventBookingConflict    EventType = "booking.conflict"
	EventBookingStatus      EventType = "booking.status"
	EventShiftCreated       EventType = "shift.created"

	// Cache invalidation events
	EventBusinessHoursUpdated      EventType = "cache.business_hours_updated"
	EventTechnicianSpecialtyUpdate EventType = "cache.technician_specialty_updated"
)

// AllTypes lists every event type, for bridges that forward everything.
var AllTypes = []EventType{
	EventBookingScheduled,
	EventBookingRescheduled,
	EventBookingUnscheduled,
	EventBookingConflict,
	EventBookingStatus,
	EventShiftCreated,
	EventBusinessHoursUpdated,
	EventTechnicianSpecialtyUpdate,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. A full subscriber drops the event.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}
