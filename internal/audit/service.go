/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/torque/internal/events"
	"github.com/friendsincode/torque/internal/models"
)

// audited maps bus events to the audit action they record.
var audited = map[events.EventType]models.AuditAction{
	events.EventBookingScheduled:   models.AuditActionBookingSchedule,
	events.EventBookingRescheduled: models.AuditActionBookingReschedule,
	events.EventBookingUnscheduled: models.AuditActionBookingUnschedule,
	events.EventBookingConflict:    models.AuditActionBookingConflict,
	events.EventBookingStatus:      models.AuditActionBookingStatus,
	events.EventShiftCreated:       models.AuditActionShiftCreate,
}

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

type subscription struct {
	eventType events.EventType
	action    models.AuditAction
	ch        events.Subscriber
}

// Start subscribes to scheduling events and records them until ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	merged := make(chan struct {
		action  models.AuditAction
		payload events.Payload
	}, 64)

	subs := make([]subscription, 0, len(audited))
	for et, action := range audited {
		subs = append(subs, subscription{eventType: et, action: action, ch: s.bus.Subscribe(et)})
	}
	defer func() {
		for _, sub := range subs {
			s.bus.Unsubscribe(sub.eventType, sub.ch)
		}
	}()

	for _, sub := range subs {
		go func(sub subscription) {
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub.ch:
					if !ok {
						return
					}
					select {
					case merged <- struct {
						action  models.AuditAction
						payload events.Payload
					}{sub.action, payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(sub)
	}

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return
		case item := <-merged:
			s.logAuditEntry(ctx, item.action, item.payload)
		}
	}
}

func stringField(payload events.Payload, key string) (string, bool) {
	switch v := payload[key].(type) {
	case string:
		return v, v != ""
	case *string:
		if v != nil && *v != "" {
			return *v, true
		}
	}
	return "", false
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		Action:  action,
		Details: make(map[string]any),
	}

	if actor, ok := stringField(payload, "actor_id"); ok {
		entry.ActorID = &actor
	}
	if org, ok := stringField(payload, "organization_id"); ok {
		entry.OrganizationID = &org
	}
	switch {
	case payload["shift_id"] != nil:
		entry.ResourceType = "shift"
		entry.ResourceID, _ = stringField(payload, "shift_id")
	case payload["work_order_id"] != nil:
		entry.ResourceType = "work_order"
		entry.ResourceID, _ = stringField(payload, "work_order_id")
	}

	for k, v := range payload {
		switch k {
		case "actor_id", "organization_id":
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	ActorID        *string
	OrganizationID *string
	ResourceID     *string
	Action         *models.AuditAction
	StartTime      *time.Time
	EndTime        *time.Time
	Limit          int
	Offset         int
}

// Query retrieves audit logs with filters.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.ActorID != nil {
		query = query.Where("actor_id = ?", *filters.ActorID)
	}
	if filters.OrganizationID != nil {
		query = query.Where("organization_id = ?", *filters.OrganizationID)
	}
	if filters.ResourceID != nil {
		query = query.Where("resource_id = ?", *filters.ResourceID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
