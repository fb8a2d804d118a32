/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/torque/internal/audit"
	"github.com/friendsincode/torque/internal/models"
)

// auditLogResponse is the JSON response for an audit log entry.
type auditLogResponse struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	ActorID        *string        `json:"actor_id,omitempty"`
	OrganizationID *string        `json:"organization_id,omitempty"`
	Action         string         `json:"action"`
	ResourceType   string         `json:"resource_type,omitempty"`
	ResourceID     string         `json:"resource_id,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// handleAuditList returns a paginated list of audit logs (admin only).
func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	filters := parseAuditFilters(r)

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to query audit logs")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	response := make([]auditLogResponse, len(logs))
	for i, log := range logs {
		response[i] = toAuditLogResponse(log)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audit_logs": response,
		"total":      total,
		"limit":      filters.Limit,
		"offset":     filters.Offset,
	})
}

// parseAuditFilters extracts query filters from the request.
func parseAuditFilters(r *http.Request) audit.QueryFilters {
	filters := audit.QueryFilters{
		Limit:  100,
		Offset: 0,
	}
	q := r.URL.Query()

	if actorID := q.Get("actor_id"); actorID != "" {
		filters.ActorID = &actorID
	}

	if orgID := q.Get("organization_id"); orgID != "" {
		filters.OrganizationID = &orgID
	}

	if resourceID := q.Get("resource_id"); resourceID != "" {
		filters.ResourceID = &resourceID
	}

	if action := q.Get("action"); action != "" {
		a := models.AuditAction(action)
		filters.Action = &a
	}

	if startTime := q.Get("start_time"); startTime != "" {
		if t, err := time.Parse(time.RFC3339, startTime); err == nil {
			filters.StartTime = &t
		}
	}

	if endTime := q.Get("end_time"); endTime != "" {
		if t, err := time.Parse(time.RFC3339, endTime); err == nil {
			filters.EndTime = &t
		}
	}

	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n <= 1000 {
			filters.Limit = n
		}
	}

	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			filters.Offset = n
		}
	}

	return filters
}

// toAuditLogResponse converts an AuditLog model to a response struct.
func toAuditLogResponse(log models.AuditLog) auditLogResponse {
	return auditLogResponse{
		ID:             log.ID,
		Timestamp:      log.Timestamp,
		ActorID:        log.ActorID,
		OrganizationID: log.OrganizationID,
		Action:         string(log.Action),
		ResourceType:   log.ResourceType,
		ResourceID:     log.ResourceID,
		Details:        log.Details,
	}
}
