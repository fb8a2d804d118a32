/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/torque/internal/audit"
	"github.com/friendsincode/torque/internal/auth"
	"github.com/friendsincode/torque/internal/models"
	"github.com/friendsincode/torque/internal/scheduling"
)

// API exposes the scheduling engine over HTTP.
type API struct {
	db          *gorm.DB
	jwtSecret   []byte
	coordinator *scheduling.Coordinator
	shifts      *scheduling.ShiftService
	auditSvc    *audit.Service
	minBreak    time.Duration
	logger      zerolog.Logger
}

// New creates the API handler set.
func New(db *gorm.DB, jwtSecret []byte, coordinator *scheduling.Coordinator, shifts *scheduling.ShiftService, auditSvc *audit.Service, minBreak time.Duration, logger zerolog.Logger) *API {
	return &API{
		db:          db,
		jwtSecret:   jwtSecret,
		coordinator: coordinator,
		shifts:      shifts,
		auditSvc:    auditSvc,
		minBreak:    minBreak,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/work-orders/{workOrderID}", func(r chi.Router) {
				r.Get("/bookings", a.handleWorkOrderBookings)

				r.Group(func(r chi.Router) {
					r.Use(a.requireRoles(models.RoleAdmin, models.RoleDispatcher))
					r.Post("/schedule", a.handleSchedule)
					r.Post("/reschedule", a.handleReschedule)
					r.Delete("/schedule", a.handleUnschedule)
				})
			})

			pr.Get("/technicians/{technicianID}/availability", a.handleTechnicianAvailability)

			pr.With(a.requireRoles(models.RoleAdmin, models.RoleDispatcher)).Post("/shifts", a.handleCreateShift)

			pr.With(a.requireRoles(models.RoleAdmin)).Get("/audit", a.handleAuditList)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := a.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		a.logger.Warn().Err(err).Msg("health check: database unreachable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.Middleware(a.jwtSecret)
}

func (a *API) requireRoles(allowed ...models.RoleName) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[string(role)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range claims.Roles {
				if _, exists := allowedSet[role]; exists {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient_role")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeSchedulingError maps engine errors onto HTTP responses.
func (a *API) writeSchedulingError(w http.ResponseWriter, err error) {
	var (
		validationErr *scheduling.ValidationError
		notFound      *scheduling.NotFoundError
		availErr      *scheduling.AvailabilityError
		conflict      *scheduling.SchedulingConflict
		noMatch       *scheduling.NoMatchError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid_request",
			"field":   validationErr.Field,
			"message": validationErr.Message,
		})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":    "not_found",
			"resource": notFound.Resource,
			"id":       notFound.ID,
		})
	case errors.As(err, &availErr):
		body := map[string]any{
			"error":         "slot_unavailable",
			"rule":          availErr.Rule,
			"technician_id": availErr.TechnicianID,
			"message":       availErr.Error(),
		}
		if availErr.ConflictID != "" {
			body["conflict_id"] = availErr.ConflictID
		}
		if next := availErr.NextFeasibleStart(a.minBreak); !next.IsZero() {
			body["next_feasible_start"] = next
		}
		writeJSON(w, http.StatusConflict, body)
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":         "scheduling_conflict_retry",
			"technician_id": conflict.TechnicianID,
			"message":       conflict.Reason,
		})
	case errors.As(err, &noMatch):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "no_technician_meets_requirements",
			"required":   noMatch.Required,
			"candidates": noMatch.Candidates,
			"message":    noMatch.Reason,
		})
	default:
		a.logger.Error().Err(err).Msg("scheduling request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
