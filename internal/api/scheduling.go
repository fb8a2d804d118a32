/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/torque/internal/models"
	"github.com/friendsincode/torque/internal/scheduling"
)

type scheduleRequest struct {
	TechnicianID        string                            `json:"technician_id"`
	Start               time.Time                         `json:"start"`
	DurationMinutes     int                               `json:"duration_minutes"`
	RequiredSpecialties []scheduling.SpecialtyRequirement `json:"required_specialties"`
	MinimumLevel        string                            `json:"minimum_level"`
	IsEmergency         bool                              `json:"is_emergency"`
}

type rescheduleRequest struct {
	Start        time.Time `json:"start"`
	TechnicianID string    `json:"technician_id"`
}

type shiftRequest struct {
	StaffID     string    `json:"staff_id"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	ShiftTypeID *string   `json:"shift_type_id"`
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (a *API) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var level models.SpecialtyLevel
	if req.MinimumLevel != "" {
		parsed, err := models.ParseSpecialtyLevel(req.MinimumLevel)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "field": "minimum_level", "message": err.Error()})
			return
		}
		level = parsed
	}

	result, err := a.coordinator.Schedule(r.Context(), scheduling.ScheduleRequest{
		WorkOrderID:         chi.URLParam(r, "workOrderID"),
		TechnicianID:        req.TechnicianID,
		Start:               req.Start,
		DurationMinutes:     req.DurationMinutes,
		RequiredSpecialties: req.RequiredSpecialties,
		MinimumLevel:        level,
		IsEmergency:         req.IsEmergency,
	})
	if err != nil {
		a.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	result, err := a.coordinator.Reschedule(r.Context(), scheduling.RescheduleRequest{
		WorkOrderID:  chi.URLParam(r, "workOrderID"),
		Start:        req.Start,
		TechnicianID: req.TechnicianID,
	})
	if err != nil {
		a.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleUnschedule(w http.ResponseWriter, r *http.Request) {
	workOrderID := chi.URLParam(r, "workOrderID")
	if err := a.coordinator.Unschedule(r.Context(), workOrderID); err != nil {
		a.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unscheduled", "work_order_id": workOrderID})
}

func (a *API) handleWorkOrderBookings(w http.ResponseWriter, r *http.Request) {
	workOrderID := chi.URLParam(r, "workOrderID")
	bookings, err := a.coordinator.WorkOrderBookings(r.Context(), workOrderID)
	if err != nil {
		a.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"work_order_id": workOrderID,
		"bookings":      bookings,
	})
}

func (a *API) handleTechnicianAvailability(w http.ResponseWriter, r *http.Request) {
	technicianID := chi.URLParam(r, "technicianID")
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "field": "start", "message": "RFC3339 timestamp required"})
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "field": "end", "message": "RFC3339 timestamp required"})
		return
	}

	ok, rule, err := a.coordinator.CheckAvailability(r.Context(), technicianID, start, end)
	if err != nil {
		a.writeSchedulingError(w, err)
		return
	}
	body := map[string]any{
		"technician_id": technicianID,
		"start":         start.UTC(),
		"end":           end.UTC(),
		"available":     ok,
	}
	if !ok {
		body["reason"] = rule
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) handleCreateShift(w http.ResponseWriter, r *http.Request) {
	var req shiftRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	shift, err := a.shifts.CreateShift(r.Context(), scheduling.CreateShiftRequest{
		StaffID:     req.StaffID,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		ShiftTypeID: req.ShiftTypeID,
	})
	if err != nil {
		a.writeSchedulingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}
