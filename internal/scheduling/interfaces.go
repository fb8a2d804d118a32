/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"time"

	"github.com/friendsincode/torque/internal/models"
)

// Source is everything the engine reads from collaborators it does not own.
// GetTechnicianAvailability returns nil, nil when no override exists for the date.
type Source interface {
	GetBusinessHours(ctx context.Context, organizationID string) ([]models.BusinessHours, error)
	GetTechnicianAvailability(ctx context.Context, technicianID string, date time.Time) (*models.TechnicianAvailability, error)
	GetActiveBookings(ctx context.Context, technicianID string, from, to time.Time) ([]models.Booking, error)
	GetTechnicianSpecialties(ctx context.Context, technicianID string) ([]models.TechnicianSpecialty, error)
	GetCurrentWorkload(ctx context.Context, technicianID string, from, to time.Time) (int, error)
}
