/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/torque/internal/models"
	"github.com/friendsincode/torque/internal/timewindow"
)

const (
	// DefaultWorkloadWindowDays is the rolling window for workload ranking.
	DefaultWorkloadWindowDays = 7

	// DefaultEmergencySearchDays bounds the forward search for emergency slots.
	DefaultEmergencySearchDays = 3
)

// SpecialtyRequirement is one specialty a job needs at a minimum level.
type SpecialtyRequirement struct {
	SpecialtyID  string                `json:"specialty_id"`
	MinimumLevel models.SpecialtyLevel `json:"minimum_level,omitempty"`
}

// MatchRequest describes the job to place.
type MatchRequest struct {
	Required []SpecialtyRequirement
	// MinimumLevel applies to every requirement that does not name a stricter level.
	MinimumLevel    models.SpecialtyLevel
	IsEmergency     bool
	Priority        models.Priority
	Start           time.Time
	DurationMinutes int
	CandidateIDs    []string

	ExcludeWorkOrderID string
}

// Match is the selected technician and the chain that was validated for them.
type Match struct {
	TechnicianID string
	Chain        Chain
	Workload     int
	LevelScore   int
}

// MatcherConfig tunes ranking.
type MatcherConfig struct {
	WorkloadWindowDays  int
	EmergencySearchDays int
}

// Matcher selects a technician for a job.
type Matcher struct {
	source  Source
	planner *Planner
	loc     *time.Location
	config  MatcherConfig
	logger  zerolog.Logger
}

// NewMatcher creates an assignment matcher.
func NewMatcher(source Source, planner *Planner, loc *time.Location, cfg MatcherConfig, logger zerolog.Logger) *Matcher {
	if cfg.WorkloadWindowDays <= 0 {
		cfg.WorkloadWindowDays = DefaultWorkloadWindowDays
	}
	if cfg.EmergencySearchDays <= 0 {
		cfg.EmergencySearchDays = DefaultEmergencySearchDays
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Matcher{
		source:  source,
		planner: planner,
		loc:     loc,
		config:  cfg,
		logger:  logger.With().Str("component", "assignment_matcher").Logger(),
	}
}

type rankedCandidate struct {
	Match
	start time.Time
}

// SelectTechnician filters candidates by specialty and availability and returns
// the least-loaded one. Ties go to the higher matching level, then the lower id.
// Emergencies take whoever can start earliest, searching forward instead of
// rejecting a busy technician.
func (m *Matcher) SelectTechnician(ctx context.Context, req MatchRequest) (Match, error) {
	if req.DurationMinutes <= 0 {
		return Match{}, invalid("duration_minutes", "must be positive, got %d", req.DurationMinutes)
	}
	if req.Start.IsZero() {
		return Match{}, invalid("start", "required")
	}
	if req.MinimumLevel != "" && req.MinimumLevel.Rank() == 0 {
		return Match{}, invalid("minimum_level", "unknown level %q", req.MinimumLevel)
	}
	required, err := effectiveRequirements(req)
	if err != nil {
		return Match{}, err
	}

	noMatch := func(reason string) error {
		return &NoMatchError{Required: required, Candidates: len(req.CandidateIDs), Reason: reason}
	}
	if len(req.CandidateIDs) == 0 {
		return Match{}, noMatch("no candidate technicians")
	}

	qualified := make([]rankedCandidate, 0, len(req.CandidateIDs))
	for _, id := range req.CandidateIDs {
		specialties, err := m.source.GetTechnicianSpecialties(ctx, id)
		if err != nil {
			return Match{}, fmt.Errorf("load specialties for %s: %w", id, err)
		}
		score, ok := levelScore(specialties, required)
		if !ok {
			continue
		}
		qualified = append(qualified, rankedCandidate{Match: Match{TechnicianID: id, LevelScore: score}})
	}
	if len(qualified) == 0 {
		return Match{}, noMatch("no candidate holds the required specialties")
	}

	// Workload is recomputed from bookings for every request and memoized within it.
	workloads := make(map[string]int, len(qualified))
	from := timewindow.StartOfDay(req.Start.In(m.loc))
	to := from.AddDate(0, 0, m.config.WorkloadWindowDays)

	available := qualified[:0]
	for _, c := range qualified {
		var chain Chain
		var err error
		if req.IsEmergency {
			chain, err = m.planner.Earliest(ctx, c.TechnicianID, req.Start, req.DurationMinutes, req.ExcludeWorkOrderID, m.config.EmergencySearchDays)
		} else {
			chain, err = m.planner.Plan(ctx, c.TechnicianID, req.Start, req.DurationMinutes, req.ExcludeWorkOrderID)
		}
		if err != nil {
			var availErr *AvailabilityError
			if errors.As(err, &availErr) {
				m.logger.Debug().Str("technician_id", c.TechnicianID).Str("rule", string(availErr.Rule)).Msg("candidate unavailable")
				continue
			}
			return Match{}, err
		}

		load, ok := workloads[c.TechnicianID]
		if !ok {
			load, err = m.source.GetCurrentWorkload(ctx, c.TechnicianID, from, to)
			if err != nil {
				return Match{}, fmt.Errorf("load workload for %s: %w", c.TechnicianID, err)
			}
			workloads[c.TechnicianID] = load
		}

		c.Chain = chain
		c.Workload = load
		c.start = chain.Start()
		available = append(available, c)
	}
	if len(available) == 0 {
		return Match{}, noMatch("no qualified technician is available for the requested window")
	}

	sort.Slice(available, func(i, j int) bool {
		a, b := available[i], available[j]
		if req.IsEmergency && !a.start.Equal(b.start) {
			return a.start.Before(b.start)
		}
		if a.Workload != b.Workload {
			return a.Workload < b.Workload
		}
		if a.LevelScore != b.LevelScore {
			return a.LevelScore > b.LevelScore
		}
		return a.TechnicianID < b.TechnicianID
	})

	best := available[0]
	m.logger.Info().
		Str("technician_id", best.TechnicianID).
		Int("workload_minutes", best.Workload).
		Int("level_score", best.LevelScore).
		Bool("emergency", req.IsEmergency).
		Time("start", best.start).
		Int("candidates", len(available)).
		Msg("technician selected")

	return best.Match, nil
}

func effectiveRequirements(req MatchRequest) ([]SpecialtyRequirement, error) {
	out := make([]SpecialtyRequirement, 0, len(req.Required))
	for _, r := range req.Required {
		if r.SpecialtyID == "" {
			return nil, invalid("required_specialties", "specialty id required")
		}
		if r.MinimumLevel != "" && r.MinimumLevel.Rank() == 0 {
			return nil, invalid("required_specialties", "unknown level %q for %s", r.MinimumLevel, r.SpecialtyID)
		}
		level := r.MinimumLevel
		if req.MinimumLevel.Rank() > level.Rank() {
			level = req.MinimumLevel
		}
		if level == "" {
			level = models.LevelBeginner
		}
		out = append(out, SpecialtyRequirement{SpecialtyID: r.SpecialtyID, MinimumLevel: level})
	}
	return out, nil
}

// levelScore returns the summed rank of the held levels for every requirement,
// or false when any requirement is unmet.
func levelScore(held []models.TechnicianSpecialty, required []SpecialtyRequirement) (int, bool) {
	levels := make(map[string]models.SpecialtyLevel, len(held))
	for _, s := range held {
		if s.Level.Rank() > levels[s.SpecialtyID].Rank() {
			levels[s.SpecialtyID] = s.Level
		}
	}
	score := 0
	for _, r := range required {
		level, ok := levels[r.SpecialtyID]
		if !ok || !level.AtLeast(r.MinimumLevel) {
			return 0, false
		}
		score += level.Rank()
	}
	return score, true
}
