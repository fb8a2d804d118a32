/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friendsincode/torque/internal/models"
)

type fixtureTech struct {
	specialties map[string]models.SpecialtyLevel
	workload    int
	bookings    []models.Booking
}

// fixtureSource serves technicians from a map and counts workload queries.
func fixtureSource(techs map[string]fixtureTech, workloadCalls map[string]int) *MockSource {
	return &MockSource{
		GetTechnicianSpecialtiesFunc: func(ctx context.Context, technicianID string) ([]models.TechnicianSpecialty, error) {
			var out []models.TechnicianSpecialty
			for id, level := range techs[technicianID].specialties {
				out = append(out, models.TechnicianSpecialty{TechnicianID: technicianID, SpecialtyID: id, Level: level})
			}
			return out, nil
		},
		GetCurrentWorkloadFunc: func(ctx context.Context, technicianID string, from, to time.Time) (int, error) {
			if workloadCalls != nil {
				workloadCalls[technicianID]++
			}
			return techs[technicianID].workload, nil
		},
		GetActiveBookingsFunc: func(ctx context.Context, technicianID string, from, to time.Time) ([]models.Booking, error) {
			var out []models.Booking
			for _, b := range techs[technicianID].bookings {
				if b.StartsAt.Before(to) && b.EndsAt.After(from) {
					out = append(out, b)
				}
			}
			return out, nil
		},
	}
}

func newTestMatcher(src Source) *Matcher {
	oracle := newTestOracle(src)
	planner := NewPlanner(oracle, NewSplitter(0))
	return NewMatcher(src, planner, time.UTC, MatcherConfig{}, zerolog.Nop())
}

func TestSelectTechnicianNoExpertAvailable(t *testing.T) {
	src := fixtureSource(map[string]fixtureTech{
		"tech-a": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelIntermediate}},
		"tech-b": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelBeginner, "engine": models.LevelExpert}},
	}, nil)
	m := newTestMatcher(src)

	_, err := m.SelectTechnician(context.Background(), MatchRequest{
		Required:        []SpecialtyRequirement{{SpecialtyID: "brakes", MinimumLevel: models.LevelExpert}},
		Start:           monday(9, 0),
		DurationMinutes: 60,
		CandidateIDs:    []string{"tech-a", "tech-b"},
	})

	var noMatch *NoMatchError
	require.ErrorAs(t, err, &noMatch)
	assert.Equal(t, 2, noMatch.Candidates)
	assert.Equal(t, models.LevelExpert, noMatch.Required[0].MinimumLevel)
}

func TestSelectTechnicianRanking(t *testing.T) {
	tests := []struct {
		name  string
		techs map[string]fixtureTech
		req   MatchRequest
		want  string
	}{
		{
			name: "lowest workload wins",
			techs: map[string]fixtureTech{
				"tech-a": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelExpert}, workload: 600},
				"tech-b": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelBeginner}, workload: 120},
			},
			want: "tech-b",
		},
		{
			name: "higher level breaks workload tie",
			techs: map[string]fixtureTech{
				"tech-a": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelIntermediate}, workload: 120},
				"tech-b": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelExpert}, workload: 120},
			},
			want: "tech-b",
		},
		{
			name: "lower id breaks full tie",
			techs: map[string]fixtureTech{
				"tech-b": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelExpert}},
				"tech-a": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelExpert}},
			},
			want: "tech-a",
		},
		{
			name: "unqualified technician skipped",
			techs: map[string]fixtureTech{
				"tech-a": {specialties: map[string]models.SpecialtyLevel{"engine": models.LevelExpert}},
				"tech-b": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelBeginner}, workload: 900},
			},
			want: "tech-b",
		},
		{
			name: "busy technician skipped",
			techs: map[string]fixtureTech{
				"tech-a": {
					specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelExpert},
					bookings:    []models.Booking{booking("b1", "tech-a", "wo-9", monday(9, 0), monday(10, 0))},
				},
				"tech-b": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelBeginner}, workload: 900},
			},
			want: "tech-b",
		},
		{
			name: "request minimum level raises requirement",
			techs: map[string]fixtureTech{
				"tech-a": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelBeginner}},
				"tech-b": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelIntermediate}, workload: 900},
			},
			req:  MatchRequest{MinimumLevel: models.LevelIntermediate},
			want: "tech-b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMatcher(fixtureSource(tt.techs, nil))
			req := tt.req
			req.Required = []SpecialtyRequirement{{SpecialtyID: "brakes"}}
			req.Start = monday(9, 0)
			req.DurationMinutes = 60
			req.CandidateIDs = []string{"tech-a", "tech-b"}

			match, err := m.SelectTechnician(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, match.TechnicianID)
			assert.Equal(t, SingleDay, match.Chain.Kind())
		})
	}
}

func TestSelectTechnicianEmergencyPrefersEarliest(t *testing.T) {
	src := fixtureSource(map[string]fixtureTech{
		// Least loaded but busy until noon.
		"tech-a": {
			specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelExpert},
			bookings:    []models.Booking{booking("b1", "tech-a", "wo-9", monday(9, 0), monday(12, 0))},
		},
		"tech-b": {
			specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelExpert},
			workload:    900,
			bookings:    []models.Booking{booking("b2", "tech-b", "wo-8", monday(9, 0), monday(10, 0))},
		},
	}, nil)
	m := newTestMatcher(src)

	match, err := m.SelectTechnician(context.Background(), MatchRequest{
		Required:        []SpecialtyRequirement{{SpecialtyID: "brakes"}},
		IsEmergency:     true,
		Start:           monday(9, 0),
		DurationMinutes: 60,
		CandidateIDs:    []string{"tech-a", "tech-b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "tech-b", match.TechnicianID)
	// The minimum break still applies to emergencies.
	assert.True(t, match.Chain.Start().Equal(monday(10, 30)), "start = %s", match.Chain.Start())
}

func TestSelectTechnicianMemoizesWorkload(t *testing.T) {
	calls := map[string]int{}
	src := fixtureSource(map[string]fixtureTech{
		"tech-a": {specialties: map[string]models.SpecialtyLevel{"brakes": models.LevelExpert}},
	}, calls)
	m := newTestMatcher(src)

	_, err := m.SelectTechnician(context.Background(), MatchRequest{
		Required:        []SpecialtyRequirement{{SpecialtyID: "brakes"}},
		Start:           monday(9, 0),
		DurationMinutes: 60,
		CandidateIDs:    []string{"tech-a", "tech-a"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls["tech-a"])
}

func TestSelectTechnicianRejectsBadRequests(t *testing.T) {
	m := newTestMatcher(&MockSource{})

	tests := []struct {
		name string
		req  MatchRequest
	}{
		{"zero duration", MatchRequest{Start: monday(9, 0), CandidateIDs: []string{"tech-a"}}},
		{"missing start", MatchRequest{DurationMinutes: 60, CandidateIDs: []string{"tech-a"}}},
		{"unknown level", MatchRequest{Start: monday(9, 0), DurationMinutes: 60, MinimumLevel: "guru"}},
		{"blank specialty", MatchRequest{Start: monday(9, 0), DurationMinutes: 60, Required: []SpecialtyRequirement{{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.SelectTechnician(context.Background(), tt.req)
			var validationErr *ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}

	_, err := m.SelectTechnician(context.Background(), MatchRequest{Start: monday(9, 0), DurationMinutes: 60})
	var noMatch *NoMatchError
	assert.ErrorAs(t, err, &noMatch)
}

func TestSelectTechnicianPropagatesSourceErrors(t *testing.T) {
	boom := errors.New("replica lag")
	src := &MockSource{
		GetTechnicianSpecialtiesFunc: func(ctx context.Context, technicianID string) ([]models.TechnicianSpecialty, error) {
			return nil, boom
		},
	}
	m := newTestMatcher(src)

	_, err := m.SelectTechnician(context.Background(), MatchRequest{
		Start:           monday(9, 0),
		DurationMinutes: 60,
		CandidateIDs:    []string{"tech-a"},
	})
	assert.ErrorIs(t, err, boom)
}
