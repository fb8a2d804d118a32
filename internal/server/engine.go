/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/torque/internal/cache"
	"github.com/friendsincode/torque/internal/config"
	"github.com/friendsincode/torque/internal/events"
	"github.com/friendsincode/torque/internal/locking"
	"github.com/friendsincode/torque/internal/scheduling"
)

// Engine is the wired scheduling core shared by the HTTP server and the CLI.
type Engine struct {
	Store       *scheduling.GormStore
	Validator   *scheduling.Validator
	Oracle      *scheduling.Oracle
	Coordinator *scheduling.Coordinator
	Shifts      *scheduling.ShiftService
}

// NewEngine builds the scheduling core from configuration. A nil cache or
// locker falls back to a disabled cache and an in-process locker.
func NewEngine(cfg *config.Config, database *gorm.DB, c *cache.Cache, locker locking.Locker, bus *events.Bus, logger zerolog.Logger) *Engine {
	if c == nil {
		c = cache.Disabled(logger)
	}
	if locker == nil {
		locker = locking.NewLocalLocker()
	}
	loc := cfg.Location()

	store := scheduling.NewGormStore(database, c)
	validator := scheduling.NewValidator(int(cfg.MinBreak/time.Minute), logger)
	oracle := scheduling.NewOracle(store, validator, cfg.OrganizationID, loc, logger)
	planner := scheduling.NewPlanner(oracle, scheduling.NewSplitter(cfg.SplitHorizonDays))
	matcher := scheduling.NewMatcher(store, planner, loc, scheduling.MatcherConfig{
		WorkloadWindowDays: int(cfg.WorkloadWindow / (24 * time.Hour)),
	}, logger)

	return &Engine{
		Store:     store,
		Validator: validator,
		Oracle:    oracle,
		Coordinator: scheduling.NewCoordinator(store, oracle, planner, matcher, locker, bus, scheduling.CoordinatorConfig{
			LockTimeout: cfg.LockTimeout,
		}, logger),
		Shifts: scheduling.NewShiftService(store, validator, locker, bus, loc, cfg.LockTimeout, logger),
	}
}
