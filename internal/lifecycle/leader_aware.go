/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Runner is a loop that runs until its context is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Election reports leadership. *leadership.Election satisfies it.
type Election interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAware wraps a runner and only runs it while this instance is the leader.
type LeaderAware struct {
	runner   Runner
	election Election
	logger   zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewLeaderAware creates a leader-aware wrapper.
func NewLeaderAware(runner Runner, election Election, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		runner:   runner,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_lifecycle").Logger(),
	}
}

// Start begins monitoring leadership status and manages the runner.
func (la *LeaderAware) Start(ctx context.Context) error {
	la.mu.Lock()
	la.ctx = ctx
	la.mu.Unlock()

	la.logger.Info().Msg("starting leader-aware lifecycle")
	if err := la.election.Start(ctx); err != nil {
		return err
	}
	go la.monitorLeadership(ctx)
	return nil
}

// Stop stops the runner and releases leadership.
func (la *LeaderAware) Stop() error {
	la.logger.Info().Msg("stopping leader-aware lifecycle")
	la.stopRunner()
	return la.election.Stop()
}

// Running reports whether the wrapped runner is active on this instance.
func (la *LeaderAware) Running() bool {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.running
}

func (la *LeaderAware) monitorLeadership(ctx context.Context) {
	if la.election.IsLeader() {
		la.startRunner()
	}
	for {
		select {
		case <-ctx.Done():
			la.stopRunner()
			return
		case isLeader := <-la.election.LeaderCh():
			if isLeader {
				la.logger.Info().Msg("became leader, starting lifecycle sweeper")
				la.startRunner()
			} else {
				la.logger.Warn().Msg("lost leadership, stopping lifecycle sweeper")
				la.stopRunner()
			}
		}
	}
}

func (la *LeaderAware) startRunner() {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.running {
		return
	}

	ctx, cancel := context.WithCancel(la.ctx)
	done := make(chan struct{})
	la.cancel = cancel
	la.done = done
	la.running = true

	go func() {
		defer close(done)
		if err := la.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			la.logger.Error().Err(err).Msg("lifecycle sweeper error")
		}
	}()
}

func (la *LeaderAware) stopRunner() {
	la.mu.Lock()
	if !la.running {
		la.mu.Unlock()
		return
	}
	cancel, done := la.cancel, la.done
	la.running = false
	la.cancel = nil
	la.mu.Unlock()

	cancel()
	<-done
}
