/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/torque/internal/api"
	"github.com/friendsincode/torque/internal/audit"
	"github.com/friendsincode/torque/internal/cache"
	"github.com/friendsincode/torque/internal/config"
	"github.com/friendsincode/torque/internal/db"
	"github.com/friendsincode/torque/internal/eventbus"
	"github.com/friendsincode/torque/internal/events"
	"github.com/friendsincode/torque/internal/leadership"
	"github.com/friendsincode/torque/internal/lifecycle"
	"github.com/friendsincode/torque/internal/locking"
	"github.com/friendsincode/torque/internal/telemetry"
	"github.com/friendsincode/torque/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db          *gorm.DB
	redis       redis.UniversalClient
	cache       *cache.Cache
	locker      locking.Locker
	bus         *events.Bus
	engine      *Engine
	api         *api.API
	auditSvc    *audit.Service
	sweeper     *lifecycle.Sweeper
	election    *leadership.Election
	leaderAware *lifecycle.LeaderAware
	bridge      eventbus.Bridge

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("torque-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		// Release whatever was opened before the failure.
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	if err := srv.startBackgroundWorkers(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      75 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	if err := s.initRedis(); err != nil {
		return err
	}
	if s.cache == nil {
		s.cache = cache.Disabled(s.logger)
	}
	if s.locker == nil {
		s.locker = locking.NewLocalLocker()
		s.logger.Warn().Msg("no Redis configured, booking locks are process-local; run a single instance")
	}

	s.engine = NewEngine(s.cfg, database, s.cache, s.locker, s.bus, s.logger)

	// Audit service records every committed scheduling change
	s.auditSvc = audit.NewService(database, s.bus, s.logger)

	s.api = api.New(database, []byte(s.cfg.JWTSigningKey), s.engine.Coordinator, s.engine.Shifts, s.auditSvc, s.cfg.MinBreak, s.logger)

	// Booking lifecycle sweeper, leader-only when election is enabled
	s.sweeper = lifecycle.NewSweeper(database, s.bus, s.cfg.LifecycleInterval, s.logger)
	if s.election != nil {
		s.leaderAware = lifecycle.NewLeaderAware(s.sweeper, s.election, s.logger)
		s.DeferClose(func() error { return s.leaderAware.Stop() })
	}

	return s.initBridge()
}

// initRedis wires the shared Redis client into the cache, the locker and
// leader election. Redis is optional unless leader election is enabled.
func (s *Server) initRedis() error {
	if s.cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         s.cfg.RedisAddr,
		Password:     s.cfg.RedisPassword,
		DB:           s.cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if s.cfg.LeaderElectionEnabled {
			return fmt.Errorf("connect redis for leader election: %w", err)
		}
		s.logger.Warn().Err(err).Str("redis_addr", s.cfg.RedisAddr).Msg("redis unavailable, continuing without cache and distributed locks")
		return nil
	}
	s.redis = client
	s.DeferClose(func() error { return client.Close() })

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	s.cache = cache.NewWithClient(client, cacheCfg, s.logger)

	s.locker = locking.NewRedisLocker(client, locking.RedisConfig{}, s.logger)

	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.ElectionConfig{
			RedisAddr:     s.cfg.RedisAddr,
			ElectionKey:   "torque:leader:lifecycle",
			LeaseDuration: 15 * time.Second,
			RetryInterval: 2 * time.Second,
			InstanceID:    s.cfg.InstanceID,
		}
		s.election = leadership.NewElectionWithClient(client, electionConfig, s.logger)
		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", s.election.InstanceID()).
			Msg("leader election enabled for booking lifecycle")
	}

	s.logger.Info().Str("redis_addr", s.cfg.RedisAddr).Msg("redis connected for cache and booking locks")
	return nil
}

// initBridge picks NATS when configured, else Redis pub/sub, else nothing.
func (s *Server) initBridge() error {
	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	switch {
	case s.cfg.NATSURL != "":
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.Token = s.cfg.NATSToken
		bridge, err := eventbus.NewNATSBridge(natsCfg, s.bus, nodeID, s.logger)
		if err != nil {
			return fmt.Errorf("create nats event bridge: %w", err)
		}
		s.bridge = bridge
	case s.redis != nil:
		s.bridge = eventbus.NewRedisBridge(s.redis, eventbus.DefaultSubjectPrefix, s.bus, nodeID, s.logger)
	default:
		s.logger.Info().Msg("no event broker configured, events stay in-process")
		return nil
	}
	s.DeferClose(func() error { return s.bridge.Close() })
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router exposes the configured router.
func (s *Server) Router() chi.Router {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.bridge != nil {
		if err := s.bridge.Start(ctx); err != nil {
			return fmt.Errorf("start event bridge: %w", err)
		}
	}

	// Start sweeper (leader-aware if configured, otherwise direct)
	if s.leaderAware != nil {
		if err := s.leaderAware.Start(ctx); err != nil {
			return fmt.Errorf("start leader-aware lifecycle: %w", err)
		}
	} else if s.sweeper != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("lifecycle sweeper exited")
			}
		}()
	}

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			db.RunConnectionMetrics(ctx, s.db, 30*time.Second)
		}()
	}

	if s.auditSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.auditSvc.Start(ctx)
		}()
	}

	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
	return nil
}

// runCacheInvalidationListener drops cached rows when seed data or a remote node
// reports a change.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	hoursUpdated := s.bus.Subscribe(events.EventBusinessHoursUpdated)
	specialtiesUpdated := s.bus.Subscribe(events.EventTechnicianSpecialtyUpdate)
	defer func() {
		s.bus.Unsubscribe(events.EventBusinessHoursUpdated, hoursUpdated)
		s.bus.Unsubscribe(events.EventTechnicianSpecialtyUpdate, specialtiesUpdated)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case payload, ok := <-hoursUpdated:
			if !ok {
				return
			}
			orgID, _ := payload["organization_id"].(string)
			if orgID == "" {
				orgID = s.cfg.OrganizationID
			}
			s.logger.Debug().Str("organization_id", orgID).Msg("invalidating business hours cache")
			if err := s.cache.InvalidateBusinessHours(ctx, orgID); err != nil {
				s.logger.Warn().Err(err).Msg("business hours invalidation failed")
			}

		case payload, ok := <-specialtiesUpdated:
			if !ok {
				return
			}
			techID, _ := payload["technician_id"].(string)
			if techID == "" {
				continue
			}
			s.logger.Debug().Str("technician_id", techID).Msg("invalidating specialties cache")
			if err := s.cache.InvalidateSpecialties(ctx, techID); err != nil {
				s.logger.Warn().Err(err).Msg("specialties invalidation failed")
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(s.router)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":       "ok",
		"version":      version.Version,
		"lock_backend": s.locker.Backend(),
		"cache":        s.cache.IsAvailable(),
	}

	// Add leader status if leader election is enabled
	if s.election != nil {
		response["leader"] = s.election.IsLeader()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
