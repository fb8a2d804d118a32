/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for slow-changing scheduling data.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/torque/internal/models"
)

// Default TTL values for different cache types
const (
	DefaultBusinessHoursTTL = 1 * time.Hour
	DefaultSpecialtiesTTL   = 15 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyBusinessHours = "torque:cache:business_hours:" // + organization_id
	KeySpecialties   = "torque:cache:specialties:"    // + technician_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BusinessHoursTTL time.Duration
	SpecialtiesTTL   time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:        "localhost:6379",
		BusinessHoursTTL: DefaultBusinessHoursTTL,
		SpecialtiesTTL:   DefaultSpecialtiesTTL,
		DisableOnError:   true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client redis.UniversalClient
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a disabled cache,
// not an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return Disabled(logger), nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.BusinessHoursTTL <= 0 {
		cfg.BusinessHoursTTL = DefaultBusinessHoursTTL
	}
	if cfg.SpecialtiesTTL <= 0 {
		cfg.SpecialtiesTTL = DefaultSpecialtiesTTL
	}
	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}
}

// Disabled returns a cache that never hits.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   DefaultConfig(),
		disabled: true,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// Business hours caching methods

// GetBusinessHours retrieves the cached weekly hours of an organization.
func (c *Cache) GetBusinessHours(ctx context.Context, organizationID string) ([]models.BusinessHours, bool) {
	var rows []models.BusinessHours
	found, err := c.get(ctx, KeyBusinessHours+organizationID, &rows)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("organization_id", organizationID).Int("count", len(rows)).Msg("business hours cache hit")
	return rows, true
}

// SetBusinessHours caches the weekly hours of an organization.
func (c *Cache) SetBusinessHours(ctx context.Context, organizationID string, rows []models.BusinessHours) error {
	return c.set(ctx, KeyBusinessHours+organizationID, rows, c.config.BusinessHoursTTL)
}

// InvalidateBusinessHours removes an organization's hours from cache.
func (c *Cache) InvalidateBusinessHours(ctx context.Context, organizationID string) error {
	c.logger.Debug().Str("organization_id", organizationID).Msg("invalidating business hours cache")
	return c.delete(ctx, KeyBusinessHours+organizationID)
}

// Specialty caching methods

// GetSpecialties retrieves a technician's cached specialties.
func (c *Cache) GetSpecialties(ctx context.Context, technicianID string) ([]models.TechnicianSpecialty, bool) {
	var rows []models.TechnicianSpecialty
	found, err := c.get(ctx, KeySpecialties+technicianID, &rows)
	if err != nil || !found {
		return nil, false
	}
	return rows, true
}

// SetSpecialties caches a technician's specialties.
func (c *Cache) SetSpecialties(ctx context.Context, technicianID string, rows []models.TechnicianSpecialty) error {
	return c.set(ctx, KeySpecialties+technicianID, rows, c.config.SpecialtiesTTL)
}

// InvalidateSpecialties removes a technician's specialties from cache.
func (c *Cache) InvalidateSpecialties(ctx context.Context, technicianID string) error {
	c.logger.Debug().Str("technician_id", technicianID).Msg("invalidating specialties cache")
	return c.delete(ctx, KeySpecialties+technicianID)
}
