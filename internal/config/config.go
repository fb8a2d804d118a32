/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	MetricsBind   string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string
	NATSURL               string
	NATSToken             string

	// Scheduling rules
	OrganizationID    string
	Timezone          string
	MinBreak          time.Duration
	LockTimeout       time.Duration
	WorkloadWindow    time.Duration
	SplitHorizonDays  int
	LifecycleInterval time.Duration

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"TORQUE_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"TORQUE_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"TORQUE_HTTP_PORT", "PORT"}, 8080),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"TORQUE_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:         getEnvAny([]string{"TORQUE_DB_DSN", "DATABASE_URL"}, ""),
		JWTSigningKey: getEnvAny([]string{"TORQUE_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"TORQUE_METRICS_BIND"}, "127.0.0.1:9000"),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"TORQUE_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"TORQUE_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"TORQUE_TRACING_SAMPLE_RATE"}, 1.0),

		// Multi-instance configuration
		LeaderElectionEnabled: getEnvBoolAny([]string{"TORQUE_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"TORQUE_REDIS_ADDR"}, ""),
		RedisPassword:         getEnvAny([]string{"TORQUE_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"TORQUE_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"TORQUE_INSTANCE_ID", "HOSTNAME"}, ""),
		NATSURL:               getEnvAny([]string{"TORQUE_NATS_URL"}, ""),
		NATSToken:             getEnvAny([]string{"TORQUE_NATS_TOKEN"}, ""),

		// Scheduling rules
		OrganizationID:    getEnvAny([]string{"TORQUE_ORGANIZATION_ID"}, ""),
		Timezone:          getEnvAny([]string{"TORQUE_TIMEZONE"}, "UTC"),
		MinBreak:          time.Duration(getEnvIntAny([]string{"TORQUE_MIN_BREAK_MINUTES"}, 30)) * time.Minute,
		LockTimeout:       time.Duration(getEnvIntAny([]string{"TORQUE_LOCK_TIMEOUT_MS"}, 5000)) * time.Millisecond,
		WorkloadWindow:    time.Duration(getEnvIntAny([]string{"TORQUE_WORKLOAD_WINDOW_DAYS"}, 7)) * 24 * time.Hour,
		SplitHorizonDays:  getEnvIntAny([]string{"TORQUE_SPLIT_HORIZON_DAYS"}, 30),
		LifecycleInterval: time.Duration(getEnvIntAny([]string{"TORQUE_LIFECYCLE_INTERVAL_SECONDS"}, 60)) * time.Second,
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("TORQUE_DB_DSN or DATABASE_URL must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("TORQUE_JWT_SIGNING_KEY must be provided")
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TORQUE_TIMEZONE %q: %w", cfg.Timezone, err)
	}

	if cfg.MinBreak < 0 {
		return nil, fmt.Errorf("TORQUE_MIN_BREAK_MINUTES must not be negative")
	}
	if cfg.LockTimeout <= 0 || cfg.SplitHorizonDays <= 0 || cfg.WorkloadWindow <= 0 || cfg.LifecycleInterval <= 0 {
		return nil, fmt.Errorf("lock timeout, split horizon, workload window and lifecycle interval must be positive")
	}

	if cfg.LeaderElectionEnabled && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("TORQUE_REDIS_ADDR is required when leader election is enabled")
	}

	if strings.EqualFold(cfg.Environment, "production") && len(cfg.JWTSigningKey) < 32 {
		return nil, fmt.Errorf("TORQUE_JWT_SIGNING_KEY must be at least 32 bytes in production")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":     "use TORQUE_ENV",
		"JWT_SIGNING_KEY": "use TORQUE_JWT_SIGNING_KEY",
		"REDIS_ADDR":      "use TORQUE_REDIS_ADDR",
		"NATS_URL":        "use TORQUE_NATS_URL",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// Location returns the shop time zone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
