/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/torque/internal/config"
)

// Connect establishes a gorm DB connection for the configured backend.
// Bookings are compared as UTC instants, so postgres sessions are pinned to UTC.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.DBBackend {
	case config.DatabasePostgres:
		dialector = postgres.Open(withUTCSession(cfg.DBDSN))
	case config.DatabaseMySQL:
		dialector = mysql.Open(withMySQLParseTime(cfg.DBDSN))
	case config.DatabaseSQLite:
		dialector = sqlite.Open(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unknown database backend: %s", cfg.DBBackend)
	}

	level := logger.Warn
	if cfg.Environment == "development" {
		level = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger:  logger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if cfg.DBBackend == config.DatabaseSQLite {
		// One writer; a shared in-memory database disappears with its last connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := RegisterCallbacks(db); err != nil {
		return nil, fmt.Errorf("register db callbacks: %w", err)
	}

	return db, nil
}

// withUTCSession adds TimeZone=UTC to a postgres DSN unless a zone is already set.
func withUTCSession(dsn string) string {
	if strings.Contains(strings.ToLower(dsn), "timezone=") {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return dsn + "&TimeZone=UTC"
		}
		return dsn + "?TimeZone=UTC"
	}
	return strings.TrimSpace(dsn + " TimeZone=UTC")
}

// withMySQLParseTime makes the mysql driver scan DATETIME columns into time.Time in UTC.
func withMySQLParseTime(dsn string) string {
	lower := strings.ToLower(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(lower, "parsetime=") {
		dsn += sep + "parseTime=true"
		sep = "&"
	}
	if !strings.Contains(lower, "loc=") {
		dsn += sep + "loc=UTC"
	}
	return dsn
}

// Close releases database resources.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
