/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"github.com/spf13/cobra"

	"github.com/friendsincode/torque/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Run schema migrations and install the booking and shift overlap guards.

On PostgreSQL the guards are triggers that reject overlapping active bookings
for the same technician even when two writers race past the application lock.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	logger.Info().Str("backend", string(cfg.DBBackend)).Msg("database schema is up to date")
	return nil
}
