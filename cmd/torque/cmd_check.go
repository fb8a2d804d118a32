/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/torque/internal/db"
	"github.com/friendsincode/torque/internal/events"
	"github.com/friendsincode/torque/internal/server"
)

var (
	checkTechnician string
	checkStart      string
	checkEnd        string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a technician can take a window",
	Long: `Evaluate business hours, date overrides, existing bookings and the minimum
break for one technician and window, without writing anything.

Examples:
  torque check --technician tech-1 --start 2026-03-09T13:00:00Z --end 2026-03-09T15:00:00Z
`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkTechnician, "technician", "", "Technician ID")
	checkCmd.Flags().StringVar(&checkStart, "start", "", "Window start (RFC3339)")
	checkCmd.Flags().StringVar(&checkEnd, "end", "", "Window end (RFC3339)")
	_ = checkCmd.MarkFlagRequired("technician")
	_ = checkCmd.MarkFlagRequired("start")
	_ = checkCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	start, err := time.Parse(time.RFC3339, checkStart)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, checkEnd)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	engine := server.NewEngine(cfg, database, nil, nil, events.NewBus(), logger)
	ok, rule, err := engine.Coordinator.CheckAvailability(context.Background(), checkTechnician, start, end)
	if err != nil {
		return err
	}

	if ok {
		fmt.Fprintf(cmd.OutOrStdout(), "available: %s %s - %s\n", checkTechnician, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "unavailable: %s (%s)\n", checkTechnician, rule)
	return nil
}
