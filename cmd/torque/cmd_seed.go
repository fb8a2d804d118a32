/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/friendsincode/torque/internal/db"
	"github.com/friendsincode/torque/internal/eventbus"
	"github.com/friendsincode/torque/internal/events"
	"github.com/friendsincode/torque/internal/seed"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load organization, technicians and work orders from a YAML fixture",
	Long: `Upsert reference data from a YAML fixture.

Existing work orders keep their scheduling state. When a broker is configured
the command publishes cache invalidations so running servers drop stale
business hours and specialties.

Examples:
  torque seed --file ./shop.yaml
`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "Path to the YAML fixture")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	fx, err := seed.LoadFile(seedFile)
	if err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	ctx := context.Background()
	bus := events.NewBus()

	bridge, err := seedBridge(bus)
	if err != nil {
		return err
	}
	if bridge != nil {
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("start event bridge: %w", err)
		}
	}

	sum, err := seed.Apply(ctx, database, fx, bus)
	if bridge != nil {
		// Close drains the forwarded invalidations before returning.
		if cerr := bridge.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("event bridge close failed")
		}
	}
	if err != nil {
		return fmt.Errorf("apply fixture: %w", err)
	}

	logger.Info().
		Str("organization_id", sum.OrganizationID).
		Int("business_hours", sum.BusinessHours).
		Int("technicians", sum.Technicians).
		Int("specialties", sum.Specialties).
		Int("availability", sum.Availability).
		Int("work_orders", sum.WorkOrders).
		Msg("fixture applied")
	fmt.Fprintf(cmd.OutOrStdout(), "seeded organization %s: %d technicians, %d work orders\n", sum.OrganizationID, sum.Technicians, sum.WorkOrders)
	return nil
}

// seedBridge connects to the configured broker, if any.
func seedBridge(bus *events.Bus) (eventbus.Bridge, error) {
	nodeID := "seed-" + uuid.NewString()
	switch {
	case cfg.NATSURL != "":
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Token = cfg.NATSToken
		return eventbus.NewNATSBridge(natsCfg, bus, nodeID, logger)
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return &closingBridge{
			Bridge: eventbus.NewRedisBridge(client, eventbus.DefaultSubjectPrefix, bus, nodeID, logger),
			client: client,
		}, nil
	}
	return nil, nil
}

// closingBridge closes the Redis client it was given after the bridge itself.
type closingBridge struct {
	eventbus.Bridge
	client *redis.Client
}

func (b *closingBridge) Close() error {
	err := b.Bridge.Close()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}
