/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/torque/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	SubjectPrefix string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: DefaultSubjectPrefix,
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBridge publishes every local event to torque.events.<type> and relays cache
// invalidations published by other nodes.
type NATSBridge struct {
	conn   *nats.Conn
	config NATSConfig
	fwd    *forwarder
	subs   []*nats.Subscription
	logger zerolog.Logger
}

// NewNATSBridge connects to NATS.
func NewNATSBridge(cfg NATSConfig, bus *events.Bus, nodeID string, logger zerolog.Logger) (*NATSBridge, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	logger = logger.With().Str("component", "nats_bridge").Logger()

	opts := []nats.Option{
		nats.Name("torque-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info().Str("url", conn.ConnectedUrl()).Msg("NATS event bridge connected")

	b := &NATSBridge{conn: conn, config: cfg, logger: logger}
	b.fwd = newForwarder(bus, nodeID, "nats", b.publish, logger)
	return b, nil
}

func (b *NATSBridge) publish(_ context.Context, eventType events.EventType, data []byte) error {
	return b.conn.Publish(Subject(b.config.SubjectPrefix, eventType), data)
}

// Start implements Bridge.
func (b *NATSBridge) Start(ctx context.Context) error {
	for _, t := range RelayedTypes {
		sub, err := b.conn.Subscribe(Subject(b.config.SubjectPrefix, t), func(msg *nats.Msg) {
			b.fwd.relay(msg.Data)
		})
		if err != nil {
			b.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
		b.subs = append(b.subs, sub)
	}
	b.fwd.start(ctx)
	return nil
}

func (b *NATSBridge) unsubscribe() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Debug().Err(err).Str("subject", sub.Subject).Msg("unsubscribe failed")
		}
	}
	b.subs = nil
}

// Close implements Bridge.
func (b *NATSBridge) Close() error {
	b.logger.Info().Msg("closing NATS event bridge")
	b.unsubscribe()
	b.fwd.stop()
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
