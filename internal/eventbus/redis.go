/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/torque/internal/events"
)

// RedisBridge is the pub/sub fallback used when Redis is configured but NATS is not.
type RedisBridge struct {
	client redis.UniversalClient
	prefix string
	fwd    *forwarder
	logger zerolog.Logger

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBridge creates a Redis pub/sub bridge on an existing client.
func NewRedisBridge(client redis.UniversalClient, prefix string, bus *events.Bus, nodeID string, logger zerolog.Logger) *RedisBridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	b := &RedisBridge{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "redis_bridge").Logger(),
	}
	b.fwd = newForwarder(bus, nodeID, "redis", b.publish, b.logger)
	return b
}

func (b *RedisBridge) publish(ctx context.Context, eventType events.EventType, data []byte) error {
	return b.client.Publish(ctx, Subject(b.prefix, eventType), data).Err()
}

// Start implements Bridge.
func (b *RedisBridge) Start(ctx context.Context) error {
	channels := make([]string, 0, len(RelayedTypes))
	for _, t := range RelayedTypes {
		channels = append(channels, Subject(b.prefix, t))
	}

	ctx, cancel := context.WithCancel(ctx)
	pubsub := b.client.Subscribe(ctx, channels...)
	// Wait for the subscription to be confirmed before forwarding.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("subscribe redis channels: %w", err)
	}
	b.pubsub = pubsub
	b.cancel = cancel

	b.wg.Add(1)
	go b.receive(ctx, pubsub.Channel())
	b.fwd.start(ctx)
	return nil
}

func (b *RedisBridge) receive(ctx context.Context, ch <-chan *redis.Message) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn().Msg("redis subscription closed")
				return
			}
			b.fwd.relay([]byte(msg.Payload))
		}
	}
}

// Close implements Bridge. The client stays open; its owner closes it.
func (b *RedisBridge) Close() error {
	b.logger.Info().Msg("closing Redis event bridge")
	b.fwd.stop()
	if b.cancel != nil {
		b.cancel()
	}
	var err error
	if b.pubsub != nil {
		err = b.pubsub.Close()
	}
	b.wg.Wait()
	return err
}
