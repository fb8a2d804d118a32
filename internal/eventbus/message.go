/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus to external brokers.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/torque/internal/events"
	"github.com/friendsincode/torque/internal/telemetry"
)

// DefaultSubjectPrefix prefixes broker subjects and channels.
const DefaultSubjectPrefix = "torque.events"

// originKey marks payloads relayed from another node so they are not forwarded again.
const originKey = "_origin_node"

// RelayedTypes are accepted from other nodes and republished locally. Other
// node's cache invalidations must reach this node's cache.
var RelayedTypes = []events.EventType{
	events.EventBusinessHoursUpdated,
	events.EventTechnicianSpecialtyUpdate,
}

// Bridge forwards local events to a broker.
type Bridge interface {
	Start(ctx context.Context) error
	Close() error
}

// message is the envelope published to brokers.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("unmarshal event message: missing event type")
	}
	return &msg, nil
}

// Subject returns the broker subject of an event type.
func Subject(prefix string, eventType events.EventType) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + string(eventType)
}

// forwarder drains local subscriptions and hands each event to publish.
type forwarder struct {
	bus     *events.Bus
	nodeID  string
	broker  string
	publish func(ctx context.Context, eventType events.EventType, data []byte) error
	logger  zerolog.Logger

	mu   sync.Mutex
	subs map[events.EventType]events.Subscriber
	wg   sync.WaitGroup
}

func newForwarder(bus *events.Bus, nodeID, broker string, publish func(context.Context, events.EventType, []byte) error, logger zerolog.Logger) *forwarder {
	return &forwarder{
		bus:     bus,
		nodeID:  nodeID,
		broker:  broker,
		publish: publish,
		logger:  logger,
		subs:    make(map[events.EventType]events.Subscriber),
	}
}

func (f *forwarder) start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range events.AllTypes {
		sub := f.bus.Subscribe(t)
		f.subs[t] = sub
		f.wg.Add(1)
		go f.drain(ctx, t, sub)
	}
}

func (f *forwarder) drain(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	defer f.wg.Done()
	for payload := range sub {
		if _, relayed := payload[originKey]; relayed {
			continue
		}
		data, err := marshalMessage(eventType, payload, f.nodeID)
		if err != nil {
			f.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
			telemetry.EventsPublishedTotal.WithLabelValues(f.broker, string(eventType), "error").Inc()
			continue
		}
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err = f.publish(pubCtx, eventType, data)
		cancel()
		if err != nil {
			f.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to forward event")
			telemetry.EventsPublishedTotal.WithLabelValues(f.broker, string(eventType), "error").Inc()
			continue
		}
		telemetry.EventsPublishedTotal.WithLabelValues(f.broker, string(eventType), "ok").Inc()
	}
}

// stop unsubscribes and waits for in-flight events.
func (f *forwarder) stop() {
	f.mu.Lock()
	for t, sub := range f.subs {
		f.bus.Unsubscribe(t, sub)
	}
	f.subs = make(map[events.EventType]events.Subscriber)
	f.mu.Unlock()
	f.wg.Wait()
}

// relay republishes a remote message locally unless it came from this node.
func (f *forwarder) relay(data []byte) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		f.logger.Warn().Err(err).Msg("dropping malformed remote event")
		return
	}
	if msg.NodeID == f.nodeID {
		return
	}
	payload := msg.Payload
	if payload == nil {
		payload = events.Payload{}
	}
	payload[originKey] = msg.NodeID
	f.bus.Publish(msg.EventType, payload)
	f.logger.Debug().Str("event_type", string(msg.EventType)).Str("source_node", msg.NodeID).Msg("relayed remote event")
}
