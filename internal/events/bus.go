// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/logging"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/metrics"
)

// Config holds bus tuning knobs.
type Config struct {
	// Buffer is the per-subscriber channel depth. A slow consumer stalls
	// the publisher once its buffer fills.
	Buffer int64 `koanf:"buffer"`
}

// DefaultConfig returns the bus defaults.
func DefaultConfig() Config {
	return Config{Buffer: 64}
}

// Bus is the in-process save event bus.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	closed bool
}

// NewBus creates the bus. Call Close when done to release subscribers.
func NewBus(cfg Config) *Bus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.Buffer,
		}, newLoggerAdapter()),
	}
}

// Publish sends the event to every current subscriber.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("event bus is closed")
	}
	b.mu.Unlock()

	payload, err := e.Encode()
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.Kind, err)
	}

	msg := message.NewMessage(e.EventID, payload)
	msg.Metadata.Set("kind", string(e.Kind))
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", e.Kind, err)
	}

	metrics.RecordEventPublished(string(e.Kind))
	logging.Ctx(ctx).Debug().
		Str("kind", string(e.Kind)).
		Str("event_id", e.EventID).
		Str("user_id", e.UserID).
		Msg("save event published")
	return nil
}

// Subscribe returns a channel of decoded events. With no kinds given,
// every event is delivered; otherwise only the listed kinds are. The
// channel closes when ctx is cancelled or the bus is closed. Undecodable
// payloads are dropped with a warning rather than stalling the stream.
func (b *Bus) Subscribe(ctx context.Context, kinds ...Kind) (<-chan Event, error) {
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", Topic, err)
	}

	var wanted map[Kind]bool
	if len(kinds) > 0 {
		wanted = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			wanted[k] = true
		}
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range messages {
			e, err := Decode(msg.Payload)
			if err != nil {
				logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable save event")
				msg.Ack()
				continue
			}
			if wanted != nil && !wanted[e.Kind] {
				msg.Ack()
				continue
			}
			select {
			case out <- e:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}

// loggerAdapter forwards Watermill's internal logging to zerolog.
type loggerAdapter struct {
	fields watermill.LogFields
}

func newLoggerAdapter() watermill.LoggerAdapter {
	return &loggerAdapter{}
}

func (l *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	logging.Error().Err(err).Fields(map[string]any(l.fields.Add(fields))).Msg(msg)
}

func (l *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]any(l.fields.Add(fields))).Msg(msg)
}

func (l *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]any(l.fields.Add(fields))).Msg(msg)
}

func (l *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	logging.Trace().Fields(map[string]any(l.fields.Add(fields))).Msg(msg)
}

func (l *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{fields: l.fields.Add(fields)}
}
