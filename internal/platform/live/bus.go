package live

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Bus carries events between replicas so a participant connected to one
// replica sees events published on another.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	// Run forwards received events to onEvent until ctx is done.
	Run(ctx context.Context, onEvent func(Event)) error
}

type redisPubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// RedisBus is a Bus over a Redis pub/sub channel.
type RedisBus struct {
	rdb     redisPubSub
	channel string
	logger  zerolog.Logger
}

func NewRedisBus(rdb redisPubSub, channel string, logger zerolog.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, channel: channel, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode live event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Run(ctx context.Context, onEvent func(Event)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	b.logger.Info().Str("channel", b.channel).Msg("live bus forwarder started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok || m == nil {
				return fmt.Errorf("redis subscription closed")
			}
			var event Event
			if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
				b.logger.Warn().Err(err).Msg("bad live bus payload")
				continue
			}
			onEvent(event)
		}
	}
}
