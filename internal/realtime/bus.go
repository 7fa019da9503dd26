package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/alfie-backend/internal/config"
)

// RedisBus publishes events to a Redis channel so every API replica can
// forward them to its own Hub.
type RedisBus struct {
	rdb     *goredis.Client
	channel string
	log     zerolog.Logger
}

// NewRedisBus connects and pings Redis.
func NewRedisBus(ctx context.Context, cfg config.RedisConfig) (*RedisBus, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is empty")
	}
	ch := strings.TrimSpace(cfg.Channel)
	if ch == "" {
		ch = "alfie-events"
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{rdb: rdb, channel: ch, log: log.With().Str("component", "realtime.redis").Logger()}, nil
}

// Publish implements Publisher.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Forward subscribes to the bus and hands each event to deliver until ctx
// ends. It returns once the subscription is confirmed.
func (b *RedisBus) Forward(ctx context.Context, deliver func(Event)) error {
	if deliver == nil {
		return errors.New("deliver callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				ev, err := decodeEvent(m.Payload)
				if err != nil {
					b.log.Warn().Err(err).Msg("bad event payload")
					continue
				}
				deliver(ev)
			}
		}
	}()
	return nil
}

// Close releases the Redis client.
func (b *RedisBus) Close() error { return b.rdb.Close() }

func decodeEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, err
	}
	if ev.Channel == "" || ev.Type == "" {
		return Event{}, errors.New("event without channel or type")
	}
	return ev, nil
}
