package notify

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
)

// DefaultChannel is the pub/sub channel status changes are published on.
const DefaultChannel = "waitlist:status"

// Publisher is the subset of the redis client used for publishing.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisConfig holds the connection settings for the redis notifier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// NewRedisClient builds a client from cfg.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisPublisher publishes every change as JSON so out-of-process delivery
// workers can pick it up.
type RedisPublisher struct {
	client  Publisher
	channel string
	logger  zerolog.Logger
}

// NewRedisPublisher publishes on channel, or DefaultChannel when empty.
func NewRedisPublisher(client Publisher, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  log.With().Str("component", "redis_notifier").Logger(),
	}
}

// Notify implements Notifier. Failures are logged; the change is already committed.
func (p *RedisPublisher) Notify(ctx context.Context, c model.StatusChange) {
	payload, err := json.Marshal(c)
	if err != nil {
		p.logger.Error().Err(err).Msg("marshal status change")
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn().Err(err).
			Str("event_id", c.EventID).
			Str("entrant_id", c.EntrantID).
			Msg("publish status change")
	}
}
