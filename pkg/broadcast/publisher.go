// Package broadcast forwards live-update events to subscribers over a Redis
// pub/sub channel. Publishing is best effort: a circuit breaker stops the
// request path from waiting on an unreachable Redis.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/Kunalrpawar/crowd-management-sub001/config"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("broadcast: channel unavailable")

// Publisher sends one event to every live subscriber.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// RedisClient is the subset of *redis.Client used for publishing.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// BreakerSettings tunes the circuit breaker around PUBLISH.
type BreakerSettings struct {
	// MaxFailures consecutive failures open the breaker. Default: 5
	MaxFailures uint32

	// OpenTimeout is how long the breaker stays open before probing. Default: 30s
	OpenTimeout time.Duration
}

// RedisPublisher publishes JSON-encoded events to a Redis channel.
type RedisPublisher struct {
	client  RedisClient
	channel string
	breaker *gobreaker.CircuitBreaker[int64]
	logger  zerolog.Logger
	timeout time.Duration
}

// NewRedisPublisher wraps an existing client.
func NewRedisPublisher(client RedisClient, channel string, bs BreakerSettings, logger zerolog.Logger) *RedisPublisher {
	if bs.MaxFailures == 0 {
		bs.MaxFailures = 5
	}
	if bs.OpenTimeout <= 0 {
		bs.OpenTimeout = 30 * time.Second
	}
	logger = logger.With().Str("component", "broadcast").Str("channel", channel).Logger()

	breaker := gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:        "redis-publish",
		MaxRequests: 1,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("broadcast breaker state changed")
		},
	})

	return &RedisPublisher{
		client:  client,
		channel: channel,
		breaker: breaker,
		logger:  logger,
		timeout: 2 * time.Second,
	}
}

// Dial connects to Redis, verifies the connection and returns the client and
// a publisher on cfg.Channel. The caller owns the client.
func Dial(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*redis.Client, *RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	pub := NewRedisPublisher(client, cfg.Channel, BreakerSettings{
		MaxFailures: cfg.BreakerFailures,
		OpenTimeout: cfg.BreakerTimeout,
	}, logger)
	return client, pub, nil
}

// Publish encodes event as JSON and publishes it. Returns ErrUnavailable
// without touching Redis while the breaker is open.
func (p *RedisPublisher) Publish(ctx context.Context, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("broadcast: encode: %w", err)
	}

	receivers, err := p.breaker.Execute(func() (int64, error) {
		pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.client.Publish(pubCtx, p.channel, payload).Result()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	if err != nil {
		return fmt.Errorf("broadcast: publish: %w", err)
	}

	p.logger.Debug().Int64("receivers", receivers).Msg("event published")
	return nil
}

// State reports the breaker state.
func (p *RedisPublisher) State() gobreaker.State {
	return p.breaker.State()
}

// HealthCheck pings Redis and returns nil if healthy.
func HealthCheck(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err()
}

// Discard drops every event. Used when Redis is disabled.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, any) error { return nil }

var (
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = Discard{}
)
