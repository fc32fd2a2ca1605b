package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore owns the shared Redis connection behind the delivery guards and
// the cross-path notify marker.
type RedisStore struct {
	client    *redis.Client
	markerTTL time.Duration
}

func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		markerTTL: 24 * time.Hour,
	}, nil
}

// NotifyMarker returns a marker sharing this store's connection and TTL.
func (s *RedisStore) NotifyMarker(logger *slog.Logger) *NotifyMarker {
	return &NotifyMarker{
		client: s.client,
		logger: logger,
		ttl:    s.markerTTL,
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}
