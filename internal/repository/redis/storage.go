package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/cartengine/pkg/database"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

// Storage implements repository.Storage using Redis string keys.
type Storage struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewStorage creates a Redis-backed snapshot storage. A zero ttl stores
// snapshots without expiry.
func NewStorage(client redis.UniversalClient, ttl time.Duration) *Storage {
	return &Storage{
		client: client,
		ttl:    ttl,
	}
}

// Read retrieves the snapshot stored under key.
func (s *Storage) Read(ctx context.Context, key string) (data []byte, err error) {
	ctx, end := database.TraceQuery(ctx, "redis", "ReadSnapshot", "GET")
	defer func() { end(err) }()

	data, err = s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("cart snapshot", key)
		}
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	return data, nil
}

// Write stores the snapshot under key, refreshing the TTL.
func (s *Storage) Write(ctx context.Context, key string, data []byte) (err error) {
	ctx, end := database.TraceQuery(ctx, "redis", "WriteSnapshot", "SET")
	defer func() { end(err) }()

	if err = s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
