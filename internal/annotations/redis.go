package annotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/a3tai/papyrus-engine/internal/store"
)

// KeyPrefix prefixes every document key written to Redis.
const KeyPrefix = "papyrus:annotations:"

// RedisStore keeps each document's annotations as one JSON value.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Repository = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed repository. A ttl of zero keeps
// entries forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// OpenRedis connects to the server described by url, such as
// redis://localhost:6379/0, and checks it answers.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Load(ctx context.Context, docKey string) ([]store.Annotation, error) {
	data, err := s.client.Get(ctx, KeyPrefix+docKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return []store.Annotation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get annotations: %w", err)
	}

	var anns []store.Annotation
	if err := json.Unmarshal(data, &anns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal annotations: %w", err)
	}
	if anns == nil {
		anns = []store.Annotation{}
	}
	return anns, nil
}

func (s *RedisStore) Save(ctx context.Context, docKey string, anns []store.Annotation) error {
	if anns == nil {
		anns = []store.Annotation{}
	}
	data, err := json.Marshal(anns)
	if err != nil {
		return fmt.Errorf("failed to marshal annotations: %w", err)
	}
	if err := s.client.Set(ctx, KeyPrefix+docKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save annotations: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, docKey string) error {
	if err := s.client.Del(ctx, KeyPrefix+docKey).Err(); err != nil {
		return fmt.Errorf("failed to delete annotations: %w", err)
	}
	return nil
}
