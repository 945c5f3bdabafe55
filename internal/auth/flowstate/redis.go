package flowstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps flows in Redis so any instance can complete a flow
// another instance started. Expiry is delegated to Redis TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed flow store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "authflow:",
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Put(ctx context.Context, flow *FlowState) error {
	ttl := time.Until(flow.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("flow expires_at must be in the future")
	}

	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	if err := s.client.Set(ctx, s.key(flow.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store flow: %w", err)
	}
	return nil
}

// Take uses GETDEL so retrieval and destruction are one atomic command
// even with concurrent callbacks racing on the same flow.
func (s *RedisStore) Take(ctx context.Context, id string) (*FlowState, error) {
	val, err := s.client.GetDel(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take flow: %w", err)
	}

	var flow FlowState
	if err := json.Unmarshal([]byte(val), &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}
	if flow.Expired() {
		return nil, ErrNotFound
	}
	return &flow, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
