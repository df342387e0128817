package redis

// Package redis provides Redis-based adapters for the booking session subsystem.

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

// DefaultKeyPrefix namespaces session keys when no prefix is configured.
const DefaultKeyPrefix = "booking-session:"

// KVStore is a Redis-backed ports.KeyValueStore. Values are stored without a TTL:
// the refresh token's lifetime is governed by the identity provider.
type KVStore struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.KeyValueStore = (*KVStore)(nil)

// NewKVStore creates a Redis key-value store with the default prefix.
func NewKVStore(client redis.UniversalClient) *KVStore {
	return NewKVStoreWithPrefix(client, DefaultKeyPrefix)
}

// NewKVStoreWithPrefix creates a Redis key-value store with a custom key prefix.
func NewKVStoreWithPrefix(client redis.UniversalClient, prefix string) *KVStore {
	return &KVStore{
		client: client,
		prefix: prefix,
	}
}

// Get returns the stored value, or a NotFound AppError when absent.
func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", apperrors.NotFound("empty key")
	}
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperrors.NotFound(fmt.Sprintf("key %q not found", key))
		}
		return "", apperrors.Classify(fmt.Errorf("redis get: %w", err), "read session key")
	}
	return val, nil
}

// Set writes value under key.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return apperrors.ValidationField("key", "key cannot be empty")
	}
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return apperrors.Classify(fmt.Errorf("redis set: %w", err), "write session key")
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil // Nothing to delete
	}
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return apperrors.Classify(fmt.Errorf("redis del: %w", err), "delete session key")
	}
	return nil
}
