// Package cache keeps short lived markers in Redis, msgpack encoded.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrMiss = errors.New("cache miss")

// Store keeps values of one type under prefix+key, each expiring after ttl.
type Store[T any] struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewStore[T any](rdb redis.UniversalClient, prefix string, ttl time.Duration) *Store[T] {
	return &Store[T]{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *Store[T]) key(k string) string {
	return s.prefix + k
}

func (s *Store[T]) Put(ctx context.Context, k string, value T) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.key(k), err)
	}
	return s.rdb.Set(ctx, s.key(k), data, s.ttl).Err()
}

// Lookup returns ErrMiss when k is absent or expired.
func (s *Store[T]) Lookup(ctx context.Context, k string) (T, error) {
	var value T
	data, err := s.rdb.Get(ctx, s.key(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return value, ErrMiss
	}
	if err != nil {
		return value, err
	}
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("decode %s: %w", s.key(k), err)
	}
	return value, nil
}

// Has reports whether k is present. The stored value is not decoded.
func (s *Store[T]) Has(ctx context.Context, k string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(k)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
