package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/careline/concierge/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	defaultRedisTTL  = 24 * time.Hour
)

// RedisStore implements Store using Redis with optimistic locking. Suitable
// for distributed deployments; sessions for different ids shard naturally by
// key.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a new Redis-backed session store.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Create atomically claims the session id with SetNX so two concurrent first
// touches converge on a single session.
func (s *RedisStore) Create(ctx context.Context, session *domain.ChatSession) error {
	key := s.key(session.ID)
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	session.Version = 1

	val, err := json.Marshal(session)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, key, val, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// Get returns nil if the session is not found (not an error). Refreshes the
// key TTL on every read.
func (s *RedisStore) Get(ctx context.Context, id string) (*domain.ChatSession, error) {
	key := s.key(id)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var session domain.ChatSession
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, err
	}

	// Best effort; a failed TTL refresh never fails the read.
	_ = s.client.Expire(ctx, key, s.ttl).Err()

	return &session, nil
}

// Update implements optimistic locking with WATCH/MULTI/EXEC: verifies the
// stored version matches, increments it, and persists.
func (s *RedisStore) Update(ctx context.Context, session *domain.ChatSession) error {
	key := s.key(session.ID)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var stored domain.ChatSession
		if err := json.Unmarshal([]byte(val), &stored); err != nil {
			return err
		}
		if stored.Version != session.Version {
			return ErrVersionConflict
		}

		session.Version++
		session.UpdatedAt = time.Now()

		newVal, err := json.Marshal(session)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		return err
	}, key)
}

// Delete removes the session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// DeleteIdle is a no-op: Redis expires session keys natively via TTL.
func (s *RedisStore) DeleteIdle(ctx context.Context, ttl time.Duration) (int64, error) {
	return 0, nil
}

// Ping verifies backend connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return sessionKeyPrefix + id
}
