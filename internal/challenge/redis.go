package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ceremony"

// RedisStore keeps pending ceremonies in Redis so any instance can finish a
// ceremony begun elsewhere. Expiry rides on the key TTL; an expired ceremony
// is indistinguishable from a missing one.
type RedisStore struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedisStore builds a ceremony store over the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		clock:  time.Now,
	}
}

func redisKey(id string) string {
	return redisKeyPrefix + ":" + id
}

// redisSession is the stored wire form.
type redisSession struct {
	Kind      Kind   `json:"kind"`
	AccountID string `json:"account_id,omitempty"`
	Data      []byte `json:"data"`
	ExpiresAt int64  `json:"expires_at"`
}

// Put stores the ceremony with a TTL matching its expiry.
func (s *RedisStore) Put(ctx context.Context, session Session) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis client is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if session.Kind == "" {
		return fmt.Errorf("session kind is required")
	}

	ttl := session.ExpiresAt.Sub(s.clock().UTC())
	if ttl <= 0 {
		return fmt.Errorf("session is already expired")
	}

	payload, err := json.Marshal(redisSession{
		Kind:      session.Kind,
		AccountID: session.AccountID,
		Data:      session.Data,
		ExpiresAt: session.ExpiresAt.UTC().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode ceremony session: %w", err)
	}

	if err := s.client.Set(ctx, redisKey(session.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store ceremony session: %w", err)
	}
	return nil
}

// Take returns the pending ceremony for the session.
func (s *RedisStore) Take(ctx context.Context, id string, kind Kind) (Session, error) {
	if s == nil || s.client == nil {
		return Session{}, fmt.Errorf("redis client is not configured")
	}

	payload, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNoPendingCeremony
		}
		return Session{}, fmt.Errorf("load ceremony session: %w", err)
	}

	var stored redisSession
	if err := json.Unmarshal(payload, &stored); err != nil {
		return Session{}, fmt.Errorf("decode ceremony session: %w", err)
	}
	if stored.Kind != kind {
		return Session{}, ErrNoPendingCeremony
	}

	expiresAt := time.UnixMilli(stored.ExpiresAt).UTC()
	if !expiresAt.After(s.clock().UTC()) {
		_ = s.client.Del(ctx, redisKey(id)).Err()
		return Session{}, ErrCeremonyExpired
	}

	return Session{
		ID:        id,
		Kind:      stored.Kind,
		AccountID: stored.AccountID,
		Data:      stored.Data,
		ExpiresAt: expiresAt,
	}, nil
}

// Delete removes the pending ceremony, if any.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis client is not configured")
	}
	if err := s.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("delete ceremony session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op for Redis; key TTLs handle expiry.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) error {
	return nil
}
