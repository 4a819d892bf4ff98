package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares reservations across instances. Reserve relies on SETNX so
// exactly one request wins a key.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps client. Keys live under prefix, "idempotency" by default.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "idempotency"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (State, Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record := Record{Fingerprint: fingerprint, ExpiresAt: s.now().Add(ttl)}
	payload, err := json.Marshal(record)
	if err != nil {
		return 0, Record{}, err
	}
	won, err := s.client.SetNX(ctx, s.key(key), payload, ttl).Result()
	if err != nil {
		return 0, Record{}, fmt.Errorf("idempotency: redis setnx: %w", err)
	}
	if won {
		return StateNew, record, nil
	}

	existing, err := s.load(ctx, key)
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; the retry will reserve it.
		return StatePending, Record{}, nil
	}
	if err != nil {
		return 0, Record{}, err
	}
	if existing.Fingerprint != fingerprint {
		return 0, Record{}, ErrFingerprintMismatch
	}
	if existing.Completed {
		return StateCompleted, existing, nil
	}
	return StatePending, existing, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, record Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record.Completed = true
	record.ExpiresAt = s.now().Add(ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	existing, err := s.load(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.Fingerprint != fingerprint || existing.Completed {
		return nil
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, key string) (Record, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("idempotency: redis get: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}
