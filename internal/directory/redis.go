package directory

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const redisKeyPrefix = "party-code:"

// RedisStore relies on key TTLs for expiry, so DeleteExpired has nothing to do.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Insert(ctx context.Context, r Registration, now time.Time) error {
	ttl := r.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}
	b, err := msgpack.Marshal(r)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+r.Code, b, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeTaken
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, code string, now time.Time) (Registration, error) {
	b, err := s.client.Get(ctx, redisKeyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return Registration{}, ErrNotFound
	}
	if err != nil {
		return Registration{}, err
	}
	var r Registration
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return Registration{}, err
	}
	if r.Expired(now) {
		return Registration{}, ErrNotFound
	}
	return r, nil
}

func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *RedisStore) Close() error { return s.client.Close() }
