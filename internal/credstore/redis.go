package credstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sealed entries in one Redis hash per namespace. Set runs
// DEL + HSET inside MULTI/EXEC, so HGETALL never observes half a pair.
type RedisStore struct {
	rdb    redis.UniversalClient
	key    string
	sealer *Sealer
}

// NewRedisStore returns a store using the hash "credstore:<namespace>".
func NewRedisStore(rdb redis.UniversalClient, sealer *Sealer) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		key:    "credstore:" + sealer.Namespace(),
		sealer: sealer,
	}
}

// Get reads the whole hash in one round trip.
func (s *RedisStore) Get(ctx context.Context) (*Credential, error) {
	sealed, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall %s: %w", ErrStorage, s.key, err)
	}

	entries, err := s.sealer.openEntries(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return fromEntries(entries), nil
}

// Set replaces the hash atomically.
func (s *RedisStore) Set(ctx context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}

	sealed, err := s.sealer.sealEntries(toEntries(c))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key, sealed)

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: hset %s: %w", ErrStorage, s.key, err)
	}

	return nil
}

// Clear deletes the hash.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %w", ErrStorage, s.key, err)
	}

	return nil
}
