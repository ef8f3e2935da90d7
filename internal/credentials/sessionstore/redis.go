package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rewards/gateway/internal/infrastructure/redis"
	"github.com/rs/zerolog/log"
)

type RedisStore struct {
	redisService *redis.Service
	key          string
}

func NewRedisStore(redisService *redis.Service, key string) *RedisStore {
	return &RedisStore{redisService: redisService, key: key}
}

func (rs *RedisStore) Load(ctx context.Context) (*Record, error) {
	data, err := rs.redisService.Get(ctx, rs.key)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	rec, ok := decode([]byte(data))
	if !ok {
		log.Warn().Str("key", rs.key).Msg("Discarding malformed persisted session")
		if err := rs.redisService.Delete(ctx, rs.key); err != nil {
			return nil, fmt.Errorf("failed to clear session: %w", err)
		}
		return nil, nil
	}
	return rec, nil
}

// Save stores the record without expiry; the session outlives its access token.
func (rs *RedisStore) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return rs.redisService.Set(ctx, rs.key, string(data), 0)
}

func (rs *RedisStore) Clear(ctx context.Context) error {
	return rs.redisService.Delete(ctx, rs.key)
}
