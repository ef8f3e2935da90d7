package sessionstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rewards/gateway/internal/config"
	"github.com/rewards/gateway/internal/infrastructure/redis"
	"github.com/rs/zerolog/log"
)

// User is the profile summary persisted with a session.
type User struct {
	ID        string `json:"id"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
}

// Record is the single persisted session slot. ExpiresAt is epoch milliseconds.
type Record struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
	ExpiresAt    int64  `json:"expiresAt"`
}

func (r *Record) Expiry() time.Time {
	return time.UnixMilli(r.ExpiresAt)
}

func (r *Record) valid() bool {
	return r.AccessToken != "" && r.RefreshToken != "" && r.ExpiresAt > 0
}

// Store persists at most one session. Load returns nil, nil when the slot is
// empty or holds a record that does not match the expected structure; in the
// latter case the slot is cleared.
type Store interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Clear(ctx context.Context) error
}

// decode parses a stored slot, reporting false on any structural mismatch.
func decode(data []byte) (*Record, bool) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	if !rec.valid() {
		return nil, false
	}
	return &rec, true
}

// New selects the configured backend. A redis backend that is unavailable
// falls back to the file store so sessions stay durable.
func New(cfg config.SessionStoreConfig, redisService *redis.Service) Store {
	switch cfg.Backend {
	case config.SessionStoreMemory:
		log.Info().Msg("Using in-memory session storage")
		return NewMemoryStore()
	case config.SessionStoreRedis:
		if redisService != nil {
			err := redisService.Ping(context.Background())
			if err == nil {
				log.Info().Str("key", cfg.RedisKey).Msg("Using Redis for session storage")
				return NewRedisStore(redisService, cfg.RedisKey)
			}
			log.Error().Err(err).Msg("Redis connection failed")
		}
		log.Warn().Str("path", cfg.FilePath).Msg("Falling back to file session storage")
	}

	log.Info().Str("path", cfg.FilePath).Msg("Using file session storage")
	return NewFileStore(cfg.FilePath)
}
