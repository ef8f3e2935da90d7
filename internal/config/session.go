package config

const (
	SessionStoreFile   = "file"
	SessionStoreRedis  = "redis"
	SessionStoreMemory = "memory"
)

// SessionStoreConfig selects where the single persisted session slot lives.
type SessionStoreConfig struct {
	Backend  string
	FilePath string
	RedisKey string
}

func GetSessionStoreConfig() SessionStoreConfig {
	backend := GetEnvOrDefault("SESSION_STORE", SessionStoreFile)
	switch backend {
	case SessionStoreFile, SessionStoreRedis, SessionStoreMemory:
	default:
		backend = SessionStoreFile
	}

	return SessionStoreConfig{
		Backend:  backend,
		FilePath: GetEnvOrDefault("SESSION_FILE", "./data/session.json"),
		RedisKey: GetEnvOrDefault("SESSION_REDIS_KEY", "rewards:session"),
	}
}
