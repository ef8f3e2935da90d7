package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// UpstreamConfig describes the merchant API every request is relayed to.
// The values are injected at deploy time and treated as constants afterwards.
type UpstreamConfig struct {
	BaseURL         string
	APIKey          string
	BasicAuthSecret string
	AppVersion      string
	// Origin is sent as Origin/Referer on the browser header profile
	Origin string
}

func GetUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		BaseURL:         strings.TrimRight(GetEnvOrDefault("UPSTREAM_BASE_URL", ""), "/"),
		APIKey:          GetEnvOrDefault("UPSTREAM_API_KEY", ""),
		BasicAuthSecret: GetEnvOrDefault("UPSTREAM_BASIC_AUTH", ""),
		AppVersion:      GetEnvOrDefault("UPSTREAM_APP_VERSION", "1.0.0"),
		Origin:          strings.TrimRight(GetEnvOrDefault("UPSTREAM_ORIGIN", ""), "/"),
	}
}

// Validate reports whether the settings needed to reach the upstream are present.
func (c UpstreamConfig) Validate() bool {
	valid := true
	if c.BaseURL == "" {
		log.Error().Msg("UPSTREAM_BASE_URL environment variable not set")
		valid = false
	}
	if c.APIKey == "" {
		log.Error().Msg("UPSTREAM_API_KEY environment variable not set")
		valid = false
	}
	if c.BasicAuthSecret == "" {
		log.Error().Msg("UPSTREAM_BASIC_AUTH environment variable not set")
		valid = false
	}
	return valid
}

// GetUpstreamTimeout bounds a single upstream attempt.
func GetUpstreamTimeout() time.Duration {
	return parseEnvDuration("UPSTREAM_TIMEOUT", 20*time.Second)
}
