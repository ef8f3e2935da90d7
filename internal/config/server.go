package config

import (
	"net"
	"strings"
	"time"
)

// GetServerAddr binds to loopback unless HOST is set.
func GetServerAddr() string {
	host := GetEnvOrDefault("HOST", "127.0.0.1")
	port := strings.TrimPrefix(GetEnvOrDefault("PORT", "8080"), ":")
	return net.JoinHostPort(host, port)
}

func GetShutdownTimeout() time.Duration {
	return parseEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second)
}

// GetAllowedOrigins lists the browser origins allowed to change state or open
// the session stream. An empty list admits same-origin requests only.
func GetAllowedOrigins() []string {
	raw := GetEnvOrDefault("ALLOWED_ORIGINS", "")
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, strings.TrimRight(origin, "/"))
		}
	}
	return origins
}
