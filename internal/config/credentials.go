package config

import "time"

type CredentialsConfig struct {
	// ExpiryBuffer is how close to expiry a credential may get before it is replaced
	ExpiryBuffer time.Duration
	// GuestRenewInterval is the fixed period of the background guest renewal
	GuestRenewInterval time.Duration
	// DefaultLifetime applies when the server supplies neither an exp claim nor expires_in
	DefaultLifetime time.Duration
	// RestoreRefreshWindow triggers an immediate refresh of a restored session expiring within it
	RestoreRefreshWindow time.Duration
}

func GetCredentialsConfig() CredentialsConfig {
	return CredentialsConfig{
		ExpiryBuffer:         parseEnvDuration("CREDENTIAL_EXPIRY_BUFFER", 60*time.Second),
		GuestRenewInterval:   parseEnvDuration("GUEST_RENEW_INTERVAL", 10*time.Minute),
		DefaultLifetime:      parseEnvDuration("CREDENTIAL_DEFAULT_LIFETIME", time.Hour),
		RestoreRefreshWindow: parseEnvDuration("SESSION_RESTORE_REFRESH_WINDOW", 5*time.Minute),
	}
}
