package middleware

import (
	"net/http"

	"github.com/rewards/gateway/internal/credentials"
	"github.com/rewards/gateway/pkg/httpext"
	"github.com/rs/zerolog/log"
)

// SessionReader exposes the current session snapshot.
type SessionReader interface {
	Session() credentials.SessionView
}

// RequireSession rejects requests while no user is signed in, before any
// request body is read.
func RequireSession(sessions SessionReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sessions.Session().Authenticated {
				log.Debug().Str("path", r.URL.Path).Msg("Rejected request without session")
				httpext.JsonError(w, "Not authenticated", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
