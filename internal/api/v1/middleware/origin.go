package middleware

import (
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/rewards/gateway/pkg/httpext"
	"github.com/rs/zerolog/log"
)

// OriginAllowed reports whether a browser request may act on the session.
// Requests without an Origin header come from non-browser clients and pass,
// unless Sec-Fetch-Site marks them cross-site. With an empty allow-list only
// same-origin requests pass.
func OriginAllowed(r *http.Request, allowed []string) bool {
	origin := strings.TrimRight(r.Header.Get("Origin"), "/")
	if origin == "" {
		return r.Header.Get("Sec-Fetch-Site") != "cross-site"
	}
	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	for _, a := range allowed {
		if strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// CheckOrigin rejects state-changing requests from origins outside the
// allow-list.
func CheckOrigin(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if !OriginAllowed(r, allowed) {
				log.Warn().Str("origin", r.Header.Get("Origin")).Str("path", r.URL.Path).Msg("Rejected cross-origin request")
				httpext.JsonError(w, "Origin not allowed", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireJSON rejects request bodies not declared as application/json, which
// keeps plain HTML forms from reaching JSON handlers.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			httpext.JsonError(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
			return
		}
		next.ServeHTTP(w, r)
	})
}
