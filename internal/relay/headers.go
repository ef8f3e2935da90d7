package relay

import (
	"encoding/base64"
	"net/http"
	"strings"
)

const (
	mobileUserAgent  = "okhttp/4.12.0"
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	jsonAPIType      = "application/vnd.api+json"
)

// HeaderProfile is the set of headers sent for a class of payload. The
// upstream edge treats mobile-looking multipart traffic and browser-looking
// JSON traffic differently, so the two are never mixed.
type HeaderProfile int

const (
	ProfileBrowser HeaderProfile = iota
	ProfileMobile
)

func (p HeaderProfile) String() string {
	if p == ProfileMobile {
		return "mobile"
	}
	return "browser"
}

func profileFor(req Request) HeaderProfile {
	if req.Multipart != nil {
		return ProfileMobile
	}
	return ProfileBrowser
}

func (r *Relay) applyHeaders(h http.Header, profile HeaderProfile, auth AuthMode, token, contentType string) {
	switch profile {
	case ProfileMobile:
		h.Set("User-Agent", mobileUserAgent)
		h.Set("Accept", "application/json")
	default:
		h.Set("User-Agent", browserUserAgent)
		h.Set("Accept", jsonAPIType+", application/json")
		h.Set("Accept-Language", "en-IN,en;q=0.9")
		if r.origin != "" {
			h.Set("Origin", r.origin)
			h.Set("Referer", r.origin+"/")
		}
	}

	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if r.apiKey != "" {
		h.Set("X-Api-Key", r.apiKey)
	}
	if r.appVersion != "" {
		h.Set("X-App-Version", r.appVersion)
	}

	switch auth {
	case AuthBearer:
		if token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	case AuthBasic:
		if r.basicAuth != "" {
			h.Set("Authorization", "Basic "+r.basicAuth)
		}
	}
}

// encodeBasicSecret accepts either "user:password" or an already encoded value.
func encodeBasicSecret(secret string) string {
	if strings.Contains(secret, ":") {
		return base64.StdEncoding.EncodeToString([]byte(secret))
	}
	return secret
}
