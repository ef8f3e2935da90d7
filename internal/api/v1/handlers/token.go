package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/rewards/gateway/internal/credentials"
	"github.com/rewards/gateway/pkg/httpext"
	"github.com/rs/zerolog/log"
)

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func HandleGuestToken(creds Credentials, w http.ResponseWriter, r *http.Request) {
	cred, err := creds.AcquireGuest(r.Context())
	if err != nil {
		writeCredentialError(w, err)
		return
	}
	httpext.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: cred.Token, TokenType: "Bearer", ExpiresAt: cred.ExpiresAt})
}

func HandleUserToken(creds Credentials, w http.ResponseWriter, r *http.Request) {
	cred, err := creds.AcquireUser(r.Context())
	if err != nil {
		writeCredentialError(w, err)
		return
	}
	httpext.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: cred.Token, TokenType: "Bearer", ExpiresAt: cred.ExpiresAt})
}

// writeCredentialError maps credential manager errors onto HTTP responses.
func writeCredentialError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credentials.ErrNotAuthenticated):
		httpext.JsonErrorWithDetails(w, http.StatusUnauthorized, httpext.ErrorResponse{Error: "not_authenticated", ErrorDescription: "Sign in to continue"})
	case errors.Is(err, credentials.ErrSessionExpired):
		httpext.JsonErrorWithDetails(w, http.StatusUnauthorized, httpext.ErrorResponse{Error: "session_expired", ErrorDescription: "Your session has expired, please sign in again"})
	case errors.Is(err, credentials.ErrProfileRequired):
		httpext.JsonErrorWithDetails(w, http.StatusBadRequest, httpext.ErrorResponse{Error: "profile_required", ErrorDescription: "Name and email are required to create an account"})
	case errors.Is(err, credentials.ErrOTPNotRequested):
		httpext.JsonErrorWithDetails(w, http.StatusConflict, httpext.ErrorResponse{Error: "otp_not_requested", ErrorDescription: "Request a one-time password first"})
	case errors.Is(err, credentials.ErrInvalidOTP):
		httpext.JsonErrorWithDetails(w, http.StatusUnauthorized, httpext.ErrorResponse{Error: "invalid_otp", ErrorDescription: "The one-time password was not accepted"})
	default:
		log.Error().Err(err).Msg("Credential unavailable")
		httpext.JsonErrorWithDetails(w, http.StatusServiceUnavailable, httpext.ErrorResponse{Error: "credential_unavailable", ErrorDescription: "Please try again shortly"})
	}
}
