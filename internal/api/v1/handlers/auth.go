package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rewards/gateway/internal/credentials"
	"github.com/rewards/gateway/pkg/httpext"
	"github.com/rs/zerolog/log"
)

const maxAuthBodyBytes = 16 << 10

func HandleRequestOTP(creds Credentials, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone" validate:"required,min=6,max=20"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)).Decode(&req); err != nil {
		log.Debug().Err(err).Msg("Failed to decode OTP request")
		httpext.JsonError(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpext.JsonError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	outcome := creds.RequestOTP(r.Context(), req.Phone)
	status := http.StatusOK
	if outcome.Kind == credentials.OTPFailed {
		status = http.StatusUnprocessableEntity
	}
	httpext.WriteJSON(w, status, outcome)
}

type verifyRequest struct {
	Phone   string `json:"phone" validate:"required"`
	OTPGuid string `json:"otp_guid" validate:"required"`
	OTP     string `json:"otp" validate:"required,numeric"`
	Name    string `json:"name" validate:"omitempty,max=100"`
	Email   string `json:"email" validate:"omitempty,email"`
}

func HandleVerifyOTP(creds Credentials, w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)).Decode(&req); err != nil {
		log.Debug().Err(err).Msg("Failed to decode verification request")
		httpext.JsonError(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpext.JsonError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	view, err := creds.Login(r.Context(), credentials.IdentityProof{
		Phone:   req.Phone,
		OTPGuid: req.OTPGuid,
		OTP:     req.OTP,
		Name:    req.Name,
		Email:   req.Email,
	})
	if err != nil {
		writeCredentialError(w, err)
		return
	}
	httpext.WriteJSON(w, http.StatusOK, view)
}

func HandleLogout(creds Credentials, w http.ResponseWriter, r *http.Request) {
	creds.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
