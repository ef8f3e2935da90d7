package upstream

import (
	"context"
	"net/http"

	"github.com/rewards/gateway/internal/relay"
	"github.com/rs/zerolog/log"
)

const (
	PathToken        = "/token"
	PathTokenRefresh = "/token/refresh"
	PathLoginOTP     = "/otp/login"
	PathSignupOTP    = "/otp/signup"
	PathLoginVerify  = "/login/verify"
	PathSignupVerify = "/signup/verify"
	PathLogout       = "/logout"
)

// Caller is the part of the relay the auth client depends on.
type Caller interface {
	Call(ctx context.Context, req relay.Request, token string) relay.Result
}

// SignupVerification completes the new-account branch of OTP login.
type SignupVerification struct {
	Phone   string
	OTPGuid string
	OTP     string
	Name    string
	Email   string
}

// Service is the typed client for the upstream's token and OTP endpoints.
type Service struct {
	caller Caller
}

func NewService(caller Caller) *Service {
	return &Service{caller: caller}
}

func (s *Service) call(ctx context.Context, req relay.Request, token string) (relay.Result, error) {
	res := s.caller.Call(ctx, req, token)
	if !res.OK {
		apiErr := classify(res)
		log.Debug().
			Str("endpoint", req.Endpoint).
			Int("status", res.Status).
			Str("code", apiErr.Code).
			Err(apiErr.Class).
			Msg("Upstream auth call failed")
		return res, apiErr
	}
	return res, nil
}

// IssueGuestToken bootstraps an anonymous token with the shared Basic-Auth secret.
func (s *Service) IssueGuestToken(ctx context.Context) (TokenGrant, error) {
	res, err := s.call(ctx, relay.Request{
		Endpoint: PathToken,
		Method:   http.MethodPost,
		Auth:     relay.AuthBasic,
		JSON:     map[string]string{"grant_type": "client_credentials"},
	}, "")
	if err != nil {
		return TokenGrant{}, err
	}
	return decodeTokenGrant(res.Data)
}

func (s *Service) RequestLoginOTP(ctx context.Context, guestToken, phone string) (OTPTicket, error) {
	return s.requestOTP(ctx, PathLoginOTP, guestToken, phone)
}

func (s *Service) RequestSignupOTP(ctx context.Context, guestToken, phone string) (OTPTicket, error) {
	return s.requestOTP(ctx, PathSignupOTP, guestToken, phone)
}

func (s *Service) requestOTP(ctx context.Context, path, guestToken, phone string) (OTPTicket, error) {
	res, err := s.call(ctx, relay.Request{
		Endpoint: path,
		Method:   http.MethodPost,
		Auth:     relay.AuthBearer,
		JSON:     jsonAPIDocument("otp", map[string]string{"phone": phone}),
	}, guestToken)
	if err != nil {
		return OTPTicket{}, err
	}
	return decodeOTPTicket(res.Data)
}

func (s *Service) VerifyLogin(ctx context.Context, guestToken, phone, otpGuid, otp string) (TokenGrant, error) {
	res, err := s.call(ctx, relay.Request{
		Endpoint: PathLoginVerify,
		Method:   http.MethodPost,
		Auth:     relay.AuthBearer,
		JSON: jsonAPIDocument("otp_verification", map[string]string{
			"phone":    phone,
			"otp_guid": otpGuid,
			"otp":      otp,
		}),
	}, guestToken)
	if err != nil {
		return TokenGrant{}, err
	}
	return decodeTokenGrant(res.Data)
}

func (s *Service) VerifySignup(ctx context.Context, guestToken string, v SignupVerification) (TokenGrant, error) {
	res, err := s.call(ctx, relay.Request{
		Endpoint: PathSignupVerify,
		Method:   http.MethodPost,
		Auth:     relay.AuthBearer,
		JSON: jsonAPIDocument("otp_verification", map[string]string{
			"phone":    v.Phone,
			"otp_guid": v.OTPGuid,
			"otp":      v.OTP,
			"fullname": v.Name,
			"email":    v.Email,
		}),
	}, guestToken)
	if err != nil {
		return TokenGrant{}, err
	}
	return decodeTokenGrant(res.Data)
}

// RefreshToken exchanges a refresh token for a new access token.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (TokenGrant, error) {
	res, err := s.call(ctx, relay.Request{
		Endpoint: PathTokenRefresh,
		Method:   http.MethodPost,
		Auth:     relay.AuthBasic,
		JSON: map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
		},
	}, "")
	if err != nil {
		return TokenGrant{}, err
	}
	return decodeTokenGrant(res.Data)
}

func (s *Service) Logout(ctx context.Context, accessToken string) error {
	_, err := s.call(ctx, relay.Request{
		Endpoint: PathLogout,
		Method:   http.MethodPost,
		Auth:     relay.AuthBearer,
	}, accessToken)
	return err
}

func jsonAPIDocument(kind string, attributes map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"data": map[string]interface{}{
			"type":       kind,
			"attributes": attributes,
		},
	}
}
