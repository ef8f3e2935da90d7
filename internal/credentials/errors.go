package credentials

import "errors"

var (
	ErrCredentialUnavailable = errors.New("credentials: credential unavailable")
	ErrSessionExpired        = errors.New("credentials: session expired")
	ErrNotAuthenticated      = errors.New("credentials: not authenticated")
	ErrProfileRequired       = errors.New("credentials: name and email are required to create an account")
	ErrOTPNotRequested       = errors.New("credentials: no otp pending for this phone")
	ErrInvalidOTP            = errors.New("credentials: otp verification failed")
)
