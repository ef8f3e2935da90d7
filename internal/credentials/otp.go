package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rewards/gateway/internal/infrastructure/upstream"
	"github.com/rs/zerolog/log"
)

type OTPOutcomeKind string

const (
	OTPExistingUser OTPOutcomeKind = "existing_user"
	OTPNewUser      OTPOutcomeKind = "new_user"
	OTPFailed       OTPOutcomeKind = "failed"
)

// OTPOutcome is the tagged result of an OTP request. Reason and Err are set
// only when Kind is OTPFailed.
type OTPOutcome struct {
	Kind    OTPOutcomeKind `json:"outcome"`
	OTPGuid string         `json:"otp_guid,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Err     error          `json:"-"`
}

func otpFailed(reason string, err error) OTPOutcome {
	return OTPOutcome{Kind: OTPFailed, Reason: reason, Err: err}
}

// IdentityProof completes an OTP login. Name and Email are required when the
// OTP was issued for a new account.
type IdentityProof struct {
	Phone   string `json:"phone"`
	OTPGuid string `json:"otp_guid"`
	OTP     string `json:"otp"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
}

// RequestOTP asks for a login OTP and, only when the upstream reports the
// phone as unknown, makes a single signup OTP attempt.
func (m *Manager) RequestOTP(ctx context.Context, phone string) OTPOutcome {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return otpFailed("phone number is required", nil)
	}

	m.mu.Lock()
	signedIn := m.sess != nil
	m.mu.Unlock()
	if signedIn {
		return otpFailed("already signed in", nil)
	}

	guest, err := m.AcquireGuest(ctx)
	if err != nil {
		return otpFailed("service unavailable, please try again", err)
	}

	ticket, err := m.auth.RequestLoginOTP(ctx, guest.Token, phone)
	if err == nil {
		m.setPending(&pendingOTP{phone: phone, guid: ticket.GUID})
		log.Info().Str("phone", maskPhone(phone)).Msg("Login OTP issued")
		return OTPOutcome{Kind: OTPExistingUser, OTPGuid: ticket.GUID}
	}
	if !errors.Is(err, upstream.ErrNotFound) {
		log.Warn().Err(err).Str("phone", maskPhone(phone)).Msg("Login OTP request failed")
		return otpFailed(failureReason(err), err)
	}

	ticket, err = m.auth.RequestSignupOTP(ctx, guest.Token, phone)
	if err != nil {
		log.Warn().Err(err).Str("phone", maskPhone(phone)).Msg("Signup OTP request failed")
		return otpFailed(failureReason(err), err)
	}

	m.setPending(&pendingOTP{phone: phone, guid: ticket.GUID, newUser: true})
	log.Info().Str("phone", maskPhone(phone)).Msg("Signup OTP issued")
	return OTPOutcome{Kind: OTPNewUser, OTPGuid: ticket.GUID}
}

func (m *Manager) setPending(p *pendingOTP) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		return
	}
	m.pending = p
	if p.newUser {
		m.publishLocked(StateOTPRequestedNew)
	} else {
		m.publishLocked(StateOTPRequestedExisting)
	}
}

// Login verifies the OTP for the pending request and starts a session.
func (m *Manager) Login(ctx context.Context, proof IdentityProof) (SessionView, error) {
	proof.Phone = strings.TrimSpace(proof.Phone)

	m.mu.Lock()
	pending := m.pending
	gen := m.generation
	m.mu.Unlock()

	if pending == nil || pending.phone != proof.Phone {
		return SessionView{}, ErrOTPNotRequested
	}
	if pending.newUser && (strings.TrimSpace(proof.Name) == "" || strings.TrimSpace(proof.Email) == "") {
		return SessionView{}, ErrProfileRequired
	}

	guest, err := m.AcquireGuest(ctx)
	if err != nil {
		return SessionView{}, err
	}

	var grant upstream.TokenGrant
	if pending.newUser {
		grant, err = m.auth.VerifySignup(ctx, guest.Token, upstream.SignupVerification{
			Phone:   proof.Phone,
			OTPGuid: proof.OTPGuid,
			OTP:     proof.OTP,
			Name:    strings.TrimSpace(proof.Name),
			Email:   strings.TrimSpace(proof.Email),
		})
	} else {
		grant, err = m.auth.VerifyLogin(ctx, guest.Token, proof.Phone, proof.OTPGuid, proof.OTP)
	}
	if err != nil {
		log.Warn().Err(err).Str("phone", maskPhone(proof.Phone)).Msg("OTP verification failed")
		if errors.Is(err, upstream.ErrUnavailable) || errors.Is(err, upstream.ErrMalformed) {
			return SessionView{}, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
		}
		return SessionView{}, fmt.Errorf("%w: %v", ErrInvalidOTP, err)
	}
	if grant.RefreshToken == "" {
		return SessionView{}, fmt.Errorf("%w: login response carried no refresh token", ErrCredentialUnavailable)
	}

	now := m.now()
	sess := &session{
		access: Credential{
			Kind:         KindUser,
			Token:        grant.AccessToken,
			ExpiresAt:    expiryFor(grant.AccessToken, grant.ExpiresIn, now, m.cfg.DefaultLifetime),
			RefreshToken: grant.RefreshToken,
		},
		profile: profileFromUpstream(grant.User, Profile{
			Phone:     proof.Phone,
			Email:     strings.TrimSpace(proof.Email),
			FirstName: firstWord(proof.Name),
		}),
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return SessionView{}, ErrNotAuthenticated
	}
	m.sess = sess
	m.pending = nil
	m.armLocked(KindUser, m.delayUntil(sess.access.ExpiresAt))
	m.publishLocked(StateActive)
	view := *m.view.Load()
	m.mu.Unlock()

	m.persist(gen, sess)

	log.Info().Str("user_id", sess.profile.ID).Bool("new_user", pending.newUser).Msg("Session started")
	return view, nil
}

func failureReason(err error) string {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	if errors.Is(err, upstream.ErrUnavailable) {
		return "service unavailable, please try again"
	}
	return "could not send the one-time password"
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
