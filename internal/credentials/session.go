package credentials

import (
	"time"

	"github.com/rewards/gateway/internal/credentials/sessionstore"
	"github.com/rewards/gateway/internal/infrastructure/upstream"
)

type State string

const (
	StateAnonymous            State = "anonymous"
	StateOTPRequestedExisting State = "otp_requested_existing"
	StateOTPRequestedNew      State = "otp_requested_new"
	StateActive               State = "active"
	StateRefreshing           State = "refreshing"
)

type Profile struct {
	ID        string `json:"id"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
}

// SessionView is an immutable snapshot handed to readers. It never carries
// tokens.
type SessionView struct {
	State         State      `json:"state"`
	Authenticated bool       `json:"authenticated"`
	Profile       *Profile   `json:"profile,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	PendingPhone  string     `json:"pendingPhone,omitempty"`
}

type session struct {
	access  Credential
	profile Profile
}

type pendingOTP struct {
	phone   string
	guid    string
	newUser bool
}

func newView(state State, s *session, pending *pendingOTP) *SessionView {
	v := &SessionView{State: state}
	if s != nil {
		p := s.profile
		exp := s.access.ExpiresAt
		v.Authenticated = true
		v.Profile = &p
		v.ExpiresAt = &exp
	}
	if pending != nil {
		v.PendingPhone = pending.phone
	}
	return v
}

func (s *session) record() *sessionstore.Record {
	return &sessionstore.Record{
		AccessToken:  s.access.Token,
		RefreshToken: s.access.RefreshToken,
		User: sessionstore.User{
			ID:        s.profile.ID,
			Phone:     s.profile.Phone,
			Email:     s.profile.Email,
			FirstName: s.profile.FirstName,
		},
		ExpiresAt: s.access.ExpiresAt.UnixMilli(),
	}
}

func sessionFromRecord(rec *sessionstore.Record) *session {
	return &session{
		access: Credential{
			Kind:         KindUser,
			Token:        rec.AccessToken,
			ExpiresAt:    rec.Expiry(),
			RefreshToken: rec.RefreshToken,
		},
		profile: Profile{
			ID:        rec.User.ID,
			Phone:     rec.User.Phone,
			Email:     rec.User.Email,
			FirstName: rec.User.FirstName,
		},
	}
}

func profileFromUpstream(u *upstream.UserProfile, fallback Profile) Profile {
	if u == nil {
		return fallback
	}
	p := Profile{ID: u.ID, Phone: u.Phone, Email: u.Email, FirstName: u.FirstName}
	if p.Phone == "" {
		p.Phone = fallback.Phone
	}
	if p.Email == "" {
		p.Email = fallback.Email
	}
	if p.FirstName == "" {
		p.FirstName = fallback.FirstName
	}
	if p.ID == "" {
		p.ID = fallback.ID
	}
	return p
}
