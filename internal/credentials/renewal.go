package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewards/gateway/internal/infrastructure/upstream"
	"github.com/rs/zerolog/log"
)

// renew runs at most one renewal per kind. Callers arriving while one is in
// flight wait for its result. force skips the cache check, which the timers
// use to renew ahead of expiry.
func (m *Manager) renew(ctx context.Context, kind Kind, force bool) (Credential, error) {
	ch := m.group.DoChan(string(kind), func() (interface{}, error) {
		renewCtx, cancel := context.WithTimeout(context.Background(), m.renewTimeout)
		defer cancel()

		if kind == KindGuest {
			return m.renewGuest(renewCtx, force)
		}
		return m.renewUser(renewCtx, force)
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

func (m *Manager) renewGuest(ctx context.Context, force bool) (Credential, error) {
	if !force {
		m.mu.Lock()
		cached := m.guest
		m.mu.Unlock()
		if cached != nil && cached.usable(m.now(), m.cfg.ExpiryBuffer) {
			return *cached, nil
		}
	}

	grant, err := m.auth.IssueGuestToken(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Guest token issuance failed")
		return Credential{}, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	now := m.now()
	cred := Credential{
		Kind:      KindGuest,
		Token:     grant.AccessToken,
		ExpiresAt: expiryFor(grant.AccessToken, grant.ExpiresIn, now, m.cfg.DefaultLifetime),
	}
	if !cred.usable(now, m.cfg.ExpiryBuffer) {
		log.Warn().Time("expires_at", cred.ExpiresAt).Msg("Issued guest token is already inside the expiry buffer")
		return Credential{}, fmt.Errorf("%w: issued guest token expires at %s", ErrCredentialUnavailable, cred.ExpiresAt.Format(time.RFC3339))
	}

	m.mu.Lock()
	m.guest = &cred
	m.armLocked(KindGuest, m.guestDelay(cred, now))
	m.mu.Unlock()

	log.Debug().Time("expires_at", cred.ExpiresAt).Msg("Guest token renewed")
	return cred, nil
}

func (m *Manager) renewUser(ctx context.Context, force bool) (Credential, error) {
	m.mu.Lock()
	sess := m.sess
	gen := m.generation
	if sess == nil {
		m.mu.Unlock()
		return Credential{}, ErrNotAuthenticated
	}
	if !force && sess.access.usable(m.now(), m.cfg.ExpiryBuffer) {
		m.mu.Unlock()
		return sess.access, nil
	}
	m.publishLocked(StateRefreshing)
	m.mu.Unlock()

	grant, err := m.auth.RefreshToken(ctx, sess.access.RefreshToken)
	if err != nil {
		m.mu.Lock()
		current := gen == m.generation && m.sess != nil
		if current && errors.Is(err, upstream.ErrUnauthorized) {
			m.teardownLocked()
			m.mu.Unlock()
			m.clearStore()
			log.Warn().Err(err).Msg("Refresh token rejected, session ended")
			return Credential{}, ErrSessionExpired
		}
		if current {
			m.publishLocked(StateActive)
		}
		m.mu.Unlock()

		if !current {
			return Credential{}, ErrNotAuthenticated
		}
		log.Error().Err(err).Msg("Session refresh failed")
		return Credential{}, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	now := m.now()
	refreshToken := grant.RefreshToken
	if refreshToken == "" {
		refreshToken = sess.access.RefreshToken
	}
	next := &session{
		access: Credential{
			Kind:         KindUser,
			Token:        grant.AccessToken,
			ExpiresAt:    expiryFor(grant.AccessToken, grant.ExpiresIn, now, m.cfg.DefaultLifetime),
			RefreshToken: refreshToken,
		},
		profile: profileFromUpstream(grant.User, sess.profile),
	}

	m.mu.Lock()
	if gen != m.generation || m.sess == nil {
		m.mu.Unlock()
		log.Info().Msg("Discarding refresh that completed after logout")
		return Credential{}, ErrNotAuthenticated
	}
	m.sess = next
	m.armLocked(KindUser, m.delayUntil(next.access.ExpiresAt))
	m.publishLocked(StateActive)
	m.mu.Unlock()

	m.persist(gen, next)

	// The rotated refresh token is kept either way; the armed timer retries.
	if !next.access.usable(now, m.cfg.ExpiryBuffer) {
		log.Warn().Time("expires_at", next.access.ExpiresAt).Msg("Refreshed access token is already inside the expiry buffer")
		return Credential{}, fmt.Errorf("%w: refreshed access token expires at %s", ErrCredentialUnavailable, next.access.ExpiresAt.Format(time.RFC3339))
	}

	log.Debug().Time("expires_at", next.access.ExpiresAt).Msg("Session refreshed")
	return next.access, nil
}

// guestDelay renews on the fixed interval but never later than the point the
// token enters the expiry buffer.
func (m *Manager) guestDelay(cred Credential, now time.Time) time.Duration {
	d := cred.ExpiresAt.Sub(now) - m.cfg.ExpiryBuffer
	if d > m.cfg.GuestRenewInterval {
		d = m.cfg.GuestRenewInterval
	}
	if d < m.minDelay() {
		d = m.minDelay()
	}
	return d
}

func (m *Manager) delayUntil(expiresAt time.Time) time.Duration {
	d := expiresAt.Sub(m.now()) - m.cfg.ExpiryBuffer
	if d < m.minDelay() {
		d = m.minDelay()
	}
	return d
}

// minDelay keeps a token that arrives already near expiry from spinning the
// timer.
func (m *Manager) minDelay() time.Duration {
	if m.retryDelay > m.cfg.GuestRenewInterval {
		return m.cfg.GuestRenewInterval
	}
	return m.retryDelay
}

func (m *Manager) armLocked(kind Kind, d time.Duration) {
	if m.disposed {
		return
	}
	m.stopLocked(kind)

	gen := m.generation
	m.timers[kind] = m.schedule(d, func() {
		m.onTimer(kind, gen)
	})
}

func (m *Manager) stopLocked(kind Kind) {
	if stop, ok := m.timers[kind]; ok {
		stop()
		delete(m.timers, kind)
	}
}

// onTimer runs the same renewal path as on-demand callers. Failures other
// than an ended session are retried after the retry delay, indefinitely.
func (m *Manager) onTimer(kind Kind, gen uint64) {
	m.mu.Lock()
	if m.disposed || (kind == KindUser && gen != m.generation) {
		m.mu.Unlock()
		return
	}
	delete(m.timers, kind)
	m.mu.Unlock()

	_, err := m.renew(context.Background(), kind, true)
	if err == nil {
		return
	}
	if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrNotAuthenticated) {
		return
	}

	retryIn := m.minDelay()
	log.Warn().Err(err).Str("kind", string(kind)).Dur("retry_in", retryIn).Msg("Background renewal failed")

	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == KindUser && (gen != m.generation || m.sess == nil) {
		return
	}
	if _, armed := m.timers[kind]; !armed {
		m.armLocked(kind, retryIn)
	}
}
