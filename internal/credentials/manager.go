package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewards/gateway/internal/config"
	"github.com/rewards/gateway/internal/credentials/sessionstore"
	"github.com/rewards/gateway/internal/infrastructure/upstream"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRetryDelay   = 30 * time.Second
	defaultRenewTimeout = 30 * time.Second
)

// Authenticator is the upstream token and OTP surface the manager drives.
type Authenticator interface {
	IssueGuestToken(ctx context.Context) (upstream.TokenGrant, error)
	RequestLoginOTP(ctx context.Context, guestToken, phone string) (upstream.OTPTicket, error)
	RequestSignupOTP(ctx context.Context, guestToken, phone string) (upstream.OTPTicket, error)
	VerifyLogin(ctx context.Context, guestToken, phone, otpGuid, otp string) (upstream.TokenGrant, error)
	VerifySignup(ctx context.Context, guestToken string, v upstream.SignupVerification) (upstream.TokenGrant, error)
	RefreshToken(ctx context.Context, refreshToken string) (upstream.TokenGrant, error)
	Logout(ctx context.Context, accessToken string) error
}

// Scheduler runs f once after d and returns a function that cancels it.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

func timerScheduler(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Option func(*Manager)

func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.schedule = s
	}
}

func WithConfig(cfg config.CredentialsConfig) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithRetryDelay sets how long a failed background renewal waits before
// trying again.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		m.retryDelay = d
	}
}

// WithRenewTimeout bounds each upstream renewal. Renewals run detached from
// the caller's context so an abandoned caller cannot cancel a shared renewal.
func WithRenewTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.renewTimeout = d
	}
}

// Manager owns the guest credential and the optional user session. All
// methods are safe for concurrent use.
type Manager struct {
	auth  Authenticator
	store sessionstore.Store

	cfg          config.CredentialsConfig
	now          func() time.Time
	schedule     Scheduler
	retryDelay   time.Duration
	renewTimeout time.Duration

	group singleflight.Group

	mu         sync.Mutex
	guest      *Credential
	sess       *session
	pending    *pendingOTP
	generation uint64
	timers     map[Kind]func() bool
	disposed   bool

	// persistMu orders slot writes against logout's clear.
	persistMu sync.Mutex

	view atomic.Pointer[SessionView]

	subMu   sync.Mutex
	subs    map[int]chan SessionView
	nextSub int
}

func New(auth Authenticator, store sessionstore.Store, options ...Option) *Manager {
	m := &Manager{
		auth:         auth,
		store:        store,
		cfg:          config.GetCredentialsConfig(),
		now:          time.Now,
		schedule:     timerScheduler,
		retryDelay:   defaultRetryDelay,
		renewTimeout: defaultRenewTimeout,
		timers:       make(map[Kind]func() bool),
		subs:         make(map[int]chan SessionView),
	}
	for _, option := range options {
		option(m)
	}
	m.view.Store(newView(StateAnonymous, nil, nil))
	return m
}

// Init restores a persisted session. A session that expires within the
// restore window is refreshed once before it is reported active.
func (m *Manager) Init(ctx context.Context) error {
	rec, err := m.store.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load persisted session")
		return err
	}
	if rec == nil {
		log.Info().Msg("No persisted session, starting anonymous")
		return nil
	}

	sess := sessionFromRecord(rec)
	remaining := sess.access.ExpiresAt.Sub(m.now())

	m.mu.Lock()
	m.sess = sess
	if remaining > m.cfg.RestoreRefreshWindow {
		m.armLocked(KindUser, m.delayUntil(sess.access.ExpiresAt))
		m.publishLocked(StateActive)
		m.mu.Unlock()
		log.Info().Str("user_id", sess.profile.ID).Time("expires_at", sess.access.ExpiresAt).Msg("Restored session")
		return nil
	}
	m.publishLocked(StateRefreshing)
	m.mu.Unlock()

	log.Info().Str("user_id", sess.profile.ID).Dur("remaining", remaining).Msg("Restored session is close to expiry, refreshing")

	if _, err := m.renew(ctx, KindUser, true); err != nil {
		if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrNotAuthenticated) {
			return nil
		}
		// Keep the session; the background timer retries the refresh.
		log.Warn().Err(err).Msg("Refresh of restored session failed")
		m.mu.Lock()
		if m.sess == sess {
			m.armLocked(KindUser, m.retryDelay)
			m.publishLocked(StateActive)
		}
		m.mu.Unlock()
	}
	return nil
}

// Dispose cancels all renewal timers and closes subscriber channels.
func (m *Manager) Dispose() {
	m.mu.Lock()
	m.disposed = true
	for kind, stop := range m.timers {
		stop()
		delete(m.timers, kind)
	}
	m.mu.Unlock()

	m.subMu.Lock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.subMu.Unlock()
}

// AcquireGuest returns a guest credential with more than the expiry buffer
// left, re-authenticating when the cached one is too close to expiry.
func (m *Manager) AcquireGuest(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	cached := m.guest
	m.mu.Unlock()

	if cached != nil && cached.usable(m.now(), m.cfg.ExpiryBuffer) {
		return *cached, nil
	}
	return m.renew(ctx, KindGuest, false)
}

// AcquireUser returns the session's access credential, refreshing it when it
// is within the expiry buffer.
func (m *Manager) AcquireUser(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()

	if sess == nil {
		return Credential{}, ErrNotAuthenticated
	}
	if sess.access.usable(m.now(), m.cfg.ExpiryBuffer) {
		return sess.access, nil
	}
	return m.renew(ctx, KindUser, false)
}

// Session returns the current read-only snapshot.
func (m *Manager) Session() SessionView {
	return *m.view.Load()
}

// Subscribe delivers the current snapshot and every later change. Slow
// readers only see the latest snapshot. The channel closes on cancel or
// Dispose.
func (m *Manager) Subscribe() (<-chan SessionView, func()) {
	ch := make(chan SessionView, 1)

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- *m.view.Load()
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if sub, ok := m.subs[id]; ok {
			close(sub)
			delete(m.subs, id)
		}
	}
	return ch, cancel
}

// Logout notifies the upstream on a best-effort basis and then always tears
// down local state.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()

	if sess != nil {
		notifyCtx, cancel := context.WithTimeout(ctx, m.renewTimeout)
		if err := m.auth.Logout(notifyCtx, sess.access.Token); err != nil {
			log.Warn().Err(err).Msg("Upstream logout failed, clearing local session anyway")
		}
		cancel()
	}

	m.mu.Lock()
	m.teardownLocked()
	m.mu.Unlock()
	m.clearStore()

	log.Info().Msg("Logged out")
}

// teardownLocked drops the session. Bumping the generation invalidates any
// renewal still in flight.
func (m *Manager) teardownLocked() {
	m.generation++
	m.sess = nil
	m.pending = nil
	m.stopLocked(KindUser)
	m.group.Forget(string(KindUser))
	m.publishLocked(StateAnonymous)
}

func (m *Manager) clearStore() {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := m.store.Clear(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to clear persisted session")
	}
}

// persist writes the session unless a logout happened since gen was taken.
func (m *Manager) persist(gen uint64, sess *session) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	stale := gen != m.generation
	m.mu.Unlock()
	if stale {
		return
	}

	if err := m.store.Save(context.Background(), sess.record()); err != nil {
		log.Error().Err(err).Msg("Failed to persist session")
	}
}

func (m *Manager) publishLocked(state State) {
	v := newView(state, m.sess, m.pending)
	m.view.Store(v)

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- *v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- *v:
			default:
			}
		}
	}
}
