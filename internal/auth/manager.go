package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/observability"
	"github.com/example/ride-passenger/internal/validation"
)

// Authenticator is the subset of the auth API the manager needs.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (Tokens, User, error)
	Refresh(ctx context.Context, refreshToken string) (Tokens, User, error)
	SignOut(ctx context.Context, accessToken string) error
}

type entry struct {
	session  *Session
	observer *Observer
}

// Manager keeps the signed-in browser sessions keyed by cookie value.
type Manager struct {
	auth     Authenticator
	verifier *Verifier
	profiles ProfileSource
	delay    time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]entry
}

// NewManager builds a Manager. verifier may be nil, in which case access
// tokens are trusted until their recorded expiry.
func NewManager(a Authenticator, v *Verifier, profiles ProfileSource, profileDelay time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		auth:     a,
		verifier: v,
		profiles: profiles,
		delay:    profileDelay,
		logger:   logger,
		sessions: map[string]entry{},
	}
}

// SignIn authenticates with email and password and returns the new session.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*Session, *Observer, error) {
	if err := validation.Email(email); err != nil {
		return nil, nil, err
	}
	if err := validation.Password(password); err != nil {
		return nil, nil, err
	}
	tokens, user, err := m.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, nil, apperrors.From(err)
	}

	s := NewSession()
	obs := NewObserver(s, m.profiles, m.delay, m.logger)
	s.SignIn(tokens, user)

	m.mu.Lock()
	m.sessions[s.ID] = entry{session: s, observer: obs}
	m.mu.Unlock()
	observability.ActiveSessions.Inc()
	m.logger.Info("signed_in", "session_id", s.ID, "user_id", user.ID)
	return s, obs, nil
}

// Lookup returns the session for id, refreshing its tokens when they have
// expired. A session whose refresh fails is signed out.
func (m *Manager) Lookup(ctx context.Context, id string) (*Session, *Observer, bool) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	if m.valid(e.session) {
		return e.session, e.observer, true
	}

	tokens, user, err := m.auth.Refresh(ctx, e.session.Tokens().RefreshToken)
	if err != nil {
		m.logger.Warn("session_refresh_failed", "session_id", id, "error", err.Error())
		m.drop(id)
		return nil, nil, false
	}
	e.session.Refresh(tokens, user)
	return e.session, e.observer, true
}

func (m *Manager) valid(s *Session) bool {
	t := s.Tokens()
	if t.AccessToken == "" {
		return false
	}
	if m.verifier != nil {
		_, err := m.verifier.Verify(t.AccessToken)
		return err == nil
	}
	return t.ExpiresAt.IsZero() || time.Now().Before(t.ExpiresAt)
}

// SignOut ends the session. The backend call is best effort; the local
// session is always dropped.
func (m *Manager) SignOut(ctx context.Context, id string) error {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	var err error
	if tok := e.session.Tokens().AccessToken; tok != "" {
		err = m.auth.SignOut(ctx, tok)
	}
	m.drop(id)
	var ae *apperrors.Error
	if err != nil && errors.As(err, &ae) && ae.Kind == apperrors.KindAuth {
		// token was already invalid; the user is signed out either way
		return nil
	}
	return err
}

func (m *Manager) drop(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	e.session.SignOut()
	e.observer.Close()
	observability.ActiveSessions.Dec()
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close signs out every local session without calling the backend.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.drop(id)
	}
}
