package auth

import (
	"sync"

	"github.com/google/uuid"
)

type Event string

const (
	SignedIn       Event = "SIGNED_IN"
	SignedOut      Event = "SIGNED_OUT"
	TokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener receives auth events. user is nil after sign-out.
type Listener func(ev Event, user *User)

// Session is one browser's authentication state.
type Session struct {
	ID string

	mu        sync.RWMutex
	tokens    Tokens
	user      *User
	listeners map[int]Listener
	nextID    int
}

func NewSession() *Session {
	return &Session{ID: uuid.NewString(), listeners: map[int]Listener{}}
}

func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Session) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// OnChange registers l and returns a func that removes it.
func (s *Session) OnChange(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) SignIn(t Tokens, u User) { s.set(SignedIn, t, &u) }

func (s *Session) Refresh(t Tokens, u User) { s.set(TokenRefreshed, t, &u) }

func (s *Session) SignOut() { s.set(SignedOut, Tokens{}, nil) }

func (s *Session) set(ev Event, t Tokens, u *User) {
	s.mu.Lock()
	s.tokens = t
	s.user = u
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()

	for _, l := range ls {
		var cp *User
		if u != nil {
			c := *u
			cp = &c
		}
		l(ev, cp)
	}
}
