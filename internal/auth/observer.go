package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/observability"
)

// DefaultProfileDelay gives the backend's sign-up trigger time to insert
// the profile row before it is read.
const DefaultProfileDelay = time.Second

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseResolving
	PhaseCreating
	PhaseFound
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseResolving:
		return "resolving"
	case PhaseCreating:
		return "creating"
	case PhaseFound:
		return "found"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// State is the identity snapshot consumed by the route guard.
type State struct {
	User    *User
	Profile *models.Profile
	Loading bool
	IsRider bool
	Phase   Phase
}

// ProfileSource reads and creates profile rows.
type ProfileSource interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	CreateProfile(ctx context.Context, p models.Profile) (*models.Profile, error)
}

// Observer follows a Session and resolves the profile of whoever is signed
// in. When no profile exists it creates a default rider profile, at most
// once per sign-in.
type Observer struct {
	src    ProfileSource
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	gen     uint64
	changed chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
}

func NewObserver(s *Session, src ProfileSource, delay time.Duration, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Observer{
		src:     src,
		delay:   delay,
		logger:  logger,
		changed: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	o.unsub = s.OnChange(o.onAuthEvent)
	if u := s.User(); u != nil {
		o.onAuthEvent(SignedIn, u)
	}
	return o
}

func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Wait blocks until the observer is no longer loading or ctx is done. The
// latest state is returned either way.
func (o *Observer) Wait(ctx context.Context) (State, error) {
	for {
		o.mu.Lock()
		st, ch := o.state, o.changed
		o.mu.Unlock()
		if !st.Loading {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return o.State(), ctx.Err()
		}
	}
}

func (o *Observer) Close() {
	o.unsub()
	o.cancel()
}

// update applies fn when gen is still current.
func (o *Observer) update(gen uint64, fn func(*State)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return false
	}
	fn(&o.state)
	o.state.IsRider = o.state.Profile != nil && o.state.Profile.Role == models.RoleRider
	close(o.changed)
	o.changed = make(chan struct{})
	return true
}

func (o *Observer) onAuthEvent(ev Event, u *User) {
	o.mu.Lock()
	o.gen++
	gen := o.gen
	prev := o.state
	o.mu.Unlock()

	if u == nil {
		o.update(gen, func(s *State) { *s = State{Phase: PhaseIdle} })
		return
	}
	// A refreshed token for the same user keeps the resolved profile visible.
	if ev == TokenRefreshed && prev.Phase == PhaseFound && prev.User != nil && prev.User.ID == u.ID {
		o.update(gen, func(s *State) { s.User = u })
		return
	}
	o.update(gen, func(s *State) {
		*s = State{User: u, Loading: true, Phase: PhaseLoading}
	})
	go o.resolve(gen, *u)
}

func (o *Observer) resolve(gen uint64, u User) {
	if !o.update(gen, func(s *State) { s.Phase = PhaseResolving }) {
		return
	}
	if o.delay > 0 {
		t := time.NewTimer(o.delay)
		select {
		case <-o.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	created := false
	for {
		p, err := o.src.GetProfile(o.ctx, u.ID)
		if err == nil {
			o.update(gen, func(s *State) {
				s.Profile, s.Loading, s.Phase = p, false, PhaseFound
			})
			return
		}
		if !isNotFound(err) || created {
			o.fail(gen, u, err)
			return
		}

		if !o.update(gen, func(s *State) { s.Phase = PhaseCreating }) {
			return
		}
		created = true
		_, err = o.src.CreateProfile(o.ctx, defaultProfile(u))
		switch {
		case err == nil:
			observability.ProfilesCreated.Inc()
			o.logger.Info("profile_created", "user_id", u.ID)
		case !isDuplicate(err):
			o.fail(gen, u, err)
			return
		}
		if !o.update(gen, func(s *State) { s.Phase = PhaseResolving }) {
			return
		}
	}
}

func (o *Observer) fail(gen uint64, u User, err error) {
	apperrors.Log(o.logger, err, map[string]any{"user_id": u.ID, "op": "resolve_profile"})
	o.update(gen, func(s *State) {
		s.Profile, s.Loading, s.Phase = nil, false, PhaseFailed
	})
}

func defaultProfile(u User) models.Profile {
	name := u.Meta("full_name")
	if name == "" {
		name = "User"
	}
	p := models.Profile{ID: u.ID, Role: models.RoleRider, FullName: name, Email: u.Email}
	if phone := u.Meta("phone"); phone != "" {
		p.Phone = &phone
	}
	return p
}

func isNotFound(err error) bool {
	var ae *apperrors.Error
	return errors.As(err, &ae) && ae.Kind == apperrors.KindNotFound
}

func isDuplicate(err error) bool {
	var ae *apperrors.Error
	return errors.As(err, &ae) && ae.Code == "PROFILE_EXISTS"
}
