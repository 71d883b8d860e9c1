package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/models"
)

type fakeProfiles struct {
	mu        sync.Mutex
	profiles  map[string]models.Profile
	creates   int
	getErr    error
	dropWrite bool // accept creates without storing them
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: map[string]models.Profile{}}
}

func (f *fakeProfiles) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, apperrors.NotFound("PROFILE_NOT_FOUND", "Profile not found")
	}
	return &p, nil
}

func (f *fakeProfiles) CreateProfile(_ context.Context, p models.Profile) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if !f.dropWrite {
		f.profiles[p.ID] = p
	}
	return &p, nil
}

func (f *fakeProfiles) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func waitState(t *testing.T, o *Observer) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := o.Wait(ctx)
	require.NoError(t, err)
	return st
}

func TestObserverIdleWithoutUser(t *testing.T) {
	o := NewObserver(NewSession(), newFakeProfiles(), 0, nil)
	defer o.Close()
	st := o.State()
	assert.False(t, st.Loading)
	assert.Nil(t, st.User)
	assert.Equal(t, PhaseIdle, st.Phase)
}

func TestObserverResolvesExistingProfile(t *testing.T) {
	src := newFakeProfiles()
	src.profiles["u1"] = models.Profile{ID: "u1", Role: models.RoleRider, FullName: "Rita"}
	s := NewSession()
	o := NewObserver(s, src, 0, nil)
	defer o.Close()

	s.SignIn(Tokens{AccessToken: "a"}, User{ID: "u1"})
	st := waitState(t, o)
	assert.Equal(t, PhaseFound, st.Phase)
	assert.True(t, st.IsRider)
	assert.Equal(t, "Rita", st.Profile.FullName)
	assert.Zero(t, src.createCount())
}

func TestObserverCreatesDefaultProfileOnce(t *testing.T) {
	src := newFakeProfiles()
	s := NewSession()
	o := NewObserver(s, src, 0, nil)
	defer o.Close()

	s.SignIn(Tokens{AccessToken: "a"}, User{ID: "u1", Email: "a@b.co"})
	st := waitState(t, o)
	require.Equal(t, PhaseFound, st.Phase)
	assert.Equal(t, 1, src.createCount())
	assert.Equal(t, "User", st.Profile.FullName)
	assert.Equal(t, models.RoleRider, st.Profile.Role)
	assert.Equal(t, "a@b.co", st.Profile.Email)
	assert.True(t, st.IsRider)
}

func TestObserverNeverCreatesTwicePerSignIn(t *testing.T) {
	src := newFakeProfiles()
	src.dropWrite = true
	s := NewSession()
	o := NewObserver(s, src, 0, nil)
	defer o.Close()

	s.SignIn(Tokens{AccessToken: "a"}, User{ID: "u1", Metadata: map[string]any{"full_name": "Nia"}})
	st := waitState(t, o)
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Nil(t, st.Profile)
	assert.False(t, st.IsRider)
	assert.Equal(t, 1, src.createCount())
}

func TestObserverNonRiderIsNotRider(t *testing.T) {
	src := newFakeProfiles()
	src.profiles["d1"] = models.Profile{ID: "d1", Role: models.RoleDriver}
	s := NewSession()
	o := NewObserver(s, src, 0, nil)
	defer o.Close()

	s.SignIn(Tokens{AccessToken: "a"}, User{ID: "d1"})
	st := waitState(t, o)
	assert.Equal(t, PhaseFound, st.Phase)
	assert.False(t, st.IsRider)
}

func TestObserverBackendFailure(t *testing.T) {
	src := newFakeProfiles()
	src.getErr = apperrors.Network("", apperrors.MsgNetwork, errors.New("down"))
	s := NewSession()
	o := NewObserver(s, src, 0, nil)
	defer o.Close()

	s.SignIn(Tokens{AccessToken: "a"}, User{ID: "u1"})
	st := waitState(t, o)
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Zero(t, src.createCount())
}

func TestObserverSignOutClearsProfile(t *testing.T) {
	src := newFakeProfiles()
	src.profiles["u1"] = models.Profile{ID: "u1", Role: models.RoleRider}
	s := NewSession()
	o := NewObserver(s, src, 0, nil)
	defer o.Close()

	s.SignIn(Tokens{AccessToken: "a"}, User{ID: "u1"})
	waitState(t, o)
	s.SignOut()
	st := o.State()
	assert.Nil(t, st.User)
	assert.Nil(t, st.Profile)
	assert.False(t, st.Loading)
}

func TestObserverWaitHonoursContext(t *testing.T) {
	s := NewSession()
	o := NewObserver(s, newFakeProfiles(), time.Hour, nil)
	defer o.Close()

	s.SignIn(Tokens{AccessToken: "a"}, User{ID: "u1"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := o.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, st.Loading)
}

func TestSessionOnChangeUnsubscribe(t *testing.T) {
	s := NewSession()
	var events []Event
	unsub := s.OnChange(func(ev Event, _ *User) { events = append(events, ev) })
	s.SignIn(Tokens{}, User{ID: "u1"})
	s.Refresh(Tokens{}, User{ID: "u1"})
	unsub()
	s.SignOut()
	assert.Equal(t, []Event{SignedIn, TokenRefreshed}, events)
}
