package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/auth"
	"github.com/example/ride-passenger/internal/backend"
	"github.com/example/ride-passenger/internal/diagnostics"
	"github.com/example/ride-passenger/internal/eta"
	"github.com/example/ride-passenger/internal/fare"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/realtime"
	"github.com/example/ride-passenger/internal/storage"
	"github.com/example/ride-passenger/internal/tracking"
)

const testPassword = "secret123"

type fakeAuth struct {
	users map[string]auth.User
}

func (f *fakeAuth) SignInWithPassword(_ context.Context, email, password string) (auth.Tokens, auth.User, error) {
	u, ok := f.users[email]
	if !ok || password != testPassword {
		return auth.Tokens{}, auth.User{}, apperrors.Auth("INVALID_CREDENTIALS", apperrors.MsgInvalidCredentials)
	}
	return auth.Tokens{AccessToken: "at-" + u.ID, RefreshToken: "rt-" + u.ID, ExpiresAt: time.Now().Add(time.Hour)}, u, nil
}

func (f *fakeAuth) Refresh(_ context.Context, _ string) (auth.Tokens, auth.User, error) {
	return auth.Tokens{}, auth.User{}, apperrors.Auth("SESSION_EXPIRED", apperrors.MsgSessionExpired)
}

func (f *fakeAuth) SignOut(context.Context, string) error { return nil }

// brokenProfiles fails every profile read so the observer ends without one.
type brokenProfiles struct{}

func (brokenProfiles) GetProfile(context.Context, string) (*models.Profile, error) {
	return nil, apperrors.Network("", apperrors.MsgNetwork)
}

func (brokenProfiles) CreateProfile(context.Context, models.Profile) (*models.Profile, error) {
	return nil, apperrors.Network("", apperrors.MsgNetwork)
}

type fixture struct {
	hub   *realtime.Hub
	store *storage.MemoryStore
	srv   *Server
}

type fixtureOpt func(*Deps)

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	store := storage.NewMemoryStore(hub)
	ctx := context.Background()
	for _, p := range []models.Profile{
		{ID: "driver-user", Role: models.RoleDriver, FullName: "Dee", Email: "dee@example.com"},
		{ID: "d1", Role: models.RoleDriver, FullName: "Dewi"},
	} {
		_, err := store.CreateProfile(ctx, p)
		require.NoError(t, err)
	}
	be := backend.New(store, backend.Options{Attempts: 1}, nil)
	fa := &fakeAuth{users: map[string]auth.User{
		"rae@example.com":   {ID: "rider-1", Email: "rae@example.com", Metadata: map[string]any{"full_name": "Rae Rider"}},
		"other@example.com": {ID: "rider-2", Email: "other@example.com"},
		"dee@example.com":   {ID: "driver-user", Email: "dee@example.com"},
	}}

	deps := Deps{
		Sessions: auth.NewManager(fa, nil, be, 0, nil),
		Backend:  be,
		Feed:     hub,
		ETA:      &eta.Estimator{SpeedMps: 8},
		Fare:     fare.Default(),
	}
	for _, o := range opts {
		o(&deps)
	}
	srv := NewServer(deps, Options{LoadingTimeout: time.Second, Tracking: tracking.Config{RatingPromptDelay: 20 * time.Millisecond}})
	t.Cleanup(srv.Close)
	t.Cleanup(deps.Sessions.Close)
	return &fixture{hub: hub, store: store, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any, c *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:4321"
	if c != nil {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/login", loginRequest{Email: email, Password: testPassword}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func (f *fixture) requestRide(t *testing.T, c *http.Cookie) models.Ride {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/request", rideRequest{
		Pickup:  endpoint{Address: "Monas", Coord: &models.Coord{Lat: -6.1754, Lng: 106.8272}},
		Dropoff: endpoint{Address: "Kota Tua", Coord: &models.Coord{Lat: -6.1352, Lng: 106.8133}},
	}, c)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		Ride models.Ride `json:"ride"`
		Next string      `json:"next"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "/ride/"+out.Ride.ID, out.Next)
	return out.Ride
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func TestGuardRedirectsAnonymousToLogin(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/request", "/history", "/profile", "/ride/abc"} {
		rec := f.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code, path)
		assert.Equal(t, "/login", rec.Header().Get("Location"), path)
	}

	rec := f.do(t, http.MethodGet, "/request", nil, &http.Cookie{Name: sessionCookie, Value: "stale"})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestLoginCreatesRiderProfile(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "rae@example.com")

	rec := f.do(t, http.MethodGet, "/request", nil, c)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Map struct {
			Zoom int `json:"zoom"`
		} `json:"map"`
		Currency string `json:"currency"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 13, page.Map.Zoom)
	assert.Equal(t, "ZAR", page.Currency)

	rec = f.do(t, http.MethodGet, "/profile", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	var prof profileView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prof))
	assert.Equal(t, "Rae Rider", prof.FullName)
	assert.Equal(t, models.RoleRider, prof.Role)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/login", loginRequest{Email: "rae@example.com", Password: "wrong-one"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeError(t, rec).Code)

	rec = f.do(t, http.MethodPost, "/login", loginRequest{Email: "not-an-email", Password: testPassword}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_EMAIL", decodeError(t, rec).Code)
}

func TestNonRiderIsSentToWrongApp(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/login", loginRequest{Email: "dee@example.com", Password: testPassword}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Next string `json:"next"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "/wrong-app", out.Next)

	c := rec.Result().Cookies()[0]
	rec = f.do(t, http.MethodGet, "/request", nil, c)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/wrong-app", rec.Header().Get("Location"))
}

func TestMissingProfileIsForbidden(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Sessions = auth.NewManager(&fakeAuth{users: map[string]auth.User{
			"rae@example.com": {ID: "rider-1", Email: "rae@example.com"},
		}}, nil, brokenProfiles{}, 0, nil)
	})
	c := f.login(t, "rae@example.com")
	rec := f.do(t, http.MethodGet, "/request", nil, c)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "PROFILE_NOT_FOUND", decodeError(t, rec).Code)
}

func TestLogoutClearsSession(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "rae@example.com")
	rec := f.do(t, http.MethodPost, "/logout", nil, c)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = f.do(t, http.MethodGet, "/request", nil, c)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestEstimate(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "rae@example.com")

	rec := f.do(t, http.MethodPost, "/request/estimate", estimateRequest{
		Pickup:  &models.Coord{Lat: -6.1754, Lng: 106.8272},
		Dropoff: &models.Coord{Lat: -6.1352, Lng: 106.8133},
	}, c)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out estimateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.InDelta(t, 2.50+1.25*out.DistanceKm, out.Fare, 1e-9)
	assert.Greater(t, out.DurationMinutes, 0)

	rec = f.do(t, http.MethodPost, "/request/estimate", estimateRequest{Pickup: &models.Coord{Lat: 1, Lng: 1}}, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "LOCATION_REQUIRED", decodeError(t, rec).Code)
}

func TestRequestRideRequiresLocations(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "rae@example.com")
	rec := f.do(t, http.MethodPost, "/request", rideRequest{Pickup: endpoint{Address: "Monas"}}, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "GEOCODING_FAILED", decodeError(t, rec).Code)

	rec = f.do(t, http.MethodPost, "/request", rideRequest{}, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "LOCATION_REQUIRED", decodeError(t, rec).Code)
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "rae@example.com")
	ride := f.requestRide(t, c)
	assert.Equal(t, models.StatusRequested, ride.Status)
	assert.InDelta(t, 2.50+1.25*4.7, ride.EstimatedFare, 0.5)

	rec := f.do(t, http.MethodGet, "/ride/"+ride.ID, nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Snapshot tracking.Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Snapshot.CanCancel)
	assert.Len(t, got.Snapshot.Map.Markers, 2)

	rec = f.do(t, http.MethodPost, "/ride/"+ride.ID+"/cancel", nil, c)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.StatusCancelled, got.Snapshot.Ride.Status)
	assert.False(t, got.Snapshot.CanCancel)

	rec = f.do(t, http.MethodPost, "/ride/"+ride.ID+"/cancel", nil, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ACTION_NOT_ALLOWED", decodeError(t, rec).Code)

	assert.Zero(t, f.srv.views.len())
}

func TestRideOfAnotherRiderIsNotFound(t *testing.T) {
	f := newFixture(t)
	ride := f.requestRide(t, f.login(t, "rae@example.com"))

	other := f.login(t, "other@example.com")
	for _, path := range []string{"/ride/" + ride.ID, "/ride/does-not-exist", "/ride/" + ride.ID + "/ws"} {
		rec := f.do(t, http.MethodGet, path, nil, other)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
		assert.Equal(t, "RIDE_NOT_FOUND", body.Error.Code, path)
		assert.Equal(t, apperrors.MsgRideNotFound, body.Error.Message, path)
		assert.Equal(t, "/request", body.Next, path)
	}

	rec := f.do(t, http.MethodPost, "/ride/"+ride.ID+"/cancel", nil, other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, f.srv.views.len())
}

func TestPayWithoutProvider(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "rae@example.com")
	ride := f.requestRide(t, c)

	rec := f.do(t, http.MethodPost, "/ride/"+ride.ID+"/pay", nil, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "pay is hidden while REQUESTED")

	driver := "d1"
	ride.Status = models.StatusAssigned
	ride.DriverID = &driver
	f.store.PutRide(ride)

	rec = f.do(t, http.MethodPost, "/ride/"+ride.ID+"/pay", nil, c)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "PAYMENT_UNAVAILABLE", decodeError(t, rec).Code)
}

func TestRateCompletedRide(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "rae@example.com")
	ride := f.requestRide(t, c)

	rec := f.do(t, http.MethodPost, "/ride/"+ride.ID+"/rating", ratingRequest{Score: 5}, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	driver := "d1"
	ride.Status = models.StatusCompleted
	ride.DriverID = &driver
	f.store.PutRide(ride)

	rec = f.do(t, http.MethodPost, "/ride/"+ride.ID+"/rating", ratingRequest{Score: 6}, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/ride/"+ride.ID+"/rating", ratingRequest{Score: 4, Note: "smooth"}, c)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/history", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Rides []historyItem `json:"rides"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Rides, 1)
	require.NotNil(t, hist.Rides[0].Rating)
	assert.Equal(t, 4, hist.Rides[0].Rating.Score)
	assert.False(t, hist.Rides[0].CanRate)
	assert.Equal(t, "Dewi", hist.Rides[0].DriverName)
}

func TestReceiptNeedsSucceededPayment(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "rae@example.com")
	ride := f.requestRide(t, c)
	driver := "d1"
	ride.Status = models.StatusCompleted
	ride.DriverID = &driver
	f.store.PutRide(ride)

	rec := f.do(t, http.MethodGet, "/ride/"+ride.ID+"/receipt", nil, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := f.store.InsertPayment(context.Background(), models.Payment{
		RideID: ride.ID, RiderID: ride.RiderID, Amount: ride.EstimatedFare, Currency: "ZAR",
		Status: models.PaymentSucceeded, ExternalSessionID: "cs_test_1",
	})
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/ride/"+ride.ID+"/receipt", nil, c)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt struct {
		FareText string            `json:"fare_text"`
		Payment  *models.Payment   `json:"payment"`
		Driver   map[string]string `json:"driver"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.NotEmpty(t, receipt.FareText)
	require.NotNil(t, receipt.Payment)
	assert.Equal(t, models.PaymentSucceeded, receipt.Payment.Status)
	assert.Equal(t, "Dewi", receipt.Driver["full_name"])
}

func TestHistoryRating(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "rae@example.com")
	ride := f.requestRide(t, c)

	rec := f.do(t, http.MethodPost, "/history/"+ride.ID+"/rating", ratingRequest{Score: 5}, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "RATING_UNAVAILABLE", decodeError(t, rec).Code)

	driver := "d1"
	ride.Status = models.StatusCompleted
	ride.DriverID = &driver
	f.store.PutRide(ride)

	rec = f.do(t, http.MethodPost, "/history/"+ride.ID+"/rating", ratingRequest{Score: 5}, c)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/history/"+ride.ID+"/rating", ratingRequest{Score: 3}, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ALREADY_RATED", decodeError(t, rec).Code)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "rae@example.com")

	rec := f.do(t, http.MethodPut, "/profile", profileRequest{FullName: "Rae R.", Email: "rae@example.com", Phone: "+62 812 3456 789"}, c)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/profile", profileRequest{FullName: "Rae", Email: "nope"}, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/profile", profileRequest{Email: "rae@example.com"}, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NAME_REQUIRED", decodeError(t, rec).Code)
}

func TestPublicPages(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "https://js.stripe.com")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/nowhere/at/all", nil, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	rec = f.do(t, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"next":"/login"`)

	rec = f.do(t, http.MethodGet, "/wrong-app", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/webhooks/stripe", map[string]string{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadinessReportsDependencyChecks(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	mem := storage.NewMemoryStore(nil)
	healthy := newFixture(t, func(d *Deps) {
		d.Diagnostics = diagnostics.NewRunner(time.Second, diagnostics.Database(mem), diagnostics.Schema(mem, storage.Tables))
	})
	rec = healthy.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rep diagnostics.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.True(t, rep.Healthy)
	assert.Len(t, rep.Checks, 2)

	failing := newFixture(t, func(d *Deps) {
		d.Diagnostics = diagnostics.NewRunner(time.Second,
			diagnostics.Database(mem),
			diagnostics.Func{Label: "redis", Fn: func(context.Context) error { return errors.New("connection refused") }},
		)
	})
	rec = failing.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rep = diagnostics.Report{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.False(t, rep.Healthy)
	assert.Equal(t, []string{"redis: connection refused"}, rep.Errors)
}

func TestLoginIsRateLimited(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Limiter = NewMemoryLimiter(2, time.Minute) })
	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/login", loginRequest{Email: "rae@example.com", Password: "wrong-one"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/login", loginRequest{Email: "rae@example.com", Password: testPassword}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeError(t, rec).Code)
}

func TestRecoverReturnsRetryActions(t *testing.T) {
	f := newFixture(t)
	h := f.srv.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/request", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body struct {
		Error   string   `json:"error"`
		Actions []string `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"retry", "reload"}, body.Actions)
}

func TestTrackingWebsocketPushesUpdates(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv)
	t.Cleanup(ts.Close)

	c := f.login(t, "rae@example.com")
	ride := f.requestRide(t, c)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ride/" + ride.ID + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Cookie": {c.String()}})
	require.NoError(t, err)
	defer resp.Body.Close()
	t.Cleanup(func() { ws.Close() })

	var first message
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&first))
	require.Equal(t, "snapshot", first.Type)
	assert.Equal(t, models.StatusRequested, first.Snapshot.Ride.Status)

	driver := "d1"
	ride.Status = models.StatusAssigned
	ride.DriverID = &driver
	f.store.PutRide(ride)

	var sawNotice, sawAssigned bool
	for !(sawNotice && sawAssigned) {
		var m message
		require.NoError(t, ws.ReadJSON(&m))
		switch m.Type {
		case "notice":
			assert.Equal(t, "A driver is on the way", m.Notice.Message)
			sawNotice = true
		case "snapshot":
			if m.Snapshot.Ride.Status == models.StatusAssigned {
				sawAssigned = true
			}
		}
	}

	ws.Close()
	require.Eventually(t, func() bool { return f.srv.views.len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter(1, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.False(t, ok)
	ok, _ = l.Allow(ctx, "other")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)

	l.Reset("k")
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
}
