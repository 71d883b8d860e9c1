package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/auth"
	"github.com/example/ride-passenger/internal/backend"
	"github.com/example/ride-passenger/internal/diagnostics"
	"github.com/example/ride-passenger/internal/eta"
	"github.com/example/ride-passenger/internal/fare"
	"github.com/example/ride-passenger/internal/maps"
	"github.com/example/ride-passenger/internal/payments"
	"github.com/example/ride-passenger/internal/push"
	"github.com/example/ride-passenger/internal/realtime"
	"github.com/example/ride-passenger/internal/tracking"
)

const DefaultLoadingTimeout = 10 * time.Second

// Deps are the collaborators behind the routes. Payments, Webhook, Places,
// Diagnostics and Limiter are optional; the features they back answer 503 or are
// skipped when absent.
type Deps struct {
	Sessions *auth.Manager
	Backend  *backend.Client
	Feed     realtime.Feed
	Payments *payments.Service
	Webhook  *payments.Webhook
	Places   *maps.Places
	ETA      *eta.Estimator
	Fare     fare.Calculator
	Push     *push.Registry
	Limiter  Limiter
	Logger   *slog.Logger

	Diagnostics *diagnostics.Runner
}

type Options struct {
	// Origin is the public base URL used for payment return links. When
	// empty the request's own scheme and host are used.
	Origin          string
	LoadingTimeout  time.Duration
	SecureCookies   bool
	StripePublicKey string
	Viewport        maps.Defaults
	Tracking        tracking.Config
}

type Server struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	mux    *mux.Router
	views  *views
}

func NewServer(deps Deps, opts Options) *Server {
	if opts.LoadingTimeout <= 0 {
		opts.LoadingTimeout = DefaultLoadingTimeout
	}
	if opts.Viewport == (maps.Defaults{}) {
		opts.Viewport = maps.DefaultViewport()
	}
	if opts.Tracking.Currency == "" {
		opts.Tracking.Currency = "ZAR"
	}
	if opts.Tracking.Locale == "" {
		opts.Tracking.Locale = "en-ZA"
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Push == nil {
		deps.Push = push.NewRegistry()
	}
	s := &Server{deps: deps, opts: opts, logger: deps.Logger, mux: mux.NewRouter()}
	s.views = newViews(s.newViewModel)
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleLanding).Methods("GET")
	s.mux.HandleFunc("/login", s.handleLoginPage).Methods("GET")
	s.mux.HandleFunc("/login", s.rateLimited(s.handleLogin)).Methods("POST")
	s.mux.HandleFunc("/logout", s.handleLogout).Methods("POST")
	s.mux.HandleFunc("/wrong-app", s.handleWrongApp).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/readyz", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/webhooks/stripe", s.handleStripeWebhook).Methods("POST")

	s.mux.HandleFunc("/request", s.requireRider(s.handleRequestPage)).Methods("GET")
	s.mux.HandleFunc("/request/estimate", s.requireRider(s.handleEstimate)).Methods("POST")
	s.mux.HandleFunc("/request", s.rateLimited(s.requireRider(s.handleRequestRide))).Methods("POST")
	s.mux.HandleFunc("/places", s.requireRider(s.handlePlaces)).Methods("GET")

	s.mux.HandleFunc("/ride/{rideID}", s.requireRider(s.handleRide)).Methods("GET")
	s.mux.HandleFunc("/ride/{rideID}/ws", s.requireRider(s.handleRideWS)).Methods("GET")
	s.mux.HandleFunc("/ride/{rideID}/cancel", s.requireRider(s.handleCancel)).Methods("POST")
	s.mux.HandleFunc("/ride/{rideID}/pay", s.requireRider(s.handlePay)).Methods("POST")
	s.mux.HandleFunc("/ride/{rideID}/rating", s.requireRider(s.handleRate)).Methods("POST")
	s.mux.HandleFunc("/ride/{rideID}/receipt", s.requireRider(s.handleReceipt)).Methods("GET")

	s.mux.HandleFunc("/history", s.requireRider(s.handleHistory)).Methods("GET")
	s.mux.HandleFunc("/history/{rideID}/rating", s.requireRider(s.handleHistoryRating)).Methods("POST")
	s.mux.HandleFunc("/profile", s.requireRider(s.handleProfile)).Methods("GET")
	s.mux.HandleFunc("/profile", s.requireRider(s.handleUpdateProfile)).Methods("PUT")

	// unknown paths go back to the landing page
	s.mux.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusFound)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Close ends every open tracking view.
func (s *Server) Close() { s.views.closeAll() }

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	next := "/login"
	if p, ok := s.currentRider(r); ok && p.rider {
		next = "/request"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"app":     "ride-passenger",
		"tagline": "Request a ride, follow your driver, pay and rate in one place.",
		"next":    next,
	})
}

func (s *Server) handleWrongApp(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"title":   "Wrong app",
		"message": "This app is for riders. Please use the driver or admin app for your account.",
		"actions": []string{"logout"},
	})
}

// handleReady runs the dependency checks and answers 503 when any fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Diagnostics == nil {
		writeJSON(w, http.StatusOK, diagnostics.Report{Healthy: true, Checks: []diagnostics.Result{}, Errors: []string{}, Timestamp: time.Now().UTC()})
		return
	}
	rep := s.deps.Diagnostics.Run(r.Context())
	status := http.StatusOK
	if !rep.Healthy {
		status = http.StatusServiceUnavailable
		s.logger.Warn("readiness_failed", "errors", rep.Errors, "request_id", requestIDFromContext(r.Context()))
	}
	writeJSON(w, status, rep)
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Webhook == nil {
		s.writeError(w, r, apperrors.Network("PAYMENT_UNAVAILABLE", apperrors.MsgPaymentUnavailable))
		return
	}
	payload, err := readBody(w, r, 1<<16)
	if err != nil {
		s.writeError(w, r, apperrors.Validation("INVALID_BODY", "Request body is too large", err))
		return
	}
	if err := s.deps.Webhook.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
	// Next is the page the client moves to after showing the toast.
	Next string `json:"next,omitempty"`
}

// writeError answers with the user-facing toast for err and logs it.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var next string
	switch {
	case errors.Is(err, tracking.ErrNotFound):
		err = apperrors.NotFound("RIDE_NOT_FOUND", apperrors.MsgRideNotFound, err)
		next = "/request"
	case errors.Is(err, tracking.ErrActionNotAllowed):
		err = apperrors.Validation("ACTION_NOT_ALLOWED", "This action is not available for the ride right now", err)
	}
	ae := apperrors.From(err)
	status := ae.Kind.Status()
	if status >= http.StatusInternalServerError || ae.Kind == apperrors.KindPayment {
		apperrors.Log(s.logger, err, map[string]any{
			"route":      routeTemplate(r),
			"request_id": requestIDFromContext(r.Context()),
		})
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: ae.Code, Message: ae.Message}, Next: next})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		return apperrors.Validation("INVALID_BODY", "Request body is not valid JSON", err)
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
