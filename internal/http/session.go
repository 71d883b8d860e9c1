package httpapi

import (
	"context"
	"net/http"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/auth"
	"github.com/example/ride-passenger/internal/models"
)

const sessionCookie = "rp_session"

// principal is the signed-in rider a guarded handler acts for.
type principal struct {
	sessionID string
	user      auth.User
	profile   models.Profile
	rider     bool
}

func principalFrom(ctx context.Context) principal {
	p, _ := ctx.Value(principalKey).(principal)
	return p
}

func principalEmail(ctx context.Context) string {
	return principalFrom(ctx).user.Email
}

// currentRider resolves the session without waiting for a profile that is
// still loading.
func (s *Server) currentRider(r *http.Request) (principal, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return principal{}, false
	}
	_, obs, ok := s.deps.Sessions.Lookup(r.Context(), c.Value)
	if !ok {
		return principal{}, false
	}
	st := obs.State()
	if st.User == nil || st.Profile == nil {
		return principal{}, false
	}
	return principal{sessionID: c.Value, user: *st.User, profile: *st.Profile, rider: st.IsRider}, true
}

// requireRider admits only signed-in riders. It waits for the profile to
// resolve for at most the loading timeout.
func (s *Server) requireRider(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		_, obs, ok := s.deps.Sessions.Lookup(r.Context(), c.Value)
		if !ok {
			s.clearSessionCookie(w)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.opts.LoadingTimeout)
		st, err := obs.Wait(ctx)
		cancel()
		if err != nil {
			s.writeError(w, r, apperrors.Network("PROFILE_LOADING", "Still loading your account. Please try again.", err))
			return
		}
		switch {
		case st.User == nil:
			s.clearSessionCookie(w)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		case st.Profile == nil:
			writeJSON(w, http.StatusForbidden, errorBody{Error: errorDetail{
				Code:    "PROFILE_NOT_FOUND",
				Message: "Profile not found. Please contact support.",
			}})
			return
		case !st.IsRider:
			http.Redirect(w, r, "/wrong-app", http.StatusSeeOther)
			return
		}

		p := principal{sessionID: c.Value, user: *st.User, profile: *st.Profile, rider: true}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	}
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.currentRider(r); ok && p.rider {
		http.Redirect(w, r, "/request", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"title":  "Sign in",
		"fields": []string{"email", "password"},
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, obs, err := s.deps.Sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	// the client lands on the request screen once the profile is known
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.LoadingTimeout)
	st, _ := obs.Wait(ctx)
	cancel()
	next := "/request"
	if st.Profile != nil && !st.IsRider {
		next = "/wrong-app"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    sess.User(),
		"profile": st.Profile,
		"next":    next,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if err := s.deps.Sessions.SignOut(r.Context(), c.Value); err != nil {
			s.logger.Warn("sign_out_failed", "error", err.Error())
		}
	}
	s.clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
