package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-passenger/internal/apperrors"
	"github.com/example/ride-passenger/internal/backend"
	"github.com/example/ride-passenger/internal/format"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/storage"
	"github.com/example/ride-passenger/internal/tracking"
)

const (
	historyLimit       = 20
	msgRatingSubmitted = "Thank you for your feedback!"
	msgProfileUpdated  = "Profile updated successfully!"
)

type historyItem struct {
	models.HistoryEntry
	StatusLabel string `json:"status_label"`
	FareText    string `json:"fare_text"`
	When        string `json:"when"`
	CanRate     bool   `json:"can_rate"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	entries, err := s.deps.Backend.RideHistory(r.Context(), p.user.ID, historyLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	now := time.Now()
	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		amount := e.Ride.EstimatedFare
		if e.Ride.FinalFare != nil {
			amount = *e.Ride.FinalFare
		}
		items = append(items, historyItem{
			HistoryEntry: e,
			StatusLabel:  format.StatusLabel(e.Ride.Status),
			FareText:     format.Currency(amount, s.opts.Tracking.Locale, s.opts.Tracking.Currency),
			When:         format.RelativeTime(e.Ride.CreatedAt, now),
			CanRate:      tracking.ShowRatingAction(e.Ride, e.Rating) && e.Ride.AssignedDriver() != "",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": items})
}

// handleHistoryRating rates a completed ride straight from the history
// list, without opening a tracking view.
func (s *Server) handleHistoryRating(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	var req ratingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.deps.Backend.GetRide(r.Context(), mux.Vars(r)["rideID"], p.user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	driverID := ride.AssignedDriver()
	if ride.Status != models.StatusCompleted || driverID == "" {
		s.writeError(w, r, apperrors.Validation("RATING_UNAVAILABLE", apperrors.MsgRatingUnavailable))
		return
	}
	rating, err := s.deps.Backend.SubmitRating(backend.WithoutRetry(r.Context()), backend.RatingInput{
		RideID:     ride.ID,
		FromUserID: p.user.ID,
		ToUserID:   driverID,
		Score:      req.Score,
		Note:       req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rating": rating, "message": msgRatingSubmitted})
}

type profileView struct {
	models.Profile
	MemberSince string `json:"member_since"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	prof, err := s.deps.Backend.GetProfile(r.Context(), p.user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileView{Profile: *prof, MemberSince: prof.CreatedAt.Format("January 2006")})
}

type profileRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u := storage.ProfileUpdate{
		FullName: strings.TrimSpace(req.FullName),
		Email:    strings.TrimSpace(req.Email),
	}
	if ph := strings.TrimSpace(req.Phone); ph != "" {
		u.Phone = &ph
	}
	if u.FullName == "" {
		s.writeError(w, r, apperrors.Validation("NAME_REQUIRED", "Full name is required"))
		return
	}
	prof, err := s.deps.Backend.UpdateProfile(r.Context(), p.user.ID, u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": prof, "message": msgProfileUpdated})
}
