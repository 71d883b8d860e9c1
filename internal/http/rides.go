package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-passenger/internal/format"
	"github.com/example/ride-passenger/internal/push"
	"github.com/example/ride-passenger/internal/tracking"
)

const pingPeriod = 30 * time.Second

// message is what the tracking websocket and the push registry carry.
type message struct {
	Type     string             `json:"type"`
	Snapshot *tracking.Snapshot `json:"snapshot,omitempty"`
	Notice   *tracking.Notice   `json:"notice,omitempty"`
}

func (s *Server) newViewModel(riderID string) *tracking.ViewModel {
	deps := tracking.Deps{Backend: s.deps.Backend, Feed: s.deps.Feed, Logger: s.logger}
	if s.deps.Payments != nil {
		deps.Checkout = s.deps.Payments
	}
	vm := tracking.New(deps, s.opts.Tracking)
	// notices go to every open tab of the rider, once per change
	vm.Watch(func(u tracking.Update) {
		if u.Notice == nil {
			return
		}
		_ = s.deps.Push.Notify(riderID, message{Type: "notice", Notice: u.Notice})
	})
	return vm
}

type viewKey struct {
	rider string
	ride  string
}

type viewEntry struct {
	vm    *tracking.ViewModel
	refs  int
	ready chan struct{}
	err   error
}

// views shares one tracking view-model per rider and ride between the
// websocket of each open tab and the action requests. A view is closed
// when its last holder releases it.
type views struct {
	open func(riderID string) *tracking.ViewModel

	mu sync.Mutex
	m  map[viewKey]*viewEntry
}

func newViews(open func(riderID string) *tracking.ViewModel) *views {
	return &views{open: open, m: map[viewKey]*viewEntry{}}
}

func (v *views) acquire(ctx context.Context, riderID, rideID string) (*tracking.ViewModel, func(), error) {
	key := viewKey{rider: riderID, ride: rideID}
	v.mu.Lock()
	e, ok := v.m[key]
	if ok {
		e.refs++
		v.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			v.release(key, e)
			return nil, nil, ctx.Err()
		}
		if e.err != nil {
			v.release(key, e)
			return nil, nil, e.err
		}
		return e.vm, func() { v.release(key, e) }, nil
	}

	e = &viewEntry{vm: v.open(riderID), refs: 1, ready: make(chan struct{})}
	v.m[key] = e
	v.mu.Unlock()

	e.err = e.vm.Load(ctx, rideID, riderID)
	if e.err != nil {
		v.mu.Lock()
		if v.m[key] == e {
			delete(v.m, key)
		}
		v.mu.Unlock()
		close(e.ready)
		e.vm.Close()
		return nil, nil, e.err
	}
	close(e.ready)
	return e.vm, func() { v.release(key, e) }, nil
}

func (v *views) release(key viewKey, e *viewEntry) {
	v.mu.Lock()
	e.refs--
	if e.refs > 0 || v.m[key] != e {
		v.mu.Unlock()
		return
	}
	delete(v.m, key)
	v.mu.Unlock()
	e.vm.Close()
}

func (v *views) len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.m)
}

func (v *views) closeAll() {
	v.mu.Lock()
	entries := make([]*viewEntry, 0, len(v.m))
	for k, e := range v.m {
		entries = append(entries, e)
		delete(v.m, k)
	}
	v.mu.Unlock()
	for _, e := range entries {
		e.vm.Close()
	}
}

// withView runs fn against the rider's view of the ride in the URL.
func (s *Server) withView(w http.ResponseWriter, r *http.Request, fn func(vm *tracking.ViewModel)) {
	p := principalFrom(r.Context())
	vm, release, err := s.views.acquire(r.Context(), p.user.ID, mux.Vars(r)["rideID"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer release()
	fn(vm)
}

func (s *Server) handleRide(w http.ResponseWriter, r *http.Request) {
	s.withView(w, r, func(vm *tracking.ViewModel) {
		snap := vm.Snapshot()
		resp := map[string]any{"snapshot": snap}
		switch r.URL.Query().Get("payment") {
		case "success":
			resp["notice"] = tracking.Notice{Level: tracking.NoticeInfo, Message: "Payment is being confirmed"}
		case "cancelled":
			resp["notice"] = tracking.Notice{Level: tracking.NoticeInfo, Message: "Payment was cancelled"}
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.withView(w, r, func(vm *tracking.ViewModel) {
		if err := vm.Cancel(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"snapshot": vm.Snapshot()})
	})
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	s.withView(w, r, func(vm *tracking.ViewModel) {
		cs, err := vm.Pay(r.Context(), s.origin(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cs)
	})
}

type ratingRequest struct {
	Score any    `json:"score"`
	Note  string `json:"note"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.withView(w, r, func(vm *tracking.ViewModel) {
		rating, err := vm.Rate(r.Context(), req.Score, req.Note)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"rating": rating, "snapshot": vm.Snapshot()})
	})
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	s.withView(w, r, func(vm *tracking.ViewModel) {
		if err := vm.OpenReceipt(); err != nil {
			s.writeError(w, r, err)
			return
		}
		snap := vm.Snapshot()
		receipt := map[string]any{
			"ride":      snap.Ride,
			"payment":   snap.Payment,
			"fare_text": snap.FareText,
		}
		if d := snap.Driver; d != nil {
			receipt["driver"] = map[string]string{"full_name": d.FullName, "phone": format.MaskPhone(d.Phone)}
		}
		writeJSON(w, http.StatusOK, receipt)
	})
}

// wsCommand is a UI action sent by the tracking page over its websocket.
type wsCommand struct {
	Action string `json:"action"`
}

func (s *Server) handleRideWS(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	rideID := mux.Vars(r)["rideID"]
	vm, release, err := s.views.acquire(r.Context(), p.user.ID, rideID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer release()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", "ride_id", rideID, "error", err.Error())
		return
	}
	conn := push.NewConn(ws)
	s.deps.Push.Add(p.user.ID, conn)
	defer func() {
		s.deps.Push.Remove(p.user.ID, conn)
		_ = conn.Close()
	}()

	stop := vm.Watch(func(u tracking.Update) {
		snap := u.Snapshot
		_ = conn.Send(message{Type: "snapshot", Snapshot: &snap})
	})
	defer stop()

	snap := vm.Snapshot()
	if err := conn.Send(message{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn("ws_read_failed", "ride_id", rideID, "error", err.Error())
				}
				return
			}
			var cmd wsCommand
			if json.Unmarshal(data, &cmd) != nil {
				continue
			}
			s.applyCommand(vm, cmd)
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) applyCommand(vm *tracking.ViewModel, cmd wsCommand) {
	var err error
	switch cmd.Action {
	case "open_rating_prompt":
		err = vm.OpenRatingPrompt()
	case "dismiss_rating_prompt":
		vm.DismissRatingPrompt()
	case "open_receipt":
		err = vm.OpenReceipt()
	case "close_receipt":
		vm.CloseReceipt()
	default:
		return
	}
	if err != nil {
		s.logger.Debug("ws_command_rejected", "action", cmd.Action, "error", err.Error())
	}
}

// origin is the base URL payment providers send the rider back to.
func (s *Server) origin(r *http.Request) string {
	if s.opts.Origin != "" {
		return strings.TrimRight(s.opts.Origin, "/")
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
