package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wookieewrath/OnMyWay/internal/auth"
	"github.com/wookieewrath/OnMyWay/internal/docstore"
	"github.com/wookieewrath/OnMyWay/internal/gateway"
	"github.com/wookieewrath/OnMyWay/internal/geo"
	"github.com/wookieewrath/OnMyWay/internal/models"
	"github.com/wookieewrath/OnMyWay/internal/notify"
	"github.com/wookieewrath/OnMyWay/internal/session"
)

type Deps struct {
	Session *session.State
	Gateway *gateway.Gateway
	Hub     *notify.Hub
	Geo     geo.Index
	Logger  *slog.Logger

	NearbyRadiusM float64
	NearbyLimit   int
}

// Server exposes the session holder and the gateway to a local UI shell.
type Server struct {
	session *session.State
	gateway *gateway.Gateway
	hub     *notify.Hub
	geo     geo.Index
	logger  *slog.Logger

	nearbyRadiusM float64
	nearbyLimit   int

	mux *mux.Router
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		session:       d.Session,
		gateway:       d.Gateway,
		hub:           d.Hub,
		geo:           d.Geo,
		logger:        logger.With("component", "http"),
		nearbyRadiusM: d.NearbyRadiusM,
		nearbyLimit:   d.NearbyLimit,
		mux:           mux.NewRouter(),
	}
	if s.nearbyRadiusM <= 0 {
		s.nearbyRadiusM = 5000
	}
	if s.nearbyLimit <= 0 {
		s.nearbyLimit = 20
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/accounts", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/session", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/session/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/session/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/session/user", s.handleUpdateUser).Methods(http.MethodPatch)
	api.HandleFunc("/session/user", s.handleDeleteUser).Methods(http.MethodDelete)
	api.HandleFunc("/session/request", s.handleSetRequest).Methods(http.MethodPut)
	api.HandleFunc("/session/request", s.handleCancelRequest).Methods(http.MethodDelete)
	api.HandleFunc("/session/request/submit", s.handleSubmitRequest).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	api.HandleFunc("/requests/nearby", s.handleNearby).Methods(http.MethodGet)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.hub != nil {
		s.mux.HandleFunc("/ws", s.hub.ServeWS)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	credentials
	Profile models.User `json:"profile"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	u, err := s.gateway.Register(r.Context(), req.Email, req.Password, req.Profile).Wait(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.userView(u))
}

type loginResponse struct {
	Identity     auth.Identity `json:"identity"`
	Profile      *userView     `json:"profile,omitempty"`
	ProfileError string        `json:"profile_error,omitempty"`
}

// handleLogin answers once the login and its profile fetch have both
// resolved. Session listeners get the two outcomes over the websocket.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.session.Login(r.Context(), req.Email, req.Password).Wait(r.Context())
	if err != nil {
		s.notify(notify.Event{Type: notify.LoginFailed, Error: err.Error()})
		s.writeError(w, r, err)
		return
	}
	s.notify(notify.Event{Type: notify.LoginSucceeded, Data: res.Identity})
	res.Profile.OnComplete(func(u models.User, err error) {
		if err != nil {
			s.notify(notify.Event{Type: notify.CurrentUserPulled, Error: err.Error()})
			return
		}
		s.notify(notify.Event{Type: notify.CurrentUserPulled, Data: s.userView(u)})
	})

	resp := loginResponse{Identity: res.Identity}
	u, err := res.Profile.Wait(r.Context())
	if err != nil {
		resp.ProfileError = err.Error()
	} else {
		v := s.userView(u)
		resp.Profile = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.session.Logout()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// userPatch carries the editable profile fields; absent fields are kept.
type userPatch struct {
	FirstName    *string `json:"first_name"`
	LastName     *string `json:"last_name"`
	IsDriver     *bool   `json:"is_driver"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	UpRatings    *int64  `json:"up_ratings"`
	TotalRatings *int64  `json:"total_ratings"`
}

func (p userPatch) apply(u *models.User) {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.IsDriver != nil {
		u.IsDriver = *p.IsDriver
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.UpRatings != nil {
		u.UpRatings = *p.UpRatings
	}
	if p.TotalRatings != nil {
		u.TotalRatings = *p.TotalRatings
	}
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch userPatch
	if !s.decode(w, r, &patch) {
		return
	}
	if err := s.session.ModifyCurrentUser(patch.apply); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.session.UpdateCurrentUser(r.Context()).Wait(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, _ := s.session.CurrentUser()
	writeJSON(w, http.StatusOK, s.userView(u))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	_, err := s.session.DeleteCurrentUser(r.Context()).Wait(r.Context())
	if err != nil {
		ev := notify.Event{Type: notify.UserDeleteFailed, Error: err.Error()}
		var de *gateway.DeleteError
		if errors.As(err, &de) {
			ev.Data = map[string]string{"stage": string(de.Stage)}
		}
		s.notify(ev)
		s.writeError(w, r, err)
		return
	}
	s.notify(notify.Event{Type: notify.UserDeleted})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRequest(w http.ResponseWriter, r *http.Request) {
	var req models.Request
	if !s.decode(w, r, &req) {
		return
	}
	s.session.SetCurrentRequest(req)
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	s.session.CancelCurrentRequest()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	id, err := s.session.UpdateCurrentRequest(r.Context()).Wait(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]string{"document_id": id}
	s.notify(notify.Event{Type: notify.RequestCreated, Data: resp})
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	u, err := s.gateway.FetchUserProfile(r.Context(), id).Wait(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.userView(u))
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	if err := errors.Join(err1, err2); err != nil {
		http.Error(w, "lat and lon are required numbers", http.StatusBadRequest)
		return
	}
	radius := s.nearbyRadiusM
	if v := q.Get("radius_m"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			http.Error(w, "invalid radius_m", http.StatusBadRequest)
			return
		}
		radius = f
	}
	limit := s.nearbyLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	out, err := s.geo.Nearby(r.Context(), lat, lon, radius, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": out})
}

type userView struct {
	models.User
	Rating   float64 `json:"rating"`
	PhotoURL string  `json:"photo_url,omitempty"`
}

func (s *Server) userView(u models.User) userView {
	return userView{User: u, Rating: u.Rating(), PhotoURL: s.gateway.PhotoURL(u)}
}

func (s *Server) notify(e notify.Event) {
	if s.hub != nil {
		s.hub.Broadcast(e)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		loggerFrom(r.Context(), s.logger).Warn("request failed", "route", routeTemplate(r), "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrNotAuthenticated), errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrProfileNotFound), errors.Is(err, docstore.ErrNotFound), errors.Is(err, auth.ErrIdentityNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoCurrentUser), errors.Is(err, session.ErrNoCurrentRequest), errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrInvalidUser), errors.Is(err, gateway.ErrInvalidRequest),
		errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
