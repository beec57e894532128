package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/wookieewrath/OnMyWay/internal/async"
	"github.com/wookieewrath/OnMyWay/internal/auth"
	"github.com/wookieewrath/OnMyWay/internal/gateway"
	"github.com/wookieewrath/OnMyWay/internal/models"
)

var (
	ErrNoCurrentUser    = errors.New("no current user")
	ErrNoCurrentRequest = errors.New("no current request")
)

// Gateway is the subset of the remote access gateway the session drives.
type Gateway interface {
	Login(ctx context.Context, email, password string) *async.Future[gateway.LoginResult]
	FetchCurrentUserProfile(ctx context.Context) *async.Future[models.User]
	PushUserProfile(ctx context.Context, u models.User) *async.Future[struct{}]
	DeleteCurrentUser(ctx context.Context) *async.Future[struct{}]
	CreateRequest(ctx context.Context, r models.Request) *async.Future[string]
	Identity() (auth.Identity, bool)
	Logout()
}

// State holds the current user and the current request of one running app.
// Both slots sit behind a single lock; gateway callbacks may write them
// from any goroutine.
type State struct {
	gw     Gateway
	logger *slog.Logger

	mu      sync.RWMutex
	user    *models.User
	request *models.Request
	// gen counts clears; a fetch started before a clear must not store.
	gen uint64
}

func New(gw Gateway, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{gw: gw, logger: logger.With("component", "session")}
}

// Snapshot is a consistent copy of the session.
type Snapshot struct {
	LoggedIn bool            `json:"logged_in"`
	User     *models.User    `json:"user,omitempty"`
	Request  *models.Request `json:"request,omitempty"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	if s.request != nil {
		r := *s.request
		snap.Request = &r
	}
	s.mu.RUnlock()
	snap.LoggedIn = s.IsLoggedIn()
	return snap
}

func (s *State) CurrentUser() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// SetCurrentUser stores u only if no user is held yet. It reports whether
// u was stored; a second call never replaces the first user.
func (s *State) SetCurrentUser(u models.User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setUserLocked(u)
}

func (s *State) setUserLocked(u models.User) bool {
	if s.user != nil {
		return false
	}
	s.user = &u
	return true
}

func (s *State) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// ModifyCurrentUser edits the held user in memory. The user id cannot be
// changed. Call UpdateCurrentUser to push the edit.
func (s *State) ModifyCurrentUser(fn func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ErrNoCurrentUser
	}
	edited := *s.user
	fn(&edited)
	edited.ID = s.user.ID
	s.user = &edited
	return nil
}

// UpdateCurrentUser pushes the held user to the backend.
func (s *State) UpdateCurrentUser(ctx context.Context) *async.Future[struct{}] {
	u, ok := s.CurrentUser()
	if !ok {
		return async.Resolved(struct{}{}, ErrNoCurrentUser)
	}
	return s.gw.PushUserProfile(ctx, u)
}

func (s *State) CurrentRequest() (models.Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.request == nil {
		return models.Request{}, false
	}
	return *s.request, true
}

// SetCurrentRequest replaces any held request.
func (s *State) SetCurrentRequest(r models.Request) {
	s.mu.Lock()
	s.request = &r
	s.mu.Unlock()
}

// UpdateCurrentRequest submits the held request as a new backend document
// and resolves with the document id.
func (s *State) UpdateCurrentRequest(ctx context.Context) *async.Future[string] {
	r, ok := s.CurrentRequest()
	if !ok {
		return async.Resolved("", ErrNoCurrentRequest)
	}
	return s.gw.CreateRequest(ctx, r)
}

// CancelCurrentRequest drops the held request locally. Documents already
// submitted stay in the backend.
func (s *State) CancelCurrentRequest() {
	s.mu.Lock()
	s.request = nil
	s.mu.Unlock()
}

func (s *State) IsLoggedIn() bool {
	_, ok := s.gw.Identity()
	return ok
}

// Login signs in through the gateway. The returned result's Profile future
// resolves only after the fetched profile was offered to SetCurrentUser.
// A profile that arrives after Logout or DeleteCurrentUser is not stored.
func (s *State) Login(ctx context.Context, email, password string) *async.Future[gateway.LoginResult] {
	gen := s.generation()
	return async.Then(s.gw.Login(ctx, email, password), func(res gateway.LoginResult) (gateway.LoginResult, error) {
		res.Profile = s.storeFetched(res.Profile, gen)
		return res, nil
	})
}

// RefreshCurrentUser fetches the signed-in identity's profile into the
// user slot.
func (s *State) RefreshCurrentUser(ctx context.Context) *async.Future[models.User] {
	return s.storeFetched(s.gw.FetchCurrentUserProfile(ctx), s.generation())
}

// storeFetched offers the fetched profile to the user slot unless the
// session was cleared after gen was read.
func (s *State) storeFetched(f *async.Future[models.User], gen uint64) *async.Future[models.User] {
	return async.Then(f, func(u models.User) (models.User, error) {
		s.mu.Lock()
		stale := s.gen != gen
		stored := !stale && s.setUserLocked(u)
		s.mu.Unlock()
		switch {
		case stale:
			s.logger.Debug("session cleared during fetch, dropping profile", "fetched_user_id", u.ID)
		case !stored:
			s.logger.Debug("current user already set, keeping it", "fetched_user_id", u.ID)
		}
		return u, nil
	})
}

// Logout clears both slots, then ends the auth session.
func (s *State) Logout() {
	s.clear()
	s.gw.Logout()
}

// DeleteCurrentUser deletes the profile and identity; on success both
// slots are cleared.
func (s *State) DeleteCurrentUser(ctx context.Context) *async.Future[struct{}] {
	return async.Then(s.gw.DeleteCurrentUser(ctx), func(v struct{}) (struct{}, error) {
		s.clear()
		return v, nil
	})
}

func (s *State) clear() {
	s.mu.Lock()
	s.user = nil
	s.request = nil
	s.gen++
	s.mu.Unlock()
}
