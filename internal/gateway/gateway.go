package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wookieewrath/OnMyWay/internal/async"
	"github.com/wookieewrath/OnMyWay/internal/auth"
	"github.com/wookieewrath/OnMyWay/internal/docstore"
	"github.com/wookieewrath/OnMyWay/internal/events"
	"github.com/wookieewrath/OnMyWay/internal/models"
	"github.com/wookieewrath/OnMyWay/internal/observability"
	"github.com/wookieewrath/OnMyWay/internal/payments"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrProfileNotFound  = errors.New("user profile not found")
	ErrInvalidUser      = errors.New("user has no id")
	ErrInvalidRequest   = errors.New("invalid ride request")
)

type DeleteStage string

const (
	StageProfile  DeleteStage = "profile"
	StageIdentity DeleteStage = "identity"
)

// DeleteError reports which step of DeleteCurrentUser failed. A profile
// failure leaves the identity untouched; an identity failure happens after
// the profile document is already gone.
type DeleteError struct {
	Stage DeleteStage
	Err   error
}

func (e *DeleteError) Error() string { return fmt.Sprintf("delete %s: %v", e.Stage, e.Err) }

func (e *DeleteError) Unwrap() error { return e.Err }

// Authenticator is the authentication service as the gateway uses it.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (auth.Identity, error)
	SignUp(ctx context.Context, email, password string) (auth.Identity, error)
	CurrentIdentity() (auth.Identity, bool)
	SignOut()
	DeleteIdentity(ctx context.Context, id auth.Identity) error
}

type ImageWarmer interface {
	Prefetch(url string)
}

type FareHolder interface {
	Hold(ctx context.Context, amount int64, rider string) (string, error)
	Cancel(ctx context.Context, paymentIntentID string) error
}

type Options struct {
	Images       ImageWarmer      // optional
	Events       events.Publisher // optional
	Fares        FareHolder       // optional
	PhotoBaseURL string
	OpTimeout    time.Duration // 0 disables
	Logger       *slog.Logger
}

// LoginResult is a successful sign-in. Profile is the profile fetch the
// login started for the identity.
type LoginResult struct {
	Identity auth.Identity
	Profile  *async.Future[models.User]
}

// Gateway mediates every call to the authentication service and the
// document store. Operations return at once; results arrive on the
// returned future.
type Gateway struct {
	auth      Authenticator
	store     docstore.Store
	images    ImageWarmer
	events    events.Publisher
	fares     FareHolder
	photoBase string
	opTimeout time.Duration
	logger    *slog.Logger

	inflight sync.WaitGroup
}

func New(a Authenticator, store docstore.Store, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		auth:      a,
		store:     store,
		images:    opts.Images,
		events:    opts.Events,
		fares:     opts.Fares,
		photoBase: opts.PhotoBaseURL,
		opTimeout: opts.OpTimeout,
		logger:    logger.With("component", "gateway"),
	}
}

const (
	opLogin         = "login"
	opRegister      = "register"
	opFetchProfile  = "fetch_profile"
	opFetchCurrent  = "fetch_current_profile"
	opPushProfile   = "push_profile"
	opDeleteCurrent = "delete_current_user"
	opCreateRequest = "create_request"
)

// Login signs in and, on success, starts one fetch of the identity's profile.
func (g *Gateway) Login(ctx context.Context, email, password string) *async.Future[LoginResult] {
	return start(g, ctx, opLogin, func(ctx context.Context) (LoginResult, error) {
		g.logger.Debug("logging in user")
		id, err := g.auth.SignIn(ctx, email, password)
		if err != nil {
			g.logger.Info("login failed", "error", err)
			return LoginResult{}, fmt.Errorf("login: %w", err)
		}
		g.logger.Info("login succeeded", "uid", id.UID)
		return LoginResult{
			Identity: id,
			Profile:  g.FetchUserProfile(context.WithoutCancel(ctx), id.UID),
		}, nil
	})
}

// Register creates an identity and stores profile under its uid.
func (g *Gateway) Register(ctx context.Context, email, password string, profile models.User) *async.Future[models.User] {
	return start(g, ctx, opRegister, func(ctx context.Context) (models.User, error) {
		id, err := g.auth.SignUp(ctx, email, password)
		if err != nil {
			return models.User{}, fmt.Errorf("register: %w", err)
		}
		profile.ID = id.UID
		if profile.Email == "" {
			profile.Email = id.Email
		}
		if err := g.pushProfile(ctx, profile); err != nil {
			return models.User{}, err
		}
		return profile, nil
	})
}

// Identity returns the authenticated identity from local auth state.
func (g *Gateway) Identity() (auth.Identity, bool) { return g.auth.CurrentIdentity() }

// Logout ends the local auth session. It does not touch session state.
func (g *Gateway) Logout() {
	g.auth.SignOut()
	g.logger.Info("logged out")
}

// FetchCurrentUserProfile fetches the profile of the authenticated identity.
func (g *Gateway) FetchCurrentUserProfile(ctx context.Context) *async.Future[models.User] {
	id, ok := g.auth.CurrentIdentity()
	if !ok {
		return rejected[models.User](opFetchCurrent, ErrNotAuthenticated)
	}
	return g.FetchUserProfile(ctx, id.UID)
}

// FetchUserProfile loads the profile stored for id and warms the image
// cache for its photo.
func (g *Gateway) FetchUserProfile(ctx context.Context, id string) *async.Future[models.User] {
	return start(g, ctx, opFetchProfile, func(ctx context.Context) (models.User, error) {
		doc, err := g.store.Get(ctx, UsersCollection, id)
		if errors.Is(err, docstore.ErrNotFound) {
			g.logger.Info("user not found in database", "user_id", id)
			return models.User{}, ErrProfileNotFound
		}
		if err != nil {
			g.logger.Warn("get user profile failed", "user_id", id, "error", err)
			return models.User{}, fmt.Errorf("fetch profile %s: %w", id, err)
		}
		u := userFromDocument(id, doc)
		if g.images != nil {
			if url := g.PhotoURL(u); url != "" {
				g.images.Prefetch(url)
			}
		}
		g.logger.Debug("user information fetched", "user_id", id)
		return u, nil
	})
}

// PushUserProfile upserts the seven profile fields under u.ID.
func (g *Gateway) PushUserProfile(ctx context.Context, u models.User) *async.Future[struct{}] {
	if u.ID == "" {
		return rejected[struct{}](opPushProfile, ErrInvalidUser)
	}
	return start(g, ctx, opPushProfile, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.pushProfile(ctx, u)
	})
}

func (g *Gateway) pushProfile(ctx context.Context, u models.User) error {
	if err := g.store.Set(ctx, UsersCollection, u.ID, userDocument(u)); err != nil {
		g.logger.Warn("error updating user profile", "user_id", u.ID, "error", err)
		return fmt.Errorf("push profile %s: %w", u.ID, err)
	}
	g.logger.Debug("user profile updated", "user_id", u.ID)
	g.publish(ctx, events.Event{Kind: events.KindProfileUpdated, Subject: u.ID})
	return nil
}

// DeleteCurrentUser deletes the profile document, then the identity.
// Nothing is rolled back when the second step fails.
func (g *Gateway) DeleteCurrentUser(ctx context.Context) *async.Future[struct{}] {
	id, ok := g.auth.CurrentIdentity()
	if !ok {
		return rejected[struct{}](opDeleteCurrent, ErrNotAuthenticated)
	}
	return start(g, ctx, opDeleteCurrent, func(ctx context.Context) (struct{}, error) {
		if err := g.store.Delete(ctx, UsersCollection, id.UID); err != nil {
			g.logger.Warn("error deleting user profile", "uid", id.UID, "error", err)
			return struct{}{}, &DeleteError{Stage: StageProfile, Err: err}
		}
		g.logger.Debug("user profile deleted", "uid", id.UID)
		if err := g.auth.DeleteIdentity(ctx, id); err != nil {
			g.logger.Warn("error deleting user account", "uid", id.UID, "error", err)
			return struct{}{}, &DeleteError{Stage: StageIdentity, Err: err}
		}
		g.logger.Info("user account deleted", "uid", id.UID)
		g.publish(ctx, events.Event{Kind: events.KindUserDeleted, Subject: id.UID})
		return struct{}{}, nil
	})
}

// CreateRequest adds r to the requests collection and returns the
// generated document id. When fares are configured the payment amount is
// held first and released again if the document cannot be written.
func (g *Gateway) CreateRequest(ctx context.Context, r models.Request) *async.Future[string] {
	return start(g, ctx, opCreateRequest, func(ctx context.Context) (string, error) {
		doc := requestDocument(r)
		var holdID string
		if g.fares != nil {
			cents, err := payments.ParseFare(r.PaymentAmount)
			if err != nil {
				return "", fmt.Errorf("%w: payment amount %q", ErrInvalidRequest, r.PaymentAmount)
			}
			holdID, err = g.fares.Hold(ctx, cents, r.RiderUserName)
			if err != nil {
				g.logger.Warn("fare hold failed", "rider", r.RiderUserName, "error", err)
				return "", fmt.Errorf("hold fare: %w", err)
			}
			doc[fieldPaymentIntentID] = holdID
		}
		docID, err := g.store.Add(ctx, RequestsCollection, doc)
		if err != nil {
			g.logger.Warn("data addition failed", "rider", r.RiderUserName, "error", err)
			if holdID != "" {
				if cerr := g.fares.Cancel(context.WithoutCancel(ctx), holdID); cerr != nil {
					g.logger.Error("releasing fare hold failed", "payment_intent", holdID, "error", cerr)
				}
			}
			return "", fmt.Errorf("create request: %w", err)
		}
		g.logger.Debug("data addition successful", "document_id", docID)
		g.publish(ctx, events.Event{Kind: events.KindRequestCreated, Subject: docID, Request: &r})
		return docID, nil
	})
}

// PhotoURL is the profile photo location for u, empty without a base URL.
func (g *Gateway) PhotoURL(u models.User) string {
	if g.photoBase == "" || u.ID == "" {
		return ""
	}
	return u.ProfilePhotoURL(g.photoBase)
}

// Wait blocks until every started operation has resolved.
func (g *Gateway) Wait() { g.inflight.Wait() }

// publish is best-effort: a broker failure never fails the operation.
func (g *Gateway) publish(ctx context.Context, e events.Event) {
	if g.events == nil {
		return
	}
	e.At = time.Now().UTC()
	if err := g.events.Publish(context.WithoutCancel(ctx), e); err != nil {
		observability.EventsPublishedTotal.WithLabelValues(string(e.Kind), "error").Inc()
		g.logger.Warn("publish event failed", "kind", e.Kind, "subject", e.Subject, "error", err)
		return
	}
	observability.EventsPublishedTotal.WithLabelValues(string(e.Kind), "ok").Inc()
}

func start[T any](g *Gateway, ctx context.Context, op string, fn func(context.Context) (T, error)) *async.Future[T] {
	g.inflight.Add(1)
	observability.GatewayInflight.Inc()
	begin := time.Now()
	return async.Go(ctx, func(ctx context.Context) (T, error) {
		defer func() {
			observability.GatewayOperationDuration.WithLabelValues(op).Observe(time.Since(begin).Seconds())
			observability.GatewayInflight.Dec()
			g.inflight.Done()
		}()
		if g.opTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.opTimeout)
			defer cancel()
		}
		v, err := fn(ctx)
		observability.GatewayOperationsTotal.WithLabelValues(op, outcome(err)).Inc()
		return v, err
	})
}

func rejected[T any](op string, err error) *async.Future[T] {
	observability.GatewayOperationsTotal.WithLabelValues(op, outcome(err)).Inc()
	var zero T
	return async.Resolved(zero, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrProfileNotFound):
		return "not_found"
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrInvalidUser), errors.Is(err, ErrInvalidRequest):
		return "rejected"
	default:
		return "error"
	}
}
