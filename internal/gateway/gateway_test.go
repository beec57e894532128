package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wookieewrath/OnMyWay/internal/auth"
	"github.com/wookieewrath/OnMyWay/internal/docstore"
	"github.com/wookieewrath/OnMyWay/internal/events"
	"github.com/wookieewrath/OnMyWay/internal/models"
)

type fakeWarmer struct {
	mu   sync.Mutex
	urls []string
}

func (f *fakeWarmer) Prefetch(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
}

func (f *fakeWarmer) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *fakePublisher) Kinds() []events.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Kind
	for _, e := range f.events {
		out = append(out, e.Kind)
	}
	return out
}

type fakeFares struct {
	mu        sync.Mutex
	held      []int64
	riders    []string
	cancelled []string
	holdErr   error
}

func (f *fakeFares) Hold(_ context.Context, amount int64, rider string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holdErr != nil {
		return "", f.holdErr
	}
	f.held = append(f.held, amount)
	f.riders = append(f.riders, rider)
	return "pi_test", nil
}

func (f *fakeFares) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fixture struct {
	gw     *Gateway
	store  *docstore.MemoryStore
	dir    *auth.MemoryDirectory
	auth   *auth.Client
	images *fakeWarmer
	events *fakePublisher
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:  docstore.NewMemoryStore(),
		dir:    auth.NewMemoryDirectory(),
		images: &fakeWarmer{},
		events: &fakePublisher{},
	}
	f.auth = auth.NewClient(f.dir, auth.NewTokenIssuer([]byte("test"), time.Hour), nil)
	opts.Images = f.images
	opts.Events = f.events
	if opts.PhotoBaseURL == "" {
		opts.PhotoBaseURL = "https://photos.example.com"
	}
	f.gw = New(f.auth, f.store, opts)
	return f
}

// account creates a signed-out credential with a stored profile.
func (f *fixture) account(t *testing.T, email, password string) auth.Identity {
	t.Helper()
	id, err := f.auth.SignUp(context.Background(), email, password)
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	f.auth.SignOut()
	doc := userDocument(models.User{ID: id.UID, FirstName: "Ada", LastName: "Lovelace", Email: email, Phone: "780-555-0100", UpRatings: 3, TotalRatings: 4})
	if err := f.store.Set(context.Background(), UsersCollection, id.UID, doc); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return id
}

func wait[T any](t *testing.T, fut interface {
	Wait(context.Context) (T, error)
}) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return fut.Wait(ctx)
}

func TestLogin_SuccessStartsOneProfileFetch(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.account(t, "a@b.com", "pw1234")
	ctx := context.Background()

	res, err := wait[LoginResult](t, f.gw.Login(ctx, "a@b.com", "pw1234"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Identity.UID != id.UID {
		t.Fatalf("expected uid %s, got %s", id.UID, res.Identity.UID)
	}
	if res.Profile == nil {
		t.Fatal("expected a profile fetch to be started")
	}
	u, err := wait[models.User](t, res.Profile)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if u.ID != id.UID || u.FirstName != "Ada" {
		t.Fatalf("unexpected profile %+v", u)
	}
	f.gw.Wait()

	gets := f.store.Calls(docstore.OpGet)
	if len(gets) != 1 {
		t.Fatalf("expected exactly one profile fetch, got %d", len(gets))
	}
	if gets[0].Collection != UsersCollection || gets[0].ID != id.UID {
		t.Fatalf("fetch went to %s/%s", gets[0].Collection, gets[0].ID)
	}
	if _, ok := f.gw.Identity(); !ok {
		t.Fatal("expected authenticated identity after login")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t, Options{})
	f.account(t, "a@b.com", "pw1234")

	res, err := wait[LoginResult](t, f.gw.Login(context.Background(), "a@b.com", "wrong"))
	if err == nil {
		t.Fatal("expected login failure")
	}
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials reason, got %v", err)
	}
	if res.Profile != nil {
		t.Fatal("failed login must not start a profile fetch")
	}
	f.gw.Wait()
	if gets := f.store.Calls(docstore.OpGet); len(gets) != 0 {
		t.Fatalf("expected no profile fetch, got %d", len(gets))
	}
}

func TestLogin_ProfileFetchSurvivesCallerCancel(t *testing.T) {
	f := newFixture(t, Options{})
	f.account(t, "a@b.com", "pw1234")
	ctx, cancel := context.WithCancel(context.Background())

	res, err := wait[LoginResult](t, f.gw.Login(ctx, "a@b.com", "pw1234"))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	cancel()
	if _, err := wait[models.User](t, res.Profile); err != nil {
		t.Fatalf("profile fetch should not be cancelled with the caller: %v", err)
	}
}

func TestFetchUserProfile_Defaults(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_ = f.store.Set(ctx, UsersCollection, "sparse", docstore.Document{"firstName": "Only", "phone": nil})

	u, err := wait[models.User](t, f.gw.FetchUserProfile(ctx, "sparse"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := models.User{ID: "sparse", FirstName: "Only"}
	if u != want {
		t.Fatalf("expected %+v, got %+v", want, u)
	}
	f.gw.Wait()
	urls := f.images.URLs()
	if len(urls) != 1 || urls[0] != "https://photos.example.com/profile_photos/sparse.jpg" {
		t.Fatalf("expected one photo prefetch, got %v", urls)
	}
}

func TestFetchUserProfile_NotFound(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := wait[models.User](t, f.gw.FetchUserProfile(context.Background(), "ghost"))
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if urls := f.images.URLs(); len(urls) != 0 {
		t.Fatalf("no prefetch expected for a missing profile, got %v", urls)
	}
}

func TestFetchUserProfile_TransportFailure(t *testing.T) {
	f := newFixture(t, Options{})
	boom := errors.New("unavailable")
	f.store.FailOn(docstore.OpGet, boom)
	_, err := wait[models.User](t, f.gw.FetchUserProfile(context.Background(), "u1"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestFetchCurrentUserProfile_NotAuthenticated(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := wait[models.User](t, f.gw.FetchCurrentUserProfile(context.Background()))
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if calls := f.store.Calls(); len(calls) != 0 {
		t.Fatalf("no store call expected, got %+v", calls)
	}
}

func TestPushThenFetch_RoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	in := models.User{
		ID:           "u-round",
		FirstName:    "Grace",
		LastName:     "Hopper",
		IsDriver:     true,
		Email:        "grace@example.com",
		Phone:        "780-555-0199",
		UpRatings:    41,
		TotalRatings: 42,
	}
	if _, err := wait[struct{}](t, f.gw.PushUserProfile(ctx, in)); err != nil {
		t.Fatalf("push: %v", err)
	}
	out, err := wait[models.User](t, f.gw.FetchUserProfile(ctx, in.ID))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch\nwant %+v\ngot  %+v", in, out)
	}
	f.gw.Wait()
	if kinds := f.events.Kinds(); len(kinds) != 1 || kinds[0] != events.KindProfileUpdated {
		t.Fatalf("expected one profile_updated event, got %v", kinds)
	}
}

func TestPushUserProfile_Failures(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := wait[struct{}](t, f.gw.PushUserProfile(ctx, models.User{})); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	boom := errors.New("permission denied")
	f.store.FailOn(docstore.OpSet, boom)
	if _, err := wait[struct{}](t, f.gw.PushUserProfile(ctx, models.User{ID: "u1"})); !errors.Is(err, boom) {
		t.Fatalf("expected store failure returned to caller, got %v", err)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t, Options{})
	f.events.err = errors.New("broker down")
	if _, err := wait[struct{}](t, f.gw.PushUserProfile(context.Background(), models.User{ID: "u1"})); err != nil {
		t.Fatalf("expected success despite publish failure, got %v", err)
	}
}

func TestDeleteCurrentUser(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newFixture(t, Options{})
		id := f.account(t, "a@b.com", "pw1234")
		if _, err := f.auth.SignIn(ctx, "a@b.com", "pw1234"); err != nil {
			t.Fatalf("sign in: %v", err)
		}
		if _, err := wait[struct{}](t, f.gw.DeleteCurrentUser(ctx)); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, ok := f.store.Peek(UsersCollection, id.UID); ok {
			t.Fatal("profile still present")
		}
		if f.dir.Has(id.UID) {
			t.Fatal("identity still present")
		}
		f.gw.Wait()
		if kinds := f.events.Kinds(); len(kinds) != 1 || kinds[0] != events.KindUserDeleted {
			t.Fatalf("expected user.deleted event, got %v", kinds)
		}
	})

	t.Run("profile delete fails", func(t *testing.T) {
		f := newFixture(t, Options{})
		id := f.account(t, "a@b.com", "pw1234")
		if _, err := f.auth.SignIn(ctx, "a@b.com", "pw1234"); err != nil {
			t.Fatalf("sign in: %v", err)
		}
		f.store.FailOn(docstore.OpDelete, errors.New("permission denied"))

		_, err := wait[struct{}](t, f.gw.DeleteCurrentUser(ctx))
		var de *DeleteError
		if !errors.As(err, &de) || de.Stage != StageProfile {
			t.Fatalf("expected profile-stage DeleteError, got %v", err)
		}
		if !f.dir.Has(id.UID) {
			t.Fatal("identity must not be deleted when the profile delete fails")
		}
		if _, ok := f.gw.Identity(); !ok {
			t.Fatal("identity should still be signed in")
		}
		if n := len(f.store.Calls(docstore.OpDelete)); n != 1 {
			t.Fatalf("expected one delete attempt, got %d", n)
		}
	})

	t.Run("identity delete fails", func(t *testing.T) {
		f := newFixture(t, Options{})
		id := f.account(t, "a@b.com", "pw1234")
		if _, err := f.auth.SignIn(ctx, "a@b.com", "pw1234"); err != nil {
			t.Fatalf("sign in: %v", err)
		}
		f.dir.FailDeletes(errors.New("requires recent login"))

		_, err := wait[struct{}](t, f.gw.DeleteCurrentUser(ctx))
		var de *DeleteError
		if !errors.As(err, &de) || de.Stage != StageIdentity {
			t.Fatalf("expected identity-stage DeleteError, got %v", err)
		}
		if _, ok := f.store.Peek(UsersCollection, id.UID); ok {
			t.Fatal("profile should already be gone")
		}
		if !f.dir.Has(id.UID) {
			t.Fatal("identity should remain after its delete failed")
		}
		f.gw.Wait()
		if kinds := f.events.Kinds(); len(kinds) != 0 {
			t.Fatalf("no event expected on failure, got %v", kinds)
		}
	})

	t.Run("not authenticated", func(t *testing.T) {
		f := newFixture(t, Options{})
		if _, err := wait[struct{}](t, f.gw.DeleteCurrentUser(ctx)); !errors.Is(err, ErrNotAuthenticated) {
			t.Fatalf("expected ErrNotAuthenticated, got %v", err)
		}
	})
}

func sampleRequest() models.Request {
	return models.Request{
		RequestID:         "req-1",
		RiderUserName:     "rider1",
		Start:             models.Coord{Lat: 53.5232, Lon: -113.5263},
		End:               models.Coord{Lat: 53.5461, Lon: -113.4938},
		StartLocationName: "University",
		EndLocationName:   "Downtown",
		PaymentAmount:     "12.50",
		Status:            models.StatusPending,
	}
}

func TestCreateRequest(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	docID, err := wait[string](t, f.gw.CreateRequest(ctx, sampleRequest()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	doc, ok := f.store.Peek(RequestsCollection, docID)
	if !ok {
		t.Fatal("request document not stored")
	}
	if len(doc) != 11 {
		t.Fatalf("expected 11 fields, got %d: %v", len(doc), doc)
	}
	for k, v := range doc {
		if _, isString := v.(string); !isString {
			t.Errorf("field %s stored as %T, want string", k, v)
		}
	}
	if doc[fieldStartLatitude] != "53.5232" || doc[fieldEndLongitude] != "-113.4938" {
		t.Fatalf("unexpected coordinates %v", doc)
	}
	if doc[fieldDriverUserName] != "" {
		t.Fatalf("unmatched request should have empty driver, got %v", doc[fieldDriverUserName])
	}
	f.gw.Wait()
	if kinds := f.events.Kinds(); len(kinds) != 1 || kinds[0] != events.KindRequestCreated {
		t.Fatalf("expected request.created event, got %v", kinds)
	}
}

func TestCreateRequest_StoreFailure(t *testing.T) {
	f := newFixture(t, Options{})
	boom := errors.New("unavailable")
	f.store.FailOn(docstore.OpAdd, boom)
	if _, err := wait[string](t, f.gw.CreateRequest(context.Background(), sampleRequest())); !errors.Is(err, boom) {
		t.Fatalf("expected store failure returned, got %v", err)
	}
}

func TestCreateRequest_FareHold(t *testing.T) {
	ctx := context.Background()

	t.Run("hold recorded on document", func(t *testing.T) {
		fares := &fakeFares{}
		f := newFixture(t, Options{Fares: fares})
		docID, err := wait[string](t, f.gw.CreateRequest(ctx, sampleRequest()))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		doc, _ := f.store.Peek(RequestsCollection, docID)
		if doc[fieldPaymentIntentID] != "pi_test" {
			t.Fatalf("expected payment intent on document, got %v", doc)
		}
		if len(fares.held) != 1 || fares.held[0] != 1250 {
			t.Fatalf("expected a 1250 hold, got %v", fares.held)
		}
		if want := sampleRequest().RiderUserName; len(fares.riders) != 1 || fares.riders[0] != want {
			t.Fatalf("expected hold tagged with rider %q, got %v", want, fares.riders)
		}
	})

	t.Run("hold released when add fails", func(t *testing.T) {
		fares := &fakeFares{}
		f := newFixture(t, Options{Fares: fares})
		f.store.FailOn(docstore.OpAdd, errors.New("unavailable"))
		if _, err := wait[string](t, f.gw.CreateRequest(ctx, sampleRequest())); err == nil {
			t.Fatal("expected failure")
		}
		if len(fares.cancelled) != 1 || fares.cancelled[0] != "pi_test" {
			t.Fatalf("expected hold to be cancelled, got %v", fares.cancelled)
		}
	})

	t.Run("invalid amount", func(t *testing.T) {
		fares := &fakeFares{}
		f := newFixture(t, Options{Fares: fares})
		r := sampleRequest()
		r.PaymentAmount = "free"
		if _, err := wait[string](t, f.gw.CreateRequest(ctx, r)); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest, got %v", err)
		}
		if len(f.store.Calls(docstore.OpAdd)) != 0 {
			t.Fatal("no document should be added")
		}
	})
}

func TestRegister(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	u, err := wait[models.User](t, f.gw.Register(ctx, "new@example.com", "pw1234", models.User{FirstName: "New", IsDriver: true}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.ID == "" || u.Email != "new@example.com" {
		t.Fatalf("unexpected user %+v", u)
	}
	doc, ok := f.store.Peek(UsersCollection, u.ID)
	if !ok || doc[fieldIsDriver] != true {
		t.Fatalf("profile not stored: %v", doc)
	}
	id, ok := f.gw.Identity()
	if !ok || id.UID != u.ID {
		t.Fatal("registered identity should be signed in")
	}

	if _, err := wait[models.User](t, f.gw.Register(ctx, "new@example.com", "pw1234", models.User{})); !errors.Is(err, auth.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestOpTimeout(t *testing.T) {
	f := newFixture(t, Options{OpTimeout: time.Nanosecond})
	f.gw.store = slowStore{f.store}
	_, err := wait[models.User](t, f.gw.FetchUserProfile(context.Background(), "u1"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type slowStore struct{ *docstore.MemoryStore }

func (s slowStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
