package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	userstore "github.com/dalemusser/climatrak/internal/app/store/users"
	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/app/system/auth"
	"github.com/dalemusser/climatrak/internal/app/system/tenantctx"
	"github.com/dalemusser/climatrak/internal/app/system/tokens"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeUsers keys users by schema and id.
type fakeUsers map[string]map[primitive.ObjectID]*models.User

func (f fakeUsers) LoadUser(_ context.Context, schema string, id primitive.ObjectID) (*models.User, error) {
	if u, ok := f[schema][id]; ok {
		return u, nil
	}
	return nil, userstore.ErrNotFound
}

func (f fakeUsers) add(schema string, u *models.User) {
	if f[schema] == nil {
		f[schema] = map[primitive.ObjectID]*models.User{}
	}
	f[schema][u.ID] = u
}

type fixture struct {
	issuer  *tokens.Issuer
	users   fakeUsers
	acmeU   *models.User
	publicU *models.User
	idle    *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	iss, err := tokens.NewIssuer(tokens.Config{
		Secret:     []byte("test-signing-secret-that-is-long-enough"),
		Issuer:     "climatrak-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	f := &fixture{
		issuer:  iss,
		users:   fakeUsers{},
		acmeU:   &models.User{ID: primitive.NewObjectID(), Email: "u1@x.com", IsActive: true},
		publicU: &models.User{ID: primitive.NewObjectID(), Email: "ops@x.com", IsActive: true},
		idle:    &models.User{ID: primitive.NewObjectID(), Email: "idle@x.com", IsActive: false},
	}
	f.users.add("acme", f.acmeU)
	f.users.add("acme", f.idle)
	f.users.add(models.PublicSchema, f.publicU)
	return f
}

func (f *fixture) mint(t *testing.T, u *models.User, schema string) tokens.Pair {
	t.Helper()
	var (
		p   tokens.Pair
		err error
	)
	if schema == "" {
		p, err = f.issuer.MintLegacy(u.ID.Hex())
	} else {
		p, err = f.issuer.Mint(u.ID.Hex(), schema)
	}
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return p
}

func TestSessionAuthenticator_PartitionRules(t *testing.T) {
	f := newFixture(t)
	a := auth.NewSessionAuthenticator(f.issuer, f.users, true)

	tests := []struct {
		name          string
		user          *models.User
		claim         string
		requestSchema string
		wantErr       error
		wantSchema    string
	}{
		{"claim matches partition", f.acmeU, "acme", "acme", nil, "acme"},
		{"claim on other tenant partition", f.acmeU, "acme", "beta", apierr.ErrTenantMismatch, ""},
		{"claim on public partition", f.acmeU, "acme", models.PublicSchema, nil, "acme"},
		{"legacy token on public partition", f.publicU, "", models.PublicSchema, nil, models.PublicSchema},
		{"legacy token on tenant partition", f.publicU, "", "acme", apierr.ErrTenantMissing, ""},
		{"inactive user", f.idle, "acme", "acme", apierr.ErrUserInactive, ""},
		{"user missing from claimed partition", f.publicU, "acme", "acme", apierr.ErrUserNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := f.mint(t, tt.user, tt.claim)
			id, err := a.Authenticate(context.Background(), pair.Access, tokens.TypeAccess, tt.requestSchema)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.UserID != tt.user.ID || id.Schema != tt.wantSchema {
				t.Errorf("identity: got %+v", id)
			}
		})
	}
}

func TestSessionAuthenticator_LegacyDisabled(t *testing.T) {
	f := newFixture(t)
	a := auth.NewSessionAuthenticator(f.issuer, f.users, false)

	pair := f.mint(t, f.publicU, "")
	_, err := a.Authenticate(context.Background(), pair.Access, tokens.TypeAccess, models.PublicSchema)
	if !errors.Is(err, apierr.ErrTenantMissing) {
		t.Errorf("got %v, want tenant_missing", err)
	}
}

func TestSessionAuthenticator_RejectsRefreshAsAccess(t *testing.T) {
	f := newFixture(t)
	a := auth.NewSessionAuthenticator(f.issuer, f.users, true)

	pair := f.mint(t, f.acmeU, "acme")
	_, err := a.Authenticate(context.Background(), pair.Refresh, tokens.TypeAccess, "acme")
	if !errors.Is(err, apierr.ErrInvalidToken) {
		t.Errorf("got %v, want invalid_token", err)
	}
	if _, err := a.Authenticate(context.Background(), "garbage", tokens.TypeAccess, "acme"); !errors.Is(err, apierr.ErrInvalidToken) {
		t.Errorf("garbage token: got %v", err)
	}
}

func okHandler(got **auth.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, _ = auth.CurrentIdentity(r)
		w.WriteHeader(http.StatusOK)
	})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code
}

func TestMiddleware_CookieBeforeHeader(t *testing.T) {
	f := newFixture(t)
	a := auth.NewSessionAuthenticator(f.issuer, f.users, true)
	mw := auth.Middleware(auth.NewChain(a, true), nil)

	cookiePair := f.mint(t, f.acmeU, "acme")
	headerPair := f.mint(t, f.idle, "acme")

	var got *auth.Identity
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req = tenantctx.WithTestPartition(req, "acme", primitive.NewObjectID())
	req.AddCookie(&http.Cookie{Name: auth.AccessCookie, Value: cookiePair.Access})
	req.Header.Set("Authorization", "Bearer "+headerPair.Access)
	rec := httptest.NewRecorder()
	mw(okHandler(&got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", rec.Code, rec.Body.String())
	}
	if got == nil || got.UserID != f.acmeU.ID || got.Source != "cookie" {
		t.Errorf("expected cookie identity, got %+v", got)
	}
}

func TestMiddleware_BearerFallback(t *testing.T) {
	f := newFixture(t)
	a := auth.NewSessionAuthenticator(f.issuer, f.users, true)
	pair := f.mint(t, f.acmeU, "acme")

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req = tenantctx.WithTestPartition(req, "acme", primitive.NewObjectID())
		req.Header.Set("Authorization", "Bearer "+pair.Access)
		return req
	}

	var got *auth.Identity
	rec := httptest.NewRecorder()
	auth.Middleware(auth.NewChain(a, true), nil)(okHandler(&got)).ServeHTTP(rec, newReq())
	if got == nil || got.Source != "bearer" {
		t.Errorf("header enabled: expected bearer identity, got %+v", got)
	}

	got = nil
	rec = httptest.NewRecorder()
	auth.Middleware(auth.NewChain(a, false), nil)(okHandler(&got)).ServeHTTP(rec, newReq())
	if rec.Code != http.StatusOK || got != nil {
		t.Errorf("header disabled: expected anonymous pass-through, got %d %+v", rec.Code, got)
	}
}

func TestMiddleware_RejectsMismatchedToken(t *testing.T) {
	f := newFixture(t)
	a := auth.NewSessionAuthenticator(f.issuer, f.users, true)
	pair := f.mint(t, f.acmeU, "acme")

	var failed error
	mw := auth.Middleware(auth.NewChain(a, false), func(_ *http.Request, err error) { failed = err })

	var got *auth.Identity
	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req = tenantctx.WithTestPartition(req, "beta", primitive.NewObjectID())
	req.AddCookie(&http.Cookie{Name: auth.AccessCookie, Value: pair.Access})
	rec := httptest.NewRecorder()
	mw(okHandler(&got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "tenant_mismatch" {
		t.Errorf("code: got %q", code)
	}
	if !errors.Is(failed, apierr.ErrTenantMismatch) {
		t.Errorf("failure hook: got %v", failed)
	}
}

func TestMiddleware_ExemptPathContinuesAnonymously(t *testing.T) {
	f := newFixture(t)
	a := auth.NewSessionAuthenticator(f.issuer, f.users, true)

	var got *auth.Identity
	called := false
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req = tenantctx.WithInfo(req, &tenantctx.Info{Schema: "acme", Exempt: true})
	req.AddCookie(&http.Cookie{Name: auth.AccessCookie, Value: "stale"})
	rec := httptest.NewRecorder()
	auth.Middleware(auth.NewChain(a, false), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		got, _ = auth.CurrentIdentity(r)
	})).ServeHTTP(rec, req)

	if !called || got != nil {
		t.Errorf("expected anonymous pass-through, called=%v identity=%+v", called, got)
	}
}

func TestRequireSignedIn(t *testing.T) {
	h := auth.RequireSignedIn(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "not_authenticated" {
		t.Errorf("anonymous: got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req := auth.WithIdentity(httptest.NewRequest(http.MethodGet, "/", nil), &auth.Identity{UserID: primitive.NewObjectID()})
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("signed in: got %d", rec.Code)
	}
}

func TestSessionCookies(t *testing.T) {
	f := newFixture(t)
	pair := f.mint(t, f.acmeU, "acme")

	rec := httptest.NewRecorder()
	auth.SetSessionCookies(rec, auth.CookieConfig{Domain: "climatrak.test", Secure: true}, pair)

	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || c.Path != "/" || !c.Secure {
			t.Errorf("cookie %s attributes: %+v", c.Name, c)
		}
	}
	if cookies[0].Name != auth.AccessCookie || cookies[0].Value != pair.Access {
		t.Errorf("access cookie: %+v", cookies[0])
	}
	if cookies[1].Name != auth.RefreshCookie || cookies[1].Value != pair.Refresh {
		t.Errorf("refresh cookie: %+v", cookies[1])
	}

	rec = httptest.NewRecorder()
	auth.ClearSessionCookies(rec, auth.CookieConfig{})
	for _, c := range rec.Result().Cookies() {
		if c.Value != "" || c.MaxAge >= 0 {
			t.Errorf("cookie %s not cleared: %+v", c.Name, c)
		}
	}
}
