package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/dalemusser/climatrak/internal/app/system/auth"
	"github.com/dalemusser/climatrak/internal/app/system/tenantctx"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TestUser represents an authenticated caller for handler tests.
type TestUser struct {
	ID     primitive.ObjectID
	Email  string
	Schema string
}

// MemberUser returns a TestUser living in schema's partition.
func MemberUser(schema string) TestUser {
	return TestUser{
		ID:     primitive.NewObjectID(),
		Email:  "member@test.com",
		Schema: schema,
	}
}

// WithUser adds an identity to the request context for testing
// authenticated handlers. This bypasses the token middleware.
func WithUser(r *http.Request, user TestUser) *http.Request {
	return auth.WithIdentity(r, &auth.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Schema: user.Schema,
		Source: "test",
	})
}

// WithTenant binds tenant's partition to the request.
func WithTenant(r *http.Request, tenant models.Tenant) *http.Request {
	return tenantctx.WithInfo(r, &tenantctx.Info{
		Schema:   tenant.SchemaName,
		TenantID: tenant.ID,
		Name:     tenant.Name,
		Slug:     tenant.Slug,
	})
}

// WithPublic binds the shared partition to the request.
func WithPublic(r *http.Request) *http.Request {
	return tenantctx.WithInfo(r, &tenantctx.Info{Schema: models.PublicSchema})
}

// NewRequest creates an HTTP request for testing.
func NewRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}

// NewJSONRequest creates a request with v encoded as its JSON body.
func NewJSONRequest(method, target string, v any) *http.Request {
	var buf bytes.Buffer
	if s, ok := v.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(v); err != nil {
		panic(err)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// ResponseRecorder wraps httptest.ResponseRecorder with helper methods.
type ResponseRecorder struct {
	*httptest.ResponseRecorder
}

// NewRecorder creates a new ResponseRecorder.
func NewRecorder() *ResponseRecorder {
	return &ResponseRecorder{httptest.NewRecorder()}
}

type tester interface {
	Errorf(string, ...any)
	Fatalf(string, ...any)
	Helper()
}

// AssertStatus checks the response status code.
func (r *ResponseRecorder) AssertStatus(t tester, expected int) {
	t.Helper()
	if r.Code != expected {
		t.Errorf("status code: got %d, want %d (body %s)", r.Code, expected, r.Body.String())
	}
}

// AssertErrorCode checks the machine-readable code of a JSON error body.
func (r *ResponseRecorder) AssertErrorCode(t tester, expected string) {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", r.Body.String(), err)
	}
	if body.Error.Code != expected {
		t.Errorf("error code: got %q, want %q", body.Error.Code, expected)
	}
}

// AssertContains checks if the response body contains the expected string.
func (r *ResponseRecorder) AssertContains(t tester, expected string) {
	t.Helper()
	if !strings.Contains(r.Body.String(), expected) {
		t.Errorf("response body does not contain %q", expected)
	}
}

// DecodeJSON decodes the response body into v.
func (r *ResponseRecorder) DecodeJSON(t tester, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", r.Body.String(), err)
	}
}

// Cookie returns the named cookie set on the response, if any.
func (r *ResponseRecorder) Cookie(name string) *http.Cookie {
	for _, c := range r.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
