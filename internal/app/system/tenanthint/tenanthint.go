// Package tenanthint remembers the last tenant a browser signed in to, so
// the discovery page can pre-select it. The cookie is signed but readable by
// scripts and is never used for authorization.
package tenanthint

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// CookieName is the hint cookie's name.
const CookieName = "tenant_hint"

// DefaultMaxAge is how long a hint is kept.
const DefaultMaxAge = 90 * 24 * time.Hour

// Hint is the remembered tenant.
type Hint struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// Codec signs and verifies hint cookies.
type Codec struct {
	sc     *securecookie.SecureCookie
	domain string
	secure bool
	maxAge time.Duration
}

// New returns a Codec signing with hashKey (at least 32 bytes).
func New(hashKey []byte, domain string, secure bool) (*Codec, error) {
	if len(hashKey) < 32 {
		return nil, errors.New("tenant hint key must be at least 32 bytes")
	}
	sc := securecookie.New(hashKey, nil)
	sc.MaxAge(int(DefaultMaxAge.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &Codec{sc: sc, domain: domain, secure: secure, maxAge: DefaultMaxAge}, nil
}

// Set writes the hint cookie.
func (c *Codec) Set(w http.ResponseWriter, h Hint) error {
	v, err := c.sc.Encode(CookieName, h)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    v,
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   int(c.maxAge.Seconds()),
		Secure:   c.secure,
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Get reads the hint. A missing, expired or tampered cookie yields false.
func (c *Codec) Get(r *http.Request) (Hint, bool) {
	ck, err := r.Cookie(CookieName)
	if err != nil {
		return Hint{}, false
	}
	var h Hint
	if err := c.sc.Decode(CookieName, ck.Value, &h); err != nil {
		return Hint{}, false
	}
	return h, h.Schema != ""
}

// Clear expires the hint cookie.
func (c *Codec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   -1,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
