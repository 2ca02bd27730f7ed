package auth

import (
	"net/http"
	"strings"

	"github.com/dalemusser/climatrak/internal/app/system/tenantctx"
	"github.com/dalemusser/climatrak/internal/app/system/tokens"
)

// Strategy tries to authenticate a request. It returns (nil, nil) when it
// does not apply (no credentials of its kind are present).
type Strategy interface {
	Name() string
	TryAuthenticate(r *http.Request) (*Identity, error)
}

// Chain tries strategies in order. The first identity wins; the first error
// stops the chain.
type Chain []Strategy

// Authenticate runs the chain. It returns (nil, nil) for anonymous requests.
func (c Chain) Authenticate(r *http.Request) (*Identity, error) {
	for _, s := range c {
		id, err := s.TryAuthenticate(r)
		if err != nil {
			return nil, err
		}
		if id != nil {
			id.Source = s.Name()
			return id, nil
		}
	}
	return nil, nil
}

// CookieStrategy reads the access_token cookie.
type CookieStrategy struct {
	Auth *SessionAuthenticator
}

// Name implements Strategy.
func (CookieStrategy) Name() string { return "cookie" }

// TryAuthenticate implements Strategy.
func (s CookieStrategy) TryAuthenticate(r *http.Request) (*Identity, error) {
	c, err := r.Cookie(AccessCookie)
	if err != nil || c.Value == "" {
		return nil, nil
	}
	return s.Auth.Authenticate(r.Context(), c.Value, tokens.TypeAccess, tenantctx.SchemaOf(r))
}

// BearerStrategy reads "Authorization: Bearer <token>". It only applies when
// no access_token cookie is present.
type BearerStrategy struct {
	Auth *SessionAuthenticator
}

// Name implements Strategy.
func (BearerStrategy) Name() string { return "bearer" }

// TryAuthenticate implements Strategy.
func (s BearerStrategy) TryAuthenticate(r *http.Request) (*Identity, error) {
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return nil, nil
	}
	raw, ok := bearerToken(r)
	if !ok {
		return nil, nil
	}
	return s.Auth.Authenticate(r.Context(), raw, tokens.TypeAccess, tenantctx.SchemaOf(r))
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}

// NewChain builds the standard chain: cookie first, then bearer when
// allowHeader is set.
func NewChain(a *SessionAuthenticator, allowHeader bool) Chain {
	chain := Chain{CookieStrategy{Auth: a}}
	if allowHeader {
		chain = append(chain, BearerStrategy{Auth: a})
	}
	return chain
}
