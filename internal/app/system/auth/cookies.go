package auth

import (
	"net/http"
	"time"

	"github.com/dalemusser/climatrak/internal/app/system/tokens"
)

// Cookie names.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// CookieConfig scopes the session cookies.
type CookieConfig struct {
	Domain string
	Secure bool // false only for local development over http
}

func (c CookieConfig) cookie(name, value string, expires time.Time) *http.Cookie {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  expires,
		MaxAge:   maxAge,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetSessionCookies writes both session cookies for pair.
func SetSessionCookies(w http.ResponseWriter, cfg CookieConfig, pair tokens.Pair) {
	http.SetCookie(w, cfg.cookie(AccessCookie, pair.Access, pair.AccessExpiresAt))
	http.SetCookie(w, cfg.cookie(RefreshCookie, pair.Refresh, pair.RefreshExpiresAt))
}

// ClearSessionCookies expires both session cookies.
func ClearSessionCookies(w http.ResponseWriter, cfg CookieConfig) {
	past := time.Unix(0, 0)
	http.SetCookie(w, cfg.cookie(AccessCookie, "", past))
	http.SetCookie(w, cfg.cookie(RefreshCookie, "", past))
}
