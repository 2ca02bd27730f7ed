// internal/app/system/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per key. A bucket allows limit requests
// per window, refilling evenly. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	every   rate.Limit
	idle    time.Duration
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter allowing limit requests per window for each key.
// Idle buckets are dropped after 2x window.
func New(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	l := &Limiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		every:   rate.Every(window / time.Duration(limit)),
		idle:    window * 2,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// SetClock overrides the clock used for bucket accounting.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

func (l *Limiter) get(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.every, l.limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// Allow reports whether a request for key may proceed.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Take(key)
	return ok
}

// Take consumes a token for key. When none is available it returns false and
// how long until the next token.
func (l *Limiter) Take(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.get(key, now)
	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, l.window
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Reset clears the bucket for key.
// Useful after successful authentication to reward good behavior.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Stop ends the background cleanup.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stopCh) })
}

// cleanupLoop periodically removes idle buckets to prevent memory leaks.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, b := range l.buckets {
				if now.Sub(b.lastSeen) > l.idle {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Proxies is the set of reverse proxy networks whose forwarding headers are
// believed. A nil *Proxies trusts nobody.
type Proxies struct {
	nets []netip.Prefix
}

// ParseProxies parses CIDRs or bare addresses. An empty list yields nil.
func ParseProxies(list []string) (*Proxies, error) {
	var p Proxies
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			a, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
			}
			p.nets = append(p.nets, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
			continue
		}
		pfx, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
		}
		p.nets = append(p.nets, pfx.Masked())
	}
	if len(p.nets) == 0 {
		return nil, nil
	}
	return &p, nil
}

func (p *Proxies) trusts(a netip.Addr) bool {
	if p == nil {
		return false
	}
	a = a.Unmap()
	for _, n := range p.nets {
		if n.Contains(a) {
			return true
		}
	}
	return false
}

func peerIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return ip
}

// clientIP returns the peer address unless the peer is a trusted proxy. In
// that case X-Forwarded-For is walked right to left and the first hop that
// is not a trusted proxy wins; X-Real-IP is the fallback.
func (p *Proxies) clientIP(r *http.Request) string {
	peer := peerIP(r)
	addr, err := netip.ParseAddr(peer)
	if err != nil || !p.trusts(addr) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		last := addr
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			if !p.trusts(hop) {
				return hop.Unmap().String()
			}
			last = hop
		}
		return last.Unmap().String()
	}
	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.Unmap().String()
	}
	return peer
}

type ctxKey struct{}

// RealIP resolves the client address once per request and stores it for
// ClientIP. Forwarding headers are ignored unless the peer is in proxies.
func RealIP(proxies *Proxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ctxKey{}, proxies.clientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the address resolved by RealIP, or the peer address when
// RealIP did not run. Client-supplied headers are never read here.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ctxKey{}).(string); ok && ip != "" {
		return ip
	}
	return peerIP(r)
}

func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Middleware throttles requests per client IP. Throttled requests get a 429
// rate_limited response; onLimited, when set, is called first.
func Middleware(l *Limiter, onLimited func(r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.Take(ClientIP(r))
			if !ok {
				if onLimited != nil {
					onLimited(r)
				}
				apierr.Write(w, apierr.RateLimited(retrySeconds(wait)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoginLimiter throttles login attempts by client IP and by identifier so
// that neither a single address nor a distributed attack on one account can
// guess passwords quickly.
type LoginLimiter struct {
	ipLimiter    *Limiter
	loginLimiter *Limiter
}

// NewLoginLimiter creates a login limiter allowing ipLimit attempts per
// ipWindow per IP and loginLimit attempts per loginWindow per identifier.
func NewLoginLimiter(ipLimit int, ipWindow time.Duration, loginLimit int, loginWindow time.Duration) *LoginLimiter {
	return &LoginLimiter{
		ipLimiter:    New(ipLimit, ipWindow),
		loginLimiter: New(loginLimit, loginWindow),
	}
}

func loginKey(schema, identifier string) string {
	return schema + "|" + strings.ToLower(strings.TrimSpace(identifier))
}

// Check consumes one attempt for the request's IP and for identifier within
// schema. It returns a rate_limited error when either limit is exhausted.
// A nil LoginLimiter allows everything.
func (ll *LoginLimiter) Check(r *http.Request, schema, identifier string) error {
	if ll == nil {
		return nil
	}
	if ok, wait := ll.ipLimiter.Take(ClientIP(r)); !ok {
		return apierr.RateLimited(retrySeconds(wait))
	}
	if identifier != "" {
		if ok, wait := ll.loginLimiter.Take(loginKey(schema, identifier)); !ok {
			return apierr.RateLimited(retrySeconds(wait))
		}
	}
	return nil
}

// ResetLogin clears the identifier limit after a successful login.
func (ll *LoginLimiter) ResetLogin(schema, identifier string) {
	if ll != nil && identifier != "" {
		ll.loginLimiter.Reset(loginKey(schema, identifier))
	}
}

// Stop ends background cleanup for both limiters.
func (ll *LoginLimiter) Stop() {
	ll.ipLimiter.Stop()
	ll.loginLimiter.Stop()
}
