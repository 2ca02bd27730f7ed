// Package tokens mints and parses the signed session tokens carried in the
// access_token and refresh_token cookies.
//
// Tokens are HS256 JWTs. Every token minted for a tenant login carries the
// tenant_schema claim binding it to that tenant's partition; tokens without
// the claim are legacy tokens and only valid against the shared partition.
package tokens

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// MinSecretLen is the shortest signing secret accepted.
const MinSecretLen = 32

// ErrInvalidToken covers every validation failure: bad signature, wrong
// algorithm or issuer, expiry, malformed claims or wrong token type.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the session token claims.
type Claims struct {
	TenantSchema string `json:"tenant_schema,omitempty"`
	TokenType    string `json:"token_type"`
	jwt.RegisteredClaims
}

// HasTenant reports whether the token is bound to a tenant partition.
func (c *Claims) HasTenant() bool {
	return c.TenantSchema != ""
}

// Config configures an Issuer.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issuer mints and parses tokens with one secret.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < MinSecretLen {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLen)
	}
	if cfg.Issuer == "" {
		return nil, errors.New("token issuer is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token ttls must be greater than zero")
	}
	return &Issuer{
		secret:     append([]byte(nil), cfg.Secret...),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// SetClock overrides the clock used for minting and validation.
func (i *Issuer) SetClock(now func() time.Time) { i.now = now }

// AccessTTL returns the lifetime of access tokens.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the lifetime of refresh tokens.
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Pair is a freshly minted access and refresh token.
type Pair struct {
	Access           string
	Refresh          string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Mint issues an access/refresh pair for userID bound to schema.
func (i *Issuer) Mint(userID, schema string) (Pair, error) {
	if strings.TrimSpace(schema) == "" {
		return Pair{}, errors.New("schema is required")
	}
	return i.mintPair(userID, schema)
}

// MintLegacy issues a pair without the tenant_schema claim. It exists for
// platform users of the shared partition and for migration tooling.
func (i *Issuer) MintLegacy(userID string) (Pair, error) {
	return i.mintPair(userID, "")
}

func (i *Issuer) mintPair(userID, schema string) (Pair, error) {
	now := i.now().UTC().Truncate(time.Second)
	access, accessExp, err := i.sign(userID, schema, TypeAccess, now, i.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := i.sign(userID, schema, TypeRefresh, now, i.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) sign(userID, schema, typ string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("userID is required")
	}
	exp := now.Add(ttl)
	claims := Claims{
		TenantSchema: schema,
		TokenType:    typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies raw and returns its claims. wantType must match the
// token_type claim.
func (i *Issuer) Parse(raw, wantType string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
