package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	userstore "github.com/dalemusser/climatrak/internal/app/store/users"
	"github.com/dalemusser/climatrak/internal/app/system/apierr"
	"github.com/dalemusser/climatrak/internal/app/system/tokens"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserLoader loads a user from a partition. It returns userstore.ErrNotFound
// when the user does not exist.
type UserLoader interface {
	LoadUser(ctx context.Context, schema string, id primitive.ObjectID) (*models.User, error)
}

// PartitionUsers loads users from partition databases.
type PartitionUsers struct {
	Parts *partitions.Provider
}

// LoadUser implements UserLoader.
func (p PartitionUsers) LoadUser(ctx context.Context, schema string, id primitive.ObjectID) (*models.User, error) {
	db, err := p.Parts.For(schema)
	if err != nil {
		return nil, err
	}
	return userstore.New(db).GetByID(ctx, id)
}

// SessionAuthenticator validates session tokens against the request
// partition.
type SessionAuthenticator struct {
	issuer       *tokens.Issuer
	users        UserLoader
	acceptLegacy bool
}

// NewSessionAuthenticator returns a SessionAuthenticator. acceptLegacy keeps
// claimless tokens usable on the shared partition.
func NewSessionAuthenticator(issuer *tokens.Issuer, users UserLoader, acceptLegacy bool) *SessionAuthenticator {
	return &SessionAuthenticator{issuer: issuer, users: users, acceptLegacy: acceptLegacy}
}

// Authenticate validates raw as a token of tokenType for a request bound to
// requestSchema:
//
//  1. signature, issuer, expiry and type must be valid (invalid_token)
//  2. a tenant claim must equal requestSchema unless the request is on the
//     shared partition (tenant_mismatch)
//  3. a token without a claim is only valid on the shared partition
//     (tenant_missing)
//  4. the subject must exist in the claim's partition (user_not_found) and
//     be active (user_inactive)
func (a *SessionAuthenticator) Authenticate(ctx context.Context, raw, tokenType, requestSchema string) (*Identity, error) {
	claims, err := a.issuer.Parse(raw, tokenType)
	if err != nil {
		return nil, apierr.ErrInvalidToken
	}

	schema, err := a.userSchema(claims, requestSchema)
	if err != nil {
		return nil, err
	}

	uid, err := primitive.ObjectIDFromHex(claims.Subject)
	if err != nil {
		return nil, apierr.ErrInvalidToken
	}

	u, err := a.users.LoadUser(ctx, schema, uid)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) || errors.Is(err, partitions.ErrInvalidSchema) {
			return nil, apierr.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return nil, apierr.ErrUserInactive
	}
	return newIdentity(u, schema, claims), nil
}

// userSchema applies the partition cross-check and returns the partition the
// user record must be loaded from.
func (a *SessionAuthenticator) userSchema(claims *tokens.Claims, requestSchema string) (string, error) {
	public := requestSchema == "" || requestSchema == models.PublicSchema
	if claims.HasTenant() {
		if !public && claims.TenantSchema != requestSchema {
			return "", apierr.ErrTenantMismatch
		}
		return claims.TenantSchema, nil
	}
	if !public || !a.acceptLegacy {
		return "", apierr.ErrTenantMissing
	}
	return models.PublicSchema, nil
}
