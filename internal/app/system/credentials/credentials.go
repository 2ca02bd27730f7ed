// Package credentials verifies identifier/password pairs inside one tenant
// partition.
//
// Unknown identifiers still pay for a full bcrypt comparison against a dummy
// hash of the same cost, so response time does not reveal whether an
// account exists.
package credentials

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dalemusser/climatrak/internal/app/store/partitions"
	userstore "github.com/dalemusser/climatrak/internal/app/store/users"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for unknown users, wrong passwords and
// inactive users alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Users finds the account a login identifier refers to within a partition.
// It returns userstore.ErrNotFound when there is none.
type Users interface {
	FindByLogin(ctx context.Context, schema, identifier string) (*models.User, error)
}

// PartitionUsers looks users up in the partition's users collection.
type PartitionUsers struct {
	Parts *partitions.Provider
}

// FindByLogin implements Users.
func (p PartitionUsers) FindByLogin(ctx context.Context, schema, identifier string) (*models.User, error) {
	db, err := p.Parts.For(schema)
	if err != nil {
		return nil, err
	}
	return userstore.New(db).FindByLogin(ctx, identifier)
}

// Authenticator checks credentials. Safe for concurrent use.
type Authenticator struct {
	users     Users
	cost      int
	dummyHash []byte
	compare   func(hash, password []byte) error
}

// New returns an Authenticator hashing with cost (bcrypt.DefaultCost when 0).
func New(users Users, cost int) (*Authenticator, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	pw := make([]byte, 18)
	if _, err := rand.Read(pw); err != nil {
		return nil, err
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(pw)), cost)
	if err != nil {
		return nil, err
	}
	return &Authenticator{
		users:     users,
		cost:      cost,
		dummyHash: dummy,
		compare:   bcrypt.CompareHashAndPassword,
	}, nil
}

// HashPassword hashes password with the authenticator's cost.
func (a *Authenticator) HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Authenticate verifies identifier (email or username) and password inside
// schema's partition. It returns the user only when the password matches
// and the account is active. Lookup failures other than "not found" are
// returned as-is so callers can tell an outage from a bad password.
func (a *Authenticator) Authenticate(ctx context.Context, schema, identifier, password string) (*models.User, error) {
	u, err := a.users.FindByLogin(ctx, schema, identifier)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			_ = a.compare(a.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := a.compare([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}
