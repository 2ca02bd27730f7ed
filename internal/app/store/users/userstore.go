package userstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/climatrak/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store manages users in one partition.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

var (
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate is returned when the email or username is already taken in this partition.
	ErrDuplicate    = errors.New("a user with this email or username already exists")
	errEmailNeeded  = errors.New("email is required")
	errPasswordHash = errors.New("password hash is required")
)

func (s *Store) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, filter).Decode(&u); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetByID loads a user by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByEmail looks up a user by case-insensitive email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email_ci": text.Fold(strings.TrimSpace(email))})
}

// FindByLogin resolves what a user typed at login: email first, then username.
func (s *Store) FindByLogin(ctx context.Context, identifier string) (*models.User, error) {
	ci := text.Fold(strings.TrimSpace(identifier))
	if ci == "" {
		return nil, ErrNotFound
	}
	u, err := s.findOne(ctx, bson.M{"email_ci": ci})
	if err == nil || !errors.Is(err, ErrNotFound) {
		return u, err
	}
	return s.findOne(ctx, bson.M{"username_ci": ci})
}

// GetByIDs loads the users with the given ids, keyed by id.
func (s *Store) GetByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error) {
	out := make(map[primitive.ObjectID]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var u models.User
		if err := cur.Decode(&u); err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, cur.Err()
}

// Create inserts a new user after normalizing fields. PasswordHash must
// already be set. Username defaults to the email's local part.
func (s *Store) Create(ctx context.Context, u models.User) (models.User, error) {
	u.Email = strings.TrimSpace(u.Email)
	if u.Email == "" {
		return models.User{}, errEmailNeeded
	}
	if u.PasswordHash == "" {
		return models.User{}, errPasswordHash
	}
	if u.Username == "" {
		u.Username = strings.SplitN(u.Email, "@", 2)[0]
	}
	u.ID = primitive.NewObjectID()
	u.EmailCI = text.Fold(u.Email)
	u.UsernameCI = text.Fold(u.Username)

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, ErrDuplicate
		}
		return models.User{}, err
	}
	return u, nil
}

// RecordLogin stores the time and client address of a successful login.
func (s *Store) RecordLogin(ctx context.Context, id primitive.ObjectID, ip string, at time.Time) error {
	_, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"last_login_at": at.UTC(),
		"last_login_ip": ip,
	}})
	return err
}

// SetActive enables or disables a user.
func (s *Store) SetActive(ctx context.Context, id primitive.ObjectID, active bool) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"is_active":  active,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
