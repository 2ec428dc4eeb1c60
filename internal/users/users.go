// Package users manages local accounts. Passwords are stored as bcrypt
// hashes; the plaintext never reaches the store.
package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bliqhq/bliq/internal/storage"
	"github.com/bliqhq/bliq/internal/types"
)

// MinPasswordLength is the shortest password Create accepts.
const MinPasswordLength = 8

var (
	// ErrUserExists is returned when the email is already registered.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// password. The two cases are not distinguished.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUserNotFound is returned by Resolve.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidInput wraps every validation failure in Create.
	ErrInvalidInput = errors.New("invalid user")
)

// Service creates and authenticates users.
type Service struct {
	store storage.Store
	now   func() time.Time
	cost  int
}

// New returns a Service backed by store.
func New(store storage.Store) *Service {
	return &Service{store: store, now: time.Now, cost: bcrypt.DefaultCost}
}

// WithCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// Create registers a user. The email is lower-cased and must be unique.
func (s *Service) Create(ctx context.Context, email, name, password string) (*types.User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, fmt.Errorf("%w: invalid email %q", ErrInvalidInput, email)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &types.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.PutUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	return u, nil
}

// Authenticate returns the user when password matches.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*types.User, error) {
	u, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Resolve finds a user by email or id.
func (s *Service) Resolve(ctx context.Context, emailOrID string) (*types.User, error) {
	key := strings.TrimSpace(emailOrID)
	if key == "" {
		return nil, fmt.Errorf("%w: no user given", ErrUserNotFound)
	}

	var (
		u   *types.User
		err error
	)
	if strings.Contains(key, "@") {
		u, err = s.store.GetUserByEmail(ctx, normalizeEmail(key))
	} else {
		u, err = s.store.GetUser(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, key)
	}
	return u, nil
}

// List returns every user.
func (s *Service) List(ctx context.Context) ([]*types.User, error) {
	return s.store.ListUsers(ctx)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
