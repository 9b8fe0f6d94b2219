// Package authpw provides email/password sign-in and the bootstrap admin account.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"taskflow/api/internal/rbac"
	"taskflow/api/internal/store"
	"taskflow/api/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMissingCredentials = errors.New("email and password are required")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

const minPasswordLength = 8

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignIn returns the user whose email and password match.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return store.User{}, ErrMissingCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

type AdminAccount struct {
	Email       string
	Password    string
	DisplayName string
}

// EnsureAdmin creates account as an admin unless an admin already exists.
// It reports whether a user was created.
func (s *Service) EnsureAdmin(ctx context.Context, account AdminAccount) (bool, error) {
	if strings.TrimSpace(account.Email) == "" || account.Password == "" {
		return false, nil
	}

	admins, err := s.store.ListUsersByRole(ctx, string(rbac.RoleAdmin))
	if err != nil {
		return false, fmt.Errorf("list admins: %w", err)
	}
	if len(admins) > 0 {
		return false, nil
	}

	hash, err := s.HashPassword(account.Password)
	if err != nil {
		return false, err
	}
	name := strings.TrimSpace(account.DisplayName)
	if name == "" {
		name = "Administrator"
	}
	user := store.User{
		ID:           util.NewID("user"),
		DisplayName:  name,
		Email:        strings.TrimSpace(account.Email),
		PasswordHash: hash,
		Role:         string(rbac.RoleAdmin),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}
