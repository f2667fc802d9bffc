// Package authpw provides username/password authentication for admins.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"confessional/api/internal/rbac"
	"confessional/api/internal/store"
	"confessional/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidRole        = errors.New("role must be admin or moderator")
)

// AdminStore defines the storage interface for admin accounts
type AdminStore interface {
	GetAdminByUsername(ctx context.Context, username string) (store.Admin, error)
	CreateAdmin(ctx context.Context, admin store.Admin) (store.Admin, error)
	TouchAdminLogin(ctx context.Context, id string, at time.Time) error
}

type Service struct {
	store AdminStore
	now   func() time.Time
}

func NewService(store AdminStore) *Service {
	return &Service{store: store, now: time.Now}
}

// SignIn checks the password against the stored bcrypt hash. Unknown users
// and wrong passwords produce the same error.
func (s *Service) SignIn(ctx context.Context, username, password string) (store.Admin, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.Admin{}, ErrInvalidCredentials
	}

	admin, err := s.store.GetAdminByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Admin{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.Admin{}, fmt.Errorf("lookup admin: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return store.Admin{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.store.TouchAdminLogin(ctx, admin.ID, now); err != nil {
		return store.Admin{}, err
	}
	admin.LastLoginAt = &now
	return admin, nil
}

// CreateAdmin registers a new account with a hashed password.
func (s *Service) CreateAdmin(ctx context.Context, username, password, role string) (store.Admin, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return store.Admin{}, errors.New("username is required")
	}
	if len(password) < 8 {
		return store.Admin{}, ErrWeakPassword
	}
	if role == "" {
		role = string(rbac.RoleModerator)
	}
	if !rbac.Valid(role) {
		return store.Admin{}, ErrInvalidRole
	}

	if _, err := s.store.GetAdminByUsername(ctx, username); err == nil {
		return store.Admin{}, ErrUsernameTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Admin{}, fmt.Errorf("lookup admin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.Admin{}, fmt.Errorf("hash password: %w", err)
	}

	return s.store.CreateAdmin(ctx, store.Admin{
		ID:           util.NewID("adm"),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
	})
}
