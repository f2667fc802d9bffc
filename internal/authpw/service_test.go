package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"confessional/api/internal/store"
)

type mockAdminStore struct {
	admins  map[string]store.Admin
	touched map[string]time.Time
}

func newMockAdminStore() *mockAdminStore {
	return &mockAdminStore{
		admins:  make(map[string]store.Admin),
		touched: make(map[string]time.Time),
	}
}

func (m *mockAdminStore) GetAdminByUsername(ctx context.Context, username string) (store.Admin, error) {
	if admin, ok := m.admins[username]; ok {
		return admin, nil
	}
	return store.Admin{}, sql.ErrNoRows
}

func (m *mockAdminStore) CreateAdmin(ctx context.Context, admin store.Admin) (store.Admin, error) {
	admin.CreatedAt = time.Now()
	m.admins[admin.Username] = admin
	return admin, nil
}

func (m *mockAdminStore) TouchAdminLogin(ctx context.Context, id string, at time.Time) error {
	m.touched[id] = at
	return nil
}

func TestCreateAdminAndSignIn(t *testing.T) {
	ctx := context.Background()
	adminStore := newMockAdminStore()
	svc := NewService(adminStore)

	created, err := svc.CreateAdmin(ctx, "  linh  ", "correct-horse", "")
	if err != nil {
		t.Fatalf("CreateAdmin() error = %v", err)
	}
	if created.Username != "linh" || created.Role != "moderator" {
		t.Fatalf("unexpected admin: %+v", created)
	}
	if created.PasswordHash == "correct-horse" {
		t.Fatal("password stored in plain text")
	}

	signedIn, err := svc.SignIn(ctx, "linh", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if signedIn.LastLoginAt == nil {
		t.Fatal("expected last login to be set")
	}
	if _, ok := adminStore.touched[created.ID]; !ok {
		t.Fatal("expected TouchAdminLogin to be called")
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockAdminStore())
	if _, err := svc.CreateAdmin(ctx, "linh", "correct-horse", "admin"); err != nil {
		t.Fatalf("CreateAdmin() error = %v", err)
	}

	cases := []struct {
		name     string
		username string
		password string
	}{
		{name: "wrong password", username: "linh", password: "battery-staple"},
		{name: "unknown user", username: "minh", password: "correct-horse"},
		{name: "empty", username: "", password: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SignIn(ctx, tc.username, tc.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("SignIn() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestCreateAdminValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockAdminStore())

	if _, err := svc.CreateAdmin(ctx, "linh", "short", "admin"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("CreateAdmin() short password error = %v", err)
	}
	if _, err := svc.CreateAdmin(ctx, "linh", "long-enough", "owner"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("CreateAdmin() bad role error = %v", err)
	}
	if _, err := svc.CreateAdmin(ctx, "linh", "long-enough", "admin"); err != nil {
		t.Fatalf("CreateAdmin() error = %v", err)
	}
	if _, err := svc.CreateAdmin(ctx, "linh", "long-enough", "admin"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("CreateAdmin() duplicate error = %v", err)
	}
}
