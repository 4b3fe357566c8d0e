package core

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterValidation(t *testing.T) {
	db := newTestStore(t)
	svc := NewUserService(db, nil)
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", "longenough"},
		{"empty password", "a@b.com", ""},
		{"short password", "a@b.com", "short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.email, tc.password, ""); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	db := newTestStore(t)
	svc := NewUserService(db, nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@b.com", "password123", "Alice"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(ctx, "A@B.com", "password123", ""); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists for same email (case-insensitive), got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	db := newTestStore(t)
	svc := NewUserService(db, nil)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "a@b.com", "password123", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	user, err := svc.Authenticate(ctx, "a@b.com", "password123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.ID != registered.ID {
		t.Errorf("expected the registered user back, got %s", user.ID)
	}

	// Wrong password and unknown email must be indistinguishable.
	_, wrongPass := svc.Authenticate(ctx, "a@b.com", "nope-nope")
	_, unknown := svc.Authenticate(ctx, "ghost@b.com", "password123")
	if !errors.Is(wrongPass, ErrInvalidCredentials) || !errors.Is(unknown, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for both, got %v and %v", wrongPass, unknown)
	}
}

func TestResolveUpsertsOnce(t *testing.T) {
	db := newTestStore(t)
	svc := NewUserService(db, nil)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, IdentityClaims{Email: "A@Example.com", Name: "Alice"})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if first.Email != "a@example.com" {
		t.Errorf("expected normalized email, got %q", first.Email)
	}

	second, err := svc.Resolve(ctx, IdentityClaims{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the first-created id preserved, got %s and %s", first.ID, second.ID)
	}
	if second.Name == nil || *second.Name != "Alice" {
		t.Errorf("absent name claim must not erase stored name, got %v", second.Name)
	}
}

func TestResolveRequiresEmail(t *testing.T) {
	db := newTestStore(t)
	svc := NewUserService(db, nil)

	if _, err := svc.Resolve(context.Background(), IdentityClaims{Name: "No Email"}); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolveAllowedEmails(t *testing.T) {
	db := newTestStore(t)
	svc := NewUserService(db, []string{"Allowed@Example.com"})
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, IdentityClaims{Email: "allowed@example.com"}); err != nil {
		t.Errorf("expected listed email to resolve, got %v", err)
	}
	if _, err := svc.Resolve(ctx, IdentityClaims{Email: "other@example.com"}); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated for unlisted email, got %v", err)
	}
}
