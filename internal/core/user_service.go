package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dianita/internal/auth"
	"dianita/internal/store"
)

const minPasswordLength = 8

// IdentityClaims is what the transport layer learned from a verified session
// credential.
type IdentityClaims struct {
	Email   string
	Name    string
	Picture string
}

type UserService struct {
	dbStore       *store.SQLiteStore
	allowedEmails map[string]struct{}
}

// NewUserService builds the identity resolver. A non-empty allowedEmails list
// restricts session resolution to those addresses.
func NewUserService(db *store.SQLiteStore, allowedEmails []string) *UserService {
	var allowed map[string]struct{}
	if len(allowedEmails) > 0 {
		allowed = make(map[string]struct{}, len(allowedEmails))
		for _, e := range allowedEmails {
			e = strings.ToLower(strings.TrimSpace(e))
			if e != "" {
				allowed[e] = struct{}{}
			}
		}
	}
	return &UserService{dbStore: db, allowedEmails: allowed}
}

// Resolve turns verified identity claims into a durable user row, creating it
// on first sight. Exactly one upsert per call; the email unique index makes
// concurrent first logins converge on a single row.
func (s *UserService) Resolve(ctx context.Context, claims IdentityClaims) (*store.User, error) {
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return nil, ErrUnauthenticated
	}
	if s.allowedEmails != nil {
		if _, ok := s.allowedEmails[email]; !ok {
			return nil, ErrUnauthenticated
		}
	}

	var name, image *string
	if v := strings.TrimSpace(claims.Name); v != "" {
		name = &v
	}
	if v := strings.TrimSpace(claims.Picture); v != "" {
		image = &v
	}
	return s.dbStore.UpsertUserByEmail(ctx, email, name, image)
}

// Register creates a credential-based account. The plaintext password never
// reaches the store.
func (s *UserService) Register(ctx context.Context, email, password, name string) (*store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var namePtr *string
	if v := strings.TrimSpace(name); v != "" {
		namePtr = &v
	}

	user, err := s.dbStore.CreateUser(ctx, email, namePtr, hash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate verifies a credential pair. Unknown email and wrong password
// collapse into the same error so accounts cannot be enumerated.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.dbStore.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if user.PasswordHash == nil || !auth.CheckPasswordHash(password, *user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
