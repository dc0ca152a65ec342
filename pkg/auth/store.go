// Package auth holds the persisted credential pair and the token refresh
// coordinator.
//
// Credentials live in origin-durable storage under fixed keys so that every
// client of the origin sees the same session:
//
//   - access_token
//   - refresh_token
//   - user_info (JSON User snapshot)
//
// They are written on login, the access token is replaced on refresh, and
// all three are removed on logout, on refresh failure, and on a 401 with no
// usable refresh token.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Sternrassler/taskflow-client/pkg/storage"
)

// Persisted keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUserInfo     = "user_info"
)

// Credentials is the bearer credential pair.
type Credentials struct {
	Access  string
	Refresh string
}

// Store reads and writes credentials in a storage backend.
type Store struct {
	st storage.Storage
}

// NewStore creates a credential Store.
func NewStore(st storage.Storage) *Store {
	if st == nil {
		panic("credential storage cannot be nil")
	}
	return &Store{st: st}
}

// Credentials returns the stored pair. Missing keys yield empty strings.
func (s *Store) Credentials(ctx context.Context) (Credentials, error) {
	access, _, err := s.st.Get(ctx, KeyAccessToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("reading access token: %w", err)
	}
	refresh, _, err := s.st.Get(ctx, KeyRefreshToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("reading refresh token: %w", err)
	}
	return Credentials{Access: access, Refresh: refresh}, nil
}

// AccessToken returns the stored access token, or "" when absent or unreadable.
func (s *Store) AccessToken(ctx context.Context) string {
	v, _, err := s.st.Get(ctx, KeyAccessToken)
	if err != nil {
		return ""
	}
	return v
}

// Save stores the pair and, when u is non-nil, the user snapshot.
func (s *Store) Save(ctx context.Context, c Credentials, u *User) error {
	if c.Access == "" {
		return errors.New("access token is required")
	}
	if err := s.st.Set(ctx, KeyAccessToken, c.Access); err != nil {
		return fmt.Errorf("saving access token: %w", err)
	}
	if c.Refresh != "" {
		if err := s.st.Set(ctx, KeyRefreshToken, c.Refresh); err != nil {
			return fmt.Errorf("saving refresh token: %w", err)
		}
	}
	if u != nil {
		return s.SaveUser(ctx, *u)
	}
	return nil
}

// SetAccess replaces the access token.
func (s *Store) SetAccess(ctx context.Context, access string) error {
	if err := s.st.Set(ctx, KeyAccessToken, access); err != nil {
		return fmt.Errorf("saving access token: %w", err)
	}
	return nil
}

// User returns the stored user snapshot.
func (s *Store) User(ctx context.Context) (*User, bool) {
	raw, ok, err := s.st.Get(ctx, KeyUserInfo)
	if err != nil || !ok {
		return nil, false
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, false
	}
	return &u, true
}

// SaveUser stores the user snapshot.
func (s *Store) SaveUser(ctx context.Context, u User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}
	if err := s.st.Set(ctx, KeyUserInfo, string(raw)); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}
	return nil
}

// Authenticated reports whether both an access token and a user snapshot exist.
func (s *Store) Authenticated(ctx context.Context) bool {
	if s.AccessToken(ctx) == "" {
		return false
	}
	_, ok := s.User(ctx)
	return ok
}

// Purge deletes every persisted credential key.
func (s *Store) Purge(ctx context.Context) error {
	var errs []error
	for _, k := range []string{KeyAccessToken, KeyRefreshToken, KeyUserInfo} {
		if err := s.st.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// AccessExpiry returns the exp claim of the stored access token. The token
// signature is not verified; the server remains the authority.
func (s *Store) AccessExpiry(ctx context.Context) (time.Time, bool) {
	return TokenExpiry(s.AccessToken(ctx))
}

// TokenExpiry returns the exp claim of a JWT without verifying it.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
