// Package auth keeps the session's bearer credential on disk and extracts
// the local user's identity from it.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoCredential is returned when no token has been saved.
	ErrNoCredential = errors.New("no credential")
	// ErrExpired is returned when the saved token is past its expiry.
	ErrExpired = errors.New("credential expired")
)

// Claims are the JWT claims issued by the backend. Subject carries the
// user id.
type Claims struct {
	Phone string `json:"phone"`
	jwt.RegisteredClaims
}

// Identity is the local user as described by the credential.
type Identity struct {
	UserID    string
	Phone     string
	Token     string
	ExpiresAt time.Time
}

// Parse decodes a token without verifying its signature (the backend does
// that) and checks its expiry against now.
func Parse(token string, now time.Time) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrNoCredential
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	id := Identity{UserID: claims.Subject, Phone: claims.Phone, Token: token}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
		if !now.Before(id.ExpiresAt) {
			return id, ErrExpired
		}
	}
	if id.UserID == "" && id.Phone == "" {
		return Identity{}, fmt.Errorf("parse token: no subject or phone claim")
	}
	return id, nil
}

// Store persists the bearer token in a single 0600 file.
type Store struct {
	path string
	now  func() time.Time

	mu sync.RWMutex
}

// NewStore returns a credential store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Save validates and writes the token, replacing any previous one.
func (s *Store) Save(token string) (Identity, error) {
	id, err := Parse(token, s.now())
	if err != nil {
		return Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return Identity{}, err
	}
	if err := os.WriteFile(s.path, []byte(id.Token+"\n"), 0600); err != nil {
		return Identity{}, fmt.Errorf("write credential: %w", err)
	}
	return id, nil
}

// Token returns the raw saved token.
func (s *Store) Token() (string, error) {
	id, err := s.Identity()
	if err != nil {
		return "", err
	}
	return id.Token, nil
}

// Identity reads and validates the saved token.
func (s *Store) Identity() (Identity, error) {
	s.mu.RLock()
	data, err := os.ReadFile(s.path)
	s.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return Identity{}, ErrNoCredential
	}
	if err != nil {
		return Identity{}, fmt.Errorf("read credential: %w", err)
	}
	return Parse(string(data), s.now())
}

// Present reports whether a valid credential is saved.
func (s *Store) Present() bool {
	_, err := s.Identity()
	return err == nil
}

// Clear removes the saved token. Clearing a missing token is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
