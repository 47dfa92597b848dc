// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth issues and validates the HS256 token pairs guarding the
// API. An access token is only honored while its server-side session row
// exists, so logout revokes immediately despite stateless-looking JWTs.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/westarle/releasetracker/internal/model"
	"github.com/westarle/releasetracker/internal/store"
)

const (
	accessTokenTTL  = 30 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	// DefaultAdminUsername is created with password "admin" on first boot
	// when no user exists.
	DefaultAdminUsername = "admin"
	defaultAdminPassword = "admin"

	cleanupInterval = time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Service owns password checks, token issuance and session bookkeeping.
type Service struct {
	store  *store.Store
	secret []byte

	now func() time.Time
}

// NewService returns a Service signing tokens with secret.
func NewService(st *store.Store, secret string) *Service {
	return &Service{store: st, secret: []byte(secret), now: time.Now}
}

// EnsureAdminUser creates the default admin account when it is missing, so
// a fresh install is reachable before any user management exists.
func (s *Service) EnsureAdminUser() error {
	_, err := s.store.GetUserByUsername(DefaultAdminUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(defaultAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing default password: %w", err)
	}
	if _, err := s.store.CreateUser(&model.User{
		Username:     DefaultAdminUsername,
		PasswordHash: string(hash),
		Status:       model.UserStatusActive,
	}); err != nil {
		return fmt.Errorf("creating default admin: %w", err)
	}
	slog.Warn("created default admin user, change its password", "username", DefaultAdminUsername)
	return nil
}

// Register creates an active user with a bcrypt password hash.
func (s *Service) Register(username, password, email string) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	return s.store.CreateUser(&model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Status:       model.UserStatusActive,
	})
}

// Login verifies the password and issues a token pair with a backing
// session row.
func (s *Service) Login(username, password, userAgent, ipAddress string) (*model.TokenPair, error) {
	user, err := s.store.GetUserByUsername(username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.Status != model.UserStatusActive {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.IssuePair(user, userAgent, ipAddress)
}

// IssuePair mints an access/refresh pair for an already-authenticated user
// and records the session. Also used by the SSO callback.
func (s *Service) IssuePair(user *model.User, userAgent, ipAddress string) (*model.TokenPair, error) {
	access, err := s.signToken(user.Username, tokenTypeAccess, accessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.signToken(user.Username, tokenTypeRefresh, refreshTokenTTL)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateSession(&model.Session{
		UserID:           user.ID,
		TokenHash:        hashToken(access),
		RefreshTokenHash: hashToken(refresh),
		UserAgent:        userAgent,
		IPAddress:        ipAddress,
		ExpiresAt:        s.now().Add(refreshTokenTTL),
	}); err != nil {
		return nil, err
	}
	return &model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(accessTokenTTL.Seconds()),
	}, nil
}

// Authenticate validates an access token and returns its user. The token
// must parse, be of access type, and still have a live session row.
func (s *Service) Authenticate(token string) (*model.User, error) {
	c, err := s.parseToken(token, tokenTypeAccess)
	if err != nil {
		return nil, err
	}
	session, err := s.store.GetSession(hashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if s.now().After(session.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	user, err := s.store.GetUserByUsername(c.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if user.Status != model.UserStatusActive {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// Refresh rotates a token pair: the old session is replaced, so a refresh
// token is single use.
func (s *Service) Refresh(refreshToken, userAgent, ipAddress string) (*model.TokenPair, error) {
	c, err := s.parseToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	session, err := s.store.GetSessionByRefreshToken(hashToken(refreshToken))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if s.now().After(session.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	user, err := s.store.GetUserByUsername(c.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if err := s.store.DeleteSessionByID(session.ID); err != nil {
		return nil, err
	}
	return s.IssuePair(user, userAgent, ipAddress)
}

// Logout drops the session behind an access token. Unknown tokens are a
// no-op so logout is idempotent.
func (s *Service) Logout(token string) error {
	return s.store.DeleteSession(hashToken(token))
}

// ChangePassword verifies the current password and stores a new hash.
func (s *Service) ChangePassword(user *model.User, current, updated string) error {
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(updated), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return s.store.UpdateUserPassword(user.ID, string(hash))
}

// RunSessionCleanup deletes expired sessions every hour until ctx ends.
func (s *Service) RunSessionCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.DeleteExpiredSessions()
			if err != nil {
				slog.Error("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired sessions removed", "count", n)
			}
		}
	}
}

func (s *Service) signToken(username, tokenType string, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (s *Service) parseToken(token, wantType string) (*claims, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if c.Type != wantType {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
