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

package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/westarle/releasetracker/internal/model"
)

type userRow struct {
	ID           int64  `db:"id"`
	Username     string `db:"username"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	Status       string `db:"status"`
	OIDCSubject  string `db:"oidc_subject"`
	OIDCProvider string `db:"oidc_provider"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func (r userRow) toUser() *model.User {
	return &model.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Status:       r.Status,
		OIDCSubject:  r.OIDCSubject,
		OIDCProvider: r.OIDCProvider,
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
}

// CreateUser inserts a user and returns it with its id.
func (s *Store) CreateUser(u *model.User) (*model.User, error) {
	now := formatTime(s.now())
	res, err := s.db.Exec(`INSERT INTO users
		(username, email, password_hash, status, oidc_subject, oidc_provider, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.Status, u.OIDCSubject, u.OIDCProvider, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", u.Username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(id)
}

func (s *Store) getUser(query string, args ...any) (*model.User, error) {
	var row userRow
	err := s.db.Get(&row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return row.toUser(), nil
}

// GetUserByID returns one user or ErrNotFound.
func (s *Store) GetUserByID(id int64) (*model.User, error) {
	return s.getUser(`SELECT * FROM users WHERE id = ?`, id)
}

// GetUserByUsername returns one user or ErrNotFound.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	return s.getUser(`SELECT * FROM users WHERE username = ?`, username)
}

// GetUserByOIDCSubject returns the user linked to an external identity.
func (s *Store) GetUserByOIDCSubject(providerSlug, subject string) (*model.User, error) {
	return s.getUser(`SELECT * FROM users WHERE oidc_provider = ? AND oidc_subject = ?`, providerSlug, subject)
}

// UpdateUserPassword replaces a user's password hash.
func (s *Store) UpdateUserPassword(id int64, passwordHash string) error {
	res, err := s.db.Exec(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("updating password for user %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

type sessionRow struct {
	ID               int64  `db:"id"`
	UserID           int64  `db:"user_id"`
	TokenHash        string `db:"token_hash"`
	RefreshTokenHash string `db:"refresh_token_hash"`
	UserAgent        string `db:"user_agent"`
	IPAddress        string `db:"ip_address"`
	ExpiresAt        string `db:"expires_at"`
	CreatedAt        string `db:"created_at"`
}

// CreateSession records an issued token pair.
func (s *Store) CreateSession(session *model.Session) error {
	_, err := s.db.Exec(`INSERT INTO sessions
		(user_id, token_hash, refresh_token_hash, user_agent, ip_address, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.UserID, session.TokenHash, session.RefreshTokenHash,
		session.UserAgent, session.IPAddress, formatTime(session.ExpiresAt), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession looks a session up by access token hash.
func (s *Store) GetSession(tokenHash string) (*model.Session, error) {
	var row sessionRow
	err := s.db.Get(&row, `SELECT * FROM sessions WHERE token_hash = ?`, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return &model.Session{
		ID:               row.ID,
		UserID:           row.UserID,
		TokenHash:        row.TokenHash,
		RefreshTokenHash: row.RefreshTokenHash,
		UserAgent:        row.UserAgent,
		IPAddress:        row.IPAddress,
		ExpiresAt:        parseTime(row.ExpiresAt),
		CreatedAt:        parseTime(row.CreatedAt),
	}, nil
}

// GetSessionByRefreshToken looks a session up by refresh token hash.
func (s *Store) GetSessionByRefreshToken(refreshHash string) (*model.Session, error) {
	var row sessionRow
	err := s.db.Get(&row, `SELECT * FROM sessions WHERE refresh_token_hash = ?`, refreshHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return &model.Session{
		ID:               row.ID,
		UserID:           row.UserID,
		TokenHash:        row.TokenHash,
		RefreshTokenHash: row.RefreshTokenHash,
		UserAgent:        row.UserAgent,
		IPAddress:        row.IPAddress,
		ExpiresAt:        parseTime(row.ExpiresAt),
		CreatedAt:        parseTime(row.CreatedAt),
	}, nil
}

// DeleteSessionByID removes a session by row id.
func (s *Store) DeleteSessionByID(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session %d: %w", id, err)
	}
	return nil
}

// DeleteSession removes a session by access token hash.
func (s *Store) DeleteSession(tokenHash string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry and returns how
// many were dropped.
func (s *Store) DeleteExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Setting is one key/value row of the settings table.
type Setting struct {
	Key       string `json:"key" db:"key"`
	Value     string `json:"value" db:"value"`
	UpdatedAt string `json:"updated_at" db:"updated_at"`
}

// SetSetting inserts or replaces one setting.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	return nil
}

// GetSetting returns one setting value or ErrNotFound.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.Get(&value, `SELECT value FROM settings WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("loading setting %s: %w", key, err)
	}
	return value, nil
}

// ListSettings returns every setting in key order.
func (s *Store) ListSettings() ([]Setting, error) {
	var settings []Setting
	if err := s.db.Select(&settings, `SELECT * FROM settings ORDER BY key`); err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	return settings, nil
}

// DeleteSetting removes a setting if present.
func (s *Store) DeleteSetting(key string) error {
	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
	}
	return nil
}
