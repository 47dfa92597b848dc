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

// Package store persists trackers, releases, credentials, notifiers and
// accounts in a single SQLite database. All timestamps are stored as RFC 3339
// UTC text so rows stay portable across drivers and timezones.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/westarle/releasetracker/internal/secrets"
)

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("not found")

// Store wraps the database handle and the vault used to seal credential
// tokens and OIDC client secrets before they hit disk.
type Store struct {
	db    *sqlx.DB
	vault *secrets.Vault

	// now is replaced in tests for deterministic timestamps.
	now func() time.Time
}

// Open opens or creates the database at path, applies pending migrations and
// returns a ready Store. The parent directory is created when missing.
func Open(path string, vault *secrets.Vault) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY under
	// concurrent poll jobs.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, vault: vault, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database ready", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeFormat is the canonical column representation.
const timeFormat = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// Tolerate rows written with sub-second precision.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

func nullableTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return parseTime(s.String)
}
