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
	"fmt"
	"log/slog"

	migrate "github.com/rubenv/sql-migrate"
)

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001-releases",
			Up: []string{`
				CREATE TABLE releases (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tracker_name TEXT NOT NULL,
					name TEXT NOT NULL,
					tag_name TEXT NOT NULL,
					version TEXT NOT NULL,
					published_at TEXT NOT NULL,
					url TEXT NOT NULL,
					prerelease INTEGER NOT NULL DEFAULT 0,
					body TEXT NOT NULL DEFAULT '',
					channel_name TEXT NOT NULL DEFAULT '',
					commit_sha TEXT NOT NULL DEFAULT '',
					republish_count INTEGER NOT NULL DEFAULT 0,
					created_at TEXT NOT NULL,
					UNIQUE (tracker_name, tag_name)
				);`,
				`CREATE INDEX idx_releases_published ON releases (published_at);`,
				`CREATE INDEX idx_releases_tracker ON releases (tracker_name);`,
				`CREATE TABLE release_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					release_id INTEGER NOT NULL REFERENCES releases (id) ON DELETE CASCADE,
					name TEXT NOT NULL DEFAULT '',
					commit_sha TEXT NOT NULL DEFAULT '',
					published_at TEXT NOT NULL,
					body TEXT NOT NULL DEFAULT '',
					channel_name TEXT NOT NULL DEFAULT '',
					recorded_at TEXT NOT NULL
				);`,
				`CREATE INDEX idx_release_history_release ON release_history (release_id);`,
				`CREATE TABLE tracker_status (
					name TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					enabled INTEGER NOT NULL DEFAULT 1,
					last_check TEXT,
					last_version TEXT NOT NULL DEFAULT '',
					error TEXT NOT NULL DEFAULT ''
				);`,
			},
			Down: []string{
				`DROP TABLE tracker_status;`,
				`DROP TABLE release_history;`,
				`DROP TABLE releases;`,
			},
		},
		{
			Id: "0002-trackers-credentials",
			Up: []string{`
				CREATE TABLE trackers (
					name TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					enabled INTEGER NOT NULL DEFAULT 1,
					repo TEXT NOT NULL DEFAULT '',
					project TEXT NOT NULL DEFAULT '',
					instance TEXT NOT NULL DEFAULT '',
					chart TEXT NOT NULL DEFAULT '',
					credential_name TEXT NOT NULL DEFAULT '',
					channels TEXT NOT NULL DEFAULT '[]',
					interval_minutes INTEGER NOT NULL DEFAULT 60,
					description TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);`,
				`CREATE TABLE credentials (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					type TEXT NOT NULL,
					token TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);`,
			},
			Down: []string{
				`DROP TABLE credentials;`,
				`DROP TABLE trackers;`,
			},
		},
		{
			Id: "0003-notifiers-settings",
			Up: []string{`
				CREATE TABLE notifiers (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					type TEXT NOT NULL DEFAULT 'webhook',
					url TEXT NOT NULL,
					events TEXT NOT NULL DEFAULT '[]',
					enabled INTEGER NOT NULL DEFAULT 1,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);`,
				`CREATE TABLE settings (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);`,
			},
			Down: []string{
				`DROP TABLE settings;`,
				`DROP TABLE notifiers;`,
			},
		},
		{
			Id: "0004-users-sessions",
			Up: []string{`
				CREATE TABLE users (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					username TEXT NOT NULL UNIQUE,
					email TEXT NOT NULL DEFAULT '',
					password_hash TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'active',
					oidc_subject TEXT NOT NULL DEFAULT '',
					oidc_provider TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);`,
				`CREATE TABLE sessions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
					token_hash TEXT NOT NULL UNIQUE,
					refresh_token_hash TEXT NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					ip_address TEXT NOT NULL DEFAULT '',
					expires_at TEXT NOT NULL,
					created_at TEXT NOT NULL
				);`,
				`CREATE INDEX idx_sessions_expires ON sessions (expires_at);`,
			},
			Down: []string{
				`DROP TABLE sessions;`,
				`DROP TABLE users;`,
			},
		},
		{
			Id: "0005-oauth",
			Up: []string{`
				CREATE TABLE oauth_providers (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					slug TEXT NOT NULL UNIQUE,
					issuer_url TEXT NOT NULL DEFAULT '',
					discovery_enabled INTEGER NOT NULL DEFAULT 1,
					client_id TEXT NOT NULL,
					client_secret TEXT NOT NULL DEFAULT '',
					authorization_url TEXT NOT NULL DEFAULT '',
					token_url TEXT NOT NULL DEFAULT '',
					userinfo_url TEXT NOT NULL DEFAULT '',
					jwks_uri TEXT NOT NULL DEFAULT '',
					scopes TEXT NOT NULL DEFAULT 'openid email profile',
					enabled INTEGER NOT NULL DEFAULT 1,
					icon_url TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);`,
				`CREATE TABLE oauth_states (
					state TEXT PRIMARY KEY,
					provider_slug TEXT NOT NULL,
					code_verifier TEXT NOT NULL,
					expires_at TEXT NOT NULL
				);`,
			},
			Down: []string{
				`DROP TABLE oauth_states;`,
				`DROP TABLE oauth_providers;`,
			},
		},
	},
}

func (s *Store) migrate() error {
	n, err := migrate.Exec(s.db.DB, "sqlite3", migrations, migrate.Up)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	if n > 0 {
		slog.Info("applied migrations", "count", n)
	}
	return nil
}
