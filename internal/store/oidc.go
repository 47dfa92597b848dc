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

type oidcProviderRow struct {
	ID               int64  `db:"id"`
	Name             string `db:"name"`
	Slug             string `db:"slug"`
	IssuerURL        string `db:"issuer_url"`
	DiscoveryEnabled bool   `db:"discovery_enabled"`
	ClientID         string `db:"client_id"`
	ClientSecret     string `db:"client_secret"`
	AuthorizationURL string `db:"authorization_url"`
	TokenURL         string `db:"token_url"`
	UserinfoURL      string `db:"userinfo_url"`
	JWKSURI          string `db:"jwks_uri"`
	Scopes           string `db:"scopes"`
	Enabled          bool   `db:"enabled"`
	IconURL          string `db:"icon_url"`
	Description      string `db:"description"`
	CreatedAt        string `db:"created_at"`
	UpdatedAt        string `db:"updated_at"`
}

func (s *Store) providerFromRow(r oidcProviderRow) *model.OIDCProvider {
	return &model.OIDCProvider{
		ID:               r.ID,
		Name:             r.Name,
		Slug:             r.Slug,
		IssuerURL:        r.IssuerURL,
		DiscoveryEnabled: r.DiscoveryEnabled,
		ClientID:         r.ClientID,
		ClientSecret:     s.vault.Decrypt(r.ClientSecret),
		AuthorizationURL: r.AuthorizationURL,
		TokenURL:         r.TokenURL,
		UserinfoURL:      r.UserinfoURL,
		JWKSURI:          r.JWKSURI,
		Scopes:           r.Scopes,
		Enabled:          r.Enabled,
		IconURL:          r.IconURL,
		Description:      r.Description,
		CreatedAt:        parseTime(r.CreatedAt),
		UpdatedAt:        parseTime(r.UpdatedAt),
	}
}

// CreateOIDCProvider stores a provider with the client secret sealed at rest
// and returns its id.
func (s *Store) CreateOIDCProvider(p *model.OIDCProvider) (int64, error) {
	sealed, err := s.sealSecret(p.ClientSecret)
	if err != nil {
		return 0, fmt.Errorf("sealing client secret for %s: %w", p.Slug, err)
	}
	now := formatTime(s.now())
	res, err := s.db.Exec(`INSERT INTO oauth_providers
		(name, slug, issuer_url, discovery_enabled, client_id, client_secret,
		 authorization_url, token_url, userinfo_url, jwks_uri, scopes, enabled,
		 icon_url, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Slug, p.IssuerURL, p.DiscoveryEnabled, p.ClientID, sealed,
		p.AuthorizationURL, p.TokenURL, p.UserinfoURL, p.JWKSURI, p.Scopes, p.Enabled,
		p.IconURL, p.Description, now, now)
	if err != nil {
		return 0, fmt.Errorf("creating provider %s: %w", p.Slug, err)
	}
	return res.LastInsertId()
}

func (s *Store) sealSecret(secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	return s.vault.Encrypt(secret)
}

// GetOIDCProvider returns one provider by slug or ErrNotFound.
func (s *Store) GetOIDCProvider(slug string) (*model.OIDCProvider, error) {
	var row oidcProviderRow
	err := s.db.Get(&row, `SELECT * FROM oauth_providers WHERE slug = ?`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("provider %q: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading provider %s: %w", slug, err)
	}
	return s.providerFromRow(row), nil
}

// ListOIDCProviders returns all providers, optionally only enabled ones.
func (s *Store) ListOIDCProviders(enabledOnly bool) ([]*model.OIDCProvider, error) {
	query := `SELECT * FROM oauth_providers ORDER BY name`
	if enabledOnly {
		query = `SELECT * FROM oauth_providers WHERE enabled = 1 ORDER BY name`
	}
	var rows []oidcProviderRow
	if err := s.db.Select(&rows, query); err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	providers := make([]*model.OIDCProvider, len(rows))
	for i, row := range rows {
		providers[i] = s.providerFromRow(row)
	}
	return providers, nil
}

// UpdateOIDCProvider rewrites a provider by slug. An empty client secret
// keeps the stored one.
func (s *Store) UpdateOIDCProvider(slug string, p *model.OIDCProvider) error {
	secret := p.ClientSecret
	if secret == "" {
		existing, err := s.GetOIDCProvider(slug)
		if err != nil {
			return err
		}
		secret = existing.ClientSecret
	}
	sealed, err := s.sealSecret(secret)
	if err != nil {
		return fmt.Errorf("sealing client secret for %s: %w", slug, err)
	}
	res, err := s.db.Exec(`UPDATE oauth_providers SET
		name = ?, issuer_url = ?, discovery_enabled = ?, client_id = ?, client_secret = ?,
		authorization_url = ?, token_url = ?, userinfo_url = ?, jwks_uri = ?, scopes = ?,
		enabled = ?, icon_url = ?, description = ?, updated_at = ?
		WHERE slug = ?`,
		p.Name, p.IssuerURL, p.DiscoveryEnabled, p.ClientID, sealed,
		p.AuthorizationURL, p.TokenURL, p.UserinfoURL, p.JWKSURI, p.Scopes,
		p.Enabled, p.IconURL, p.Description, formatTime(s.now()), slug)
	if err != nil {
		return fmt.Errorf("updating provider %s: %w", slug, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("provider %q: %w", slug, ErrNotFound)
	}
	return nil
}

// DeleteOIDCProvider removes a provider by slug.
func (s *Store) DeleteOIDCProvider(slug string) error {
	res, err := s.db.Exec(`DELETE FROM oauth_providers WHERE slug = ?`, slug)
	if err != nil {
		return fmt.Errorf("deleting provider %s: %w", slug, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("provider %q: %w", slug, ErrNotFound)
	}
	return nil
}

// CreateOAuthState stores the CSRF state and PKCE verifier for a login flow.
func (s *Store) CreateOAuthState(state *model.OAuthState) error {
	_, err := s.db.Exec(`INSERT INTO oauth_states (state, provider_slug, code_verifier, expires_at)
		VALUES (?, ?, ?, ?)`,
		state.State, state.ProviderSlug, state.CodeVerifier, formatTime(state.ExpiresAt))
	if err != nil {
		return fmt.Errorf("creating oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState atomically fetches and deletes a state row. An expired
// or unknown state returns ErrNotFound, which callers treat as a rejected
// callback.
func (s *Store) ConsumeOAuthState(state string) (*model.OAuthState, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var row struct {
		State        string `db:"state"`
		ProviderSlug string `db:"provider_slug"`
		CodeVerifier string `db:"code_verifier"`
		ExpiresAt    string `db:"expires_at"`
	}
	err = tx.Get(&row, `SELECT * FROM oauth_states WHERE state = ?`, state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading oauth state: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM oauth_states WHERE state = ?`, state); err != nil {
		return nil, fmt.Errorf("consuming oauth state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	expiresAt := parseTime(row.ExpiresAt)
	if expiresAt.Before(s.now()) {
		return nil, ErrNotFound
	}
	return &model.OAuthState{
		State:        row.State,
		ProviderSlug: row.ProviderSlug,
		CodeVerifier: row.CodeVerifier,
		ExpiresAt:    expiresAt,
	}, nil
}

// PurgeExpiredOAuthStates drops stale login-flow state rows.
func (s *Store) PurgeExpiredOAuthStates() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM oauth_states WHERE expires_at < ?`, formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("purging oauth states: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
