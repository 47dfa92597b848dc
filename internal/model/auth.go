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

package model

import "time"

// User is an account that can sign in to the admin API, either with a
// password or through an OIDC provider.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	// OIDCSubject and OIDCProvider link the account to an external identity
	// when the user signed up through SSO.
	OIDCSubject  string    `json:"-"`
	OIDCProvider string    `json:"oidc_provider,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserStatusActive is the only status allowed to authenticate.
const UserStatusActive = "active"

// Session records an issued token pair. Tokens are stored as SHA-256 hashes
// so a database leak does not leak bearer tokens.
type Session struct {
	ID               int64
	UserID           int64
	TokenHash        string
	RefreshTokenHash string
	UserAgent        string
	IPAddress        string
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

// TokenPair is the access/refresh pair returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// OIDCProvider is a configured SSO identity provider. ClientSecret is
// encrypted at rest and never serialized in API responses.
type OIDCProvider struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	IssuerURL        string `json:"issuer_url,omitempty"`
	DiscoveryEnabled bool   `json:"discovery_enabled"`
	ClientID         string `json:"client_id"`
	ClientSecret     string `json:"-"`

	// Endpoints are filled by discovery or configured by hand.
	AuthorizationURL string `json:"authorization_url,omitempty"`
	TokenURL         string `json:"token_url,omitempty"`
	UserinfoURL      string `json:"userinfo_url,omitempty"`
	JWKSURI          string `json:"jwks_uri,omitempty"`

	Scopes      string    `json:"scopes"`
	Enabled     bool      `json:"enabled"`
	IconURL     string    `json:"icon_url,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OAuthState is the short-lived CSRF token minted when a login flow starts,
// carrying the PKCE verifier until the callback consumes it.
type OAuthState struct {
	State        string
	ProviderSlug string
	CodeVerifier string
	ExpiresAt    time.Time
}

// OIDCUserInfo is the identity returned by a provider's userinfo endpoint.
type OIDCUserInfo struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
	ProviderSlug      string `json:"-"`
}

// DailyStat is one day of the publish-activity breakdown, bucketed in the
// configured timezone.
type DailyStat struct {
	Date     string         `json:"date"`
	Channels map[string]int `json:"channels"`
}

// Stats is the dashboard summary.
type Stats struct {
	TotalTrackers  int            `json:"total_trackers"`
	TotalReleases  int            `json:"total_releases"`
	RecentReleases int            `json:"recent_releases"`
	LatestUpdate   *time.Time     `json:"latest_update,omitempty"`
	Daily          []DailyStat    `json:"daily_stats"`
	ChannelTotals  map[string]int `json:"channel_stats"`
	TypeTotals     map[string]int `json:"release_type_stats"`
}
