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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/westarle/releasetracker/internal/model"
)

func TestOIDCProviderSecretSealed(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	id, err := s.CreateOIDCProvider(&model.OIDCProvider{
		Name:             "Corp SSO",
		Slug:             "corp",
		IssuerURL:        "https://sso.example.com",
		DiscoveryEnabled: true,
		ClientID:         "client-abc",
		ClientSecret:     "very-secret-value",
		Scopes:           "openid email profile",
		Enabled:          true,
	})
	if err != nil {
		t.Fatalf("CreateOIDCProvider() error = %v", err)
	}

	var raw string
	if err := s.db.Get(&raw, `SELECT client_secret FROM oauth_providers WHERE id = ?`, id); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(raw, "enc:v1:") {
		t.Errorf("stored client secret %q is not sealed", raw)
	}

	got, err := s.GetOIDCProvider("corp")
	if err != nil {
		t.Fatal(err)
	}
	if got.ClientSecret != "very-secret-value" {
		t.Errorf("GetOIDCProvider() secret = %q, want decrypted round trip", got.ClientSecret)
	}

	// Updating with an empty secret keeps the stored one.
	got.ClientSecret = ""
	got.Description = "updated"
	if err := s.UpdateOIDCProvider("corp", got); err != nil {
		t.Fatalf("UpdateOIDCProvider() error = %v", err)
	}
	again, err := s.GetOIDCProvider("corp")
	if err != nil {
		t.Fatal(err)
	}
	if again.ClientSecret != "very-secret-value" || again.Description != "updated" {
		t.Errorf("update lost data: %+v", again)
	}
}

func TestListOIDCProvidersEnabledOnly(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	for _, p := range []*model.OIDCProvider{
		{Name: "A", Slug: "a", ClientID: "x", Enabled: true},
		{Name: "B", Slug: "b", ClientID: "y", Enabled: false},
	} {
		if _, err := s.CreateOIDCProvider(p); err != nil {
			t.Fatal(err)
		}
	}
	all, err := s.ListOIDCProviders(false)
	if err != nil || len(all) != 2 {
		t.Errorf("ListOIDCProviders(false) = %d, %v, want 2", len(all), err)
	}
	enabled, err := s.ListOIDCProviders(true)
	if err != nil || len(enabled) != 1 || enabled[0].Slug != "a" {
		t.Errorf("ListOIDCProviders(true) = %v, %v", enabled, err)
	}
}

func TestOAuthStateConsumedOnce(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	state := &model.OAuthState{
		State:        "state-token",
		ProviderSlug: "corp",
		CodeVerifier: "pkce-verifier",
		ExpiresAt:    testTime.Add(10 * time.Minute),
	}
	if err := s.CreateOAuthState(state); err != nil {
		t.Fatalf("CreateOAuthState() error = %v", err)
	}

	got, err := s.ConsumeOAuthState("state-token")
	if err != nil {
		t.Fatalf("ConsumeOAuthState() error = %v", err)
	}
	if got.CodeVerifier != "pkce-verifier" || got.ProviderSlug != "corp" {
		t.Errorf("ConsumeOAuthState() = %+v", got)
	}

	// Replays must fail.
	if _, err := s.ConsumeOAuthState("state-token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("replayed state error = %v, want ErrNotFound", err)
	}
}

func TestOAuthStateExpiry(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.CreateOAuthState(&model.OAuthState{
		State:        "stale",
		ProviderSlug: "corp",
		CodeVerifier: "v",
		ExpiresAt:    testTime.Add(-time.Second),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConsumeOAuthState("stale"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired state error = %v, want ErrNotFound", err)
	}

	if err := s.CreateOAuthState(&model.OAuthState{
		State:        "stale-2",
		ProviderSlug: "corp",
		CodeVerifier: "v",
		ExpiresAt:    testTime.Add(-time.Second),
	}); err != nil {
		t.Fatal(err)
	}
	n, err := s.PurgeExpiredOAuthStates()
	if err != nil || n != 1 {
		t.Errorf("PurgeExpiredOAuthStates() = %d, %v, want 1", n, err)
	}
}
