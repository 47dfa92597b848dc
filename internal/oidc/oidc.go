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

// Package oidc implements single sign-on against configured OpenID Connect
// providers: authorization-code flow with PKCE, server-side state, and
// local account linking by provider subject.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/westarle/releasetracker/internal/auth"
	"github.com/westarle/releasetracker/internal/model"
	"github.com/westarle/releasetracker/internal/store"
)

const (
	// stateTTL bounds the window between redirect and callback.
	stateTTL = 10 * time.Minute

	exchangeTimeout = 15 * time.Second
	requestTimeout  = 10 * time.Second

	defaultScopes = "openid email profile"
)

var (
	ErrProviderDisabled = errors.New("provider disabled")
	// ErrInvalidState covers unknown, expired and replayed callback states.
	ErrInvalidState = errors.New("invalid or expired state")
)

// Service drives the login flow. Token issuance is delegated to auth so SSO
// sessions behave exactly like password sessions.
type Service struct {
	store  *store.Store
	auth   *auth.Service
	client *http.Client

	now func() time.Time
}

// NewService returns an SSO Service backed by st and issuing via authSvc.
func NewService(st *store.Store, authSvc *auth.Service) *Service {
	return &Service{
		store:  st,
		auth:   authSvc,
		client: &http.Client{Timeout: requestTimeout},
		now:    time.Now,
	}
}

type discoveryDocument struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// endpoints returns the provider's OAuth endpoints, consulting the issuer's
// well-known document when discovery is on and a field is not pinned.
func (s *Service) endpoints(ctx context.Context, p *model.OIDCProvider) (*discoveryDocument, error) {
	doc := &discoveryDocument{
		AuthorizationEndpoint: p.AuthorizationURL,
		TokenEndpoint:         p.TokenURL,
		UserinfoEndpoint:      p.UserinfoURL,
		JWKSURI:               p.JWKSURI,
	}
	if !p.DiscoveryEnabled || (doc.AuthorizationEndpoint != "" && doc.TokenEndpoint != "" && doc.UserinfoEndpoint != "") {
		return doc, nil
	}

	url := strings.TrimRight(p.IssuerURL, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching discovery document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned %s", resp.Status)
	}
	var fetched discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		return nil, fmt.Errorf("parsing discovery document: %w", err)
	}
	if doc.AuthorizationEndpoint == "" {
		doc.AuthorizationEndpoint = fetched.AuthorizationEndpoint
	}
	if doc.TokenEndpoint == "" {
		doc.TokenEndpoint = fetched.TokenEndpoint
	}
	if doc.UserinfoEndpoint == "" {
		doc.UserinfoEndpoint = fetched.UserinfoEndpoint
	}
	if doc.JWKSURI == "" {
		doc.JWKSURI = fetched.JWKSURI
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, fmt.Errorf("provider %s: discovery yielded no usable endpoints", p.Slug)
	}
	return doc, nil
}

func (s *Service) oauthConfig(p *model.OIDCProvider, doc *discoveryDocument, redirectURI string) *oauth2.Config {
	scopes := p.Scopes
	if scopes == "" {
		scopes = defaultScopes
	}
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       strings.Fields(scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:  doc.AuthorizationEndpoint,
			TokenURL: doc.TokenEndpoint,
		},
	}
}

// BeginLogin creates a state row and returns the provider authorization URL
// the browser should be sent to.
func (s *Service) BeginLogin(ctx context.Context, slug, redirectURI string) (string, error) {
	provider, err := s.store.GetOIDCProvider(slug)
	if err != nil {
		return "", err
	}
	if !provider.Enabled {
		return "", fmt.Errorf("provider %s: %w", slug, ErrProviderDisabled)
	}
	doc, err := s.endpoints(ctx, provider)
	if err != nil {
		return "", err
	}

	state, err := randomToken()
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()
	if err := s.store.CreateOAuthState(&model.OAuthState{
		State:        state,
		ProviderSlug: slug,
		CodeVerifier: verifier,
		ExpiresAt:    s.now().Add(stateTTL),
	}); err != nil {
		return "", err
	}

	cfg := s.oauthConfig(provider, doc, redirectURI)
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// CompleteLogin consumes the callback: verifies the state, exchanges the
// code, reads the userinfo endpoint, links or creates the local account and
// returns a token pair.
func (s *Service) CompleteLogin(ctx context.Context, state, code, redirectURI, userAgent, ipAddress string) (*model.TokenPair, error) {
	stored, err := s.store.ConsumeOAuthState(state)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	provider, err := s.store.GetOIDCProvider(stored.ProviderSlug)
	if err != nil {
		return nil, err
	}
	if !provider.Enabled {
		return nil, fmt.Errorf("provider %s: %w", provider.Slug, ErrProviderDisabled)
	}
	doc, err := s.endpoints(ctx, provider)
	if err != nil {
		return nil, err
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	exchangeCtx = context.WithValue(exchangeCtx, oauth2.HTTPClient, s.client)

	cfg := s.oauthConfig(provider, doc, redirectURI)
	token, err := cfg.Exchange(exchangeCtx, code, oauth2.VerifierOption(stored.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	info := identityFromIDToken(token)
	if info == nil {
		info, err = s.fetchUserinfo(ctx, doc.UserinfoEndpoint, token.AccessToken)
		if err != nil {
			return nil, err
		}
	}
	info.ProviderSlug = provider.Slug

	user, err := s.resolveUser(info)
	if err != nil {
		return nil, err
	}
	return s.auth.IssuePair(user, userAgent, ipAddress)
}

// identityFromIDToken extracts identity claims from the id_token returned
// alongside the access token, saving the userinfo round trip. The token came
// over the code-exchange TLS channel, so the signature is not re-verified
// here. Returns nil when there is no usable id_token.
func identityFromIDToken(token *oauth2.Token) *model.OIDCUserInfo {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil
	}
	var info model.OIDCUserInfo
	if err := json.Unmarshal(payload, &info); err != nil || info.Subject == "" {
		return nil
	}
	return &info
}

func (s *Service) fetchUserinfo(ctx context.Context, endpoint, accessToken string) (*model.OIDCUserInfo, error) {
	if endpoint == "" {
		return nil, errors.New("provider has no userinfo endpoint")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo endpoint returned %s: %s", resp.Status, body)
	}
	var info model.OIDCUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("parsing userinfo: %w", err)
	}
	if info.Subject == "" {
		return nil, errors.New("userinfo response has no subject")
	}
	return &info, nil
}

// resolveUser returns the local account linked to the external identity,
// creating one on first login.
func (s *Service) resolveUser(info *model.OIDCUserInfo) (*model.User, error) {
	user, err := s.store.GetUserByOIDCSubject(info.ProviderSlug, info.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	username := firstNonEmpty(info.PreferredUsername, info.Email, info.ProviderSlug+"-"+info.Subject)
	if _, err := s.store.GetUserByUsername(username); err == nil {
		// Avoid capturing an existing local account by name.
		username = username + "-" + info.ProviderSlug
	}
	return s.store.CreateUser(&model.User{
		Username:     username,
		Email:        info.Email,
		Status:       model.UserStatusActive,
		OIDCSubject:  info.Subject,
		OIDCProvider: info.ProviderSlug,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
