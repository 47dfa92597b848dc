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

package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/westarle/releasetracker/internal/auth"
	"github.com/westarle/releasetracker/internal/oidc"
)

// handleLogin exchanges a username/password form for a token pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}
	pair, err := s.auth.Login(r.PostForm.Get("username"), r.PostForm.Get("password"),
		r.UserAgent(), clientAddr(r))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &body); err != nil || body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token required")
		return
	}
	pair, err := s.auth.Refresh(body.RefreshToken, r.UserAgent(), clientAddr(r))
	if errors.Is(err, auth.ErrInvalidToken) {
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(bearerToken(r)); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "logged out"})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r, &body); err != nil || body.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current_password and new_password required")
		return
	}
	err := s.auth.ChangePassword(userFrom(r.Context()), body.CurrentPassword, body.NewPassword)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusBadRequest, "current password is incorrect")
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "password changed"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	user, err := s.auth.Register(body.Username, body.Password, body.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not create user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// ssoProviderSummary is the public view of an enabled provider.
type ssoProviderSummary struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	IconURL     string `json:"icon_url,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleListSSOProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListOIDCProviders(true)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	summaries := make([]ssoProviderSummary, 0, len(providers))
	for _, p := range providers {
		summaries = append(summaries, ssoProviderSummary{
			Slug:        p.Slug,
			Name:        p.Name,
			IconURL:     p.IconURL,
			Description: p.Description,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleSSOAuthorize(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	authURL, err := s.sso.BeginLogin(r.Context(), slug, s.callbackURL(r, slug))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleSSOCallback finishes the flow and hands tokens to the frontend in
// the URL fragment, which browsers never send back to any server.
func (s *Server) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	q := r.URL.Query()
	if q.Get("error") != "" {
		s.redirectFrontend(w, r, "#error="+url.QueryEscape(q.Get("error")))
		return
	}
	pair, err := s.sso.CompleteLogin(r.Context(), q.Get("state"), q.Get("code"),
		s.callbackURL(r, slug), r.UserAgent(), clientAddr(r))
	if errors.Is(err, oidc.ErrInvalidState) {
		s.redirectFrontend(w, r, "#error=invalid_state")
		return
	}
	if err != nil {
		s.redirectFrontend(w, r, "#error=sso_failed")
		return
	}
	s.redirectFrontend(w, r, "#token="+url.QueryEscape(pair.AccessToken)+
		"&refresh_token="+url.QueryEscape(pair.RefreshToken))
}

func (s *Server) redirectFrontend(w http.ResponseWriter, r *http.Request, fragment string) {
	http.Redirect(w, r, s.cfg.FrontendURL+"/"+fragment, http.StatusFound)
}

// callbackURL reconstructs this server's callback endpoint as the IdP must
// see it.
func (s *Server) callbackURL(r *http.Request, slug string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/api/auth/oidc/" + slug + "/callback"
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
