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
	"net/http"
	"os"
	"strconv"

	"github.com/westarle/releasetracker/internal/model"
	"github.com/westarle/releasetracker/internal/store"
)

func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, limit := pagination(r)
	query := store.ReleaseQuery{
		TrackerName:    q.Get("tracker"),
		Search:         q.Get("search"),
		IncludeHistory: q.Get("include_history") == "true",
		Skip:           skip,
		Limit:          limit,
	}
	if v := q.Get("prerelease"); v != "" {
		prerelease, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "prerelease must be a boolean")
			return
		}
		query.Prerelease = &prerelease
	}

	releases, err := s.store.ListReleases(query)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	total, err := s.store.CountReleases(query)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Items: releases, Total: total, Skip: skip, Limit: limit})
}

// handleLatestReleases returns the five most recent current releases across
// every tracker.
func (s *Server) handleLatestReleases(w http.ResponseWriter, r *http.Request) {
	releases, err := s.store.ListReleases(store.ReleaseQuery{Limit: 5})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, releases)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(s.cfg.Timezone)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleConfigSnapshot aggregates everything an operator needs in one
// response: store location, tracker configs and notifier configs.
func (s *Server) handleConfigSnapshot(w http.ResponseWriter, r *http.Request) {
	trackers, err := s.store.ListTrackers()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	total, err := s.store.CountNotifiers()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	notifiers, err := s.store.ListNotifiers(0, max(total, 1))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"database_path": s.cfg.DatabasePath,
		"trackers":      trackers,
		"notifiers":     notifiers,
	})
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListSettings()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Key == "" {
		writeError(w, http.StatusBadRequest, "key required")
		return
	}
	if err := s.store.SetSetting(body.Key, body.Value); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": body.Key, "value": body.Value})
}

func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSetting(r.PathValue("key")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// envPlaceholder is returned for allowed environment variables that are
// not set.
const envPlaceholder = "(Not Set)"

// handleEnvSettings exposes a fixed allowlist of environment variables.
// The encryption key is masked; nothing else sensitive is listed.
func (s *Server) handleEnvSettings(w http.ResponseWriter, r *http.Request) {
	peek := func(key string, mask bool) string {
		v := os.Getenv(key)
		if v == "" {
			return envPlaceholder
		}
		if mask {
			return model.MaskToken(v)
		}
		return v
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ENCRYPTION_KEY": peek("ENCRYPTION_KEY", true),
		"FRONTEND_URL":   peek("FRONTEND_URL", false),
		"LOG_LEVEL":      peek("LOG_LEVEL", false),
		"TZ":             peek("TZ", false),
	})
}

func (s *Server) handleListOIDCProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListOIDCProviders(false)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

// oidcProviderRequest re-admits the client secret that responses never
// carry.
type oidcProviderRequest struct {
	model.OIDCProvider
	ClientSecret string `json:"client_secret"`
}

func (r oidcProviderRequest) provider() *model.OIDCProvider {
	p := r.OIDCProvider
	p.ClientSecret = r.ClientSecret
	return &p
}

func (s *Server) handleCreateOIDCProvider(w http.ResponseWriter, r *http.Request) {
	var req oidcProviderRequest
	if err := decodeJSON(r, &req); err != nil || req.Slug == "" || req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "slug and client_id required")
		return
	}
	p := req.provider()
	if _, err := s.store.CreateOIDCProvider(p); err != nil {
		writeError(w, http.StatusBadRequest, "could not create provider")
		return
	}
	created, err := s.store.GetOIDCProvider(p.Slug)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetOIDCProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetOIDCProvider(r.PathValue("slug"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleUpdateOIDCProvider replaces a provider; an omitted client secret
// keeps the stored one.
func (s *Server) handleUpdateOIDCProvider(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	var req oidcProviderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed provider")
		return
	}
	if err := s.store.UpdateOIDCProvider(slug, req.provider()); err != nil {
		writeStoreError(w, err)
		return
	}
	updated, err := s.store.GetOIDCProvider(slug)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteOIDCProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteOIDCProvider(r.PathValue("slug")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
