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

// Package server exposes the HTTP API: auth, tracker and credential CRUD,
// release queries, notifier management, SSO and operator settings. All
// JSON, all rooted at /api.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/westarle/releasetracker/internal/auth"
	"github.com/westarle/releasetracker/internal/config"
	"github.com/westarle/releasetracker/internal/model"
	"github.com/westarle/releasetracker/internal/oidc"
	"github.com/westarle/releasetracker/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Jobs is the scheduler surface the API needs. Implemented by
// scheduler.Scheduler.
type Jobs interface {
	Refresh(name string) error
	Remove(name string)
	CheckNow(ctx context.Context, name string) (*model.TrackerStatus, error)
}

// NotifySender sends the synthetic test payload. Implemented by
// notify.Dispatcher.
type NotifySender interface {
	SendTest(ctx context.Context, n *model.Notifier) error
}

// Server routes API requests to the store and services.
type Server struct {
	store  *store.Store
	auth   *auth.Service
	sso    *oidc.Service
	jobs   Jobs
	notify NotifySender
	cfg    *config.Config

	mux *http.ServeMux
}

// New wires every route. The returned Server is ready to serve.
func New(st *store.Store, authSvc *auth.Service, ssoSvc *oidc.Service, jobs Jobs, notify NotifySender, cfg *config.Config) *Server {
	s := &Server{
		store:  st,
		auth:   authSvc,
		sso:    ssoSvc,
		jobs:   jobs,
		notify: notify,
		cfg:    cfg,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	mux := s.mux

	// Public auth surface.
	mux.HandleFunc("POST /api/auth/token", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/auth/oidc/providers", s.handleListSSOProviders)
	mux.HandleFunc("GET /api/auth/oidc/{slug}/authorize", s.handleSSOAuthorize)
	mux.HandleFunc("GET /api/auth/oidc/{slug}/callback", s.handleSSOCallback)

	// Authenticated auth surface.
	mux.HandleFunc("GET /api/auth/me", s.requireUser(s.handleMe))
	mux.HandleFunc("POST /api/auth/logout", s.requireUser(s.handleLogout))
	mux.HandleFunc("POST /api/auth/change-password", s.requireUser(s.handleChangePassword))
	mux.HandleFunc("POST /api/auth/register", s.requireAdmin(s.handleRegister))

	// Trackers.
	mux.HandleFunc("GET /api/trackers", s.requireUser(s.handleListTrackers))
	mux.HandleFunc("POST /api/trackers", s.requireUser(s.handleCreateTracker))
	mux.HandleFunc("GET /api/trackers/{name}", s.requireUser(s.handleGetTracker))
	mux.HandleFunc("PUT /api/trackers/{name}", s.requireUser(s.handleUpdateTracker))
	mux.HandleFunc("DELETE /api/trackers/{name}", s.requireUser(s.handleDeleteTracker))
	mux.HandleFunc("GET /api/trackers/{name}/config", s.requireUser(s.handleTrackerConfig))
	mux.HandleFunc("POST /api/trackers/{name}/check", s.requireUser(s.handleCheckTracker))

	// Credentials.
	mux.HandleFunc("GET /api/credentials", s.requireUser(s.handleListCredentials))
	mux.HandleFunc("POST /api/credentials", s.requireUser(s.handleCreateCredential))
	mux.HandleFunc("GET /api/credentials/{id}", s.requireUser(s.handleGetCredential))
	mux.HandleFunc("PUT /api/credentials/{id}", s.requireUser(s.handleUpdateCredential))
	mux.HandleFunc("DELETE /api/credentials/{id}", s.requireUser(s.handleDeleteCredential))

	// Notifiers.
	mux.HandleFunc("GET /api/notifiers", s.requireUser(s.handleListNotifiers))
	mux.HandleFunc("POST /api/notifiers", s.requireUser(s.handleCreateNotifier))
	mux.HandleFunc("GET /api/notifiers/{id}", s.requireUser(s.handleGetNotifier))
	mux.HandleFunc("PUT /api/notifiers/{id}", s.requireUser(s.handleUpdateNotifier))
	mux.HandleFunc("DELETE /api/notifiers/{id}", s.requireUser(s.handleDeleteNotifier))
	mux.HandleFunc("POST /api/notifiers/{id}/test", s.requireUser(s.handleTestNotifier))

	// Releases and aggregates.
	mux.HandleFunc("GET /api/releases", s.requireUser(s.handleListReleases))
	mux.HandleFunc("GET /api/releases/latest", s.requireUser(s.handleLatestReleases))
	mux.HandleFunc("GET /api/stats", s.requireUser(s.handleStats))
	mux.HandleFunc("GET /api/config", s.requireUser(s.handleConfigSnapshot))

	// Settings.
	mux.HandleFunc("GET /api/settings", s.requireUser(s.handleListSettings))
	mux.HandleFunc("POST /api/settings", s.requireUser(s.handleSetSetting))
	mux.HandleFunc("DELETE /api/settings/{key}", s.requireUser(s.handleDeleteSetting))
	mux.HandleFunc("GET /api/settings/env", s.requireUser(s.handleEnvSettings))

	// SSO provider administration.
	mux.HandleFunc("GET /api/oidc-providers", s.requireAdmin(s.handleListOIDCProviders))
	mux.HandleFunc("POST /api/oidc-providers", s.requireAdmin(s.handleCreateOIDCProvider))
	mux.HandleFunc("GET /api/oidc-providers/{slug}", s.requireAdmin(s.handleGetOIDCProvider))
	mux.HandleFunc("PUT /api/oidc-providers/{slug}", s.requireAdmin(s.handleUpdateOIDCProvider))
	mux.HandleFunc("DELETE /api/oidc-providers/{slug}", s.requireAdmin(s.handleDeleteOIDCProvider))
}

// Handler returns the full middleware stack.
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

// envelope is the shared pagination wrapper.
type envelope struct {
	Items any `json:"items"`
	Total int `json:"total"`
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

// writeStoreError maps ErrNotFound to 404 and everything else to 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}

// pagination reads skip/limit query parameters with sane bounds.
func pagination(r *http.Request) (skip, limit int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("skip")); err == nil && v > 0 {
		skip = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	return skip, limit
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}
