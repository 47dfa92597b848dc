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
	"log/slog"
	"net/http"
	"time"

	"github.com/westarle/releasetracker/internal/model"
	"github.com/westarle/releasetracker/internal/store"
)

// recentPerTracker caps the rows per tracker pulled by the listing's bulk
// query for the channel-aware latest-version pick.
const recentPerTracker = 20

// trackerSummary is one row of the trackers listing: the config plus the
// computed pieces the UI renders without further requests. Enabled shadows
// the stored flag with the effective one.
type trackerSummary struct {
	*model.TrackerConfig
	Enabled       bool      `json:"enabled"`
	ChannelCount  int       `json:"channel_count"`
	LatestVersion string    `json:"latest_version,omitempty"`
	LastCheck     time.Time `json:"last_check,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
}

// effectiveEnabled is the flag the UI renders: a tracker whose channels are
// all disabled cannot release anything, whatever its own flag says.
func effectiveEnabled(cfg *model.TrackerConfig) bool {
	if !cfg.Enabled {
		return false
	}
	for _, ch := range cfg.Channels {
		if ch.Enabled {
			return true
		}
	}
	return false
}

func (s *Server) handleListTrackers(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.ListTrackers()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	statuses, err := s.store.ListTrackerStatus()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	statusByName := make(map[string]*model.TrackerStatus, len(statuses))
	for i := range statuses {
		statusByName[statuses[i].Name] = &statuses[i]
	}

	skip, limit := pagination(r)
	total := len(configs)
	page := paginate(configs, skip, limit)

	names := make([]string, len(page))
	for i, cfg := range page {
		names[i] = cfg.Name
	}
	recent, err := s.store.RecentByTracker(names, recentPerTracker)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	items := make([]trackerSummary, 0, len(page))
	for _, cfg := range page {
		item := trackerSummary{
			TrackerConfig: cfg,
			Enabled:       effectiveEnabled(cfg),
			ChannelCount:  len(cfg.Channels),
		}
		if best := store.PickForChannels(recent[cfg.Name], cfg.Channels); best != nil {
			item.LatestVersion = best.Version
		}
		if st, ok := statusByName[cfg.Name]; ok {
			item.LastCheck = st.LastCheck
			item.LastError = st.Error
			if item.LatestVersion == "" {
				item.LatestVersion = st.LastVersion
			}
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, envelope{Items: items, Total: total, Skip: skip, Limit: limit})
}

func (s *Server) handleCreateTracker(w http.ResponseWriter, r *http.Request) {
	var cfg model.TrackerConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed tracker config")
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveTracker(&cfg); err != nil {
		writeStoreError(w, err)
		return
	}
	s.refreshJob(cfg.Name)
	writeJSON(w, http.StatusCreated, &cfg)
}

func (s *Server) handleGetTracker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cfg, err := s.store.GetTracker(name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	item := trackerSummary{
		TrackerConfig: cfg,
		Enabled:       effectiveEnabled(cfg),
		ChannelCount:  len(cfg.Channels),
	}
	if status, err := s.store.GetTrackerStatus(name); err == nil {
		item.LastCheck = status.LastCheck
		item.LastError = status.Error
		item.LatestVersion = status.LastVersion
	}
	if release, err := s.store.LatestForChannels(name, cfg.Channels); err == nil && release != nil {
		item.LatestVersion = release.Version
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleUpdateTracker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.store.GetTracker(name); err != nil {
		writeStoreError(w, err)
		return
	}
	var cfg model.TrackerConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed tracker config")
		return
	}
	cfg.Name = name
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveTracker(&cfg); err != nil {
		writeStoreError(w, err)
		return
	}
	s.refreshJob(name)
	writeJSON(w, http.StatusOK, &cfg)
}

// handleDeleteTracker removes the tracker and everything hanging off it:
// releases (history follows by cascade), status row and poll job.
func (s *Server) handleDeleteTracker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.store.DeleteTracker(name); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.DeleteReleasesByTracker(name); err != nil {
		slog.Error("deleting releases for removed tracker", "tracker", name, "error", err)
	}
	if err := s.store.DeleteTrackerStatus(name); err != nil {
		slog.Error("deleting status for removed tracker", "tracker", name, "error", err)
	}
	s.jobs.Remove(name)
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleTrackerConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetTracker(r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleCheckTracker(w http.ResponseWriter, r *http.Request) {
	status, err := s.jobs.CheckNow(r.Context(), r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) refreshJob(name string) {
	if err := s.jobs.Refresh(name); err != nil {
		slog.Error("refreshing poll job", "tracker", name, "error", err)
	}
}

// paginate slices a full result set in memory.
func paginate[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return nil
	}
	items = items[skip:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}
