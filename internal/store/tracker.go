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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/westarle/releasetracker/internal/model"
)

type trackerRow struct {
	Name            string `db:"name"`
	Kind            string `db:"type"`
	Enabled         bool   `db:"enabled"`
	Repo            string `db:"repo"`
	Project         string `db:"project"`
	Instance        string `db:"instance"`
	Chart           string `db:"chart"`
	CredentialName  string `db:"credential_name"`
	Channels        string `db:"channels"`
	IntervalMinutes int    `db:"interval_minutes"`
	Description     string `db:"description"`
	CreatedAt       string `db:"created_at"`
	UpdatedAt       string `db:"updated_at"`
}

func (r trackerRow) toConfig() *model.TrackerConfig {
	cfg := &model.TrackerConfig{
		Name:            r.Name,
		Kind:            model.TrackerKind(r.Kind),
		Enabled:         r.Enabled,
		Repo:            r.Repo,
		Project:         r.Project,
		Instance:        r.Instance,
		Chart:           r.Chart,
		IntervalMinutes: r.IntervalMinutes,
		CredentialName:  r.CredentialName,
		Description:     r.Description,
	}
	if r.Channels != "" {
		if err := json.Unmarshal([]byte(r.Channels), &cfg.Channels); err != nil {
			// A corrupt channel list must not take the tracker down with it.
			slog.Error("dropping unparseable channel list", "tracker", r.Name, "error", err)
			cfg.Channels = nil
		}
	}
	return cfg
}

// SaveTracker inserts or replaces a tracker config keyed by name.
func (s *Store) SaveTracker(cfg *model.TrackerConfig) error {
	channels, err := json.Marshal(cfg.Channels)
	if err != nil {
		return fmt.Errorf("encoding channels for %s: %w", cfg.Name, err)
	}
	if cfg.Channels == nil {
		channels = []byte("[]")
	}
	now := formatTime(s.now())
	_, err = s.db.Exec(`INSERT INTO trackers
		(name, type, enabled, repo, project, instance, chart, credential_name, channels, interval_minutes, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			type = excluded.type, enabled = excluded.enabled, repo = excluded.repo,
			project = excluded.project, instance = excluded.instance, chart = excluded.chart,
			credential_name = excluded.credential_name, channels = excluded.channels,
			interval_minutes = excluded.interval_minutes, description = excluded.description,
			updated_at = excluded.updated_at`,
		cfg.Name, string(cfg.Kind), cfg.Enabled, cfg.Repo, cfg.Project, cfg.Instance, cfg.Chart,
		cfg.CredentialName, string(channels), cfg.IntervalMinutes, cfg.Description, now, now)
	if err != nil {
		return fmt.Errorf("saving tracker %s: %w", cfg.Name, err)
	}
	return nil
}

// GetTracker returns one tracker config or ErrNotFound.
func (s *Store) GetTracker(name string) (*model.TrackerConfig, error) {
	var row trackerRow
	err := s.db.Get(&row, `SELECT * FROM trackers WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tracker %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading tracker %s: %w", name, err)
	}
	return row.toConfig(), nil
}

// ListTrackers returns every tracker config in name order.
func (s *Store) ListTrackers() ([]*model.TrackerConfig, error) {
	var rows []trackerRow
	if err := s.db.Select(&rows, `SELECT * FROM trackers ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing trackers: %w", err)
	}
	configs := make([]*model.TrackerConfig, len(rows))
	for i, row := range rows {
		configs[i] = row.toConfig()
	}
	return configs, nil
}

// DeleteTracker removes a tracker config. Its releases and status row are
// managed separately so callers can decide whether to keep the history.
func (s *Store) DeleteTracker(name string) error {
	res, err := s.db.Exec(`DELETE FROM trackers WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting tracker %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tracker %q: %w", name, ErrNotFound)
	}
	return nil
}

type statusRow struct {
	Name        string         `db:"name"`
	Kind        string         `db:"type"`
	Enabled     bool           `db:"enabled"`
	LastCheck   sql.NullString `db:"last_check"`
	LastVersion string         `db:"last_version"`
	Error       string         `db:"error"`
}

func (r statusRow) toStatus() model.TrackerStatus {
	return model.TrackerStatus{
		Name:        r.Name,
		Kind:        model.TrackerKind(r.Kind),
		Enabled:     r.Enabled,
		LastCheck:   nullableTime(r.LastCheck),
		LastVersion: r.LastVersion,
		Error:       r.Error,
	}
}

// UpdateTrackerStatus rewrites the per-tracker summary row.
func (s *Store) UpdateTrackerStatus(status *model.TrackerStatus) error {
	var lastCheck any
	if !status.LastCheck.IsZero() {
		lastCheck = formatTime(status.LastCheck)
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO tracker_status
		(name, type, enabled, last_check, last_version, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		status.Name, string(status.Kind), status.Enabled, lastCheck, status.LastVersion, status.Error)
	if err != nil {
		return fmt.Errorf("updating status for %s: %w", status.Name, err)
	}
	return nil
}

// GetTrackerStatus returns one status row or ErrNotFound.
func (s *Store) GetTrackerStatus(name string) (*model.TrackerStatus, error) {
	var row statusRow
	err := s.db.Get(&row, `SELECT * FROM tracker_status WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("status for %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading status for %s: %w", name, err)
	}
	status := row.toStatus()
	return &status, nil
}

// ListTrackerStatus returns all status rows in name order.
func (s *Store) ListTrackerStatus() ([]model.TrackerStatus, error) {
	var rows []statusRow
	if err := s.db.Select(&rows, `SELECT * FROM tracker_status ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing tracker status: %w", err)
	}
	statuses := make([]model.TrackerStatus, len(rows))
	for i, row := range rows {
		statuses[i] = row.toStatus()
	}
	return statuses, nil
}

// DeleteTrackerStatus removes a status row if present.
func (s *Store) DeleteTrackerStatus(name string) error {
	if _, err := s.db.Exec(`DELETE FROM tracker_status WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting status for %s: %w", name, err)
	}
	return nil
}
