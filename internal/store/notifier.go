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

type notifierRow struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	Kind      string `db:"type"`
	URL       string `db:"url"`
	Events    string `db:"events"`
	Enabled   bool   `db:"enabled"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r notifierRow) toNotifier() *model.Notifier {
	n := &model.Notifier{
		ID:        r.ID,
		Name:      r.Name,
		Kind:      r.Kind,
		URL:       r.URL,
		Enabled:   r.Enabled,
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
	}
	if r.Events != "" {
		if err := json.Unmarshal([]byte(r.Events), &n.Events); err != nil {
			slog.Error("dropping unparseable event list", "notifier", r.Name, "error", err)
		}
	}
	return n
}

func encodeEvents(events []model.EventKind) (string, error) {
	if events == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// CreateNotifier stores a new delivery target and returns it with its id.
func (s *Store) CreateNotifier(n *model.Notifier) (*model.Notifier, error) {
	events, err := encodeEvents(n.Events)
	if err != nil {
		return nil, fmt.Errorf("encoding events for %s: %w", n.Name, err)
	}
	now := formatTime(s.now())
	res, err := s.db.Exec(`INSERT INTO notifiers (name, type, url, events, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.Name, n.Kind, n.URL, events, n.Enabled, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating notifier %s: %w", n.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetNotifier(id)
}

// GetNotifier returns one notifier or ErrNotFound.
func (s *Store) GetNotifier(id int64) (*model.Notifier, error) {
	var row notifierRow
	err := s.db.Get(&row, `SELECT * FROM notifiers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notifier %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading notifier %d: %w", id, err)
	}
	return row.toNotifier(), nil
}

// ListNotifiers returns one page of notifiers in creation order.
func (s *Store) ListNotifiers(skip, limit int) ([]*model.Notifier, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []notifierRow
	err := s.db.Select(&rows, `SELECT * FROM notifiers ORDER BY id LIMIT ? OFFSET ?`, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("listing notifiers: %w", err)
	}
	notifiers := make([]*model.Notifier, len(rows))
	for i, row := range rows {
		notifiers[i] = row.toNotifier()
	}
	return notifiers, nil
}

// CountNotifiers returns the total number of notifiers.
func (s *Store) CountNotifiers() (int, error) {
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM notifiers`); err != nil {
		return 0, fmt.Errorf("counting notifiers: %w", err)
	}
	return count, nil
}

// ListEnabledNotifiers returns the enabled targets. Dispatch re-reads this
// per event so edits apply to the next notification without a restart.
func (s *Store) ListEnabledNotifiers() ([]*model.Notifier, error) {
	var rows []notifierRow
	if err := s.db.Select(&rows, `SELECT * FROM notifiers WHERE enabled = 1 ORDER BY id`); err != nil {
		return nil, fmt.Errorf("listing enabled notifiers: %w", err)
	}
	notifiers := make([]*model.Notifier, len(rows))
	for i, row := range rows {
		notifiers[i] = row.toNotifier()
	}
	return notifiers, nil
}

// UpdateNotifier rewrites a notifier and returns the stored result.
func (s *Store) UpdateNotifier(id int64, n *model.Notifier) (*model.Notifier, error) {
	events, err := encodeEvents(n.Events)
	if err != nil {
		return nil, fmt.Errorf("encoding events for notifier %d: %w", id, err)
	}
	res, err := s.db.Exec(`UPDATE notifiers SET name = ?, type = ?, url = ?, events = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		n.Name, n.Kind, n.URL, events, n.Enabled, formatTime(s.now()), id)
	if err != nil {
		return nil, fmt.Errorf("updating notifier %d: %w", id, err)
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return nil, fmt.Errorf("notifier %d: %w", id, ErrNotFound)
	}
	return s.GetNotifier(id)
}

// DeleteNotifier removes a notifier by id.
func (s *Store) DeleteNotifier(id int64) error {
	res, err := s.db.Exec(`DELETE FROM notifiers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting notifier %d: %w", id, err)
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return fmt.Errorf("notifier %d: %w", id, ErrNotFound)
	}
	return nil
}
