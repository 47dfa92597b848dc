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

	sq "github.com/Masterminds/squirrel"

	"github.com/westarle/releasetracker/internal/channel"
	"github.com/westarle/releasetracker/internal/model"
)

type releaseRow struct {
	ID             int64  `db:"id"`
	TrackerName    string `db:"tracker_name"`
	Name           string `db:"name"`
	TagName        string `db:"tag_name"`
	Version        string `db:"version"`
	PublishedAt    string `db:"published_at"`
	URL            string `db:"url"`
	Prerelease     bool   `db:"prerelease"`
	Body           string `db:"body"`
	ChannelName    string `db:"channel_name"`
	CommitSHA      string `db:"commit_sha"`
	RepublishCount int    `db:"republish_count"`
	CreatedAt      string `db:"created_at"`
	Historical     bool   `db:"is_historical"`
}

func (r releaseRow) toRelease() model.Release {
	return model.Release{
		ID:             r.ID,
		TrackerName:    r.TrackerName,
		Name:           r.Name,
		Tag:            r.TagName,
		Version:        r.Version,
		PublishedAt:    parseTime(r.PublishedAt),
		URL:            r.URL,
		Prerelease:     r.Prerelease,
		Body:           r.Body,
		ChannelName:    r.ChannelName,
		CommitSHA:      r.CommitSHA,
		RepublishCount: r.RepublishCount,
		CreatedAt:      parseTime(r.CreatedAt),
		Historical:     r.Historical,
	}
}

const releaseColumns = `id, tracker_name, name, tag_name, version, published_at, url,
	prerelease, body, channel_name, commit_sha, republish_count, created_at`

// SaveRelease upserts one draft and classifies the write. A new (tracker,
// tag) pair is inserted as-is. For an existing pair, the tag moving to a
// different commit is a republish: the old row is snapshotted into
// release_history before being overwritten and the republish counter is
// bumped. When neither side carries a commit SHA the published timestamp
// decides instead; when only one side is missing the change is treated as a
// metadata update, never a republish. A metadata update with an empty
// incoming SHA keeps the stored one.
func (s *Store) SaveRelease(d *model.Draft) (model.Verdict, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return model.Verdict{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var old releaseRow
	err = tx.Get(&old, `SELECT `+releaseColumns+`, 0 AS is_historical
		FROM releases WHERE tracker_name = ? AND tag_name = ?`, d.TrackerName, d.Tag)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.Exec(`INSERT INTO releases
			(tracker_name, name, tag_name, version, published_at, url, prerelease, body, channel_name, commit_sha, republish_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			d.TrackerName, d.Name, d.Tag, d.Version, formatTime(d.PublishedAt), d.URL,
			d.Prerelease, d.Body, d.ChannelName, d.CommitSHA, formatTime(s.now()))
		if err != nil {
			return model.Verdict{}, fmt.Errorf("inserting release %s/%s: %w", d.TrackerName, d.Tag, err)
		}
		if err := tx.Commit(); err != nil {
			return model.Verdict{}, err
		}
		return model.Verdict{Kind: model.VerdictNew}, nil
	}
	if err != nil {
		return model.Verdict{}, fmt.Errorf("loading release %s/%s: %w", d.TrackerName, d.Tag, err)
	}

	republish := false
	switch {
	case d.CommitSHA != "" && old.CommitSHA != "":
		republish = d.CommitSHA != old.CommitSHA
	case d.CommitSHA == "" && old.CommitSHA == "":
		republish = !d.PublishedAt.IsZero() && formatTime(d.PublishedAt) != old.PublishedAt
	}

	if republish {
		_, err = tx.Exec(`INSERT INTO release_history
			(release_id, name, commit_sha, published_at, body, channel_name, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			old.ID, old.Name, old.CommitSHA, old.PublishedAt, old.Body, old.ChannelName, formatTime(s.now()))
		if err != nil {
			return model.Verdict{}, fmt.Errorf("recording history for %s/%s: %w", d.TrackerName, d.Tag, err)
		}
		_, err = tx.Exec(`UPDATE releases SET
			name = ?, version = ?, published_at = ?, url = ?, prerelease = ?, body = ?, channel_name = ?, commit_sha = ?, republish_count = ?
			WHERE id = ?`,
			d.Name, d.Version, formatTime(d.PublishedAt), d.URL, d.Prerelease, d.Body,
			d.ChannelName, d.CommitSHA, old.RepublishCount+1, old.ID)
		if err != nil {
			return model.Verdict{}, fmt.Errorf("updating release %s/%s: %w", d.TrackerName, d.Tag, err)
		}
		if err := tx.Commit(); err != nil {
			return model.Verdict{}, err
		}
		return model.Verdict{Kind: model.VerdictRepublish, OldCommit: old.CommitSHA}, nil
	}

	commitSHA := d.CommitSHA
	if commitSHA == "" {
		commitSHA = old.CommitSHA
	}
	_, err = tx.Exec(`UPDATE releases SET
		name = ?, version = ?, published_at = ?, url = ?, prerelease = ?, body = ?, channel_name = ?, commit_sha = ?
		WHERE id = ?`,
		d.Name, d.Version, formatTime(d.PublishedAt), d.URL, d.Prerelease, d.Body,
		d.ChannelName, commitSHA, old.ID)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("updating release %s/%s: %w", d.TrackerName, d.Tag, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Verdict{}, err
	}
	return model.Verdict{Kind: model.VerdictMetadata}, nil
}

// ReleaseQuery filters and paginates release listings.
type ReleaseQuery struct {
	TrackerName string
	// Search matches tracker, name, tag and version with a substring.
	Search     string
	Prerelease *bool
	// IncludeHistory folds republish snapshots into the result set.
	IncludeHistory bool
	Skip           int
	Limit          int
}

func releaseFilter(prefix string, q ReleaseQuery) sq.And {
	cond := sq.And{sq.Expr("1=1")}
	col := func(c string) string { return prefix + c }
	if q.TrackerName != "" {
		cond = append(cond, sq.Eq{col("tracker_name"): q.TrackerName})
	}
	if q.Search != "" {
		pattern := "%" + q.Search + "%"
		cond = append(cond, sq.Or{
			sq.Like{col("tracker_name"): pattern},
			sq.Like{col("name"): pattern},
			sq.Like{col("tag_name"): pattern},
			sq.Like{col("version"): pattern},
		})
	}
	if q.Prerelease != nil {
		cond = append(cond, sq.Eq{col("prerelease"): *q.Prerelease})
	}
	return cond
}

// unionQuery builds the body shared by listing and counting: current rows,
// optionally unioned with history snapshots joined back to their release for
// the immutable columns.
func unionQuery(q ReleaseQuery) (string, []any, error) {
	currentWhere, currentArgs, err := releaseFilter("", q).ToSql()
	if err != nil {
		return "", nil, err
	}
	current := fmt.Sprintf(`SELECT %s, 0 AS is_historical FROM releases WHERE %s`, releaseColumns, currentWhere)
	if !q.IncludeHistory {
		return current, currentArgs, nil
	}
	histWhere, histArgs, err := releaseFilter("r.", q).ToSql()
	if err != nil {
		return "", nil, err
	}
	historical := fmt.Sprintf(`SELECT r.id, r.tracker_name, COALESCE(NULLIF(h.name, ''), r.name) AS name,
			r.tag_name, r.version, h.published_at, r.url, r.prerelease, h.body,
			COALESCE(NULLIF(h.channel_name, ''), r.channel_name) AS channel_name,
			h.commit_sha, r.republish_count, h.recorded_at AS created_at, 1 AS is_historical
		FROM release_history h JOIN releases r ON h.release_id = r.id WHERE %s`, histWhere)
	return current + " UNION ALL " + historical, append(currentArgs, histArgs...), nil
}

// ListReleases returns matching rows ordered by publish time, newest first.
func (s *Store) ListReleases(q ReleaseQuery) ([]model.Release, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	body, args, err := unionQuery(q)
	if err != nil {
		return nil, fmt.Errorf("building release query: %w", err)
	}
	query := fmt.Sprintf(`SELECT * FROM (%s) ORDER BY published_at DESC LIMIT ? OFFSET ?`, body)
	args = append(args, q.Limit, q.Skip)

	var rows []releaseRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	releases := make([]model.Release, len(rows))
	for i, r := range rows {
		releases[i] = r.toRelease()
	}
	return releases, nil
}

// CountReleases returns the total matching rows, pagination aside.
func (s *Store) CountReleases(q ReleaseQuery) (int, error) {
	body, args, err := unionQuery(q)
	if err != nil {
		return 0, fmt.Errorf("building release query: %w", err)
	}
	var count int
	if err := s.db.Get(&count, fmt.Sprintf(`SELECT COUNT(*) FROM (%s)`, body), args...); err != nil {
		return 0, fmt.Errorf("counting releases: %w", err)
	}
	return count, nil
}

// LatestRelease returns a tracker's newest release including history, or nil
// when it has none.
func (s *Store) LatestRelease(trackerName string) (*model.Release, error) {
	releases, err := s.ListReleases(ReleaseQuery{TrackerName: trackerName, IncludeHistory: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, nil
	}
	return &releases[0], nil
}

// latestWindow bounds how far back LatestForChannels scans.
const latestWindow = 100

// LatestForChannels returns the newest release admitted by any of the
// tracker's enabled channels. Without enabled channels it degrades to
// LatestRelease.
func (s *Store) LatestForChannels(trackerName string, channels []model.Channel) (*model.Release, error) {
	enabled := false
	for _, ch := range channels {
		if ch.Enabled {
			enabled = true
			break
		}
	}
	if !enabled {
		return s.LatestRelease(trackerName)
	}
	releases, err := s.ListReleases(ReleaseQuery{TrackerName: trackerName, IncludeHistory: true, Limit: latestWindow})
	if err != nil {
		return nil, err
	}
	return PickForChannels(releases, channels), nil
}

// PickForChannels selects the headline release from a newest-first slice:
// the newest row admitted by any enabled channel, or simply the newest row
// when no channel is enabled. Returns nil when nothing qualifies.
func PickForChannels(releases []model.Release, channels []model.Channel) *model.Release {
	if len(releases) == 0 {
		return nil
	}
	var enabled []model.Channel
	for _, ch := range channels {
		if ch.Enabled {
			enabled = append(enabled, ch)
		}
	}
	if len(enabled) == 0 {
		return &releases[0]
	}
	var newest *model.Release
	for _, ch := range enabled {
		for i := range releases {
			r := &releases[i]
			if !channel.Matches(model.Draft{Tag: r.Tag, Prerelease: r.Prerelease}, ch) {
				continue
			}
			if newest == nil || r.PublishedAt.After(newest.PublishedAt) {
				newest = r
			}
			break
		}
	}
	return newest
}

// RecentByTracker returns, for each named tracker, its newest current
// releases capped at perTracker rows, newest first. One windowed query
// serves a whole listing page so it never costs a query per row.
func (s *Store) RecentByTracker(names []string, perTracker int) (map[string][]model.Release, error) {
	recent := make(map[string][]model.Release, len(names))
	if len(names) == 0 {
		return recent, nil
	}
	if perTracker <= 0 {
		perTracker = 1
	}
	ranked := sq.Select(releaseColumns+`, 0 AS is_historical,
			ROW_NUMBER() OVER (PARTITION BY tracker_name ORDER BY published_at DESC) AS rn`).
		From("releases").
		Where(sq.Eq{"tracker_name": names})
	query, args, err := sq.Select(releaseColumns, "is_historical").
		FromSelect(ranked, "ranked").
		Where(sq.LtOrEq{"rn": perTracker}).
		OrderBy("tracker_name", "rn").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building recent-per-tracker query: %w", err)
	}
	var rows []releaseRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("loading recent releases per tracker: %w", err)
	}
	for _, row := range rows {
		recent[row.TrackerName] = append(recent[row.TrackerName], row.toRelease())
	}
	return recent, nil
}

// DeleteReleasesByTracker removes a tracker's releases; history rows follow
// through the cascade.
func (s *Store) DeleteReleasesByTracker(trackerName string) error {
	if _, err := s.db.Exec(`DELETE FROM releases WHERE tracker_name = ?`, trackerName); err != nil {
		return fmt.Errorf("deleting releases for %s: %w", trackerName, err)
	}
	return nil
}
