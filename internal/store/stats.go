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
	"fmt"
	"time"

	"github.com/westarle/releasetracker/internal/model"
)

// dailyWindowDays is the length of the publish-activity breakdown, today
// included.
const dailyWindowDays = 7

// fetchWindowDays is how far back the raw rows are read. Wider than the
// breakdown so timezone conversion cannot push an edge day out of the data.
const fetchWindowDays = 10

// Stats assembles the dashboard summary. Daily buckets are computed in loc,
// so "today" follows the configured timezone rather than UTC.
func (s *Store) Stats(loc *time.Location) (*model.Stats, error) {
	stats := &model.Stats{
		ChannelTotals: map[string]int{},
		TypeTotals:    map[string]int{},
	}

	if err := s.db.Get(&stats.TotalTrackers, `SELECT COUNT(*) FROM tracker_status`); err != nil {
		return nil, fmt.Errorf("counting trackers: %w", err)
	}

	const unionAll = `SELECT id, channel_name, prerelease FROM releases
		UNION ALL
		SELECT r.id, COALESCE(NULLIF(h.channel_name, ''), r.channel_name), r.prerelease
		FROM release_history h JOIN releases r ON h.release_id = r.id`

	if err := s.db.Get(&stats.TotalReleases, `SELECT COUNT(*) FROM (`+unionAll+`)`); err != nil {
		return nil, fmt.Errorf("counting releases: %w", err)
	}

	dayAgo := formatTime(s.now().Add(-24 * time.Hour))
	if err := s.db.Get(&stats.RecentReleases, `SELECT COUNT(*) FROM releases WHERE created_at > ?`, dayAgo); err != nil {
		return nil, fmt.Errorf("counting recent releases: %w", err)
	}

	var latest sql.NullString
	if err := s.db.Get(&latest, `SELECT MAX(published_at) FROM releases`); err != nil {
		return nil, fmt.Errorf("finding latest update: %w", err)
	}
	if latest.Valid {
		t := parseTime(latest.String)
		stats.LatestUpdate = &t
	}

	if err := s.fillDaily(stats, loc); err != nil {
		return nil, err
	}

	type bucketRow struct {
		Channel    string `db:"channel_name"`
		Prerelease bool   `db:"prerelease"`
		Count      int    `db:"count"`
	}
	var buckets []bucketRow
	err := s.db.Select(&buckets, `SELECT channel_name, prerelease, COUNT(*) AS count
		FROM (`+unionAll+`) GROUP BY channel_name, prerelease`)
	if err != nil {
		return nil, fmt.Errorf("aggregating channels: %w", err)
	}
	for _, b := range buckets {
		stats.ChannelTotals[channelOrDefault(b.Channel, b.Prerelease)] += b.Count
		if b.Prerelease {
			stats.TypeTotals["prerelease"] += b.Count
		} else {
			stats.TypeTotals["stable"] += b.Count
		}
	}
	return stats, nil
}

// channelOrDefault maps an untagged row to a synthetic channel by its
// prerelease flag, matching the channel filter's fallback naming.
func channelOrDefault(channel string, prerelease bool) string {
	if channel != "" {
		return channel
	}
	if prerelease {
		return string(model.ChannelPrerelease)
	}
	return string(model.ChannelStable)
}

func (s *Store) fillDaily(stats *model.Stats, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	cutoff := formatTime(s.now().Add(-fetchWindowDays * 24 * time.Hour))

	type publishRow struct {
		PublishedAt string `db:"published_at"`
		Channel     string `db:"channel_name"`
		Prerelease  bool   `db:"prerelease"`
	}
	var rows []publishRow
	err := s.db.Select(&rows, `SELECT published_at, channel_name, prerelease FROM (
			SELECT published_at, channel_name, prerelease FROM releases WHERE published_at >= ?
			UNION ALL
			SELECT h.published_at, COALESCE(NULLIF(h.channel_name, ''), r.channel_name), r.prerelease
			FROM release_history h JOIN releases r ON h.release_id = r.id
			WHERE h.published_at >= ?
		) ORDER BY published_at`, cutoff, cutoff)
	if err != nil {
		return fmt.Errorf("loading publish activity: %w", err)
	}

	today := s.now().In(loc)
	start := today.AddDate(0, 0, -(dailyWindowDays - 1))
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	endDay := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)

	const dateFormat = "2006-01-02"
	byDay := map[string]map[string]int{}
	for _, row := range rows {
		local := parseTime(row.PublishedAt).In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		if day.Before(startDay) || day.After(endDay) {
			continue
		}
		key := day.Format(dateFormat)
		if byDay[key] == nil {
			byDay[key] = map[string]int{}
		}
		byDay[key][channelOrDefault(row.Channel, row.Prerelease)]++
	}

	// Emit every day in the window so charts stay continuous.
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		key := day.Format(dateFormat)
		channels := byDay[key]
		if channels == nil {
			channels = map[string]int{}
		}
		stats.Daily = append(stats.Daily, model.DailyStat{Date: key, Channels: channels})
	}
	return nil
}
