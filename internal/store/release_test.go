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
	"testing"
	"time"

	"github.com/westarle/releasetracker/internal/model"
)

func draft(tracker, tag, sha string, published time.Time) *model.Draft {
	return &model.Draft{
		TrackerName: tracker,
		Name:        tag,
		Tag:         tag,
		Version:     model.StripTagPrefix(tag),
		PublishedAt: published,
		URL:         "https://example.com/" + tag,
		CommitSHA:   sha,
		ChannelName: "stable",
	}
}

func mustSave(t *testing.T, s *Store, d *model.Draft) model.Verdict {
	t.Helper()
	v, err := s.SaveRelease(d)
	if err != nil {
		t.Fatalf("SaveRelease(%s) error = %v", d.Tag, err)
	}
	return v
}

func TestSaveReleaseVerdicts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	published := testTime.Add(-time.Hour)

	if v := mustSave(t, s, draft("widget", "v1.0.0", "aaa", published)); v.Kind != model.VerdictNew {
		t.Errorf("first save verdict = %v, want new", v.Kind)
	}

	// Same commit again is a metadata update.
	d := draft("widget", "v1.0.0", "aaa", published)
	d.Body = "edited notes"
	if v := mustSave(t, s, d); v.Kind != model.VerdictMetadata {
		t.Errorf("same-commit save verdict = %v, want metadata", v.Kind)
	}

	// Commit moved: republish with the prior commit reported.
	v := mustSave(t, s, draft("widget", "v1.0.0", "bbb", published.Add(time.Minute)))
	if v.Kind != model.VerdictRepublish || v.OldCommit != "aaa" {
		t.Errorf("moved-commit verdict = %+v, want republish of aaa", v)
	}

	releases, err := s.ListReleases(ReleaseQuery{TrackerName: "widget", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(releases) != 1 {
		t.Fatalf("ListReleases() without history = %d rows, want 1", len(releases))
	}
	if releases[0].RepublishCount != 1 || releases[0].CommitSHA != "bbb" {
		t.Errorf("current row = %+v, want count 1 and commit bbb", releases[0])
	}

	withHistory, err := s.ListReleases(ReleaseQuery{TrackerName: "widget", IncludeHistory: true, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(withHistory) != 2 {
		t.Fatalf("ListReleases() with history = %d rows, want 2", len(withHistory))
	}
	var sawSnapshot bool
	for _, r := range withHistory {
		if r.Historical {
			sawSnapshot = true
			if r.CommitSHA != "aaa" {
				t.Errorf("snapshot commit = %q, want aaa", r.CommitSHA)
			}
		}
	}
	if !sawSnapshot {
		t.Error("no historical row after republish")
	}
}

func TestSaveReleaseMissingSHARules(t *testing.T) {
	t.Parallel()
	published := testTime.Add(-2 * time.Hour)
	for _, test := range []struct {
		name     string
		firstSHA string
		nextSHA  string
		nextTime time.Time
		want     model.VerdictKind
	}{
		{
			name:     "BothMissingSameTime",
			nextTime: published,
			want:     model.VerdictMetadata,
		},
		{
			// Without commit SHAs the publish timestamp is the only signal.
			name:     "BothMissingTimeMoved",
			nextTime: published.Add(time.Hour),
			want:     model.VerdictRepublish,
		},
		{
			name:     "StoredMissingIncomingSet",
			nextSHA:  "bbb",
			nextTime: published.Add(time.Hour),
			want:     model.VerdictMetadata,
		},
		{
			name:     "StoredSetIncomingMissing",
			firstSHA: "aaa",
			nextTime: published.Add(time.Hour),
			want:     model.VerdictMetadata,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			s := newTestStore(t)
			mustSave(t, s, draft("widget", "v1.0.0", test.firstSHA, published))
			if v := mustSave(t, s, draft("widget", "v1.0.0", test.nextSHA, test.nextTime)); v.Kind != test.want {
				t.Errorf("verdict = %v, want %v", v.Kind, test.want)
			}
		})
	}
}

func TestSaveReleasePreservesStoredSHA(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	mustSave(t, s, draft("widget", "v1.0.0", "aaa", testTime))
	mustSave(t, s, draft("widget", "v1.0.0", "", testTime))

	latest, err := s.LatestRelease("widget")
	if err != nil {
		t.Fatal(err)
	}
	if latest.CommitSHA != "aaa" {
		t.Errorf("commit after empty-SHA update = %q, want aaa kept", latest.CommitSHA)
	}
}

func TestListReleasesFilters(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	base := testTime.Add(-24 * time.Hour)
	mustSave(t, s, draft("widget", "v1.0.0", "a1", base))
	mustSave(t, s, draft("widget", "v2.0.0-rc1", "a2", base.Add(time.Hour)))
	mustSave(t, s, draft("gadget", "v5.0.0", "a3", base.Add(2*time.Hour)))

	pre := draft("widget", "v2.0.0-rc1", "a2", base.Add(time.Hour))
	pre.Prerelease = true
	mustSave(t, s, pre)

	got, err := s.ListReleases(ReleaseQuery{TrackerName: "widget", Limit: 10})
	if err != nil || len(got) != 2 {
		t.Fatalf("tracker filter: got %d rows, err %v, want 2", len(got), err)
	}
	if got[0].Tag != "v2.0.0-rc1" {
		t.Errorf("order: first row %s, want newest first", got[0].Tag)
	}

	got, err = s.ListReleases(ReleaseQuery{Search: "rc1", Limit: 10})
	if err != nil || len(got) != 1 || got[0].Tag != "v2.0.0-rc1" {
		t.Errorf("search filter = %v, %v", got, err)
	}

	stable := false
	got, err = s.ListReleases(ReleaseQuery{Prerelease: &stable, Limit: 10})
	if err != nil || len(got) != 2 {
		t.Errorf("prerelease filter = %d rows, %v, want 2 stable", len(got), err)
	}

	got, err = s.ListReleases(ReleaseQuery{Limit: 2, Skip: 2})
	if err != nil || len(got) != 1 {
		t.Errorf("pagination = %d rows, %v, want 1", len(got), err)
	}

	total, err := s.CountReleases(ReleaseQuery{})
	if err != nil || total != 3 {
		t.Errorf("CountReleases() = %d, %v, want 3", total, err)
	}
}

func TestLatestForChannels(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	base := testTime.Add(-24 * time.Hour)
	mustSave(t, s, draft("widget", "v1.9.0", "a1", base))
	rc := draft("widget", "v2.0.0-rc1", "a2", base.Add(time.Hour))
	rc.Prerelease = true
	mustSave(t, s, rc)

	channels := []model.Channel{
		{Name: model.ChannelStable, Type: model.TypeRelease, Enabled: true},
		{Name: model.ChannelCanary, Type: model.TypePrerelease, Enabled: false},
	}
	got, err := s.LatestForChannels("widget", channels)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Tag != "v1.9.0" {
		t.Errorf("stable-only latest = %v, want v1.9.0", got)
	}

	channels[1].Enabled = true
	got, err = s.LatestForChannels("widget", channels)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Tag != "v2.0.0-rc1" {
		t.Errorf("all-channels latest = %v, want newest across channels", got)
	}

	// No enabled channels falls back to the plain latest.
	got, err = s.LatestForChannels("widget", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Tag != "v2.0.0-rc1" {
		t.Errorf("fallback latest = %v", got)
	}
}

func TestRecentByTracker(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	base := testTime.Add(-24 * time.Hour)
	for _, tracker := range []string{"widget", "gadget", "other"} {
		for i, tag := range []string{"v1.0.0", "v1.1.0", "v1.2.0", "v2.0.0"} {
			mustSave(t, s, draft(tracker, tag, "sha-"+tracker+tag, base.Add(time.Duration(i)*time.Hour)))
		}
	}

	recent, err := s.RecentByTracker([]string{"widget", "gadget"}, 2)
	if err != nil {
		t.Fatalf("RecentByTracker() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("RecentByTracker() covered %d trackers, want the 2 named", len(recent))
	}
	if _, ok := recent["other"]; ok {
		t.Error("RecentByTracker() returned a tracker outside the name list")
	}
	for _, tracker := range []string{"widget", "gadget"} {
		rows := recent[tracker]
		if len(rows) != 2 {
			t.Fatalf("%s rows = %d, want capped at 2", tracker, len(rows))
		}
		if rows[0].Tag != "v2.0.0" || rows[1].Tag != "v1.2.0" {
			t.Errorf("%s rows = %s, %s, want newest first", tracker, rows[0].Tag, rows[1].Tag)
		}
	}

	empty, err := s.RecentByTracker(nil, 2)
	if err != nil || len(empty) != 0 {
		t.Errorf("RecentByTracker(nil) = %v, %v, want empty map", empty, err)
	}
}

func TestPickForChannels(t *testing.T) {
	t.Parallel()
	newestFirst := []model.Release{
		{Tag: "v2.0.0-rc1", Version: "2.0.0-rc1", Prerelease: true, PublishedAt: testTime},
		{Tag: "v1.9.0", Version: "1.9.0", PublishedAt: testTime.Add(-time.Hour)},
	}
	stableOnly := []model.Channel{
		{Name: model.ChannelStable, Type: model.TypeRelease, Enabled: true},
		{Name: model.ChannelCanary, Type: model.TypePrerelease, Enabled: false},
	}

	if got := PickForChannels(newestFirst, stableOnly); got == nil || got.Tag != "v1.9.0" {
		t.Errorf("stable-only pick = %v, want v1.9.0", got)
	}
	if got := PickForChannels(newestFirst, nil); got == nil || got.Tag != "v2.0.0-rc1" {
		t.Errorf("no-channel pick = %v, want the newest row", got)
	}
	prereleaseOnly := []model.Channel{
		{Name: model.ChannelCanary, Type: model.TypePrerelease, Enabled: true},
	}
	if got := PickForChannels(newestFirst[1:], prereleaseOnly); got != nil {
		t.Errorf("pick with nothing admitted = %v, want nil", got)
	}
	if got := PickForChannels(nil, stableOnly); got != nil {
		t.Errorf("pick from empty slice = %v, want nil", got)
	}
}

func TestDeleteReleasesByTracker(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	mustSave(t, s, draft("widget", "v1.0.0", "aaa", testTime))
	mustSave(t, s, draft("widget", "v1.0.0", "bbb", testTime.Add(time.Minute)))

	if err := s.DeleteReleasesByTracker("widget"); err != nil {
		t.Fatal(err)
	}
	total, err := s.CountReleases(ReleaseQuery{IncludeHistory: true})
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("rows after delete = %d, want history cascaded away", total)
	}
}
