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

package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/westarle/releasetracker/internal/fetcher"
	"github.com/westarle/releasetracker/internal/model"
	"github.com/westarle/releasetracker/internal/secrets"
	"github.com/westarle/releasetracker/internal/store"
)

var basePublished = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type stubFetcher struct {
	mu        sync.Mutex
	drafts    []model.Draft
	latest    *model.Draft
	allErr    error
	latestErr error
	limits    []int

	// delay holds each FetchAll open so overlapping checks are observable
	// through maxInflight.
	delay       time.Duration
	inflight    int
	maxInflight int
}

func (f *stubFetcher) FetchAll(ctx context.Context, limit int) ([]model.Draft, error) {
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
	return f.drafts, f.allErr
}

func (f *stubFetcher) FetchLatest(ctx context.Context) (*model.Draft, error) {
	return f.latest, f.latestErr
}

func (f *stubFetcher) recordedLimits() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.limits...)
}

func (f *stubFetcher) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

type dispatched struct {
	event   model.EventKind
	version string
}

type stubNotifier struct {
	mu     sync.Mutex
	events []dispatched
}

func (n *stubNotifier) Dispatch(ctx context.Context, event model.EventKind, release *model.Release) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, dispatched{event: event, version: release.Version})
}

func (n *stubNotifier) recorded() []dispatched {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]dispatched(nil), n.events...)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	vault, err := secrets.NewVault("scheduler-test-key")
	if err != nil {
		t.Fatal(err)
	}
	s, err := store.Open(filepath.Join(t.TempDir(), "tracker.db"), vault)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestScheduler(t *testing.T, f *stubFetcher) (*Scheduler, *store.Store, *stubNotifier) {
	t.Helper()
	st := newTestStore(t)
	notifier := &stubNotifier{}
	s := New(st, notifier)
	s.newFetcher = func(cfg *model.TrackerConfig, token string) (fetcher.Fetcher, error) {
		return f, nil
	}
	return s, st, notifier
}

func saveTracker(t *testing.T, st *store.Store, cfg *model.TrackerConfig) {
	t.Helper()
	if err := st.SaveTracker(cfg); err != nil {
		t.Fatalf("SaveTracker() error = %v", err)
	}
}

func stableTracker(name string) *model.TrackerConfig {
	return &model.TrackerConfig{
		Name:            name,
		Kind:            model.KindGitHub,
		Enabled:         true,
		Repo:            "acme/" + name,
		IntervalMinutes: 30,
		Channels: []model.Channel{
			{Name: model.ChannelStable, Type: model.TypeRelease, Enabled: true},
		},
	}
}

func draft(tracker, tag string, prerelease bool, published time.Time) model.Draft {
	return model.Draft{
		TrackerName: tracker,
		Name:        tag,
		Tag:         tag,
		Version:     model.StripTagPrefix(tag),
		PublishedAt: published,
		URL:         "https://example.com/" + tracker + "/" + tag,
		CommitSHA:   "sha-" + tag,
		Prerelease:  prerelease,
	}
}

func TestCheckNowSavesAndNotifies(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{drafts: []model.Draft{
		draft("widget", "v2.0.0-rc1", true, basePublished.Add(time.Hour)),
		draft("widget", "v1.2.3", false, basePublished),
	}}
	s, st, notifier := newTestScheduler(t, f)
	saveTracker(t, st, stableTracker("widget"))

	status, err := s.CheckNow(context.Background(), "widget")
	if err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}
	if status.Error != "" {
		t.Fatalf("status.Error = %q, want clean run", status.Error)
	}
	// Last known version follows the newest published draft, even though
	// the stable channel only saved v1.2.3.
	if status.LastVersion != "2.0.0-rc1" {
		t.Errorf("LastVersion = %q, want 2.0.0-rc1", status.LastVersion)
	}
	if status.ChannelCount != 1 {
		t.Errorf("ChannelCount = %d, want 1", status.ChannelCount)
	}

	events := notifier.recorded()
	if len(events) != 1 || events[0].event != model.EventNewRelease || events[0].version != "1.2.3" {
		t.Errorf("dispatched = %+v, want one new_release for 1.2.3", events)
	}

	saved, err := st.LatestRelease("widget")
	if err != nil {
		t.Fatalf("LatestRelease() error = %v", err)
	}
	if saved.Version != "1.2.3" || saved.ChannelName != "stable" {
		t.Errorf("saved release = %+v", saved)
	}

	persisted, err := st.GetTrackerStatus("widget")
	if err != nil || persisted.LastVersion != "2.0.0-rc1" {
		t.Errorf("persisted status = %+v, %v", persisted, err)
	}
}

func TestCheckNowDisabledTracker(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{drafts: []model.Draft{draft("widget", "v1.0.0", false, basePublished)}}
	s, st, notifier := newTestScheduler(t, f)
	cfg := stableTracker("widget")
	cfg.Enabled = false
	saveTracker(t, st, cfg)

	status, err := s.CheckNow(context.Background(), "widget")
	if err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}
	if status.Error != "disabled" || status.Enabled {
		t.Errorf("status = %+v, want disabled error", status)
	}
	if len(f.recordedLimits()) != 0 {
		t.Error("disabled tracker was fetched")
	}
	if len(notifier.recorded()) != 0 {
		t.Error("disabled tracker dispatched events")
	}
}

func TestCheckNowUnknownTracker(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t, &stubFetcher{})
	if _, err := s.CheckNow(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("CheckNow(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestCheckFetchErrorPreservesLastVersion(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{drafts: []model.Draft{draft("widget", "v1.2.3", false, basePublished)}}
	s, st, _ := newTestScheduler(t, f)
	saveTracker(t, st, stableTracker("widget"))

	if _, err := s.CheckNow(context.Background(), "widget"); err != nil {
		t.Fatal(err)
	}

	f.drafts = nil
	f.allErr = errors.New("upstream 502")
	status, err := s.CheckNow(context.Background(), "widget")
	if err != nil {
		t.Fatalf("CheckNow() error = %v, want error inside status", err)
	}
	if status.Error != "upstream 502" {
		t.Errorf("status.Error = %q", status.Error)
	}
	if status.LastVersion != "1.2.3" {
		t.Errorf("LastVersion = %q, want prior version carried forward", status.LastVersion)
	}
}

func TestCheckEmptyWindowFallsBackToLatest(t *testing.T) {
	t.Parallel()
	latest := draft("widget", "v0.9.0", false, basePublished)
	f := &stubFetcher{latest: &latest}
	s, st, notifier := newTestScheduler(t, f)
	saveTracker(t, st, stableTracker("widget"))

	status, err := s.CheckNow(context.Background(), "widget")
	if err != nil {
		t.Fatal(err)
	}
	if status.Error != "" || status.LastVersion != "0.9.0" {
		t.Errorf("status = %+v", status)
	}
	events := notifier.recorded()
	if len(events) != 1 || events[0].version != "0.9.0" {
		t.Errorf("dispatched = %+v", events)
	}
}

func TestCheckNothingFound(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{}
	s, st, _ := newTestScheduler(t, f)
	saveTracker(t, st, stableTracker("widget"))

	status, err := s.CheckNow(context.Background(), "widget")
	if err != nil {
		t.Fatal(err)
	}
	if status.Error != "no versions found" {
		t.Errorf("status.Error = %q, want no versions found", status.Error)
	}
}

func TestCheckRepublishDispatch(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{drafts: []model.Draft{draft("widget", "v1.2.3", false, basePublished)}}
	s, st, notifier := newTestScheduler(t, f)
	saveTracker(t, st, stableTracker("widget"))

	if _, err := s.CheckNow(context.Background(), "widget"); err != nil {
		t.Fatal(err)
	}

	moved := draft("widget", "v1.2.3", false, basePublished.Add(time.Hour))
	moved.CommitSHA = "sha-moved"
	f.drafts = []model.Draft{moved}
	if _, err := s.CheckNow(context.Background(), "widget"); err != nil {
		t.Fatal(err)
	}

	events := notifier.recorded()
	if len(events) != 2 {
		t.Fatalf("dispatched = %+v, want new_release then republish", events)
	}
	if events[1].event != model.EventRepublish {
		t.Errorf("second event = %q, want republish", events[1].event)
	}
}

func TestCheckMetadataChangeIsSilent(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{drafts: []model.Draft{draft("widget", "v1.2.3", false, basePublished)}}
	s, st, notifier := newTestScheduler(t, f)
	saveTracker(t, st, stableTracker("widget"))

	for range 2 {
		if _, err := s.CheckNow(context.Background(), "widget"); err != nil {
			t.Fatal(err)
		}
	}
	if events := notifier.recorded(); len(events) != 1 {
		t.Errorf("dispatched = %+v, metadata refresh must not notify", events)
	}
}

func TestCheckFallbackChannelWhenNoneConfigured(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{drafts: []model.Draft{
		draft("widget", "v2.0.0-beta.1", true, basePublished.Add(time.Hour)),
		draft("widget", "v1.2.3", false, basePublished),
	}}
	s, st, _ := newTestScheduler(t, f)
	cfg := stableTracker("widget")
	cfg.Channels = nil
	saveTracker(t, st, cfg)

	if _, err := s.CheckNow(context.Background(), "widget"); err != nil {
		t.Fatal(err)
	}
	saved, err := st.LatestRelease("widget")
	if err != nil {
		t.Fatal(err)
	}
	if saved.Version != "1.2.3" || saved.ChannelName != "stable" {
		t.Errorf("fallback saved = %+v, want the first non-prerelease on stable", saved)
	}
}

func TestStartRunsSweepWithSmallWindow(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{drafts: []model.Draft{draft("widget", "v1.2.3", false, basePublished)}}
	s, st, _ := newTestScheduler(t, f)
	saveTracker(t, st, stableTracker("widget"))

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	limits := f.recordedLimits()
	if len(limits) != 1 || limits[0] != sweepFetchLimit {
		t.Errorf("sweep limits = %v, want one fetch of %d", limits, sweepFetchLimit)
	}

	if _, err := s.CheckNow(context.Background(), "widget"); err != nil {
		t.Fatal(err)
	}
	limits = f.recordedLimits()
	if limits[len(limits)-1] != periodicFetchLimit {
		t.Errorf("on-demand limit = %d, want %d", limits[len(limits)-1], periodicFetchLimit)
	}
}

func TestCheckNowSerializesWithRunningJob(t *testing.T) {
	t.Parallel()
	f := &stubFetcher{
		drafts: []model.Draft{draft("widget", "v1.2.3", false, basePublished)},
		delay:  20 * time.Millisecond,
	}
	s, st, _ := newTestScheduler(t, f)
	saveTracker(t, st, stableTracker("widget"))

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := s.CheckNow(context.Background(), "widget")
			if err != nil {
				t.Errorf("CheckNow() error = %v", err)
				return
			}
			if status.Error != "" {
				t.Errorf("status.Error = %q", status.Error)
			}
		}()
	}
	wg.Wait()

	if got := f.maxConcurrent(); got > 1 {
		t.Errorf("overlapping checks for one tracker = %d, want serialized", got)
	}
}

func TestRefreshAndRemove(t *testing.T) {
	t.Parallel()
	s, st, _ := newTestScheduler(t, &stubFetcher{})
	saveTracker(t, st, stableTracker("widget"))

	if err := s.Refresh("widget"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if err := s.Refresh("widget"); err != nil {
		t.Fatalf("second Refresh() error = %v, want idempotent", err)
	}
	s.mu.Lock()
	j, ok := s.jobs["widget"]
	s.mu.Unlock()
	if !ok || j.interval != 30*time.Minute {
		t.Fatalf("job = %+v, %v", j, ok)
	}

	s.Remove("widget")
	s.mu.Lock()
	_, ok = s.jobs["widget"]
	s.mu.Unlock()
	if ok {
		t.Error("Remove() left the job behind")
	}

	// Refreshing a tracker that no longer exists acts as Remove.
	if err := s.Refresh("ghost"); err != nil {
		t.Errorf("Refresh(ghost) error = %v, want nil", err)
	}
}
