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

// Package scheduler owns the periodic poll loop: one job per tracker, each
// running the fetch-filter-save-notify pipeline on its own ticker so a slow
// upstream never delays the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/westarle/releasetracker/internal/channel"
	"github.com/westarle/releasetracker/internal/fetcher"
	"github.com/westarle/releasetracker/internal/model"
	"github.com/westarle/releasetracker/internal/store"
)

const (
	// periodicFetchLimit is the page size for scheduled and on-demand
	// checks; sweepFetchLimit keeps the startup sweep cheap when many
	// trackers fire at once.
	periodicFetchLimit = 30
	sweepFetchLimit    = 10

	// sweepConcurrency bounds the startup sweep fan-out.
	sweepConcurrency = 8
)

// Notifier receives the verdict of every save. Implemented by
// notify.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, event model.EventKind, release *model.Release)
}

// Scheduler maps tracker names to running poll jobs.
type Scheduler struct {
	store    *store.Store
	notifier Notifier

	// newFetcher is swapped in tests to avoid real upstream calls.
	newFetcher func(cfg *model.TrackerConfig, token string) (fetcher.Fetcher, error)
	now        func() time.Time

	mu      sync.Mutex
	jobs    map[string]*job
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type job struct {
	interval time.Duration
	stop     chan struct{}
	// trigger hands manual checks to the job goroutine so per-source
	// checks stay serialized with the ticker.
	trigger chan checkRequest
}

type checkRequest struct {
	ctx   context.Context
	reply chan *model.TrackerStatus
}

// New returns a Scheduler polling trackers from st and fanning verdicts out
// to notifier.
func New(st *store.Store, notifier Notifier) *Scheduler {
	return &Scheduler{
		store:      st,
		notifier:   notifier,
		newFetcher: fetcher.New,
		now:        time.Now,
		jobs:       make(map[string]*job),
	}
}

// Initialize creates a dormant job for every persisted tracker. Nothing
// fires until Start.
func (s *Scheduler) Initialize() error {
	configs, err := s.store.ListTrackers()
	if err != nil {
		return fmt.Errorf("loading trackers: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range configs {
		s.addJobLocked(cfg)
	}
	slog.Info("scheduler initialized", "jobs", len(s.jobs))
	return nil
}

// Start begins firing the periodic jobs and runs one initial sweep across
// all trackers in parallel. Per-tracker sweep failures are logged, never
// propagated.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	for name, j := range s.jobs {
		s.launchLocked(name, j)
	}
	s.mu.Unlock()

	s.sweep()
}

// Stop halts every job and waits for in-flight checks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	for _, j := range s.jobs {
		close(j.stop)
	}
	s.jobs = make(map[string]*job)
	s.started = false
	s.mu.Unlock()
	s.wg.Wait()
}

// Refresh reloads one tracker from the store and recreates its job so
// interval or kind edits take effect. Idempotent; refreshing a deleted
// tracker is equivalent to Remove.
func (s *Scheduler) Refresh(name string) error {
	cfg, err := s.store.GetTracker(name)
	if errors.Is(err, store.ErrNotFound) {
		s.Remove(name)
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		close(j.stop)
		delete(s.jobs, name)
	}
	j := s.addJobLocked(cfg)
	if s.started {
		s.launchLocked(name, j)
	}
	return nil
}

// Remove stops and forgets the job for name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		close(j.stop)
		delete(s.jobs, name)
	}
}

// CheckNow runs the pipeline for one tracker and returns the resulting
// status. While the scheduler runs, the check is handed to the tracker's
// job goroutine so it can never overlap a periodic tick for the same
// source. Pipeline failures come back inside the status row, not as an
// error; the error return is for an unknown tracker or a canceled request.
func (s *Scheduler) CheckNow(ctx context.Context, name string) (*model.TrackerStatus, error) {
	if _, err := s.store.GetTracker(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	j, ok := s.jobs[name]
	running := ok && s.started
	s.mu.Unlock()
	if !running {
		return s.check(ctx, name, periodicFetchLimit), nil
	}

	req := checkRequest{ctx: ctx, reply: make(chan *model.TrackerStatus, 1)}
	select {
	case j.trigger <- req:
	case <-j.stop:
		// Job torn down mid-request; run inline like the dormant case.
		return s.check(ctx, name, periodicFetchLimit), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case status := <-req.reply:
		return status, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Scheduler) addJobLocked(cfg *model.TrackerConfig) *job {
	minutes := cfg.IntervalMinutes
	if minutes < 1 {
		minutes = 1
	}
	j := &job{
		interval: time.Duration(minutes) * time.Minute,
		stop:     make(chan struct{}),
		trigger:  make(chan checkRequest),
	}
	s.jobs[cfg.Name] = j
	return j
}

func (s *Scheduler) launchLocked(name string, j *job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-j.stop:
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.check(s.ctx, name, periodicFetchLimit)
			case req := <-j.trigger:
				req.reply <- s.check(req.ctx, name, periodicFetchLimit)
			}
		}
	}()
}

// sweep checks every known tracker once with the smaller fetch window.
func (s *Scheduler) sweep() {
	s.mu.Lock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	ctx := s.ctx
	s.mu.Unlock()

	var group errgroup.Group
	group.SetLimit(sweepConcurrency)
	for _, name := range names {
		group.Go(func() error {
			status := s.check(ctx, name, sweepFetchLimit)
			if status.Error != "" {
				slog.Warn("startup sweep check failed", "tracker", name, "error", status.Error)
			}
			return nil
		})
	}
	group.Wait()
	slog.Info("startup sweep complete", "trackers", len(names))
}

// check runs the full per-tracker pipeline and always persists a status
// row. It never panics outward; failures land in the status Error field.
func (s *Scheduler) check(ctx context.Context, name string, limit int) *model.TrackerStatus {
	cfg, err := s.store.GetTracker(name)
	if err != nil {
		return s.failStatus(&model.TrackerStatus{Name: name, LastCheck: s.now()}, err.Error())
	}

	status := &model.TrackerStatus{
		Name:         cfg.Name,
		Kind:         cfg.Kind,
		Enabled:      cfg.Enabled,
		LastCheck:    s.now(),
		ChannelCount: len(cfg.Channels),
	}
	if !cfg.Enabled {
		return s.failStatus(status, "disabled")
	}

	token := s.resolveToken(cfg)
	f, err := s.newFetcher(cfg, token)
	if err != nil {
		return s.failStatus(status, err.Error())
	}

	drafts, err := f.FetchAll(ctx, limit)
	if err != nil {
		return s.failStatus(status, err.Error())
	}
	if len(drafts) == 0 {
		latest, err := f.FetchLatest(ctx)
		if err != nil {
			return s.failStatus(status, err.Error())
		}
		if latest != nil {
			drafts = []model.Draft{*latest}
		}
	}
	if len(drafts) == 0 {
		return s.failStatus(status, "no versions found")
	}

	var picked []model.Draft
	if len(cfg.Channels) > 0 {
		picked = channel.Select(cfg.Channels, drafts)
	} else {
		picked = channel.SelectFallback("", "", drafts)
	}

	for i := range picked {
		d := &picked[i]
		verdict, err := s.store.SaveRelease(d)
		if err != nil {
			slog.Error("saving release", "tracker", name, "version", d.Version, "error", err)
			continue
		}
		slog.Info("release saved", "tracker", name, "version", d.Version, "verdict", verdict.Kind)
		switch verdict.Kind {
		case model.VerdictNew:
			s.notifier.Dispatch(ctx, model.EventNewRelease, releaseFromDraft(d))
		case model.VerdictRepublish:
			s.notifier.Dispatch(ctx, model.EventRepublish, releaseFromDraft(d))
		}
	}

	status.LastVersion = newestVersion(drafts)
	if err := s.store.UpdateTrackerStatus(status); err != nil {
		slog.Error("writing tracker status", "tracker", name, "error", err)
	}
	return status
}

// failStatus fills the error, carries the previous last-known version
// forward, persists the row and returns it.
func (s *Scheduler) failStatus(status *model.TrackerStatus, message string) *model.TrackerStatus {
	status.Error = message
	if prior, err := s.store.GetTrackerStatus(status.Name); err == nil {
		status.LastVersion = prior.LastVersion
	}
	if err := s.store.UpdateTrackerStatus(status); err != nil {
		slog.Error("writing tracker status", "tracker", status.Name, "error", err)
	}
	return status
}

// resolveToken looks up the tracker's named credential. A missing
// credential is a warning, not a failure: the adapter decides whether
// anonymous access works.
func (s *Scheduler) resolveToken(cfg *model.TrackerConfig) string {
	token, err := s.store.ResolveToken(cfg.CredentialName)
	if err != nil {
		slog.Warn("credential unavailable, proceeding anonymously", "tracker", cfg.Name, "credential", cfg.CredentialName, "error", err)
		return ""
	}
	return token
}

// newestVersion picks the version of the draft with the latest
// published_at across the whole fetched window, saved or not.
func newestVersion(drafts []model.Draft) string {
	best := 0
	for i := range drafts {
		if drafts[i].PublishedAt.After(drafts[best].PublishedAt) {
			best = i
		}
	}
	return drafts[best].Version
}

func releaseFromDraft(d *model.Draft) *model.Release {
	return &model.Release{
		TrackerName: d.TrackerName,
		Name:        d.Name,
		Tag:         d.Tag,
		Version:     d.Version,
		PublishedAt: d.PublishedAt,
		URL:         d.URL,
		Prerelease:  d.Prerelease,
		Body:        d.Body,
		ChannelName: d.ChannelName,
		CommitSHA:   d.CommitSHA,
	}
}
