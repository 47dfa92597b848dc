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

package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/sync/errgroup"

	"github.com/westarle/releasetracker/internal/model"
)

// tagFetchLimit bounds the concurrent tag lookups that backfill commit SHAs
// missing from a releases listing.
const tagFetchLimit = 4

// GitLab fetches releases for one project on a GitLab instance, gitlab.com
// by default. GitLab has no prerelease flag, so every draft is marked as a
// regular release and channel rules have to discriminate by tag.
type GitLab struct {
	tracker  string
	project  string
	instance string
	client   *gitlab.Client
}

// NewGitLab returns an adapter for a project path such as
// "gitlab-org/gitlab-runner". instance defaults to https://gitlab.com and an
// empty token means anonymous access, which public projects allow.
func NewGitLab(tracker, project, instance, token string) (*GitLab, error) {
	if instance == "" {
		instance = "https://gitlab.com"
	}
	instance = strings.TrimRight(instance, "/")
	client, err := gitlab.NewClient(token,
		gitlab.WithBaseURL(instance+"/api/v4"),
		gitlab.WithHTTPClient(newHTTPClient()),
	)
	if err != nil {
		return nil, fmt.Errorf("gitlab tracker %q: %w", tracker, err)
	}
	return &GitLab{
		tracker:  tracker,
		project:  project,
		instance: instance,
		client:   client,
	}, nil
}

// FetchAll lists up to limit releases, newest first. Releases whose listing
// entry carries no commit are backfilled from the tags API; a failed backfill
// only costs the SHA, never the release.
func (g *GitLab) FetchAll(ctx context.Context, limit int) ([]model.Draft, error) {
	perPage := limit
	if perPage > 100 {
		perPage = 100
	}
	releases, _, err := g.client.Releases.ListReleases(g.project, &gitlab.ListReleasesOptions{
		ListOptions: gitlab.ListOptions{PerPage: perPage},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("listing releases for %s: %w", g.project, err)
	}
	if len(releases) > limit {
		releases = releases[:limit]
	}

	drafts := make([]model.Draft, len(releases))
	for i, release := range releases {
		drafts[i] = g.draftFromRelease(release)
	}
	g.backfillCommits(ctx, drafts)
	return drafts, nil
}

func (g *GitLab) draftFromRelease(release *gitlab.Release) model.Draft {
	name := release.Name
	if name == "" {
		name = release.TagName
	}
	publishedAt := release.ReleasedAt
	if publishedAt == nil {
		publishedAt = release.CreatedAt
	}
	draft := model.Draft{
		TrackerName: g.tracker,
		Name:        name,
		Tag:         release.TagName,
		Version:     release.TagName,
		URL:         fmt.Sprintf("%s/%s/-/releases/%s", g.instance, g.project, release.TagName),
		Body:        release.Description,
		CommitSHA:   release.Commit.ID,
	}
	if publishedAt != nil {
		draft.PublishedAt = *publishedAt
	}
	return draft
}

func (g *GitLab) backfillCommits(ctx context.Context, drafts []model.Draft) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(tagFetchLimit)
	for i := range drafts {
		if drafts[i].CommitSHA != "" {
			continue
		}
		group.Go(func() error {
			tag, _, err := g.client.Tags.GetTag(g.project, drafts[i].Tag, gitlab.WithContext(ctx))
			if err != nil {
				slog.Warn("commit backfill failed", "tracker", g.tracker, "tag", drafts[i].Tag, "error", err)
				return nil
			}
			if tag.Commit != nil {
				drafts[i].CommitSHA = tag.Commit.ID
			}
			return nil
		})
	}
	group.Wait()
}

// FetchLatest returns the newest release, or nil when the project has none.
func (g *GitLab) FetchLatest(ctx context.Context) (*model.Draft, error) {
	drafts, err := g.FetchAll(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, nil
	}
	return &drafts[0], nil
}
