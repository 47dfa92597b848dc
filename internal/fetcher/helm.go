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
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/westarle/releasetracker/internal/model"
)

// Helm fetches chart versions from a repository's index.yaml. Chart indexes
// have no prerelease flag, so the version string itself decides: a semver
// prerelease segment, or a well-known marker when the version is not semver.
type Helm struct {
	tracker string
	repoURL string
	chart   string
	token   string
	client  *http.Client
}

// NewHelm returns an adapter for one chart in the repository at repoURL. An
// empty token means anonymous access; otherwise it is sent as a bearer token.
func NewHelm(tracker, repoURL, chart, token string) *Helm {
	return &Helm{
		tracker: tracker,
		repoURL: strings.TrimRight(repoURL, "/"),
		chart:   chart,
		token:   token,
		client:  newHTTPClient(),
	}
}

type chartIndex struct {
	Entries map[string][]chartVersion `yaml:"entries"`
}

type chartVersion struct {
	Version     string    `yaml:"version"`
	AppVersion  string    `yaml:"appVersion"`
	Created     time.Time `yaml:"created"`
	Description string    `yaml:"description"`
}

// FetchAll downloads the repository index and returns up to limit versions of
// the chart, newest first by creation time. An index without the chart yields
// an empty result, not an error.
func (h *Helm) FetchAll(ctx context.Context, limit int) ([]model.Draft, error) {
	index, err := h.fetchIndex(ctx)
	if err != nil {
		return nil, err
	}
	versions := index.Entries[h.chart]
	slices.SortStableFunc(versions, func(a, b chartVersion) int {
		return b.Created.Compare(a.Created)
	})
	if len(versions) > limit {
		versions = versions[:limit]
	}

	drafts := make([]model.Draft, 0, len(versions))
	for _, cv := range versions {
		created := cv.Created
		if created.IsZero() {
			created = now()
		}
		drafts = append(drafts, model.Draft{
			TrackerName: h.tracker,
			Name:        h.chart,
			Tag:         cv.Version,
			Version:     cv.Version,
			PublishedAt: created,
			URL:         h.repoURL,
			Prerelease:  chartPrerelease(cv.Version),
			Body:        cv.Description,
		})
	}
	return drafts, nil
}

// now is replaced in tests to make zero-created entries deterministic.
var now = time.Now

func (h *Helm) fetchIndex(ctx context.Context) (*chartIndex, error) {
	url := h.repoURL + "/index.yaml"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building index request: %w", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	var index chartIndex
	if err := yaml.Unmarshal(body, &index); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}
	return &index, nil
}

// FetchLatest returns the newest chart version, or nil when the repository
// does not carry the chart.
func (h *Helm) FetchLatest(ctx context.Context) (*model.Draft, error) {
	drafts, err := h.FetchAll(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, nil
	}
	return &drafts[0], nil
}

func chartPrerelease(version string) bool {
	if v, err := semver.NewVersion(version); err == nil {
		return v.Prerelease() != ""
	}
	lower := strings.ToLower(version)
	for _, marker := range []string{"alpha", "beta", "rc"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return strings.Contains(version, "-")
}
