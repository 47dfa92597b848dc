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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/westarle/releasetracker/internal/model"
)

func TestNewGitHubBadRepo(t *testing.T) {
	t.Parallel()
	for _, repo := range []string{"", "norepo", "/widget", "acme/"} {
		if _, err := NewGitHub("t", repo, ""); err == nil {
			t.Errorf("NewGitHub(%q) error = nil, want error", repo)
		}
	}
}

func TestGitHubFetchAllRequiresToken(t *testing.T) {
	t.Parallel()
	g, err := NewGitHub("t", "acme/widget", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.FetchAll(context.Background(), 10); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("FetchAll() error = %v, want ErrAuthRequired", err)
	}
}

func TestGitHubFetchAll(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("got method %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data": {"repository": {"releases": {"nodes": [
			{
				"name": "Widget 2.0",
				"tagName": "v2.0.0",
				"description": "Big release.",
				"publishedAt": "2024-05-01T12:00:00Z",
				"isPrerelease": false,
				"url": "https://github.com/acme/widget/releases/tag/v2.0.0",
				"tagCommit": {"oid": "aaa111", "message": "Release v2.0.0"}
			},
			{
				"name": "",
				"tagName": "v2.1.0-rc1",
				"description": "",
				"publishedAt": "2024-05-02T08:30:00Z",
				"isPrerelease": true,
				"url": "https://github.com/acme/widget/releases/tag/v2.1.0-rc1",
				"tagCommit": {"oid": "bbb222", "message": "Cut rc1"}
			}
		]}}}}`)
	}))
	defer server.Close()

	g, err := newGitHub("widget", "acme/widget", "test-token", server.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.FetchAll(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	want := []model.Draft{
		{
			TrackerName: "widget",
			Name:        "Widget 2.0",
			Tag:         "v2.0.0",
			Version:     "2.0.0",
			PublishedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			URL:         "https://github.com/acme/widget/releases/tag/v2.0.0",
			Body:        "Big release.",
			CommitSHA:   "aaa111",
		},
		{
			TrackerName: "widget",
			// Name and body fall back to the tag and its commit message.
			Name:        "v2.1.0-rc1",
			Tag:         "v2.1.0-rc1",
			Version:     "2.1.0-rc1",
			PublishedAt: time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC),
			URL:         "https://github.com/acme/widget/releases/tag/v2.1.0-rc1",
			Prerelease:  true,
			Body:        "Cut rc1",
			CommitSHA:   "bbb222",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FetchAll() mismatch (-want +got):\n%s", diff)
	}
}

func TestGitHubFetchAllGraphQLError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"errors": [{"message": "Could not resolve to a Repository"}]}`)
	}))
	defer server.Close()

	g, err := newGitHub("widget", "acme/widget", "test-token", server.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.FetchAll(context.Background(), 10); err == nil {
		t.Error("FetchAll() error = nil, want GraphQL error")
	}
}

func TestGitHubFetchLatest(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widget/releases/latest" {
			t.Errorf("got path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"name": "Widget 1.9",
			"tag_name": "v1.9.0",
			"body": "Fixes.",
			"html_url": "https://github.com/acme/widget/releases/tag/v1.9.0",
			"prerelease": false,
			"published_at": "2024-04-20T09:00:00Z"
		}`)
	}))
	defer server.Close()

	g, err := newGitHub("widget", "acme/widget", "", "", server.URL)
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("FetchLatest() error = %v", err)
	}
	want := &model.Draft{
		TrackerName: "widget",
		Name:        "Widget 1.9",
		Tag:         "v1.9.0",
		Version:     "1.9.0",
		PublishedAt: time.Date(2024, 4, 20, 9, 0, 0, 0, time.UTC),
		URL:         "https://github.com/acme/widget/releases/tag/v1.9.0",
		Body:        "Fixes.",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FetchLatest() mismatch (-want +got):\n%s", diff)
	}
}

func TestGitHubFetchLatestNotFound(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Not Found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	g, err := newGitHub("widget", "acme/widget", "", "", server.URL)
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("FetchLatest() error = %v", err)
	}
	if got != nil {
		t.Errorf("FetchLatest() = %v, want nil for repo without releases", got)
	}
}
