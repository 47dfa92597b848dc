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
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v69/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/westarle/releasetracker/internal/model"
)

// GitHub fetches releases for one owner/repo pair. Listing goes through the
// GraphQL API so each release carries its tag commit in a single round trip;
// the single-release fallback uses the REST endpoint, which also works
// anonymously.
type GitHub struct {
	tracker string
	owner   string
	name    string
	token   string
	gql     *githubv4.Client
	rest    *github.Client
}

// NewGitHub returns an adapter for repo in owner/repo form. An empty token is
// accepted but restricts the adapter to FetchLatest.
func NewGitHub(tracker, repo, token string) (*GitHub, error) {
	return newGitHub(tracker, repo, token, "", "")
}

// newGitHub allows tests to point both API surfaces at a local server.
func newGitHub(tracker, repo, token, graphqlURL, restURL string) (*GitHub, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("github tracker %q: repo %q is not in owner/repo form", tracker, repo)
	}

	httpClient := newHTTPClient()
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, source)
	}

	gql := githubv4.NewClient(httpClient)
	if graphqlURL != "" {
		gql = githubv4.NewEnterpriseClient(graphqlURL, httpClient)
	}

	rest := github.NewClient(newHTTPClient())
	if token != "" {
		rest = rest.WithAuthToken(token)
	}
	if restURL != "" {
		base, err := url.Parse(strings.TrimSuffix(restURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing REST base URL: %w", err)
		}
		rest.BaseURL = base
	}

	return &GitHub{
		tracker: tracker,
		owner:   owner,
		name:    name,
		token:   token,
		gql:     gql,
		rest:    rest,
	}, nil
}

type releaseNode struct {
	Name         string
	TagName      string
	Description  string
	PublishedAt  githubv4.DateTime
	IsPrerelease bool
	URL          string
	TagCommit    struct {
		Oid     string
		Message string
	}
}

// FetchAll lists up to limit releases, newest first. The GraphQL API rejects
// anonymous queries, so a missing credential fails with ErrAuthRequired.
func (g *GitHub) FetchAll(ctx context.Context, limit int) ([]model.Draft, error) {
	if g.token == "" {
		return nil, fmt.Errorf("github tracker %q (%s/%s): %w", g.tracker, g.owner, g.name, ErrAuthRequired)
	}

	var query struct {
		Repository struct {
			Releases struct {
				Nodes []releaseNode
			} `graphql:"releases(first: $limit, orderBy: {field: CREATED_AT, direction: DESC})"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	variables := map[string]any{
		"owner": githubv4.String(g.owner),
		"name":  githubv4.String(g.name),
		"limit": githubv4.Int(limit),
	}
	if err := g.gql.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("listing releases for %s/%s: %w", g.owner, g.name, err)
	}

	nodes := query.Repository.Releases.Nodes
	drafts := make([]model.Draft, 0, len(nodes))
	for _, node := range nodes {
		drafts = append(drafts, g.draftFromNode(node))
	}
	return drafts, nil
}

func (g *GitHub) draftFromNode(node releaseNode) model.Draft {
	name := node.Name
	if name == "" {
		name = node.TagName
	}
	// Releases cut straight from a tag often have an empty description; the
	// tag's commit message is the next best release note.
	body := node.Description
	if body == "" {
		body = node.TagCommit.Message
	}
	return model.Draft{
		TrackerName: g.tracker,
		Name:        name,
		Tag:         node.TagName,
		Version:     model.StripTagPrefix(node.TagName),
		PublishedAt: node.PublishedAt.Time,
		URL:         node.URL,
		Prerelease:  node.IsPrerelease,
		Body:        body,
		CommitSHA:   node.TagCommit.Oid,
	}
}

// FetchLatest fetches the release GitHub marks as latest. The REST endpoint
// does not expose the tag commit, so CommitSHA is left empty and the store
// keeps whatever it already has for the tag.
func (g *GitHub) FetchLatest(ctx context.Context) (*model.Draft, error) {
	release, resp, err := g.rest.Repositories.GetLatestRelease(ctx, g.owner, g.name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching latest release for %s/%s: %w", g.owner, g.name, err)
	}

	name := release.GetName()
	if name == "" {
		name = release.GetTagName()
	}
	return &model.Draft{
		TrackerName: g.tracker,
		Name:        name,
		Tag:         release.GetTagName(),
		Version:     model.StripTagPrefix(release.GetTagName()),
		PublishedAt: release.GetPublishedAt().Time,
		URL:         release.GetHTMLURL(),
		Prerelease:  release.GetPrerelease(),
		Body:        release.GetBody(),
	}, nil
}
