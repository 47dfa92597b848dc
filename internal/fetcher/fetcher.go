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

// Package fetcher provides upstream release adapters, abstracting each
// forge to the two operations the scheduler needs. Adapters normalize
// upstream records into model.Draft and perform no channel filtering.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/westarle/releasetracker/internal/model"
)

// ErrAuthRequired is returned by adapters that cannot operate anonymously
// when no credential resolves for the tracker.
var ErrAuthRequired = errors.New("credential required")

// defaultTimeout bounds every adapter HTTP call.
const defaultTimeout = 10 * time.Second

// Fetcher fetches a bounded window of recent releases from one upstream.
type Fetcher interface {
	// FetchAll returns up to limit drafts, newest first.
	FetchAll(ctx context.Context, limit int) ([]model.Draft, error)
	// FetchLatest is the single-release fallback used when FetchAll comes
	// back empty.
	FetchLatest(ctx context.Context) (*model.Draft, error)
}

// New constructs the adapter for a tracker config. token may be empty for
// kinds that allow anonymous access.
func New(cfg *model.TrackerConfig, token string) (Fetcher, error) {
	switch cfg.Kind {
	case model.KindGitHub:
		return NewGitHub(cfg.Name, cfg.Repo, token)
	case model.KindGitLab:
		return NewGitLab(cfg.Name, cfg.Project, cfg.Instance, token)
	case model.KindHelm:
		return NewHelm(cfg.Name, cfg.Repo, cfg.Chart, token), nil
	}
	return nil, fmt.Errorf("unsupported tracker kind: %q", cfg.Kind)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}
