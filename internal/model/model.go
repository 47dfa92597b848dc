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

// Package model defines the entities shared across the tracker pipeline:
// tracker configurations, channels, release drafts and persisted releases,
// notifiers, credentials and per-tracker status rows.
package model

import (
	"fmt"
	"strings"
	"time"
)

// TrackerKind identifies the upstream a tracker polls.
type TrackerKind string

const (
	// KindGitHub polls GitHub releases through the GraphQL API.
	KindGitHub TrackerKind = "github"
	// KindGitLab polls a GitLab instance's releases REST endpoint.
	KindGitLab TrackerKind = "gitlab"
	// KindHelm polls a Helm chart repository index.
	KindHelm TrackerKind = "helm"
)

// ParseTrackerKind validates a kind string coming from the API or the store.
func ParseTrackerKind(s string) (TrackerKind, error) {
	switch k := TrackerKind(s); k {
	case KindGitHub, KindGitLab, KindHelm:
		return k, nil
	}
	return "", fmt.Errorf("unsupported tracker kind: %q", s)
}

// ChannelName is one of the four fixed release streams.
type ChannelName string

const (
	ChannelStable     ChannelName = "stable"
	ChannelPrerelease ChannelName = "prerelease"
	ChannelBeta       ChannelName = "beta"
	ChannelCanary     ChannelName = "canary"
)

// ValidChannelName reports whether s names a known channel.
func ValidChannelName(s string) bool {
	switch ChannelName(s) {
	case ChannelStable, ChannelPrerelease, ChannelBeta, ChannelCanary:
		return true
	}
	return false
}

// ChannelType filters releases by the platform's prerelease flag.
// Empty means both release types pass.
type ChannelType string

const (
	TypeRelease    ChannelType = "release"
	TypePrerelease ChannelType = "prerelease"
)

// Channel is a named classification rule embedded in a tracker config.
type Channel struct {
	Name ChannelName `json:"name" db:"-"`
	// Type restricts the platform prerelease flag; empty admits both.
	Type ChannelType `json:"type,omitempty"`
	// IncludePattern is a regex the tag must match. A pattern that fails to
	// compile is logged and ignored at poll time.
	IncludePattern string `json:"include_pattern,omitempty"`
	// ExcludePattern rejects matching tags and wins over IncludePattern.
	ExcludePattern string `json:"exclude_pattern,omitempty"`
	Enabled        bool   `json:"enabled"`
}

// TrackerConfig is a poll target. Name is the primary key.
type TrackerConfig struct {
	Name    string      `json:"name"`
	Kind    TrackerKind `json:"type"`
	Enabled bool        `json:"enabled"`

	// Repo is "owner/repo" for GitHub, or the repository URL for Helm.
	Repo string `json:"repo,omitempty"`
	// Project and Instance locate a GitLab project.
	Project  string `json:"project,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Chart names the chart inside a Helm repository index.
	Chart string `json:"chart,omitempty"`

	// IntervalMinutes is the poll period. Minimum 1.
	IntervalMinutes int `json:"interval"`
	// CredentialName references a stored credential by name; empty means
	// anonymous access where the adapter allows it.
	CredentialName string    `json:"credential_name,omitempty"`
	Description    string    `json:"description,omitempty"`
	Channels       []Channel `json:"channels"`
}

// Validate checks the kind-dependent locator fields and the interval.
func (c *TrackerConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("tracker name is required")
	}
	if _, err := ParseTrackerKind(string(c.Kind)); err != nil {
		return err
	}
	switch c.Kind {
	case KindGitHub:
		if c.Repo == "" || !strings.Contains(c.Repo, "/") {
			return fmt.Errorf("github tracker %q requires repo in owner/repo form", c.Name)
		}
	case KindGitLab:
		if c.Project == "" {
			return fmt.Errorf("gitlab tracker %q requires a project path", c.Name)
		}
	case KindHelm:
		if c.Repo == "" || c.Chart == "" {
			return fmt.Errorf("helm tracker %q requires a repo URL and a chart name", c.Name)
		}
	}
	if c.IntervalMinutes < 1 {
		return fmt.Errorf("tracker %q interval must be at least one minute", c.Name)
	}
	for _, ch := range c.Channels {
		if !ValidChannelName(string(ch.Name)) {
			return fmt.Errorf("tracker %q has unknown channel name %q", c.Name, ch.Name)
		}
		if ch.Type != "" && ch.Type != TypeRelease && ch.Type != TypePrerelease {
			return fmt.Errorf("tracker %q channel %q has unknown type %q", c.Name, ch.Name, ch.Type)
		}
	}
	return nil
}

// EnabledChannels returns the channels with Enabled set, in config order.
func (c *TrackerConfig) EnabledChannels() []Channel {
	var out []Channel
	for _, ch := range c.Channels {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}

// Draft is a release as produced by an adapter, before channel tagging and
// persistence. Version is the tag with a leading "v" stripped where the
// upstream uses that convention.
type Draft struct {
	TrackerName string
	Name        string
	Tag         string
	Version     string
	PublishedAt time.Time
	URL         string
	Prerelease  bool
	Body        string
	CommitSHA   string
	// ChannelName is assigned by the channel filter, not by adapters.
	ChannelName string
}

// Release is a persisted row of the releases table.
type Release struct {
	ID             int64     `json:"id" db:"id"`
	TrackerName    string    `json:"tracker_name" db:"tracker_name"`
	Name           string    `json:"name" db:"name"`
	Tag            string    `json:"tag_name" db:"tag_name"`
	Version        string    `json:"version" db:"version"`
	PublishedAt    time.Time `json:"published_at" db:"published_at"`
	URL            string    `json:"url" db:"url"`
	Prerelease     bool      `json:"prerelease" db:"prerelease"`
	Body           string    `json:"body,omitempty" db:"body"`
	ChannelName    string    `json:"channel_name,omitempty" db:"channel_name"`
	CommitSHA      string    `json:"commit_sha,omitempty" db:"commit_sha"`
	RepublishCount int       `json:"republish_count" db:"republish_count"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	// Historical marks rows synthesized from release_history snapshots in
	// include-history queries.
	Historical bool `json:"is_historical" db:"is_historical"`
}

// VerdictKind classifies the outcome of a release save.
type VerdictKind int

const (
	// VerdictNew means the (tracker, tag) pair was unseen.
	VerdictNew VerdictKind = iota
	// VerdictRepublish means the tag moved to a different commit; the prior
	// state was snapshotted to release_history.
	VerdictRepublish
	// VerdictMetadata means only mutable metadata changed.
	VerdictMetadata
)

// String implements fmt.Stringer for logs.
func (k VerdictKind) String() string {
	switch k {
	case VerdictNew:
		return "new"
	case VerdictRepublish:
		return "republish"
	default:
		return "metadata"
	}
}

// Verdict is the republish detector's decision for one save.
type Verdict struct {
	Kind VerdictKind
	// OldCommit is the commit the tag pointed at before a republish.
	OldCommit string
}

// HistoryEntry is an append-only snapshot of a release row taken
// immediately before a republish overwrote it.
type HistoryEntry struct {
	ID          int64     `db:"id"`
	ReleaseID   int64     `db:"release_id"`
	Name        string    `db:"name"`
	CommitSHA   string    `db:"commit_sha"`
	PublishedAt time.Time `db:"published_at"`
	Body        string    `db:"body"`
	ChannelName string    `db:"channel_name"`
	RecordedAt  time.Time `db:"recorded_at"`
}

// EventKind is a notifier subscription topic.
type EventKind string

const (
	EventNewRelease EventKind = "new_release"
	EventRepublish  EventKind = "republish"
	EventError      EventKind = "error"
)

// Notifier is a delivery target for release events.
type Notifier struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Kind      string      `json:"type"`
	URL       string      `json:"url"`
	Events    []EventKind `json:"events"`
	Enabled   bool        `json:"enabled"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Subscribed reports whether the notifier wants the given event.
func (n *Notifier) Subscribed(event EventKind) bool {
	for _, e := range n.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Credential is an upstream token. Token is encrypted at rest and only
// handled in cleartext inside the store boundary.
type Credential struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Kind        string    `json:"type"`
	Token       string    `json:"token,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MaskToken renders a token as first-four…last-four for API responses.
func MaskToken(token string) string {
	if len(token) > 8 {
		return token[:4] + "..." + token[len(token)-4:]
	}
	return "****"
}

// TrackerStatus is the mutable per-tracker summary rewritten after every
// check.
type TrackerStatus struct {
	Name         string      `json:"name"`
	Kind         TrackerKind `json:"type"`
	Enabled      bool        `json:"enabled"`
	LastCheck    time.Time   `json:"last_check,omitzero"`
	LastVersion  string      `json:"last_version,omitempty"`
	Error        string      `json:"error,omitempty"`
	ChannelCount int         `json:"channel_count"`
}

// StripTagPrefix derives a version from a tag by removing a leading "v".
func StripTagPrefix(tag string) string {
	return strings.TrimPrefix(tag, "v")
}
