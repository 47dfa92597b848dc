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

// Package channel routes release drafts to named streams. Each enabled
// channel selects at most one draft: the newest one satisfying the
// channel's type predicate and regex rules.
package channel

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/westarle/releasetracker/internal/model"
)

// legacyPrereleaseMarkers are version substrings that exclude a draft from
// the no-channel fallback selection.
var legacyPrereleaseMarkers = []string{"alpha", "beta", "rc", "pre", "dev", "snapshot"}

// Select returns, for each enabled channel in order, the first draft in
// drafts (expected newest first) that the channel admits, tagged with the
// channel's name. Drafts selected by several channels are collapsed by
// version, keeping the last channel in list order.
func Select(channels []model.Channel, drafts []model.Draft) []model.Draft {
	var picked []model.Draft
	for _, ch := range channels {
		if !ch.Enabled {
			continue
		}
		for _, d := range drafts {
			if !Matches(d, ch) {
				continue
			}
			d.ChannelName = string(ch.Name)
			picked = append(picked, d)
			break
		}
	}
	return dedupeByVersion(picked)
}

// Matches reports whether the channel admits the draft. A pattern that
// fails to compile is logged and treated as absent, so a bad rule can
// never permanently break a tracker.
func Matches(d model.Draft, ch model.Channel) bool {
	switch ch.Type {
	case model.TypeRelease:
		if d.Prerelease {
			return false
		}
	case model.TypePrerelease:
		if !d.Prerelease {
			return false
		}
	}
	if ch.IncludePattern != "" {
		re, err := regexp.Compile(ch.IncludePattern)
		if err != nil {
			slog.Error("invalid include_pattern, rule ignored", "channel", ch.Name, "pattern", ch.IncludePattern, "error", err)
		} else if !re.MatchString(d.Tag) {
			return false
		}
	}
	if ch.ExcludePattern != "" {
		re, err := regexp.Compile(ch.ExcludePattern)
		if err != nil {
			slog.Error("invalid exclude_pattern, rule ignored", "channel", ch.Name, "pattern", ch.ExcludePattern, "error", err)
		} else if re.MatchString(d.Tag) {
			return false
		}
	}
	return true
}

// SelectFallback implements the no-channel-list rule: the first draft that
// is not a prerelease by flag or by version marker, modulated by the
// optional legacy patterns, tagged with a synthetic channel derived from
// its prerelease flag.
func SelectFallback(includePattern, excludePattern string, drafts []model.Draft) []model.Draft {
	for _, d := range drafts {
		if !legacyAdmits(d, includePattern, excludePattern) {
			continue
		}
		if d.Prerelease {
			d.ChannelName = string(model.ChannelPrerelease)
		} else {
			d.ChannelName = string(model.ChannelStable)
		}
		return []model.Draft{d}
	}
	return nil
}

func legacyAdmits(d model.Draft, includePattern, excludePattern string) bool {
	if d.Prerelease {
		return false
	}
	lower := strings.ToLower(d.Version)
	for _, marker := range legacyPrereleaseMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	if includePattern != "" {
		re, err := regexp.Compile(includePattern)
		if err != nil {
			slog.Error("invalid legacy include pattern, rule ignored", "pattern", includePattern, "error", err)
		} else if !re.MatchString(d.Tag) {
			return false
		}
	}
	if excludePattern != "" {
		re, err := regexp.Compile(excludePattern)
		if err != nil {
			slog.Error("invalid legacy exclude pattern, rule ignored", "pattern", excludePattern, "error", err)
		} else if re.MatchString(d.Tag) {
			return false
		}
	}
	return true
}

// dedupeByVersion collapses drafts sharing a version, keeping the channel
// name assigned last so later channels in config order win the tie-break.
func dedupeByVersion(drafts []model.Draft) []model.Draft {
	index := make(map[string]int, len(drafts))
	var out []model.Draft
	for _, d := range drafts {
		if i, seen := index[d.Version]; seen {
			out[i] = d
			continue
		}
		index[d.Version] = len(out)
		out = append(out, d)
	}
	return out
}
