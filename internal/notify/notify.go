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

// Package notify delivers release events to webhook targets. Delivery is
// best effort with a bounded, rate-limit-aware retry; a failed target never
// blocks the poll that produced the event.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/enescakir/emoji"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/sync/errgroup"

	"github.com/westarle/releasetracker/internal/model"
)

const (
	// maxAttempts bounds both rate-limit and transport retries.
	maxAttempts = 4
	// rateLimitMargin is added on top of whatever wait the endpoint asked
	// for, so a clock-skewed server does not see an early retry.
	rateLimitMargin = 500 * time.Millisecond
	// maxRateLimitWait caps the honored wait; anything longer and the event
	// is better dropped than delivered stale.
	maxRateLimitWait = 30 * time.Second

	requestTimeout = 10 * time.Second

	// descriptionLimit truncates release bodies for the embed block.
	descriptionLimit = 2000

	colorStable     = 0x2ECC71
	colorPrerelease = 0xE67E22
)

// NotifierSource yields the current delivery targets. Implemented by the
// store; re-read per event so runtime edits apply immediately.
type NotifierSource interface {
	ListEnabledNotifiers() ([]*model.Notifier, error)
}

// Dispatcher fans release events out to webhook notifiers.
type Dispatcher struct {
	source NotifierSource
	client *http.Client

	// sleep is swapped in tests to observe waits without serving them.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher returns a Dispatcher reading targets from source.
func NewDispatcher(source NotifierSource) *Dispatcher {
	return &Dispatcher{
		source: source,
		client: &http.Client{Timeout: requestTimeout},
		sleep:  gax.Sleep,
	}
}

// Dispatch delivers one event to every enabled notifier subscribed to it,
// in parallel. Individual failures are logged and swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.EventKind, release *model.Release) {
	notifiers, err := d.source.ListEnabledNotifiers()
	if err != nil {
		slog.Error("loading notifiers", "event", event, "error", err)
		return
	}

	body, err := json.Marshal(buildPayload(event, release))
	if err != nil {
		slog.Error("encoding notification payload", "event", event, "error", err)
		return
	}

	var group errgroup.Group
	for _, n := range notifiers {
		if !n.Subscribed(event) {
			continue
		}
		group.Go(func() error {
			if err := d.send(ctx, n.URL, body); err != nil {
				slog.Error("webhook delivery failed", "notifier", n.Name, "event", event, "error", err)
			}
			return nil
		})
	}
	group.Wait()
}

// SendTest delivers a static test payload to one notifier and returns the
// delivery error so interactive callers can surface it.
func (d *Dispatcher) SendTest(ctx context.Context, n *model.Notifier) error {
	message := "This is a test notification from releasetracker"
	body, err := json.Marshal(map[string]string{
		"event":     "test",
		"message":   message,
		"content":   message,
		"text":      message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return d.send(ctx, n.URL, body)
}

// send posts body to url, retrying per the rate-limit contract: a 429 waits
// the interval the endpoint asked for plus a safety margin, any other HTTP
// error is terminal, and transport errors back off 1s, 2s, 4s. The payload
// is byte-identical across attempts.
func (d *Dispatcher) send(ctx context.Context, url string, body []byte) error {
	transportDelay := time.Second
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			if attempt == maxAttempts {
				return fmt.Errorf("delivering webhook: %w", err)
			}
			if err := d.sleep(ctx, transportDelay); err != nil {
				return err
			}
			transportDelay *= 2
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt == maxAttempts {
				return fmt.Errorf("rate limited after %d attempts", maxAttempts)
			}
			wait := rateLimitWait(resp.Header, respBody) + rateLimitMargin
			if wait > maxRateLimitWait {
				wait = maxRateLimitWait
			}
			slog.Warn("webhook rate limited", "url", url, "wait", wait, "attempt", attempt)
			if err := d.sleep(ctx, wait); err != nil {
				return err
			}
		default:
			return fmt.Errorf("webhook returned %s", resp.Status)
		}
	}
}

// rateLimitWait extracts the requested backoff from a 429 response: the
// Retry-After header in seconds first, else a retry_after JSON field where
// values over 60 follow the millisecond convention, else one second.
func rateLimitWait(header http.Header, body []byte) time.Duration {
	if h := header.Get("Retry-After"); h != "" {
		if secs, err := strconv.ParseFloat(h, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	var parsed struct {
		RetryAfter *float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.RetryAfter != nil && *parsed.RetryAfter >= 0 {
		v := *parsed.RetryAfter
		if v > 60 {
			v /= 1000
		}
		return time.Duration(v * float64(time.Second))
	}
	return time.Second
}

type payload struct {
	Event   string  `json:"event"`
	Tracker string  `json:"tracker"`
	Version string  `json:"version"`
	Content string  `json:"content"`
	Text    string  `json:"text"`
	Embeds  []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields"`
	Footer      embedFooter  `json:"footer"`
	Timestamp   string       `json:"timestamp"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

func buildPayload(event model.EventKind, r *model.Release) payload {
	label := "New release"
	if event == model.EventRepublish {
		label = "Release republished"
	}
	summary := fmt.Sprintf("%s: %s %s", label, r.TrackerName, r.Version)

	color := colorStable
	if r.Prerelease {
		color = colorPrerelease
	}

	fields := []embedField{
		{Name: "Tag", Value: r.Tag, Inline: true},
	}
	if r.ChannelName != "" {
		fields = append(fields, embedField{Name: "Channel", Value: r.ChannelName, Inline: true})
	}
	fields = append(fields, embedField{Name: "Published", Value: r.PublishedAt.UTC().Format(time.RFC3339), Inline: true})

	return payload{
		Event:   string(event),
		Tracker: r.TrackerName,
		Version: r.Version,
		Content: summary,
		Text:    summary,
		Embeds: []embed{{
			Title:       fmt.Sprintf("%s %s", r.Name, r.Version),
			Description: emoji.Parse(truncate(r.Body, descriptionLimit)),
			URL:         r.URL,
			Color:       color,
			Fields:      fields,
			Footer:      embedFooter{Text: "releasetracker"},
			Timestamp:   r.PublishedAt.UTC().Format(time.RFC3339),
		}},
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
