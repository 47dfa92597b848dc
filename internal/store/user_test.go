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

package store

import (
	"errors"
	"testing"
	"time"

	"github.com/westarle/releasetracker/internal/model"
)

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	created, err := s.CreateUser(&model.User{
		Username:     "admin",
		Email:        "admin@example.com",
		PasswordHash: "$2a$10$hash",
		Status:       model.UserStatusActive,
	})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	byName, err := s.GetUserByUsername("admin")
	if err != nil || byName.ID != created.ID {
		t.Errorf("GetUserByUsername() = %+v, %v", byName, err)
	}

	if err := s.UpdateUserPassword(created.ID, "$2a$10$newhash"); err != nil {
		t.Fatal(err)
	}
	byID, err := s.GetUserByID(created.ID)
	if err != nil || byID.PasswordHash != "$2a$10$newhash" {
		t.Errorf("password update not visible: %+v, %v", byID, err)
	}

	if _, err := s.GetUserByUsername("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUserByUsername(ghost) error = %v, want ErrNotFound", err)
	}

	// Duplicate usernames are rejected by the unique constraint.
	if _, err := s.CreateUser(&model.User{Username: "admin", Status: model.UserStatusActive}); err == nil {
		t.Error("CreateUser() duplicate error = nil, want constraint violation")
	}
}

func TestUserOIDCLink(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	created, err := s.CreateUser(&model.User{
		Username:     "jamie",
		Email:        "jamie@example.com",
		Status:       model.UserStatusActive,
		OIDCSubject:  "sub-123",
		OIDCProvider: "corp-sso",
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetUserByOIDCSubject("corp-sso", "sub-123")
	if err != nil || got.ID != created.ID {
		t.Errorf("GetUserByOIDCSubject() = %+v, %v", got, err)
	}
	if _, err := s.GetUserByOIDCSubject("other-sso", "sub-123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-provider lookup error = %v, want ErrNotFound", err)
	}
}

func TestSessions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	user, err := s.CreateUser(&model.User{Username: "admin", Status: model.UserStatusActive})
	if err != nil {
		t.Fatal(err)
	}

	live := &model.Session{
		UserID:    user.ID,
		TokenHash: "live-hash",
		ExpiresAt: testTime.Add(30 * time.Minute),
		UserAgent: "test-agent",
	}
	expired := &model.Session{
		UserID:    user.ID,
		TokenHash: "stale-hash",
		ExpiresAt: testTime.Add(-time.Minute),
	}
	for _, session := range []*model.Session{live, expired} {
		if err := s.CreateSession(session); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
	}

	got, err := s.GetSession("live-hash")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.UserID != user.ID || got.UserAgent != "test-agent" {
		t.Errorf("GetSession() = %+v", got)
	}

	dropped, err := s.DeleteExpiredSessions()
	if err != nil || dropped != 1 {
		t.Errorf("DeleteExpiredSessions() = %d, %v, want 1", dropped, err)
	}
	if _, err := s.GetSession("stale-hash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired session lookup error = %v, want ErrNotFound", err)
	}

	if err := s.DeleteSession("live-hash"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSession("live-hash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted session lookup error = %v, want ErrNotFound", err)
	}
}
