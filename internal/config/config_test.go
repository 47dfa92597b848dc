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

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	for _, key := range []string{"JWT_SECRET", "ENCRYPTION_KEY", "FRONTEND_URL", "LOG_LEVEL", "TZ"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.DatabasePath != filepath.Join(dir, "data", "releases.db") {
		t.Errorf("DatabasePath = %q", c.DatabasePath)
	}
	if c.Listen != ":8080" {
		t.Errorf("Listen = %q", c.Listen)
	}
	if !c.InsecureDefaults {
		t.Error("InsecureDefaults = false, want true without secrets in env")
	}
	if c.Timezone != time.UTC {
		t.Errorf("Timezone = %v, want UTC", c.Timezone)
	}
	if ok, err := c.IsValid(); !ok {
		t.Errorf("IsValid() = %v", err)
	}
}

func TestNewFromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("ENCRYPTION_KEY", "env-key")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FRONTEND_URL", "https://tracker.example.com")
	t.Setenv("TZ", "Europe/Berlin")

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.JWTSecret != "env-secret" || c.EncryptionKey != "env-key" {
		t.Error("secrets not read from environment")
	}
	if c.InsecureDefaults {
		t.Error("InsecureDefaults = true with both secrets set")
	}
	if c.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", c.LogLevel)
	}
	if c.FrontendURL != "https://tracker.example.com" {
		t.Errorf("FrontendURL = %q", c.FrontendURL)
	}
	if c.Timezone.String() != "Europe/Berlin" {
		t.Errorf("Timezone = %v", c.Timezone)
	}
}

func TestNewAppliesConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := []byte("listen = \":9090\"\ndatabase_path = \"/var/lib/tracker/releases.db\"\n")
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), file, 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Listen != ":9090" || c.DatabasePath != "/var/lib/tracker/releases.db" {
		t.Errorf("file overrides not applied: %+v", c)
	}
}

func TestNewRejectsMalformedConfigFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte("listen = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Error("New() error = nil, want parse failure")
	}
}

func TestUnparseableTimezoneFallsBack(t *testing.T) {
	t.Setenv("TZ", "Not/AZone")
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if c.Timezone != time.UTC {
		t.Errorf("Timezone = %v, want UTC fallback", c.Timezone)
	}
}

func TestIsValid(t *testing.T) {
	for _, test := range []struct {
		name string
		mutt func(*Config)
	}{
		{"MissingDatabasePath", func(c *Config) { c.DatabasePath = "" }},
		{"MissingListen", func(c *Config) { c.Listen = "" }},
	} {
		t.Run(test.name, func(t *testing.T) {
			c, err := New(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			test.mutt(c)
			if ok, _ := c.IsValid(); ok {
				t.Error("IsValid() = true, want false")
			}
		})
	}
}
