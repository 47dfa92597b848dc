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

// Package config defines configuration used by the server, assembled from
// environment variables and an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// ConfigFile is the optional TOML file consulted next to the working
	// directory for server overrides.
	ConfigFile = "releasetracker.toml"

	// insecureJWTSecret is used when JWT_SECRET is absent. Logged loudly.
	insecureJWTSecret = "dev-insecure-secret-key-do-not-use-in-prod"
	// insecureEncryptionKey is the url-safe base64 fallback for
	// ENCRYPTION_KEY. Logged loudly.
	insecureEncryptionKey = "ZGV2LWluc2VjdXJlLWVuY3J5cHRpb24ta2V5ISEhIQ=="
)

// fileConfig is the TOML shape of ConfigFile. All fields are optional.
type fileConfig struct {
	Listen       string `toml:"listen"`
	DatabasePath string `toml:"database_path"`
	FrontendURL  string `toml:"frontend_url"`
}

// Config holds all configuration values parsed from the environment and the
// optional config file. When adding members to this struct, please keep them
// in alphabetical order.
type Config struct {
	// DatabasePath is the SQLite file. Defaults to data/releases.db under
	// the working directory.
	DatabasePath string

	// EncryptionKey is the 32-byte url-safe base64 key used for symmetric
	// authenticated encryption of credential tokens and OIDC client secrets
	// at rest. Read from ENCRYPTION_KEY.
	EncryptionKey string

	// FrontendURL is the redirect target after SSO. Read from FRONTEND_URL.
	FrontendURL string

	// InsecureDefaults is set when either secret fell back to its built-in
	// development value.
	InsecureDefaults bool

	// JWTSecret signs access and refresh tokens. Read from JWT_SECRET.
	JWTSecret string

	// Listen is the HTTP listen address, e.g. ":8080".
	Listen string

	// LogLevel is the slog level parsed from LOG_LEVEL.
	LogLevel slog.Level

	// Timezone is the IANA location used for bucketing daily stats. Read
	// from TZ; UTC when unset or unparseable.
	Timezone *time.Location
}

// New returns a Config populated from the environment and, when present,
// from ConfigFile in dir.
func New(dir string) (*Config, error) {
	c := &Config{
		DatabasePath: filepath.Join(dir, "data", "releases.db"),
		FrontendURL:  envOr("FRONTEND_URL", "http://localhost:5173"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		Listen:       ":8080",
		LogLevel:     parseLogLevel(os.Getenv("LOG_LEVEL")),
		Timezone:     loadTimezone(os.Getenv("TZ")),
	}
	c.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	if err := c.applyFile(filepath.Join(dir, ConfigFile)); err != nil {
		return nil, err
	}

	if c.JWTSecret == "" {
		slog.Warn("JWT_SECRET not set, using insecure development default")
		c.JWTSecret = insecureJWTSecret
		c.InsecureDefaults = true
	}
	if c.EncryptionKey == "" {
		slog.Warn("ENCRYPTION_KEY not set, using insecure development default")
		c.EncryptionKey = insecureEncryptionKey
		c.InsecureDefaults = true
	}
	return c, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if fc.Listen != "" {
		c.Listen = fc.Listen
	}
	if fc.DatabasePath != "" {
		c.DatabasePath = fc.DatabasePath
	}
	if fc.FrontendURL != "" {
		c.FrontendURL = fc.FrontendURL
	}
	slog.Info("applied config file", "path", path)
	return nil
}

// IsValid ensures the values contained in a Config are valid.
func (c *Config) IsValid() (bool, error) {
	if c.DatabasePath == "" {
		return false, errors.New("database path not specified")
	}
	if c.Listen == "" {
		return false, errors.New("listen address not specified")
	}
	return true, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadTimezone(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("unparseable TZ, falling back to UTC", "tz", name)
		return time.UTC
	}
	return loc
}
