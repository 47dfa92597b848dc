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

// Package releasetracker contains the business logic for the releasetracker
// CLI. It assembles the store, scheduler, notifier and HTTP API into the
// running server process.
package releasetracker

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/westarle/releasetracker/internal/auth"
	"github.com/westarle/releasetracker/internal/cli"
	"github.com/westarle/releasetracker/internal/config"
	"github.com/westarle/releasetracker/internal/notify"
	"github.com/westarle/releasetracker/internal/oidc"
	"github.com/westarle/releasetracker/internal/scheduler"
	"github.com/westarle/releasetracker/internal/secrets"
	"github.com/westarle/releasetracker/internal/server"
	"github.com/westarle/releasetracker/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Run executes the releasetracker CLI with the given command line arguments.
func Run(ctx context.Context, args ...string) error {
	commands := []*cli.Command{newServeCommand(), newVersionCommand()}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage:\n\n  releasetracker <command> [arguments]\n\nCommands:")
		for _, cmd := range commands {
			fmt.Fprintf(os.Stderr, "  %-10s %s\n", cmd.Name, cmd.Short)
		}
		return errors.New("command not specified")
	}
	cmd, err := cli.Lookup(args[0], commands)
	if err != nil {
		return err
	}
	if err := cmd.Parse(args[1:]); err != nil {
		return err
	}
	return cmd.Run(ctx)
}

func newVersionCommand() *cli.Command {
	cmd := &cli.Command{
		Name:  "version",
		Short: "version prints the version of the binary",
	}
	cmd.SetFlags(nil)
	cmd.Run = func(ctx context.Context) error {
		fmt.Println(cli.Version())
		return nil
	}
	return cmd
}

func newServeCommand() *cli.Command {
	var (
		dir    string
		listen string
	)
	cmd := &cli.Command{
		Name:  "serve",
		Short: "serve runs the release tracking server",
	}
	cmd.SetFlags([]func(fs *flag.FlagSet){
		func(fs *flag.FlagSet) {
			fs.StringVar(&dir, "dir", ".", "directory holding the config file and data")
			fs.StringVar(&listen, "listen", "", "listen address, overriding config")
		},
	})
	cmd.Run = func(ctx context.Context) error {
		return serve(ctx, dir, listen)
	}
	return cmd
}

// serve assembles and runs the server until ctx is canceled.
func serve(ctx context.Context, dir, listen string) error {
	cfg, err := config.New(dir)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if _, err := cfg.IsValid(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	vault, err := secrets.NewVault(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("initializing vault: %w", err)
	}
	st, err := store.Open(cfg.DatabasePath, vault)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	authSvc := auth.NewService(st, cfg.JWTSecret)
	if err := authSvc.EnsureAdminUser(); err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(st)
	jobs := scheduler.New(st, dispatcher)
	if err := jobs.Initialize(); err != nil {
		return err
	}
	ssoSvc := oidc.NewService(st, authSvc)
	api := server.New(st, authSvc, ssoSvc, jobs, dispatcher, cfg)

	go authSvc.RunSessionCleanup(ctx)
	go runStateCleanup(ctx, st)
	jobs.Start(ctx)
	defer jobs.Stop()

	httpServer := &http.Server{Addr: cfg.Listen, Handler: api.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutting down http server", "error", err)
		}
	}()

	slog.Info("server listening", "addr", cfg.Listen)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// runStateCleanup purges expired SSO login states hourly.
func runStateCleanup(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := st.PurgeExpiredOAuthStates(); err != nil {
				slog.Error("purging login states", "error", err)
			} else if n > 0 {
				slog.Info("expired login states removed", "count", n)
			}
		}
	}
}
