// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - The serve command: API server lifecycle.

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jeranaias/primestream/internal/config"
	"github.com/jeranaias/primestream/internal/history"
	"github.com/jeranaias/primestream/internal/server"
	"github.com/jeranaias/primestream/internal/tasks"
)

const (
	// shutdownTimeout bounds the HTTP server's graceful shutdown.
	shutdownTimeout = 10 * time.Second

	// drainTimeout bounds the wait for in-flight computations after shutdown.
	drainTimeout = 10 * time.Second
)

// loadConfig loads the configuration named by --config, or the default
// file when none is given. It returns the path actually loaded ("" when
// running on defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.LoadFromPath(path)
		if err != nil {
			return nil, path, &ConfigError{Path: path, Err: err}
		}
		return cfg, path, nil
	}

	cfg, loaded, err := config.Load()
	if err != nil {
		return nil, loaded, &ConfigError{Path: loaded, Err: err}
	}
	return cfg, loaded, nil
}

// RunServe starts the API server and blocks until ctx is done (SIGINT or
// SIGTERM from Main) or the listener fails.
func RunServe(ctx context.Context, args Args) error {
	cfg, path, err := loadConfig(args.ConfigPath)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}
	return serve(ctx, cfg, path, ln)
}

// serve runs the server on ln until ctx is done.
func serve(ctx context.Context, cfg *config.Config, configPath string, ln net.Listener) error {
	registry := tasks.NewRegistryWithOptions(cfg.Tasks.RetainTerminal)

	var store *history.Store
	if cfg.History.Enabled {
		historyPath := cfg.History.Path
		if historyPath == "" {
			p, err := config.DefaultHistoryPath()
			if err != nil {
				ln.Close()
				return &ConfigError{Path: configPath, Err: err}
			}
			historyPath = p
		}

		s, err := history.Open(historyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("open history: %w", err)
		}
		store = s
		registry.OnTerminal(store.Hook())
	}

	executor := tasks.NewExecutor(registry, cfg.Tasks.ProgressBuffer)
	broadcaster := tasks.NewBroadcaster(registry, cfg.Stream.Interval)
	srv := server.New(cfg, executor, broadcaster)
	if store != nil {
		srv.WithHistory(store)
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, 0, srv.ApplyConfig)
		if err != nil {
			// hot reload is optional; the server runs on the loaded config
			log.Printf("CONFIG_WATCH_FAILED | path=%s error=%v", configPath, err)
		} else {
			watcher.Start()
			defer watcher.Close()
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Printf("SIGNAL_RECEIVED | shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("SERVER_SHUTDOWN_FAILED | error=%v", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := executor.TryWait(drainCtx); err != nil {
		log.Printf("SHUTDOWN_DRAIN_TIMEOUT | in_flight=%d", len(executor.InFlight()))
	}

	if store != nil {
		if err := store.Close(); err != nil {
			log.Printf("HISTORY_CLOSE_FAILED | error=%v", err)
		}
	}

	log.Printf("SERVER_STOPPED | %s", registry.Summary())
	return runErr
}
