// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for primestream.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, validation and live reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: listener, CORS, auth and rate limiting
//   - TasksConfig: batch size, progress channel and retention settings
//   - Watcher: fsnotify-based reloader for a config file
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (PRIMESTREAM_*)
//   - ~/.primestream/config.toml
//   - ~/.primestream/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, path, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Reload on change:
//
//	w, err := config.NewWatcher(path, 0, func(cfg *config.Config) {
//	    broadcaster.SetInterval(cfg.Stream.Interval)
//	})
//	w.Start()
//	defer w.Close()
package config
