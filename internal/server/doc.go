// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes prime calculations and live task progress over HTTP.
//
// # Endpoints
//
//   - POST /api/prime        - Submit a calculation, returns the task id at once
//   - GET  /api/stream       - Server-sent events with a snapshot of every task
//   - GET  /api/stream/{id}  - Server-sent events for one task
//   - GET  /api/tasks        - One-shot snapshot of every task
//   - GET  /api/tasks/{id}   - One task
//   - GET  /api/health       - Liveness probe
//   - GET  /api/stats        - Task counts, subscribers and uptime
//   - GET  /api/history      - Archived terminal outcomes (when enabled)
//
// Snapshot events are unnamed "data:" events holding a JSON object keyed by
// task id. A stream for an unknown task sends a single "not_found" event and
// ends; a snapshot that cannot be encoded is replaced by an "error" event.
//
// # Middleware
//
//   - Panic recovery with stack trace logging
//   - Security headers
//   - Request logging with timing information
//   - CORS for the configured browser origins
//   - Token-bucket rate limiting per client IP (golang.org/x/time/rate)
//   - Optional bearer token authentication
//
// # Usage
//
//	registry := tasks.NewRegistry()
//	executor := tasks.NewExecutor(registry, cfg.Tasks.ProgressBuffer)
//	broadcaster := tasks.NewBroadcaster(registry, cfg.Stream.Interval)
//	srv := server.New(cfg, executor, broadcaster)
//	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
//		log.Fatal(err)
//	}
package server
