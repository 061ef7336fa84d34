// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/primestream/internal/config"
	"github.com/jeranaias/primestream/internal/history"
	"github.com/jeranaias/primestream/internal/primes"
	"github.com/jeranaias/primestream/internal/tasks"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize is the maximum size for a request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// Version is the server version.
	Version = "0.1.0"

	// HealthMessage is the body of the liveness probe.
	HealthMessage = "Hello, world!"

	healthPath = "/api/health"
)

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks request counters since start.
type ServerStats struct {
	Submitted atomic.Int64
	Rejected  atomic.Int64
	Streams   atomic.Int64
	StartTime time.Time
}

// NewServerStats creates a new ServerStats instance.
func NewServerStats() *ServerStats {
	return &ServerStats{StartTime: time.Now()}
}

// Uptime returns the server uptime duration.
func (s *ServerStats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Server exposes task submission, snapshots and live event streams over HTTP.
type Server struct {
	router *http.ServeMux
	server *http.Server

	executor    *tasks.Executor
	broadcaster *tasks.Broadcaster
	history     *history.Store
	limiter     *RateLimiter
	stats       *ServerStats

	// cfg is replaced wholesale by ApplyConfig
	mu  sync.RWMutex
	cfg *config.Config

	// closing ends every open event stream on Shutdown
	closing     context.Context
	stopStreams context.CancelFunc
}

// New creates a server over executor and broadcaster. A nil cfg uses config.Default().
func New(cfg *config.Config, executor *tasks.Executor, broadcaster *tasks.Broadcaster) *Server {
	if cfg == nil {
		cfg = config.Default()
	}

	closing, stop := context.WithCancel(context.Background())
	s := &Server{
		router:      http.NewServeMux(),
		executor:    executor,
		broadcaster: broadcaster,
		limiter:     NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		stats:       NewServerStats(),
		cfg:         cfg.Clone(),
		closing:     closing,
		stopStreams: stop,
	}

	s.setupRoutes()
	return s
}

// WithHistory enables GET /api/history backed by store.
func (s *Server) WithHistory(store *history.Store) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = store
	return s
}

// Config returns a copy of the configuration in effect.
func (s *Server) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// ApplyConfig applies a reloaded configuration. The stream interval, default
// batch size, progress interval, primes cap and rate limit take effect
// immediately. Listener, CORS and auth settings need a restart.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg.Clone()
	s.mu.Unlock()

	s.broadcaster.SetInterval(cfg.Stream.Interval)
	s.limiter.SetLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	log.Printf("CONFIG_APPLIED | stream_interval=%s batch_size=%d rate_limit=%s",
		cfg.Stream.Interval, cfg.Tasks.DefaultBatchSize,
		describeLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

	if old.ListenAddr() != cfg.ListenAddr() {
		log.Printf("CONFIG_RESTART_REQUIRED | field=listen old=%s new=%s", old.ListenAddr(), cfg.ListenAddr())
	}
	if old.Server.AuthToken != cfg.Server.AuthToken {
		log.Printf("CONFIG_RESTART_REQUIRED | field=server.auth_token")
	}
	if strings.Join(old.Server.CORSOrigins, ",") != strings.Join(cfg.Server.CORSOrigins, ",") {
		log.Printf("CONFIG_RESTART_REQUIRED | field=server.cors_origins")
	}
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/prime", s.handleSubmitPrime)

	s.router.HandleFunc("GET /api/stream", s.handleStream)
	s.router.HandleFunc("GET /api/stream/{id}", s.handleTaskStream)

	s.router.HandleFunc("GET /api/tasks", s.handleTasks)
	s.router.HandleFunc("GET /api/tasks/{id}", s.handleTask)

	s.router.HandleFunc("GET "+healthPath, s.handleHealth)
	s.router.HandleFunc("GET /api/stats", s.handleStats)
	s.router.HandleFunc("GET /api/history", s.handleHistory)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	cfg := s.Config()

	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		CORSMiddleware(DefaultCORSConfig(cfg.Server.CORSOrigins)),
		RateLimitMiddleware(s.limiter),
		AuthMiddleware(cfg.Server.AuthToken),
	)(s.router)
}

// ============================================================================
// API TYPES
// ============================================================================

// PrimeRequest is the body of POST /api/prime.
type PrimeRequest struct {
	UpperBound *uint64 `json:"upper_bound"`
	BatchSize  *uint32 `json:"batch_size,omitempty"`
	Visualise  bool    `json:"visualise,omitempty"`
}

// TaskResponse pairs a task id with its state.
type TaskResponse struct {
	TaskID uuid.UUID   `json:"task_id"`
	State  tasks.State `json:"state"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Message string `json:"message"`
}

// ============================================================================
// SUBMIT HANDLER
// ============================================================================

// handleSubmitPrime handles POST /api/prime. It registers the task, starts the
// calculation and answers without waiting for it.
func (s *Server) handleSubmitPrime(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req PrimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.stats.Rejected.Add(1)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return
		}
		log.Printf("SUBMIT_REJECTED | ip=%s error=%v", GetClientIP(r), err)
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.UpperBound == nil {
		s.stats.Rejected.Add(1)
		writeError(w, http.StatusBadRequest, "upper_bound is required")
		return
	}

	calc := s.newCalculator(req)
	id, state, err := s.executor.Submit(calc, primes.InitialProgress())
	if err != nil {
		log.Printf("SUBMIT_FAILED | error=%v", err)
		writeError(w, http.StatusInternalServerError, "Failed to register task")
		return
	}
	s.stats.Submitted.Add(1)

	log.Printf("TASK_SUBMITTED | task=%s bound=%d batch=%d visualise=%t",
		id, calc.Bound, calc.BatchSize, calc.Visualise)

	writeJSON(w, http.StatusOK, TaskResponse{TaskID: id, State: state})
}

// newCalculator builds a calculator from a request and the live config.
// An explicit batch_size of zero is passed through and fails the task.
func (s *Server) newCalculator(req PrimeRequest) *primes.Calculator {
	s.mu.RLock()
	taskCfg := s.cfg.Tasks
	s.mu.RUnlock()

	calc := primes.NewCalculator(*req.UpperBound)
	calc.BatchSize = taskCfg.DefaultBatchSize
	if req.BatchSize != nil {
		calc.BatchSize = *req.BatchSize
	}
	calc.ProgressInterval = taskCfg.ProgressInterval
	calc.MaxReportedPrimes = taskCfg.MaxReportedPrimes
	calc.Visualise = req.Visualise
	return calc
}

// ============================================================================
// STREAM HANDLERS
// ============================================================================

// handleStream handles GET /api/stream: every task, every tick.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.serveEvents(w, r, "all", s.broadcaster.Stream)
}

// handleTaskStream handles GET /api/stream/{id}: one task, every tick.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid task id")
		return
	}
	s.serveEvents(w, r, id.String(), func(ctx context.Context) <-chan tasks.Event {
		return s.broadcaster.StreamTask(ctx, id)
	})
}

// serveEvents relays a broadcaster stream as server-sent events until the
// client disconnects, the stream ends, or the server shuts down.
func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request, scope string, open func(context.Context) <-chan tasks.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.closing, cancel)
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.stats.Streams.Add(1)
	var sent int
	for event := range open(ctx) {
		if err := writeEvent(w, event); err != nil {
			log.Printf("STREAM_WRITE_FAILED | scope=%s error=%v", scope, err)
			cancel()
			break
		}
		flusher.Flush()
		sent++
	}

	log.Printf("STREAM_END | scope=%s events=%d", scope, sent)
}

// writeEvent writes one server-sent event. Snapshots are unnamed
// "data:" events; other events carry their name.
func writeEvent(w http.ResponseWriter, event tasks.Event) error {
	var b strings.Builder
	if !event.IsSnapshot() {
		b.WriteString("event: ")
		b.WriteString(event.Name)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(string(event.Data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	_, err := w.Write([]byte(b.String()))
	return err
}

// ============================================================================
// SNAPSHOT HANDLERS
// ============================================================================

// handleTasks handles GET /api/tasks: a one-shot snapshot.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.executor.Registry().Snapshot())
}

// handleTask handles GET /api/tasks/{id}.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid task id")
		return
	}

	state, err := s.executor.Registry().Get(id)
	if errors.Is(err, tasks.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read task")
		return
	}

	writeJSON(w, http.StatusOK, TaskResponse{TaskID: id, State: state})
}

// ============================================================================
// HEALTH / STATS / HISTORY HANDLERS
// ============================================================================

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Message: HealthMessage})
}

// StatsResponse represents the statistics response.
type StatsResponse struct {
	Version          string               `json:"version"`
	Tasks            tasks.Counts         `json:"tasks"`
	TotalTasks       int                  `json:"total_tasks"`
	InFlight         []tasks.InFlightInfo `json:"in_flight"`
	Subscribers      int64                `json:"subscribers"`
	Submitted        int64                `json:"submitted"`
	Rejected         int64                `json:"rejected"`
	StreamsOpened    int64                `json:"streams_opened"`
	StreamIntervalMs int64                `json:"stream_interval_ms"`
	RateLimitClients int                  `json:"rate_limit_clients"`
	HistoryEnabled   bool                 `json:"history_enabled"`
	UptimeSeconds    int64                `json:"uptime_seconds"`
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	registry := s.executor.Registry()

	s.mu.RLock()
	historyEnabled := s.history != nil
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, StatsResponse{
		Version:          Version,
		Tasks:            registry.Counts(),
		TotalTasks:       registry.Len(),
		InFlight:         s.executor.InFlight(),
		Subscribers:      s.broadcaster.Subscribers(),
		Submitted:        s.stats.Submitted.Load(),
		Rejected:         s.stats.Rejected.Load(),
		StreamsOpened:    s.stats.Streams.Load(),
		StreamIntervalMs: s.broadcaster.Interval().Milliseconds(),
		RateLimitClients: s.limiter.Clients(),
		HistoryEnabled:   historyEnabled,
		UptimeSeconds:    int64(s.stats.Uptime().Seconds()),
	})
}

// HistoryResponse is the body of GET /api/history.
type HistoryResponse struct {
	Enabled bool               `json:"enabled"`
	Counts  map[tasks.Kind]int `json:"counts,omitempty"`
	Records []history.Record   `json:"records"`
}

// handleHistory handles GET /api/history?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	s.mu.RLock()
	store := s.history
	s.mu.RUnlock()

	if store == nil {
		writeJSON(w, http.StatusOK, HistoryResponse{Records: []history.Record{}})
		return
	}

	records, err := store.List(r.Context(), limit)
	if err != nil {
		log.Printf("HISTORY_READ_FAILED | error=%v", err)
		writeError(w, http.StatusInternalServerError, "Failed to read history")
		return
	}
	counts, err := store.Count(r.Context())
	if err != nil {
		log.Printf("HISTORY_READ_FAILED | error=%v", err)
		writeError(w, http.StatusInternalServerError, "Failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{Enabled: true, Counts: counts, Records: records})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
// It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	addr := s.Config().ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// no WriteTimeout: event streams stay open for as long as the client listens
	}
	srv := s.server
	s.mu.Unlock()

	log.Printf("SERVER_START | addr=%s version=%s", ln.Addr(), Version)
	return srv.Serve(ln)
}

// Shutdown ends every open event stream, then gracefully shuts down the
// HTTP server. Running computations are not touched.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopStreams()

	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown %s", s.executor.Registry().Summary())
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("RESPONSE_ENCODE_FAILED | error=%v", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	errType := "invalid_request_error"
	if status >= http.StatusInternalServerError {
		errType = "server_error"
	}
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{
		Message: message,
		Type:    errType,
		Code:    status,
	}})
}
