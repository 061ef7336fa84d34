// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history archives terminal task outcomes in SQLite.
//
// The archive is write-mostly: outcomes are recorded by a registry terminal
// hook and listed for inspection. Nothing is ever loaded back into the task
// registry, so a restart still starts with no tasks.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/primestream/internal/primes"
	"github.com/jeranaias/primestream/internal/tasks"
)

// =============================================================================
// ERRORS / CONSTANTS
// =============================================================================

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history store closed")

const (
	// DefaultListLimit is used when List is called with limit <= 0.
	DefaultListLimit = 50

	// MaxListLimit caps a single List call.
	MaxListLimit = 1000

	// hookTimeout bounds a single archive write from the terminal hook.
	hookTimeout = 5 * time.Second
)

// =============================================================================
// RECORD
// =============================================================================

// Record is one archived terminal outcome.
type Record struct {
	TaskID         uuid.UUID       `json:"task_id"`
	State          tasks.Kind      `json:"state"`
	Reason         string          `json:"reason,omitempty"`
	FoundPrimes    uint64          `json:"found_primes"`
	NumbersChecked uint64          `json:"numbers_checked"`
	TotalTimeMs    uint64          `json:"total_time_ms"`
	Payload        json.RawMessage `json:"payload"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// NewRecord builds a record from a terminal state.
// Prime calculation metrics are summarized into the numeric columns.
func NewRecord(id uuid.UUID, state tasks.State, finishedAt time.Time) (Record, error) {
	if !state.IsTerminal() {
		return Record{}, fmt.Errorf("task %s is %s, not terminal", id, state.Kind)
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", tasks.ErrSerialization, err)
	}

	rec := Record{
		TaskID:     id,
		State:      state.Kind,
		Reason:     state.Error,
		Payload:    payload,
		FinishedAt: finishedAt,
	}
	if m, ok := primes.DecodeCompletion(state.Completion); ok && state.Kind == tasks.KindCompleted {
		rec.FoundPrimes = uint64(m.FoundPrimes)
		rec.NumbersChecked = m.NumbersChecked
		rec.TotalTimeMs = m.TotalTimeMs
	}
	return rec, nil
}

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed outcome archive.
type Store struct {
	db     *sql.DB
	path   string
	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if needed) the archive at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	log.Printf("HISTORY_OPEN | path=%s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Record inserts or replaces an outcome.
func (s *Store) Record(ctx context.Context, rec Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO outcomes
			(task_id, state, reason, found_primes, numbers_checked, total_time_ms, payload, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.TaskID.String(), string(rec.State), rec.Reason,
		int64(rec.FoundPrimes), int64(rec.NumbersChecked), int64(rec.TotalTimeMs),
		string(rec.Payload), rec.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", rec.TaskID, err)
	}
	return nil
}

// List returns archived outcomes, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, state, reason, found_primes, numbers_checked, total_time_ms, payload, finished_at
		FROM outcomes
		ORDER BY finished_at DESC, task_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			id, state, reason, payload    string
			found, checked, total, millis int64
		)
		if err := rows.Scan(&id, &state, &reason, &found, &checked, &total, &payload, &millis); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		taskID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: invalid task id %q: %w", id, err)
		}
		records = append(records, Record{
			TaskID:         taskID,
			State:          tasks.Kind(state),
			Reason:         reason,
			FoundPrimes:    uint64(found),
			NumbersChecked: uint64(checked),
			TotalTimeMs:    uint64(total),
			Payload:        json.RawMessage(payload),
			FinishedAt:     time.UnixMilli(millis).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	return records, nil
}

// Count returns the number of archived outcomes per state.
func (s *Store) Count(ctx context.Context) (map[tasks.Kind]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM outcomes GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[tasks.Kind]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("count outcomes: %w", err)
		}
		counts[tasks.Kind(state)] = n
	}
	return counts, rows.Err()
}

// Hook returns a registry terminal hook that archives every outcome.
// Archive failures are logged and never affect the task.
func (s *Store) Hook() tasks.TerminalHook {
	return func(id uuid.UUID, state tasks.State) {
		rec, err := NewRecord(id, state, time.Now())
		if err != nil {
			log.Printf("HISTORY_WRITE_FAILED | task=%s error=%v", id, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if err := s.Record(ctx, rec); err != nil {
			log.Printf("HISTORY_WRITE_FAILED | task=%s error=%v", id, err)
		}
	}
}
