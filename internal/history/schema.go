// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// Schema is the SQLite schema for the outcome archive.
const Schema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- One row per task that reached a terminal state
CREATE TABLE IF NOT EXISTS outcomes (
    task_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,             -- Completed or Failed
    reason TEXT NOT NULL DEFAULT '', -- failure reason
    found_primes INTEGER NOT NULL DEFAULT 0,
    numbers_checked INTEGER NOT NULL DEFAULT 0,
    total_time_ms INTEGER NOT NULL DEFAULT 0,
    payload TEXT NOT NULL,           -- the terminal state as streamed
    finished_at INTEGER NOT NULL     -- Unix milliseconds
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_outcomes_finished_at ON outcomes(finished_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_state ON outcomes(state);
`

// InitMetadata records the schema version on first open.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
`
