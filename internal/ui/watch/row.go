// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/jeranaias/primestream/internal/client"
	"github.com/jeranaias/primestream/internal/primes"
	"github.com/jeranaias/primestream/internal/tasks"
	"github.com/jeranaias/primestream/internal/util"
)

// =============================================================================
// ROW
// =============================================================================

// Row is the display form of one task.
type Row struct {
	ID    uuid.UUID
	State tasks.Kind

	// Percent is 0-100.
	Percent float64

	// Current is the candidate being checked (running) or the count of
	// numbers checked (completed).
	Current uint64

	Found       uint32
	ElapsedMs   uint64
	MemoryBytes uint64

	// Reason is the failure message of a failed task.
	Reason string
}

// RowFromState builds a row from a task state. Metrics from computations
// other than the prime calculator leave the numeric fields zero.
func RowFromState(id uuid.UUID, state tasks.State) Row {
	row := Row{ID: id, State: state.Kind}

	switch state.Kind {
	case tasks.KindRunning:
		if m, ok := primes.DecodeProgress(state.Progress); ok {
			row.Percent = float64(m.PercentageComplete)
			row.Current = m.CurrentNumber
			row.Found = m.FoundPrimes
			row.ElapsedMs = m.ElapsedTimeMs
			row.MemoryBytes = m.CurrentMemoryUsage
		}
	case tasks.KindCompleted:
		row.Percent = 100
		if m, ok := primes.DecodeCompletion(state.Completion); ok {
			row.Current = m.NumbersChecked
			row.Found = m.FoundPrimes
			row.ElapsedMs = m.TotalTimeMs
			row.MemoryBytes = m.MaxMemoryBytes
		}
	case tasks.KindFailed:
		row.Reason = state.Error
	}

	if row.Percent < 0 {
		row.Percent = 0
	}
	if row.Percent > 100 {
		row.Percent = 100
	}
	return row
}

// Rows converts a snapshot into rows, running tasks first, then by id.
func Rows(snapshot client.Snapshot) []Row {
	rows := make([]Row, 0, len(snapshot))
	for id, state := range snapshot {
		rows = append(rows, RowFromState(id, state))
	}
	sort.Slice(rows, func(i, j int) bool {
		ri, rj := rows[i].State == tasks.KindRunning, rows[j].State == tasks.KindRunning
		if ri != rj {
			return ri
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
	return rows
}

// Elapsed returns the elapsed time as a duration.
func (r Row) Elapsed() time.Duration {
	return time.Duration(r.ElapsedMs) * time.Millisecond
}

// ShortID returns the first block of the task id.
func (r Row) ShortID() string {
	return r.ID.String()[:8]
}

// =============================================================================
// FORMATTING
// =============================================================================

// Column widths shared by the terminal and plain renderings.
const (
	colID      = 8
	colState   = 9
	colPercent = 6
	colFound   = 11
	colCurrent = 15
	colElapsed = 9
	colMemory  = 10
)

// formatCounts returns the found, current, elapsed and memory cells.
func (r Row) formatCounts() (found, current, elapsed, memory string) {
	found = humanize.Comma(int64(r.Found))
	current = humanize.Comma(int64(r.Current))
	elapsed = r.Elapsed().Round(time.Millisecond).String()
	memory = humanize.IBytes(r.MemoryBytes)
	return
}

// FormatPlain renders a row as one line of fixed-width columns.
func FormatPlain(r Row) string {
	found, current, elapsed, memory := r.formatCounts()

	cells := []string{
		util.PadWidth(r.ShortID(), colID),
		util.PadWidth(string(r.State), colState),
		util.PadWidth(fmt.Sprintf("%5.1f%%", r.Percent), colPercent),
		util.PadWidth("found "+found, colFound),
		util.PadWidth("n "+current, colCurrent),
		util.PadWidth(elapsed, colElapsed),
		util.PadWidth(memory, colMemory),
	}
	line := strings.Join(cells, "  ")
	if r.Reason != "" {
		line += "  " + r.Reason
	}
	return strings.TrimRight(line, " ")
}

// PlainHeader is the column header line for FormatPlain.
func PlainHeader() string {
	cells := []string{
		util.PadWidth("TASK", colID),
		util.PadWidth("STATE", colState),
		util.PadWidth("DONE", colPercent),
		util.PadWidth("PRIMES", colFound),
		util.PadWidth("NUMBER", colCurrent),
		util.PadWidth("ELAPSED", colElapsed),
		util.PadWidth("MEMORY", colMemory),
	}
	return strings.TrimRight(strings.Join(cells, "  "), " ")
}
