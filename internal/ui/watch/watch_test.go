// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/primestream/internal/client"
	"github.com/jeranaias/primestream/internal/config"
	"github.com/jeranaias/primestream/internal/primes"
	"github.com/jeranaias/primestream/internal/server"
	"github.com/jeranaias/primestream/internal/tasks"
)

func runningState(current uint64, found uint32, pct float32) tasks.State {
	return tasks.Running(tasks.Progress{
		Metrics: primes.ProgressMetrics{
			CurrentNumber:      current,
			FoundPrimes:        found,
			PercentageComplete: pct,
			CurrentMemoryUsage: 2048,
			ElapsedTimeMs:      1500,
		},
	})
}

func completedState(found uint32) tasks.State {
	return tasks.Completed(tasks.Completion{
		Metrics: primes.CompletedMetrics{
			FoundPrimes:    found,
			TotalTimeMs:    20,
			MaxMemoryBytes: 4096,
			NumbersChecked: 1000,
		},
	})
}

// =============================================================================
// ROW TESTS
// =============================================================================

func TestRowFromState(t *testing.T) {
	id := uuid.New()

	row := RowFromState(id, runningState(5000, 669, 50))
	assert.Equal(t, tasks.KindRunning, row.State)
	assert.Equal(t, uint64(5000), row.Current)
	assert.Equal(t, uint32(669), row.Found)
	assert.InDelta(t, 50.0, row.Percent, 0.001)
	assert.Equal(t, 1500*time.Millisecond, row.Elapsed())

	row = RowFromState(id, completedState(168))
	assert.Equal(t, tasks.KindCompleted, row.State)
	assert.Equal(t, 100.0, row.Percent)
	assert.Equal(t, uint64(1000), row.Current)
	assert.Equal(t, uint64(4096), row.MemoryBytes)

	row = RowFromState(id, tasks.Failed("batch size must be greater than zero"))
	assert.Equal(t, tasks.KindFailed, row.State)
	assert.Equal(t, "batch size must be greater than zero", row.Reason)
	assert.Zero(t, row.Found)
}

func TestRowFromState_ForeignMetrics(t *testing.T) {
	state := tasks.Running(tasks.Progress{Metrics: tasks.RawMetrics{Kind: "Other"}})
	row := RowFromState(uuid.New(), state)
	assert.Equal(t, tasks.KindRunning, row.State)
	assert.Zero(t, row.Percent)
	assert.Zero(t, row.Found)
}

func TestRows_RunningFirst(t *testing.T) {
	running := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")
	doneA := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	doneB := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	rows := Rows(client.Snapshot{
		doneB:   completedState(1),
		running: runningState(1, 0, 1),
		doneA:   tasks.Failed("x"),
	})
	require.Len(t, rows, 3)
	assert.Equal(t, running, rows[0].ID)
	assert.Equal(t, doneA, rows[1].ID)
	assert.Equal(t, doneB, rows[2].ID)
}

func TestFormatPlain(t *testing.T) {
	id := uuid.MustParse("1234abcd-0000-0000-0000-000000000000")

	line := FormatPlain(RowFromState(id, runningState(123456, 11234, 12.34)))
	assert.True(t, strings.HasPrefix(line, "1234abcd"))
	assert.Contains(t, line, "Running")
	assert.Contains(t, line, " 12.3%")
	assert.Contains(t, line, "found 11,234")
	assert.Contains(t, line, "n 123,456")
	assert.Contains(t, line, "1.5s")
	assert.Contains(t, line, "2.0 KiB")

	line = FormatPlain(RowFromState(id, tasks.Failed("boom")))
	assert.True(t, strings.HasSuffix(line, "  boom"))

	assert.True(t, strings.HasPrefix(PlainHeader(), "TASK"))
}

// =============================================================================
// MODEL TESTS
// =============================================================================

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func TestModel_QuitKeys(t *testing.T) {
	for _, key := range []string{"q", "esc", "ctrl+c"} {
		var msg tea.KeyMsg
		switch key {
		case "q":
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "ctrl+c":
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		}

		m, cmd := update(t, NewModel(nil, Options{}), msg)
		assert.True(t, m.Done(), key)
		require.NotNil(t, cmd, key)
		assert.Equal(t, tea.Quit(), cmd(), key)
	}
}

func TestModel_SnapshotUpdatesRows(t *testing.T) {
	id := uuid.New()
	m := NewModel(nil, Options{})

	assert.Contains(t, m.View(), "waiting for the first snapshot")

	m, cmd := update(t, m, eventMsg(client.StreamEvent{Snapshot: client.Snapshot{id: runningState(10, 4, 10)}}))
	assert.False(t, m.Done())
	assert.NotNil(t, cmd)
	require.Len(t, m.Rows(), 1)
	assert.Equal(t, id, m.Rows()[0].ID)

	view := m.View()
	assert.Contains(t, view, "all tasks")
	assert.Contains(t, view, id.String()[:8])
	assert.Contains(t, view, "1 running")
	assert.Contains(t, view, "1 updates")
}

func TestModel_WatchedTaskFinishes(t *testing.T) {
	id := uuid.New()
	other := uuid.New()
	m := NewModel(nil, Options{TaskID: id, Source: "http://127.0.0.1:5001"})

	// another task finishing does not end the monitor
	m, _ = update(t, m, eventMsg(client.StreamEvent{Snapshot: client.Snapshot{
		id:    runningState(10, 4, 10),
		other: completedState(1),
	}}))
	assert.False(t, m.Done())

	m, cmd := update(t, m, eventMsg(client.StreamEvent{Snapshot: client.Snapshot{id: completedState(4)}}))
	assert.True(t, m.Done())
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Contains(t, m.View(), "task "+id.String())
	assert.Contains(t, m.View(), "@ http://127.0.0.1:5001")
}

func TestModel_NoticeAndError(t *testing.T) {
	m := NewModel(nil, Options{})

	m, _ = update(t, m, eventMsg(client.StreamEvent{Message: "Error serializing tasks"}))
	assert.False(t, m.Done())
	assert.Contains(t, m.View(), "Error serializing tasks")

	streamErr := errors.New("connection reset")
	m, cmd := update(t, m, eventMsg(client.StreamEvent{Err: streamErr}))
	assert.True(t, m.Done())
	assert.ErrorIs(t, m.Err(), streamErr)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Contains(t, m.View(), "error: connection reset")
}

func TestModel_StreamClosed(t *testing.T) {
	m, cmd := update(t, NewModel(nil, Options{}), streamClosedMsg{})
	assert.True(t, m.Done())
	assert.Equal(t, tea.Quit(), cmd())
	assert.Contains(t, m.View(), "stream closed")
}

func TestModel_WindowSize(t *testing.T) {
	m, _ := update(t, NewModel(nil, Options{}), tea.WindowSizeMsg{Width: 200, Height: 40})
	assert.Equal(t, 40, m.bar.Width)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	assert.Equal(t, 10, m.bar.Width)
}

func TestWaitForEvent(t *testing.T) {
	events := make(chan client.StreamEvent, 1)
	events <- client.StreamEvent{Message: "hi"}
	close(events)

	cmd := waitForEvent(events)
	assert.Equal(t, eventMsg(client.StreamEvent{Message: "hi"}), cmd())
	assert.Equal(t, streamClosedMsg{}, cmd())
}

// =============================================================================
// PLAIN OUTPUT TESTS
// =============================================================================

func TestRunPlain_FollowsTaskToCompletion(t *testing.T) {
	cfg := config.Default()
	cfg.Stream.Interval = 10 * time.Millisecond
	cfg.Server.RateLimitRPS = 0

	registry := tasks.NewRegistry()
	executor := tasks.NewExecutor(registry, cfg.Tasks.ProgressBuffer)
	broadcaster := tasks.NewBroadcaster(registry, cfg.Stream.Interval)
	ts := httptest.NewServer(server.New(cfg, executor, broadcaster).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := client.NewClientWithConfig(&client.ClientConfig{BaseURL: ts.URL})
	resp, err := c.Submit(ctx, client.SubmitRequest{UpperBound: 1000})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, RunPlain(ctx, c, resp.TaskID, &out))
	require.NoError(t, ctx.Err(), "RunPlain should stop on completion, not timeout")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[0], "TASK"))

	last := lines[len(lines)-1]
	assert.Contains(t, last, "Completed")
	assert.Contains(t, last, "found 168")

	// unchanged rows are not repeated
	seen := make(map[string]bool)
	for _, line := range lines[1:] {
		assert.False(t, seen[line], "duplicate line %q", line)
		seen[line] = true
	}
}

func TestRunPlain_UnknownTask(t *testing.T) {
	cfg := config.Default()
	cfg.Server.RateLimitRPS = 0
	registry := tasks.NewRegistry()
	srv := server.New(cfg, tasks.NewExecutor(registry, 1), tasks.NewBroadcaster(registry, 10*time.Millisecond))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := client.NewClientWithConfig(&client.ClientConfig{BaseURL: ts.URL})
	err := RunPlain(ctx, c, uuid.New(), &bytes.Buffer{})
	assert.True(t, client.IsNotFound(err))
}
