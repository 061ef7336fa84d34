// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/primestream/internal/config"
	"github.com/jeranaias/primestream/internal/primes"
	"github.com/jeranaias/primestream/internal/server"
	"github.com/jeranaias/primestream/internal/tasks"
)

const testTimeout = 5 * time.Second

// startServer runs a real API server and returns a client pointed at it.
func startServer(t *testing.T, token string) (*Client, *tasks.Registry) {
	t.Helper()

	cfg := config.Default()
	cfg.Stream.Interval = 10 * time.Millisecond
	cfg.Server.RateLimitRPS = 0
	cfg.Server.AuthToken = token

	registry := tasks.NewRegistry()
	executor := tasks.NewExecutor(registry, cfg.Tasks.ProgressBuffer)
	broadcaster := tasks.NewBroadcaster(registry, cfg.Stream.Interval)
	srv := server.New(cfg, executor, broadcaster)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return NewClientWithConfig(&ClientConfig{BaseURL: ts.URL + "/", AuthToken: token}), registry
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestNewClientWithConfig_Defaults(t *testing.T) {
	c := NewClientWithConfig(nil)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())

	c = NewClientWithConfig(&ClientConfig{BaseURL: "http://example.test:9/"})
	assert.Equal(t, "http://example.test:9", c.BaseURL())
	assert.Equal(t, 10*time.Second, c.httpClient.Timeout)
}

func TestClient_Health(t *testing.T) {
	c, _ := startServer(t, "")

	msg, err := c.Health(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, server.HealthMessage, msg)
}

func TestClient_SubmitAndTask(t *testing.T) {
	c, _ := startServer(t, "")
	ctx := testContext(t)

	resp, err := c.Submit(ctx, SubmitRequest{UpperBound: 10})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, resp.TaskID)
	assert.Equal(t, tasks.KindRunning, resp.State.Kind)

	var state tasks.State
	require.Eventually(t, func() bool {
		state, err = c.Task(ctx, resp.TaskID)
		return err == nil && state.IsTerminal()
	}, testTimeout, 5*time.Millisecond)

	require.Equal(t, tasks.KindCompleted, state.Kind)
	m, ok := primes.DecodeCompletion(state.Completion)
	require.True(t, ok)
	assert.Equal(t, []uint64{2, 3, 5, 7}, m.Primes)

	all, err := c.Tasks(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, resp.TaskID)
}

func TestClient_Errors(t *testing.T) {
	c, _ := startServer(t, "")
	ctx := testContext(t)

	_, err := c.Task(ctx, uuid.New())
	assert.True(t, IsNotFound(err))
	var clientErr *ClientError
	require.True(t, errors.As(err, &clientErr))
	assert.Equal(t, http.StatusNotFound, clientErr.Status)
	assert.Contains(t, clientErr.Error(), "Task not found")

	down := NewClientWithConfig(&ClientConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	_, err = down.Health(ctx)
	assert.True(t, IsNotRunning(err) || IsTimeout(err))
}

func TestClient_Unauthorized(t *testing.T) {
	c, _ := startServer(t, "secret")
	ctx := testContext(t)

	_, err := c.Tasks(ctx)
	require.NoError(t, err)

	anonymous := NewClientWithConfig(&ClientConfig{BaseURL: c.BaseURL()})
	_, err = anonymous.Tasks(ctx)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func TestClient_StreamTask(t *testing.T) {
	c, _ := startServer(t, "")
	ctx := testContext(t)

	resp, err := c.Submit(ctx, SubmitRequest{UpperBound: 1000})
	require.NoError(t, err)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var final tasks.State
	for event := range c.Stream(streamCtx, resp.TaskID) {
		require.NoError(t, event.Err)
		if event.Snapshot == nil {
			continue
		}
		require.Len(t, event.Snapshot, 1)
		final = event.Snapshot[resp.TaskID]
		if final.IsTerminal() {
			cancel()
		}
	}

	require.Equal(t, tasks.KindCompleted, final.Kind)
	m, ok := primes.DecodeCompletion(final.Completion)
	require.True(t, ok)
	assert.Equal(t, uint32(168), m.FoundPrimes)
}

func TestClient_StreamAll(t *testing.T) {
	c, registry := startServer(t, "")
	ctx := testContext(t)

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, registry.Register(id, tasks.Running(primes.InitialProgress())))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var snapshots int
	err := c.StreamEach(streamCtx, uuid.Nil, func(event StreamEvent) {
		assert.Len(t, event.Snapshot, 2)
		snapshots++
		if snapshots == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, snapshots)
}

func TestClient_StreamNotFound(t *testing.T) {
	c, _ := startServer(t, "")

	err := c.StreamEach(testContext(t), uuid.New(), func(StreamEvent) {
		t.Error("no snapshot expected for an unknown task")
	})
	assert.True(t, IsNotFound(err))

	var last StreamEvent
	for event := range c.Stream(testContext(t), uuid.New()) {
		last = event
	}
	assert.True(t, IsNotFound(last.Err))
}

// =============================================================================
// EVENT READER TESTS
// =============================================================================

func TestEventReader(t *testing.T) {
	input := ": keep-alive\n\n" +
		"data: {\"a\":1}\n\n" +
		"event: error\r\ndata: Error serializing tasks\r\n\r\n" +
		"event: not_found\ndata: line one\ndata:line two\n\n" +
		"data: incomplete"

	r := NewEventReader(strings.NewReader(input))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, RawEvent{Data: `{"a":1}`}, ev)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, RawEvent{Name: "error", Data: "Error serializing tasks"}, ev)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, RawEvent{Name: "not_found", Data: "line one\nline two"}, ev)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamEach_ServerErrorEvent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: error\ndata: Error serializing tasks\n\n")
		io.WriteString(w, "data: {}\n\n")
	}))
	defer ts.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: ts.URL})
	var events []StreamEvent
	err := c.StreamEach(testContext(t), uuid.Nil, func(event StreamEvent) {
		events = append(events, event)
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Error serializing tasks", events[0].Message)
	assert.NotNil(t, events[1].Snapshot)
	assert.Empty(t, events[1].Snapshot)
}
