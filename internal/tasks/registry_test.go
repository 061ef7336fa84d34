// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func progressAt(count uint64) Progress {
	return Progress{Metrics: counterMetrics{Count: count}, Timestamp: count}
}

// =============================================================================
// REGISTER / GET
// =============================================================================

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	require.NoError(t, r.Register(id, Running(progressAt(0))))

	state, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, KindRunning, state.Kind)
	assert.Equal(t, counterMetrics{}, state.Progress.Metrics)
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	require.NoError(t, r.Register(id, Running(progressAt(1))))
	err := r.Register(id, Running(progressAt(2)))
	require.ErrorIs(t, err, ErrDuplicateTask)

	// the original entry is not overwritten
	state, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.Progress.Timestamp)
}

func TestRegistry_UnknownID(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	_, err := r.Get(id)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = r.UpdateProgress(id, progressAt(1))
	assert.ErrorIs(t, err, ErrTaskNotFound)

	assert.ErrorIs(t, r.StoreResult(id, Completion{}), ErrTaskNotFound)
	assert.ErrorIs(t, r.StoreFailure(id, "boom"), ErrTaskNotFound)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestRegistry_UpdateProgressLastWriteWins(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	require.NoError(t, r.Register(id, Running(progressAt(0))))

	for i := uint64(1); i <= 5; i++ {
		applied, err := r.UpdateProgress(id, progressAt(i))
		require.NoError(t, err)
		require.True(t, applied)
	}

	state, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), state.Progress.Timestamp)
}

func TestRegistry_TerminalIsFinal(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	require.NoError(t, r.Register(id, Running(progressAt(0))))
	require.NoError(t, r.StoreFailure(id, "prime_calculation failed: batch size must be greater than zero"))

	// late progress is ignored
	applied, err := r.UpdateProgress(id, progressAt(9))
	require.NoError(t, err)
	assert.False(t, applied)

	// late result and duplicate failure are rejected
	assert.ErrorIs(t, r.StoreResult(id, Completion{Metrics: counterMetrics{Count: 1}}), ErrTaskTerminal)
	assert.ErrorIs(t, r.StoreFailure(id, "again"), ErrTaskTerminal)

	state, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, KindFailed, state.Kind)
	assert.Equal(t, "prime_calculation failed: batch size must be greater than zero", state.Error)
}

func TestRegistry_CompletedIsFinal(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	require.NoError(t, r.Register(id, Running(progressAt(0))))
	require.NoError(t, r.StoreResult(id, Completion{Metrics: counterMetrics{Count: 4}}))

	assert.ErrorIs(t, r.StoreFailure(id, "late"), ErrTaskTerminal)

	state, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, KindCompleted, state.Kind)
	assert.Equal(t, counterMetrics{Count: 4}, state.Completion.Metrics)
}

func TestRegistry_TerminalHook(t *testing.T) {
	r := NewRegistry()

	var mu sync.Mutex
	seen := make(map[uuid.UUID]Kind)
	r.OnTerminal(func(id uuid.UUID, state State) {
		// hooks run outside the lock, so reading back must not deadlock
		_, _ = r.Get(id)
		mu.Lock()
		seen[id] = state.Kind
		mu.Unlock()
	})

	ok, failed := uuid.New(), uuid.New()
	require.NoError(t, r.Register(ok, Running(progressAt(0))))
	require.NoError(t, r.Register(failed, Running(progressAt(0))))
	require.NoError(t, r.StoreResult(ok, Completion{}))
	require.NoError(t, r.StoreFailure(failed, "boom"))
	require.ErrorIs(t, r.StoreFailure(failed, "twice"), ErrTaskTerminal)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[uuid.UUID]Kind{ok: KindCompleted, failed: KindFailed}, seen)
}

func TestRegistry_RetainTerminalEvictsOldest(t *testing.T) {
	r := NewRegistryWithOptions(2)

	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, r.Register(ids[i], Running(progressAt(0))))
	}
	running := uuid.New()
	require.NoError(t, r.Register(running, Running(progressAt(0))))

	for _, id := range ids {
		require.NoError(t, r.StoreResult(id, Completion{}))
	}

	assert.Equal(t, 3, r.Len())
	for _, id := range ids[:2] {
		_, err := r.Get(id)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	}
	for _, id := range append(ids[2:], running) {
		_, err := r.Get(id)
		assert.NoError(t, err)
	}
}

func TestRegistry_EvictedIDNotReused(t *testing.T) {
	r := NewRegistryWithOptions(1)

	first, second := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{first, second} {
		require.NoError(t, r.Register(id, Running(progressAt(0))))
		require.NoError(t, r.StoreResult(id, Completion{}))
	}

	_, err := r.Get(first)
	require.ErrorIs(t, err, ErrTaskNotFound)

	err = r.Register(first, Running(progressAt(0)))
	assert.ErrorIs(t, err, ErrDuplicateTask)
	_, err = r.Get(first)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Equal(t, 1, r.Len())
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := NewRegistry()
	const n = 200

	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			assert.NoError(t, r.Register(id, Running(progressAt(0))))
		}(id)
	}
	wg.Wait()

	snapshot := r.Snapshot()
	require.Len(t, snapshot, n)
	for _, id := range ids {
		assert.Contains(t, snapshot, id)
	}
}

func TestRegistry_SnapshotMatchesGet(t *testing.T) {
	r := NewRegistry()

	running, completed, failed := uuid.New(), uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{running, completed, failed} {
		require.NoError(t, r.Register(id, Running(progressAt(0))))
	}
	_, err := r.UpdateProgress(running, progressAt(3))
	require.NoError(t, err)
	require.NoError(t, r.StoreResult(completed, Completion{Metrics: counterMetrics{Count: 2}, Timestamp: 8}))
	require.NoError(t, r.StoreFailure(failed, "boom"))

	data, err := json.Marshal(r.Snapshot())
	require.NoError(t, err)

	var decoded map[uuid.UUID]State
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)

	for id, got := range decoded {
		want, err := r.Get(id)
		require.NoError(t, err)

		wantJSON, err := json.Marshal(want)
		require.NoError(t, err)
		gotJSON, err := json.Marshal(got)
		require.NoError(t, err)
		assert.JSONEq(t, string(wantJSON), string(gotJSON), "task %s", id)
	}
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	require.NoError(t, r.Register(id, Running(progressAt(0))))

	snapshot := r.Snapshot()
	delete(snapshot, id)

	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ConcurrentReadersAndWriter(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()
	require.NoError(t, r.Register(id, Running(progressAt(0))))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= 1000; i++ {
			_, _ = r.UpdateProgress(id, progressAt(i))
		}
		_ = r.StoreResult(id, Completion{})
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = r.Snapshot()
				_, _ = r.Get(id)
			}
		}()
	}
	wg.Wait()

	state, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, KindCompleted, state.Kind)
}

func TestRegistry_Counts(t *testing.T) {
	r := NewRegistry()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{a, b, c} {
		require.NoError(t, r.Register(id, Running(progressAt(0))))
	}
	require.NoError(t, r.StoreResult(b, Completion{}))
	require.NoError(t, r.StoreFailure(c, "x"))

	assert.Equal(t, Counts{Running: 1, Completed: 1, Failed: 1}, r.Counts())
	assert.Equal(t, "Running: 1 | Completed: 1 | Failed: 1", r.Summary())
}
