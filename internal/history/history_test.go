// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/primestream/internal/primes"
	"github.com/jeranaias/primestream/internal/tasks"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func completedState() tasks.State {
	return tasks.Completed(tasks.Completion{
		Metrics: primes.CompletedMetrics{
			FoundPrimes:    4,
			TotalTimeMs:    12,
			NumbersChecked: 3,
			Primes:         []uint64{2, 3, 5, 7},
		},
		Timestamp: 1700000000,
	})
}

func TestNewRecord(t *testing.T) {
	id := uuid.New()
	at := time.UnixMilli(1700000000123)

	rec, err := NewRecord(id, completedState(), at)
	require.NoError(t, err)
	assert.Equal(t, tasks.KindCompleted, rec.State)
	assert.Equal(t, uint64(4), rec.FoundPrimes)
	assert.Equal(t, uint64(3), rec.NumbersChecked)
	assert.Equal(t, uint64(12), rec.TotalTimeMs)
	assert.Contains(t, string(rec.Payload), `"Completed"`)

	failed, err := NewRecord(id, tasks.Failed("boom"), at)
	require.NoError(t, err)
	assert.Equal(t, "boom", failed.Reason)
	assert.Zero(t, failed.FoundPrimes)

	_, err = NewRecord(id, tasks.Running(tasks.Progress{}), at)
	assert.Error(t, err)
}

func TestStore_RecordAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1700000000000)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, id := range ids {
		state := completedState()
		if i == 1 {
			state = tasks.Failed("prime_calculation failed: batch size must be greater than zero")
		}
		rec, err := NewRecord(id, state, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.NoError(t, store.Record(ctx, rec))
	}

	records, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// newest first
	assert.Equal(t, ids[2], records[0].TaskID)
	assert.Equal(t, ids[1], records[1].TaskID)
	assert.Equal(t, ids[0], records[2].TaskID)

	assert.Equal(t, tasks.KindFailed, records[1].State)
	assert.Equal(t, "prime_calculation failed: batch size must be greater than zero", records[1].Reason)
	assert.True(t, records[0].FinishedAt.Equal(base.Add(2*time.Second)))

	// the payload decodes back into the streamed state
	var state tasks.State
	require.NoError(t, json.Unmarshal(records[0].Payload, &state))
	assert.Equal(t, tasks.KindCompleted, state.Kind)

	limited, err := store.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[tasks.Kind]int{tasks.KindCompleted: 2, tasks.KindFailed: 1}, counts)
}

func TestStore_Hook(t *testing.T) {
	store := openTestStore(t)

	registry := tasks.NewRegistry()
	registry.OnTerminal(store.Hook())

	id := uuid.New()
	require.NoError(t, registry.Register(id, tasks.Running(primes.InitialProgress())))
	require.NoError(t, registry.StoreFailure(id, "boom"))

	records, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].TaskID)
	assert.Equal(t, tasks.KindFailed, records[0].State)
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(path)
	require.NoError(t, err)
	rec, err := NewRecord(uuid.New(), completedState(), time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), rec))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStore_Closed(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.List(context.Background(), 10)
	assert.ErrorIs(t, err, ErrClosed)

	err = store.Record(context.Background(), Record{TaskID: uuid.New()})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
