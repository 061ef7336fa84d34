// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout = 5 * time.Second
	testTick    = 5 * time.Millisecond
)

// =============================================================================
// TEST COMPUTATIONS
// =============================================================================

// countComputation sends steps progress records, waiting for release first if set.
type countComputation struct {
	steps   uint64
	release chan struct{}
	err     error
	panics  bool
}

func (c *countComputation) Name() string { return "count" }

func (c *countComputation) Run(ctx context.Context, progress chan<- Progress) (Completion, error) {
	if c.release != nil {
		<-c.release
	}
	if c.panics {
		panic("count exploded")
	}
	for i := uint64(1); i <= c.steps; i++ {
		progress <- Progress{
			Metrics:   counterMetrics{Count: i, Percent: float64(i) / float64(c.steps) * 100},
			Timestamp: i,
		}
	}
	if c.err != nil {
		return Completion{}, c.err
	}
	return Completion{Metrics: counterMetrics{Count: c.steps, Percent: 100}, Timestamp: c.steps}, nil
}

func waitTerminal(t *testing.T, r *Registry, id uuid.UUID) State {
	t.Helper()
	var state State
	require.Eventually(t, func() bool {
		var err error
		state, err = r.Get(id)
		return err == nil && state.IsTerminal()
	}, testTimeout, testTick)
	return state
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestExecutor_SubmitStartsRunning(t *testing.T) {
	r := NewRegistry()
	e := NewExecutor(r, 0)

	release := make(chan struct{})
	initial := Progress{Metrics: counterMetrics{}, Timestamp: 1}
	id, state, err := e.Submit(&countComputation{steps: 3, release: release}, initial)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, KindRunning, state.Kind)

	got, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, KindRunning, got.Kind)
	assert.Equal(t, counterMetrics{}, got.Progress.Metrics)

	close(release)
	final := waitTerminal(t, r, id)
	assert.Equal(t, KindCompleted, final.Kind)
	assert.Equal(t, counterMetrics{Count: 3, Percent: 100}, final.Completion.Metrics)
}

func TestExecutor_DuplicateID(t *testing.T) {
	r := NewRegistry()
	e := NewExecutor(r, 0)

	id := uuid.New()
	_, _, err := e.SubmitWithID(id, &countComputation{}, Progress{})
	require.NoError(t, err)

	_, _, err = e.SubmitWithID(id, &countComputation{}, Progress{})
	require.ErrorIs(t, err, ErrDuplicateTask)
}

func TestExecutor_FailureKeepsCause(t *testing.T) {
	r := NewRegistry()
	e := NewExecutor(r, 0)

	id, _, err := e.Submit(&countComputation{steps: 2, err: errors.New("bound too large")}, Progress{})
	require.NoError(t, err)

	final := waitTerminal(t, r, id)
	assert.Equal(t, KindFailed, final.Kind)
	assert.Equal(t, "count failed: bound too large", final.Error)
}

func TestExecutor_PanicBecomesFailure(t *testing.T) {
	r := NewRegistry()
	e := NewExecutor(r, 0)

	id, _, err := e.Submit(&countComputation{panics: true}, Progress{})
	require.NoError(t, err)

	final := waitTerminal(t, r, id)
	assert.Equal(t, KindFailed, final.Kind)
	assert.Contains(t, final.Error, "count exploded")

	// the other tasks keep working
	ok, _, err := e.Submit(&countComputation{steps: 1}, Progress{})
	require.NoError(t, err)
	assert.Equal(t, KindCompleted, waitTerminal(t, r, ok).Kind)
}

func TestExecutor_SmallBufferBackpressure(t *testing.T) {
	r := NewRegistry()
	e := NewExecutor(r, 1)

	id, _, err := e.Submit(&countComputation{steps: 500}, Progress{})
	require.NoError(t, err)

	final := waitTerminal(t, r, id)
	assert.Equal(t, KindCompleted, final.Kind)
}

func TestExecutor_TerminalNeverReverts(t *testing.T) {
	r := NewRegistry()
	e := NewExecutor(r, 0)

	ids := make([]uuid.UUID, 20)
	for i := range ids {
		var err error
		ids[i], _, err = e.Submit(&countComputation{steps: uint64(i * 50)}, Progress{})
		require.NoError(t, err)
	}

	for _, id := range ids {
		waitTerminal(t, r, id)
	}
	require.NoError(t, e.TryWait(context.Background()))

	// nothing is left to write, so the states are stable
	for _, id := range ids {
		state, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, KindCompleted, state.Kind)
	}
}

// =============================================================================
// IN-FLIGHT TRACKING
// =============================================================================

func TestExecutor_WaitAndInFlight(t *testing.T) {
	r := NewRegistry()
	e := NewExecutor(r, 0)

	select {
	case <-e.Wait():
	default:
		t.Fatal("Wait() should be closed with nothing in flight")
	}

	release := make(chan struct{})
	_, _, err := e.Submit(&countComputation{steps: 1, release: release}, Progress{})
	require.NoError(t, err)

	assert.Equal(t, []InFlightInfo{{Name: "count", Count: 2}}, e.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.TryWait(ctx), context.DeadlineExceeded)

	close(release)
	select {
	case <-e.Wait():
	case <-time.After(testTimeout):
		t.Fatal("Wait() did not close after the computation finished")
	}
	assert.Empty(t, e.InFlight())
}

func TestExecutor_WaitAfterDrain(t *testing.T) {
	r := NewRegistry()
	e := NewExecutor(r, 0)

	for round := 0; round < 3; round++ {
		release := make(chan struct{})
		_, _, err := e.Submit(&countComputation{steps: 2, release: release}, Progress{})
		require.NoError(t, err)

		select {
		case <-e.Wait():
			t.Fatalf("round %d: Wait() closed while a computation is running", round)
		default:
		}

		close(release)
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		require.NoError(t, e.TryWait(ctx), "round %d", round)
		cancel()
		assert.Empty(t, e.InFlight())
	}
	assert.Equal(t, 3, r.Counts().Completed)
}

// =============================================================================
// THROTTLE
// =============================================================================

func TestThrottle_CountTrigger(t *testing.T) {
	throttle := NewThrottle(10, time.Hour)

	emitted := 0
	for i := 0; i < 35; i++ {
		throttle.Tick(func() { emitted++ })
	}

	// units 1, 11, 21 and 31
	assert.Equal(t, 4, emitted)
}

func TestThrottle_TimeTriggerRestartsCount(t *testing.T) {
	throttle := NewThrottle(10, 50*time.Millisecond)

	var emittedAt []int
	for unit := 1; unit <= 25; unit++ {
		if unit == 4 {
			time.Sleep(60 * time.Millisecond)
		}
		throttle.Tick(func() { emittedAt = append(emittedAt, unit) })
	}

	// the time trigger fires at unit 4; the next batch counts from there
	assert.Equal(t, []int{1, 4, 14, 24}, emittedAt)
}

func TestThrottle_CountOnly(t *testing.T) {
	throttle := NewThrottle(3, 0)

	var emittedAt []int
	for unit := 1; unit <= 10; unit++ {
		throttle.Tick(func() { emittedAt = append(emittedAt, unit) })
	}
	assert.Equal(t, []int{1, 4, 7, 10}, emittedAt)
}

func TestThrottle_TimeTrigger(t *testing.T) {
	throttle := NewThrottle(1_000_000, 10*time.Millisecond)

	emitted := 0
	throttle.Tick(func() { emitted++ })
	throttle.Tick(func() { emitted++ })
	assert.Equal(t, 1, emitted)

	time.Sleep(20 * time.Millisecond)
	throttle.Tick(func() { emitted++ })
	assert.Equal(t, 2, emitted)
}

func TestNewProgressChannel_DefaultCapacity(t *testing.T) {
	tx, rx := NewProgressChannel(0)
	for i := 0; i < DefaultProgressBuffer; i++ {
		select {
		case tx <- Progress{}:
		default:
			t.Fatalf("send %d blocked before capacity", i)
		}
	}

	select {
	case tx <- Progress{}:
		t.Fatal("send beyond capacity should block")
	default:
	}
	assert.Len(t, rx, DefaultProgressBuffer)
}
