// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks provides a background task system for long-running computations.
package tasks

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDuplicateTask is returned when registering an id that is present or was evicted.
	ErrDuplicateTask = errors.New("task already registered")

	// ErrTaskNotFound is returned for any operation on an unknown id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskTerminal is returned when a result or failure arrives for a task
	// that already completed or failed. The write is discarded.
	ErrTaskTerminal = errors.New("task already in terminal state")

	// ErrChannelClosed is recorded when a computation's progress channel closes
	// before the forwarder sees a terminal outcome.
	ErrChannelClosed = errors.New("progress channel closed before terminal outcome")

	// ErrSerialization wraps snapshot encoding failures in the broadcaster.
	ErrSerialization = errors.New("snapshot serialization failed")
)

// =============================================================================
// TASK REGISTRY
// =============================================================================

// TerminalHook is called after a task reaches a terminal state.
// It runs outside the registry lock.
type TerminalHook func(id uuid.UUID, state State)

// Registry maps task ids to their current state.
// Reads (Get, Snapshot) share a read lock; every write holds the write lock
// only for the map mutation itself.
type Registry struct {
	// tasks is the current state of every tracked task
	tasks map[uuid.UUID]State

	// terminalOrder records terminal ids oldest first, used for eviction
	terminalOrder []uuid.UUID

	// evicted holds ids dropped by eviction; they stay reserved
	evicted map[uuid.UUID]struct{}

	// retainTerminal is the maximum number of terminal tasks kept (0 = unlimited)
	retainTerminal int

	// hooks run after terminal transitions
	hooks []TerminalHook

	// mu protects tasks, terminalOrder and evicted
	mu sync.RWMutex
}

// NewRegistry creates an empty registry that keeps every task for the process lifetime.
func NewRegistry() *Registry {
	return NewRegistryWithOptions(0)
}

// NewRegistryWithOptions creates a registry that keeps at most retainTerminal
// completed or failed tasks (0 = unlimited). Running tasks are never evicted,
// and an evicted id can never be registered again.
func NewRegistryWithOptions(retainTerminal int) *Registry {
	if retainTerminal < 0 {
		retainTerminal = 0
	}
	return &Registry{
		tasks:          make(map[uuid.UUID]State),
		terminalOrder:  make([]uuid.UUID, 0),
		evicted:        make(map[uuid.UUID]struct{}),
		retainTerminal: retainTerminal,
	}
}

// OnTerminal registers a hook called after every Completed or Failed transition.
// Hooks must be registered before tasks are submitted.
func (r *Registry) OnTerminal(hook TerminalHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// =============================================================================
// WRITES
// =============================================================================

// Register inserts a new entry if id has never been used.
func (r *Registry) Register(id uuid.UUID, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	if _, gone := r.evicted[id]; gone {
		return fmt.Errorf("%w: %s was evicted", ErrDuplicateTask, id)
	}
	r.tasks[id] = state
	return nil
}

// UpdateProgress replaces a running task's progress.
// Returns applied=false without error when the task is already terminal.
func (r *Registry) UpdateProgress(id uuid.UUID, p Progress) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tasks[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if current.IsTerminal() {
		return false, nil
	}
	r.tasks[id] = Running(p)
	return true, nil
}

// StoreResult transitions a running task to Completed.
func (r *Registry) StoreResult(id uuid.UUID, c Completion) error {
	return r.storeTerminal(id, Completed(c))
}

// StoreFailure transitions a running task to Failed with the given reason.
func (r *Registry) StoreFailure(id uuid.UUID, reason string) error {
	return r.storeTerminal(id, Failed(reason))
}

func (r *Registry) storeTerminal(id uuid.UUID, state State) error {
	hooks, err := r.applyTerminal(id, state)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook(id, state)
	}
	return nil
}

// applyTerminal performs the transition and returns the hooks to run once unlocked.
func (r *Registry) applyTerminal(id uuid.UUID, state State) ([]TerminalHook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if current.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, current.Kind)
	}

	r.tasks[id] = state
	r.terminalOrder = append(r.terminalOrder, id)
	r.cleanupLocked()

	return r.hooks, nil
}

// cleanupLocked evicts the oldest terminal tasks beyond retainTerminal.
// Must be called with the write lock held.
func (r *Registry) cleanupLocked() {
	if r.retainTerminal <= 0 {
		return
	}
	excess := len(r.terminalOrder) - r.retainTerminal
	if excess <= 0 {
		return
	}
	for _, id := range r.terminalOrder[:excess] {
		delete(r.tasks, id)
		r.evicted[id] = struct{}{}
	}
	r.terminalOrder = append([]uuid.UUID(nil), r.terminalOrder[excess:]...)
}

// =============================================================================
// READS
// =============================================================================

// Get returns the current state of a task.
func (r *Registry) Get(id uuid.UUID) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.tasks[id]
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return state, nil
}

// Snapshot returns a point-in-time copy of every entry.
// Snapshot values share immutable metrics and frame data with the registry.
func (r *Registry) Snapshot() map[uuid.UUID]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[uuid.UUID]State, len(r.tasks))
	for id, state := range r.tasks {
		result[id] = state
	}
	return result
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Counts holds the number of tasks per state.
type Counts struct {
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Counts returns the number of tasks in each state.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var c Counts
	for _, state := range r.tasks {
		switch state.Kind {
		case KindRunning:
			c.Running++
		case KindCompleted:
			c.Completed++
		case KindFailed:
			c.Failed++
		}
	}
	return c
}

// Summary returns a formatted summary of the registry.
func (r *Registry) Summary() string {
	c := r.Counts()
	return fmt.Sprintf("Running: %d | Completed: %d | Failed: %d", c.Running, c.Completed, c.Failed)
}
