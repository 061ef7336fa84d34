// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sort"

	"github.com/google/uuid"
	"github.com/sharnoff/chord"
)

// =============================================================================
// COMPUTATION
// =============================================================================

// Computation is a unit of background work tracked by the registry.
//
// Run sends zero or more Progress records on progress and returns exactly one
// outcome: a Completion, or an error describing why it could not finish.
// Run must not close progress; the executor closes it after Run returns.
type Computation interface {
	// Name identifies the kind of computation in logs and stats.
	Name() string

	// Run executes the computation to completion.
	Run(ctx context.Context, progress chan<- Progress) (Completion, error)
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor starts computations, one goroutine for the computation and one for
// its forwarder. Computations are never canceled or timed out once started.
type Executor struct {
	registry       *Registry
	progressBuffer int

	// in-flight goroutines, named by computation
	group *chord.TaskGroup
}

// NewExecutor creates an executor writing into registry.
// progressBuffer is the capacity of each task's progress channel (0 = default).
func NewExecutor(registry *Registry, progressBuffer int) *Executor {
	if progressBuffer <= 0 {
		progressBuffer = DefaultProgressBuffer
	}
	return &Executor{
		registry:       registry,
		progressBuffer: progressBuffer,
		group:          chord.NewTaskGroup("executor"),
	}
}

// Registry returns the registry the executor writes into.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Submit registers a new task in the Running state with the initial progress
// and starts the computation. It returns as soon as the task is registered.
func (e *Executor) Submit(c Computation, initial Progress) (uuid.UUID, State, error) {
	return e.SubmitWithID(uuid.New(), c, initial)
}

// SubmitWithID is like Submit with a caller-chosen id.
// It returns ErrDuplicateTask if the id was ever registered.
func (e *Executor) SubmitWithID(id uuid.UUID, c Computation, initial Progress) (uuid.UUID, State, error) {
	state := Running(initial)
	if err := e.registry.Register(id, state); err != nil {
		return uuid.Nil, State{}, err
	}
	log.Printf("TASK_REGISTERED | task=%s computation=%s", id, c.Name())

	progressTx, progressRx := NewProgressChannel(e.progressBuffer)
	outcome := make(chan Outcome, 1)

	name := c.Name()
	e.group.Add(name)
	go func() {
		defer e.group.Done(name)
		NewForwarder(e.registry, id).Run(progressRx, outcome)
	}()
	e.group.Add(name)
	go func() {
		defer e.group.Done(name)
		e.execute(id, c, progressTx, outcome)
	}()

	return id, state, nil
}

// execute runs the computation and hands its outcome to the forwarder.
// A panic in the computation is turned into a failure outcome.
func (e *Executor) execute(id uuid.UUID, c Computation, progress chan<- Progress, outcome chan<- Outcome) {
	defer close(progress)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("TASK_PANIC | task=%s computation=%s error=%v\n%s", id, c.Name(), r, debug.Stack())
			outcome <- Outcome{Err: fmt.Errorf("%w: computation panicked: %v", ErrChannelClosed, r)}
		}
	}()

	completion, err := c.Run(context.Background(), progress)
	if err != nil {
		outcome <- Outcome{Err: fmt.Errorf("%s failed: %w", c.Name(), err)}
		return
	}
	outcome <- Outcome{Completion: completion}
}

// =============================================================================
// IN-FLIGHT TRACKING
// =============================================================================

// Wait returns a channel closed once no computation or forwarder is running.
func (e *Executor) Wait() <-chan struct{} {
	return e.group.Wait()
}

// TryWait waits for in-flight work, returning ctx.Err() if ctx ends first.
// It never interrupts a running computation.
func (e *Executor) TryWait(ctx context.Context) error {
	return e.group.TryWait(ctx)
}

// InFlightInfo describes the running goroutines for one computation name.
type InFlightInfo struct {
	Name  string `json:"name"`
	Count uint   `json:"count"`
}

// InFlight returns the running goroutine counts per computation name, sorted by name.
func (e *Executor) InFlight() []InFlightInfo {
	running := e.group.Tasks()
	result := make([]InFlightInfo, 0, len(running))
	for _, task := range running {
		result = append(result, InFlightInfo{Name: task.Name, Count: task.Count})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
