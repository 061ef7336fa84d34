// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks provides a background task system for long-running computations.
//
// This package tracks independently running computations, relays their
// progress into a shared registry and streams registry snapshots to any
// number of observers.
//
// # Key Types
//
//   - Registry: RWMutex-guarded map of task id to State
//   - State: Running(Progress), Completed(Completion) or Failed(reason)
//   - Computation: the contract a background computation fulfils
//   - Executor: registers tasks and starts computation + forwarder goroutines
//   - Forwarder: relays one task's progress channel into the registry
//   - Throttle: count/time policy for progress emission
//   - Broadcaster: per-subscriber snapshot streams
//
// # Usage
//
// Submit a computation:
//
//	registry := tasks.NewRegistry()
//	executor := tasks.NewExecutor(registry, tasks.DefaultProgressBuffer)
//	id, state, err := executor.Submit(calc, initialProgress)
//
// Stream snapshots until the context ends:
//
//	b := tasks.NewBroadcaster(registry, 100*time.Millisecond)
//	for event := range b.Stream(ctx) {
//	    fmt.Printf("%s\n", event.Data)
//	}
//
// Computations are never canceled or timed out once started. A process
// restart loses every task.
package tasks
