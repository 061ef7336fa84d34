// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/jeranaias/primestream/internal/util"
)

// =============================================================================
// PROGRESS FORWARDER
// =============================================================================

// maxLoggedReason caps failure reasons in log lines; the registry keeps the full text.
const maxLoggedReason = 200

// Outcome is the terminal result of a computation. Exactly one of Completion
// (Err == nil) or Err is meaningful.
type Outcome struct {
	Completion Completion
	Err        error
}

// Forwarder relays one task's progress records into the registry and writes
// its terminal state exactly once.
type Forwarder struct {
	registry *Registry
	id       uuid.UUID
}

// NewForwarder creates a forwarder for the task id.
func NewForwarder(registry *Registry, id uuid.UUID) *Forwarder {
	return &Forwarder{registry: registry, id: id}
}

// Run drains progress until an outcome arrives, then stores the outcome and
// returns the terminal state it wrote. Records still buffered in progress at
// that point are discarded.
//
// If progress is closed before any outcome is sent, the task is failed with
// ErrChannelClosed.
func (f *Forwarder) Run(progress <-chan Progress, outcome <-chan Outcome) State {
	for {
		select {
		case p, ok := <-progress:
			if !ok {
				// The producer sends its outcome before closing, so a
				// non-blocking read here cannot miss it.
				select {
				case o := <-outcome:
					return f.finish(o)
				default:
					return f.finish(Outcome{Err: ErrChannelClosed})
				}
			}
			f.apply(p)

		case o := <-outcome:
			return f.finish(o)
		}
	}
}

// apply writes one progress record. Registry errors stay local to the forwarder.
func (f *Forwarder) apply(p Progress) {
	applied, err := f.registry.UpdateProgress(f.id, p)
	if err != nil {
		log.Printf("PROGRESS_DROPPED | task=%s error=%v", f.id, err)
		return
	}
	if !applied {
		log.Printf("PROGRESS_IGNORED | task=%s reason=terminal", f.id)
	}
}

// finish stores the terminal state for the outcome.
func (f *Forwarder) finish(o Outcome) State {
	var (
		state State
		err   error
	)
	if o.Err != nil {
		state = Failed(o.Err.Error())
		err = f.registry.StoreFailure(f.id, state.Error)
	} else {
		state = Completed(o.Completion)
		err = f.registry.StoreResult(f.id, o.Completion)
	}

	switch {
	case errors.Is(err, ErrTaskTerminal):
		log.Printf("OUTCOME_DISCARDED | task=%s reason=terminal", f.id)
		if current, getErr := f.registry.Get(f.id); getErr == nil {
			return current
		}
	case err != nil:
		log.Printf("OUTCOME_DROPPED | task=%s error=%v", f.id, err)
	case state.Kind == KindFailed:
		log.Printf("TASK_FAILED | task=%s reason=%q", f.id, util.TruncateRunes(state.Error, maxLoggedReason))
	default:
		log.Printf("TASK_COMPLETED | task=%s", f.id)
	}
	return state
}
