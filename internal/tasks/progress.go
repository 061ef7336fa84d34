// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"time"
)

// =============================================================================
// PROGRESS CHANNEL
// =============================================================================

const (
	// DefaultProgressBuffer is the number of progress records a channel holds
	// before the producer's send blocks.
	DefaultProgressBuffer = 32

	// DefaultProgressInterval is the longest a computation waits between
	// progress emissions while it is doing work.
	DefaultProgressInterval = time.Second

	// DefaultBatchSize is the number of work units between progress emissions.
	DefaultBatchSize = 10000
)

// NewProgressChannel returns the two ends of a bounded progress channel.
// The producer owns the send side; the forwarder owns the receive side.
func NewProgressChannel(capacity int) (chan<- Progress, <-chan Progress) {
	if capacity <= 0 {
		capacity = DefaultProgressBuffer
	}
	ch := make(chan Progress, capacity)
	return ch, ch
}

// =============================================================================
// THROTTLE
// =============================================================================

// Throttle decides when a computation emits progress: on the first unit of
// work, then whenever batch units have been processed since the last
// emission or interval has elapsed since it, whichever comes first. Both
// triggers restart on every emission.
//
// A Throttle belongs to a single computation and is not meant to be shared.
type Throttle struct {
	batch    uint64
	interval time.Duration

	started bool
	since   uint64    // units since the last emission
	last    time.Time // time of the last emission
}

// NewThrottle creates a throttle. A zero batch disables the count trigger and a
// zero interval disables the time trigger.
func NewThrottle(batch uint32, interval time.Duration) *Throttle {
	return &Throttle{batch: uint64(batch), interval: interval}
}

// Tick records one unit of work and calls emit if an emission is due.
func (t *Throttle) Tick(emit func()) {
	t.since++
	now := time.Now()
	switch {
	case !t.started:
	case t.batch > 0 && t.since >= t.batch:
	case t.interval > 0 && now.Sub(t.last) >= t.interval:
	default:
		return
	}

	t.started = true
	t.since = 0
	t.last = now
	emit()
}
