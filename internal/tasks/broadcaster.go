// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// STREAM EVENTS
// =============================================================================

// DefaultStreamInterval is how often a subscriber receives a snapshot.
const DefaultStreamInterval = 100 * time.Millisecond

// Event names carried by stream events.
const (
	EventSnapshot = "snapshot"
	EventError    = "error"
	EventNotFound = "not_found"
)

// serializationFallback replaces a snapshot that could not be encoded.
const serializationFallback = "Error serializing tasks"

// Event is one element of a subscriber's stream.
type Event struct {
	// Name is EventSnapshot, EventError or EventNotFound.
	Name string

	// Data is the encoded snapshot, or a plain-text message for other events.
	Data []byte
}

// IsSnapshot reports whether the event carries an encoded snapshot.
func (e Event) IsSnapshot() bool {
	return e.Name == EventSnapshot
}

// =============================================================================
// BROADCASTER
// =============================================================================

// Broadcaster turns the registry into per-subscriber snapshot streams.
// Every stream polls the registry directly; streams share no state besides it.
type Broadcaster struct {
	registry    *Registry
	interval    atomic.Int64 // time.Duration
	subscribers atomic.Int64

	// encode serializes snapshots; replaced in tests
	encode func(v interface{}) ([]byte, error)
}

// NewBroadcaster creates a broadcaster polling registry every interval
// (0 = DefaultStreamInterval).
func NewBroadcaster(registry *Registry, interval time.Duration) *Broadcaster {
	b := &Broadcaster{
		registry: registry,
		encode:   json.Marshal,
	}
	b.SetInterval(interval)
	return b
}

// SetInterval changes the poll interval. Open streams pick it up on their next tick.
func (b *Broadcaster) SetInterval(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	b.interval.Store(int64(interval))
}

// Interval returns the current poll interval.
func (b *Broadcaster) Interval() time.Duration {
	return time.Duration(b.interval.Load())
}

// Subscribers returns the number of open streams.
func (b *Broadcaster) Subscribers() int64 {
	return b.subscribers.Load()
}

// Stream returns an endless sequence of full registry snapshots, the first one
// immediately and then one per interval. The channel is closed after ctx ends.
func (b *Broadcaster) Stream(ctx context.Context) <-chan Event {
	return b.run(ctx, "all", func() (Event, bool) {
		return b.snapshotEvent(b.registry.Snapshot()), true
	})
}

// StreamTask is like Stream scoped to a single task. If the task is unknown
// (or is evicted later) a single EventNotFound is sent and the stream ends.
func (b *Broadcaster) StreamTask(ctx context.Context, id uuid.UUID) <-chan Event {
	return b.run(ctx, id.String(), func() (Event, bool) {
		state, err := b.registry.Get(id)
		if errors.Is(err, ErrTaskNotFound) {
			return Event{Name: EventNotFound, Data: []byte(err.Error())}, false
		}
		return b.snapshotEvent(map[uuid.UUID]State{id: state}), true
	})
}

// snapshotEvent encodes a snapshot, substituting the fallback event on failure.
func (b *Broadcaster) snapshotEvent(snapshot map[uuid.UUID]State) Event {
	data, err := b.encode(snapshot)
	if err != nil {
		log.Printf("STREAM_ENCODE_FAILED | error=%v", fmt.Errorf("%w: %v", ErrSerialization, err))
		return Event{Name: EventError, Data: []byte(serializationFallback)}
	}
	return Event{Name: EventSnapshot, Data: data}
}

// run drives one subscriber. next produces the event for a poll and reports
// whether the stream continues after it.
func (b *Broadcaster) run(ctx context.Context, scope string, next func() (Event, bool)) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		b.subscribers.Add(1)
		defer b.subscribers.Add(-1)
		log.Printf("STREAM_OPEN | scope=%s subscribers=%d", scope, b.subscribers.Load())
		defer log.Printf("STREAM_CLOSED | scope=%s", scope)

		interval := b.Interval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			event, more := next()

			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
			if !more {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if current := b.Interval(); current != interval {
				interval = current
				ticker.Reset(interval)
			}
		}
	}()

	return out
}
