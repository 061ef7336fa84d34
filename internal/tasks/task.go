// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks provides a background task system for long-running computations.
package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/primestream/internal/visual"
)

// =============================================================================
// TASK KIND
// =============================================================================

// Kind is the tag of a State.
type Kind string

const (
	// KindRunning indicates the task is executing and carries a Progress.
	KindRunning Kind = "Running"

	// KindCompleted indicates the task finished successfully and carries a Completion.
	KindCompleted Kind = "Completed"

	// KindFailed indicates the task failed and carries a reason.
	KindFailed Kind = "Failed"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsTerminal reports whether no further transitions are allowed from k.
func (k Kind) IsTerminal() bool {
	return k == KindCompleted || k == KindFailed
}

// =============================================================================
// METRICS
// =============================================================================

// Metrics is computation-specific progress or result data.
// MetricsKind names the variant on the wire, e.g. "PrimeCalculationMetrics".
//
// Values stored in the registry are shared between readers, so implementations
// must be treated as immutable once handed over.
type Metrics interface {
	MetricsKind() string
}

// RawMetrics holds metrics decoded from the wire without knowing their Go type.
type RawMetrics struct {
	Kind string
	Data json.RawMessage
}

// MetricsKind implements Metrics.
func (m RawMetrics) MetricsKind() string {
	return m.Kind
}

// Decode unmarshals the payload into v.
func (m RawMetrics) Decode(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

func marshalMetrics(m Metrics) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	if raw, ok := m.(RawMetrics); ok {
		return json.Marshal(map[string]json.RawMessage{raw.Kind: raw.Data})
	}
	return json.Marshal(map[string]interface{}{m.MetricsKind(): m})
}

func unmarshalMetrics(data []byte) (Metrics, error) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, nil
	}
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("metrics: expected one variant, got %d", len(tagged))
	}
	for kind, payload := range tagged {
		return RawMetrics{Kind: kind, Data: payload}, nil
	}
	return nil, nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// Progress is a point-in-time update of a running task.
type Progress struct {
	Metrics       Metrics
	Visualisation *visual.Frame
	Timestamp     uint64 // unix seconds
}

// Completion is the single success record of a task.
type Completion struct {
	Metrics       Metrics
	Visualisation []visual.Frame
	Timestamp     uint64 // unix seconds
}

type progressWire struct {
	Metrics       json.RawMessage `json:"metrics"`
	Visualisation *visual.Frame   `json:"visualisation"`
	Timestamp     uint64          `json:"timestamp"`
}

type completionWire struct {
	Metrics       json.RawMessage `json:"metrics"`
	Visualisation []visual.Frame  `json:"visualisation"`
	Timestamp     uint64          `json:"timestamp"`
}

// MarshalJSON encodes the progress with externally tagged metrics.
func (p Progress) MarshalJSON() ([]byte, error) {
	metrics, err := marshalMetrics(p.Metrics)
	if err != nil {
		return nil, err
	}
	return json.Marshal(progressWire{Metrics: metrics, Visualisation: p.Visualisation, Timestamp: p.Timestamp})
}

// UnmarshalJSON decodes a progress record; metrics come back as RawMetrics.
func (p *Progress) UnmarshalJSON(data []byte) error {
	var w progressWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	metrics, err := unmarshalMetrics(w.Metrics)
	if err != nil {
		return err
	}
	*p = Progress{Metrics: metrics, Visualisation: w.Visualisation, Timestamp: w.Timestamp}
	return nil
}

// MarshalJSON encodes the completion with externally tagged metrics.
func (c Completion) MarshalJSON() ([]byte, error) {
	metrics, err := marshalMetrics(c.Metrics)
	if err != nil {
		return nil, err
	}
	frames := c.Visualisation
	if frames == nil {
		frames = []visual.Frame{}
	}
	return json.Marshal(completionWire{Metrics: metrics, Visualisation: frames, Timestamp: c.Timestamp})
}

// UnmarshalJSON decodes a completion record; metrics come back as RawMetrics.
func (c *Completion) UnmarshalJSON(data []byte) error {
	var w completionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	metrics, err := unmarshalMetrics(w.Metrics)
	if err != nil {
		return err
	}
	*c = Completion{Metrics: metrics, Visualisation: w.Visualisation, Timestamp: w.Timestamp}
	return nil
}

// Now returns the current time in the unix-seconds form used by snapshots.
func Now() uint64 {
	return uint64(time.Now().Unix())
}

// =============================================================================
// TASK STATE
// =============================================================================

// State is the lifecycle state of a task: exactly one of Running(Progress),
// Completed(Completion) or Failed(Error), selected by Kind.
type State struct {
	Kind       Kind
	Progress   Progress
	Completion Completion
	Error      string
}

// Running returns a Running state.
func Running(p Progress) State {
	return State{Kind: KindRunning, Progress: p}
}

// Completed returns a Completed state.
func Completed(c Completion) State {
	return State{Kind: KindCompleted, Completion: c}
}

// Failed returns a Failed state.
func Failed(reason string) State {
	return State{Kind: KindFailed, Error: reason}
}

// IsTerminal reports whether the state is Completed or Failed.
func (s State) IsTerminal() bool {
	return s.Kind.IsTerminal()
}

// MarshalJSON encodes the state as {"Running": ...}, {"Completed": ...} or {"Failed": "..."}.
func (s State) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case KindRunning:
		return json.Marshal(map[string]Progress{string(KindRunning): s.Progress})
	case KindCompleted:
		return json.Marshal(map[string]Completion{string(KindCompleted): s.Completion})
	case KindFailed:
		return json.Marshal(map[string]string{string(KindFailed): s.Error})
	default:
		return nil, fmt.Errorf("unknown task state kind %q", s.Kind)
	}
}

// UnmarshalJSON decodes the externally tagged form written by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if len(tagged) != 1 {
		return fmt.Errorf("task state: expected one variant, got %d", len(tagged))
	}

	for tag, payload := range tagged {
		switch Kind(tag) {
		case KindRunning:
			var p Progress
			if err := json.Unmarshal(payload, &p); err != nil {
				return err
			}
			*s = Running(p)
		case KindCompleted:
			var c Completion
			if err := json.Unmarshal(payload, &c); err != nil {
				return err
			}
			*s = Completed(c)
		case KindFailed:
			var reason string
			if err := json.Unmarshal(payload, &reason); err != nil {
				return err
			}
			*s = Failed(reason)
		default:
			return fmt.Errorf("unknown task state %q", tag)
		}
	}
	return nil
}
