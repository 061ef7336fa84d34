// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jeranaias/primestream/internal/visual"
)

// counterMetrics is a minimal Metrics implementation used across the package tests.
type counterMetrics struct {
	Count   uint64  `json:"count"`
	Percent float64 `json:"percent"`
}

func (counterMetrics) MetricsKind() string { return "CounterMetrics" }

func TestKind_IsTerminal(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindRunning, false},
		{KindCompleted, true},
		{KindFailed, true},
	}

	for _, tt := range tests {
		if got := tt.kind.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestState_MarshalRunning(t *testing.T) {
	state := Running(Progress{Metrics: counterMetrics{Count: 3}, Timestamp: 7})

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"Running":{"metrics":{"CounterMetrics":{"count":3,"percent":0}},"visualisation":null,"timestamp":7}}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func TestState_MarshalCompletedHasFrameArray(t *testing.T) {
	state := Completed(Completion{Metrics: counterMetrics{Count: 1}, Timestamp: 9})

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"visualisation":[]`) {
		t.Errorf("Marshal() = %s, want an empty visualisation array", data)
	}
}

func TestState_MarshalFailed(t *testing.T) {
	data, err := json.Marshal(Failed("prime_calculation failed: boom"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"Failed":"prime_calculation failed: boom"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func TestState_MarshalUnknownKind(t *testing.T) {
	if _, err := json.Marshal(State{Kind: "Paused"}); err == nil {
		t.Error("Marshal() of unknown kind should fail")
	}
}

func TestState_DecodeKeepsMetricsKind(t *testing.T) {
	frame := visual.DefaultSpiral().Frame(2, []uint64{11, 13}, 5, 0)
	original := Running(Progress{
		Metrics:       counterMetrics{Count: 42, Percent: 12.5},
		Visualisation: &frame,
		Timestamp:     5,
	})

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded State
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if decoded.Kind != KindRunning {
		t.Fatalf("Kind = %s, want %s", decoded.Kind, KindRunning)
	}
	if decoded.Progress.Metrics.MetricsKind() != "CounterMetrics" {
		t.Errorf("MetricsKind() = %s, want CounterMetrics", decoded.Progress.Metrics.MetricsKind())
	}
	if decoded.Progress.Visualisation == nil || len(decoded.Progress.Visualisation.Elements) != 2 {
		t.Errorf("Visualisation = %+v, want 2 elements", decoded.Progress.Visualisation)
	}

	raw, ok := decoded.Progress.Metrics.(RawMetrics)
	if !ok {
		t.Fatalf("Metrics type = %T, want RawMetrics", decoded.Progress.Metrics)
	}
	var m counterMetrics
	if err := raw.Decode(&m); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Count != 42 || m.Percent != 12.5 {
		t.Errorf("Decode() = %+v, want count 42 percent 12.5", m)
	}

	// RawMetrics re-encode to the same wire form
	again, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(again) != string(data) {
		t.Errorf("re-encoded = %s, want %s", again, data)
	}
}

func TestState_UnmarshalRejectsUnknownVariant(t *testing.T) {
	var s State
	if err := json.Unmarshal([]byte(`{"Paused":{}}`), &s); err == nil {
		t.Error("Unmarshal() of unknown variant should fail")
	}
	if err := json.Unmarshal([]byte(`{"Running":{},"Failed":"x"}`), &s); err == nil {
		t.Error("Unmarshal() of two variants should fail")
	}
}
