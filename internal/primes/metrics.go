// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package primes

import "github.com/jeranaias/primestream/internal/tasks"

// MetricsKind is the wire tag of both prime metrics variants.
const MetricsKind = "PrimeCalculationMetrics"

// ProgressMetrics is the state of a running calculation.
type ProgressMetrics struct {
	CurrentNumber      uint64  `json:"current_number"`
	FoundPrimes        uint32  `json:"found_primes"`
	PercentageComplete float32 `json:"percentage_complete"`
	CurrentMemoryUsage uint64  `json:"current_memory_usage"`
	ElapsedTimeMs      uint64  `json:"elapsed_time_ms"`
}

// MetricsKind implements tasks.Metrics.
func (ProgressMetrics) MetricsKind() string { return MetricsKind }

// CompletedMetrics is the result of a finished calculation.
type CompletedMetrics struct {
	FoundPrimes        uint32   `json:"found_primes"`
	TotalTimeMs        uint64   `json:"total_time_ms"`
	MaxMemoryBytes     uint64   `json:"max_memory_bytes"`
	NumbersChecked     uint64   `json:"numbers_checked"`
	AverageCheckTimeNs float64  `json:"average_check_time_ns"`
	Primes             []uint64 `json:"primes"`
	PrimesTruncated    bool     `json:"primes_truncated"`
}

// MetricsKind implements tasks.Metrics.
func (CompletedMetrics) MetricsKind() string { return MetricsKind }

// InitialProgress is the zeroed progress a task is registered with.
func InitialProgress() tasks.Progress {
	return tasks.Progress{
		Metrics:   ProgressMetrics{},
		Timestamp: tasks.Now(),
	}
}

// DecodeProgress extracts prime progress metrics from a progress record,
// whether it was built locally or decoded from the wire.
func DecodeProgress(p tasks.Progress) (ProgressMetrics, bool) {
	switch m := p.Metrics.(type) {
	case ProgressMetrics:
		return m, true
	case tasks.RawMetrics:
		var out ProgressMetrics
		if m.Kind != MetricsKind || m.Decode(&out) != nil {
			return ProgressMetrics{}, false
		}
		return out, true
	default:
		return ProgressMetrics{}, false
	}
}

// DecodeCompletion extracts prime result metrics from a completion record.
func DecodeCompletion(c tasks.Completion) (CompletedMetrics, bool) {
	switch m := c.Metrics.(type) {
	case CompletedMetrics:
		return m, true
	case tasks.RawMetrics:
		var out CompletedMetrics
		if m.Kind != MetricsKind || m.Decode(&out) != nil {
			return CompletedMetrics{}, false
		}
		return out, true
	default:
		return CompletedMetrics{}, false
	}
}
