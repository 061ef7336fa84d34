// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package primes

import (
	"context"
	"errors"
	"time"

	"github.com/jeranaias/primestream/internal/tasks"
	"github.com/jeranaias/primestream/internal/visual"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// ComputationName identifies prime calculations in logs and stats.
	ComputationName = "prime_calculation"

	// DefaultMaxReportedPrimes caps the primes list carried by a completion.
	DefaultMaxReportedPrimes = 10000

	// maxFrameElements caps the elements in one progress frame.
	maxFrameElements = 64

	// keptFrames is the number of recent frames carried by a completion.
	keptFrames = 16

	bytesPerPrime = 8
)

// ErrInvalidBatchSize is returned by Run when the batch size is zero.
var ErrInvalidBatchSize = errors.New("batch size must be greater than zero")

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator enumerates the primes up to Bound. It implements tasks.Computation.
type Calculator struct {
	// Bound is the inclusive upper bound.
	Bound uint64

	// BatchSize is the number of candidates checked between progress emissions.
	BatchSize uint32

	// ProgressInterval is the longest gap between emissions (0 = tasks.DefaultProgressInterval).
	ProgressInterval time.Duration

	// Visualise attaches spiral frames to progress and completion records.
	Visualise bool

	// MaxReportedPrimes caps Primes in the completion (<= 0 = unlimited).
	MaxReportedPrimes int

	// Spiral lays out visualised primes.
	Spiral visual.Spiral
}

// NewCalculator returns a calculator with the default batch size, interval,
// primes cap and spiral.
func NewCalculator(bound uint64) *Calculator {
	return &Calculator{
		Bound:             bound,
		BatchSize:         tasks.DefaultBatchSize,
		ProgressInterval:  tasks.DefaultProgressInterval,
		MaxReportedPrimes: DefaultMaxReportedPrimes,
		Spiral:            visual.DefaultSpiral(),
	}
}

// Name implements tasks.Computation.
func (c *Calculator) Name() string {
	return ComputationName
}

// run holds the mutable state of a single Run.
type run struct {
	calc     *Calculator
	start    time.Time
	primes   []uint64
	checked  uint64
	current  uint64
	percent  float32
	maxMem   uint64
	emitted  int // primes already placed in a frame
	frameIdx uint32
	frames   []visual.Frame
}

// Run implements tasks.Computation. Candidates start at 5 and step by 2;
// 2 and 3 are included when they are within the bound.
func (c *Calculator) Run(ctx context.Context, progress chan<- tasks.Progress) (tasks.Completion, error) {
	if c.BatchSize == 0 {
		return tasks.Completion{}, ErrInvalidBatchSize
	}
	interval := c.ProgressInterval
	if interval <= 0 {
		interval = tasks.DefaultProgressInterval
	}

	r := &run{calc: c, start: time.Now(), primes: make([]uint64, 0, 16)}
	for _, p := range []uint64{2, 3} {
		if p <= c.Bound {
			r.primes = append(r.primes, p)
		}
	}
	r.trackMemory()

	throttle := tasks.NewThrottle(c.BatchSize, interval)
	var sendErr error
	emit := func() {
		sendErr = r.send(ctx, progress)
	}

	for n := uint64(5); n <= c.Bound; n += 2 {
		r.checked++
		r.current = n
		if IsPrime(n) {
			r.primes = append(r.primes, n)
			r.trackMemory()
		}

		throttle.Tick(emit)
		if sendErr != nil {
			return tasks.Completion{}, sendErr
		}

		// n += 2 would wrap past the largest odd uint64
		if c.Bound-n < 2 {
			break
		}
	}

	return r.completion(), nil
}

func (r *run) trackMemory() {
	if mem := uint64(cap(r.primes)) * bytesPerPrime; mem > r.maxMem {
		r.maxMem = mem
	}
}

// percentage is clamped to [0,100] and never decreases within a run.
func (r *run) percentage() float32 {
	var pct float32
	if r.calc.Bound > 0 {
		pct = float32(float64(r.current) / float64(r.calc.Bound) * 100)
	}
	if pct > 100 {
		pct = 100
	}
	if pct < r.percent {
		pct = r.percent
	}
	r.percent = pct
	return pct
}

// send emits one progress record, blocking while the channel is full.
func (r *run) send(ctx context.Context, progress chan<- tasks.Progress) error {
	p := tasks.Progress{
		Metrics: ProgressMetrics{
			CurrentNumber:      r.current,
			FoundPrimes:        uint32(len(r.primes)),
			PercentageComplete: r.percentage(),
			CurrentMemoryUsage: uint64(cap(r.primes)) * bytesPerPrime,
			ElapsedTimeMs:      uint64(time.Since(r.start).Milliseconds()),
		},
		Timestamp: tasks.Now(),
	}
	if r.calc.Visualise {
		if frame, ok := r.nextFrame(p.Timestamp); ok {
			p.Visualisation = &frame
		}
	}

	select {
	case progress <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// nextFrame builds a frame of the primes found since the previous frame and
// keeps it among the recent frames.
func (r *run) nextFrame(timestamp uint64) (visual.Frame, bool) {
	fresh := r.primes[r.emitted:]
	if len(fresh) == 0 {
		return visual.Frame{}, false
	}
	r.emitted = len(r.primes)

	spiral := r.calc.Spiral
	if spiral.Scale == 0 {
		spiral = visual.DefaultSpiral()
	}
	frame := spiral.Frame(r.frameIdx, fresh, timestamp, maxFrameElements)
	r.frameIdx++

	r.frames = append(r.frames, frame)
	if len(r.frames) > keptFrames {
		r.frames = append([]visual.Frame(nil), r.frames[len(r.frames)-keptFrames:]...)
	}
	return frame, true
}

func (r *run) completion() tasks.Completion {
	total := time.Since(r.start)
	timestamp := tasks.Now()

	var avg float64
	if r.checked > 0 {
		avg = float64(total.Nanoseconds()) / float64(r.checked)
	}

	reported := r.primes
	truncated := false
	if limit := r.calc.MaxReportedPrimes; limit > 0 && len(reported) > limit {
		reported = reported[:limit]
		truncated = true
	}

	metrics := CompletedMetrics{
		FoundPrimes:        uint32(len(r.primes)),
		TotalTimeMs:        uint64(total.Milliseconds()),
		MaxMemoryBytes:     r.maxMem,
		NumbersChecked:     r.checked,
		AverageCheckTimeNs: avg,
		Primes:             append([]uint64{}, reported...),
		PrimesTruncated:    truncated,
	}

	frames := []visual.Frame{}
	if r.calc.Visualise {
		r.nextFrame(timestamp)
		frames = r.frames
	}

	return tasks.Completion{
		Metrics:       metrics,
		Visualisation: frames,
		Timestamp:     timestamp,
	}
}
