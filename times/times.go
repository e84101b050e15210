// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// Package times provides the session's interval configuration and the
// monotonic clock used for sample timestamps.
package times // import "github.com/chhetripradeep/samply/times"

import (
	"time"

	"github.com/chhetripradeep/samply/libpf"
)

// monotonicBase anchors KTime readings. Using a process-local base keeps
// timestamps small and strictly tied to the monotonic clock.
var monotonicBase = time.Now()

// KTimeNow returns the current monotonic timestamp. Readings are
// non-decreasing, unaffected by wall clock adjustments.
func KTimeNow() libpf.KTime {
	return libpf.KTime(time.Since(monotonicBase).Nanoseconds())
}

// Times hold the intervals and limits of one profiling session. It is an
// explicit object owned by the session, not ambient global state, so
// multiple sessions (e.g. in tests) never interfere.
type Times struct {
	sampleInterval time.Duration
	maxDuration    time.Duration
	startTime      libpf.UnixTime64
}

// IntervalsAndTimers is the read-only interface the pipeline stages consume.
type IntervalsAndTimers interface {
	// SampleInterval is the period of the capture timer.
	SampleInterval() time.Duration
	// MaxDuration limits the session length; zero means unlimited.
	MaxDuration() time.Duration
	// StartTime is the wall clock time the session started recording.
	StartTime() libpf.UnixTime64
}

// New builds the session timing configuration. The start time is taken now.
func New(sampleInterval, maxDuration time.Duration) *Times {
	return &Times{
		sampleInterval: sampleInterval,
		maxDuration:    maxDuration,
		startTime:      libpf.NowUnixNano(),
	}
}

func (t *Times) SampleInterval() time.Duration { return t.sampleInterval }

func (t *Times) MaxDuration() time.Duration { return t.maxDuration }

func (t *Times) StartTime() libpf.UnixTime64 { return t.startTime }
