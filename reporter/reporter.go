// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// Package reporter serializes a finished profiling session into the
// interchange profile document consumed by external visualizers.
package reporter // import "github.com/chhetripradeep/samply/reporter"

import (
	"time"

	"github.com/chhetripradeep/samply/calltree"
	"github.com/chhetripradeep/samply/libpf"
)

// FormatVersion is the version number embedded in emitted documents.
const FormatVersion = 1

// Metadata describes the profiling session the profile was captured in.
type Metadata struct {
	// SessionID uniquely identifies this profiling run.
	SessionID string
	// StartTime is the wall clock time recording started.
	StartTime libpf.UnixTime64
	// EndTime is the wall clock time recording stopped.
	EndTime libpf.UnixTime64
	// SampleInterval is the configured sampling period.
	SampleInterval time.Duration
	// OS and Arch identify the capture platform.
	OS   string
	Arch string
	// Hostname of the capture machine, best effort.
	Hostname string
	// PID of the profiled process.
	PID libpf.PID
	// CommandLine is the profiled process' argument vector.
	CommandLine []string
	// CapturedSamples counts samples that made it through unwinding.
	CapturedSamples uint64
	// DroppedRace counts samples lost to thread teardown races or
	// transient suspend failures.
	DroppedRace uint64
	// DroppedBackpressure counts samples discarded because the sample
	// queue was full.
	DroppedBackpressure uint64
	// Granularity is the frame merge granularity the trees were built
	// with.
	Granularity calltree.MergeGranularity
}

// Profile is a finalized profiling session: per-thread call trees, the raw
// sample timeline and session metadata. A profile terminated early by
// cancellation is still valid, it merely covers a shorter span.
type Profile struct {
	Meta Metadata

	agg *calltree.Aggregator
}

// NewProfile wraps the aggregated call trees and metadata into a Profile.
func NewProfile(meta Metadata, agg *calltree.Aggregator) *Profile {
	return &Profile{Meta: meta, agg: agg}
}

// Threads returns the sampled thread IDs in ascending order.
func (p *Profile) Threads() []libpf.TID {
	return p.agg.Threads()
}

// Thread returns the call tree root for tid.
func (p *Profile) Thread(tid libpf.TID) *calltree.Node {
	return p.agg.Thread(tid)
}

// Timeline returns all captured traces in capture order.
func (p *Profile) Timeline() []*libpf.Trace {
	return p.agg.Timeline()
}
