// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "github.com/chhetripradeep/samply/reporter"

import (
	"fmt"
	"io"
	"strings"

	pprofile "github.com/google/pprof/profile"

	"github.com/chhetripradeep/samply/libpf"
)

// pprofBuilder converts a Profile's timeline into a pprof profile, interning
// mappings, functions and locations along the way.
type pprofBuilder struct {
	prof *pprofile.Profile

	mappings  map[libpf.FileID]*pprofile.Mapping
	functions map[string]*pprofile.Function
	locations map[frameKey]*pprofile.Location
	samples   map[sampleKey]*pprofile.Sample
}

type sampleKey struct {
	hash libpf.TraceHash
	tid  libpf.TID
}

// ToPprof converts the profile into the pprof format. Thread identity is
// preserved as a "thread" sample label; per-sample timestamps are not
// representable and are dropped.
func ToPprof(p *Profile) *pprofile.Profile {
	b := &pprofBuilder{
		prof: &pprofile.Profile{
			SampleType: []*pprofile.ValueType{
				{Type: "samples", Unit: "count"},
				{Type: "cpu", Unit: "nanoseconds"},
			},
			PeriodType: &pprofile.ValueType{
				Type: "cpu", Unit: "nanoseconds",
			},
			Period:    p.Meta.SampleInterval.Nanoseconds(),
			TimeNanos: int64(p.Meta.StartTime),
			DurationNanos: int64(p.Meta.EndTime) -
				int64(p.Meta.StartTime),
		},
		mappings:  make(map[libpf.FileID]*pprofile.Mapping),
		functions: make(map[string]*pprofile.Function),
		locations: make(map[frameKey]*pprofile.Location),
		samples:   make(map[sampleKey]*pprofile.Sample),
	}
	if len(p.Meta.CommandLine) > 0 {
		b.prof.Comments = append(b.prof.Comments,
			"command: "+strings.Join(p.Meta.CommandLine, " "))
	}

	interval := p.Meta.SampleInterval.Nanoseconds()
	for _, trace := range p.Timeline() {
		b.addTrace(trace, interval)
	}
	return b.prof
}

// WritePprof serializes the profile in gzip compressed pprof format.
func WritePprof(w io.Writer, p *Profile) error {
	prof := ToPprof(p)
	if err := prof.CheckValid(); err != nil {
		return fmt.Errorf("generated pprof profile is invalid: %w", err)
	}
	if err := prof.Write(w); err != nil {
		return fmt.Errorf("failed to write pprof profile: %w", err)
	}
	return nil
}

func (b *pprofBuilder) addTrace(trace *libpf.Trace, interval int64) {
	// Identical stacks on the same thread collapse into one weighted
	// sample.
	key := sampleKey{hash: trace.Hash(), tid: trace.TID}
	if sample, ok := b.samples[key]; ok {
		sample.Value[0]++
		sample.Value[1] += interval
		return
	}

	sample := &pprofile.Sample{
		Value: []int64{1, interval},
		Label: map[string][]string{
			"thread": {fmt.Sprintf("%d", trace.TID)},
		},
	}
	// pprof wants locations leaf first, matching trace frame order.
	for i := range trace.Frames {
		sample.Location = append(sample.Location,
			b.location(&trace.Frames[i]))
	}
	b.samples[key] = sample
	b.prof.Sample = append(b.prof.Sample, sample)
}

func (b *pprofBuilder) mapping(frame *libpf.Frame) *pprofile.Mapping {
	if m, ok := b.mappings[frame.FileID]; ok {
		return m
	}
	m := &pprofile.Mapping{
		ID:      uint64(len(b.prof.Mapping)) + 1,
		File:    frame.ModuleName,
		BuildID: frame.FileID.String(),
	}
	b.mappings[frame.FileID] = m
	b.prof.Mapping = append(b.prof.Mapping, m)
	return m
}

func (b *pprofBuilder) function(frame *libpf.Frame) *pprofile.Function {
	name := string(frame.Symbol.Name)
	key := frame.FileID.String() + "\x00" + name
	if fn, ok := b.functions[key]; ok {
		return fn
	}
	fn := &pprofile.Function{
		ID:       uint64(len(b.prof.Function)) + 1,
		Name:     name,
		Filename: frame.Symbol.SourceFile,
	}
	b.functions[key] = fn
	b.prof.Function = append(b.prof.Function, fn)
	return fn
}

func (b *pprofBuilder) location(frame *libpf.Frame) *pprofile.Location {
	key := frameKey{fileID: frame.FileID, addr: frame.Address}
	if loc, ok := b.locations[key]; ok {
		return loc
	}
	loc := &pprofile.Location{
		ID:      uint64(len(b.prof.Location)) + 1,
		Mapping: b.mapping(frame),
		Address: uint64(frame.Address),
	}
	if frame.Symbol.Name != libpf.SymbolNameUnknown &&
		!frame.Symbol.Synthetic {
		loc.Line = []pprofile.Line{{
			Function: b.function(frame),
			Line:     int64(frame.Symbol.SourceLine),
		}}
	}
	b.locations[key] = loc
	b.prof.Location = append(b.prof.Location, loc)
	return loc
}
