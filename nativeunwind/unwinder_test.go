// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package nativeunwind

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chhetripradeep/samply/host"
	"github.com/chhetripradeep/samply/libpf"
)

const (
	testCodeStart = 0x400000
	testCodeEnd   = 0x500000
	stackBase     = 0x7f0000010000
)

func moduleTableWith(modules ...*Module) *ModuleTable {
	mt := NewModuleTable()
	mt.modules = modules
	return mt
}

func codeModule(strategy UnwindStrategy, deltas *IntervalData) *Module {
	// The module is mapped at testCodeStart but linked at ELF VA 0, so the
	// bias equals the mapping start and delta tables use 0x1000-based
	// addresses.
	return &Module{
		Start:    testCodeStart,
		End:      testCodeEnd,
		Bias:     testCodeStart,
		FileID:   libpf.NewFileID(7, 7),
		Name:     "testmodule",
		Strategy: strategy,
		Deltas:   deltas,
	}
}

// stackBuilder writes 8-byte words into a synthetic stack window.
type stackBuilder struct {
	window []byte
}

func newStackBuilder(size int) *stackBuilder {
	return &stackBuilder{window: make([]byte, size)}
}

func (b *stackBuilder) put(offset uint64, value uint64) {
	binary.LittleEndian.PutUint64(b.window[offset:], value)
}

func (b *stackBuilder) sample(regs host.Regs) *host.Sample {
	return &host.Sample{
		TID:       42,
		Timestamp: 1,
		Regs:      regs,
		StackBase: libpf.Address(regs.SP),
		Stack:     b.window,
	}
}

func TestUnwindFramePointerChain(t *testing.T) {
	mt := moduleTableWith(codeModule(StrategyFramePointer, nil))
	u := New(mt, 0)

	// Two stacked frame records above the leaf: [savedFP, RA] pairs.
	// The outermost record carries FP=0/RA=0, ending the walk cleanly.
	b := newStackBuilder(256)
	b.put(0x40, stackBase+0x80) // frame 1: saved FP
	b.put(0x48, testCodeStart+0x2000)
	b.put(0x80, 0) // frame 2: end of chain
	b.put(0x88, testCodeStart+0x3000)

	sample := b.sample(host.Regs{
		IP: testCodeStart + 0x1000,
		SP: stackBase,
		FP: stackBase + 0x40,
	})
	trace := u.UnwindSample(sample)

	require.Len(t, trace.Frames, 3)
	assert.False(t, trace.Truncated)
	// Leaf-first frame order.
	assert.Equal(t, libpf.Address(testCodeStart+0x1000), trace.Frames[0].Address)
	assert.Equal(t, libpf.Address(testCodeStart+0x2000), trace.Frames[1].Address)
	assert.Equal(t, libpf.Address(testCodeStart+0x3000), trace.Frames[2].Address)
	assert.Equal(t, "testmodule", trace.Frames[0].ModuleName)
	assert.Equal(t, libpf.TID(42), trace.TID)
}

func TestUnwindDepthLimit(t *testing.T) {
	mt := moduleTableWith(codeModule(StrategyFramePointer, nil))
	u := New(mt, 4)

	// A long chain of identical frame records.
	b := newStackBuilder(4096)
	for i := uint64(0); i < 30; i++ {
		offset := 0x40 + i*0x10
		b.put(offset, stackBase+offset+0x10) // saved FP: next record
		b.put(offset+8, testCodeStart+0x1000+i*0x10)
	}

	sample := b.sample(host.Regs{
		IP: testCodeStart + 0x500,
		SP: stackBase,
		FP: stackBase + 0x40,
	})
	trace := u.UnwindSample(sample)

	assert.True(t, trace.Truncated)
	assert.Len(t, trace.Frames, 4)
}

func TestUnwindBreaksCycles(t *testing.T) {
	mt := moduleTableWith(codeModule(StrategyFramePointer, nil))
	u := New(mt, 0)

	// A frame record whose saved FP points back at itself: the (ip, sp)
	// pair repeats and must not loop forever.
	b := newStackBuilder(256)
	b.put(0x40, stackBase+0x40)
	b.put(0x48, testCodeStart+0x1000)

	sample := b.sample(host.Regs{
		IP: testCodeStart + 0x1000,
		SP: stackBase,
		FP: stackBase + 0x40,
	})
	trace := u.UnwindSample(sample)

	assert.True(t, trace.Truncated)
	assert.LessOrEqual(t, len(trace.Frames), 3)
}

func TestUnwindWindowExhausted(t *testing.T) {
	mt := moduleTableWith(codeModule(StrategyFramePointer, nil))
	u := New(mt, 0)

	// The frame record lies beyond the captured window.
	b := newStackBuilder(0x30)
	sample := b.sample(host.Regs{
		IP: testCodeStart + 0x1000,
		SP: stackBase,
		FP: stackBase + 0x100,
	})
	trace := u.UnwindSample(sample)

	assert.True(t, trace.Truncated)
	require.Len(t, trace.Frames, 1)
	assert.Equal(t, libpf.Address(testCodeStart+0x1000), trace.Frames[0].Address)
}

func TestUnwindWithStackDeltas(t *testing.T) {
	deltas := &IntervalData{Deltas: []StackDelta{
		// Leaf function: CFA = SP + 8, RA at CFA-8 (no frame setup).
		{Address: 0x1000, Info: UnwindInfo{
			Opcode: UnwindOpcodeBaseSP, Param: 8, RAParam: -8}},
		// Caller: CFA = SP + 0x20.
		{Address: 0x2000, Info: UnwindInfo{
			Opcode: UnwindOpcodeBaseSP, Param: 0x20, RAParam: -8}},
		// Root function: explicitly marked stop.
		{Address: 0x3000, Info: UnwindInfoStop},
		{Address: 0x4000, Info: UnwindInfoInvalid},
	}}
	mt := moduleTableWith(codeModule(StrategyDeltas, deltas))
	u := New(mt, 0)

	b := newStackBuilder(256)
	b.put(0x00, testCodeStart+0x2080) // RA for leaf at CFA(SP+8)-8
	b.put(0x20, testCodeStart+0x3040) // RA for caller at CFA(SP+8+0x18)-8

	sample := b.sample(host.Regs{
		IP: testCodeStart + 0x1040,
		SP: stackBase,
	})
	trace := u.UnwindSample(sample)

	require.Len(t, trace.Frames, 3)
	assert.False(t, trace.Truncated, "stop rule ends the trace cleanly")
	assert.Equal(t, libpf.Address(testCodeStart+0x1040), trace.Frames[0].Address)
	assert.Equal(t, libpf.Address(testCodeStart+0x2080), trace.Frames[1].Address)
	assert.Equal(t, libpf.Address(testCodeStart+0x3040), trace.Frames[2].Address)
	// Module offsets are translated into ELF VA space.
	assert.Equal(t, libpf.Address(0x1040), trace.Frames[0].ModuleOffset)

	// Traces never exceed the configured maximum depth.
	assert.LessOrEqual(t, len(trace.Frames), MaxStackDepth)
}

func TestUnwindHeuristicScan(t *testing.T) {
	mt := moduleTableWith(codeModule(StrategyScan, nil))
	u := New(mt, 0)

	// Garbage, then one plausible return address.
	b := newStackBuilder(256)
	b.put(0x08, 0xdeadbeef) // not in any executable mapping
	b.put(0x18, testCodeStart+0x4000)

	sample := b.sample(host.Regs{
		IP: testCodeStart + 0x1000,
		SP: stackBase,
	})
	trace := u.UnwindSample(sample)

	require.GreaterOrEqual(t, len(trace.Frames), 2)
	assert.Equal(t, libpf.Address(testCodeStart+0x4000), trace.Frames[1].Address)
}

func TestIntervalDataLookup(t *testing.T) {
	data := &IntervalData{Deltas: []StackDelta{
		{Address: 0x100, Info: UnwindInfo{Opcode: UnwindOpcodeBaseSP, Param: 8}},
		{Address: 0x200, Info: UnwindInfo{Opcode: UnwindOpcodeBaseFP, Param: 16}},
		{Address: 0x300, Info: UnwindInfoInvalid},
	}}

	assert.Equal(t, UnwindInfoInvalid, data.Lookup(0x80), "before first interval")
	assert.Equal(t, uint8(UnwindOpcodeBaseSP), data.Lookup(0x100).Opcode)
	assert.Equal(t, uint8(UnwindOpcodeBaseSP), data.Lookup(0x1ff).Opcode)
	assert.Equal(t, uint8(UnwindOpcodeBaseFP), data.Lookup(0x200).Opcode)
	assert.Equal(t, UnwindInfoInvalid, data.Lookup(0x5000))
}
