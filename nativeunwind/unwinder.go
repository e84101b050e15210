// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// Package nativeunwind reconstructs logical stack traces from the raw
// register and stack window snapshots produced by the collector. Unwinding
// operates on the copied window only: the consume path never touches the
// target process again, so debug info I/O cannot distort sampling.
package nativeunwind // import "github.com/chhetripradeep/samply/nativeunwind"

import (
	"encoding/binary"

	"github.com/chhetripradeep/samply/host"
	"github.com/chhetripradeep/samply/libpf"
)

// MaxStackDepth is the fixed frame limit per trace. Deeper stacks are cut
// off and marked truncated.
const MaxStackDepth = 512

// Unwinder turns raw samples into stack traces.
type Unwinder struct {
	modules  *ModuleTable
	maxDepth int
}

// New creates an Unwinder resolving modules through the given table.
// maxDepth <= 0 selects MaxStackDepth.
func New(modules *ModuleTable, maxDepth int) *Unwinder {
	if maxDepth <= 0 || maxDepth > MaxStackDepth {
		maxDepth = MaxStackDepth
	}
	return &Unwinder{
		modules:  modules,
		maxDepth: maxDepth,
	}
}

// ipSP identifies one unwind step for cycle detection: a repeating
// (ip, sp) pair on a corrupted stack would otherwise never terminate.
type ipSP struct {
	ip uint64
	sp uint64
}

// UnwindSample derives the stack trace for one sample. It always returns a
// trace: unwinding problems yield a truncated trace, never an error, since
// partial information is still useful.
func (u *Unwinder) UnwindSample(sample *host.Sample) *libpf.Trace {
	trace := &libpf.Trace{
		TID:       sample.TID,
		Timestamp: sample.Timestamp,
		Frames:    make([]libpf.Frame, 0, 16),
	}

	ip := sample.Regs.IP
	sp := sample.Regs.SP
	fp := sample.Regs.FP
	lr := sample.Regs.LR

	visited := make(map[ipSP]libpf.Void, 16)
	for {
		if len(trace.Frames) >= u.maxDepth {
			trace.Truncated = true
			break
		}
		key := ipSP{ip: ip, sp: sp}
		if _, seen := visited[key]; seen {
			trace.Truncated = true
			break
		}
		visited[key] = libpf.Void{}

		module := u.modules.Resolve(libpf.Address(ip))
		trace.Frames = append(trace.Frames, frameFor(libpf.Address(ip), module))

		nextIP, nextSP, nextFP, status := u.step(sample, module, ip, sp, fp)
		if status == stepStop {
			break
		}
		if status == stepFailed {
			// A leaf function that did not set up a frame yet keeps
			// its return address in the link register on arm64.
			if len(trace.Frames) == 1 && lr != 0 && lr != ip &&
				u.isCode(lr) {
				ip, lr = lr, 0
				continue
			}
			trace.Truncated = true
			break
		}
		if nextIP == 0 {
			break
		}
		if !u.isCode(nextIP) {
			trace.Truncated = true
			break
		}
		ip, sp, fp = nextIP, nextSP, nextFP
	}
	return trace
}

type stepStatus uint8

const (
	stepOK stepStatus = iota
	// stepStop means the unwind info marked this as the root frame.
	stepStop
	// stepFailed means no usable rule or the stack window ran out.
	stepFailed
)

// step computes the caller's ip/sp/fp for one frame using the owning
// module's strategy.
func (u *Unwinder) step(sample *host.Sample, module *Module,
	ip, sp, fp uint64) (nextIP, nextSP, nextFP uint64, status stepStatus) {
	strategy := StrategyScan
	if module != nil {
		strategy = module.Strategy
	}

	switch strategy {
	case StrategyDeltas:
		info := module.Deltas.Lookup(uint64(module.ELFVA(libpf.Address(ip))))
		switch info.Opcode {
		case UnwindOpcodeStop:
			return 0, 0, 0, stepStop
		case UnwindOpcodeBaseSP, UnwindOpcodeBaseFP:
			return u.stepWithInfo(sample, &info, sp, fp)
		default:
			// No CFI for this address; the frame pointer layout is
			// the best remaining guess.
			return u.stepWithInfo(sample, &UnwindInfoFramePointer, sp, fp)
		}
	case StrategyFramePointer:
		return u.stepWithInfo(sample, &UnwindInfoFramePointer, sp, fp)
	default:
		return u.scanStep(sample, sp)
	}
}

func (u *Unwinder) stepWithInfo(sample *host.Sample, info *UnwindInfo,
	sp, fp uint64) (nextIP, nextSP, nextFP uint64, status stepStatus) {
	var cfa uint64
	switch info.Opcode {
	case UnwindOpcodeBaseSP:
		cfa = sp + uint64(info.Param)
	case UnwindOpcodeBaseFP:
		if fp == 0 {
			// A zero frame pointer is the ABI marker for the
			// outermost frame.
			return 0, 0, 0, stepStop
		}
		cfa = fp + uint64(info.Param)
	default:
		return 0, 0, 0, stepFailed
	}
	if cfa <= sp {
		// The stack grows down; a CFA at or below SP is corrupt.
		return 0, 0, 0, stepFailed
	}

	ra, ok := windowU64(sample, cfa+uint64(int64(info.RAParam)))
	if !ok {
		return 0, 0, 0, stepFailed
	}
	nextFP = fp
	if info.FPValid {
		if savedFP, ok := windowU64(sample, cfa+uint64(int64(info.FPParam))); ok {
			nextFP = savedFP
		}
	}
	return ra, cfa, nextFP, stepOK
}

// scanStep walks the stack window upwards from SP looking for the first
// value that points into executable code and treats it as the return
// address. Pure heuristic, used where no unwind info exists at all.
func (u *Unwinder) scanStep(sample *host.Sample,
	sp uint64) (nextIP, nextSP, nextFP uint64, status stepStatus) {
	const wordSize = 8
	for addr := sp + wordSize; ; addr += wordSize {
		candidate, ok := windowU64(sample, addr)
		if !ok {
			// Window exhausted without a plausible return address.
			return 0, 0, 0, stepFailed
		}
		if candidate != 0 && u.isCode(candidate) {
			return candidate, addr + wordSize, 0, stepOK
		}
	}
}

// isCode reports whether addr lies in any executable mapping.
func (u *Unwinder) isCode(addr uint64) bool {
	return u.modules.Resolve(libpf.Address(addr)) != nil
}

// windowU64 reads a native word from the sample's stack window. The second
// return value is false when addr is outside the captured window.
func windowU64(sample *host.Sample, addr uint64) (uint64, bool) {
	base := uint64(sample.StackBase)
	if addr < base || addr+8 > base+uint64(len(sample.Stack)) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(sample.Stack[addr-base:]), true
}

// frameFor builds the trace frame for one code address.
func frameFor(addr libpf.Address, module *Module) libpf.Frame {
	if module == nil {
		return libpf.Frame{
			Address:      addr,
			FileID:       libpf.UnknownFileID,
			ModuleOffset: addr,
		}
	}
	return libpf.Frame{
		Address:      addr,
		FileID:       module.FileID,
		ModuleName:   module.Name,
		ModuleOffset: module.ELFVA(addr),
	}
}
