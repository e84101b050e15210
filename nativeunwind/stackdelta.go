// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package nativeunwind // import "github.com/chhetripradeep/samply/nativeunwind"

import "sort"

// Unwind opcodes describing how to compute the canonical frame address
// (CFA) for a given instruction address.
const (
	// UnwindOpcodeInvalid marks addresses with no usable unwind info.
	UnwindOpcodeInvalid uint8 = iota
	// UnwindOpcodeStop marks the root function of a stack.
	UnwindOpcodeStop
	// UnwindOpcodeBaseSP computes CFA as SP + Param.
	UnwindOpcodeBaseSP
	// UnwindOpcodeBaseFP computes CFA as FP + Param.
	UnwindOpcodeBaseFP
)

// UnwindInfo contains the data needed to unwind one frame: the CFA rule
// plus the CFA-relative locations of the return address and the caller's
// frame pointer.
type UnwindInfo struct {
	// Opcode selects the CFA base register.
	Opcode uint8
	// Param is the CFA offset from the base register.
	Param int32
	// RAParam is the offset from CFA where the return address is stored.
	RAParam int32
	// FPParam is the offset from CFA where the caller's frame pointer
	// was saved. FPValid distinguishes offset 0 from "not saved".
	FPParam int32
	FPValid bool
}

// UnwindInfoInvalid marks invalid or unsupported instruction addresses.
var UnwindInfoInvalid = UnwindInfo{Opcode: UnwindOpcodeInvalid}

// UnwindInfoStop marks the root function of a stack.
var UnwindInfoStop = UnwindInfo{Opcode: UnwindOpcodeStop}

// UnwindInfoFramePointer describes the classic frame pointer frame layout:
// CFA = FP + 16, return address at CFA-8, caller FP at CFA-16.
var UnwindInfoFramePointer = UnwindInfo{
	Opcode:  UnwindOpcodeBaseFP,
	Param:   16,
	RAParam: -8,
	FPParam: -16,
	FPValid: true,
}

// StackDelta associates one instruction address interval, starting at
// Address and extending to the next delta's Address, with its UnwindInfo.
type StackDelta struct {
	Address uint64
	Info    UnwindInfo
}

// IntervalData is a module's complete stack delta table, sorted by address.
type IntervalData struct {
	Deltas []StackDelta
}

// Lookup finds the UnwindInfo covering the given module-relative address.
// Addresses outside all intervals get UnwindInfoInvalid.
func (d *IntervalData) Lookup(addr uint64) UnwindInfo {
	idx := sort.Search(len(d.Deltas), func(i int) bool {
		return d.Deltas[i].Address > addr
	})
	if idx == 0 {
		return UnwindInfoInvalid
	}
	return d.Deltas[idx-1].Info
}

// Sort orders the delta table by address; must be called once after
// extraction, before any Lookup.
func (d *IntervalData) Sort() {
	sort.Slice(d.Deltas, func(i, j int) bool {
		return d.Deltas[i].Address < d.Deltas[j].Address
	})
}
