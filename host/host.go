// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// Package host holds the raw capture-side data types that flow from the
// sample collector to the unwinder, before any symbolization or
// aggregation happened.
package host // import "github.com/chhetripradeep/samply/host"

import (
	"sync"

	"github.com/chhetripradeep/samply/libpf"
)

// Regs is the subset of a thread's register state the unwinder needs.
type Regs struct {
	// IP is the instruction pointer (RIP on x86-64, PC on arm64).
	IP uint64
	// SP is the stack pointer.
	SP uint64
	// FP is the frame pointer (RBP on x86-64, X29 on arm64).
	FP uint64
	// LR is the link register on arm64, zero on x86-64.
	LR uint64
}

// Sample is one point-in-time capture of a thread's register and stack
// state. It is immutable once enqueued; the stack window buffer is owned by
// an Arena and must be returned via Release once the sample is consumed.
type Sample struct {
	// TID is the sampled thread.
	TID libpf.TID
	// Timestamp is the monotonic capture time.
	Timestamp libpf.KTime
	// Regs is the captured register state.
	Regs Regs
	// StackBase is the target address the first byte of Stack was read
	// from. It equals the captured stack pointer.
	StackBase libpf.Address
	// Stack is the bounded stack memory window, anchored at StackBase.
	Stack []byte

	arena  *Arena
	window *[]byte
}

// Release returns the stack window buffer to its arena. The sample's Stack
// must not be accessed afterwards.
func (s *Sample) Release() {
	if s.arena != nil && s.window != nil {
		s.arena.put(s.window)
		s.arena = nil
		s.window = nil
		s.Stack = nil
	}
}

// Arena recycles stack window buffers so the timing-sensitive capture path
// does not allocate per sample.
type Arena struct {
	pool       sync.Pool
	windowSize int
}

// NewArena creates an arena handing out buffers of windowSize bytes.
func NewArena(windowSize int) *Arena {
	a := &Arena{windowSize: windowSize}
	a.pool.New = func() any {
		buf := make([]byte, windowSize)
		return &buf
	}
	return a
}

// WindowSize returns the fixed size of the buffers this arena hands out.
func (a *Arena) WindowSize() int {
	return a.windowSize
}

// NewSample builds a Sample whose stack window is backed by this arena.
// used is the number of bytes of the window that were actually filled.
func (a *Arena) NewSample(tid libpf.TID, ts libpf.KTime, regs Regs,
	window *[]byte, used int) *Sample {
	return &Sample{
		TID:       tid,
		Timestamp: ts,
		Regs:      regs,
		StackBase: libpf.Address(regs.SP),
		Stack:     (*window)[:used],
		arena:     a,
		window:    window,
	}
}

// GetWindow hands out a full-size buffer for the capture path to fill.
func (a *Arena) GetWindow() *[]byte {
	return a.pool.Get().(*[]byte)
}

// PutWindow returns an unused buffer, e.g. after a failed capture.
func (a *Arena) PutWindow(buf *[]byte) {
	a.put(buf)
}

func (a *Arena) put(buf *[]byte) {
	*buf = (*buf)[:a.windowSize]
	a.pool.Put(buf)
}
