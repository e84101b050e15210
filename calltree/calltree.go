// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// Package calltree folds stack traces into per-thread call trees with
// self and total sample counts.
package calltree // import "github.com/chhetripradeep/samply/calltree"

import (
	"sort"

	"github.com/chhetripradeep/samply/libpf"
)

// MergeGranularity controls how frames are merged into call tree nodes.
type MergeGranularity int

const (
	// MergeByFunction merges frames that resolve to the same function in the
	// same module, regardless of the exact return address. Frames without
	// symbol information fall back to address identity.
	MergeByFunction MergeGranularity = iota

	// MergeByAddress keeps every distinct code address as its own node.
	MergeByAddress
)

func (g MergeGranularity) String() string {
	switch g {
	case MergeByFunction:
		return "function"
	case MergeByAddress:
		return "address"
	default:
		return "<invalid>"
	}
}

// nodeKey identifies a call tree node below a given parent. Exactly one of
// name or addr carries the identity, depending on the merge granularity.
type nodeKey struct {
	fileID libpf.FileID
	name   string
	addr   libpf.Address
}

// Node is a single call tree node. The synthetic per-thread root has a zero
// Frame and never accumulates self samples.
type Node struct {
	// Frame is a representative frame for this node. Under function level
	// merging it is the first frame observed for the function.
	Frame libpf.Frame

	// SelfCount is the number of samples whose innermost attributable frame
	// landed on this node.
	SelfCount uint64

	// TotalCount is the number of samples in which this node appeared
	// anywhere on the stack.
	TotalCount uint64

	children map[nodeKey]*Node
	// order preserves first-observation order of children for deterministic
	// output.
	order []*Node
}

// Children returns the child nodes in first-observation order.
func (n *Node) Children() []*Node {
	return n.order
}

func (n *Node) child(key nodeKey, frame libpf.Frame) *Node {
	if c, ok := n.children[key]; ok {
		return c
	}
	c := &Node{
		Frame:    frame,
		children: make(map[nodeKey]*Node),
	}
	n.children[key] = c
	n.order = append(n.order, c)
	return c
}

// Aggregator folds traces into per-thread call trees and records the flat
// sample timeline. It is confined to the consumer goroutine and needs no
// locking.
type Aggregator struct {
	granularity MergeGranularity

	threads  map[libpf.TID]*Node
	timeline []*libpf.Trace
}

// New returns an empty Aggregator merging frames at the given granularity.
func New(granularity MergeGranularity) *Aggregator {
	return &Aggregator{
		granularity: granularity,
		threads:     make(map[libpf.TID]*Node),
	}
}

// AddTrace folds one trace into the owning thread's call tree and appends it
// to the timeline. Frames are walked from the outermost captured frame down
// to the leaf; every visited node gets a total sample, the final node
// additionally gets the self sample. For truncated traces the outermost
// captured frame is the truncation point, so partial stacks still account
// their sample instead of dropping it.
func (a *Aggregator) AddTrace(trace *libpf.Trace) {
	if len(trace.Frames) == 0 {
		return
	}
	root := a.threads[trace.TID]
	if root == nil {
		root = &Node{children: make(map[nodeKey]*Node)}
		a.threads[trace.TID] = root
	}
	root.TotalCount++

	node := root
	for i := len(trace.Frames) - 1; i >= 0; i-- {
		frame := trace.Frames[i]
		node = node.child(a.keyFor(&frame), frame)
		node.TotalCount++
	}
	node.SelfCount++

	a.timeline = append(a.timeline, trace)
}

func (a *Aggregator) keyFor(frame *libpf.Frame) nodeKey {
	if a.granularity == MergeByFunction && !frame.Symbol.Synthetic &&
		frame.Symbol.Name != libpf.SymbolNameUnknown {
		return nodeKey{fileID: frame.FileID, name: string(frame.Symbol.Name)}
	}
	return nodeKey{fileID: frame.FileID, addr: frame.ModuleOffset}
}

// Thread returns the call tree root for tid, or nil if the thread never
// produced a sample.
func (a *Aggregator) Thread(tid libpf.TID) *Node {
	return a.threads[tid]
}

// Threads returns the sampled thread IDs in ascending order.
func (a *Aggregator) Threads() []libpf.TID {
	tids := make([]libpf.TID, 0, len(a.threads))
	for tid := range a.threads {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	return tids
}

// Timeline returns all folded traces in capture order.
func (a *Aggregator) Timeline() []*libpf.Trace {
	return a.timeline
}

// SampleCount returns the number of folded traces.
func (a *Aggregator) SampleCount() uint64 {
	return uint64(len(a.timeline))
}
