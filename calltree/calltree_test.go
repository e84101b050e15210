// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package calltree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chhetripradeep/samply/libpf"
)

var testFileID = libpf.NewFileID(0xdead, 0xbeef)

func makeFrame(offset libpf.Address, name string) libpf.Frame {
	return libpf.Frame{
		Address:      0x400000 + offset,
		FileID:       testFileID,
		ModuleName:   "testee",
		ModuleOffset: offset,
		Symbol:       libpf.Symbol{Name: libpf.SymbolName(name)},
	}
}

// makeTrace builds a leaf-first trace from the given frames.
func makeTrace(tid libpf.TID, frames ...libpf.Frame) *libpf.Trace {
	return &libpf.Trace{
		Frames:    frames,
		TID:       tid,
		Timestamp: libpf.KTime(1000),
	}
}

// checkCounts verifies that every node's total equals its self count plus
// the totals of its children, recursively.
func checkCounts(t *testing.T, node *Node) {
	t.Helper()
	var childTotal uint64
	for _, child := range node.Children() {
		childTotal += child.TotalCount
		checkCounts(t, child)
	}
	assert.Equal(t, node.TotalCount, node.SelfCount+childTotal,
		"node %s: total != self + children", node.Frame.Symbol.Name)
}

func TestFoldIdenticalTraces(t *testing.T) {
	agg := New(MergeByFunction)

	leaf := makeFrame(0x100, "leaf")
	mid := makeFrame(0x200, "mid")
	root := makeFrame(0x300, "root")

	for i := 0; i < 10; i++ {
		agg.AddTrace(makeTrace(42, leaf, mid, root))
	}

	tree := agg.Thread(42)
	require.NotNil(t, tree)
	assert.Equal(t, uint64(10), tree.TotalCount)
	assert.Equal(t, uint64(0), tree.SelfCount)

	require.Len(t, tree.Children(), 1)
	rootNode := tree.Children()[0]
	assert.Equal(t, libpf.SymbolName("root"), rootNode.Frame.Symbol.Name)
	assert.Equal(t, uint64(10), rootNode.TotalCount)
	assert.Equal(t, uint64(0), rootNode.SelfCount)

	require.Len(t, rootNode.Children(), 1)
	midNode := rootNode.Children()[0]
	assert.Equal(t, libpf.SymbolName("mid"), midNode.Frame.Symbol.Name)
	assert.Equal(t, uint64(10), midNode.TotalCount)
	assert.Equal(t, uint64(0), midNode.SelfCount)

	require.Len(t, midNode.Children(), 1)
	leafNode := midNode.Children()[0]
	assert.Equal(t, libpf.SymbolName("leaf"), leafNode.Frame.Symbol.Name)
	assert.Equal(t, uint64(10), leafNode.TotalCount)
	assert.Equal(t, uint64(10), leafNode.SelfCount)
	assert.Empty(t, leafNode.Children())

	checkCounts(t, tree)
	assert.Equal(t, uint64(10), agg.SampleCount())
	assert.Len(t, agg.Timeline(), 10)
}

func TestFoldTruncatedTrace(t *testing.T) {
	agg := New(MergeByFunction)

	leaf := makeFrame(0x100, "leaf")
	mid := makeFrame(0x200, "mid")
	root := makeFrame(0x300, "root")

	agg.AddTrace(makeTrace(7, leaf, mid, root))

	// The second trace lost its callers to the depth limit. Its sample must
	// still be accounted, with the self count landing on the innermost
	// frame of the partial stack.
	truncated := makeTrace(7, mid, root)
	truncated.Truncated = true
	agg.AddTrace(truncated)

	tree := agg.Thread(7)
	require.NotNil(t, tree)
	assert.Equal(t, uint64(2), tree.TotalCount)

	rootNode := tree.Children()[0]
	assert.Equal(t, uint64(2), rootNode.TotalCount)
	midNode := rootNode.Children()[0]
	assert.Equal(t, uint64(2), midNode.TotalCount)
	assert.Equal(t, uint64(1), midNode.SelfCount)
	leafNode := midNode.Children()[0]
	assert.Equal(t, uint64(1), leafNode.TotalCount)
	assert.Equal(t, uint64(1), leafNode.SelfCount)

	checkCounts(t, tree)
}

func TestThreadsAreIsolated(t *testing.T) {
	agg := New(MergeByFunction)

	frame := makeFrame(0x100, "worker")
	agg.AddTrace(makeTrace(10, frame))
	agg.AddTrace(makeTrace(11, frame))
	agg.AddTrace(makeTrace(11, frame))

	assert.Equal(t, []libpf.TID{10, 11}, agg.Threads())
	assert.Equal(t, uint64(1), agg.Thread(10).TotalCount)
	assert.Equal(t, uint64(2), agg.Thread(11).TotalCount)
	assert.Nil(t, agg.Thread(12))
}

func TestMergeGranularity(t *testing.T) {
	// Two return addresses inside the same function.
	callA := makeFrame(0x110, "hot")
	callB := makeFrame(0x118, "hot")

	t.Run("function", func(t *testing.T) {
		agg := New(MergeByFunction)
		agg.AddTrace(makeTrace(1, callA))
		agg.AddTrace(makeTrace(1, callB))

		tree := agg.Thread(1)
		require.Len(t, tree.Children(), 1)
		assert.Equal(t, uint64(2), tree.Children()[0].TotalCount)
		assert.Equal(t, uint64(2), tree.Children()[0].SelfCount)
	})

	t.Run("address", func(t *testing.T) {
		agg := New(MergeByAddress)
		agg.AddTrace(makeTrace(1, callA))
		agg.AddTrace(makeTrace(1, callB))

		tree := agg.Thread(1)
		require.Len(t, tree.Children(), 2)
		for _, child := range tree.Children() {
			assert.Equal(t, uint64(1), child.TotalCount)
		}
	})
}

func TestSyntheticSymbolsNeverMergeByName(t *testing.T) {
	agg := New(MergeByFunction)

	frameA := makeFrame(0x500, "")
	frameA.Symbol = libpf.SyntheticSymbol(frameA.Address)
	frameB := makeFrame(0x508, "")
	frameB.Symbol = libpf.SyntheticSymbol(frameB.Address)

	agg.AddTrace(makeTrace(1, frameA))
	agg.AddTrace(makeTrace(1, frameB))

	// Unresolved frames keep address identity even under function merging.
	assert.Len(t, agg.Thread(1).Children(), 2)
}

func TestEmptyTraceIsIgnored(t *testing.T) {
	agg := New(MergeByFunction)
	agg.AddTrace(&libpf.Trace{TID: 1})

	assert.Nil(t, agg.Thread(1))
	assert.Zero(t, agg.SampleCount())
}
