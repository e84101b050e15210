// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "github.com/chhetripradeep/samply/reporter"

import (
	"github.com/chhetripradeep/samply/calltree"
	"github.com/chhetripradeep/samply/libpf"
)

// Document is the interchange profile document. Symbol and module names are
// deduplicated into the string table, frames into the frame table; call tree
// nodes and timeline samples reference both by index.
type Document struct {
	Version int          `json:"version"`
	Meta    DocumentMeta `json:"meta"`
	// Strings is the deduplicated string table. Index 0 is always the
	// empty string.
	Strings []string `json:"strings"`
	Frames  []DocumentFrame  `json:"frames"`
	Threads []DocumentThread `json:"threads"`
	// Samples is the flat, time ordered trace list, preserving capture
	// order for timeline views.
	Samples []DocumentSample `json:"samples"`
}

type DocumentMeta struct {
	SessionID           string   `json:"sessionId"`
	StartTime           uint64   `json:"startTime"`
	EndTime             uint64   `json:"endTime"`
	SampleIntervalNanos int64    `json:"sampleIntervalNanos"`
	OS                  string   `json:"os"`
	Arch                string   `json:"arch"`
	Hostname            string   `json:"hostname,omitempty"`
	PID                 uint32   `json:"pid"`
	CommandLine         []string `json:"commandLine"`
	CapturedSamples     uint64   `json:"capturedSamples"`
	DroppedRace         uint64   `json:"droppedRace"`
	DroppedBackpressure uint64   `json:"droppedBackpressure"`
	Granularity         string   `json:"granularity"`
}

type DocumentFrame struct {
	// Address is the instruction address in the target's address space.
	Address uint64 `json:"address"`
	// ModuleOffset is the address translated into the module's ELF
	// virtual address space.
	ModuleOffset uint64 `json:"moduleOffset"`
	// FileID identifies the module executable.
	FileID string `json:"fileId"`
	// Module, Symbol and File are string table indices.
	Module int `json:"module"`
	Symbol int `json:"symbol"`
	File   int `json:"file"`
	Line   int `json:"line,omitempty"`
	// Synthetic marks frames whose symbol is only the formatted address.
	Synthetic bool `json:"synthetic,omitempty"`
}

// DocumentNode is one call tree node. Frame is a frame table index, or -1
// for the synthetic per-thread root. Children are node table indices in
// first-observation order.
type DocumentNode struct {
	Frame    int    `json:"frame"`
	Self     uint64 `json:"self"`
	Total    uint64 `json:"total"`
	Children []int  `json:"children,omitempty"`
}

type DocumentThread struct {
	TID   uint32 `json:"tid"`
	Nodes []DocumentNode `json:"nodes"`
}

type DocumentSample struct {
	TID       uint32 `json:"tid"`
	Timestamp int64  `json:"timestamp"`
	Truncated bool   `json:"truncated,omitempty"`
	// Frames are frame table indices, innermost call first.
	Frames []int `json:"frames"`
}

type frameKey struct {
	fileID libpf.FileID
	addr   libpf.Address
}

// docBuilder interns strings and frames while flattening a Profile.
type docBuilder struct {
	doc     *Document
	strings map[string]int
	frames  map[frameKey]int
}

func newDocBuilder() *docBuilder {
	b := &docBuilder{
		doc:     &Document{Version: FormatVersion},
		strings: map[string]int{"": 0},
		frames:  make(map[frameKey]int),
	}
	b.doc.Strings = []string{""}
	return b
}

func (b *docBuilder) internString(s string) int {
	if idx, ok := b.strings[s]; ok {
		return idx
	}
	idx := len(b.doc.Strings)
	b.doc.Strings = append(b.doc.Strings, s)
	b.strings[s] = idx
	return idx
}

func (b *docBuilder) internFrame(frame *libpf.Frame) int {
	key := frameKey{fileID: frame.FileID, addr: frame.Address}
	if idx, ok := b.frames[key]; ok {
		return idx
	}
	idx := len(b.doc.Frames)
	b.doc.Frames = append(b.doc.Frames, DocumentFrame{
		Address:      uint64(frame.Address),
		ModuleOffset: uint64(frame.ModuleOffset),
		FileID:       frame.FileID.String(),
		Module:       b.internString(frame.ModuleName),
		Symbol:       b.internString(string(frame.Symbol.Name)),
		File:         b.internString(frame.Symbol.SourceFile),
		Line:         int(frame.Symbol.SourceLine),
		Synthetic:    frame.Symbol.Synthetic,
	})
	b.frames[key] = idx
	return idx
}

func (b *docBuilder) addThread(tid libpf.TID, root *calltree.Node) {
	thread := DocumentThread{TID: uint32(tid)}
	// Flatten the tree breadth-first so the root lands at index 0.
	queue := []*calltree.Node{root}
	nodeIdx := map[*calltree.Node]int{root: 0}
	thread.Nodes = append(thread.Nodes, DocumentNode{Frame: -1})
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		idx := nodeIdx[node]
		thread.Nodes[idx].Self = node.SelfCount
		thread.Nodes[idx].Total = node.TotalCount
		for _, child := range node.Children() {
			childIdx := len(thread.Nodes)
			nodeIdx[child] = childIdx
			frameIdx := b.internFrame(&child.Frame)
			thread.Nodes = append(thread.Nodes,
				DocumentNode{Frame: frameIdx})
			thread.Nodes[idx].Children =
				append(thread.Nodes[idx].Children, childIdx)
			queue = append(queue, child)
		}
	}
	b.doc.Threads = append(b.doc.Threads, thread)
}

func (b *docBuilder) addSample(trace *libpf.Trace) {
	sample := DocumentSample{
		TID:       uint32(trace.TID),
		Timestamp: int64(trace.Timestamp),
		Truncated: trace.Truncated,
		Frames:    make([]int, len(trace.Frames)),
	}
	for i := range trace.Frames {
		sample.Frames[i] = b.internFrame(&trace.Frames[i])
	}
	b.doc.Samples = append(b.doc.Samples, sample)
}

// BuildDocument flattens a Profile into its interchange representation.
func BuildDocument(p *Profile) *Document {
	b := newDocBuilder()
	b.doc.Meta = DocumentMeta{
		SessionID:           p.Meta.SessionID,
		StartTime:           uint64(p.Meta.StartTime),
		EndTime:             uint64(p.Meta.EndTime),
		SampleIntervalNanos: p.Meta.SampleInterval.Nanoseconds(),
		OS:                  p.Meta.OS,
		Arch:                p.Meta.Arch,
		Hostname:            p.Meta.Hostname,
		PID:                 uint32(p.Meta.PID),
		CommandLine:         p.Meta.CommandLine,
		CapturedSamples:     p.Meta.CapturedSamples,
		DroppedRace:         p.Meta.DroppedRace,
		DroppedBackpressure: p.Meta.DroppedBackpressure,
		Granularity:         p.Meta.Granularity.String(),
	}
	for _, tid := range p.Threads() {
		b.addThread(tid, p.Thread(tid))
	}
	for _, trace := range p.Timeline() {
		b.addSample(trace)
	}
	return b.doc
}
