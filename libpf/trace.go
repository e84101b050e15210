// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "github.com/chhetripradeep/samply/libpf"

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// TraceHash is the hash of one stack trace's frame sequence, used to
// deduplicate symbolization work for recurring traces.
type TraceHash uint64

func (h TraceHash) Hash32() uint32 {
	return uint32(h)
}

// Trace is one unwound stack trace: frames ordered leaf-first, derived from
// exactly one sample.
type Trace struct {
	// Frames holds the stack frames, innermost call first.
	Frames []Frame
	// TID is the thread the trace was captured on.
	TID TID
	// Timestamp is the monotonic capture time of the originating sample.
	Timestamp KTime
	// Truncated is set when unwinding stopped early: depth limit hit,
	// stack window exhausted, or a corrupt frame chain.
	Truncated bool
}

// Hash computes the TraceHash over the frame sequence. Truncation state is
// part of the identity so a truncated prefix never aliases a full trace.
func (t *Trace) Hash() TraceHash {
	h := xxh3.New()
	var buf [8]byte
	for i := range t.Frames {
		binary.LittleEndian.PutUint64(buf[:], t.Frames[i].FileID.Hash64())
		_, _ = h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(t.Frames[i].ModuleOffset))
		_, _ = h.Write(buf[:])
	}
	if t.Truncated {
		_, _ = h.Write([]byte{1})
	}
	return TraceHash(h.Sum64())
}
