// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "github.com/chhetripradeep/samply/libpf"

// Frame represents one frame of an unwound stack trace.
type Frame struct {
	// Address is the virtual address of the frame in the target process:
	// the instruction pointer for the leaf frame, the return address for
	// all caller frames.
	Address Address
	// FileID identifies the module the address belongs to, or
	// UnknownFileID for anonymous mappings.
	FileID FileID
	// ModuleName is the base name of the owning module, empty for
	// anonymous mappings.
	ModuleName string
	// ModuleOffset is the address translated into the module's ELF
	// virtual address space, usable for symbolization.
	ModuleOffset Address
	// Symbol is the resolved symbol information. A zero Name means
	// symbolization has not run for this frame yet.
	Symbol Symbol
}

// FrameID identifies a frame for merging purposes. Two frames with the same
// FrameID fold into the same call tree node.
type FrameID struct {
	fileID FileID
	addr   Address
}

// NewFrameID builds an address-granularity frame identity.
func NewFrameID(fileID FileID, addr Address) FrameID {
	return FrameID{fileID: fileID, addr: addr}
}

func (f FrameID) FileID() FileID {
	return f.fileID
}

func (f FrameID) Address() Address {
	return f.addr
}

func (f FrameID) Hash32() uint32 {
	return uint32(f.fileID.Hash64() ^ f.addr.Hash())
}
