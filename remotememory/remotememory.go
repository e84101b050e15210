// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotememory provides access to the memory space of another
// process. The ReaderAt interface is the basic access path; convenience
// functions are provided for reading common data types.
package remotememory // import "github.com/chhetripradeep/samply/remotememory"

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/chhetripradeep/samply/libpf"
)

// RemoteMemory implements a set of convenience functions to access the
// memory of a target process.
type RemoteMemory struct {
	io.ReaderAt
}

// Valid determines if this RemoteMemory refers to a target process.
func (rm RemoteMemory) Valid() bool {
	return rm.ReaderAt != nil
}

// Read fills p with data from remote memory at addr.
func (rm RemoteMemory) Read(addr libpf.Address, p []byte) error {
	_, err := rm.ReadAt(p, int64(addr))
	return err
}

// Ptr reads a native pointer from remote memory.
func (rm RemoteMemory) Ptr(addr libpf.Address) libpf.Address {
	var buf [8]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return libpf.Address(binary.LittleEndian.Uint64(buf[:]))
}

// Uint32 reads a 32-bit unsigned integer from remote memory.
func (rm RemoteMemory) Uint32(addr libpf.Address) uint32 {
	var buf [4]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// Uint64 reads a 64-bit unsigned integer from remote memory.
func (rm RemoteMemory) Uint64(addr libpf.Address) uint64 {
	var buf [8]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// String reads a zero terminated string from remote memory.
func (rm RemoteMemory) String(addr libpf.Address) string {
	buf := make([]byte, 1024)
	n, err := rm.ReadAt(buf, int64(addr))
	if n == 0 || (err != nil && err != io.EOF) {
		return ""
	}
	buf = buf[:n]
	if zeroIdx := bytes.IndexByte(buf, 0); zeroIdx >= 0 {
		return string(buf[:zeroIdx])
	}
	// Not a zero terminated string within the read window.
	return ""
}

// ProcessVirtualMemory implements RemoteMemory on Linux by using the
// process_vm_readv syscall, which reads the target address space without
// stopping the target.
type ProcessVirtualMemory struct {
	pid libpf.PID
}

func (vm ProcessVirtualMemory) ReadAt(p []byte, off int64) (int, error) {
	numBytesWanted := len(p)
	if numBytesWanted == 0 {
		return 0, nil
	}
	localIov := []unix.Iovec{{Base: &p[0], Len: uint64(numBytesWanted)}}
	remoteIov := []unix.RemoteIovec{{Base: uintptr(off), Len: numBytesWanted}}
	numBytesRead, err := unix.ProcessVMReadv(int(vm.pid), localIov, remoteIov, 0)
	if err != nil {
		return numBytesRead, fmt.Errorf("failed to read PID %v at 0x%x: %w",
			vm.pid, off, err)
	}
	if numBytesRead != numBytesWanted {
		// Partial reads happen when the window crosses an unmapped page.
		// Report what was read along with io.EOF semantics.
		return numBytesRead, io.EOF
	}
	return numBytesRead, nil
}

// NewProcessVirtualMemory returns the process_vm_readv implementation of
// RemoteMemory for the given target.
func NewProcessVirtualMemory(pid libpf.PID) RemoteMemory {
	return RemoteMemory{ReaderAt: ProcessVirtualMemory{pid}}
}
