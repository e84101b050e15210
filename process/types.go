// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// This file defines the capability interface used to inspect and control a
// target process. Callers depend only on this interface, never on which
// platform implementation is behind it.

package process // import "github.com/chhetripradeep/samply/process"

import (
	"debug/elf"
	"errors"
	"strings"

	"github.com/chhetripradeep/samply/host"
	"github.com/chhetripradeep/samply/libpf"
	"github.com/chhetripradeep/samply/remotememory"
)

// ErrThreadGone is returned when a thread exited between discovery and the
// requested operation. This is a local, non-fatal condition: the caller
// drops the sample attempt and carries on.
var ErrThreadGone = errors.New("thread has exited")

// ErrProcessGone is returned when the whole target process exited.
var ErrProcessGone = errors.New("process has exited")

// Mapping contains information about a memory mapping of the target.
type Mapping struct {
	// Vaddr is the virtual memory start of this mapping.
	Vaddr uint64
	// Length is the length of the mapping.
	Length uint64
	// Flags contains the mapping flags and permissions.
	Flags elf.ProgFlag
	// FileOffset contains for file backed mappings the offset from the file start.
	FileOffset uint64
	// Device holds the device ID where the file is located.
	Device uint64
	// Inode holds the mapped file's inode number.
	Inode uint64
	// Path contains the file name for file backed mappings.
	Path string
}

func (m *Mapping) IsExecutable() bool {
	return m.Flags&elf.PF_X == elf.PF_X
}

func (m *Mapping) IsAnonymous() bool {
	return m.Path == "" || m.IsMemFD()
}

func (m *Mapping) IsMemFD() bool {
	return strings.HasPrefix(m.Path, "/memfd:")
}

// Contains reports whether addr falls inside this mapping.
func (m *Mapping) Contains(addr libpf.Address) bool {
	return uint64(addr) >= m.Vaddr && uint64(addr) < m.Vaddr+m.Length
}

// Process is the capability interface for one attached target process:
// thread enumeration plus per-thread suspend, resume, register read and
// memory read. The ptrace implementation requires all calls to come from
// the goroutine that attached; see NewPtrace.
type Process interface {
	// PID returns the process identifier of the target.
	PID() libpf.PID

	// GetThreads enumerates the currently live threads of the target.
	GetThreads() ([]libpf.TID, error)

	// SuspendThread stops one thread for state capture. The caller must
	// pair it with ResumeThread as quickly as possible.
	SuspendThread(tid libpf.TID) error

	// ResumeThread lets a suspended thread continue.
	ResumeThread(tid libpf.TID) error

	// ReadRegs reads the register state of a suspended thread.
	ReadRegs(tid libpf.TID) (host.Regs, error)

	// GetMappings reads and parses the process memory mappings.
	GetMappings() ([]Mapping, error)

	// GetRemoteMemory returns a reader accessing the target memory. It is
	// safe for concurrent use from other goroutines.
	GetRemoteMemory() remotememory.RemoteMemory

	// Close detaches from the target, resuming any suspended threads.
	Close() error
}
