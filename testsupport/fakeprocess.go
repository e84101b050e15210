// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// Package testsupport provides a scriptable in-memory implementation of the
// process capability interface, so the capture and unwinding stages can be
// tested without a live target.
package testsupport // import "github.com/chhetripradeep/samply/testsupport"

import (
	"io"
	"sort"
	"sync"

	"github.com/chhetripradeep/samply/host"
	"github.com/chhetripradeep/samply/libpf"
	"github.com/chhetripradeep/samply/process"
	"github.com/chhetripradeep/samply/remotememory"
)

// FakeThread is one scripted thread of a FakeProcess.
type FakeThread struct {
	Regs host.Regs
	// FailSuspends makes the next N suspend attempts fail, simulating a
	// race with thread teardown.
	FailSuspends int

	suspended bool
}

// MemRegion is a range of fake target memory.
type MemRegion struct {
	Base uint64
	Data []byte
}

// FakeProcess implements process.Process backed by scripted threads and
// memory regions. All methods are safe for concurrent use.
type FakeProcess struct {
	Pid libpf.PID

	mu       sync.Mutex
	threads  map[libpf.TID]*FakeThread
	regions  []MemRegion
	mappings []process.Mapping
	gone     bool
	closed   bool

	// SuspendCount tallies successful suspensions per thread.
	SuspendCount map[libpf.TID]int
}

var _ process.Process = &FakeProcess{}

// NewFakeProcess creates an empty fake target with the given PID.
func NewFakeProcess(pid libpf.PID) *FakeProcess {
	return &FakeProcess{
		Pid:          pid,
		threads:      make(map[libpf.TID]*FakeThread),
		SuspendCount: make(map[libpf.TID]int),
	}
}

// AddThread registers a thread with the given register state.
func (fp *FakeProcess) AddThread(tid libpf.TID, th *FakeThread) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.threads[tid] = th
}

// RemoveThread simulates thread exit.
func (fp *FakeProcess) RemoveThread(tid libpf.TID) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	delete(fp.threads, tid)
}

// AddRegion registers fake memory contents at the given base address.
func (fp *FakeProcess) AddRegion(base uint64, data []byte) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.regions = append(fp.regions, MemRegion{Base: base, Data: data})
	sort.Slice(fp.regions, func(i, j int) bool {
		return fp.regions[i].Base < fp.regions[j].Base
	})
}

// SetMappings installs the mapping list returned by GetMappings.
func (fp *FakeProcess) SetMappings(mappings []process.Mapping) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.mappings = mappings
}

// MarkGone simulates whole-process exit.
func (fp *FakeProcess) MarkGone() {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.gone = true
}

func (fp *FakeProcess) PID() libpf.PID {
	return fp.Pid
}

func (fp *FakeProcess) GetThreads() ([]libpf.TID, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.gone {
		return nil, process.ErrProcessGone
	}
	tids := make([]libpf.TID, 0, len(fp.threads))
	for tid := range fp.threads {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	return tids, nil
}

func (fp *FakeProcess) SuspendThread(tid libpf.TID) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	th, ok := fp.threads[tid]
	if !ok {
		return process.ErrThreadGone
	}
	if th.FailSuspends > 0 {
		th.FailSuspends--
		return process.ErrThreadGone
	}
	th.suspended = true
	fp.SuspendCount[tid]++
	return nil
}

func (fp *FakeProcess) ResumeThread(tid libpf.TID) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	th, ok := fp.threads[tid]
	if !ok {
		return process.ErrThreadGone
	}
	th.suspended = false
	return nil
}

func (fp *FakeProcess) ReadRegs(tid libpf.TID) (host.Regs, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	th, ok := fp.threads[tid]
	if !ok {
		return host.Regs{}, process.ErrThreadGone
	}
	return th.Regs, nil
}

func (fp *FakeProcess) GetMappings() ([]process.Mapping, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.gone {
		return nil, process.ErrProcessGone
	}
	return fp.mappings, nil
}

func (fp *FakeProcess) GetRemoteMemory() remotememory.RemoteMemory {
	return remotememory.RemoteMemory{ReaderAt: fp}
}

// ReadAt serves fake memory reads, returning partial data with io.EOF when
// the window extends past a region, like a real crossed-page read.
func (fp *FakeProcess) ReadAt(p []byte, off int64) (int, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	for _, region := range fp.regions {
		if off < int64(region.Base) ||
			off >= int64(region.Base)+int64(len(region.Data)) {
			continue
		}
		n := copy(p, region.Data[off-int64(region.Base):])
		if n < len(p) {
			return n, io.EOF
		}
		return n, nil
	}
	return 0, io.EOF
}

func (fp *FakeProcess) Close() error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.closed = true
	return nil
}

// Closed reports whether Close was called.
func (fp *FakeProcess) Closed() bool {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.closed
}
