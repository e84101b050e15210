//go:build linux

// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "github.com/chhetripradeep/samply/process"

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/chhetripradeep/samply/host"
	"github.com/chhetripradeep/samply/libpf"
	"github.com/chhetripradeep/samply/remotememory"
)

// ptraceProcess implements Process using the Linux ptrace API with the
// PTRACE_SEIZE model: threads are seized once on discovery and stopped per
// sample with PTRACE_INTERRUPT, which does not inject signals into the
// target the way PTRACE_ATTACH does.
type ptraceProcess struct {
	pid          libpf.PID
	remoteMemory remotememory.RemoteMemory

	// seized tracks the threads currently under PTRACE_SEIZE.
	seized map[libpf.TID]libpf.Void
}

var _ Process = &ptraceProcess{}

// NewPtrace attaches to the target PID using the unix ptrace API.
//
// The calling goroutine is locked to its OS thread: the kernel requires all
// ptrace requests for a tracee to come from the thread that seized it.
// WARNING: all further use of the returned Process must happen on the same
// goroutine.
func NewPtrace(pid libpf.PID) (Process, error) {
	runtime.LockOSThread()

	sp := &ptraceProcess{
		pid:          pid,
		remoteMemory: remotememory.NewProcessVirtualMemory(pid),
		seized:       make(map[libpf.TID]libpf.Void),
	}
	// Probe the target before claiming the attach worked: a missing
	// /proc entry means no such process, an unreadable one means no
	// permission. Both are fatal for the session.
	if _, err := os.Stat(procPath(pid, "task")); err != nil {
		runtime.UnlockOSThread()
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no such process %d: %w", pid, err)
		}
		return nil, fmt.Errorf("cannot attach to process %d: %w", pid, err)
	}
	if err := sp.seizeThread(libpf.TID(pid)); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("cannot attach to process %d: %w", pid, err)
	}
	return sp, nil
}

func procPath(pid libpf.PID, entry string) string {
	return "/proc/" + strconv.Itoa(int(pid)) + "/" + entry
}

func (sp *ptraceProcess) PID() libpf.PID {
	return sp.pid
}

func (sp *ptraceProcess) GetThreads() ([]libpf.TID, error) {
	tidFiles, err := os.ReadDir(procPath(sp.pid, "task"))
	if err != nil {
		// The task directory disappears when the process exits.
		if os.IsNotExist(err) {
			return nil, ErrProcessGone
		}
		return nil, err
	}

	tids := make([]libpf.TID, 0, len(tidFiles))
	for _, tidFile := range tidFiles {
		if !tidFile.IsDir() {
			continue
		}
		tidNum, err := strconv.ParseInt(tidFile.Name(), 10, 32)
		if err != nil {
			continue
		}
		tids = append(tids, libpf.TID(tidNum))
	}
	if len(tids) == 0 {
		return nil, ErrProcessGone
	}
	return tids, nil
}

// ptrace issues a raw ptrace request. The x/sys/unix wrappers do not cover
// PTRACE_SEIZE and PTRACE_INTERRUPT.
func ptrace(request int, tid libpf.TID, addr, data uintptr) error {
	_, _, errno := unix.RawSyscall6(unix.SYS_PTRACE, uintptr(request),
		uintptr(tid), addr, data, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (sp *ptraceProcess) seizeThread(tid libpf.TID) error {
	if err := ptrace(unix.PTRACE_SEIZE, tid, 0, 0); err != nil {
		if err == unix.ESRCH {
			return ErrThreadGone
		}
		return err
	}
	sp.seized[tid] = libpf.Void{}
	return nil
}

func (sp *ptraceProcess) SuspendThread(tid libpf.TID) error {
	if _, ok := sp.seized[tid]; !ok {
		if err := sp.seizeThread(tid); err != nil {
			return err
		}
	}
	if err := ptrace(unix.PTRACE_INTERRUPT, tid, 0, 0); err != nil {
		delete(sp.seized, tid)
		if err == unix.ESRCH {
			return ErrThreadGone
		}
		return err
	}

	// PTRACE_INTERRUPT stops the tracee asynchronously; synchronize with
	// the stop before touching its state.
	var status unix.WaitStatus
	for {
		wpid, err := unix.Wait4(int(tid), &status, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			delete(sp.seized, tid)
			return ErrThreadGone
		}
		if wpid != int(tid) {
			continue
		}
		if status.Exited() || status.Signaled() {
			delete(sp.seized, tid)
			return ErrThreadGone
		}
		if status.Stopped() {
			return nil
		}
	}
}

func (sp *ptraceProcess) ResumeThread(tid libpf.TID) error {
	if err := ptrace(unix.PTRACE_CONT, tid, 0, 0); err != nil {
		delete(sp.seized, tid)
		if err == unix.ESRCH {
			return ErrThreadGone
		}
		return err
	}
	return nil
}

func ptraceGetRegset(tid libpf.TID, regset int, data []byte) error {
	iovec := unix.Iovec{
		Base: &data[0],
		Len:  uint64(len(data)),
	}
	_, _, errno := unix.RawSyscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGSET,
		uintptr(tid), uintptr(regset), uintptr(unsafe.Pointer(&iovec)), 0, 0)
	if errno != 0 {
		if errno == unix.ESRCH {
			return ErrThreadGone
		}
		return fmt.Errorf("ptrace GETREGSET failed with errno %d", int(errno))
	}
	return nil
}

func (sp *ptraceProcess) ReadRegs(tid libpf.TID) (host.Regs, error) {
	prStatus := make([]byte, prStatusSize)
	if err := ptraceGetRegset(tid, int(elf.NT_PRSTATUS), prStatus); err != nil {
		return host.Regs{}, err
	}
	return regsFromPrStatus(prStatus), nil
}

func (sp *ptraceProcess) GetMappings() ([]Mapping, error) {
	return ReadMappings(sp.pid)
}

// ReadMappings parses the memory mappings of pid from /proc. Unlike the
// ptrace calls this is safe from any goroutine.
func ReadMappings(pid libpf.PID) ([]Mapping, error) {
	mapsFile, err := os.Open(procPath(pid, "maps"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrProcessGone
		}
		return nil, err
	}
	defer mapsFile.Close()
	return parseMappings(mapsFile)
}

func (sp *ptraceProcess) GetRemoteMemory() remotememory.RemoteMemory {
	return sp.remoteMemory
}

func (sp *ptraceProcess) Close() error {
	var firstErr error
	for tid := range sp.seized {
		// PTRACE_DETACH needs a stopped tracee.
		if err := sp.SuspendThread(tid); err != nil {
			if !errors.Is(err, ErrThreadGone) && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := ptrace(unix.PTRACE_DETACH, tid, 0, 0); err != nil &&
			err != unix.ESRCH {
			log.Debugf("Failed to detach from TID %d: %v", tid, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	sp.seized = make(map[libpf.TID]libpf.Void)
	runtime.UnlockOSThread()
	return firstErr
}
