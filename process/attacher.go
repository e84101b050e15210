//go:build linux

// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "github.com/chhetripradeep/samply/process"

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/chhetripradeep/samply/libpf"
)

// Target describes the process under profiling, independent of the ptrace
// attachment which is established later on the capture goroutine. It tracks
// the launch-or-attach lifecycle: Unattached -> Attached -> Terminated.
type Target struct {
	pid     libpf.PID
	cmdline []string

	// cmd is set in launch mode and used to reap the child.
	cmd    *exec.Cmd
	exited atomic.Bool
	// exitCh is closed when a launched child has been reaped.
	exitCh chan libpf.Void
}

// Launch starts the given command with inherited stdio and prepares it as a
// profiling target. The child is reaped in the background so its exit flips
// the target to terminated.
func Launch(args []string) (*Target, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no command to launch")
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch %q: %w", args[0], err)
	}

	t := &Target{
		pid:     libpf.PID(cmd.Process.Pid),
		cmdline: args,
		cmd:     cmd,
		exitCh:  make(chan libpf.Void),
	}
	go func() {
		err := cmd.Wait()
		log.Debugf("Target PID %d exited: %v", t.pid, err)
		t.exited.Store(true)
		close(t.exitCh)
	}()
	return t, nil
}

// AttachPID prepares an already running process as a profiling target.
func AttachPID(pid libpf.PID) (*Target, error) {
	if err := unix.Kill(int(pid), 0); err != nil {
		if err == unix.ESRCH {
			return nil, fmt.Errorf("no such process: %d", pid)
		}
		if err == unix.EPERM {
			return nil, fmt.Errorf("no permission to attach to PID %d", pid)
		}
		return nil, fmt.Errorf("cannot attach to PID %d: %w", pid, err)
	}

	cmdline := readCmdline(pid)
	return &Target{
		pid:     pid,
		cmdline: cmdline,
	}, nil
}

func readCmdline(pid libpf.PID) []string {
	data, err := os.ReadFile(procPath(pid, "cmdline"))
	if err != nil || len(data) == 0 {
		return nil
	}
	return strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
}

// PID returns the target's process identifier.
func (t *Target) PID() libpf.PID {
	return t.pid
}

// Cmdline returns the target's command line, best effort in attach mode.
func (t *Target) Cmdline() []string {
	return t.cmdline
}

// Alive reports whether the target process still exists.
func (t *Target) Alive() bool {
	if t.exited.Load() {
		return false
	}
	if t.cmd != nil {
		return true
	}
	if err := unix.Kill(int(t.pid), 0); err == unix.ESRCH {
		return false
	}
	return true
}

// ExitChannel returns a channel closed when a launched target exits, or nil
// for attach-by-PID targets (those are detected by polling).
func (t *Target) ExitChannel() <-chan libpf.Void {
	return t.exitCh
}
