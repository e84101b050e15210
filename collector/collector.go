// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector implements the sample capture stage: on a fixed timer
// it briefly suspends each live thread of the target, copies its register
// state and a bounded stack window, and enqueues the raw sample for the
// unwinder. The capture path never blocks on downstream work.
package collector // import "github.com/chhetripradeep/samply/collector"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/chhetripradeep/samply/host"
	"github.com/chhetripradeep/samply/libpf"
	"github.com/chhetripradeep/samply/process"
	"github.com/chhetripradeep/samply/successfailurecounter"
	"github.com/chhetripradeep/samply/times"
)

// ErrAttachFailed wraps errors from establishing the ptrace attachment so
// callers can tell them apart from capture failures.
var ErrAttachFailed = errors.New("failed to attach to target")

const (
	// DefaultQueueSize bounds the sample queue between capture and
	// unwinding.
	DefaultQueueSize = 1024
	// DefaultStackWindow caps the stack memory copied per sample.
	DefaultStackWindow = 64 * 1024
)

// Config holds the collector configuration.
type Config struct {
	// Intervals supplies the timer period.
	Intervals times.IntervalsAndTimers
	// OpenProcess attaches to the target. It is invoked on the capture
	// goroutine because the ptrace API binds the attachment to the
	// calling thread.
	OpenProcess func() (process.Process, error)
	// QueueSize overrides DefaultQueueSize when nonzero.
	QueueSize int
	// StackWindow overrides DefaultStackWindow when nonzero.
	StackWindow int
}

// Collector owns the session's capture timer and the bounded sample queue.
type Collector struct {
	intervals   times.IntervalsAndTimers
	openProcess func() (process.Process, error)
	arena       *host.Arena
	out         chan *host.Sample

	captured            atomic.Uint64
	droppedRace         atomic.Uint64
	droppedBackpressure atomic.Uint64
	targetExited        atomic.Bool

	// knownThreads is only touched by the capture goroutine. It exists
	// for discovery/retire logging across ticks.
	knownThreads map[libpf.TID]libpf.Void
}

// New creates a Collector.
func New(cfg *Config) *Collector {
	queueSize := cfg.QueueSize
	if queueSize == 0 {
		queueSize = DefaultQueueSize
	}
	window := cfg.StackWindow
	if window == 0 {
		window = DefaultStackWindow
	}
	return &Collector{
		intervals:    cfg.Intervals,
		openProcess:  cfg.OpenProcess,
		arena:        host.NewArena(window),
		out:          make(chan *host.Sample, queueSize),
		knownThreads: make(map[libpf.TID]libpf.Void),
	}
}

// Samples returns the queue consumed by the unwinder stage. The channel is
// closed once capture stops; samples already queued remain readable so the
// session drain loses nothing that was captured.
func (c *Collector) Samples() <-chan *host.Sample {
	return c.out
}

// CapturedSamples returns the number of successfully captured samples.
func (c *Collector) CapturedSamples() uint64 {
	return c.captured.Load()
}

// DroppedRace returns the count of sample attempts dropped because a thread
// exited or suspension failed transiently.
func (c *Collector) DroppedRace() uint64 {
	return c.droppedRace.Load()
}

// DroppedBackpressure returns the count of samples dropped because the
// queue was full.
func (c *Collector) DroppedBackpressure() uint64 {
	return c.droppedBackpressure.Load()
}

// TargetExited reports whether capture stopped because the target process
// went away (as opposed to cancellation).
func (c *Collector) TargetExited() bool {
	return c.targetExited.Load()
}

// Run attaches to the target and drives the capture timer until the context
// is cancelled or the target exits. It must be called at most once. The
// whole loop runs on one goroutine: the ptrace attachment is thread-affine.
//
// Run returns a fatal error only if attaching failed; per-thread capture
// problems are absorbed into the drop counters.
func (c *Collector) Run(ctx context.Context) error {
	defer close(c.out)

	proc, err := c.openProcess()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttachFailed, err)
	}
	defer proc.Close()

	// The capture timer is owned by this session and stops with it.
	ticker := time.NewTicker(c.intervals.SampleInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.tick(proc); err != nil {
				if errors.Is(err, process.ErrProcessGone) {
					log.Debugf("Target process %d exited", proc.PID())
					c.targetExited.Store(true)
					return nil
				}
				return fmt.Errorf("capture tick failed: %w", err)
			}
		}
	}
}

// tick samples every live thread once. The thread set is re-scanned each
// tick so newly created threads are picked up and exited ones retired.
func (c *Collector) tick(proc process.Process) error {
	tids, err := proc.GetThreads()
	if err != nil {
		return err
	}

	current := make(map[libpf.TID]libpf.Void, len(tids))
	for _, tid := range tids {
		current[tid] = libpf.Void{}
		if _, ok := c.knownThreads[tid]; !ok {
			log.Debugf("Discovered thread %d", tid)
		}
		c.captureThread(proc, tid)
	}
	for tid := range c.knownThreads {
		if _, ok := current[tid]; !ok {
			log.Debugf("Retired thread %d", tid)
		}
	}
	c.knownThreads = current
	return nil
}

// captureThread suspends one thread, copies registers and the stack window
// and resumes it. Any failure drops this attempt and counts it; the tick
// continues with the remaining threads.
func (c *Collector) captureThread(proc process.Process, tid libpf.TID) {
	sfc := successfailurecounter.New(&c.captured, &c.droppedRace)

	if err := proc.SuspendThread(tid); err != nil {
		sfc.ReportFailure()
		return
	}
	timestamp := times.KTimeNow()

	regs, err := proc.ReadRegs(tid)
	if err != nil || regs.SP == 0 {
		_ = proc.ResumeThread(tid)
		sfc.ReportFailure()
		return
	}

	window := c.arena.GetWindow()
	n, err := proc.GetRemoteMemory().ReadAt(*window, int64(regs.SP))
	// Keep the suspension as short as possible: resume before any
	// further processing of the copied data.
	_ = proc.ResumeThread(tid)

	if n == 0 || (err != nil && err != io.EOF) {
		c.arena.PutWindow(window)
		sfc.ReportFailure()
		return
	}

	sample := c.arena.NewSample(tid, timestamp, regs, window, n)
	select {
	case c.out <- sample:
		sfc.ReportSuccess()
	default:
		// Queue full: drop the newest sample rather than stalling the
		// capture path.
		sample.Release()
		c.droppedBackpressure.Add(1)
	}
}
