// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller runs, manages and stops a profiling session: it wires
// the capture, unwind, symbolization and aggregation stages together and
// writes the resulting profile.
package controller // import "github.com/chhetripradeep/samply/internal/controller"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/chhetripradeep/samply/calltree"
	"github.com/chhetripradeep/samply/collector"
	"github.com/chhetripradeep/samply/libpf"
	"github.com/chhetripradeep/samply/nativeunwind"
	"github.com/chhetripradeep/samply/periodiccaller"
	"github.com/chhetripradeep/samply/process"
	"github.com/chhetripradeep/samply/reporter"
	"github.com/chhetripradeep/samply/symbolizer"
	"github.com/chhetripradeep/samply/times"
)

// State is the lifecycle state of a profiling session.
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateStopping
	StateFinalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	default:
		return "<invalid>"
	}
}

// moduleRefreshInterval is the period of mapping re-scans. Re-scanning picks
// up libraries loaded after the session started.
const moduleRefreshInterval = 500 * time.Millisecond

// Controller owns one profiling session from attach to written profile.
// There should only ever be one running.
type Controller struct {
	config *Config

	state  atomic.Int32
	target *process.Target

	coll     *collector.Collector
	modules  *nativeunwind.ModuleTable
	unwinder *nativeunwind.Unwinder
	sym      *symbolizer.Symbolizer
	agg      *calltree.Aggregator

	sessionID string
}

// New creates a controller for the given configuration. The session does
// not touch the target until Run.
func New(cfg *Config) *Controller {
	granularity := calltree.MergeByFunction
	if cfg.MergeByAddress {
		granularity = calltree.MergeByAddress
	}
	c := &Controller{
		config:    cfg,
		agg:       calltree.New(granularity),
		modules:   nativeunwind.NewModuleTable(),
		sessionID: uuid.New().String(),
	}
	c.unwinder = nativeunwind.New(c.modules, int(cfg.MaxDepth))
	return c
}

// State returns the session's current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	log.Debugf("Session state %s -> %s", old, s)
}

// transition moves to the target state only from the expected one, so a
// late signal cannot regress a session that is already finalizing.
func (c *Controller) transition(from, to State) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	log.Debugf("Session state %s -> %s", from, to)
	return true
}

// Run executes the whole session: attach or launch the target, record
// until the duration elapses, the target exits or ctx is cancelled, then
// drain the pipeline and write the profile. Returned errors carry the
// process exit code via ErrorWithExitCode.
func (c *Controller) Run(ctx context.Context) error {
	var err error
	if c.config.PID != 0 {
		c.target, err = process.AttachPID(libpf.PID(c.config.PID))
	} else {
		c.target, err = process.Launch(c.config.Args)
	}
	if err != nil {
		return codedError(ExitAttachError, err)
	}
	log.Infof("Profiling PID %d (%v) every %v",
		c.target.PID(), c.target.Cmdline(), c.config.SampleInterval)

	sym, err := symbolizer.New(&symbolizer.Config{
		SearchPaths: c.config.SymbolPaths,
	})
	if err != nil {
		return codedError(ExitFailure,
			fmt.Errorf("failed to create symbolizer: %w", err))
	}
	c.sym = sym

	intervals := times.New(c.config.SampleInterval, c.config.Duration)
	c.coll = collector.New(&collector.Config{
		Intervals: intervals,
		OpenProcess: func() (process.Process, error) {
			return process.NewPtrace(c.target.PID())
		},
		StackWindow: int(c.config.StackWindow),
	})

	runCtx := ctx
	var cancel context.CancelFunc
	if d := intervals.MaxDuration(); d > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// A launched child signals its exit through the reaper; cancel the
	// capture promptly instead of waiting for the next failing tick.
	if exitCh := c.target.ExitChannel(); exitCh != nil {
		go func() {
			select {
			case <-exitCh:
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	c.setState(StateRecording)

	// Load the initial module set before the first sample arrives; the
	// periodic refresh picks up later loads. Jitter avoids re-scans in
	// lockstep with the sample timer.
	c.refreshModules()
	stopRefresh := periodiccaller.StartWithJitter(runCtx,
		moduleRefreshInterval, 0.2, c.refreshModules)
	defer stopRefresh()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return c.coll.Run(gctx)
	})
	// The consumer intentionally ignores cancellation: it runs until the
	// sample queue is closed so captured samples are never lost to
	// shutdown.
	g.Go(c.consume)

	// Cancellation (signal, duration elapsed, launched child exit) flips
	// the session to stopping while the queue is still draining.
	go func() {
		<-gctx.Done()
		c.transition(StateRecording, StateStopping)
	}()

	err = g.Wait()
	// Target exit detected by the collector ends capture without a
	// context cancellation; account for that path here.
	c.transition(StateRecording, StateStopping)
	if err != nil {
		if errors.Is(err, collector.ErrAttachFailed) {
			return codedError(ExitAttachError, err)
		}
		return codedError(ExitUnwindError, err)
	}

	c.setState(StateFinalizing)
	profile := c.finalize(intervals)
	if err := reporter.WriteFile(c.config.Output, c.outputFormat(),
		profile); err != nil {
		return codedError(ExitOutputError, err)
	}

	c.setState(StateDone)
	log.Infof("Recorded %d samples (%d dropped)", c.coll.CapturedSamples(),
		c.coll.DroppedRace()+c.coll.DroppedBackpressure())
	return nil
}

// consume drains the collector's sample queue: unwind, symbolize, fold.
func (c *Controller) consume() error {
	for sample := range c.coll.Samples() {
		trace := c.unwinder.UnwindSample(sample)
		sample.Release()
		c.sym.SymbolizeTrace(trace)
		c.agg.AddTrace(trace)
	}
	return nil
}

// refreshModules re-reads the target's mappings and registers new modules
// with the symbolizer.
func (c *Controller) refreshModules() {
	mappings, err := process.ReadMappings(c.target.PID())
	if err != nil {
		log.Debugf("Failed to refresh mappings: %v", err)
		return
	}
	c.modules.Update(mappings)
	for _, module := range c.modules.Modules() {
		if module.FileID != libpf.UnknownFileID && module.Path != "" {
			c.sym.AddModule(module.FileID, module.Path)
		}
	}
}

// finalize re-resolves frames that lacked symbols when their trace was
// consumed (their module appeared after the fact) and assembles the
// profile. Resolution is cached, so the re-pass is cheap for the common
// case of stable traces.
func (c *Controller) finalize(intervals *times.Times) *reporter.Profile {
	for _, trace := range c.agg.Timeline() {
		c.sym.SymbolizeTrace(trace)
	}

	hostname, _ := os.Hostname()
	granularity := calltree.MergeByFunction
	if c.config.MergeByAddress {
		granularity = calltree.MergeByAddress
	}
	meta := reporter.Metadata{
		SessionID:           c.sessionID,
		StartTime:           intervals.StartTime(),
		EndTime:             libpf.NowUnixNano(),
		SampleInterval:      intervals.SampleInterval(),
		OS:                  runtime.GOOS,
		Arch:                runtime.GOARCH,
		Hostname:            hostname,
		PID:                 c.target.PID(),
		CommandLine:         c.target.Cmdline(),
		CapturedSamples:     c.coll.CapturedSamples(),
		DroppedRace:         c.coll.DroppedRace(),
		DroppedBackpressure: c.coll.DroppedBackpressure(),
		Granularity:         granularity,
	}
	return reporter.NewProfile(meta, c.agg)
}

func (c *Controller) outputFormat() reporter.Format {
	// Validate() already rejected unknown formats.
	format, _ := reporter.ParseFormat(c.config.Format)
	return format
}
