// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chhetripradeep/samply/host"
	"github.com/chhetripradeep/samply/libpf"
	"github.com/chhetripradeep/samply/process"
	"github.com/chhetripradeep/samply/testsupport"
	"github.com/chhetripradeep/samply/times"
)

func newTestProcess() *testsupport.FakeProcess {
	fp := testsupport.NewFakeProcess(1234)
	stack := make([]byte, 256)
	fp.AddRegion(0x7f0000001000, stack)
	fp.AddThread(100, &testsupport.FakeThread{
		Regs: host.Regs{IP: 0x400123, SP: 0x7f0000001000, FP: 0x7f0000001080},
	})
	return fp
}

func runCollector(t *testing.T, c *Collector, stopAfter int) []*host.Sample {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	var collected []*host.Sample
	for sample := range c.Samples() {
		collected = append(collected, sample)
		if len(collected) >= stopAfter {
			cancel()
		}
	}
	require.NoError(t, <-done)
	return collected
}

func TestCollectorCapturesSamples(t *testing.T) {
	fp := newTestProcess()
	c := New(&Config{
		Intervals:   times.New(time.Millisecond, 0),
		OpenProcess: func() (process.Process, error) { return fp, nil },
		StackWindow: 128,
	})

	collected := runCollector(t, c, 5)
	require.GreaterOrEqual(t, len(collected), 5)

	var last libpf.KTime
	for _, sample := range collected {
		assert.Equal(t, libpf.TID(100), sample.TID)
		assert.Equal(t, uint64(0x400123), sample.Regs.IP)
		assert.Equal(t, libpf.Address(0x7f0000001000), sample.StackBase)
		assert.NotEmpty(t, sample.Stack)
		// Timestamps are non-decreasing per thread.
		assert.GreaterOrEqual(t, sample.Timestamp, last)
		last = sample.Timestamp
		sample.Release()
	}
	assert.Equal(t, uint64(len(collected)), c.CapturedSamples())
	assert.True(t, fp.Closed())
}

func TestCollectorCountsRaceDrops(t *testing.T) {
	fp := newTestProcess()
	// A second thread that loses the suspend race three times, then
	// disappears for good.
	fp.AddThread(101, &testsupport.FakeThread{
		Regs:         host.Regs{IP: 0x400200, SP: 0xdead}, // no memory there
		FailSuspends: 3,
	})

	c := New(&Config{
		Intervals:   times.New(time.Millisecond, 0),
		OpenProcess: func() (process.Process, error) { return fp, nil },
		StackWindow: 128,
	})

	collected := runCollector(t, c, 5)
	for _, sample := range collected {
		assert.Equal(t, libpf.TID(100), sample.TID, "TID 101 has no stack memory")
		sample.Release()
	}
	// At least the three scripted suspend failures were counted, plus a
	// drop per tick for the unreadable stack afterwards.
	assert.GreaterOrEqual(t, c.DroppedRace(), uint64(3))
}

func TestCollectorStopsOnProcessExit(t *testing.T) {
	fp := newTestProcess()
	c := New(&Config{
		Intervals:   times.New(time.Millisecond, 0),
		OpenProcess: func() (process.Process, error) { return fp, nil },
		StackWindow: 128,
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		fp.MarkGone()
	}()

	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.Background())
	}()
	for sample := range c.Samples() {
		sample.Release()
	}
	require.NoError(t, <-done)
	assert.True(t, c.TargetExited())
}

func TestCollectorBackpressureDropsNewest(t *testing.T) {
	fp := newTestProcess()
	c := New(&Config{
		Intervals:   times.New(time.Millisecond, 0),
		OpenProcess: func() (process.Process, error) { return fp, nil },
		QueueSize:   2,
		StackWindow: 128,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	// Do not consume the queue: once it holds two samples every further
	// capture is dropped for backpressure.
	assert.Eventually(t, func() bool {
		return c.DroppedBackpressure() > 0
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Len(t, c.Samples(), 2)
}
