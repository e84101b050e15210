// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package periodiccaller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	var calls atomic.Int32
	stop := Start(ctx, 10*time.Millisecond, func() {
		calls.Add(1)
	})
	defer stop()

	<-ctx.Done()
	// Generous bounds, CI schedulers are slow.
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	stop := Start(ctx, 5*time.Millisecond, func() {
		calls.Add(1)
	})
	defer stop()

	time.Sleep(30 * time.Millisecond)
	cancel()
	// A tick already in flight may still fire, let things settle first.
	time.Sleep(20 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, calls.Load())
}

func TestStartWithJitter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	var once atomic.Bool
	stop := StartWithJitter(ctx, 10*time.Millisecond, 0.2, func() {
		if once.CompareAndSwap(false, true) {
			close(done)
		}
	})
	defer stop()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("callback was never invoked")
	}
}
