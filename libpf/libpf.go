// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// Package libpf holds the core data types shared by the sampling,
// unwinding, symbolization and aggregation stages.
package libpf // import "github.com/chhetripradeep/samply/libpf"

import (
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// UnixTime64 represents nanoseconds since epoch.
type UnixTime64 uint64

// NowUnixNano returns the current wall clock as UnixTime64.
func NowUnixNano() UnixTime64 {
	return UnixTime64(time.Now().UnixNano())
}

func (t UnixTime64) Time() time.Time {
	return time.Unix(0, int64(t))
}

// KTime represents a monotonic clock reading in nanoseconds. Sample
// timestamps use the monotonic clock so they are non-decreasing per thread
// even across wall clock adjustments.
type KTime int64

// AddJitter adds +/- jitter (jitter is [0..1]) to baseDuration
func AddJitter(baseDuration time.Duration, jitter float64) time.Duration {
	if jitter < 0.0 || jitter > 1.0 {
		log.Errorf("Jitter (%f) out of range [0..1].", jitter)
		return baseDuration
	}
	return time.Duration((1 + jitter - 2*jitter*rand.Float64()) * float64(baseDuration))
}

// SourceLineno represents a line number within a source file.
type SourceLineno uint64

// Void allows using maps as sets.
type Void struct{}

// PID represents a Unix process ID (pid_t).
type PID uint32

func (p PID) Hash32() uint32 {
	return uint32(p)
}

// TID represents a Unix thread ID, the kernel task ID of one thread
// within a process (what gettid(2) returns).
type TID uint32

func (t TID) Hash32() uint32 {
	return uint32(t)
}

// Address represents an address, or offset within a process.
type Address uint64

// Hash32 returns a 32 bits hash of the input, usable as a cache key.
func (adr Address) Hash32() uint32 {
	return uint32(adr.Hash())
}

// Hash returns a 64 bits hash of the input.
func (adr Address) Hash() uint64 {
	// Murmur3 finalizer, good avalanche behavior for near-equal addresses.
	x := uint64(adr)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

func (adr Address) String() string {
	return fmt.Sprintf("0x%x", uint64(adr))
}
