// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package libpf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddJitter(t *testing.T) {
	base := 100 * time.Millisecond

	// Out of range jitter leaves the duration untouched.
	assert.Equal(t, base, AddJitter(base, -0.1))
	assert.Equal(t, base, AddJitter(base, 1.1))
	assert.Equal(t, base, AddJitter(base, 0))

	// Results stay within +/- 20% and actually vary between calls.
	lo := time.Duration(float64(base) * 0.8)
	hi := time.Duration(float64(base) * 1.2)
	seen := make(map[time.Duration]bool)
	for i := 0; i < 1000; i++ {
		d := AddJitter(base, 0.2)
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
		seen[d] = true
	}
	assert.Greater(t, len(seen), 1, "jitter must not be constant")
}
