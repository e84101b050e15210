// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolPathFlagAccumulates(t *testing.T) {
	var paths []string
	f := symbolPathFlag{paths: &paths}

	require.NoError(t, f.Set("/usr/lib/debug"))
	require.NoError(t, f.Set("/opt/syms, /home/me/syms"))
	require.NoError(t, f.Set(""))

	assert.Equal(t,
		[]string{"/usr/lib/debug", "/opt/syms", "/home/me/syms"}, paths)
	assert.Equal(t, "/usr/lib/debug,/opt/syms,/home/me/syms", f.String())
}

func TestSymbolPathFlagZeroValue(t *testing.T) {
	// The flag package stringifies the zero Value when printing defaults.
	assert.Equal(t, "", symbolPathFlag{}.String())
}
