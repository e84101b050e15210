// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"debug/elf"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMappings = `55fe82985000-55fe82987000 r--p 00000000 fd:01 1068432                    /tmp/usr_bin_seahorse
55fe82987000-55fe829ef000 r-xp 00002000 fd:01 1068432                    /tmp/usr_bin_seahorse
55fe829ef000-55fe82a07000 r--p 0006a000 fd:01 1068432                    /tmp/usr_bin_seahorse (deleted)
7f8abc000000-7f8abc021000 rw-p 00000000 00:00 0
7f8abcd00000-7f8abcd01000 ---p 00000000 00:00 0
ffffffffff600000-ffffffffff601000 --xp 00000000 00:00 0                  [vsyscall]`

func TestParseMappings(t *testing.T) {
	mappings, err := parseMappings(strings.NewReader(testMappings))
	require.NoError(t, err)
	require.Len(t, mappings, 5)

	assert.Equal(t, Mapping{
		Vaddr:      0x55fe82985000,
		Length:     0x2000,
		Flags:      elf.PF_R,
		FileOffset: 0,
		Device:     0xfd01,
		Inode:      1068432,
		Path:       "/tmp/usr_bin_seahorse",
	}, mappings[0])

	exec := mappings[1]
	assert.True(t, exec.IsExecutable())
	assert.False(t, exec.IsAnonymous())
	assert.Equal(t, uint64(0x2000), exec.FileOffset)
	assert.True(t, exec.Contains(0x55fe82987abc))
	assert.False(t, exec.Contains(0x55fe829ef000))

	// The deleted marker is trimmed from the path.
	assert.Equal(t, "/tmp/usr_bin_seahorse", mappings[2].Path)

	anon := mappings[3]
	assert.True(t, anon.IsAnonymous())
	assert.False(t, anon.IsExecutable())

	// Non-readable, non-executable mappings are dropped, so the last
	// entry is the executable-only vsyscall page.
	assert.True(t, mappings[4].IsExecutable())
}
