// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "github.com/chhetripradeep/samply/process"

import (
	"bufio"
	"debug/elf"
	"io"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/chhetripradeep/samply/stringutil"
)

// mappingParseBufferSize is the initial buffer size used to hold lines from
// /proc/PID/maps during parsing.
const mappingParseBufferSize = 8192

var mapsBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, mappingParseBufferSize)
		return &buf
	},
}

func trimMappingPath(path string) string {
	// Trim the deleted indication from the path.
	// See path_with_deleted in linux/fs/d_path.c
	return strings.TrimSuffix(path, " (deleted)")
}

// parseMappings reads a /proc/PID/maps stream into Mapping entries.
// Unparseable lines are skipped with a debug log, never fatal: a single
// strange mapping must not take down the whole capture.
func parseMappings(mapsFile io.Reader) ([]Mapping, error) {
	mappings := make([]Mapping, 0, 32)
	scanner := bufio.NewScanner(mapsFile)
	scanBuf := mapsBufPool.Get().(*[]byte)
	defer mapsBufPool.Put(scanBuf)

	scanner.Buffer(*scanBuf, mappingParseBufferSize)
	for scanner.Scan() {
		var fields [6]string
		var addrs [2]string

		line := scanner.Text()
		if stringutil.FieldsN(line, fields[:]) < 5 {
			continue
		}
		if n := stringutil.FieldsN(strings.ReplaceAll(fields[0], "-", " "),
			addrs[:]); n < 2 {
			continue
		}

		mapsFlags := fields[1]
		if len(mapsFlags) < 3 {
			continue
		}
		flags := elf.ProgFlag(0)
		if mapsFlags[0] == 'r' {
			flags |= elf.PF_R
		}
		if mapsFlags[1] == 'w' {
			flags |= elf.PF_W
		}
		if mapsFlags[2] == 'x' {
			flags |= elf.PF_X
		}
		// Only readable or executable mappings matter for unwinding.
		if flags&(elf.PF_R|elf.PF_X) == 0 {
			continue
		}

		vaddr, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			log.Debugf("maps: bad start address %q: %v", addrs[0], err)
			continue
		}
		vend, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil {
			log.Debugf("maps: bad end address %q: %v", addrs[1], err)
			continue
		}
		fileOffset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			log.Debugf("maps: bad file offset %q: %v", fields[2], err)
			continue
		}
		inode, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			log.Debugf("maps: bad inode %q: %v", fields[4], err)
			continue
		}
		majorStr, minorStr, ok := strings.Cut(fields[3], ":")
		if !ok {
			continue
		}
		major, err := strconv.ParseUint(majorStr, 16, 64)
		if err != nil {
			continue
		}
		minor, err := strconv.ParseUint(minorStr, 16, 64)
		if err != nil {
			continue
		}

		var path string
		if inode != 0 {
			path = trimMappingPath(fields[5])
		}

		mappings = append(mappings, Mapping{
			Vaddr:      vaddr,
			Length:     vend - vaddr,
			Flags:      flags,
			FileOffset: fileOffset,
			Device:     major<<8 + minor,
			Inode:      inode,
			Path:       path,
		})
	}
	return mappings, scanner.Err()
}
