// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "github.com/chhetripradeep/samply/libpf"

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	sha256 "github.com/minio/sha256-simd"
	"github.com/zeebo/xxh3"
)

// FileID is the unique identifier of an executable file (module). It is
// derived from the file contents so that the same binary always gets the
// same identity regardless of its path.
type FileID struct {
	hi uint64
	lo uint64
}

// UnknownFileID is the FileID used for frames whose owning module could not
// be determined (anonymous mappings, JIT regions).
var UnknownFileID = NewFileID(^uint64(0), ^uint64(0))

func NewFileID(hi, lo uint64) FileID {
	return FileID{hi: hi, lo: lo}
}

// FileIDFromBytes parses a 16 byte slice into a FileID.
func FileIDFromBytes(b []byte) (FileID, error) {
	if len(b) != 16 {
		return FileID{}, fmt.Errorf("invalid length for file ID bytes: %d", len(b))
	}
	return FileID{
		hi: binary.BigEndian.Uint64(b[0:8]),
		lo: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// FileIDFromString parses the hexadecimal notation of a FileID.
func FileIDFromString(s string) (FileID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return FileID{}, err
	}
	return FileIDFromBytes(b)
}

// CalculateFileID computes the FileID of a file on disk: the first 16 bytes
// of the SHA256 of its contents.
func CalculateFileID(fileName string) (FileID, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return FileID{}, fmt.Errorf("failed to open %s: %w", fileName, err)
	}
	defer f.Close()
	return FileIDFromReader(f)
}

// FileIDFromReader computes the FileID of the data in an open reader.
func FileIDFromReader(r io.Reader) (FileID, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return FileID{}, err
	}
	return FileIDFromBytes(h.Sum(nil)[0:16])
}

func (f FileID) Hi() uint64 {
	return f.hi
}

func (f FileID) Lo() uint64 {
	return f.lo
}

func (f FileID) StringNoQuotes() string {
	return fmt.Sprintf("%016x%016x", f.hi, f.lo)
}

func (f FileID) String() string {
	return f.StringNoQuotes()
}

// Hash32 provides a cache key for freelru and similar hashed containers.
func (f FileID) Hash32() uint32 {
	return uint32(f.lo)
}

// Hash64 mixes both halves into a 64-bit hash.
func (f FileID) Hash64() uint64 {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], f.hi)
	binary.BigEndian.PutUint64(b[8:16], f.lo)
	return xxh3.Hash(b[:])
}
