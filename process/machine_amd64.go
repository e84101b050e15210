//go:build linux && amd64

// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "github.com/chhetripradeep/samply/process"

import (
	"encoding/binary"

	"github.com/chhetripradeep/samply/host"
)

// prStatusSize covers struct user_regs_struct on x86-64 (27 registers),
// rounded up the way the kernel pads NT_PRSTATUS.
const prStatusSize = 28 * 8

// Offsets into user_regs_struct, in 8 byte units.
const (
	regIdxRBP = 4
	regIdxRIP = 16
	regIdxRSP = 19
)

func regsFromPrStatus(prStatus []byte) host.Regs {
	return host.Regs{
		IP: binary.LittleEndian.Uint64(prStatus[regIdxRIP*8:]),
		SP: binary.LittleEndian.Uint64(prStatus[regIdxRSP*8:]),
		FP: binary.LittleEndian.Uint64(prStatus[regIdxRBP*8:]),
	}
}
