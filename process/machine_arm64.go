//go:build linux && arm64

// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "github.com/chhetripradeep/samply/process"

import (
	"encoding/binary"

	"github.com/chhetripradeep/samply/host"
)

// prStatusSize covers struct user_pt_regs on arm64: regs[31], sp, pc,
// pstate, with kernel padding.
const prStatusSize = 35 * 8

const (
	regIdxFP = 29 // x29
	regIdxLR = 30 // x30
	regIdxSP = 31
	regIdxPC = 32
)

func regsFromPrStatus(prStatus []byte) host.Regs {
	return host.Regs{
		IP: binary.LittleEndian.Uint64(prStatus[regIdxPC*8:]),
		SP: binary.LittleEndian.Uint64(prStatus[regIdxSP*8:]),
		FP: binary.LittleEndian.Uint64(prStatus[regIdxFP*8:]),
		LR: binary.LittleEndian.Uint64(prStatus[regIdxLR*8:]),
	}
}
