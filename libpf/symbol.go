// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "github.com/chhetripradeep/samply/libpf"

import "fmt"

// SymbolName represents the name of a symbol.
type SymbolName string

// SymbolNameUnknown is used when an address has no symbol information.
const SymbolNameUnknown = ""

// Symbol is the resolved name, source file and line for one
// (module, offset) pair. Resolution is idempotent: the same pair always
// yields the same Symbol within a session.
type Symbol struct {
	// Name is the demangled function name, or the hexadecimal address
	// placeholder if resolution failed.
	Name SymbolName
	// SourceFile is the source file the function was compiled from, if
	// line information was available.
	SourceFile string
	// SourceLine is the line number matching the queried offset.
	SourceLine SourceLineno
	// Synthetic is set when no symbol information existed and Name is
	// merely the formatted raw address.
	Synthetic bool
}

// SyntheticSymbol builds the placeholder Symbol for an unresolvable address.
func SyntheticSymbol(addr Address) Symbol {
	return Symbol{
		Name:      SymbolName(fmt.Sprintf("0x%x", uint64(addr))),
		Synthetic: true,
	}
}
