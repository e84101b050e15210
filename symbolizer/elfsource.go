// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package symbolizer // import "github.com/chhetripradeep/samply/symbolizer"

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/ianlancetaylor/demangle"
	log "github.com/sirupsen/logrus"

	"github.com/chhetripradeep/samply/libpf"
)

// elfSource resolves symbols from ELF symbol tables plus DWARF line info.
type elfSource struct{}

// NewELFSource returns the default symbol source reading ELF/DWARF files.
func NewELFSource() Source {
	return &elfSource{}
}

// Open loads the symbol information of one module. The module's own file
// is tried first, then debug side files found via the search paths
// (searchPath/<name> and searchPath/<name>.debug).
func (es *elfSource) Open(modulePath string,
	searchPaths []string) (ModuleSymbols, error) {
	candidates := make([]string, 0, 1+2*len(searchPaths))
	base := filepath.Base(modulePath)
	for _, dir := range searchPaths {
		candidates = append(candidates,
			filepath.Join(dir, base+".debug"),
			filepath.Join(dir, base))
	}
	candidates = append(candidates, modulePath)

	var firstErr error
	for _, path := range candidates {
		syms, err := loadELFSymbols(path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return syms, nil
	}
	return nil, fmt.Errorf("no debug info for %s: %w", modulePath, firstErr)
}

// elfSym is one symbol table entry, address-sorted.
type elfSym struct {
	value uint64
	size  uint64
	name  string
}

// lineEntry maps the start of one line table row to its source position.
type lineEntry struct {
	address uint64
	file    string
	line    int
}

type elfModuleSymbols struct {
	symbols []elfSym
	lines   []lineEntry
}

var _ ModuleSymbols = &elfModuleSymbols{}

func loadELFSymbols(path string) (*elfModuleSymbols, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	ms := &elfModuleSymbols{}
	// .symtab is preferred; stripped binaries may still carry .dynsym.
	if syms, err := ef.Symbols(); err == nil {
		ms.addSymbols(syms)
	}
	if len(ms.symbols) == 0 {
		if syms, err := ef.DynamicSymbols(); err == nil {
			ms.addSymbols(syms)
		}
	}
	if len(ms.symbols) == 0 {
		return nil, fmt.Errorf("%s has no symbol tables", path)
	}
	sort.Slice(ms.symbols, func(i, j int) bool {
		return ms.symbols[i].value < ms.symbols[j].value
	})

	ms.loadLineInfo(ef, path)
	return ms, nil
}

func (ms *elfModuleSymbols) addSymbols(syms []elf.Symbol) {
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 ||
			sym.Name == "" {
			continue
		}
		ms.symbols = append(ms.symbols, elfSym{
			value: sym.Value,
			size:  sym.Size,
			name:  sym.Name,
		})
	}
}

// loadLineInfo builds an address-sorted line table from the DWARF data.
// Missing or corrupt DWARF is not an error: symbolization then yields
// names without file/line.
func (ms *elfModuleSymbols) loadLineInfo(ef *elf.File, path string) {
	dwarfData, err := ef.DWARF()
	if err != nil {
		return
	}
	reader := dwarfData.Reader()
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			reader.SkipChildren()
			continue
		}
		lr, err := dwarfData.LineReader(entry)
		if err != nil || lr == nil {
			continue
		}
		var le dwarf.LineEntry
		for lr.Next(&le) == nil {
			if le.EndSequence || le.File == nil {
				continue
			}
			ms.lines = append(ms.lines, lineEntry{
				address: le.Address,
				file:    le.File.Name,
				line:    le.Line,
			})
		}
	}
	sort.Slice(ms.lines, func(i, j int) bool {
		return ms.lines[i].address < ms.lines[j].address
	})
	log.Debugf("Loaded %d line entries from %s", len(ms.lines), path)
}

// Lookup resolves a module offset against the symbol and line tables.
func (ms *elfModuleSymbols) Lookup(offset libpf.Address) (libpf.Symbol, bool) {
	addr := uint64(offset)
	idx := sort.Search(len(ms.symbols), func(i int) bool {
		return ms.symbols[i].value > addr
	})
	if idx == 0 {
		return libpf.Symbol{}, false
	}
	sym := &ms.symbols[idx-1]
	// Zero-sized symbols (hand-written assembly) match any address up to
	// the next symbol.
	if sym.size != 0 && addr >= sym.value+sym.size {
		return libpf.Symbol{}, false
	}

	symbol := libpf.Symbol{
		Name: libpf.SymbolName(demangle.Filter(sym.name)),
	}
	if file, line, ok := ms.lookupLine(addr); ok {
		symbol.SourceFile = file
		symbol.SourceLine = libpf.SourceLineno(line)
	}
	return symbol, true
}

func (ms *elfModuleSymbols) lookupLine(addr uint64) (string, int, bool) {
	idx := sort.Search(len(ms.lines), func(i int) bool {
		return ms.lines[i].address > addr
	})
	if idx == 0 {
		return "", 0, false
	}
	entry := &ms.lines[idx-1]
	return entry.file, entry.line, true
}
