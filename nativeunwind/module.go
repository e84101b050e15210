// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package nativeunwind // import "github.com/chhetripradeep/samply/nativeunwind"

import (
	"debug/elf"
	"path/filepath"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/chhetripradeep/samply/libpf"
	"github.com/chhetripradeep/samply/process"
)

// UnwindStrategy selects how frames are unwound within one module. The
// choice is made once per module at load time and cached with it.
type UnwindStrategy uint8

const (
	// StrategyDeltas unwinds via the module's stack delta table.
	StrategyDeltas UnwindStrategy = iota
	// StrategyFramePointer walks the frame pointer chain.
	StrategyFramePointer
	// StrategyScan heuristically scans the stack window for plausible
	// return addresses. Used for anonymous/JIT mappings.
	StrategyScan
)

func (s UnwindStrategy) String() string {
	switch s {
	case StrategyDeltas:
		return "cfi-deltas"
	case StrategyFramePointer:
		return "frame-pointer"
	case StrategyScan:
		return "scan"
	default:
		return "unknown"
	}
}

// Module is one executable mapping of the target with its unwind data.
type Module struct {
	// Start and End delimit the mapped executable range.
	Start libpf.Address
	End   libpf.Address
	// Bias is the displacement of the mapping from the ELF virtual
	// address space: runtimeAddr - Bias = ELF VA.
	Bias uint64
	// FileID identifies the backing file, UnknownFileID for anonymous.
	FileID libpf.FileID
	// Name is the base name of the backing file.
	Name string
	// Path is the full path of the backing file.
	Path string
	// Strategy is the unwind strategy chosen for this module.
	Strategy UnwindStrategy
	// Deltas is the stack delta table, non-nil iff Strategy is
	// StrategyDeltas.
	Deltas *IntervalData
}

// Contains reports whether addr is inside this module's mapped range.
func (m *Module) Contains(addr libpf.Address) bool {
	return addr >= m.Start && addr < m.End
}

// ELFVA translates a runtime address into the module's ELF VA space.
func (m *Module) ELFVA(addr libpf.Address) libpf.Address {
	return addr - libpf.Address(m.Bias)
}

// fileInfo caches per-file data shared by all mappings of the same file.
type fileInfo struct {
	fileID   libpf.FileID
	strategy UnwindStrategy
	deltas   *IntervalData
	// loadSegments lets mappings compute their bias.
	loadSegments []elf.ProgHeader
}

// ModuleTable tracks the target's executable mappings and their unwind
// metadata. Lookups are concurrent; updates come from the synchronization
// with the target's mapping list.
type ModuleTable struct {
	mu      sync.RWMutex
	modules []*Module

	// files caches debug info per file path: a module's unwind data is
	// loaded once, even when mapped repeatedly.
	files map[string]*fileInfo
}

// NewModuleTable creates an empty module table.
func NewModuleTable() *ModuleTable {
	return &ModuleTable{
		files: make(map[string]*fileInfo),
	}
}

// Update synchronizes the table with the target's current mappings. Only
// executable mappings are tracked: return addresses cannot point elsewhere.
func (mt *ModuleTable) Update(mappings []process.Mapping) {
	modules := make([]*Module, 0, len(mappings))
	for i := range mappings {
		mapping := &mappings[i]
		if !mapping.IsExecutable() {
			continue
		}
		modules = append(modules, mt.moduleFor(mapping))
	}
	sort.Slice(modules, func(i, j int) bool {
		return modules[i].Start < modules[j].Start
	})

	mt.mu.Lock()
	mt.modules = modules
	mt.mu.Unlock()
}

// Resolve finds the module containing addr, or nil.
func (mt *ModuleTable) Resolve(addr libpf.Address) *Module {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	idx := sort.Search(len(mt.modules), func(i int) bool {
		return mt.modules[i].End > addr
	})
	if idx < len(mt.modules) && mt.modules[idx].Contains(addr) {
		return mt.modules[idx]
	}
	return nil
}

// Modules returns a snapshot of the tracked modules.
func (mt *ModuleTable) Modules() []*Module {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return append([]*Module{}, mt.modules...)
}

func (mt *ModuleTable) moduleFor(mapping *process.Mapping) *Module {
	module := &Module{
		Start:  libpf.Address(mapping.Vaddr),
		End:    libpf.Address(mapping.Vaddr + mapping.Length),
		FileID: libpf.UnknownFileID,
	}
	if mapping.IsAnonymous() {
		module.Strategy = StrategyScan
		return module
	}

	module.Path = mapping.Path
	module.Name = filepath.Base(mapping.Path)

	info := mt.loadFile(mapping.Path)
	module.FileID = info.fileID
	module.Strategy = info.strategy
	module.Deltas = info.deltas
	module.Bias = computeBias(mapping, info.loadSegments)
	return module
}

// loadFile loads per-file unwind data once and caches it. Load failures
// degrade the module to the frame pointer strategy, never fail the session.
func (mt *ModuleTable) loadFile(path string) *fileInfo {
	mt.mu.Lock()
	if info, ok := mt.files[path]; ok {
		mt.mu.Unlock()
		return info
	}
	mt.mu.Unlock()

	info := extractFileInfo(path)

	mt.mu.Lock()
	// Two concurrent loaders may race here; the first stored result wins
	// and the duplicate work is discarded. Extraction is idempotent so
	// this is waste, not a correctness problem.
	if prev, ok := mt.files[path]; ok {
		info = prev
	} else {
		mt.files[path] = info
	}
	mt.mu.Unlock()
	return info
}

func extractFileInfo(path string) *fileInfo {
	info := &fileInfo{
		fileID:   libpf.UnknownFileID,
		strategy: StrategyFramePointer,
	}

	if fileID, err := libpf.CalculateFileID(path); err == nil {
		info.fileID = fileID
	} else {
		log.Debugf("Failed to hash %s: %v", path, err)
	}

	ef, err := elf.Open(path)
	if err != nil {
		log.Debugf("Failed to open ELF %s: %v", path, err)
		return info
	}
	defer ef.Close()

	for _, prog := range ef.Progs {
		if prog.Type == elf.PT_LOAD {
			info.loadSegments = append(info.loadSegments, prog.ProgHeader)
		}
	}

	deltas, err := ExtractELF(ef)
	if err != nil {
		log.Debugf("Failed to extract stack deltas from %s: %v", path, err)
		return info
	}
	if len(deltas.Deltas) > 0 {
		info.strategy = StrategyDeltas
		info.deltas = deltas
	}
	return info
}

// computeBias derives the displacement between runtime addresses and ELF
// virtual addresses from the PT_LOAD segment backing the mapping.
func computeBias(mapping *process.Mapping, loadSegments []elf.ProgHeader) uint64 {
	for i := range loadSegments {
		seg := &loadSegments[i]
		if mapping.FileOffset >= seg.Off &&
			mapping.FileOffset < seg.Off+seg.Filesz {
			return mapping.Vaddr - mapping.FileOffset + seg.Off - seg.Vaddr
		}
	}
	// Fall back to treating the mapping start as the ELF load address.
	return mapping.Vaddr - mapping.FileOffset
}
