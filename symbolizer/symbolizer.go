// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// Package symbolizer maps (module, offset) pairs to human readable symbol
// information. Debug info is loaded lazily, once per module, and results
// are cached; symbolization therefore runs on the consumer stages, never on
// the capture path.
package symbolizer // import "github.com/chhetripradeep/samply/symbolizer"

import (
	"sync"

	lru "github.com/elastic/go-freelru"
	log "github.com/sirupsen/logrus"

	"github.com/chhetripradeep/samply/libpf"
	"github.com/chhetripradeep/samply/util"
)

// defaultCacheSize bounds the (module, offset) result cache.
const defaultCacheSize = 65536

// ModuleSymbols resolves offsets within one module.
type ModuleSymbols interface {
	// Lookup maps a module-relative offset to a Symbol. The boolean is
	// false when the module carries no information for the offset.
	Lookup(offset libpf.Address) (libpf.Symbol, bool)
}

// Source is the symbol source boundary: given a module path and the
// configured search paths it returns a resolver for that module. The
// actual file format parsing stays behind this interface.
type Source interface {
	Open(modulePath string, searchPaths []string) (ModuleSymbols, error)
}

// Config holds the symbolizer configuration.
type Config struct {
	// Source provides per-module symbol resolvers. Defaults to the ELF
	// source.
	Source Source
	// SearchPaths lists extra directories to try for debug files.
	SearchPaths []string
	// CacheSize overrides defaultCacheSize when nonzero.
	CacheSize uint32
}

type cacheKey struct {
	fileID libpf.FileID
	offset libpf.Address
}

func hashCacheKey(k cacheKey) uint32 {
	return uint32(k.fileID.Hash64() ^ k.offset.Hash())
}

// moduleEntry holds the lazily initialized resolver of one module.
type moduleEntry struct {
	path string
	once sync.Once
	syms ModuleSymbols
}

// Symbolizer is the concurrent (module, offset) -> Symbol resolver.
// Lookups may come from several consumers at once; per-module debug info
// is populated by whichever consumer queries the module first.
type Symbolizer struct {
	source      Source
	searchPaths []string
	cache       *lru.SyncedLRU[cacheKey, libpf.Symbol]

	mu      sync.RWMutex
	modules map[libpf.FileID]*moduleEntry
}

// New creates a Symbolizer.
func New(cfg *Config) (*Symbolizer, error) {
	source := cfg.Source
	if source == nil {
		source = NewELFSource()
	}
	cacheSize := cfg.CacheSize
	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}
	// freelru hashes into power of two buckets, keep the size aligned.
	cacheSize = util.NextPowerOfTwo(cacheSize)
	cache, err := lru.NewSynced[cacheKey, libpf.Symbol](cacheSize, hashCacheKey)
	if err != nil {
		return nil, err
	}
	return &Symbolizer{
		source:      source,
		searchPaths: cfg.SearchPaths,
		cache:       cache,
		modules:     make(map[libpf.FileID]*moduleEntry),
	}, nil
}

// AddModule registers the backing path of a module so its debug info can be
// found later. Registering the same module repeatedly is a no-op.
func (s *Symbolizer) AddModule(fileID libpf.FileID, path string) {
	if fileID == libpf.UnknownFileID || path == "" {
		return
	}
	s.mu.Lock()
	if _, ok := s.modules[fileID]; !ok {
		s.modules[fileID] = &moduleEntry{path: path}
	}
	s.mu.Unlock()
}

// Resolve maps one (module, offset) pair to a Symbol. It never fails: a
// missing module or stripped debug info yields the synthetic placeholder
// symbol carrying the raw address.
func (s *Symbolizer) Resolve(fileID libpf.FileID, offset libpf.Address) libpf.Symbol {
	key := cacheKey{fileID: fileID, offset: offset}
	if symbol, ok := s.cache.Get(key); ok {
		return symbol
	}

	symbol, cacheable := s.resolveUncached(fileID, offset)
	if cacheable {
		s.cache.Add(key, symbol)
	}
	return symbol
}

func (s *Symbolizer) resolveUncached(fileID libpf.FileID,
	offset libpf.Address) (libpf.Symbol, bool) {
	s.mu.RLock()
	entry := s.modules[fileID]
	s.mu.RUnlock()
	if entry == nil {
		// The module may still get registered later; do not pin the
		// placeholder in the cache.
		return libpf.SyntheticSymbol(offset), false
	}

	entry.once.Do(func() {
		syms, err := s.source.Open(entry.path, s.searchPaths)
		if err != nil {
			log.Debugf("No symbols for %s: %v", entry.path, err)
			return
		}
		entry.syms = syms
	})
	if entry.syms == nil {
		return libpf.SyntheticSymbol(offset), true
	}

	symbol, ok := entry.syms.Lookup(offset)
	if !ok {
		return libpf.SyntheticSymbol(offset), true
	}
	return symbol, true
}

// SymbolizeTrace fills in the Symbol of every frame of the trace. Frames
// carrying only the synthetic placeholder are retried: their module may
// have been registered since the first attempt.
func (s *Symbolizer) SymbolizeTrace(trace *libpf.Trace) {
	for i := range trace.Frames {
		frame := &trace.Frames[i]
		if frame.Symbol.Name != libpf.SymbolNameUnknown &&
			!frame.Symbol.Synthetic {
			continue
		}
		frame.Symbol = s.Resolve(frame.FileID, frame.ModuleOffset)
	}
}
