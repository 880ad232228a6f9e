// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import (
	"github.com/zeebo/xxh3"

	"github.com/android-la64/platform-system-extras/libpf"
	"github.com/android-la64/platform-system-extras/process"
)

// descriptorSymbols names the two exported descriptor symbols the runtime
// library carries.
var descriptorSymbols = map[DescriptorKind]libpf.SymbolName{
	DescriptorJIT: "__jit_debug_descriptor",
	DescriptorDEX: "__dex_debug_descriptor",
}

// locatorEntry is one cached lookup result, keyed by runtime library path.
// A zero vaddr records a negative result, so a library missing one or
// both descriptors is not re-parsed on every tick.
type locatorEntry struct {
	jitVaddr libpf.Address
	dexVaddr libpf.Address
}

// DescriptorLocator finds the two descriptor symbols' virtual addresses
// inside a target's runtime library and caches the result by library
// path, since the same system library is shared across every process
// that has loaded it.
type DescriptorLocator struct {
	opener ElfOpener
	cache  map[uint64]locatorEntry
}

// NewDescriptorLocator returns a locator backed by the given ELF opener.
func NewDescriptorLocator(opener ElfOpener) *DescriptorLocator {
	return &DescriptorLocator{
		opener: opener,
		cache:  make(map[uint64]locatorEntry),
	}
}

func libraryKey(path string) uint64 {
	return xxh3.HashString(path)
}

// Locate returns the absolute virtual addresses of the JIT and DEX
// descriptors inside the process described by mappings, resolving the
// mapping containing runtimeLibPath's on-disk symbols and adding the
// mapping's load bias. A zero address means the descriptor is absent
// from this runtime build.
func (l *DescriptorLocator) Locate(mappings []process.Mapping, runtimeLibPath string,
) (jitAddr, dexAddr libpf.Address, err error) {
	mapping, ok := process.FindByPathSuffix(mappings, runtimeLibPath)
	if !ok {
		return 0, 0, ErrRuntimeLibraryMissing
	}

	key := libraryKey(mapping.Path)
	entry, cached := l.cache[key]
	if !cached {
		entry, err = l.resolveLibrary(mapping.Path)
		if err != nil {
			return 0, 0, err
		}
		l.cache[key] = entry
	}

	bias := libpf.Address(mapping.Vaddr)
	jitAddr = addBias(entry.jitVaddr, bias)
	dexAddr = addBias(entry.dexVaddr, bias)
	return jitAddr, dexAddr, nil
}

func addBias(vaddr, bias libpf.Address) libpf.Address {
	if vaddr == 0 {
		return 0
	}
	return vaddr + bias
}

func (l *DescriptorLocator) resolveLibrary(path string) (locatorEntry, error) {
	elfFile, err := l.opener.OpenFile(path)
	if err != nil {
		return locatorEntry{}, err
	}
	defer elfFile.Close()

	var entry locatorEntry
	if v, err := elfFile.LookupSymbolAddress(descriptorSymbols[DescriptorJIT]); err == nil {
		entry.jitVaddr = libpf.Address(v)
	}
	if v, err := elfFile.LookupSymbolAddress(descriptorSymbols[DescriptorDEX]); err == nil {
		entry.dexVaddr = libpf.Address(v)
	}
	return entry, nil
}
