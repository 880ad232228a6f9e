// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "github.com/android-la64/platform-system-extras/libpf/pfelf"

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"

	"github.com/android-la64/platform-system-extras/libpf"
)

// ErrNoHashTable is returned when neither DT_HASH nor DT_GNU_HASH is present,
// so the dynamic symbol count cannot be determined without section headers.
var ErrNoHashTable = errors.New("no DT_HASH or DT_GNU_HASH present")

// LookupSymbolAddress iterates the dynamic symbol table of an on-disk
// shared library looking for the named symbol.
func (f *File) LookupSymbolAddress(name libpf.SymbolName) (libpf.SymbolValue, error) {
	syms, err := f.ReadDynamicSymbols()
	if err != nil {
		return libpf.SymbolValueInvalid, err
	}
	return syms.LookupSymbolAddress(name)
}

// ReadDynamicSymbols reads the full dynamic symbol table (.dynsym/.dynstr)
// reached through PT_DYNAMIC, without needing section headers.
func (f *File) ReadDynamicSymbols() (*libpf.SymbolMap, error) {
	if f.dynSymAddr == 0 || f.dynStrAddr == 0 {
		return nil, errors.New("no dynamic symbol table present")
	}
	count, err := f.dynamicSymbolCount()
	if err != nil {
		return nil, err
	}

	symSize := int64(24)
	if !f.is64 {
		symSize = 16
	}

	out := libpf.NewSymbolMap(int(count))
	for i := int64(0); i < count; i++ {
		var nameIdx uint32
		var value uint64
		var size uint64
		off := f.dynSymAddr + i*symSize
		if f.is64 {
			var sym elf.Sym64
			if err := readStruct(f.r, off, &sym); err != nil {
				return nil, err
			}
			nameIdx, value, size = sym.Name, sym.Value, sym.Size
		} else {
			var sym elf.Sym32
			if err := readStruct(f.r, off, &sym); err != nil {
				return nil, err
			}
			nameIdx, value, size = sym.Name, uint64(sym.Value), uint64(sym.Size)
		}
		if nameIdx == 0 {
			continue
		}
		name, err := readCString(f.r, f.dynStrAddr+int64(nameIdx))
		if err != nil || name == "" {
			continue
		}
		out.Add(libpf.Symbol{
			Name:    libpf.SymbolName(name),
			Address: libpf.SymbolValue(value),
			Size:    size,
		})
	}
	out.Finalize()
	return out, nil
}

// dynamicSymbolCount determines the number of entries in the dynamic symbol
// table by consulting whichever hash table is present: DT_HASH directly
// gives nchain (the symbol count); DT_GNU_HASH requires walking every
// bucket's chain to find the highest referenced symbol index.
func (f *File) dynamicSymbolCount() (int64, error) {
	if f.sysvOff != 0 {
		var hdr sysvHashHeader
		if err := readStruct(f.r, f.sysvOff, &hdr); err != nil {
			return 0, err
		}
		return int64(hdr.NumChain), nil
	}
	if f.gnuHashOff != 0 {
		return f.gnuHashSymbolCount()
	}
	return 0, ErrNoHashTable
}

func (f *File) gnuHashSymbolCount() (int64, error) {
	var hdr gnuHashHeader
	if err := readStruct(f.r, f.gnuHashOff, &hdr); err != nil {
		return 0, err
	}
	if hdr.NumBuckets == 0 {
		return 0, fmt.Errorf("corrupt DT_GNU_HASH: zero buckets")
	}
	wordSize := int64(4)
	if f.is64 {
		wordSize = 8
	}
	bucketsAddr := f.gnuHashOff + 16 + int64(hdr.BloomSize)*wordSize
	chainAddr := bucketsAddr + int64(hdr.NumBuckets)*4

	maxIndex := uint32(0)
	for b := uint32(0); b < hdr.NumBuckets; b++ {
		var idx uint32
		if err := readStruct(f.r, bucketsAddr+int64(b)*4, &idx); err != nil {
			return 0, err
		}
		if idx == 0 {
			continue
		}
		for {
			if idx > maxIndex {
				maxIndex = idx
			}
			var h uint32
			if err := readStruct(f.r, chainAddr+int64(idx-hdr.SymbolOffset)*4, &h); err != nil {
				return 0, err
			}
			if h&1 != 0 {
				break
			}
			idx++
		}
	}
	return int64(maxIndex) + 1, nil
}

// ReadSymbols parses .symtab (falling back to .dynsym) via the section
// header table. JIT symfiles synthesized by JITSymfileIngestor are small,
// self-contained images that do carry section headers, unlike the on-disk
// runtime library case handled by ReadDynamicSymbols.
func (f *File) ReadSymbols() (*libpf.SymbolMap, error) {
	sections, err := f.readSections()
	if err != nil {
		return nil, err
	}

	var symtab *elfSection
	for i := range sections {
		if elf.SectionType(sections[i].typ) == elf.SHT_SYMTAB {
			symtab = &sections[i]
			break
		}
	}
	if symtab == nil {
		for i := range sections {
			if elf.SectionType(sections[i].typ) == elf.SHT_DYNSYM {
				symtab = &sections[i]
				break
			}
		}
	}
	if symtab == nil {
		return nil, errors.New("no .symtab or .dynsym section present")
	}
	if int(symtab.link) >= len(sections) {
		return nil, fmt.Errorf("symbol table sh_link %d out of range", symtab.link)
	}
	strtab := sections[symtab.link]

	symSize := int64(24)
	if !f.is64 {
		symSize = 16
	}
	count := int64(symtab.size) / symSize

	out := libpf.NewSymbolMap(int(count))
	for i := int64(0); i < count; i++ {
		var nameIdx uint32
		var value, size uint64
		off := int64(symtab.offset) + i*symSize
		if f.is64 {
			var sym elf.Sym64
			if err := readStruct(f.r, off, &sym); err != nil {
				return nil, err
			}
			nameIdx, value, size = sym.Name, sym.Value, sym.Size
		} else {
			var sym elf.Sym32
			if err := readStruct(f.r, off, &sym); err != nil {
				return nil, err
			}
			nameIdx, value, size = sym.Name, uint64(sym.Value), uint64(sym.Size)
		}
		// Symbols with zero length carry no executable range and are
		// skipped.
		if nameIdx == 0 || size == 0 {
			continue
		}
		name, err := readCString(f.r, int64(strtab.offset)+int64(nameIdx))
		if err != nil || name == "" {
			continue
		}
		out.Add(libpf.Symbol{
			Name:    libpf.SymbolName(name),
			Address: libpf.SymbolValue(value),
			Size:    size,
		})
	}
	out.Finalize()
	return out, nil
}

func (f *File) readSections() ([]elfSection, error) {
	if f.shoff == 0 || f.shnum == 0 {
		return nil, errors.New("no section headers present")
	}
	out := make([]elfSection, f.shnum)
	for i := int64(0); i < f.shnum; i++ {
		off := f.shoff + i*f.shentsize
		if f.is64 {
			var sh elf.Section64
			if err := readStruct(f.r, off, &sh); err != nil {
				return nil, err
			}
			out[i] = elfSection{
				name: sh.Name, typ: sh.Type, link: sh.Link,
				offset: sh.Off, size: sh.Size, entsz: sh.Entsize,
			}
		} else {
			var sh elf.Section32
			if err := readStruct(f.r, off, &sh); err != nil {
				return nil, err
			}
			out[i] = elfSection{
				name: sh.Name, typ: sh.Type, link: sh.Link,
				offset: uint64(sh.Off), size: uint64(sh.Size), entsz: uint64(sh.Entsize),
			}
		}
	}
	return out, nil
}

func readCString(r interface {
	ReadAt(p []byte, off int64) (int, error)
}, addr int64) (string, error) {
	const chunk = 64
	const maxLen = 4096
	buf := make([]byte, 0, chunk)
	for len(buf) < maxLen {
		next := make([]byte, chunk)
		n, err := r.ReadAt(next, addr+int64(len(buf)))
		if n == 0 {
			return "", err
		}
		buf = append(buf, next[:n]...)
		if idx := bytes.IndexByte(buf, 0); idx >= 0 {
			return string(buf[:idx]), nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("string at 0x%x exceeds %d bytes without terminator", addr, maxLen)
}
