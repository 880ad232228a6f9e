// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf_test

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/android-la64/platform-system-extras/libpf/pfelf"
)

func TestIsValidMagic(t *testing.T) {
	assert.True(t, pfelf.IsValidMagic([]byte{0x7f, 'E', 'L', 'F', 0, 0}))
	assert.False(t, pfelf.IsValidMagic([]byte{0x7f, 'E', 'L'}))
	assert.False(t, pfelf.IsValidMagic([]byte("dex\n")))
}

// buildSymfile assembles a minimal, self-contained 64-bit little-endian ELF
// image with a .strtab/.symtab pair reachable via the section header table,
// modelling the shape of a JIT symfile appended by JITSymfileIngestor.
func buildSymfile(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}

	const headerSize = 64
	strtab := []byte{0, 'f', 'o', 'o', 0}
	symtab := make([]byte, 0, 48)
	symtab = append(symtab, make([]byte, 24)...) // null symbol at index 0

	var real bytes.Buffer
	require.NoError(t, binary.Write(&real, binary.LittleEndian, elf.Sym64{
		Name: 1, Info: 0, Other: 0, Shndx: 1, Value: 0x1000, Size: 0x20,
	}))
	symtab = append(symtab, real.Bytes()...)

	strtabOff := int64(headerSize)
	symtabOff := strtabOff + int64(len(strtab))
	shOff := symtabOff + int64(len(symtab))

	hdr := elf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', 2, 1},
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(elf.EM_AARCH64),
		Version:   1,
		Shoff:     uint64(shOff),
		Ehsize:    headerSize,
		Shentsize: 64,
		Shnum:     2,
		Shstrndx:  0,
	}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, hdr))
	buf.Write(strtab)
	buf.Write(symtab)

	sections := []elf.Section64{
		{Type: uint32(elf.SHT_STRTAB), Off: uint64(strtabOff), Size: uint64(len(strtab))},
		{Type: uint32(elf.SHT_SYMTAB), Off: uint64(symtabOff), Size: uint64(len(symtab)), Link: 0},
	}
	for _, s := range sections {
		require.NoError(t, binary.Write(buf, binary.LittleEndian, s))
	}
	return buf.Bytes()
}

func TestReadSymbolsFromSymfile(t *testing.T) {
	data := buildSymfile(t)
	f, err := pfelf.NewFile(bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, f.IsELF64())

	syms, err := f.ReadSymbols()
	require.NoError(t, err)

	all := syms.All()
	require.Len(t, all, 1)
	assert.Equal(t, "foo", string(all[0].Name))
	assert.EqualValues(t, 0x1000, all[0].Address)
	assert.EqualValues(t, 0x20, all[0].Size)

	addr, err := syms.LookupSymbolAddress("foo")
	require.NoError(t, err)
	assert.EqualValues(t, 0x1000, addr)
}

// buildDynamicLibrary assembles a minimal 64-bit ELF with a PT_DYNAMIC
// segment pointing at a dynamic symbol table, string table and a classic
// DT_HASH table, modelling an on-disk ART runtime shared library.
func buildDynamicLibrary(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}

	const headerSize = 64
	const phdrSize = 56
	dynOff := int64(headerSize + phdrSize)

	dynstr := []byte{0, '_', '_', 'j', 'i', 't', '_', 'd', 'e', 'b', 'u', 'g', '_', 'd', 'e', 's', 'c', 'r', 'i', 'p', 't', 'o', 'r', 0}
	nameIdx := uint32(1)

	dynsymOff := dynOff + 16*4 // leave room for 4 Dyn64 entries
	dynsym := make([]byte, 0, 48)
	dynsym = append(dynsym, make([]byte, 24)...)
	var real bytes.Buffer
	require.NoError(t, binary.Write(&real, binary.LittleEndian, elf.Sym64{
		Name: nameIdx, Value: 0x4000, Size: 8,
	}))
	dynsym = append(dynsym, real.Bytes()...)

	dynstrOff := dynsymOff + int64(len(dynsym))
	hashOff := dynstrOff + int64(len(dynstr))
	hashTable := []uint32{1, 2, 0, 2} // nbucket=1, nchain=2, bucket[0]=0, chain[0]=2; only nchain is read

	dyn := []elf.Dyn64{
		{Tag: int64(elf.DT_SYMTAB), Val: uint64(dynsymOff)},
		{Tag: int64(elf.DT_STRTAB), Val: uint64(dynstrOff)},
		{Tag: int64(elf.DT_HASH), Val: uint64(hashOff)},
		{Tag: int64(elf.DT_NULL), Val: 0},
	}

	hdr := elf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', 2, 1},
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(elf.EM_AARCH64),
		Version:   1,
		Phoff:     headerSize,
		Ehsize:    headerSize,
		Phentsize: phdrSize,
		Phnum:     1,
	}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, hdr))

	ph := elf.Prog64{
		Type: uint32(elf.PT_DYNAMIC),
		Off:  uint64(dynOff),
		Filesz: uint64(len(dyn)) * 16,
	}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, ph))

	for _, d := range dyn {
		require.NoError(t, binary.Write(buf, binary.LittleEndian, d))
	}
	buf.Write(dynsym)
	buf.Write(dynstr)
	for _, v := range hashTable {
		require.NoError(t, binary.Write(buf, binary.LittleEndian, v))
	}
	return buf.Bytes()
}

func TestReadDynamicSymbolsViaSysVHash(t *testing.T) {
	data := buildDynamicLibrary(t)
	f, err := pfelf.NewFile(bytes.NewReader(data))
	require.NoError(t, err)

	addr, err := f.LookupSymbolAddress("__jit_debug_descriptor")
	require.NoError(t, err)
	assert.EqualValues(t, 0x4000, addr)

	_, err = f.LookupSymbolAddress("does_not_exist")
	assert.Error(t, err)
}

func TestNewFileRejectsNonELF(t *testing.T) {
	_, err := pfelf.NewFile(bytes.NewReader([]byte("not an elf file at all")))
	assert.ErrorIs(t, err, pfelf.ErrNotELF)
}
