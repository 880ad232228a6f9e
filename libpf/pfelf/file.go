// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package pfelf implements the narrow slice of ELF introspection the
// JIT/Dex debug-info reader needs: locating two named dynamic symbols in
// an on-disk runtime shared library, and reading the symbol table out of a
// small in-memory ELF image (a JIT symfile). Dynamic symbols are found by
// walking program headers and the PT_DYNAMIC segment directly rather than
// going through debug/elf's section-header based convenience API, so the
// runtime library needs no section headers; a JIT symfile's symbol table
// is read through its own section header table.
package pfelf // import "github.com/android-la64/platform-system-extras/libpf/pfelf"

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotELF is returned when the input does not start with the ELF magic.
var ErrNotELF = errors.New("not an ELF file")

const elfMagicLen = 4

var elfMagic = [elfMagicLen]byte{0x7f, 'E', 'L', 'F'}

// IsValidMagic reports whether data begins with the 4-byte ELF magic,
// the cheap check run before attempting a full parse.
func IsValidMagic(data []byte) bool {
	return len(data) >= elfMagicLen && bytes.Equal(data[:elfMagicLen], elfMagic[:])
}

// File represents an open ELF file, either on disk or a byte slice held
// entirely in memory.
type File struct {
	r      io.ReaderAt
	closer io.Closer

	is64   bool
	Type   elf.Type
	Entry  uint64

	dynSymAddr int64
	dynStrAddr int64
	gnuHashOff int64
	sysvOff    int64

	shoff     int64
	shnum     int64
	shentsize int64
	shstrndx  int64
}

type elfSection struct {
	name   uint32
	typ    uint32
	link   uint32
	offset uint64
	size   uint64
	entsz  uint64
}

type gnuHashHeader struct {
	NumBuckets   uint32
	SymbolOffset uint32
	BloomSize    uint32
	BloomShift   uint32
}

type sysvHashHeader struct {
	NumBuckets uint32
	NumChain   uint32
}

// Open opens the named file on disk and prepares it for ELF introspection.
func Open(name string) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	ef, err := newFile(f, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return ef, nil
}

// NewFile wraps an in-memory (or otherwise already open) ELF image. The
// caller retains ownership of r; Close is a no-op.
func NewFile(r io.ReaderAt) (*File, error) {
	return newFile(r, nil)
}

// IsELF64 reports whether this image uses the 64-bit ELF class.
func (f *File) IsELF64() bool {
	return f.is64
}

// Close releases resources owned by this File, if any.
func (f *File) Close() error {
	if f.closer != nil {
		err := f.closer.Close()
		f.closer = nil
		return err
	}
	return nil
}

func newFile(r io.ReaderAt, closer io.Closer) (*File, error) {
	var ident [16]byte
	if _, err := r.ReadAt(ident[:], 0); err != nil {
		return nil, err
	}
	if !bytes.Equal(ident[:elfMagicLen], elfMagic[:]) {
		return nil, ErrNotELF
	}

	f := &File{r: r, closer: closer}
	switch elf.Class(ident[elf.EI_CLASS]) {
	case elf.ELFCLASS64:
		f.is64 = true
	case elf.ELFCLASS32:
		f.is64 = false
	default:
		return nil, fmt.Errorf("unsupported ELF class %d", ident[elf.EI_CLASS])
	}
	if elf.Data(ident[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return nil, errors.New("unsupported ELF byte order, only little-endian targets supported")
	}

	if err := f.parseHeaderAndDynamic(); err != nil {
		return nil, err
	}
	return f, nil
}

// parseHeaderAndDynamic reads the ELF header, the program header table, and
// walks PT_DYNAMIC (if present) to locate the dynamic symbol/string tables
// and the symbol hash table, all without relying on section headers.
func (f *File) parseHeaderAndDynamic() error {
	var phoff, phnum, phentsize int64
	if f.is64 {
		var hdr elf.Header64
		if err := readStruct(f.r, 0, &hdr); err != nil {
			return err
		}
		f.Type = elf.Type(hdr.Type)
		f.Entry = hdr.Entry
		phoff, phnum, phentsize = int64(hdr.Phoff), int64(hdr.Phnum), int64(hdr.Phentsize)
		f.shoff, f.shnum, f.shentsize, f.shstrndx =
			int64(hdr.Shoff), int64(hdr.Shnum), int64(hdr.Shentsize), int64(hdr.Shstrndx)
	} else {
		var hdr elf.Header32
		if err := readStruct(f.r, 0, &hdr); err != nil {
			return err
		}
		f.Type = elf.Type(hdr.Type)
		f.Entry = uint64(hdr.Entry)
		phoff, phnum, phentsize = int64(hdr.Phoff), int64(hdr.Phnum), int64(hdr.Phentsize)
		f.shoff, f.shnum, f.shentsize, f.shstrndx =
			int64(hdr.Shoff), int64(hdr.Shnum), int64(hdr.Shentsize), int64(hdr.Shstrndx)
	}

	for i := int64(0); i < phnum; i++ {
		off := phoff + i*phentsize
		var typ uint32
		var segOff, segFilesz uint64
		if f.is64 {
			var ph elf.Prog64
			if err := readStruct(f.r, off, &ph); err != nil {
				return err
			}
			typ, segOff, segFilesz = ph.Type, ph.Off, ph.Filesz
		} else {
			var ph elf.Prog32
			if err := readStruct(f.r, off, &ph); err != nil {
				return err
			}
			typ, segOff, segFilesz = ph.Type, uint64(ph.Off), uint64(ph.Filesz)
		}
		if elf.ProgType(typ) != elf.PT_DYNAMIC {
			continue
		}
		if err := f.parseDynamic(int64(segOff), int64(segFilesz)); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) parseDynamic(off, size int64) error {
	entSize := int64(16)
	if !f.is64 {
		entSize = 8
	}
	for p := off; p+entSize <= off+size; p += entSize {
		var tag int64
		var val uint64
		if f.is64 {
			var d elf.Dyn64
			if err := readStruct(f.r, p, &d); err != nil {
				return err
			}
			tag, val = int64(d.Tag), d.Val
		} else {
			var d elf.Dyn32
			if err := readStruct(f.r, p, &d); err != nil {
				return err
			}
			tag, val = int64(d.Tag), uint64(d.Val)
		}
		switch elf.DynTag(tag) {
		case elf.DT_NULL:
			return nil
		case elf.DT_SYMTAB:
			f.dynSymAddr = int64(val)
		case elf.DT_STRTAB:
			f.dynStrAddr = int64(val)
		case elf.DT_HASH:
			f.sysvOff = int64(val)
		case elf.DT_GNU_HASH:
			f.gnuHashOff = int64(val)
		}
	}
	return nil
}

func readStruct(r io.ReaderAt, off int64, v any) error {
	size := binary.Size(v)
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, off); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, v)
}

