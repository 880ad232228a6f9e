// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import (
	"encoding/binary"
	"fmt"

	"github.com/android-la64/platform-system-extras/libpf"
)

// Raw on-target layouts are parametrized strictly by (version, target
// bitness) — never by host word size or source architecture, per the
// design note that every on-target structure must be described by an
// explicit, fixed-size layout. The descriptor is two bitness variants;
// the code entry is four (version x bitness) variants. The 32-bit forms
// carry a 4-byte pad after symfileAddr so the 64-bit fields that follow
// stay 8-byte aligned, and both v2 forms end in a 4-byte pad after the
// entry seqlock.

var magicV1 = [8]byte{'A', 'n', 'd', 'r', 'o', 'i', 'd', '1'}
var magicV2 = [8]byte{'A', 'n', 'd', 'r', 'o', 'i', 'd', '2'}

// DescriptorSize returns the fixed wire size of the raw descriptor struct
// for the given target bitness.
func DescriptorSize(is64 bool) int {
	if is64 {
		return 56
	}
	return 48
}

// RawDescriptor is the decoded, bitness-normalized view of the on-target
// descriptor header, before validation.
type RawDescriptor struct {
	Version          uint32
	ActionFlag       uint32
	RelevantEntry    libpf.Address
	FirstEntry       libpf.Address
	Magic            [8]byte
	Flags            uint32
	SizeofDescriptor uint32
	SizeofEntry      uint32
	Seqlock          uint32
	Timestamp        uint64
}

// ParseDescriptor decodes a raw descriptor buffer of exactly
// DescriptorSize(is64) bytes.
func ParseDescriptor(data []byte, is64 bool) (RawDescriptor, error) {
	size := DescriptorSize(is64)
	if len(data) != size {
		return RawDescriptor{}, fmt.Errorf("jitdebug: descriptor buffer is %d bytes, want %d", len(data), size)
	}
	le := binary.LittleEndian
	var d RawDescriptor
	d.Version = le.Uint32(data[0:4])
	d.ActionFlag = le.Uint32(data[4:8])

	ptr := 4
	if is64 {
		ptr = 8
	}
	off := 8
	d.RelevantEntry = libpf.Address(readUint(le, data, off, ptr))
	off += ptr
	d.FirstEntry = libpf.Address(readUint(le, data, off, ptr))
	off += ptr

	copy(d.Magic[:], data[off:off+8])
	off += 8

	d.Flags = le.Uint32(data[off : off+4])
	off += 4
	d.SizeofDescriptor = le.Uint32(data[off : off+4])
	off += 4
	d.SizeofEntry = le.Uint32(data[off : off+4])
	off += 4
	d.Seqlock = le.Uint32(data[off : off+4])
	off += 4
	d.Timestamp = le.Uint64(data[off : off+8])

	return d, nil
}

// ValidMagic reports whether m is one of the two recognized magic values
// and returns the descriptor version it implies.
func ValidMagic(m [8]byte) (version uint32, ok bool) {
	switch m {
	case magicV1:
		return 1, true
	case magicV2:
		return 2, true
	}
	return 0, false
}

// entryLayout describes the byte offsets of one (version, bitness)
// code-entry variant.
type entryLayout struct {
	size                         int
	prevOff, nextOff             int
	symfileAddrOff               int
	symfileSizeOff, timestampOff int
	seqlockOff                   int // -1 for v1
	ptrWidth                     int
}

// EntrySize returns the fixed wire size of a code entry for the given
// version and target bitness.
func EntrySize(version uint32, is64 bool) (int, error) {
	l, err := entryLayoutFor(version, is64)
	if err != nil {
		return 0, err
	}
	return l.size, nil
}

func entryLayoutFor(version uint32, is64 bool) (entryLayout, error) {
	switch {
	case version == 1 && !is64:
		// next(4) prev(4) symfileAddr(4) pad(4) symfileSize(8) ts(8) = 32
		return entryLayout{size: 32, nextOff: 0, prevOff: 4, symfileAddrOff: 8,
			symfileSizeOff: 16, timestampOff: 24, seqlockOff: -1, ptrWidth: 4}, nil
	case version == 1 && is64:
		return entryLayout{size: 40, nextOff: 0, prevOff: 8, symfileAddrOff: 16,
			symfileSizeOff: 24, timestampOff: 32, seqlockOff: -1, ptrWidth: 8}, nil
	case version == 2 && !is64:
		// v1(32) + seqlock(4) + pad(4) = 40
		return entryLayout{size: 40, nextOff: 0, prevOff: 4, symfileAddrOff: 8,
			symfileSizeOff: 16, timestampOff: 24, seqlockOff: 32, ptrWidth: 4}, nil
	case version == 2 && is64:
		// v1(40) + seqlock(4) + pad(4) = 48
		return entryLayout{size: 48, nextOff: 0, prevOff: 8, symfileAddrOff: 16,
			symfileSizeOff: 24, timestampOff: 32, seqlockOff: 40, ptrWidth: 8}, nil
	default:
		return entryLayout{}, fmt.Errorf("jitdebug: unsupported descriptor version %d", version)
	}
}

// ParseEntry decodes a code entry buffer of exactly EntrySize(version,
// is64) bytes.
func ParseEntry(data []byte, version uint32, is64 bool) (CodeEntry, error) {
	l, err := entryLayoutFor(version, is64)
	if err != nil {
		return CodeEntry{}, err
	}
	if len(data) != l.size {
		return CodeEntry{}, fmt.Errorf("jitdebug: entry buffer is %d bytes, want %d", len(data), l.size)
	}
	le := binary.LittleEndian

	e := CodeEntry{
		PrevAddr:    libpf.Address(readUint(le, data, l.prevOff, l.ptrWidth)),
		NextAddr:    libpf.Address(readUint(le, data, l.nextOff, l.ptrWidth)),
		SymfileAddr: libpf.Address(readUint(le, data, l.symfileAddrOff, l.ptrWidth)),
		SymfileSize: le.Uint64(data[l.symfileSizeOff : l.symfileSizeOff+8]),
		RegisterTS:  le.Uint64(data[l.timestampOff : l.timestampOff+8]),
	}
	if l.seqlockOff >= 0 {
		e.EntrySeqlock = le.Uint32(data[l.seqlockOff : l.seqlockOff+4])
	}
	return e, nil
}

func readUint(le binary.ByteOrder, data []byte, off, width int) uint64 {
	if width == 4 {
		return uint64(le.Uint32(data[off : off+4]))
	}
	return le.Uint64(data[off : off+8])
}
