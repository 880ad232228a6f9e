// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import (
	"github.com/android-la64/platform-system-extras/libpf"
)

// RemoteReader is the narrow cross-process memory access surface jitdebug
// depends on. libpf/remotememory.RemoteMemory satisfies it.
type RemoteReader interface {
	Read(addr libpf.Address, dst []byte) error
	ReadVector(addrs [2]libpf.Address, dsts [2][]byte) error
}

// Elf is the narrow ELF introspection surface jitdebug depends on.
// libpf/pfelf.File satisfies it.
type Elf interface {
	IsELF64() bool
	LookupSymbolAddress(name libpf.SymbolName) (libpf.SymbolValue, error)
	ReadSymbols() (*libpf.SymbolMap, error)
	Close() error
}

// ElfOpener opens an ELF image, either on disk (the runtime library) or
// from an in-memory byte slice (a freshly ingested JIT symfile).
type ElfOpener interface {
	OpenFile(path string) (Elf, error)
	OpenBytes(data []byte) (Elf, error)
}

// ScratchArtifact is the narrow append-only scratch file surface jitdebug
// depends on. scratchfile.Artifact satisfies it. offset is the byte
// position within the artifact where this write begins, i.e. the
// artifact's length before the call — not after.
type ScratchArtifact interface {
	Append(data []byte) (url string, offset int64, err error)
	Discard(n int64) (url string, offset int64, err error)
	Sync() error
}

// RecordKind identifies the external record kinds the reader reacts to;
// every other kind only advances the ordered-delivery watermark.
type RecordKind int

const (
	RecordOther RecordKind = iota
	RecordMmap
	RecordFork
	RecordSample
)

// Record is the reader's own, collaborator-independent view of one
// heterogeneous record from the external perf-event stream.
type Record struct {
	Kind      RecordKind
	PID       libpf.PID
	PPID      libpf.PID
	Filename  string
	Timestamp int64
}

// RecordFeed is the narrow external record stream surface jitdebug
// depends on.
type RecordFeed interface {
	// Next returns the next record and true, or the zero Record and false
	// once the feed is exhausted for this tick.
	Next() (Record, bool)
}

// DescriptorKind distinguishes the JIT and DEX descriptors.
type DescriptorKind int

const (
	DescriptorJIT DescriptorKind = iota
	DescriptorDEX
)

func (k DescriptorKind) String() string {
	if k == DescriptorDEX {
		return "dex"
	}
	return "jit"
}

// DescriptorSnapshot is the normalized, bitness-independent view of one
// raw on-target descriptor.
type DescriptorSnapshot struct {
	Kind          DescriptorKind
	Version       uint32
	ActionSeqlock uint32
	ActionTime    int64
	FirstEntry    libpf.Address
}

// Stable reports whether the seqlock was even at the moment of read —
// even means the list was not mid-mutation.
func (d DescriptorSnapshot) Stable() bool {
	return d.ActionSeqlock%2 == 0
}

// AddrRange is a half-open [Start, End) virtual address range.
type AddrRange struct {
	Start libpf.Address
	End   libpf.Address
}

// Contains reports whether addr falls within this range.
func (r AddrRange) Contains(addr libpf.Address) bool {
	return addr >= r.Start && addr < r.End
}

// CodeEntry is the decoded on-target linked-list node, normalized across
// the four bitness x version layouts.
type CodeEntry struct {
	Addr        libpf.Address
	PrevAddr    libpf.Address
	NextAddr    libpf.Address
	SymfileAddr libpf.Address
	SymfileSize uint64
	RegisterTS  uint64
	// EntrySeqlock is only meaningful for v2 entries.
	EntrySeqlock uint32
}

// Valid implements the per-entry structural validity predicate. v1
// entries are only linked in fully formed, so a v1
// entry with an empty symfile range indicates list corruption. v2
// entries may legitimately be linked in before their symfile is
// populated, guarded by the entry's own seqlock, so v2 validity checks
// only that seqlock's parity; an empty symfile range is then a
// transient state the caller skips rather than a broken-list signal.
func (e CodeEntry) Valid(version uint32) bool {
	if version == 2 {
		return e.EntrySeqlock%2 == 0
	}
	return e.SymfileAddr != 0 && e.SymfileSize != 0
}

// HasSymfile reports whether this entry currently carries a populated
// symfile range, regardless of version. Entries that pass Valid but
// fail this (only possible for v2) are skipped by the walker without
// treating the list as broken.
func (e CodeEntry) HasSymfile() bool {
	return e.SymfileAddr != 0 && e.SymfileSize != 0
}

// NewEntryRecord is the reader-side record produced by EntryListWalker
// for one freshly observed code entry.
type NewEntryRecord struct {
	EntryAddr   libpf.Address
	SymfileAddr libpf.Address
	SymfileSize uint64
	RegisterTS  int64
}

// JITInfo is the JIT form of a DebugInfo record.
type JITInfo struct {
	CodeAddr      libpf.Address
	CodeLength    uint64
	SymbolName    string
	ScratchURL    string
	ScratchOffset int64
}

// DexInfo is the DEX form of a DebugInfo record.
type DexInfo struct {
	Path               string
	Offset             uint64
	ExtractedFromApk   bool
	MappingDescription string
}

// DebugInfo is one emitted, fully resolved debug-info record.
type DebugInfo struct {
	PID       libpf.PID
	Timestamp int64
	JIT       *JITInfo
	Dex       *DexInfo
}

// ProcessRecord is the mutable per-target state ProcessRegistry owns.
type ProcessRecord struct {
	PID     libpf.PID
	Is64Bit bool

	JITDescriptorAddr libpf.Address
	DEXDescriptorAddr libpf.Address

	LastJIT *DescriptorSnapshot
	LastDEX *DescriptorSnapshot

	Initialized bool
	Died        bool

	ZygoteRanges []AddrRange

	// RuntimePresent/Probed implement the two-phase external-trigger
	// protocol: a pid is only added to active monitoring once a sample
	// record confirms it, after an mmap/mmap2/fork record marked it as
	// runtime-present.
	RuntimePresent bool
	Probed         bool
}

// Metrics is the reader's supplemental observability snapshot.
type Metrics struct {
	ProcessesMonitored      int
	EntriesEmitted          int64
	WalksAborted            int64
	RaceDetected            int64
	SymfilesSkippedTooLarge int64
}
