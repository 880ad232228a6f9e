// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package perfrecord decodes the subset of the Linux perf_event_open
// record stream the JIT/Dex debug-info reader reacts to: mmap, mmap2,
// fork and sample records. jitdebug only ever sees the narrow
// jitdebug.Record view this package adapts into, never these concrete
// types.
package perfrecord // import "github.com/android-la64/platform-system-extras/perfrecord"

// Record type values, matching the stable kernel perf_event.h ABI
// (include/uapi/linux/perf_event.h PERF_RECORD_*). Only the four kinds
// JITDebugReader::UpdateRecord dispatches on are decoded; every other
// type is surfaced as Type with all typed fields nil.
const (
	TypeMmap   uint32 = 1
	TypeFork   uint32 = 7
	TypeSample uint32 = 9
	TypeMmap2  uint32 = 10
)

// SampleType bits this package understands in a trailing sample_id
// suffix (perf_event_attr.sample_type), in PERF_SAMPLE_* kernel
// numbering. Any other bit set in Config.SampleType is rejected by
// NewReader, since this package does not implement the full
// variable-width sample_id field ordering for bits it has no use for.
const (
	SampleTID  uint64 = 1 << 1
	SampleTime uint64 = 1 << 2
)

// MmapRecord is a PERF_RECORD_MMAP payload: a process mapped a file
// (non-anonymous) executable region.
type MmapRecord struct {
	PID, TID         uint32
	Addr, Len, PgOff uint64
	Filename         string
}

// Mmap2Record is a PERF_RECORD_MMAP2 payload: same as MmapRecord, plus
// the device/inode/protection fields the kernel started attaching in
// later ABI revisions.
type Mmap2Record struct {
	PID, TID           uint32
	Addr, Len, PgOff   uint64
	Maj, Min           uint32
	Ino, InoGeneration uint64
	Prot, Flags        uint32
	Filename           string
}

// ForkRecord is a PERF_RECORD_FORK payload.
type ForkRecord struct {
	PID, PPID, TID, PTID uint32
	Time                 uint64
}

// SampleRecord is the minimal subset of a PERF_RECORD_SAMPLE payload
// this reader needs: the sampled thread's pid and the sample time, both
// present only if the attr that produced this stream requested
// PERF_SAMPLE_TID / PERF_SAMPLE_TIME respectively.
type SampleRecord struct {
	PID, TID uint32
	Time     uint64
}

// Record is one decoded perf-event record. Exactly one of Mmap, Mmap2,
// Fork, Sample is non-nil, selected by Type; Timestamp is populated
// whenever a time value was available, from the record's own fields
// (fork, sample) or its trailing sample_id suffix (mmap, mmap2).
type Record struct {
	Type      uint32
	Timestamp int64

	Mmap   *MmapRecord
	Mmap2  *Mmap2Record
	Fork   *ForkRecord
	Sample *SampleRecord
}

// Config describes the perf_event_attr this stream was produced under,
// to the extent this package's decoder needs to know it.
type Config struct {
	// SampleIDAll mirrors perf_event_attr.sample_id_all: when set, every
	// record type (not only PERF_RECORD_SAMPLE) carries a trailing
	// sample_id suffix shaped by SampleType.
	SampleIDAll bool
	// SampleType is perf_event_attr.sample_type. Must be a subset of
	// SampleTID|SampleTime; NewReader rejects anything else.
	SampleType uint64
}
