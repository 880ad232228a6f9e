// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import (
	"github.com/android-la64/platform-system-extras/libpf"
)

// DescriptorSnapshotter reads both descriptors of a target in a single
// vectorized cross-process read and validates each independently.
type DescriptorSnapshotter struct {
	reader RemoteReader
}

// NewDescriptorSnapshotter returns a snapshotter backed by reader.
func NewDescriptorSnapshotter(reader RemoteReader) *DescriptorSnapshotter {
	return &DescriptorSnapshotter{reader: reader}
}

// Snapshot reads the descriptors at jitAddr and dexAddr in one vectorized
// read. Either address may be zero, meaning that descriptor is absent
// from this target; the corresponding return value is then nil. A
// descriptor that is present but fails validation (bad magic, size
// mismatch, unsupported version) is also returned as nil, not an error —
// only a failed memory read is an error, since that alone means the
// target is gone.
func (s *DescriptorSnapshotter) Snapshot(is64 bool, jitAddr, dexAddr libpf.Address,
) (jit, dex *DescriptorSnapshot, err error) {
	size := DescriptorSize(is64)
	var jitBuf, dexBuf []byte
	if jitAddr != 0 {
		jitBuf = make([]byte, size)
	}
	if dexAddr != 0 {
		dexBuf = make([]byte, size)
	}

	if err := s.reader.ReadVector([2]libpf.Address{jitAddr, dexAddr}, [2][]byte{jitBuf, dexBuf}); err != nil {
		return nil, nil, err
	}

	if jitBuf != nil {
		jit = validateDescriptor(DescriptorJIT, jitBuf, is64)
	}
	if dexBuf != nil {
		dex = validateDescriptor(DescriptorDEX, dexBuf, is64)
	}
	return jit, dex, nil
}

func validateDescriptor(kind DescriptorKind, buf []byte, is64 bool) *DescriptorSnapshot {
	raw, err := ParseDescriptor(buf, is64)
	if err != nil {
		return nil
	}
	if raw.Version != 1 {
		return nil
	}
	version, ok := ValidMagic(raw.Magic)
	if !ok {
		return nil
	}
	if int(raw.SizeofDescriptor) != DescriptorSize(is64) {
		return nil
	}
	entrySize, err := EntrySize(version, is64)
	if err != nil || int(raw.SizeofEntry) != entrySize {
		return nil
	}
	return &DescriptorSnapshot{
		Kind:          kind,
		Version:       version,
		ActionSeqlock: raw.Seqlock,
		ActionTime:    int64(raw.Timestamp),
		FirstEntry:    raw.FirstEntry,
	}
}
