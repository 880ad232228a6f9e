// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/android-la64/platform-system-extras/libpf"
)

// putEntry writes one v1, 64-bit entry at addr into mem, linking it to
// prev/next, so walker tests don't hand-assemble bytes inline.
func putEntry(mem *fakeMemory, addr, prev, next libpf.Address, symfileAddr, symfileSize, ts uint64) {
	buf := buildEntry(1, true, uint64(prev), uint64(next), symfileAddr, symfileSize, ts, 0)
	mem.put(addr, buf)
}

// putEntryV2 writes one v2, 64-bit entry, additionally carrying its own
// seqlock.
func putEntryV2(mem *fakeMemory, addr, prev, next libpf.Address, symfileAddr, symfileSize, ts uint64, seqlock uint32) {
	buf := buildEntry(2, true, uint64(prev), uint64(next), symfileAddr, symfileSize, ts, seqlock)
	mem.put(addr, buf)
}

func TestWalkerCollectsNewestFirstAboveCutoff(t *testing.T) {
	mem := newFakeMemory()
	// list head (newest) is 0x300; next_addr walks toward older entries,
	// prev_addr points back toward the head.
	putEntry(mem, 0x300, 0, 0x200, 0x9200, 16, 30)
	putEntry(mem, 0x200, 0x300, 0x100, 0x9100, 16, 20)
	putEntry(mem, 0x100, 0x200, 0, 0x9000, 16, 10)

	w := NewEntryListWalker(mem)
	entries, err := w.Walk(true, 1, 0x300, 10, 0, 6)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.EqualValues(t, 0x300, entries[0].Addr)
	assert.EqualValues(t, 0x200, entries[1].Addr)
}

func TestWalkerStopsAtCutoffTimestamp(t *testing.T) {
	mem := newFakeMemory()
	putEntry(mem, 0x200, 0, 0x100, 0x9100, 16, 20)
	putEntry(mem, 0x100, 0x200, 0, 0x9000, 16, 10)

	w := NewEntryListWalker(mem)
	entries, err := w.Walk(true, 1, 0x200, 20, 0, 2)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWalkerDetectsCycle(t *testing.T) {
	mem := newFakeMemory()
	// 0x200 (head) -> 0x100 -> back to 0x200, an infinite loop via next_addr.
	putEntry(mem, 0x200, 0, 0x100, 0x9100, 16, 20)
	putEntry(mem, 0x100, 0x200, 0x200, 0x9000, 16, 10)

	w := NewEntryListWalker(mem)
	_, err := w.Walk(true, 1, 0x200, 0, 0, 6)
	assert.ErrorIs(t, err, ErrBrokenList)
}

func TestWalkerDetectsBackPointerMismatch(t *testing.T) {
	mem := newFakeMemory()
	// 0x200's next is 0x100, but 0x100 claims its prev is 0x999, not 0x200.
	putEntry(mem, 0x200, 0, 0x100, 0x9100, 16, 20)
	putEntry(mem, 0x100, 0x999, 0, 0x9000, 16, 10)

	w := NewEntryListWalker(mem)
	_, err := w.Walk(true, 1, 0x200, 0, 0, 6)
	assert.ErrorIs(t, err, ErrBrokenList)
}

func TestWalkerRejectsEntryWithEmptySymfile(t *testing.T) {
	mem := newFakeMemory()
	putEntry(mem, 0x100, 0, 0, 0, 0, 10)

	w := NewEntryListWalker(mem)
	_, err := w.Walk(true, 1, 0x100, 0, 0, 2)
	assert.ErrorIs(t, err, ErrBrokenList)
}

func TestWalkerSkipsV2EntryWithEmptySymfileButContinues(t *testing.T) {
	mem := newFakeMemory()
	// Head entry registered but not yet populated with a symfile (even
	// seqlock, legitimate v2 transient state); walk continues to the
	// older, fully populated entry instead of treating the list as broken.
	putEntryV2(mem, 0x200, 0, 0x100, 0, 0, 20, 0)
	putEntryV2(mem, 0x100, 0x200, 0, 0x9000, 16, 10, 0)

	w := NewEntryListWalker(mem)
	entries, err := w.Walk(true, 2, 0x200, 0, 0, 4)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 0x100, entries[0].Addr)
}

func TestWalkerPropagatesShortReadAsTargetGone(t *testing.T) {
	mem := newFakeMemory()
	w := NewEntryListWalker(mem)
	_, err := w.Walk(true, 1, 0xdead, 0, 0, 2)
	assert.ErrorIs(t, err, ErrTargetGone)
}

func TestWalkerEnforcesHopBound(t *testing.T) {
	assert.Equal(t, 0, hopBound(4, 4))
	assert.Equal(t, 10, hopBound(0, 20))
	assert.Equal(t, 1<<20, hopBound(0, 1<<21))
}

func TestWalkerHopBoundStopsWalkWithPartialResults(t *testing.T) {
	mem := newFakeMemory()
	// priorSeqlock == curSeqlock - 2 allows exactly one hop; a two-entry
	// chain exceeds that, so the walk stops after the first entry and
	// returns it rather than treating the list as broken.
	putEntry(mem, 0x200, 0, 0x100, 0xaaa, 8, 20)
	putEntry(mem, 0x100, 0x200, 0, 0xbbb, 8, 10)

	w := NewEntryListWalker(mem)
	entries, err := w.Walk(true, 1, 0x200, 0, 0, 2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 0x200, entries[0].Addr)
}
