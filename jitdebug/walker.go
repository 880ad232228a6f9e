// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import (
	"github.com/android-la64/platform-system-extras/libpf"
)

// EntryListWalker walks the on-target doubly-linked code-entry list,
// newest entry first, applying cycle detection, back-pointer agreement,
// and per-entry validity as consistency checks, and a timestamp cutoff
// against the previously observed action timestamp together with a hop
// bound derived from how far the seqlock advanced since that previous
// observation as the two normal stopping conditions.
type EntryListWalker struct {
	reader RemoteReader
}

// NewEntryListWalker returns a walker backed by reader.
func NewEntryListWalker(reader RemoteReader) *EntryListWalker {
	return &EntryListWalker{reader: reader}
}

// Walk collects every entry reachable from first whose timestamp is
// strictly greater than cutoffTS, stopping at the first entry at or below
// the cutoff. priorSeqlock is the descriptor's seqlock as observed on the
// previous tick (or 0, if this is the first observation of this
// process); curSeqlock is the seqlock from the snapshot that produced
// first, read just before this call. Their difference bounds the number
// of hops, so a corrupted or cyclic list cannot loop forever.
// The caller is still responsible for the post-walk re-check: re-reading
// the descriptor after Walk returns and discarding the result with
// ErrRaceDetected if its seqlock no longer matches curSeqlock. Exhausting
// the hop bound or reaching the cutoff timestamp are both normal
// termination conditions: Walk stops and returns whatever entries were
// already gathered, with no error. A cycle, a back-pointer mismatch, or
// an entry that fails per-entry validity are consistency failures
// instead: Walk returns ErrBrokenList with the gathered entries
// discarded — callers must not partially commit a failed walk.
func (w *EntryListWalker) Walk(is64 bool, version uint32, first libpf.Address, cutoffTS int64,
	priorSeqlock, curSeqlock uint32) ([]CodeEntry, error) {
	hopLimit := hopBound(priorSeqlock, curSeqlock)

	entrySize, err := EntrySize(version, is64)
	if err != nil {
		return nil, err
	}

	var entries []CodeEntry
	visited := make(map[libpf.Address]struct{})
	cur := first
	var prevVisited libpf.Address

	for hops := 0; cur != 0; hops++ {
		if hops >= hopLimit {
			break
		}
		if _, seen := visited[cur]; seen {
			return nil, ErrBrokenList
		}
		visited[cur] = struct{}{}

		buf := make([]byte, entrySize)
		if err := w.reader.Read(cur, buf); err != nil {
			return nil, ErrTargetGone
		}
		entry, err := ParseEntry(buf, version, is64)
		if err != nil {
			return nil, ErrBrokenList
		}
		entry.Addr = cur

		if entry.PrevAddr != prevVisited {
			return nil, ErrBrokenList
		}
		if !entry.Valid(version) {
			return nil, ErrBrokenList
		}
		if int64(entry.RegisterTS) <= cutoffTS {
			break
		}

		if entry.HasSymfile() {
			entries = append(entries, entry)
		}
		prevVisited = cur
		cur = entry.NextAddr
	}

	return entries, nil
}

// hopBound returns the maximum number of list entries a walk may visit
// before stopping early: exactly how many mutations occurred since the
// previous tick, i.e. half the seqlock advance (each mutation increments
// it twice). On the first observation of a process, the caller passes
// priorSeqlock == 0, so the bound is the full backlog represented by the
// descriptor's current seqlock.
func hopBound(priorSeqlock, curSeqlock uint32) int {
	return int((curSeqlock - priorSeqlock) / 2)
}
