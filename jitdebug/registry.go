// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import (
	lru "github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"

	"github.com/android-la64/platform-system-extras/libpf"
)

// emittedKey identifies one (pid, entry address, register timestamp)
// tuple, so the same code entry is never reported twice even if it is
// observed again on a later walk.
type emittedKey struct {
	pid        libpf.PID
	entryAddr  libpf.Address
	registerTS int64
}

func (k emittedKey) Hash32() uint32 {
	var buf [20]byte
	putU32(buf[0:4], uint32(k.pid))
	putU64(buf[4:12], uint64(k.entryAddr))
	putU64(buf[12:20], uint64(k.registerTS))
	return uint32(xxh3.Hash(buf[:]))
}

func putU32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// ProcessRegistry owns the per-pid state across ticks: which processes are
// monitored, whether their runtime has been probed yet, and which code
// entries have already been emitted.
type ProcessRegistry struct {
	processes map[libpf.PID]*ProcessRecord
	emitted   *lru.LRU[emittedKey, struct{}]
}

// NewProcessRegistry returns an empty registry. dedupSize bounds the
// emitted-entry dedup cache; it should comfortably exceed the number of
// live JIT entries expected across all monitored processes.
func NewProcessRegistry(dedupSize uint32) (*ProcessRegistry, error) {
	cache, err := lru.New[emittedKey, struct{}](dedupSize, emittedKey.Hash32)
	if err != nil {
		return nil, err
	}
	return &ProcessRegistry{
		processes: make(map[libpf.PID]*ProcessRecord),
		emitted:   cache,
	}, nil
}

// Get returns the record for pid, or nil if it is not tracked at all.
func (r *ProcessRegistry) Get(pid libpf.PID) *ProcessRecord {
	return r.processes[pid]
}

// Active returns every process currently eligible for a descriptor read:
// present, probed, and not yet marked dead.
func (r *ProcessRegistry) Active() []*ProcessRecord {
	out := make([]*ProcessRecord, 0, len(r.processes))
	for _, rec := range r.processes {
		if rec.Probed && !rec.Died {
			out = append(out, rec)
		}
	}
	return out
}

// Len reports how many processes are tracked at all, probed or not.
func (r *ProcessRegistry) Len() int {
	return len(r.processes)
}

// OnMmap marks pid as runtime-present without adding it to active
// monitoring: an mmap/mmap2 record alone is not a strong enough signal
// that the process is worth probing.
func (r *ProcessRegistry) OnMmap(pid libpf.PID) {
	rec := r.processes[pid]
	if rec == nil {
		rec = &ProcessRecord{PID: pid}
		r.processes[pid] = rec
	}
	rec.RuntimePresent = true
}

// OnFork propagates the parent's runtime-present mark to the child, so a
// process that forks before its first sample is still recognized.
func (r *ProcessRegistry) OnFork(parent, child libpf.PID) {
	parentRec := r.processes[parent]
	if parentRec == nil || !parentRec.RuntimePresent {
		return
	}
	childRec := r.processes[child]
	if childRec == nil {
		childRec = &ProcessRecord{PID: child}
		r.processes[child] = childRec
	}
	childRec.RuntimePresent = true
}

// OnSample flips pid to probed, adding it to active monitoring, but only
// if pid was already marked runtime-present by an earlier mmap/mmap2 or
// fork record. A sample for a pid with no such evidence is a no-op, so
// this reader never pays for a cross-process read against a process
// that has given no sign of hosting the runtime.
func (r *ProcessRegistry) OnSample(pid libpf.PID) *ProcessRecord {
	rec := r.processes[pid]
	if rec == nil || !rec.RuntimePresent {
		return nil
	}
	rec.Probed = true
	return rec
}

// Drop removes pid from the registry entirely, e.g. on process exit.
func (r *ProcessRegistry) Drop(pid libpf.PID) {
	delete(r.processes, pid)
}

// MarkDied records that a read against pid came back as the target being
// gone, without evicting its record — a dead process's final snapshot is
// still useful for diagnostics until the caller explicitly drops it.
func (r *ProcessRegistry) MarkDied(pid libpf.PID) {
	if rec := r.processes[pid]; rec != nil {
		rec.Died = true
	}
}

// ShouldEmit reports whether (pid, entryAddr, registerTS) has not already
// been emitted, and marks it emitted if so. Call this once per candidate
// entry, immediately before emission.
func (r *ProcessRegistry) ShouldEmit(pid libpf.PID, entryAddr libpf.Address, registerTS int64) bool {
	key := emittedKey{pid: pid, entryAddr: entryAddr, registerTS: registerTS}
	if _, ok := r.emitted.Get(key); ok {
		return false
	}
	r.emitted.Add(key, struct{}{})
	return true
}
