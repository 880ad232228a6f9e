// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/android-la64/platform-system-extras/apkreader"
	"github.com/android-la64/platform-system-extras/libpf"
	"github.com/android-la64/platform-system-extras/libpf/periodiccaller"
	"github.com/android-la64/platform-system-extras/libpf/remotememory"
	"github.com/android-la64/platform-system-extras/process"
	"github.com/android-la64/platform-system-extras/scratchfile"
)

// RuntimeLibraryPath names the shared library every monitored process is
// expected to have mapped, carrying the two descriptor symbols.
const RuntimeLibraryPath = "libart.so"

// runtimeLibraryDebugPath is the debug-build variant of the runtime
// library, carrying the same two descriptor symbols.
const runtimeLibraryDebugPath = "libartd.so"

// findRuntimeLibrary locates either the release or debug build of the
// runtime library among mappings.
func findRuntimeLibrary(mappings []process.Mapping) (process.Mapping, bool) {
	if m, ok := process.FindByPathSuffix(mappings, RuntimeLibraryPath); ok {
		return *m, true
	}
	m, ok := process.FindByPathSuffix(mappings, runtimeLibraryDebugPath)
	if !ok {
		return process.Mapping{}, false
	}
	return *m, true
}

// isRuntimeLibraryFilename reports whether filename names either build
// of the runtime library, the same check the mmap/mmap2 trigger applies
// before marking a pid runtime-present.
func isRuntimeLibraryFilename(filename string) bool {
	return strings.HasSuffix(filename, RuntimeLibraryPath) ||
		strings.HasSuffix(filename, runtimeLibraryDebugPath)
}

// Callback is invoked once per resolved debug-info record. Returning
// false stops the reader.
type Callback func(DebugInfo) bool

// Reader is the top-level orchestrator: it owns one ProcessRegistry, ticks
// it periodically via libpf/periodiccaller, and resolves newly observed
// code entries into DebugInfo records for Callback.
type Reader struct {
	cfg Config

	mu       sync.Mutex
	registry *ProcessRegistry
	locator  *DescriptorLocator
	opener   ElfOpener
	apks     *apkreader.Reader
	dex      *DexEntryResolver
	queue    *DeliveryQueue
	metrics  Metrics

	callback Callback
	ticker   *periodiccaller.Ticker

	zygoteScratch *scratchfile.Artifact
	appScratch    map[libpf.PID]*scratchfile.Artifact
}

// NewReader builds a Reader around cfg. dedupSize bounds the emitted-entry
// dedup cache shared across all monitored processes.
func NewReader(cfg Config, dedupSize uint32, callback Callback) (*Reader, error) {
	registry, err := NewProcessRegistry(dedupSize)
	if err != nil {
		return nil, err
	}
	apks, err := apkreader.New(1024)
	if err != nil {
		return nil, err
	}
	opener := NewElfOpener()
	return &Reader{
		cfg:        cfg,
		registry:   registry,
		locator:    NewDescriptorLocator(opener),
		opener:     opener,
		apks:       apks,
		dex:        NewDexEntryResolver(apks),
		queue:      NewDeliveryQueue(),
		callback:   callback,
		appScratch: make(map[libpf.PID]*scratchfile.Artifact),
	}, nil
}

// Start begins periodic ticking at cfg.PollInterval.
func (r *Reader) Start() {
	r.ticker = periodiccaller.Start(r.cfg.PollInterval, r.tick)
}

// Stop halts periodic ticking.
func (r *Reader) Stop() {
	if r.ticker != nil {
		r.ticker.Stop()
	}
}

// Metrics returns a snapshot of the reader's observability counters.
func (r *Reader) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.metrics
	m.ProcessesMonitored = len(r.registry.Active())
	return m
}

// UpdateRecord feeds one external perf-event record into the
// mmap/fork/sample trigger protocol, and, in DeliveryOrdered mode,
// advances the delivery watermark and drains whatever is now releasable
// through the callback.
func (r *Reader) UpdateRecord(rec Record) {
	r.mu.Lock()
	switch rec.Kind {
	case RecordMmap:
		if isRuntimeLibraryFilename(rec.Filename) {
			r.registry.OnMmap(rec.PID)
		}
	case RecordFork:
		r.registry.OnFork(rec.PPID, rec.PID)
	case RecordSample:
		prev := r.registry.Get(rec.PID)
		wasProbed := prev != nil && prev.Probed
		if r.registry.OnSample(rec.PID) != nil && !wasProbed && r.ticker != nil {
			// tick leaves the ticker disabled once the registry is empty; a
			// newly probed process turns it back on.
			r.ticker.Enable()
		}
		r.mu.Unlock()
		r.readProcess(rec.PID)
		r.mu.Lock()
	}
	var drained []DebugInfo
	if r.cfg.DeliveryMode == DeliveryOrdered {
		drained = r.queue.Advance(rec.Timestamp)
	}
	r.mu.Unlock()

	r.deliver(drained)
}

// tick runs once per periodiccaller interval: it disables further ticks
// for the duration of the pass (periodiccaller's non-reentrancy rule),
// reads every actively monitored process, and re-enables itself only if
// any process is still tracked once the pass completes.
func (r *Reader) tick() {
	r.ticker.Disable()
	defer func() {
		if r.registry.Len() > 0 {
			r.ticker.Enable()
		}
	}()

	r.mu.Lock()
	active := r.registry.Active()
	r.mu.Unlock()

	for _, rec := range active {
		r.readProcess(rec.PID)
	}
}

func (r *Reader) readProcess(pid libpf.PID) {
	var drained []DebugInfo
	infos, err := r.readProcessLocked(pid)

	// A cross-process read returning short marks the record died; drop it
	// from the registry here so it stops being scanned next tick and so
	// Len() can reach zero once every process it tracked has exited.
	r.mu.Lock()
	if rec := r.registry.Get(pid); rec != nil && rec.Died {
		r.registry.Drop(pid)
	}
	r.mu.Unlock()

	if err != nil {
		if err == ErrScratchWriteFailed {
			log.WithError(err).WithField("pid", pid).Error("jitdebug: stopping reader")
			r.Stop()
			return
		}
		log.WithError(err).WithField("pid", pid).Debug("jitdebug: read failed")
		return
	}
	if len(infos) == 0 {
		return
	}

	r.mu.Lock()
	if r.cfg.DeliveryMode == DeliveryImmediate {
		drained = infos
	} else {
		for _, info := range infos {
			r.queue.Push(info)
		}
	}
	r.mu.Unlock()

	r.deliver(drained)
}

func (r *Reader) deliver(infos []DebugInfo) {
	for _, info := range infos {
		if !r.callback(info) {
			r.Stop()
			return
		}
	}
}

func (r *Reader) readProcessLocked(pid libpf.PID) ([]DebugInfo, error) {
	r.mu.Lock()
	rec := r.registry.Get(pid)
	r.mu.Unlock()
	if rec == nil {
		return nil, ErrTargetGone
	}

	mappings, _, err := process.GetMappings(pid)
	if err != nil {
		r.mu.Lock()
		r.registry.MarkDied(pid)
		r.mu.Unlock()
		return nil, err
	}

	if !rec.Initialized {
		if err := r.initProcess(rec, mappings); err != nil {
			return nil, err
		}
	}
	rec.ZygoteRanges = zygoteRanges(mappings)

	mem := remotememory.New(pid)
	snapper := NewDescriptorSnapshotter(mem)
	jitSnap, dexSnap, err := snapper.Snapshot(rec.Is64Bit, rec.JITDescriptorAddr, rec.DEXDescriptorAddr)
	if err != nil {
		r.mu.Lock()
		r.registry.MarkDied(pid)
		r.mu.Unlock()
		return nil, err
	}

	// JIT and DEX are read independently: a broken or racing JIT list must
	// not cost this tick its DEX infos, and vice versa. Each branch's
	// error is classified on its own; only a genuinely fatal one aborts
	// the process read, and even then whatever the other branch already
	// gathered is still returned.
	var infos []DebugInfo
	var fatal error
	if jitSnap != nil {
		got, err := r.readDescriptor(pid, rec, mem, mappings, jitSnap, &rec.LastJIT)
		infos = append(infos, got...)
		if e := r.classifyDescriptorErr(pid, err); e != nil {
			fatal = e
		}
	}
	if dexSnap != nil {
		got, err := r.readDescriptor(pid, rec, mem, mappings, dexSnap, &rec.LastDEX)
		infos = append(infos, got...)
		if e := r.classifyDescriptorErr(pid, err); e != nil {
			fatal = e
		}
	}
	if fatal != nil {
		return infos, fatal
	}
	return infos, nil
}

// classifyDescriptorErr interprets a per-descriptor error for the
// process-level read. ErrTargetGone means the process went away mid-read:
// it marks the record died, so readProcess drops it once this read
// returns, but does not abort
// this tick. ErrScratchWriteFailed is the one error that must stop the
// reader; every other descriptor-scoped error (ErrBrokenList,
// ErrRaceDetected, a recheck failure) only means skip this descriptor and
// retry next tick, so it is swallowed here.
func (r *Reader) classifyDescriptorErr(pid libpf.PID, err error) error {
	switch err {
	case nil:
		return nil
	case ErrTargetGone:
		r.mu.Lock()
		r.registry.MarkDied(pid)
		r.mu.Unlock()
		return nil
	case ErrScratchWriteFailed:
		return err
	default:
		return nil
	}
}

func (r *Reader) initProcess(rec *ProcessRecord, mappings []process.Mapping) error {
	mapping, ok := findRuntimeLibrary(mappings)
	if !ok {
		return ErrRuntimeLibraryMissing
	}
	elfFile, err := r.opener.OpenFile(mapping.Path)
	if err != nil {
		return err
	}
	rec.Is64Bit = elfFile.IsELF64()
	elfFile.Close()

	jitAddr, dexAddr, err := r.locator.Locate(mappings, mapping.Path)
	if err != nil {
		return err
	}
	rec.JITDescriptorAddr = jitAddr
	rec.DEXDescriptorAddr = dexAddr
	rec.Initialized = true
	return nil
}

// readDescriptor walks one descriptor's entry list if it is stable and
// has mutated since last observed, resolves every new entry, and applies
// the post-walk re-check before updating *last.
func (r *Reader) readDescriptor(pid libpf.PID, rec *ProcessRecord, mem remotememory.RemoteMemory,
	mappings []process.Mapping, cur *DescriptorSnapshot, last **DescriptorSnapshot,
) ([]DebugInfo, error) {
	if !cur.Stable() {
		return nil, nil
	}
	prior := *last
	if prior != nil && prior.ActionSeqlock == cur.ActionSeqlock {
		return nil, nil
	}

	var priorSeqlock uint32
	var cutoffTS int64
	if prior != nil {
		priorSeqlock = prior.ActionSeqlock
		cutoffTS = prior.ActionTime
	}

	walker := NewEntryListWalker(mem)
	entries, err := walker.Walk(rec.Is64Bit, cur.Version, cur.FirstEntry, cutoffTS,
		priorSeqlock, cur.ActionSeqlock)
	if err != nil {
		if err == ErrBrokenList {
			r.mu.Lock()
			r.metrics.WalksAborted++
			r.mu.Unlock()
		}
		return nil, err
	}

	snapper := NewDescriptorSnapshotter(mem)
	var recheck *DescriptorSnapshot
	if cur.Kind == DescriptorJIT {
		recheck, _, err = snapper.Snapshot(rec.Is64Bit, rec.JITDescriptorAddr, 0)
	} else {
		_, recheck, err = snapper.Snapshot(rec.Is64Bit, 0, rec.DEXDescriptorAddr)
	}
	if err != nil {
		return nil, err
	}
	if recheck == nil || recheck.ActionSeqlock != cur.ActionSeqlock {
		r.mu.Lock()
		r.metrics.RaceDetected++
		r.mu.Unlock()
		return nil, ErrRaceDetected
	}

	infos, err := r.resolveEntries(pid, rec, mem, mappings, cur.Kind, entries)
	if err != nil {
		return infos, err
	}
	*last = cur
	return infos, nil
}

// resolveEntries turns entries into DebugInfo records. Every per-entry
// failure (no containing mapping, a non-ELF or oversized symfile, a dex
// mapping that isn't disk-backed) is scoped to that one entry and simply
// skips it. A scratch write failure is the one exception: it is fatal,
// so resolveEntries stops immediately and returns it to the caller.
func (r *Reader) resolveEntries(pid libpf.PID, rec *ProcessRecord, mem remotememory.RemoteMemory,
	mappings []process.Mapping, kind DescriptorKind, entries []CodeEntry,
) ([]DebugInfo, error) {
	ingestor := NewJITSymfileIngestor(mem, r.opener, &r.metrics)

	var infos []DebugInfo
	for _, entry := range entries {
		r.mu.Lock()
		shouldEmit := r.registry.ShouldEmit(pid, entry.Addr, int64(entry.RegisterTS))
		if shouldEmit {
			r.metrics.EntriesEmitted++
		}
		r.mu.Unlock()
		if !shouldEmit {
			continue
		}

		switch kind {
		case DescriptorJIT:
			scratch, err := r.scratchFor(pid, rec, entry)
			if err != nil {
				continue
			}
			jitInfos, err := ingestor.Ingest(entry, scratch, r.cfg.SymfileMode)
			if err != nil {
				if err == ErrScratchWriteFailed {
					return infos, err
				}
				continue
			}
			for _, ji := range jitInfos {
				info := ji
				infos = append(infos, DebugInfo{
					PID:       pid,
					Timestamp: int64(entry.RegisterTS),
					JIT:       &info,
				})
			}
		case DescriptorDEX:
			dexInfo, err := r.dex.Resolve(mappings, entry)
			if err != nil {
				continue
			}
			infos = append(infos, DebugInfo{
				PID:       pid,
				Timestamp: int64(entry.RegisterTS),
				Dex:       dexInfo,
			})
		}
	}
	return infos, nil
}

func (r *Reader) scratchFor(pid libpf.PID, rec *ProcessRecord, entry CodeEntry) (*scratchfile.Artifact, error) {
	for _, zr := range rec.ZygoteRanges {
		if zr.Contains(entry.SymfileAddr) {
			return r.zygoteArtifact()
		}
	}
	r.mu.Lock()
	a, ok := r.appScratch[pid]
	r.mu.Unlock()
	if ok {
		return a, nil
	}
	a, err := scratchfile.Create(r.cfg.ScratchPrefix, scratchfile.KindApp, pid)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.appScratch[pid] = a
	r.mu.Unlock()
	return a, nil
}

func (r *Reader) zygoteArtifact() (*scratchfile.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.zygoteScratch != nil {
		return r.zygoteScratch, nil
	}
	a, err := scratchfile.Create(r.cfg.ScratchPrefix, scratchfile.KindZygote, 0)
	if err != nil {
		return nil, err
	}
	r.zygoteScratch = a
	return a, nil
}

// zygoteRanges derives the zygote-inherited JIT cache address ranges from
// the process's current mappings, so entries inside them are attributed
// to the shared zygote scratch artifact rather than the per-app one.
func zygoteRanges(mappings []process.Mapping) []AddrRange {
	var ranges []AddrRange
	for i := range mappings {
		if mappings[i].IsZygoteJITCache() {
			ranges = append(ranges, AddrRange{
				Start: libpf.Address(mappings[i].Vaddr),
				End:   libpf.Address(mappings[i].End()),
			})
		}
	}
	return ranges
}
