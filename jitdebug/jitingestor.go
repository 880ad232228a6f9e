// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import (
	"github.com/android-la64/platform-system-extras/libpf"
	"github.com/android-la64/platform-system-extras/libpf/pfelf"
)

// maxSymfileSize bounds how large a single JIT-generated ELF symfile this
// reader will fetch and parse; ART never emits anything close to this for
// one compiled method, so anything larger signals a descriptor read that
// landed on garbage.
const maxSymfileSize = 1 << 20

// JITSymfileIngestor fetches one code entry's symfile bytes out of the
// target's address space, appends them to the appropriate scratch
// artifact, and parses the resulting ELF image for symbol names.
type JITSymfileIngestor struct {
	reader  RemoteReader
	opener  ElfOpener
	metrics *Metrics
}

// NewJITSymfileIngestor returns an ingestor backed by reader and opener.
func NewJITSymfileIngestor(reader RemoteReader, opener ElfOpener, metrics *Metrics) *JITSymfileIngestor {
	return &JITSymfileIngestor{reader: reader, opener: opener, metrics: metrics}
}

// Ingest reads entry's symfile, then either appends it to scratch
// (SymfileRetain) or discards the bytes while still advancing scratch's
// offset bookkeeping (SymfileDrop) so every JITInfo still carries a
// stable ScratchURL/ScratchOffset either way, parses it as an ELF image,
// and returns one JITInfo per non-empty symbol it contains. A symfile
// over maxSymfileSize is skipped silently, counted in
// Metrics.SymfilesSkippedTooLarge, not reported as an error — a single
// oversized entry must not abort the whole walk.
func (ing *JITSymfileIngestor) Ingest(entry CodeEntry, scratch ScratchArtifact, mode SymfileMode,
) ([]JITInfo, error) {
	if entry.SymfileSize == 0 {
		return nil, nil
	}
	if entry.SymfileSize > maxSymfileSize {
		if ing.metrics != nil {
			ing.metrics.SymfilesSkippedTooLarge++
		}
		return nil, nil
	}

	data := make([]byte, entry.SymfileSize)
	if err := ing.reader.Read(entry.SymfileAddr, data); err != nil {
		return nil, ErrTargetGone
	}
	if !pfelf.IsValidMagic(data) {
		return nil, nil
	}

	var scratchURL string
	var scratchOffset int64
	var scratchErr error
	if mode == SymfileDrop {
		scratchURL, scratchOffset, scratchErr = scratch.Discard(int64(entry.SymfileSize))
	} else {
		scratchURL, scratchOffset, scratchErr = scratch.Append(data)
	}
	if scratchErr != nil {
		return nil, ErrScratchWriteFailed
	}

	elfFile, err := ing.opener.OpenBytes(data)
	if err != nil {
		return nil, nil
	}
	defer elfFile.Close()

	symbols, err := elfFile.ReadSymbols()
	if err != nil {
		return nil, nil
	}

	all := symbols.All()
	infos := make([]JITInfo, 0, len(all))
	for _, sym := range all {
		if sym.Size == 0 {
			continue
		}
		infos = append(infos, JITInfo{
			CodeAddr:      libpf.Address(sym.Address),
			CodeLength:    sym.Size,
			SymbolName:    string(sym.Name),
			ScratchURL:    scratchURL,
			ScratchOffset: scratchOffset,
		})
	}
	return infos, nil
}
