// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/android-la64/platform-system-extras/libpf"
)

// fakeElf is an Elf backed by a canned symbol list, for ingestor tests
// that don't need a real ELF parse.
type fakeElf struct {
	is64 bool
	syms *libpf.SymbolMap
}

func (f *fakeElf) IsELF64() bool { return f.is64 }
func (f *fakeElf) LookupSymbolAddress(name libpf.SymbolName) (libpf.SymbolValue, error) {
	return f.syms.LookupSymbolAddress(name)
}
func (f *fakeElf) ReadSymbols() (*libpf.SymbolMap, error) { return f.syms, nil }
func (f *fakeElf) Close() error                           { return nil }

type fakeOpener struct {
	elf *fakeElf
	err error
}

func (o *fakeOpener) OpenFile(path string) (Elf, error) { return o.elf, o.err }
func (o *fakeOpener) OpenBytes(data []byte) (Elf, error) { return o.elf, o.err }

type fakeScratch struct {
	appended  [][]byte
	discarded []int64
	offset    int64
	failNext  bool
}

func (s *fakeScratch) Append(data []byte) (string, int64, error) {
	if s.failNext {
		return "", 0, errors.New("disk full")
	}
	s.appended = append(s.appended, data)
	start := s.offset
	s.offset += int64(len(data))
	return "scratch:0-10", start, nil
}
func (s *fakeScratch) Discard(n int64) (string, int64, error) {
	if s.failNext {
		return "", 0, errors.New("disk full")
	}
	s.discarded = append(s.discarded, n)
	start := s.offset
	s.offset += n
	return "scratch:0-10", start, nil
}
func (s *fakeScratch) Sync() error { return nil }

func symfileWithMagic(n int) []byte {
	data := make([]byte, n)
	copy(data, []byte{0x7f, 'E', 'L', 'F'})
	return data
}

func TestIngestSkipsOversizedSymfile(t *testing.T) {
	metrics := &Metrics{}
	mem := newFakeMemory()
	ing := NewJITSymfileIngestor(mem, &fakeOpener{}, metrics)

	entry := CodeEntry{SymfileAddr: 0x1000, SymfileSize: maxSymfileSize + 1}
	infos, err := ing.Ingest(entry, &fakeScratch{}, SymfileRetain)
	require.NoError(t, err)
	assert.Empty(t, infos)
	assert.EqualValues(t, 1, metrics.SymfilesSkippedTooLarge)
}

func TestIngestRejectsNonELFSymfile(t *testing.T) {
	mem := newFakeMemory()
	mem.put(0x1000, []byte{0, 0, 0, 0})
	ing := NewJITSymfileIngestor(mem, &fakeOpener{}, nil)

	entry := CodeEntry{SymfileAddr: 0x1000, SymfileSize: 4}
	infos, err := ing.Ingest(entry, &fakeScratch{}, SymfileRetain)
	require.NoError(t, err)
	assert.Nil(t, infos)
}

func TestIngestParsesSymbolsAndAppendsScratch(t *testing.T) {
	mem := newFakeMemory()
	mem.put(0x1000, symfileWithMagic(64))

	syms := libpf.NewSymbolMap(1)
	syms.Add(libpf.Symbol{Name: "foo", Address: 0x10, Size: 0x20})
	syms.Finalize()

	opener := &fakeOpener{elf: &fakeElf{syms: syms}}
	scratch := &fakeScratch{}
	ing := NewJITSymfileIngestor(mem, opener, nil)

	entry := CodeEntry{SymfileAddr: 0x1000, SymfileSize: 64}
	infos, err := ing.Ingest(entry, scratch, SymfileRetain)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "foo", infos[0].SymbolName)
	assert.EqualValues(t, 0x10, infos[0].CodeAddr)
	assert.Equal(t, "scratch:0-10", infos[0].ScratchURL)
	assert.Len(t, scratch.appended, 1)
	assert.EqualValues(t, 0, infos[0].ScratchOffset)
}

func TestIngestDropModeDiscardsBytesButTracksOffset(t *testing.T) {
	mem := newFakeMemory()
	mem.put(0x1000, symfileWithMagic(64))

	syms := libpf.NewSymbolMap(1)
	syms.Add(libpf.Symbol{Name: "foo", Address: 0x10, Size: 0x20})
	syms.Finalize()
	opener := &fakeOpener{elf: &fakeElf{syms: syms}}
	scratch := &fakeScratch{}
	ing := NewJITSymfileIngestor(mem, opener, nil)

	entry := CodeEntry{SymfileAddr: 0x1000, SymfileSize: 64}
	infos, err := ing.Ingest(entry, scratch, SymfileDrop)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Empty(t, scratch.appended)
	assert.Equal(t, []int64{64}, scratch.discarded)
	assert.Equal(t, "scratch:0-10", infos[0].ScratchURL)
	// The artifact was empty before this discard, so the pre-write offset
	// is 0, not the symfile's size.
	assert.EqualValues(t, 0, infos[0].ScratchOffset)

	// A second entry lands after the first discard's bytes.
	infos2, err := ing.Ingest(entry, scratch, SymfileDrop)
	require.NoError(t, err)
	require.Len(t, infos2, 1)
	assert.EqualValues(t, 64, infos2[0].ScratchOffset)
}

func TestIngestPropagatesShortReadAsTargetGone(t *testing.T) {
	mem := newFakeMemory()
	ing := NewJITSymfileIngestor(mem, &fakeOpener{}, nil)

	entry := CodeEntry{SymfileAddr: 0xdead, SymfileSize: 16}
	_, err := ing.Ingest(entry, &fakeScratch{}, SymfileRetain)
	assert.ErrorIs(t, err, ErrTargetGone)
}
