// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import (
	"os"
	"regexp"

	"github.com/android-la64/platform-system-extras/apkreader"
	"github.com/android-la64/platform-system-extras/process"
)

// apkExtractedLabel matches the synthetic path ART gives an anonymous
// mapping it fills by extracting one dex entry out of an APK's zip
// central directory in memory.
var apkExtractedLabel = regexp.MustCompile(`^\[anon:dalvik-classes\.dex extracted in memory from (.+)\]$`)

// DexEntryResolver turns a DEX descriptor's code entry into a DexInfo,
// resolving the mapping that contains the entry's symfile address and,
// when that mapping is an in-memory apk-extracted dex blob, the apk entry
// it was extracted from.
type DexEntryResolver struct {
	apks *apkreader.Reader
}

// NewDexEntryResolver returns a resolver backed by apks for apk-embedded
// dex lookups.
func NewDexEntryResolver(apks *apkreader.Reader) *DexEntryResolver {
	return &DexEntryResolver{apks: apks}
}

// Resolve finds the mapping containing entry's symfile address among
// mappings and builds the DexInfo it belongs to.
func (r *DexEntryResolver) Resolve(mappings []process.Mapping, entry CodeEntry) (*DexInfo, error) {
	mapping, ok := process.FindContaining(mappings, entry.SymfileAddr)
	if !ok {
		return nil, ErrBrokenList
	}

	offset := uint64(entry.SymfileAddr) - mapping.Vaddr + mapping.FileOffset

	if m := apkExtractedLabel.FindStringSubmatch(mapping.Path); m != nil {
		apkPath := m[1]
		if url, entryOff, entrySize := r.apks.Resolve(apkPath, offset); url != "" {
			relOffset := offset - entryOff
			_ = entrySize
			return &DexInfo{
				Path:               url,
				Offset:             relOffset,
				ExtractedFromApk:   true,
				MappingDescription: mapping.Path,
			}, nil
		}
	}

	if !isRegularFile(mapping.Path) {
		return nil, ErrDexNotRegularFile
	}

	return &DexInfo{
		Path:               mapping.Path,
		Offset:             offset,
		ExtractedFromApk:   false,
		MappingDescription: mapping.Path,
	}, nil
}

// isRegularFile reports whether path names a regular file on disk,
// excluding anonymous mappings (e.g. "[heap]", "[anon:...]") and other
// non-file-backed mappings a dex entry must never be resolved against.
func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
