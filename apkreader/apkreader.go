// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package apkreader resolves dex code embedded in an APK's uncompressed
// zip entries, so that a mapping produced by ART's in-memory dex
// extraction (an anonymous mapping carrying a
// "[anon:dalvik-classes.dex extracted in memory from <apk>]" label) can be
// reported back as "<apk>!/<entry>" with its containing byte range.
package apkreader // import "github.com/android-la64/platform-system-extras/apkreader"

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"strings"
	"syscall"

	lru "github.com/elastic/go-freelru"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
)

// OnDiskFileIdentifier identifies an APK by the device and inode it is
// stored under, so a renamed-but-unchanged file still hits the cache and
// a reused inode on a replaced file does not serve stale data (LastModified
// is checked on every lookup).
type OnDiskFileIdentifier struct {
	Device uint64
	Inode  uint64
}

// Hash32 is the hash callback go-freelru requires to key its cache.
func (id OnDiskFileIdentifier) Hash32() uint32 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], id.Device)
	binary.LittleEndian.PutUint64(buf[8:16], id.Inode)
	return uint32(xxh3.Hash(buf[:]))
}

type fileInfo struct {
	Name   string
	Offset uint64
	Size   uint64
}

type apkInfo struct {
	Files        []fileInfo
	Device       uint64
	Inode        uint64
	LastModified int64
}

// Reader resolves offsets inside an APK's central directory, caching
// parsed zip directories by on-disk file identity.
type Reader struct {
	cache *lru.SyncedLRU[OnDiskFileIdentifier, apkInfo]
}

// New returns a Reader whose zip-directory cache holds up to cacheSize
// entries.
func New(cacheSize uint32) (*Reader, error) {
	cache, err := lru.NewSynced[OnDiskFileIdentifier, apkInfo](cacheSize, OnDiskFileIdentifier.Hash32)
	if err != nil {
		return nil, fmt.Errorf("creating apk directory cache: %w", err)
	}
	return &Reader{cache: cache}, nil
}

// IsApkPath reports whether path names an APK file.
func IsApkPath(path string) bool {
	return strings.HasSuffix(path, ".apk")
}

func (r *Reader) getApkInfo(path string) (*apkInfo, error) {
	st, err := statFile(path)
	if err != nil {
		return nil, err
	}

	key := OnDiskFileIdentifier{Device: st.device, Inode: st.inode}
	if v, ok := r.cache.Get(key); ok {
		if v.Device == st.device && v.Inode == st.inode && v.LastModified == st.modTime {
			return &v, nil
		}
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening apk %s: %w", path, err)
	}
	defer zr.Close()

	info := apkInfo{Device: st.device, Inode: st.inode, LastModified: st.modTime}
	for _, f := range zr.File {
		if f.Method != zip.Store {
			// Only uncompressed (stored) entries have contiguous bytes in
			// the apk that a memory-mapped dex extraction can point at.
			continue
		}
		offset, err := f.DataOffset()
		if err != nil {
			return nil, err
		}
		info.Files = append(info.Files, fileInfo{
			Name:   f.Name,
			Offset: uint64(offset),
			Size:   f.UncompressedSize64,
		})
	}
	r.cache.Add(key, info)
	return &info, nil
}

// Resolve finds the zip entry covering offset within the uncompressed apk
// at path, returning a synthetic "<apk>!/<entry>" URL and the entry's byte
// range within the file. The empty string is returned if path is not an
// apk or offset falls outside any stored entry.
func (r *Reader) Resolve(path string, offset uint64) (url string, entryOffset, entrySize uint64) {
	if !IsApkPath(path) {
		return "", 0, 0
	}
	info, err := r.getApkInfo(path)
	if err != nil {
		logrus.Debugf("apkreader: could not read %s: %v", path, err)
		return "", 0, 0
	}
	for _, f := range info.Files {
		if offset >= f.Offset && offset < f.Offset+f.Size {
			return path + "!/" + f.Name, f.Offset, f.Size
		}
	}
	return "", 0, 0
}

type fileStat struct {
	device  uint64
	inode   uint64
	modTime int64
}

func statFile(path string) (fileStat, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return fileStat{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return fileStat{
		device:  uint64(st.Dev),
		inode:   st.Ino,
		modTime: st.Mtim.Nano(),
	}, nil
}
