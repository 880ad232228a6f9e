// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import "errors"

// ErrTargetGone is returned when a cross-process read came back short,
// meaning the target has exited.
var ErrTargetGone = errors.New("jitdebug: target process gone")

// ErrInvalidDescriptor is returned when a descriptor fails validation
// (bad magic, size mismatch, unknown version).
var ErrInvalidDescriptor = errors.New("jitdebug: invalid descriptor")

// ErrBrokenList is returned when the entry list fails a consistency check
// (back-pointer mismatch, cycle, malformed entry fields).
var ErrBrokenList = errors.New("jitdebug: broken entry list")

// ErrRaceDetected is returned when the descriptor's seqlock advanced
// between the walk and the post-walk re-check.
var ErrRaceDetected = errors.New("jitdebug: race detected during walk")

// ErrRuntimeLibraryMissing is returned when the target's runtime library
// is not yet present in its memory map.
var ErrRuntimeLibraryMissing = errors.New("jitdebug: runtime library not mapped")

// ErrScratchWriteFailed is returned when a scratch artifact append fails.
// Unlike the other sentinels, this is fatal and stops the reader.
var ErrScratchWriteFailed = errors.New("jitdebug: scratch write failed")

// ErrConsumerStopped is returned when the consumer callback returns false.
var ErrConsumerStopped = errors.New("jitdebug: consumer requested stop")

// ErrDexNotRegularFile is returned when a dex entry's containing mapping
// is neither an apk-extracted synthetic mapping nor backed by a regular
// file on disk (an anonymous or otherwise in-memory-only mapping).
var ErrDexNotRegularFile = errors.New("jitdebug: dex mapping not backed by a regular file")
