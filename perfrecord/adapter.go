// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package perfrecord // import "github.com/android-la64/platform-system-extras/perfrecord"

import (
	"github.com/android-la64/platform-system-extras/jitdebug"
	"github.com/android-la64/platform-system-extras/libpf"
)

// ToJITRecord adapts one decoded Record into the jitdebug.Record view
// the reader's trigger protocol consumes, mirroring
// JITDebugReader::UpdateRecord's dispatch exactly: mmap/mmap2 carry a
// filename jitdebug checks against the runtime library name, fork
// carries parent/child pids, sample carries the pid that triggered an
// immediate read. ok is false for every other record type and no
// jitdebug.Record is produced for it, so such a record does not advance
// jitdebug's ordered-delivery watermark.
func ToJITRecord(rec *Record) (jitdebug.Record, bool) {
	switch rec.Type {
	case TypeMmap:
		return jitdebug.Record{
			Kind:      jitdebug.RecordMmap,
			PID:       libpf.PID(rec.Mmap.PID),
			Filename:  rec.Mmap.Filename,
			Timestamp: rec.Timestamp,
		}, true
	case TypeMmap2:
		return jitdebug.Record{
			Kind:      jitdebug.RecordMmap,
			PID:       libpf.PID(rec.Mmap2.PID),
			Filename:  rec.Mmap2.Filename,
			Timestamp: rec.Timestamp,
		}, true
	case TypeFork:
		return jitdebug.Record{
			Kind:      jitdebug.RecordFork,
			PID:       libpf.PID(rec.Fork.PID),
			PPID:      libpf.PID(rec.Fork.PPID),
			Timestamp: rec.Timestamp,
		}, true
	case TypeSample:
		return jitdebug.Record{
			Kind:      jitdebug.RecordSample,
			PID:       libpf.PID(rec.Sample.PID),
			Timestamp: rec.Timestamp,
		}, true
	default:
		return jitdebug.Record{}, false
	}
}
