// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package scratchfile manages the on-disk append-only artifacts that
// JITSymfileIngestor writes JIT-generated ELF symfiles into. Each append
// is reported back as a "<path>:<start>-<end>" URL so a later consumer can
// reopen the file and read back exactly the bytes that belong to one
// symfile, without the ingestor having to split files per entry.
package scratchfile // import "github.com/android-la64/platform-system-extras/scratchfile"

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/android-la64/platform-system-extras/libpf"
)

// Kind distinguishes the Zygote-shared JIT cache from a per-app JIT cache:
// entries originating from the zygote's shared memfd are written to a
// scratch file shared across every forked app, while entries private to
// one app go to a file scoped to that pid.
type Kind int

const (
	KindApp Kind = iota
	KindZygote
)

func (k Kind) String() string {
	if k == KindZygote {
		return "zygote"
	}
	return "app"
}

// Artifact is a single append-only scratch file backing JIT symfile
// ingestion for one process (KindApp) or shared across the processes
// forked from one zygote (KindZygote).
type Artifact struct {
	file   *os.File
	path   string
	offset int64
}

// Create opens a new scratch file under prefix, named uniquely by kind,
// pid and a random suffix so concurrently monitored processes, and
// restarts of this reader against the same prefix, never collide.
func Create(prefix string, kind Kind, pid libpf.PID) (*Artifact, error) {
	name := fmt.Sprintf("%sjitdebug-%s-%d-%s", prefix, kind, pid, uuid.NewString())
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating scratch file %s: %w", name, err)
	}
	return &Artifact{file: f, path: name}, nil
}

// Path returns the scratch file's path on disk.
func (a *Artifact) Path() string {
	return a.path
}

// Append writes data at the end of the artifact and returns a
// "<path>:<start>-<end>" URL identifying exactly the bytes just written,
// along with start itself.
func (a *Artifact) Append(data []byte) (url string, offset int64, err error) {
	n, err := a.file.Write(data)
	if err != nil {
		return "", 0, fmt.Errorf("appending to scratch file %s: %w", a.path, err)
	}
	start := a.offset
	a.offset += int64(n)
	return fmt.Sprintf("%s:%d-%d", a.path, start, a.offset), start, nil
}

// Discard advances the artifact's offset by n bytes without writing
// anything, returning the same "<path>:<start>-<end>" URL shape and start
// offset Append would have produced. It lets a caller that doesn't want
// to retain symfile bytes still hand out a stable byte-range identifier,
// keeping offsets consistent with what a retaining run would have
// recorded.
func (a *Artifact) Discard(n int64) (url string, offset int64, err error) {
	start := a.offset
	a.offset += n
	return fmt.Sprintf("%s:%d-%d", a.path, start, a.offset), start, nil
}

// Sync flushes buffered writes to disk, so a consumer reopening the file
// by the URL Append returned is guaranteed to see the bytes.
func (a *Artifact) Sync() error {
	return a.file.Sync()
}

// Close closes the underlying file. The file itself is left on disk;
// the caller owns its retain-vs-remove lifetime policy.
func (a *Artifact) Close() error {
	return a.file.Close()
}

// Remove closes and deletes the scratch file, for callers that decide to
// drop an artifact's bytes rather than retain them (e.g. a process that
// exited before any entry was durably delivered).
func (a *Artifact) Remove() error {
	_ = a.file.Close()
	return os.Remove(a.path)
}
