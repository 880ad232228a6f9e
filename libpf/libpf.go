// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package libpf holds the small set of value types shared across the
// remote-memory, ELF and jitdebug packages.
package libpf // import "github.com/android-la64/platform-system-extras/libpf"

// Address represents a virtual address, or an offset, in a target process.
type Address uintptr

// PID represents a Unix process ID (pid_t).
type PID uint32

// Void is used as value type for Set[K] below.
type Void struct{}

// Set is a convenience alias for a map used as a set.
type Set[K comparable] map[K]Void
