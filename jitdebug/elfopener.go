// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import (
	"bytes"

	"github.com/android-la64/platform-system-extras/libpf/pfelf"
)

// pfelfOpener adapts libpf/pfelf to the ElfOpener interface.
type pfelfOpener struct{}

// NewElfOpener returns the default ElfOpener, backed by libpf/pfelf.
func NewElfOpener() ElfOpener {
	return pfelfOpener{}
}

func (pfelfOpener) OpenFile(path string) (Elf, error) {
	return pfelf.Open(path)
}

func (pfelfOpener) OpenBytes(data []byte) (Elf, error) {
	return pfelf.NewFile(bytes.NewReader(data))
}
