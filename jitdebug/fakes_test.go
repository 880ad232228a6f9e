// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug

import (
	"errors"

	"github.com/android-la64/platform-system-extras/libpf"
)

// fakeMemory is a RemoteReader backed by an in-memory, address-keyed byte
// map, standing in for a real target's address space in tests.
type fakeMemory struct {
	regions map[libpf.Address][]byte
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{regions: make(map[libpf.Address][]byte)}
}

func (m *fakeMemory) put(addr libpf.Address, data []byte) {
	m.regions[addr] = data
}

func (m *fakeMemory) Read(addr libpf.Address, dst []byte) error {
	data, ok := m.regions[addr]
	if !ok || len(data) < len(dst) {
		return errors.New("fakeMemory: short or missing read")
	}
	copy(dst, data[:len(dst)])
	return nil
}

func (m *fakeMemory) ReadVector(addrs [2]libpf.Address, dsts [2][]byte) error {
	for i := range addrs {
		if len(dsts[i]) == 0 {
			continue
		}
		if err := m.Read(addrs[i], dsts[i]); err != nil {
			return err
		}
	}
	return nil
}
