// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotememory provides access to the memory space of another
// process via process_vm_readv.
package remotememory // import "github.com/android-la64/platform-system-extras/libpf/remotememory"

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/android-la64/platform-system-extras/libpf"
)

// RemoteMemory accesses the memory space of a single target process.
type RemoteMemory struct {
	pid libpf.PID
}

// New returns a RemoteMemory accessor for the given target pid.
func New(pid libpf.PID) RemoteMemory {
	return RemoteMemory{pid: pid}
}

// Read fills dst with len(dst) bytes from the target's address space
// starting at addr. It returns an error unless every byte was transferred;
// a short read means the target has exited.
func (rm RemoteMemory) Read(addr libpf.Address, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	localIov := []unix.Iovec{{Base: &dst[0], Len: uint64(len(dst))}}
	remoteIov := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(dst)}}
	n, err := unix.ProcessVMReadv(int(rm.pid), localIov, remoteIov, 0)
	if err != nil {
		return fmt.Errorf("process_vm_readv pid %d at 0x%x: %w", rm.pid, addr, err)
	}
	if n != len(dst) {
		return fmt.Errorf("process_vm_readv pid %d at 0x%x: short read %d of %d",
			rm.pid, addr, n, len(dst))
	}
	return nil
}

// ReadVector performs a single process_vm_readv call transferring two
// disjoint remote ranges into two local buffers. It is used to read the
// JIT and DEX descriptors together in one syscall.
func (rm RemoteMemory) ReadVector(addrs [2]libpf.Address, dsts [2][]byte) error {
	total := len(dsts[0]) + len(dsts[1])
	if total == 0 {
		return nil
	}
	localIov := make([]unix.Iovec, 0, 2)
	remoteIov := make([]unix.RemoteIovec, 0, 2)
	for i := range dsts {
		if len(dsts[i]) == 0 {
			continue
		}
		localIov = append(localIov, unix.Iovec{Base: &dsts[i][0], Len: uint64(len(dsts[i]))})
		remoteIov = append(remoteIov, unix.RemoteIovec{Base: uintptr(addrs[i]), Len: len(dsts[i])})
	}
	n, err := unix.ProcessVMReadv(int(rm.pid), localIov, remoteIov, 0)
	if err != nil {
		return fmt.Errorf("process_vm_readv(vector) pid %d: %w", rm.pid, err)
	}
	if n != total {
		return fmt.Errorf("process_vm_readv(vector) pid %d: short read %d of %d",
			rm.pid, n, total)
	}
	return nil
}

// Uint32 reads a little-endian 32-bit unsigned integer, returning 0 on error.
func (rm RemoteMemory) Uint32(addr libpf.Address) uint32 {
	var buf [4]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// Uint64 reads a little-endian 64-bit unsigned integer, returning 0 on error.
func (rm RemoteMemory) Uint64(addr libpf.Address) uint64 {
	var buf [8]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(buf[:])
}
