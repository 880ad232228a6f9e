// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package process parses /proc/<pid>/maps for the executable mappings the
// descriptor locator and dex resolver need: the target runtime's shared
// library, and any apk-backed dex mappings.
package process // import "github.com/android-la64/platform-system-extras/process"

import (
	"bufio"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/android-la64/platform-system-extras/libpf"
)

// ErrNoMappings is returned when no mappings could be extracted for a pid.
var ErrNoMappings = errors.New("no mappings")

// zygoteJITCacheMmapPrefix names the shared-memory region ART's zygote uses
// to mmap a JIT code cache inherited by forked app processes.
const zygoteJITCacheMmapPrefix = "/memfd:jit-zygote-cache"

// Mapping describes one /proc/<pid>/maps line that survived the
// readable-or-executable filter.
type Mapping struct {
	Vaddr      uint64
	Length     uint64
	Flags      elf.ProgFlag
	FileOffset uint64
	Device     uint64
	Inode      uint64
	Path       string
}

// End returns the exclusive end address of the mapping.
func (m *Mapping) End() uint64 {
	return m.Vaddr + m.Length
}

// Contains reports whether addr falls within this mapping's address range.
func (m *Mapping) Contains(addr libpf.Address) bool {
	a := uint64(addr)
	return a >= m.Vaddr && a < m.End()
}

// IsAnonymous reports whether this mapping has no backing file.
func (m *Mapping) IsAnonymous() bool {
	return m.Path == ""
}

// IsZygoteJITCache reports whether this mapping is the shared JIT code
// cache memfd inherited from the Zygote, per the supplemental zygote-cache
// detection rule.
func (m *Mapping) IsZygoteJITCache() bool {
	return strings.HasPrefix(m.Path, zygoteJITCacheMmapPrefix)
}

func trimMappingPath(path string) string {
	path = strings.TrimSuffix(path, " (deleted)")
	if path == "/dev/zero" {
		return ""
	}
	return path
}

func parseMappings(mapsFile io.Reader) ([]Mapping, uint32, error) {
	var numParseErrors uint32
	mappings := make([]Mapping, 0, 32)
	scanner := bufio.NewScanner(mapsFile)
	scanner.Buffer(make([]byte, 256), 8192)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			numParseErrors++
			continue
		}
		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			numParseErrors++
			continue
		}
		mapsFlags := fields[1]
		if len(mapsFlags) < 3 {
			numParseErrors++
			continue
		}
		flags := elf.ProgFlag(0)
		if mapsFlags[0] == 'r' {
			flags |= elf.PF_R
		}
		if mapsFlags[1] == 'w' {
			flags |= elf.PF_W
		}
		if mapsFlags[2] == 'x' {
			flags |= elf.PF_X
		}
		if flags&(elf.PF_R|elf.PF_X) == 0 {
			continue
		}

		inode, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			numParseErrors++
			continue
		}

		devs := strings.SplitN(fields[3], ":", 2)
		if len(devs) != 2 {
			numParseErrors++
			continue
		}
		major, err := strconv.ParseUint(devs[0], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}
		minor, err := strconv.ParseUint(devs[1], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}
		device := major<<8 + minor

		var path string
		if inode == 0 {
			if len(fields) >= 6 && fields[5] != "" {
				// Anonymous mapping carrying a synthetic label, e.g.
				// "[anon:dalvik-classes.dex extracted in memory from ...]".
				path = strings.Join(fields[5:], " ")
			}
		} else if len(fields) >= 6 {
			path = trimMappingPath(strings.Join(fields[5:], " "))
		}

		vaddr, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}
		vend, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}
		fileOffset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}

		mappings = append(mappings, Mapping{
			Vaddr:      vaddr,
			Length:     vend - vaddr,
			Flags:      flags,
			FileOffset: fileOffset,
			Device:     device,
			Inode:      inode,
			Path:       path,
		})
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].Vaddr < mappings[j].Vaddr })
	return mappings, numParseErrors, scanner.Err()
}

// GetMappings reads and parses /proc/<pid>/maps.
func GetMappings(pid libpf.PID) ([]Mapping, uint32, error) {
	mapsFile, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, 0, err
	}
	defer mapsFile.Close()

	mappings, numParseErrors, err := parseMappings(mapsFile)
	if err != nil {
		return mappings, numParseErrors, err
	}
	if len(mappings) == 0 {
		return mappings, numParseErrors, ErrNoMappings
	}
	return mappings, numParseErrors, nil
}

// FindByPathSuffix returns the first mapping whose Path ends with suffix,
// used to locate the target runtime's shared library among all mappings.
func FindByPathSuffix(mappings []Mapping, suffix string) (*Mapping, bool) {
	for i := range mappings {
		if strings.HasSuffix(mappings[i].Path, suffix) {
			return &mappings[i], true
		}
	}
	return nil, false
}

// FindContaining returns the mapping containing addr, using a binary search
// over mappings sorted by Vaddr (as returned by GetMappings).
func FindContaining(mappings []Mapping, addr libpf.Address) (*Mapping, bool) {
	a := uint64(addr)
	i := sort.Search(len(mappings), func(i int) bool { return mappings[i].Vaddr > a })
	if i == 0 {
		return nil, false
	}
	m := &mappings[i-1]
	if !m.Contains(addr) {
		return nil, false
	}
	return m, true
}
