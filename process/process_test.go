// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"debug/elf"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/android-la64/platform-system-extras/libpf"
)

//nolint:lll
var testMappings = `55fe82710000-55fe8273c000 r--p 00000000 fd:01 1068432                    /apex/com.android.art/lib64/libart.so
55fe8273c000-55fe827be000 r-xp 0002c000 fd:01 1068432                    /apex/com.android.art/lib64/libart.so
7f63c8c3e000-7f63c8de0000 r-xp 00085000 08:01 1048922                    /memfd:jit-zygote-cache (deleted)
7f63c8eef000-7f63c8fdf000 r-xp 0001c000 1fd:01
7fa0b0000000-7fa0b0100000 r-xp 00000000 00:00 0                          [anon:dalvik-classes.dex extracted in memory from /data/app/base.apk]
7f8b929f0000-7f8b92a00000 r-xp 00000000 00:00 0 `

func TestParseMappings(t *testing.T) {
	mappings, numParseErrors, err := parseMappings(strings.NewReader(testMappings))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), numParseErrors)
	require.Len(t, mappings, 5)

	// parseMappings sorts by Vaddr ascending.
	assert.Equal(t, uint64(0x55fe82710000), mappings[0].Vaddr)
	assert.Equal(t, "/apex/com.android.art/lib64/libart.so", mappings[1].Path)
	assert.Equal(t, elf.PF_R|elf.PF_X, mappings[2].Flags)
	assert.True(t, mappings[2].IsZygoteJITCache())
	assert.True(t, mappings[3].IsAnonymous())
	assert.Contains(t, mappings[4].Path, "extracted in memory from")
}

func TestFindByPathSuffix(t *testing.T) {
	mappings, _, err := parseMappings(strings.NewReader(testMappings))
	require.NoError(t, err)

	m, ok := FindByPathSuffix(mappings, "libart.so")
	require.True(t, ok)
	assert.Equal(t, uint64(0x55fe82710000), m.Vaddr)

	_, ok = FindByPathSuffix(mappings, "does-not-exist")
	assert.False(t, ok)
}

func TestFindContaining(t *testing.T) {
	mappings, _, err := parseMappings(strings.NewReader(testMappings))
	require.NoError(t, err)

	m, ok := FindContaining(mappings, libpf.Address(0x55fe82710100))
	require.True(t, ok)
	assert.Equal(t, "/apex/com.android.art/lib64/libart.so", m.Path)

	_, ok = FindContaining(mappings, libpf.Address(1))
	assert.False(t, ok)
}
