// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package scratchfile

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/android-la64/platform-system-extras/libpf"
)

func TestAppendReturnsByteRangeURL(t *testing.T) {
	dir := t.TempDir()
	a, err := Create(dir+"/", KindApp, libpf.PID(1234))
	require.NoError(t, err)
	defer a.Remove()

	url1, off1, err := a.Append([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s:0-5", a.Path()), url1)
	assert.EqualValues(t, 0, off1)

	url2, off2, err := a.Append([]byte("world!"))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s:5-11", a.Path()), url2)
	assert.EqualValues(t, 5, off2)

	require.NoError(t, a.Sync())
	data, err := os.ReadFile(a.Path())
	require.NoError(t, err)
	assert.Equal(t, "helloworld!", string(data))
}

func TestTwoArtifactsDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	a, err := Create(dir+"/", KindZygote, libpf.PID(1))
	require.NoError(t, err)
	defer a.Remove()

	b, err := Create(dir+"/", KindZygote, libpf.PID(1))
	require.NoError(t, err)
	defer b.Remove()

	assert.NotEqual(t, a.Path(), b.Path())
}

func TestRemoveDeletesFile(t *testing.T) {
	dir := t.TempDir()
	a, err := Create(dir+"/", KindApp, libpf.PID(42))
	require.NoError(t, err)
	path := a.Path()
	require.NoError(t, a.Remove())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "app", KindApp.String())
	assert.Equal(t, "zygote", KindZygote.String())
}
