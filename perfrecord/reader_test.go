// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package perfrecord

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// padFilename returns name NUL-terminated and padded to an 8-byte
// boundary, matching the kernel's mmap/mmap2 record encoding.
func padFilename(name string) []byte {
	b := append([]byte(name), 0)
	for len(b)%8 != 0 {
		b = append(b, 0)
	}
	return b
}

func writeRecord(buf *bytes.Buffer, typ uint32, body []byte) {
	total := 8 + len(body)
	binary.Write(buf, binary.LittleEndian, uint32(typ))
	binary.Write(buf, binary.LittleEndian, uint16(0))
	binary.Write(buf, binary.LittleEndian, uint16(total))
	buf.Write(body)
}

func buildMmapBody(pid, tid uint32, addr, length, pgoff uint64, name string) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, pid)
	binary.Write(&b, binary.LittleEndian, tid)
	binary.Write(&b, binary.LittleEndian, addr)
	binary.Write(&b, binary.LittleEndian, length)
	binary.Write(&b, binary.LittleEndian, pgoff)
	b.Write(padFilename(name))
	return b.Bytes()
}

func TestReaderDecodesMmapRecord(t *testing.T) {
	var buf bytes.Buffer
	writeRecord(&buf, TypeMmap, buildMmapBody(100, 100, 0x7000, 0x1000, 0, "/system/lib64/libart.so"))

	r, err := NewReader(&buf, Config{})
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	require.NotNil(t, rec.Mmap)
	assert.EqualValues(t, 100, rec.Mmap.PID)
	assert.Equal(t, "/system/lib64/libart.so", rec.Mmap.Filename)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderDecodesMmapWithTrailingSampleID(t *testing.T) {
	body := buildMmapBody(100, 100, 0x7000, 0x1000, 0, "/system/lib64/libart.so")
	var tail bytes.Buffer
	binary.Write(&tail, binary.LittleEndian, uint32(100)) // pid
	binary.Write(&tail, binary.LittleEndian, uint32(100)) // tid
	binary.Write(&tail, binary.LittleEndian, uint64(555)) // time
	body = append(body, tail.Bytes()...)

	var buf bytes.Buffer
	writeRecord(&buf, TypeMmap, body)

	r, err := NewReader(&buf, Config{SampleIDAll: true, SampleType: SampleTID | SampleTime})
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 555, rec.Timestamp)
}

func TestReaderDecodesForkRecord(t *testing.T) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint32(200)) // pid
	binary.Write(&body, binary.LittleEndian, uint32(50))  // ppid
	binary.Write(&body, binary.LittleEndian, uint32(200)) // tid
	binary.Write(&body, binary.LittleEndian, uint32(50))  // ptid
	binary.Write(&body, binary.LittleEndian, uint64(123)) // time

	var buf bytes.Buffer
	writeRecord(&buf, TypeFork, body.Bytes())

	r, err := NewReader(&buf, Config{})
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	require.NotNil(t, rec.Fork)
	assert.EqualValues(t, 200, rec.Fork.PID)
	assert.EqualValues(t, 50, rec.Fork.PPID)
	assert.EqualValues(t, 123, rec.Timestamp)
}

func TestReaderDecodesSampleRecord(t *testing.T) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint32(300)) // pid
	binary.Write(&body, binary.LittleEndian, uint32(300)) // tid
	binary.Write(&body, binary.LittleEndian, uint64(999)) // time

	var buf bytes.Buffer
	writeRecord(&buf, TypeSample, body.Bytes())

	r, err := NewReader(&buf, Config{SampleType: SampleTID | SampleTime})
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	require.NotNil(t, rec.Sample)
	assert.EqualValues(t, 300, rec.Sample.PID)
	assert.EqualValues(t, 999, rec.Timestamp)
}

func TestReaderRejectsUnsupportedSampleType(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewReader(&buf, Config{SampleType: 1 << 10})
	assert.Error(t, err)
}

func TestReaderPassesThroughUnknownRecordType(t *testing.T) {
	var buf bytes.Buffer
	writeRecord(&buf, 99, []byte{1, 2, 3, 4})

	r, err := NewReader(&buf, Config{})
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 99, rec.Type)
	assert.Nil(t, rec.Mmap)
	assert.Nil(t, rec.Fork)
	assert.Nil(t, rec.Sample)
}
