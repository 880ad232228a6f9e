// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package perfrecord // import "github.com/android-la64/platform-system-extras/perfrecord"

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Reader decodes a sequence of self-delimiting perf_event records from
// an underlying byte stream, one per Next call, the same way a record
// file's data section is walked sequentially.
type Reader struct {
	r   io.Reader
	cfg Config
}

// NewReader returns a Reader over r, configured with the sample_type
// bits cfg describes. It rejects a Config requesting any sample_id
// field this package does not decode.
func NewReader(r io.Reader, cfg Config) (*Reader, error) {
	const supported = SampleTID | SampleTime
	if cfg.SampleType&^supported != 0 {
		return nil, fmt.Errorf("perfrecord: unsupported sample_type bits %#x", cfg.SampleType&^supported)
	}
	return &Reader{r: r, cfg: cfg}, nil
}

// recordHeader is the 8-byte struct perf_event_header every record
// begins with: type, misc flags, and the record's total size including
// this header.
type recordHeader struct {
	Type uint32
	Misc uint16
	Size uint16
}

// Next reads and decodes the next record, returning io.EOF once the
// stream is exhausted at a record boundary. A record of a type this
// package does not model (anything other than mmap/mmap2/fork/sample)
// is still returned, with Type set and every typed field nil, so a
// caller can at least see the stream advancing.
func (r *Reader) Next() (*Record, error) {
	var hdr recordHeader
	if err := binary.Read(r.r, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.Size < 8 {
		return nil, fmt.Errorf("perfrecord: record size %d smaller than header", hdr.Size)
	}
	payload := make([]byte, hdr.Size-8)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("perfrecord: short record body: %w", err)
	}

	rec := &Record{Type: hdr.Type}
	buf := bytes.NewReader(payload)

	switch hdr.Type {
	case TypeMmap:
		m, err := decodeMmap(buf)
		if err != nil {
			return nil, err
		}
		rec.Mmap = m
		rec.Timestamp = r.trailingTime(buf)
	case TypeMmap2:
		m, err := decodeMmap2(buf)
		if err != nil {
			return nil, err
		}
		rec.Mmap2 = m
		rec.Timestamp = r.trailingTime(buf)
	case TypeFork:
		f, err := decodeFork(buf)
		if err != nil {
			return nil, err
		}
		rec.Fork = f
		rec.Timestamp = int64(f.Time)
	case TypeSample:
		s, err := decodeSample(buf, r.cfg)
		if err != nil {
			return nil, err
		}
		rec.Sample = s
		rec.Timestamp = int64(s.Time)
	}
	return rec, nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func readU64(r *bytes.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func readCString(r *bytes.Reader) (string, error) {
	var out []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		out = append(out, b)
	}
	// The kernel NUL-pads filenames to an 8-byte boundary; consume the
	// remaining padding bytes of the current 8-byte group.
	for r.Len() > 0 {
		pos, _ := r.Seek(0, io.SeekCurrent)
		if pos%8 == 0 {
			break
		}
		if _, err := r.ReadByte(); err != nil {
			break
		}
	}
	return string(out), nil
}

func decodeMmap(r *bytes.Reader) (*MmapRecord, error) {
	m := &MmapRecord{}
	var err error
	if m.PID, err = readU32(r); err != nil {
		return nil, err
	}
	if m.TID, err = readU32(r); err != nil {
		return nil, err
	}
	if m.Addr, err = readU64(r); err != nil {
		return nil, err
	}
	if m.Len, err = readU64(r); err != nil {
		return nil, err
	}
	if m.PgOff, err = readU64(r); err != nil {
		return nil, err
	}
	if m.Filename, err = readCString(r); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeMmap2(r *bytes.Reader) (*Mmap2Record, error) {
	m := &Mmap2Record{}
	var err error
	if m.PID, err = readU32(r); err != nil {
		return nil, err
	}
	if m.TID, err = readU32(r); err != nil {
		return nil, err
	}
	if m.Addr, err = readU64(r); err != nil {
		return nil, err
	}
	if m.Len, err = readU64(r); err != nil {
		return nil, err
	}
	if m.PgOff, err = readU64(r); err != nil {
		return nil, err
	}
	if m.Maj, err = readU32(r); err != nil {
		return nil, err
	}
	if m.Min, err = readU32(r); err != nil {
		return nil, err
	}
	if m.Ino, err = readU64(r); err != nil {
		return nil, err
	}
	if m.InoGeneration, err = readU64(r); err != nil {
		return nil, err
	}
	if m.Prot, err = readU32(r); err != nil {
		return nil, err
	}
	if m.Flags, err = readU32(r); err != nil {
		return nil, err
	}
	if m.Filename, err = readCString(r); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeFork(r *bytes.Reader) (*ForkRecord, error) {
	f := &ForkRecord{}
	var err error
	if f.PID, err = readU32(r); err != nil {
		return nil, err
	}
	if f.PPID, err = readU32(r); err != nil {
		return nil, err
	}
	if f.TID, err = readU32(r); err != nil {
		return nil, err
	}
	if f.PTID, err = readU32(r); err != nil {
		return nil, err
	}
	if f.Time, err = readU64(r); err != nil {
		return nil, err
	}
	return f, nil
}

// decodeSample reads only the leading pid/tid and time fields of a
// PERF_RECORD_SAMPLE body, in PERF_SAMPLE_* bit order, and ignores
// everything configured after them (callchain, raw data, register
// sets, ...) since the remainder of the payload was already consumed
// into the record buffer and this reader never needs it.
func decodeSample(r *bytes.Reader, cfg Config) (*SampleRecord, error) {
	s := &SampleRecord{}
	var err error
	if cfg.SampleType&SampleTID != 0 {
		if s.PID, err = readU32(r); err != nil {
			return nil, err
		}
		if s.TID, err = readU32(r); err != nil {
			return nil, err
		}
	}
	if cfg.SampleType&SampleTime != 0 {
		if s.Time, err = readU64(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// trailingTime reads the sample_id suffix appended to non-SAMPLE
// records when sample_id_all is set, returning whatever timestamp it
// carries (0 if the configuration carries none).
func (r *Reader) trailingTime(buf *bytes.Reader) int64 {
	if !r.cfg.SampleIDAll {
		return 0
	}
	if r.cfg.SampleType&SampleTID != 0 {
		if _, err := readU32(buf); err != nil {
			return 0
		}
		if _, err := readU32(buf); err != nil {
			return 0
		}
	}
	if r.cfg.SampleType&SampleTime != 0 {
		if t, err := readU64(buf); err == nil {
			return int64(t)
		}
	}
	return 0
}
