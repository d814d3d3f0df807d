// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/cockroachdb/casstable/internal/base"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

// memWriter is an in-memory fileWriter for codec tests.
type memWriter struct {
	buf bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memWriter) offset() uint64 { return uint64(w.buf.Len()) }
func (w *memWriter) flush() error   { return nil }
func (w *memWriter) close() error   { return nil }

// memReader is an in-memory randomAccessReader for codec tests.
type memReader struct {
	data  []byte
	pos   uint64
	atEOF bool
}

func newMemReader(data []byte) *memReader {
	return &memReader{data: data}
}

func (r *memReader) seek(pos uint64) {
	r.pos = pos
	r.atEOF = false
}

func (r *memReader) eof() bool { return r.atEOF }

func (r *memReader) Read(p []byte) (int, error) {
	if r.pos >= uint64(len(r.data)) {
		r.atEOF = true
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += uint64(n)
	return n, nil
}

func (r *memReader) readExactly(n int) ([]byte, error) {
	if r.pos+uint64(n) > uint64(len(r.data)) {
		got := len(r.data) - int(r.pos)
		if got < 0 {
			got = 0
		}
		r.atEOF = true
		return nil, base.MarkCorruptionError(&bufferUndersizeError{got: got, want: n})
	}
	buf := r.data[r.pos : r.pos+uint64(n)]
	r.pos += uint64(n)
	return buf, nil
}

func TestIntegerRoundTrip(t *testing.T) {
	w := &memWriter{}
	require.NoError(t, writeUint8(w, 0xab))
	require.NoError(t, writeUint16(w, 0xdead))
	require.NoError(t, writeUint32(w, 0xdeadbeef))
	require.NoError(t, writeUint64(w, 0xcafebabedeadbeef))
	require.NoError(t, writeInt32(w, -2))
	require.NoError(t, writeInt64(w, math.MinInt64))
	require.NoError(t, writeBool(w, true))
	require.NoError(t, writeDouble(w, 0.01))

	// Integers are big-endian on disk.
	require.Equal(t, []byte{0xab, 0xde, 0xad}, w.buf.Bytes()[:3])

	r := newMemReader(w.buf.Bytes())
	v8, err := parseUint8(r)
	require.NoError(t, err)
	require.Equal(t, uint8(0xab), v8)
	v16, err := parseUint16(r)
	require.NoError(t, err)
	require.Equal(t, uint16(0xdead), v16)
	v32, err := parseUint32(r)
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), v32)
	v64, err := parseUint64(r)
	require.NoError(t, err)
	require.Equal(t, uint64(0xcafebabedeadbeef), v64)
	i32, err := parseInt32(r)
	require.NoError(t, err)
	require.Equal(t, int32(-2), i32)
	i64, err := parseInt64(r)
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), i64)
	b, err := parseBool(r)
	require.NoError(t, err)
	require.True(t, b)
	d, err := parseDouble(r)
	require.NoError(t, err)
	require.Equal(t, 0.01, d)
}

func TestParseShortBuffer(t *testing.T) {
	r := newMemReader([]byte{0x01, 0x02})
	_, err := parseUint32(r)
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
	var undersize *bufferUndersizeError
	require.True(t, errors.As(err, &undersize))
	require.True(t, r.eof())
}

func TestDiskStringRoundTrip(t *testing.T) {
	w := &memWriter{}
	require.NoError(t, writeDiskStringU16(w, []byte("hello")))
	require.NoError(t, writeDiskStringU32(w, []byte("world")))
	require.Equal(t, []byte{0x00, 0x05, 'h', 'e', 'l', 'l', 'o'}, w.buf.Bytes()[:7])

	r := newMemReader(w.buf.Bytes())
	s16, err := parseDiskStringU16(r)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), s16)
	s32, err := parseDiskStringU32(r)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), s32)
}

func TestDiskStringOverflow(t *testing.T) {
	w := &memWriter{}
	err := writeDiskStringU16(w, make([]byte, 65536))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOverflow))
}

func TestDiskArrayRoundTrip(t *testing.T) {
	w := &memWriter{}
	u32s := []uint32{1, 1 << 30, 7}
	u64s := []uint64{0, math.MaxUint64}
	names := [][]byte{[]byte("a"), []byte("bc"), {}}
	require.NoError(t, writeDiskArrayU32OfUint32(w, u32s))
	require.NoError(t, writeDiskArrayU32OfUint64(w, u64s))
	require.NoError(t, writeDiskArrayU32OfUint8(w, []byte{9, 8}))
	require.NoError(t, writeDiskArrayU32OfStringU16(w, names))

	r := newMemReader(w.buf.Bytes())
	g32, err := parseDiskArrayU32OfUint32(r)
	require.NoError(t, err)
	require.Equal(t, u32s, g32)
	g64, err := parseDiskArrayU32OfUint64(r)
	require.NoError(t, err)
	require.Equal(t, u64s, g64)
	g8, err := parseDiskArrayU32OfUint8(r)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 8}, g8)
	gnames, err := parseDiskArrayU32OfStringU16(r)
	require.NoError(t, err)
	require.Equal(t, names, gnames)
}
