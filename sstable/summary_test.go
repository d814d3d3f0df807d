// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSummary(t *testing.T, keys [][]byte) *summary {
	s := &summary{}
	require.NoError(t, prepareSummary(s, uint64(len(keys))))
	for i, k := range keys {
		maybeAddSummaryEntry(s, k, uint64(i)*100)
	}
	var first, last []byte
	if len(keys) > 0 {
		first = keys[0]
	}
	if len(keys) > 1 {
		last = keys[len(keys)-1]
	}
	require.NoError(t, sealSummary(s, first, last))
	return s
}

func TestSummarySampling(t *testing.T) {
	var keys [][]byte
	for i := 0; i < 300; i++ {
		keys = append(keys, []byte(fmt.Sprintf("k%03d", i)))
	}
	s := buildSummary(t, keys)

	// One entry per 128 keys: k000, k128, k256.
	require.Equal(t, uint32(3), s.header.size)
	require.Len(t, s.entries, 3)
	require.Equal(t, []byte("k000"), s.entries[0].key)
	require.Equal(t, []byte("k128"), s.entries[1].key)
	require.Equal(t, []byte("k256"), s.entries[2].key)
	require.Equal(t, []byte("k000"), s.firstKey)
	require.Equal(t, []byte("k299"), s.lastKey)
}

func TestSummarySealPositions(t *testing.T) {
	var keys [][]byte
	for i := 0; i < 300; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key-%03d", i)))
	}
	s := buildSummary(t, keys)

	require.Len(t, s.positions, len(s.entries))
	expected := uint32(4 * len(s.entries))
	for i := range s.entries {
		require.Equal(t, expected, s.positions[i])
		expected += uint32(len(s.entries[i].key)) + 8
	}
	require.Equal(t, uint64(expected), s.header.memorySize)
}

func TestSummarySinglePartition(t *testing.T) {
	s := buildSummary(t, [][]byte{[]byte("only")})
	require.Equal(t, []byte("only"), s.firstKey)
	// A single partition repeats the first key as the last.
	require.Equal(t, []byte("only"), s.lastKey)
}

func TestSummaryRoundTrip(t *testing.T) {
	var keys [][]byte
	for i := 0; i < 400; i++ {
		keys = append(keys, []byte(fmt.Sprintf("part%04d", i)))
	}
	s := buildSummary(t, keys)

	w := &memWriter{}
	require.NoError(t, s.encode(w))

	var got summary
	require.NoError(t, got.decode(newMemReader(w.buf.Bytes())))
	require.Equal(t, s.header, got.header)
	require.Equal(t, s.positions, got.positions)
	require.Equal(t, s.entries, got.entries)
	require.Equal(t, s.firstKey, got.firstKey)
	require.Equal(t, s.lastKey, got.lastKey)
}

func TestSummaryNativeByteOrder(t *testing.T) {
	s := buildSummary(t, [][]byte{[]byte("ab")})

	w := &memWriter{}
	require.NoError(t, s.encode(w))
	buf := w.buf.Bytes()

	// The positions block and the entry's 8-byte tail must match a memcpy
	// of the host integers: native byte order, not big-endian.
	require.Equal(t, s.positions[0], binary.NativeEndian.Uint32(buf[summaryHeaderSize:]))
	entryOff := summaryHeaderSize + 4 + len(s.entries[0].key)
	require.Equal(t, s.entries[0].position, binary.NativeEndian.Uint64(buf[entryOff:]))
}
