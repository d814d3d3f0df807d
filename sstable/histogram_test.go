// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimatedHistogramAdd(t *testing.T) {
	h := newEstimatedHistogram(defaultHistogramOffsetCount)
	require.Len(t, h.buckets, defaultHistogramOffsetCount+1)
	require.Len(t, h.bucketOffsets, defaultHistogramOffsetCount)

	h.add(0)
	h.add(1)
	require.Equal(t, uint64(2), h.buckets[0])
	h.add(2)
	require.Equal(t, uint64(1), h.buckets[1])

	// Values past the largest offset land in the overflow bucket.
	h.add(1 << 62)
	require.Equal(t, uint64(1), h.buckets[len(h.buckets)-1])
	require.Equal(t, uint64(4), h.count())
}

func TestEstimatedHistogramOffsetsGrowth(t *testing.T) {
	h := newEstimatedHistogram(defaultHistogramOffsetCount)
	require.Equal(t, uint64(1), h.bucketOffsets[0])
	for i := 1; i < len(h.bucketOffsets); i++ {
		require.Greater(t, h.bucketOffsets[i], h.bucketOffsets[i-1])
	}
}

// The first bucket offset is written twice: pairs 0 and 1 both carry
// bucketOffsets[0]. The parse applies the reverse mapping, so encode
// followed by decode reproduces the histogram exactly.
func TestEstimatedHistogramSerializationQuirk(t *testing.T) {
	h := newEstimatedHistogram(defaultHistogramOffsetCount)
	for i := uint64(1); i < 1000; i += 7 {
		h.add(i)
	}

	w := &memWriter{}
	require.NoError(t, h.encode(w))
	buf := w.buf.Bytes()

	require.Equal(t, uint32(len(h.buckets)), binary.BigEndian.Uint32(buf))
	first := binary.BigEndian.Uint64(buf[4:])
	second := binary.BigEndian.Uint64(buf[4+16:])
	require.Equal(t, h.bucketOffsets[0], first)
	require.Equal(t, h.bucketOffsets[0], second)

	var got estimatedHistogram
	require.NoError(t, got.decode(newMemReader(buf)))
	require.Equal(t, h.bucketOffsets, got.bucketOffsets)
	require.Equal(t, h.buckets, got.buckets)
}

func TestStreamingHistogramMergeBound(t *testing.T) {
	h := newStreamingHistogram(4)
	for i := 0; i < 100; i++ {
		h.update(float64(i * i))
	}
	require.LessOrEqual(t, len(h.bins), 4)

	var total uint64
	for _, b := range h.bins {
		total += b.count
	}
	require.Equal(t, uint64(100), total)
}

func TestStreamingHistogramRoundTrip(t *testing.T) {
	h := newStreamingHistogram(tombstoneHistogramBinSize)
	for _, v := range []float64{3, 1, 4, 1, 5, 9, 2, 6} {
		h.update(v)
	}

	w := &memWriter{}
	require.NoError(t, h.encode(w))

	var got streamingHistogram
	require.NoError(t, got.decode(newMemReader(w.buf.Bytes())))
	require.Equal(t, h.maxBinSize, got.maxBinSize)
	require.Equal(t, h.bins, got.bins)
}
