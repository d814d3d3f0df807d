// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"testing"

	"github.com/cockroachdb/casstable/internal/base"
	"github.com/stretchr/testify/require"
)

func sealTestStatistics(t *testing.T) *statistics {
	collector := newMetadataCollector()
	cs := newColumnStats()
	cs.rowSize = 100
	cs.columnCount = 3
	cs.updateMinTimestamp(10)
	cs.updateMaxTimestamp(42)
	collector.update(&cs)

	s := &statistics{}
	sealStatistics(s, &collector, "Murmur3", 0.01)
	return s
}

func TestStatisticsSealOffsets(t *testing.T) {
	s := sealTestStatistics(t)

	// The hash accounts for its own size up front: 4 bytes of length plus
	// 8 per entry, with records following in Validation, Compaction, Stats
	// order.
	validation := s.contents[metadataValidation].(*validationMetadata)
	compaction := s.contents[metadataCompaction].(*compactionMetadata)
	require.Equal(t, []byte("Murmur3"), validation.partitioner)
	require.Equal(t, 0.01, validation.filterChance)

	require.Equal(t, statisticsOffset{metadataValidation, 28}, s.offsets[0])
	require.Equal(t,
		statisticsOffset{metadataCompaction, 28 + uint32(validation.serializedSize())},
		s.offsets[1])
	require.Equal(t,
		statisticsOffset{metadataStats,
			28 + uint32(validation.serializedSize()) + uint32(compaction.serializedSize())},
		s.offsets[2])
}

// The offsets written into the hash must equal the byte offsets at which
// each record begins in the file.
func TestStatisticsOffsetsMatchLayout(t *testing.T) {
	s := sealTestStatistics(t)
	logger := base.DefaultLogger{}

	w := &memWriter{}
	require.NoError(t, s.encode(w, logger))
	buf := w.buf.Bytes()

	for _, e := range s.offsets {
		r := newMemReader(buf)
		r.seek(uint64(e.offset))
		switch e.typ {
		case metadataValidation:
			var m validationMetadata
			require.NoError(t, m.decode(r))
			require.Equal(t, []byte("Murmur3"), m.partitioner)
		case metadataCompaction:
			var m compactionMetadata
			require.NoError(t, m.decode(r))
		case metadataStats:
			var m statsMetadata
			require.NoError(t, m.decode(r))
			require.Equal(t, int64(10), m.minTimestamp)
			require.Equal(t, int64(42), m.maxTimestamp)
			require.Equal(t, uint64(e.offset)+m.serializedSize(), uint64(len(buf)))
		}
	}
}

func TestStatisticsRoundTrip(t *testing.T) {
	s := sealTestStatistics(t)
	logger := base.DefaultLogger{}

	w := &memWriter{}
	require.NoError(t, s.encode(w, logger))

	var got statistics
	require.NoError(t, got.decode(newMemReader(w.buf.Bytes()), logger))
	require.Equal(t, s.offsets, got.offsets)

	stats := got.contents[metadataStats].(*statsMetadata)
	want := s.contents[metadataStats].(*statsMetadata)
	require.Equal(t, want.minTimestamp, stats.minTimestamp)
	require.Equal(t, want.maxTimestamp, stats.maxTimestamp)
	require.Equal(t, want.compressionRatio, stats.compressionRatio)
	require.Equal(t, want.estimatedRowSize.buckets, stats.estimatedRowSize.buckets)
}

// A hash entry of an unknown metadata kind is logged and skipped; the rest
// of the component still parses.
func TestStatisticsUnknownMetadataKind(t *testing.T) {
	collector := newMetadataCollector()
	s := &statistics{}
	sealStatistics(s, &collector, "Murmur3", 0.01)

	// Rebuild the hash with a fourth entry of an unknown kind. All offsets
	// shift by the 8 bytes the extra entry occupies.
	offsets := make([]statisticsOffset, 0, 4)
	for _, e := range s.offsets {
		offsets = append(offsets, statisticsOffset{e.typ, e.offset + 8})
	}
	end := offsets[2].offset + uint32(s.contents[metadataStats].serializedSize())
	offsets = append(offsets, statisticsOffset{metadataType(99), end})
	s.offsets = offsets

	logger := base.DefaultLogger{}
	w := &memWriter{}
	require.NoError(t, s.encode(w, logger))
	// Unused bytes for the unknown entry to point at.
	_, err := w.Write([]byte{0xde, 0xad})
	require.NoError(t, err)

	var got statistics
	require.NoError(t, got.decode(newMemReader(w.buf.Bytes()), logger))
	require.Len(t, got.offsets, 4)
	require.Len(t, got.contents, 3)
	require.NotNil(t, got.contents[metadataValidation])
	require.NotNil(t, got.contents[metadataStats])
}
