// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"math"
)

// noCompressionRatio is the compression ratio recorded for tables written
// without compression.
const noCompressionRatio = -1.0

// columnStats accumulates statistics for the partition currently being
// written. The collector folds it into the table-wide aggregates at the end
// of each partition.
type columnStats struct {
	startOffset uint64
	rowSize     uint64

	minTimestamp         int64
	maxTimestamp         int64
	maxLocalDeletionTime int32
	columnCount          uint64

	tombstoneHistogram streamingHistogram

	minColumnNames [][]byte
	maxColumnNames [][]byte
}

func newColumnStats() columnStats {
	cs := columnStats{}
	cs.reset()
	return cs
}

func (cs *columnStats) reset() {
	*cs = columnStats{
		minTimestamp:         math.MaxInt64,
		maxTimestamp:         math.MinInt64,
		maxLocalDeletionTime: math.MinInt32,
		tombstoneHistogram:   newStreamingHistogram(tombstoneHistogramBinSize),
	}
}

func (cs *columnStats) updateMinTimestamp(ts int64) {
	if ts < cs.minTimestamp {
		cs.minTimestamp = ts
	}
}

func (cs *columnStats) updateMaxTimestamp(ts int64) {
	if ts > cs.maxTimestamp {
		cs.maxTimestamp = ts
	}
}

func (cs *columnStats) updateMaxLocalDeletionTime(t int32) {
	if t > cs.maxLocalDeletionTime {
		cs.maxLocalDeletionTime = t
	}
}

// minComponents lowers mins[i] to names[i] where names[i] sorts first,
// extending mins as needed. maxComponents is the mirror image.
func minComponents(mins [][]byte, names [][]byte) [][]byte {
	for i, n := range names {
		if i >= len(mins) {
			mins = append(mins, append([]byte(nil), n...))
		} else if bytes.Compare(n, mins[i]) < 0 {
			mins[i] = append([]byte(nil), n...)
		}
	}
	return mins
}

func maxComponents(maxs [][]byte, names [][]byte) [][]byte {
	for i, n := range names {
		if i >= len(maxs) {
			maxs = append(maxs, append([]byte(nil), n...))
		} else if bytes.Compare(n, maxs[i]) > 0 {
			maxs[i] = append([]byte(nil), n...)
		}
	}
	return maxs
}

// metadataCollector aggregates flush-wide statistics and constructs the
// Compaction and Stats metadata records at seal time.
type metadataCollector struct {
	minTimestamp         int64
	maxTimestamp         int64
	maxLocalDeletionTime int32

	estimatedRowSize     estimatedHistogram
	estimatedColumnCount estimatedHistogram
	tombstoneHistogram   streamingHistogram

	replayPosition replayPosition
	sstableLevel   uint32
	repairedAt     uint64

	minColumnNames [][]byte
	maxColumnNames [][]byte

	compressionRatio float64

	ancestors []uint32
	keyCount  uint64
}

func newMetadataCollector() metadataCollector {
	return metadataCollector{
		minTimestamp:         math.MaxInt64,
		maxTimestamp:         math.MinInt64,
		maxLocalDeletionTime: math.MinInt32,
		estimatedRowSize:     newEstimatedHistogram(defaultHistogramOffsetCount),
		estimatedColumnCount: newEstimatedHistogram(defaultHistogramOffsetCount),
		tombstoneHistogram:   newStreamingHistogram(tombstoneHistogramBinSize),
		compressionRatio:     noCompressionRatio,
	}
}

// addKey accounts one partition key.
func (c *metadataCollector) addKey(key []byte) {
	c.keyCount++
}

// addCompressionRatio records compressed vs. uncompressed data sizes.
func (c *metadataCollector) addCompressionRatio(compressed, uncompressed uint64) {
	c.compressionRatio = float64(compressed) / float64(uncompressed)
}

// update folds one partition's stats into the table-wide aggregates.
func (c *metadataCollector) update(cs *columnStats) {
	if cs.minTimestamp < c.minTimestamp {
		c.minTimestamp = cs.minTimestamp
	}
	if cs.maxTimestamp > c.maxTimestamp {
		c.maxTimestamp = cs.maxTimestamp
	}
	if cs.maxLocalDeletionTime > c.maxLocalDeletionTime {
		c.maxLocalDeletionTime = cs.maxLocalDeletionTime
	}
	c.estimatedRowSize.add(cs.rowSize)
	c.estimatedColumnCount.add(cs.columnCount)
	c.tombstoneHistogram.merge(&cs.tombstoneHistogram)
	c.minColumnNames = minComponents(c.minColumnNames, cs.minColumnNames)
	c.maxColumnNames = maxComponents(c.maxColumnNames, cs.maxColumnNames)
}

func (c *metadataCollector) constructCompaction(m *compactionMetadata) {
	m.ancestors = c.ancestors
	// The cardinality estimator sketch is not populated; readers treat an
	// empty array as "estimate from the Index file".
	m.cardinalityEstimator = nil
}

func (c *metadataCollector) constructStats(m *statsMetadata) {
	m.estimatedRowSize = c.estimatedRowSize
	m.estimatedColumnCount = c.estimatedColumnCount
	m.position = c.replayPosition
	m.minTimestamp = c.minTimestamp
	m.maxTimestamp = c.maxTimestamp
	m.maxLocalDeletionTime = c.maxLocalDeletionTime
	m.compressionRatio = c.compressionRatio
	m.estimatedTombstoneDropTime = c.tombstoneHistogram
	m.sstableLevel = c.sstableLevel
	m.repairedAt = c.repairedAt
	m.minColumnNames = c.minColumnNames
	m.maxColumnNames = c.maxColumnNames
	m.hasLegacyCounterShards = false
}
