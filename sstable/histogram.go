// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cockroachdb/casstable/internal/base"
)

// estimatedHistogram approximates a distribution with exponentially growing
// buckets: bucket i counts values in (offset[i-1], offset[i]], the last
// bucket counts overflow. Offsets grow by a factor of 1.2, matching the
// histograms the Stats metadata record stores for row sizes and column
// counts.
type estimatedHistogram struct {
	// len(bucketOffsets) == len(buckets)-1. The final bucket has no upper
	// bound.
	bucketOffsets []uint64
	buckets       []uint64
}

const defaultHistogramOffsetCount = 90

func newEstimatedHistogram(offsetCount int) estimatedHistogram {
	offsets := make([]uint64, offsetCount)
	last := uint64(1)
	offsets[0] = last
	for i := 1; i < offsetCount; i++ {
		next := uint64(math.Round(float64(last) * 1.2))
		if next == last {
			next = last + 1
		}
		offsets[i] = next
		last = next
	}
	return estimatedHistogram{
		bucketOffsets: offsets,
		buckets:       make([]uint64, offsetCount+1),
	}
}

// add increments the bucket containing n.
func (h *estimatedHistogram) add(n uint64) {
	i := sort.Search(len(h.bucketOffsets), func(i int) bool {
		return h.bucketOffsets[i] >= n
	})
	h.buckets[i]++
}

func (h *estimatedHistogram) count() uint64 {
	var total uint64
	for _, b := range h.buckets {
		total += b
	}
	return total
}

// The on-disk layout is a uint32 count followed by count packed big-endian
// (offset, bucket) pairs. The offset of the first pair is duplicated: pairs
// 0 and 1 both carry bucketOffsets[0], and pair i carries
// bucketOffsets[i-1] for i >= 1. The accompanying parse reverses the same
// mapping, so the first written offset is effectively shadowed. This
// duplication is part of the format; changing it breaks round-trip
// compatibility with existing files.
func (h *estimatedHistogram) decode(r randomAccessReader) error {
	n, err := parseUint32(r)
	if err != nil {
		return err
	}
	if n == 0 {
		return base.CorruptionErrorf("sstable: estimated histogram has no buckets")
	}
	length := int(n)
	buf, err := r.readExactly(16 * length)
	if err != nil {
		return err
	}
	h.bucketOffsets = make([]uint64, length-1)
	h.buckets = make([]uint64, length)
	for i := 0; i < length; i++ {
		off := binary.BigEndian.Uint64(buf[16*i:])
		cnt := binary.BigEndian.Uint64(buf[16*i+8:])
		j := i - 1
		if i == 0 {
			j = 0
		}
		if j < len(h.bucketOffsets) {
			h.bucketOffsets[j] = off
		}
		h.buckets[i] = cnt
	}
	return nil
}

func (h *estimatedHistogram) encode(w fileWriter) error {
	if err := writeUint32(w, uint32(len(h.buckets))); err != nil {
		return err
	}
	pairs := make([]uint64, 0, 2*len(h.buckets))
	for i := range h.buckets {
		j := i - 1
		if i == 0 {
			j = 0
		}
		pairs = append(pairs, h.bucketOffsets[j], h.buckets[i])
	}
	return writePackedUint64(w, pairs)
}

func (h *estimatedHistogram) serializedSize() uint64 {
	return 4 + 16*uint64(len(h.buckets))
}

// streamingHistogram approximates the tombstone drop-time distribution with
// a bounded number of bins, merging the two closest bins when the bound is
// exceeded. On disk: uint32 max bin count, then a disk_hash<uint32, double,
// uint64> of (bin center, count) with bins in ascending center order.
type streamingHistogram struct {
	maxBinSize uint32
	bins       []streamingBin // sorted by point
}

type streamingBin struct {
	point float64
	count uint64
}

const tombstoneHistogramBinSize = 100

func newStreamingHistogram(maxBinSize uint32) streamingHistogram {
	return streamingHistogram{maxBinSize: maxBinSize}
}

// update adds one observation of point.
func (h *streamingHistogram) update(point float64) {
	h.updateCount(point, 1)
}

func (h *streamingHistogram) updateCount(point float64, count uint64) {
	i := sort.Search(len(h.bins), func(i int) bool {
		return h.bins[i].point >= point
	})
	if i < len(h.bins) && h.bins[i].point == point {
		h.bins[i].count += count
		return
	}
	h.bins = append(h.bins, streamingBin{})
	copy(h.bins[i+1:], h.bins[i:])
	h.bins[i] = streamingBin{point: point, count: count}
	if uint32(len(h.bins)) <= h.maxBinSize {
		return
	}
	// Merge the two adjacent bins with the smallest point distance into
	// their weighted midpoint.
	best, bestDelta := 0, math.Inf(1)
	for j := 0; j+1 < len(h.bins); j++ {
		if d := h.bins[j+1].point - h.bins[j].point; d < bestDelta {
			best, bestDelta = j, d
		}
	}
	a, b := h.bins[best], h.bins[best+1]
	total := a.count + b.count
	merged := streamingBin{
		point: (a.point*float64(a.count) + b.point*float64(b.count)) / float64(total),
		count: total,
	}
	h.bins[best] = merged
	h.bins = append(h.bins[:best+1], h.bins[best+2:]...)
}

// merge folds other into h.
func (h *streamingHistogram) merge(other *streamingHistogram) {
	for _, b := range other.bins {
		h.updateCount(b.point, b.count)
	}
}

func (h *streamingHistogram) decode(r randomAccessReader) error {
	var err error
	if h.maxBinSize, err = parseUint32(r); err != nil {
		return err
	}
	n, err := parseUint32(r)
	if err != nil {
		return err
	}
	h.bins = make([]streamingBin, n)
	for i := range h.bins {
		if h.bins[i].point, err = parseDouble(r); err != nil {
			return err
		}
		if h.bins[i].count, err = parseUint64(r); err != nil {
			return err
		}
	}
	return nil
}

func (h *streamingHistogram) encode(w fileWriter) error {
	if err := writeUint32(w, h.maxBinSize); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(h.bins))); err != nil {
		return err
	}
	for _, b := range h.bins {
		if err := writeDouble(w, b.point); err != nil {
			return err
		}
		if err := writeUint64(w, b.count); err != nil {
			return err
		}
	}
	return nil
}

func (h *streamingHistogram) serializedSize() uint64 {
	return 4 + 4 + 16*uint64(len(h.bins))
}
