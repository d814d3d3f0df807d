// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/casstable/internal/base"
)

// The Summary component samples every min_index_interval-th partition key
// together with the Index file offset of its index record, giving readers a
// coarse starting position for index scans.
//
// Layout: a big-endian header, then header.size uint32 entry positions,
// then the entries (raw key bytes followed by an 8-byte Index offset), then
// the first and last partition key as disk_string<uint16>. positions[i] is
// the cumulative byte offset of entry i within the in-memory block whose
// total size is header.memory_size.
//
// COMPATIBILITY HAZARD: the positions block and each entry's trailing
// 8-byte offset are in NATIVE byte order, not big-endian. The serialized
// bytes must match a memcpy of the host integers, so the file is not
// portable across endianness. This is preserved deliberately; do not "fix"
// it.

const baseSamplingLevel = 128

type summaryHeader struct {
	minIndexInterval   uint32
	size               uint32
	memorySize         uint64
	samplingLevel      uint32
	sizeAtFullSampling uint32
}

const summaryHeaderSize = 24

type summaryEntry struct {
	key []byte
	// position is the Index file offset of the entry's index record.
	position uint64
}

type summary struct {
	header    summaryHeader
	positions []uint32
	entries   []summaryEntry
	firstKey  []byte
	lastKey   []byte

	// keysWritten counts partitions observed during a flush; used by the
	// sampler only.
	keysWritten uint64
}

func (s *summary) decode(r randomAccessReader) error {
	var err error
	if s.header.minIndexInterval, err = parseUint32(r); err != nil {
		return err
	}
	if s.header.size, err = parseUint32(r); err != nil {
		return err
	}
	if s.header.memorySize, err = parseUint64(r); err != nil {
		return err
	}
	if s.header.samplingLevel, err = parseUint32(r); err != nil {
		return err
	}
	if s.header.sizeAtFullSampling, err = parseUint32(r); err != nil {
		return err
	}

	size := int(s.header.size)
	buf, err := r.readExactly(4 * size)
	if err != nil {
		return err
	}
	s.positions = make([]uint32, size, size+1)
	for i := range s.positions {
		s.positions[i] = binary.NativeEndian.Uint32(buf[4*i:])
	}
	// The keys in the entry block are not sized. Pushing the total block
	// size as a sentinel position lets entry i span
	// [positions[i], positions[i+1]) with no boundary conditionals.
	s.positions = append(s.positions, uint32(s.header.memorySize))
	s.entries = make([]summaryEntry, size)

	r.seek(summaryHeaderSize + s.header.memorySize)
	if s.firstKey, err = parseDiskStringU16(r); err != nil {
		return err
	}
	if s.lastKey, err = parseDiskStringU16(r); err != nil {
		return err
	}

	r.seek(uint64(s.positions[0]) + summaryHeaderSize)
	for i := range s.entries {
		pos, next := s.positions[i], s.positions[i+1]
		if next < pos+8 {
			return base.CorruptionErrorf("sstable: summary entry %d spans %d bytes", i, next-pos)
		}
		entrySize := int(next - pos)
		buf, err := r.readExactly(entrySize)
		if err != nil {
			return err
		}
		key := make([]byte, entrySize-8)
		copy(key, buf)
		s.entries[i].key = key
		s.entries[i].position = binary.NativeEndian.Uint64(buf[entrySize-8:])
	}
	// Drop the sentinel; it is not part of the on-disk format.
	s.positions = s.positions[:len(s.positions)-1]
	return nil
}

func (s *summary) encode(w fileWriter) error {
	if err := writeUint32(w, s.header.minIndexInterval); err != nil {
		return err
	}
	if err := writeUint32(w, s.header.size); err != nil {
		return err
	}
	if err := writeUint64(w, s.header.memorySize); err != nil {
		return err
	}
	if err := writeUint32(w, s.header.samplingLevel); err != nil {
		return err
	}
	if err := writeUint32(w, s.header.sizeAtFullSampling); err != nil {
		return err
	}

	// Positions and entry offsets are stored in NATIVE byte order; see the
	// package note above.
	buf := make([]byte, 4*len(s.positions))
	for i, p := range s.positions {
		binary.NativeEndian.PutUint32(buf[4*i:], p)
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	var tail [8]byte
	for i := range s.entries {
		if _, err := w.Write(s.entries[i].key); err != nil {
			return err
		}
		binary.NativeEndian.PutUint64(tail[:], s.entries[i].position)
		if _, err := w.Write(tail[:]); err != nil {
			return err
		}
	}
	if err := writeDiskStringU16(w, s.firstKey); err != nil {
		return err
	}
	return writeDiskStringU16(w, s.lastKey)
}

// prepareSummary configures the sampler for an expected partition count.
func prepareSummary(s *summary, expectedPartitionCount uint64) error {
	if expectedPartitionCount == 0 {
		expectedPartitionCount = 1
	}
	s.header.minIndexInterval = baseSamplingLevel
	s.header.samplingLevel = baseSamplingLevel
	maxExpectedEntries := expectedPartitionCount / baseSamplingLevel
	if expectedPartitionCount%baseSamplingLevel != 0 {
		maxExpectedEntries++
	}
	if maxExpectedEntries > math.MaxUint32 {
		return base.CorruptionErrorf(
			"sstable: current sampling level (%d) not enough to generate summary", baseSamplingLevel)
	}
	s.positions = make([]uint32, 0, maxExpectedEntries)
	s.entries = make([]summaryEntry, 0, maxExpectedEntries)
	s.keysWritten = 0
	s.header.memorySize = 0
	return nil
}

// maybeAddSummaryEntry samples every min_index_interval-th partition key.
// indexOffset is the Index file offset at which the key's index record
// begins.
func maybeAddSummaryEntry(s *summary, key []byte, indexOffset uint64) {
	if s.keysWritten%uint64(s.header.minIndexInterval) == 0 {
		k := make([]byte, len(key))
		copy(k, key)
		s.entries = append(s.entries, summaryEntry{key: k, position: indexOffset})
	}
	s.keysWritten++
}

// sealSummary computes the header counts and entry positions once all
// partitions have been written. A nil lastKey indicates the table holds a
// single partition.
func sealSummary(s *summary, firstKey, lastKey []byte) error {
	s.header.size = uint32(len(s.entries))
	s.header.sizeAtFullSampling = s.header.size

	s.header.memorySize = uint64(s.header.size) * 4
	for i := range s.entries {
		s.positions = append(s.positions, uint32(s.header.memorySize))
		s.header.memorySize += uint64(len(s.entries[i].key)) + 8
	}
	if firstKey == nil {
		return base.CorruptionErrorf("sstable: cannot seal summary of an empty table")
	}
	s.firstKey = firstKey
	if lastKey != nil {
		s.lastKey = lastKey
	} else {
		// No last key means we saw just one partition.
		s.lastKey = s.firstKey
	}
	return nil
}
