// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"sort"

	"github.com/cockroachdb/casstable/internal/base"
)

// The Statistics component begins with a disk_hash<uint32, metadata_type,
// uint32> mapping each metadata kind to the byte offset of its record
// within the same file, followed by the records in offset-ascending order.
// The serializer computes all offsets before emitting any payload, since
// the output stream cannot afford random writes.

// metadataType tags a Statistics record.
type metadataType uint32

const (
	metadataValidation metadataType = 0
	metadataCompaction metadataType = 1
	metadataStats      metadataType = 2

	metadataTypeCount = 3
)

// metadataComponent is one tagged record of the Statistics component.
type metadataComponent interface {
	decode(r randomAccessReader) error
	encode(w fileWriter) error
	serializedSize() uint64
}

type statisticsOffset struct {
	typ    metadataType
	offset uint32
}

type statistics struct {
	// offsets preserves the on-disk hash entries in file order, including
	// entries of unknown kinds, so a parsed component re-encodes the same
	// hash. The records of unknown kinds are not kept in contents, so
	// re-encoding omits their bytes.
	offsets  []statisticsOffset
	contents map[metadataType]metadataComponent
}

func (s *statistics) decode(r randomAccessReader, logger base.Logger) error {
	n, err := parseUint32(r)
	if err != nil {
		return err
	}
	s.offsets = make([]statisticsOffset, n)
	for i := range s.offsets {
		typ, err := parseUint32(r)
		if err != nil {
			return err
		}
		off, err := parseUint32(r)
		if err != nil {
			return err
		}
		s.offsets[i] = statisticsOffset{typ: metadataType(typ), offset: off}
	}
	s.contents = make(map[metadataType]metadataComponent, n)
	for _, e := range s.offsets {
		r.seek(uint64(e.offset))
		var c metadataComponent
		switch e.typ {
		case metadataValidation:
			c = &validationMetadata{}
		case metadataCompaction:
			c = &compactionMetadata{}
		case metadataStats:
			c = &statsMetadata{}
		default:
			logger.Errorf("invalid metadata type at Statistics file: %d", int(e.typ))
			continue
		}
		if err := c.decode(r); err != nil {
			return err
		}
		s.contents[e.typ] = c
	}
	return nil
}

func (s *statistics) encode(w fileWriter, logger base.Logger) error {
	if err := writeUint32(w, uint32(len(s.offsets))); err != nil {
		return err
	}
	for _, e := range s.offsets {
		if err := writeUint32(w, uint32(e.typ)); err != nil {
			return err
		}
		if err := writeUint32(w, e.offset); err != nil {
			return err
		}
	}
	// Records follow in offset order.
	ordered := make([]statisticsOffset, len(s.offsets))
	copy(ordered, s.offsets)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].offset < ordered[j].offset })
	for _, e := range ordered {
		c, ok := s.contents[e.typ]
		if !ok {
			logger.Errorf("invalid metadata type at Statistics file: %d", int(e.typ))
			continue
		}
		if err := c.encode(w); err != nil {
			return err
		}
	}
	return nil
}

// validationMetadata carries what a reader needs to validate the table:
// the partitioner the keys were ordered by and the bloom filter false
// positive chance.
type validationMetadata struct {
	partitioner  []byte
	filterChance float64
}

func (m *validationMetadata) decode(r randomAccessReader) error {
	var err error
	if m.partitioner, err = parseDiskStringU16(r); err != nil {
		return err
	}
	m.filterChance, err = parseDouble(r)
	return err
}

func (m *validationMetadata) encode(w fileWriter) error {
	if err := writeDiskStringU16(w, m.partitioner); err != nil {
		return err
	}
	return writeDouble(w, m.filterChance)
}

func (m *validationMetadata) serializedSize() uint64 {
	return 2 + uint64(len(m.partitioner)) + 8
}

// compactionMetadata records the generations this table was compacted from
// and a serialized cardinality estimator over its partition keys.
type compactionMetadata struct {
	ancestors            []uint32
	cardinalityEstimator []byte
}

func (m *compactionMetadata) decode(r randomAccessReader) error {
	var err error
	if m.ancestors, err = parseDiskArrayU32OfUint32(r); err != nil {
		return err
	}
	m.cardinalityEstimator, err = parseDiskArrayU32OfUint8(r)
	return err
}

func (m *compactionMetadata) encode(w fileWriter) error {
	if err := writeDiskArrayU32OfUint32(w, m.ancestors); err != nil {
		return err
	}
	return writeDiskArrayU32OfUint8(w, m.cardinalityEstimator)
}

func (m *compactionMetadata) serializedSize() uint64 {
	return 4 + 4*uint64(len(m.ancestors)) + 4 + uint64(len(m.cardinalityEstimator))
}

// replayPosition marks the commitlog position covered by the table.
type replayPosition struct {
	segmentID uint64
	position  uint32
}

// statsMetadata aggregates the per-table statistics collected during a
// flush.
type statsMetadata struct {
	estimatedRowSize           estimatedHistogram
	estimatedColumnCount       estimatedHistogram
	position                   replayPosition
	minTimestamp               int64
	maxTimestamp               int64
	maxLocalDeletionTime       int32
	compressionRatio           float64
	estimatedTombstoneDropTime streamingHistogram
	sstableLevel               uint32
	repairedAt                 uint64
	minColumnNames             [][]byte
	maxColumnNames             [][]byte
	hasLegacyCounterShards     bool
}

func (m *statsMetadata) decode(r randomAccessReader) error {
	var err error
	if err = m.estimatedRowSize.decode(r); err != nil {
		return err
	}
	if err = m.estimatedColumnCount.decode(r); err != nil {
		return err
	}
	if m.position.segmentID, err = parseUint64(r); err != nil {
		return err
	}
	if m.position.position, err = parseUint32(r); err != nil {
		return err
	}
	if m.minTimestamp, err = parseInt64(r); err != nil {
		return err
	}
	if m.maxTimestamp, err = parseInt64(r); err != nil {
		return err
	}
	if m.maxLocalDeletionTime, err = parseInt32(r); err != nil {
		return err
	}
	if m.compressionRatio, err = parseDouble(r); err != nil {
		return err
	}
	if err = m.estimatedTombstoneDropTime.decode(r); err != nil {
		return err
	}
	if m.sstableLevel, err = parseUint32(r); err != nil {
		return err
	}
	if m.repairedAt, err = parseUint64(r); err != nil {
		return err
	}
	if m.minColumnNames, err = parseDiskArrayU32OfStringU16(r); err != nil {
		return err
	}
	if m.maxColumnNames, err = parseDiskArrayU32OfStringU16(r); err != nil {
		return err
	}
	m.hasLegacyCounterShards, err = parseBool(r)
	return err
}

func (m *statsMetadata) encode(w fileWriter) error {
	if err := m.estimatedRowSize.encode(w); err != nil {
		return err
	}
	if err := m.estimatedColumnCount.encode(w); err != nil {
		return err
	}
	if err := writeUint64(w, m.position.segmentID); err != nil {
		return err
	}
	if err := writeUint32(w, m.position.position); err != nil {
		return err
	}
	if err := writeInt64(w, m.minTimestamp); err != nil {
		return err
	}
	if err := writeInt64(w, m.maxTimestamp); err != nil {
		return err
	}
	if err := writeInt32(w, m.maxLocalDeletionTime); err != nil {
		return err
	}
	if err := writeDouble(w, m.compressionRatio); err != nil {
		return err
	}
	if err := m.estimatedTombstoneDropTime.encode(w); err != nil {
		return err
	}
	if err := writeUint32(w, m.sstableLevel); err != nil {
		return err
	}
	if err := writeUint64(w, m.repairedAt); err != nil {
		return err
	}
	if err := writeDiskArrayU32OfStringU16(w, m.minColumnNames); err != nil {
		return err
	}
	if err := writeDiskArrayU32OfStringU16(w, m.maxColumnNames); err != nil {
		return err
	}
	return writeBool(w, m.hasLegacyCounterShards)
}

func (m *statsMetadata) serializedSize() uint64 {
	size := m.estimatedRowSize.serializedSize()
	size += m.estimatedColumnCount.serializedSize()
	size += 8 + 4     // replay position
	size += 8 + 8 + 4 // min/max timestamp, max local deletion time
	size += 8         // compression ratio
	size += m.estimatedTombstoneDropTime.serializedSize()
	size += 4 + 8 // sstable level, repaired at
	size += 4
	for _, n := range m.minColumnNames {
		size += 2 + uint64(len(n))
	}
	size += 4
	for _, n := range m.maxColumnNames {
		size += 2 + uint64(len(n))
	}
	size += 1 // has legacy counter shards
	return size
}

// sealStatistics lays the component out: record offsets are computed ahead
// of emission, starting right after the hash (4 bytes of length plus 8 per
// entry), with Validation, Compaction and Stats in that order.
func sealStatistics(
	s *statistics, collector *metadataCollector, partitioner string, bloomFilterFPChance float64,
) {
	offset := uint64(4 + metadataTypeCount*(4+4))

	validation := &validationMetadata{
		partitioner:  []byte(partitioner),
		filterChance: bloomFilterFPChance,
	}
	compaction := &compactionMetadata{}
	collector.constructCompaction(compaction)
	stats := &statsMetadata{}
	collector.constructStats(stats)

	s.offsets = s.offsets[:0]
	s.contents = make(map[metadataType]metadataComponent, metadataTypeCount)

	s.offsets = append(s.offsets, statisticsOffset{metadataValidation, uint32(offset)})
	s.contents[metadataValidation] = validation
	offset += validation.serializedSize()

	s.offsets = append(s.offsets, statisticsOffset{metadataCompaction, uint32(offset)})
	s.contents[metadataCompaction] = compaction
	offset += compaction.serializedSize()

	s.offsets = append(s.offsets, statisticsOffset{metadataStats, uint32(offset)})
	s.contents[metadataStats] = stats
}
