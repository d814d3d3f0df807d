// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"math"

	"github.com/cockroachdb/casstable/bloom"
	"github.com/cockroachdb/errors"
)

// The flush path. One sequential producer walks the mutation stream and
// simultaneously emits the Data file, writes the Index, samples the
// Summary, populates the bloom filter, collects statistics and computes
// checksums. Cross-component invariants (offsets, counts, sizes) are only
// known once the partition loop finishes, so the components seal in a
// prescribed order and the TOC is written last.

// columnMask selects the cell variant in the row format. The values are
// part of the file format.
type columnMask uint8

const (
	maskNone           columnMask = 0x00
	maskDeletion       columnMask = 0x01
	maskExpiration     columnMask = 0x02
	maskCounter        columnMask = 0x04
	maskCounterUpdate  columnMask = 0x08
	maskRangeTombstone columnMask = 0x10
)

// deletionTime is the partition-level deletion record. The live value
// (no tombstone) is (MaxInt32, MinInt64).
type deletionTime struct {
	localDeletionTime int32
	markedForDeleteAt int64
}

var liveDeletionTime = deletionTime{
	localDeletionTime: math.MaxInt32,
	markedForDeleteAt: math.MinInt64,
}

func writeDeletionTime(w fileWriter, d deletionTime) error {
	if err := writeInt32(w, d.localDeletionTime); err != nil {
		return err
	}
	return writeInt64(w, d.markedForDeleteAt)
}

// WriteComponents serializes the mutation stream into a fresh, complete
// set of component files. estimatedPartitions sizes the bloom filter and
// the summary; schema supplies column definitions, the partitioner name,
// compression parameters and the filter false-positive chance.
func (t *SSTable) WriteComponents(
	mr MutationReader, estimatedPartitions uint64, schema Schema,
) error {
	if err := t.fs.MkdirAll(t.dir, 0755); err != nil {
		return err
	}
	if err := t.createData(); err != nil {
		return err
	}
	if err := t.prepareWriteComponents(mr, estimatedPartitions, schema); err != nil {
		return err
	}
	if err := t.writeSummary(); err != nil {
		return err
	}
	if err := t.writeFilter(); err != nil {
		return err
	}
	if err := t.writeStatistics(); err != nil {
		return err
	}
	if err := t.writeCompression(); err != nil {
		return err
	}
	// Written last: a reader that finds a TOC must find every component it
	// lists.
	return t.writeTOC()
}

func (t *SSTable) prepareWriteComponents(
	mr MutationReader, estimatedPartitions uint64, schema Schema,
) error {
	// The CRC component must only be present when compression is not
	// enabled.
	params := schema.CompressionParams()
	if params.Name == "" {
		w := newChecksummedFileWriter(t.dataFile, sstableBufferSize)
		t.components[ComponentCRC] = true
		if err := t.doWriteComponents(mr, estimatedPartitions, schema, w); err != nil {
			w.close()
			return err
		}
		if err := w.close(); err != nil {
			return err
		}
		t.dataFile = nil // w.close closed the data file
		if err := t.writeDigest(w.fullChecksum()); err != nil {
			return err
		}
		return t.writeCRC(w.finalizeChecksum())
	}

	prepareCompression(&t.compression, params)
	w := newCompressedFileWriter(t.dataFile, &t.compression)
	t.components[ComponentCompressionInfo] = true
	if err := t.doWriteComponents(mr, estimatedPartitions, schema, w); err != nil {
		w.close()
		return err
	}
	if err := w.close(); err != nil {
		return err
	}
	t.dataFile = nil // w.close closed the data file
	return t.writeDigest(t.compression.fullChecksum())
}

// doWriteComponents iterates through partitions, then rows, then columns,
// feeding every consumer of the stream in one pass. out is the Data file
// writer; data offsets recorded in the Index are out offsets before the
// partition key is written.
func (t *SSTable) doWriteComponents(
	mr MutationReader, estimatedPartitions uint64, schema Schema, out fileWriter,
) error {
	index := newFileWriter(t.indexFile, sstableBufferSize)

	filterFPChance := schema.BloomFilterFPChance()
	if filterFPChance != 1.0 {
		t.components[ComponentFilter] = true
		t.filter = &filterComponent{filter: bloom.NewFilter(estimatedPartitions, filterFPChance)}
	}

	if err := prepareSummary(&t.summary, estimatedPartitions); err != nil {
		return err
	}

	// First and last keys are needed for the summary file.
	var firstKey, lastKey []byte

	for {
		p, err := mr.Next()
		if err != nil {
			return err
		}
		if p == nil {
			break
		}
		// Current data offset, to later compute the row size.
		t.cStats.startOffset = out.offset()

		key := p.Key
		maybeAddSummaryEntry(&t.summary, key, index.offset())
		if t.filter != nil {
			t.filter.filter.Add(key)
		}
		t.collector.addKey(key)

		// Index record first, then the partition key into the data file.
		if err := writeIndexEntry(index, key, out.offset()); err != nil {
			return err
		}
		if err := writeDiskStringU16(out, key); err != nil {
			return err
		}

		d := liveDeletionTime
		if p.Tombstone != nil {
			d = deletionTime{
				localDeletionTime: p.Tombstone.DeletionTime,
				markedForDeleteAt: p.Tombstone.Timestamp,
			}
			t.cStats.tombstoneHistogram.update(float64(d.localDeletionTime))
			t.cStats.updateMaxLocalDeletionTime(d.localDeletionTime)
			t.cStats.updateMinTimestamp(d.markedForDeleteAt)
			t.cStats.updateMaxTimestamp(d.markedForDeleteAt)
		}
		if err := writeDeletionTime(out, d); err != nil {
			return err
		}

		if err := t.writeStaticRow(out, schema, p.StaticRow); err != nil {
			return err
		}
		for i := range p.RangeTombstones {
			rt := &p.RangeTombstones[i]
			prefix := compositeFromExploded(rt.Prefix, markerNone)
			if err := t.writeRangeTombstone(out, prefix, nil, &rt.Tombstone); err != nil {
				return err
			}
		}
		for i := range p.Rows {
			if err := t.writeClusteredRow(out, schema, &p.Rows[i]); err != nil {
				return err
			}
		}
		// End-of-row marker.
		if err := writeUint16(out, 0); err != nil {
			return err
		}

		t.cStats.rowSize = out.offset() - t.cStats.startOffset
		t.collector.update(&t.cStats)
		t.cStats.reset()

		if firstKey == nil {
			firstKey = key
		} else {
			lastKey = key
		}
	}
	if err := sealSummary(&t.summary, firstKey, lastKey); err != nil {
		return err
	}

	if err := index.close(); err != nil {
		return err
	}
	t.indexFile = nil // index.close closed the index file

	t.components[ComponentTOC] = true
	t.components[ComponentStatistics] = true
	t.components[ComponentDigest] = true
	t.components[ComponentIndex] = true
	t.components[ComponentSummary] = true
	t.components[ComponentData] = true

	if t.HasComponent(ComponentCompressionInfo) {
		t.collector.addCompressionRatio(
			t.compression.compressedFileLength(), t.compression.uncompressedFileLength())
	}

	sealStatistics(&t.statistics, &t.collector, schema.PartitionerName(), filterFPChance)
	return nil
}

// writeColumnName writes a composite column name: the clustering prefix
// followed by the column name components with a trailing marker.
// clusteringKey is expected to already be in composite form. The marker is
// not a component of its own: when the name components serialize to the
// marker alone, it replaces the clustering key's end-of-component byte;
// otherwise the two composites are simply concatenated.
func (t *SSTable) writeColumnName(
	out fileWriter, clusteringKey composite, columnNames [][]byte, m compositeMarker,
) error {
	t.cStats.minColumnNames = minComponents(t.cStats.minColumnNames, columnNames)
	t.cStats.maxColumnNames = maxComponents(t.cStats.maxColumnNames, columnNames)

	c := compositeFromExploded(columnNames, m)
	ck := []byte(clusteringKey)
	if len(c) == 1 {
		ck = ck[:len(ck)-1]
	}
	size := len(ck) + len(c)
	if size > math.MaxUint16 {
		return errors.Wrapf(ErrOverflow, "column name of length %d", size)
	}
	if err := writeUint16(out, uint16(size)); err != nil {
		return err
	}
	if _, err := out.Write(ck); err != nil {
		return err
	}
	_, err := out.Write(c)
	return err
}

// writeBareColumnName writes a non-compound column name.
func (t *SSTable) writeBareColumnName(out fileWriter, name []byte) error {
	t.cStats.minColumnNames = minComponents(t.cStats.minColumnNames, [][]byte{name})
	t.cStats.maxColumnNames = maxComponents(t.cStats.maxColumnNames, [][]byte{name})
	return writeDiskStringU16(out, name)
}

func (t *SSTable) updateCellStats(timestamp int64) {
	t.cStats.updateMinTimestamp(timestamp)
	t.cStats.updateMaxTimestamp(timestamp)
	t.cStats.columnCount++
}

// writeCell writes the cell components that follow a column name.
func (t *SSTable) writeCell(out fileWriter, cell *AtomicCell) error {
	t.updateCellStats(cell.Timestamp)

	switch cell.Kind {
	case CellDeleted:
		t.cStats.tombstoneHistogram.update(float64(cell.DeletionTime))
		if err := writeUint8(out, uint8(maskDeletion)); err != nil {
			return err
		}
		if err := writeUint64(out, uint64(cell.Timestamp)); err != nil {
			return err
		}
		if err := writeUint32(out, 4); err != nil { // deletion time size
			return err
		}
		return writeInt32(out, cell.DeletionTime)

	case CellExpiring:
		if err := writeUint8(out, uint8(maskExpiration)); err != nil {
			return err
		}
		if err := writeUint32(out, cell.TTL); err != nil {
			return err
		}
		if err := writeInt32(out, cell.Expiry); err != nil {
			return err
		}
		if err := writeUint64(out, uint64(cell.Timestamp)); err != nil {
			return err
		}
		return writeDiskStringU32(out, cell.Value)

	case CellCounter:
		return errors.Wrap(ErrNotImplemented, "sstable: counter cells")

	default:
		if err := writeUint8(out, uint8(maskNone)); err != nil {
			return err
		}
		if err := writeUint64(out, uint64(cell.Timestamp)); err != nil {
			return err
		}
		return writeDiskStringU32(out, cell.Value)
	}
}

// writeRowMarker writes the row marker cell at the beginning of a
// clustered row. A missing created-at timestamp means no row marker.
func (t *SSTable) writeRowMarker(out fileWriter, row *Row, clusteringKey composite) error {
	if row.CreatedAt == MissingTimestamp {
		return nil
	}
	if err := t.writeColumnName(out, clusteringKey, [][]byte{{}}, markerNone); err != nil {
		return err
	}
	t.updateCellStats(row.CreatedAt)
	if err := writeUint8(out, uint8(maskNone)); err != nil {
		return err
	}
	if err := writeUint64(out, uint64(row.CreatedAt)); err != nil {
		return err
	}
	// Zero-length value.
	return writeUint32(out, 0)
}

// writeRangeTombstone writes a prefix-level range tombstone: a start-range
// and an end-range bound framing the mask and the deletion time.
func (t *SSTable) writeRangeTombstone(
	out fileWriter, prefix composite, suffix [][]byte, tomb *Tombstone,
) error {
	if tomb == nil {
		return nil
	}
	if err := t.writeColumnName(out, prefix, suffix, markerStartRange); err != nil {
		return err
	}
	if err := writeUint8(out, uint8(maskRangeTombstone)); err != nil {
		return err
	}
	if err := t.writeColumnName(out, prefix, suffix, markerEndRange); err != nil {
		return err
	}
	t.updateCellStats(tomb.Timestamp)
	t.cStats.tombstoneHistogram.update(float64(tomb.DeletionTime))
	if err := writeInt32(out, tomb.DeletionTime); err != nil {
		return err
	}
	return writeUint64(out, uint64(tomb.Timestamp))
}

// writeCollection writes a collection mutation: the collection's deletion
// tombstone as a range over (clustering key, column name), then one cell
// per element keyed by (clustering key, column name, element key).
func (t *SSTable) writeCollection(
	out fileWriter, clusteringKey composite, cdef ColumnDefinition, coll *CollectionMutation,
) error {
	if err := t.writeRangeTombstone(out, clusteringKey, [][]byte{cdef.Name}, coll.Tombstone); err != nil {
		return err
	}
	for i := range coll.Cells {
		cp := &coll.Cells[i]
		if err := t.writeColumnName(out, clusteringKey, [][]byte{cdef.Name, cp.Key}, markerNone); err != nil {
			return err
		}
		if err := t.writeCell(out, &cp.Cell); err != nil {
			return err
		}
	}
	return nil
}

// writeClusteredRow writes one clustered row: a set of cells sharing the
// same clustering key.
func (t *SSTable) writeClusteredRow(out fileWriter, schema Schema, row *Row) error {
	clusteringKey := compositeFromExploded(row.ClusteringKey, markerNone)

	if schema.IsCompound() {
		if err := t.writeRowMarker(out, row, clusteringKey); err != nil {
			return err
		}
	}
	if row.DeletedAt != nil {
		return errors.Wrap(ErrNotImplemented, "sstable: row-level deletion")
	}

	for i := range row.Cells {
		cell := &row.Cells[i]
		cdef := schema.RegularColumn(cell.ID)
		if cell.Collection != nil {
			if err := t.writeCollection(out, clusteringKey, cdef, cell.Collection); err != nil {
				return err
			}
			continue
		}
		if cell.Atomic == nil {
			return errors.Newf("sstable: column %d carries no cell", cell.ID)
		}
		if schema.IsCompound() {
			if err := t.writeColumnName(out, clusteringKey, [][]byte{cdef.Name}, markerNone); err != nil {
				return err
			}
		} else {
			if err := t.writeBareColumnName(out, cdef.Name); err != nil {
				return err
			}
		}
		if err := t.writeCell(out, cell.Atomic); err != nil {
			return err
		}
	}
	return nil
}

// writeStaticRow writes the partition's static cells under the static
// column-name prefix.
func (t *SSTable) writeStaticRow(out fileWriter, schema Schema, cells []ColumnCell) error {
	for i := range cells {
		cell := &cells[i]
		cdef := schema.StaticColumn(cell.ID)
		prefix := staticPrefix()
		if cell.Collection != nil {
			if err := t.writeCollection(out, prefix, cdef, cell.Collection); err != nil {
				return err
			}
			continue
		}
		if cell.Atomic == nil {
			return errors.Newf("sstable: static column %d carries no cell", cell.ID)
		}
		if err := t.writeColumnName(out, prefix, [][]byte{cdef.Name}, markerNone); err != nil {
			return err
		}
		if err := t.writeCell(out, cell.Atomic); err != nil {
			return err
		}
	}
	return nil
}
