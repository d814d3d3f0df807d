// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

/*
Package sstable reads and writes sorted-string tables in the "la"/"big"
format of a wide-column store.

A table is a set of sibling component files in one directory, named
{version}-{generation}-{format}-{component}:

	la-42-big-Data.db
	la-42-big-Index.db
	la-42-big-Summary.db
	la-42-big-Filter.db
	la-42-big-Statistics.db
	la-42-big-CompressionInfo.db or la-42-big-CRC.db
	la-42-big-Digest.sha1
	la-42-big-TOC.txt

The Data file holds the partitions themselves; the Index maps each
partition key to its Data offset; the Summary samples every 128th index
entry for coarse seeks; Filter is a bloom filter over partition keys;
Statistics carries table metadata; Digest and CRC (or CompressionInfo,
when the Data file is compressed) carry checksums. The TOC lists the
components present and is written last, so a reader that finds a TOC is
guaranteed to find everything it references.

Tables are immutable: they are either written once through WriteComponents
or opened for reading through Load, never both. A loaded handle serves
concurrent reads on distinct cursors; the handle itself must not be
mutated concurrently.
*/
package sstable

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/casstable/internal/base"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrNotImplemented is returned for constructs the format reserves but the
// engine does not support: counter cells, row-level deletions inside a row,
// and the LZ4 compressor. Promoted indexes and range tombstones with
// arbitrary bounds cannot be expressed in the writer's input types, so the
// writer never emits them.
var ErrNotImplemented = errors.New("casstable: not implemented")

// ComponentType identifies one of the sibling files of a table.
type ComponentType uint8

const (
	ComponentIndex ComponentType = iota
	ComponentCompressionInfo
	ComponentData
	ComponentTOC
	ComponentSummary
	ComponentDigest
	ComponentCRC
	ComponentFilter
	ComponentStatistics

	numComponents
)

var componentNames = [numComponents]string{
	ComponentIndex:           "Index.db",
	ComponentCompressionInfo: "CompressionInfo.db",
	ComponentData:            "Data.db",
	ComponentTOC:             "TOC.txt",
	ComponentSummary:         "Summary.db",
	ComponentDigest:          "Digest.sha1",
	ComponentCRC:             "CRC.db",
	ComponentFilter:          "Filter.db",
	ComponentStatistics:      "Statistics.db",
}

// String returns the component's filename suffix.
func (c ComponentType) String() string {
	return componentNames[c]
}

func componentFromName(name string) (ComponentType, bool) {
	for c, n := range componentNames {
		if n == name {
			return ComponentType(c), true
		}
	}
	return 0, false
}

// Version is the table format version.
type Version uint8

// VersionLA is the only supported version.
const VersionLA Version = 0

func (v Version) String() string { return "la" }

// ParseVersion maps a version tag to its Version.
func ParseVersion(s string) (Version, error) {
	if s == "la" {
		return VersionLA, nil
	}
	return 0, errors.Newf("sstable: unknown version: %q", s)
}

// Format is the table format flavor.
type Format uint8

// FormatBig is the only supported format.
const FormatBig Format = 0

func (f Format) String() string { return "big" }

// ParseFormat maps a format tag to its Format.
func ParseFormat(s string) (Format, error) {
	if s == "big" {
		return FormatBig, nil
	}
	return 0, errors.Newf("sstable: unknown format: %q", s)
}

// Filename returns the path of a component file.
func Filename(
	dir string, version Version, generation uint64, format Format, c ComponentType,
) string {
	return dir + "/" + version.String() + "-" + strconv.FormatUint(generation, 10) +
		"-" + format.String() + "-" + c.String()
}

// SSTable is a handle on one table. A handle is created empty, then either
// loaded from disk or filled by a flush. It owns the Data and Index file
// handles and the cached component metadata.
type SSTable struct {
	fs     vfs.FS
	logger base.Logger

	dir        string
	version    Version
	generation uint64
	format     Format

	components map[ComponentType]bool

	dataFile     vfs.File
	indexFile    vfs.File
	dataFileSize uint64

	summary     summary
	filter      *filterComponent
	statistics  statistics
	compression compression
	collector   metadataCollector
	cStats      columnStats

	bytesOnDisk       uint64
	markedForDeletion bool
}

// New creates a handle for the table at (dir, generation) with version "la"
// and format "big". The table is not touched until Load or WriteComponents.
func New(fs vfs.FS, logger base.Logger, dir string, generation uint64) *SSTable {
	return &SSTable{
		fs:         fs,
		logger:     logger,
		dir:        dir,
		version:    VersionLA,
		generation: generation,
		format:     FormatBig,
		components: make(map[ComponentType]bool),
		collector:  newMetadataCollector(),
		cStats:     newColumnStats(),
	}
}

// Generation returns the table's generation number.
func (t *SSTable) Generation() uint64 { return t.generation }

// Filename returns the path of one of the table's component files.
func (t *SSTable) Filename(c ComponentType) string {
	return Filename(t.dir, t.version, t.generation, t.format, c)
}

// HasComponent reports whether the component is present.
func (t *SSTable) HasComponent(c ComponentType) bool {
	return t.components[c]
}

// Components returns the present components in suffix-enum order.
func (t *SSTable) Components() []ComponentType {
	out := make([]ComponentType, 0, len(t.components))
	for c := ComponentType(0); c < numComponents; c++ {
		if t.components[c] {
			out = append(out, c)
		}
	}
	return out
}

// The TOC is small enough and well defined; it is read in one page.
const tocMaxSize = 4096

func (t *SSTable) readTOC() error {
	path := t.Filename(ComponentTOC)
	f, err := t.fs.Open(path)
	if err != nil {
		if oserror.IsNotExist(err) {
			return base.CorruptionErrorf("sstable: %s: file not found", path)
		}
		return err
	}
	defer f.Close()

	buf := make([]byte, tocMaxSize)
	n, err := readFullAt(f, buf, 0)
	if err != nil {
		return err
	}
	// This file is supposed to be very small. If we read as much as a whole
	// page from it, something fishy is going on.
	if n >= tocMaxSize {
		return base.CorruptionErrorf("sstable: TOC too big: %d bytes", n)
	}
	for _, line := range strings.Split(string(buf[:n]), "\n") {
		// Accept trailing newlines.
		if line == "" {
			continue
		}
		c, ok := componentFromName(line)
		if !ok {
			return base.CorruptionErrorf("sstable: unrecognized TOC component: %s", line)
		}
		t.components[c] = true
	}
	if len(t.components) == 0 {
		return base.CorruptionErrorf("sstable: empty TOC")
	}
	return nil
}

func (t *SSTable) writeTOC() error {
	f, err := t.fs.Create(t.Filename(ComponentTOC))
	if err != nil {
		return err
	}
	w := newFileWriter(f, defaultReaderBufferSize)
	for _, c := range t.Components() {
		// A newline is appended to each component name.
		if _, err := w.Write([]byte(c.String() + "\n")); err != nil {
			w.close()
			return err
		}
	}
	return w.close()
}

// componentCodec is a component that parses from and serializes to its own
// file.
type componentCodec interface {
	decode(r randomAccessReader) error
	encode(w fileWriter) error
}

func (t *SSTable) readSimple(c ComponentType, codec componentCodec) error {
	path := t.Filename(c)
	f, err := t.fs.Open(path)
	if err != nil {
		if oserror.IsNotExist(err) {
			return base.CorruptionErrorf("sstable: %s: file not found", path)
		}
		return err
	}
	r := newFileRandomAccessReader(f, defaultReaderBufferSize)
	defer r.Close()
	return codec.decode(r)
}

func (t *SSTable) writeSimple(c ComponentType, codec componentCodec) error {
	f, err := t.fs.Create(t.Filename(c))
	if err != nil {
		return err
	}
	w := newFileWriter(f, defaultReaderBufferSize)
	if err := codec.encode(w); err != nil {
		w.close()
		return err
	}
	// The underlying file is synced here.
	return w.close()
}

func (t *SSTable) readStatistics() error {
	path := t.Filename(ComponentStatistics)
	f, err := t.fs.Open(path)
	if err != nil {
		if oserror.IsNotExist(err) {
			return base.CorruptionErrorf("sstable: %s: file not found", path)
		}
		return err
	}
	r := newFileRandomAccessReader(f, defaultReaderBufferSize)
	defer r.Close()
	return t.statistics.decode(r, t.logger)
}

func (t *SSTable) writeStatistics() error {
	f, err := t.fs.Create(t.Filename(ComponentStatistics))
	if err != nil {
		return err
	}
	w := newFileWriter(f, defaultReaderBufferSize)
	if err := t.statistics.encode(w, t.logger); err != nil {
		w.close()
		return err
	}
	return w.close()
}

func (t *SSTable) readCompression() error {
	// Without compression a CRC component is present instead.
	if !t.HasComponent(ComponentCompressionInfo) {
		return nil
	}
	return t.readSimple(ComponentCompressionInfo, &t.compression)
}

func (t *SSTable) writeCompression() error {
	if !t.HasComponent(ComponentCompressionInfo) {
		return nil
	}
	return t.writeSimple(ComponentCompressionInfo, &t.compression)
}

func (t *SSTable) readFilter() error {
	if !t.HasComponent(ComponentFilter) {
		return nil
	}
	t.filter = &filterComponent{}
	return t.readSimple(ComponentFilter, t.filter)
}

func (t *SSTable) writeFilter() error {
	if !t.HasComponent(ComponentFilter) {
		return nil
	}
	return t.writeSimple(ComponentFilter, t.filter)
}

func (t *SSTable) readSummary() error {
	return t.readSimple(ComponentSummary, &t.summary)
}

func (t *SSTable) writeSummary() error {
	return t.writeSimple(ComponentSummary, &t.summary)
}

func (t *SSTable) openData() error {
	indexFile, err := t.fs.Open(t.Filename(ComponentIndex))
	if err != nil {
		return err
	}
	dataFile, err := t.fs.Open(t.Filename(ComponentData))
	if err != nil {
		indexFile.Close()
		return err
	}
	stat, err := dataFile.Stat()
	if err != nil {
		indexFile.Close()
		dataFile.Close()
		return err
	}
	t.indexFile = indexFile
	t.dataFile = dataFile
	t.dataFileSize = uint64(stat.Size())
	return nil
}

func (t *SSTable) createData() error {
	indexFile, err := createExclusive(t.fs, t.Filename(ComponentIndex))
	if err != nil {
		return err
	}
	dataFile, err := createExclusive(t.fs, t.Filename(ComponentData))
	if err != nil {
		indexFile.Close()
		return err
	}
	t.indexFile = indexFile
	t.dataFile = dataFile
	return nil
}

// Load discovers the table's components from its TOC and prepares the
// handle for reads: Statistics, CompressionInfo, Filter and Summary are
// parsed and cached, and the Data and Index files are opened read-only.
func (t *SSTable) Load() error {
	if err := t.readTOC(); err != nil {
		return err
	}
	if err := t.readStatistics(); err != nil {
		return err
	}
	if err := t.readCompression(); err != nil {
		return err
	}
	if err := t.readFilter(); err != nil {
		return err
	}
	if err := t.readSummary(); err != nil {
		return err
	}
	if err := t.openData(); err != nil {
		return err
	}
	// With the data file size known the compression metadata can bound its
	// final chunk.
	if t.HasComponent(ComponentCompressionInfo) {
		t.compression.update(t.dataFileSize)
	}
	return nil
}

// Store rewrites the metadata components of the table: TOC, Statistics,
// CompressionInfo, Filter and Summary. Data and Index are immutable and
// not touched.
func (t *SSTable) Store() error {
	if err := t.writeTOC(); err != nil {
		return err
	}
	if err := t.writeStatistics(); err != nil {
		return err
	}
	if err := t.writeCompression(); err != nil {
		return err
	}
	if err := t.writeFilter(); err != nil {
		return err
	}
	return t.writeSummary()
}

// ReadIndexes parses up to quantity index entries starting at the given
// Index file position. A short read that leaves the stream at end of file
// terminates the scan silently, whether the file ends at an entry boundary
// or inside an entry; a partial final entry is dropped. A parse only shows
// that it failed at end of file, not where the file ends relative to the
// entry, so the check is "tolerate only when the stream reports eof". Any
// other error is returned.
func (t *SSTable) ReadIndexes(position uint64, quantity uint64) ([]IndexEntry, error) {
	r := newSharedFileRandomAccessReader(t.indexFile, sstableBufferSize)
	r.seek(position)
	entries := make([]IndexEntry, 0, min(quantity, 1024))
	for uint64(len(entries)) < quantity {
		var ie IndexEntry
		if err := ie.decode(r); err != nil {
			var undersize *bufferUndersizeError
			if errors.As(err, &undersize) && r.eof() {
				break
			}
			return nil, err
		}
		entries = append(entries, ie)
	}
	return entries, nil
}

// ReadSummaryEntry returns the i-th summary entry's sampled key and Index
// file offset.
func (t *SSTable) ReadSummaryEntry(i int) (key []byte, position uint64, err error) {
	if i < 0 || i >= len(t.summary.entries) {
		return nil, 0, errors.Newf("sstable: invalid summary index: %d", i)
	}
	e := &t.summary.entries[i]
	return e.key, e.position, nil
}

// SummaryEntryCount returns the number of sampled summary entries.
func (t *SSTable) SummaryEntryCount() int {
	return len(t.summary.entries)
}

// FirstKey returns the first partition key of the table.
func (t *SSTable) FirstKey() []byte { return t.summary.firstKey }

// LastKey returns the last partition key of the table.
func (t *SSTable) LastKey() []byte { return t.summary.lastKey }

// MayContainKey consults the bloom filter; tables without a filter
// component report true for every key.
func (t *SSTable) MayContainKey(key []byte) bool {
	if t.filter == nil || t.filter.filter == nil {
		return true
	}
	return t.filter.filter.MayContain(key)
}

// dataStreamAt returns a stream over the Data file's logical bytes
// starting at pos, decompressing if the table is compressed.
func (t *SSTable) dataStreamAt(pos uint64) randomAccessReader {
	if t.HasComponent(ComponentCompressionInfo) {
		r := newCompressedFileRandomAccessReader(t.dataFile, &t.compression)
		r.seek(pos)
		return r
	}
	r := newSharedFileRandomAccessReader(t.dataFile, sstableBufferSize)
	r.seek(pos)
	return r
}

// DataRead returns n logical Data file bytes starting at pos.
func (t *SSTable) DataRead(pos uint64, n int) ([]byte, error) {
	buf, err := t.dataStreamAt(pos).readExactly(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf)
	return out, nil
}

// DataSize returns the logical (uncompressed) size of the Data file.
func (t *SSTable) DataSize() uint64 {
	if t.HasComponent(ComponentCompressionInfo) {
		return t.compression.dataLen
	}
	return t.dataFileSize
}

// BytesOnDisk sums the sizes of all component files. The result is cached.
func (t *SSTable) BytesOnDisk() (uint64, error) {
	if t.bytesOnDisk != 0 {
		return t.bytesOnDisk, nil
	}
	var total uint64
	for _, c := range t.Components() {
		stat, err := t.fs.Stat(t.Filename(c))
		if err != nil {
			return 0, err
		}
		total += uint64(stat.Size())
	}
	t.bytesOnDisk = total
	return total, nil
}

// MarkForDeletion requests that the component files be unlinked when the
// handle is closed.
func (t *SSTable) MarkForDeletion() {
	t.markedForDeletion = true
}

// Close releases the file handles and, if the table is marked for
// deletion, unlinks all component files. Both are best-effort: failures
// are logged and not propagated, since on startup unused tables are
// cleaned up again and a generation number is never reused.
func (t *SSTable) Close() error {
	if t.indexFile != nil {
		if err := t.indexFile.Close(); err != nil {
			t.logger.Errorf("sstable close index_file failed: %v", err)
		}
		t.indexFile = nil
	}
	if t.dataFile != nil {
		if err := t.dataFile.Close(); err != nil {
			t.logger.Errorf("sstable close data_file failed: %v", err)
		}
		t.dataFile = nil
	}
	if t.markedForDeletion {
		for _, c := range t.Components() {
			if err := t.fs.Remove(t.Filename(c)); err != nil {
				t.logger.Errorf("exception when deleting sstable file: %v", err)
			}
		}
	}
	return nil
}

// createExclusive creates a file that must not already exist. The vfs has
// no O_EXCL create, so existence is probed first; the flush path owns its
// generation directory, so the race window is not observable in practice.
func createExclusive(fs vfs.FS, path string) (vfs.File, error) {
	if _, err := fs.Stat(path); err == nil {
		return nil, errors.Wrapf(oserror.ErrExist, "sstable: %s", path)
	} else if !oserror.IsNotExist(err) {
		return nil, err
	}
	return fs.Create(path)
}

// writeDigest writes the Digest component: the decimal text of the Data
// file's full checksum.
func (t *SSTable) writeDigest(fullChecksum uint32) error {
	f, err := createExclusive(t.fs, t.Filename(ComponentDigest))
	if err != nil {
		return err
	}
	w := newFileWriter(f, defaultReaderBufferSize)
	if _, err := w.Write([]byte(strconv.FormatUint(uint64(fullChecksum), 10))); err != nil {
		w.close()
		return err
	}
	return w.close()
}

// writeCRC writes the CRC component of an uncompressed table.
func (t *SSTable) writeCRC(c checksum) error {
	f, err := createExclusive(t.fs, t.Filename(ComponentCRC))
	if err != nil {
		return err
	}
	w := newFileWriter(f, defaultReaderBufferSize)
	if err := c.encode(w); err != nil {
		w.close()
		return err
	}
	return w.close()
}

// SummaryString formats the summary for introspection tooling.
func (t *SSTable) SummaryString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "min_index_interval:   %d\n", t.summary.header.minIndexInterval)
	fmt.Fprintf(&sb, "entries:              %d\n", len(t.summary.entries))
	fmt.Fprintf(&sb, "memory_size:          %d\n", t.summary.header.memorySize)
	fmt.Fprintf(&sb, "sampling_level:       %d\n", t.summary.header.samplingLevel)
	fmt.Fprintf(&sb, "first_key:            %q\n", t.summary.firstKey)
	fmt.Fprintf(&sb, "last_key:             %q\n", t.summary.lastKey)
	return sb.String()
}

// StatisticsString formats the statistics component for introspection
// tooling.
func (t *SSTable) StatisticsString() string {
	var sb strings.Builder
	ordered := make([]statisticsOffset, len(t.statistics.offsets))
	copy(ordered, t.statistics.offsets)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].offset < ordered[j].offset })
	for _, e := range ordered {
		switch m := t.statistics.contents[e.typ].(type) {
		case *validationMetadata:
			fmt.Fprintf(&sb, "validation: offset=%d partitioner=%s fp_chance=%g\n",
				e.offset, m.partitioner, m.filterChance)
		case *compactionMetadata:
			fmt.Fprintf(&sb, "compaction: offset=%d ancestors=%v\n", e.offset, m.ancestors)
		case *statsMetadata:
			fmt.Fprintf(&sb, "stats: offset=%d\n", e.offset)
			fmt.Fprintf(&sb, "  min_timestamp:           %d\n", m.minTimestamp)
			fmt.Fprintf(&sb, "  max_timestamp:           %d\n", m.maxTimestamp)
			fmt.Fprintf(&sb, "  max_local_deletion_time: %d\n", m.maxLocalDeletionTime)
			fmt.Fprintf(&sb, "  compression_ratio:       %g\n", m.compressionRatio)
			fmt.Fprintf(&sb, "  sstable_level:           %d\n", m.sstableLevel)
			fmt.Fprintf(&sb, "  repaired_at:             %d\n", m.repairedAt)
			fmt.Fprintf(&sb, "  rows estimated:          %d\n", m.estimatedRowSize.count())
		default:
			fmt.Fprintf(&sb, "unknown: type=%d offset=%d\n", e.typ, e.offset)
		}
	}
	return sb.String()
}
