// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/casstable/internal/base"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"
)

func writeRawFile(t *testing.T, fs vfs.FS, path string, data []byte) {
	require.NoError(t, fs.MkdirAll("tbl", 0755))
	f, err := fs.Create(path)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFilename(t *testing.T) {
	require.Equal(t, "dir/la-42-big-Data.db",
		Filename("dir", VersionLA, 42, FormatBig, ComponentData))

	v, err := ParseVersion("la")
	require.NoError(t, err)
	require.Equal(t, VersionLA, v)
	_, err = ParseVersion("ka")
	require.Error(t, err)

	f, err := ParseFormat("big")
	require.NoError(t, err)
	require.Equal(t, FormatBig, f)
	_, err = ParseFormat("small")
	require.Error(t, err)
}

func TestTOCMissing(t *testing.T) {
	fs := vfs.NewMem()
	tbl := New(fs, base.DefaultLogger{}, "tbl", 1)
	err := tbl.Load()
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
	require.Contains(t, err.Error(), "file not found")
}

func TestTOCEmpty(t *testing.T) {
	fs := vfs.NewMem()
	tbl := New(fs, base.DefaultLogger{}, "tbl", 1)
	writeRawFile(t, fs, tbl.Filename(ComponentTOC), nil)
	err := tbl.Load()
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
	require.Contains(t, err.Error(), "empty TOC")
}

func TestTOCUnknownComponent(t *testing.T) {
	fs := vfs.NewMem()
	tbl := New(fs, base.DefaultLogger{}, "tbl", 1)
	writeRawFile(t, fs, tbl.Filename(ComponentTOC), []byte("Data.db\nBogus.db\n"))
	err := tbl.Load()
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
	require.Contains(t, err.Error(), "Bogus.db")
}

func TestTOCOversize(t *testing.T) {
	fs := vfs.NewMem()
	tbl := New(fs, base.DefaultLogger{}, "tbl", 1)
	writeRawFile(t, fs, tbl.Filename(ComponentTOC), make([]byte, tocMaxSize))
	err := tbl.Load()
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
	require.Contains(t, err.Error(), "too big")
}

func TestTOCListedComponentMissing(t *testing.T) {
	fs := vfs.NewMem()
	tbl := New(fs, base.DefaultLogger{}, "tbl", 1)
	writeRawFile(t, fs, tbl.Filename(ComponentTOC),
		[]byte("Data.db\nIndex.db\nSummary.db\nStatistics.db\n"))
	err := tbl.Load()
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
}

// A flushed table loads back through its TOC with every listed component
// parsing successfully.
func TestLoadAfterFlush(t *testing.T) {
	fs := vfs.NewMem()
	schema := newTestSchema()
	var partitions []*Partition
	for i := 0; i < 200; i++ {
		partitions = append(partitions,
			livePartition(fmt.Sprintf("p%04d", i), 0, []byte("payload"), int64(i)))
	}
	flushed := flushTable(t, fs, "tbl", 5, schema, partitions)
	require.NoError(t, flushed.Close())

	tbl := New(fs, base.DefaultLogger{}, "tbl", 5)
	require.NoError(t, tbl.Load())
	defer tbl.Close()

	require.Equal(t, flushed.Components(), tbl.Components())
	require.Equal(t, []byte("p0000"), tbl.FirstKey())
	require.Equal(t, []byte("p0199"), tbl.LastKey())
	require.Equal(t, 2, tbl.SummaryEntryCount())

	stat, err := fs.Stat(tbl.Filename(ComponentData))
	require.NoError(t, err)
	require.Equal(t, uint64(stat.Size()), tbl.DataSize())

	for _, p := range partitions {
		require.True(t, tbl.MayContainKey(p.Key))
	}

	size, err := tbl.BytesOnDisk()
	require.NoError(t, err)
	var expected uint64
	for _, c := range tbl.Components() {
		stat, err := fs.Stat(tbl.Filename(c))
		require.NoError(t, err)
		expected += uint64(stat.Size())
	}
	require.Equal(t, expected, size)
}

// Truncating the index mid-record: entries before the cut parse, and the
// scan terminates silently at the cut because the stream reports eof.
func TestReadIndexesTruncated(t *testing.T) {
	fs := vfs.NewMem()
	schema := newTestSchema()
	var partitions []*Partition
	for i := 0; i < 5; i++ {
		partitions = append(partitions,
			livePartition(fmt.Sprintf("k%d", i), 0, []byte("v"), int64(i)))
	}
	tbl := flushTable(t, fs, "tbl", 1, schema, partitions)
	require.NoError(t, tbl.Close())

	index := readComponentFile(t, fs, tbl.Filename(ComponentIndex))
	// Each record is 2 + len("kN") + 8 + 4 bytes. Cut into the middle of
	// the third record.
	recordLen := 2 + 2 + 8 + 4
	writeRawFile(t, fs, tbl.Filename(ComponentIndex), index[:2*recordLen+5])

	loaded := New(fs, base.DefaultLogger{}, "tbl", 1)
	require.NoError(t, loaded.Load())
	defer loaded.Close()

	entries, err := loaded.ReadIndexes(0, 1000)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte("k0"), entries[0].Key)
	require.Equal(t, []byte("k1"), entries[1].Key)

	// A cut at an exact record boundary behaves the same way. The loaded
	// handle keeps the index file it opened, so the rewritten file is read
	// through a freshly loaded handle.
	writeRawFile(t, fs, tbl.Filename(ComponentIndex), index[:3*recordLen])
	reloaded := New(fs, base.DefaultLogger{}, "tbl", 1)
	require.NoError(t, reloaded.Load())
	defer reloaded.Close()
	entries, err = reloaded.ReadIndexes(0, 1000)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestReadIndexesQuantity(t *testing.T) {
	fs := vfs.NewMem()
	schema := newTestSchema()
	var partitions []*Partition
	for i := 0; i < 10; i++ {
		partitions = append(partitions,
			livePartition(fmt.Sprintf("k%d", i), 0, []byte("v"), int64(i)))
	}
	tbl := flushTable(t, fs, "tbl", 1, schema, partitions)
	require.NoError(t, tbl.Close())

	loaded := New(fs, base.DefaultLogger{}, "tbl", 1)
	require.NoError(t, loaded.Load())
	defer loaded.Close()

	entries, err := loaded.ReadIndexes(0, 4)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// Resume from the offset right after the fourth record.
	recordLen := uint64(2 + 2 + 8 + 4)
	entries, err = loaded.ReadIndexes(4*recordLen, 1000)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	require.Equal(t, []byte("k4"), entries[0].Key)
}

func TestMarkForDeletion(t *testing.T) {
	fs := vfs.NewMem()
	schema := newTestSchema()
	tbl := flushTable(t, fs, "tbl", 1, schema,
		[]*Partition{livePartition("k", 0, []byte("v"), 1)})

	components := tbl.Components()
	for _, c := range components {
		_, err := fs.Stat(tbl.Filename(c))
		require.NoError(t, err)
	}

	tbl.MarkForDeletion()
	require.NoError(t, tbl.Close())

	for _, c := range components {
		_, err := fs.Stat(tbl.Filename(c))
		require.Error(t, err)
	}
}

func TestStoreRewritesMetadata(t *testing.T) {
	fs := vfs.NewMem()
	schema := newTestSchema()
	tbl := flushTable(t, fs, "tbl", 1, schema,
		[]*Partition{livePartition("k", 0, []byte("v"), 1)})
	require.NoError(t, tbl.Close())

	loaded := New(fs, base.DefaultLogger{}, "tbl", 1)
	require.NoError(t, loaded.Load())
	require.NoError(t, loaded.Store())
	require.NoError(t, loaded.Close())

	// The rewritten components still parse.
	again := New(fs, base.DefaultLogger{}, "tbl", 1)
	require.NoError(t, again.Load())
	require.Equal(t, []byte("k"), again.FirstKey())
	require.NoError(t, again.Close())
}

func TestDataReadWindow(t *testing.T) {
	fs := vfs.NewMem()
	schema := newTestSchema()
	tbl := flushTable(t, fs, "tbl", 1, schema,
		[]*Partition{livePartition("key", 0, []byte("value"), 1)})
	require.NoError(t, tbl.Close())

	loaded := New(fs, base.DefaultLogger{}, "tbl", 1)
	require.NoError(t, loaded.Load())
	defer loaded.Close()

	buf, err := loaded.DataRead(0, 5)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x03, 'k', 'e', 'y'}, buf)

	_, err = loaded.DataRead(loaded.DataSize()-1, 2)
	require.Error(t, err)
}
