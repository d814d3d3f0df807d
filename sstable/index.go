// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

// IndexEntry is one record of the Index component: the partition key, the
// offset of the partition in the Data file, and the promoted index payload.
// Promoted indexes are not emitted by this writer, so the payload is empty
// and its size serializes as zero.
type IndexEntry struct {
	Key      []byte
	Position uint64

	promotedIndex []byte
}

func (ie *IndexEntry) decode(r randomAccessReader) error {
	var err error
	if ie.Key, err = parseDiskStringU16(r); err != nil {
		return err
	}
	if ie.Position, err = parseUint64(r); err != nil {
		return err
	}
	ie.promotedIndex, err = parseDiskStringU32(r)
	return err
}

func writeIndexEntry(w fileWriter, key []byte, pos uint64) error {
	if err := writeDiskStringU16(w, key); err != nil {
		return err
	}
	if err := writeUint64(w, pos); err != nil {
		return err
	}
	// Promoted index size; the payload is absent.
	return writeUint32(w, 0)
}
